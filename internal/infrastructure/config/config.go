package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for astrorpc.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Observatory ObservatoryConfig `yaml:"observatory"`
	RPC         RPCConfig         `yaml:"rpc"`
	Backend     BackendConfig     `yaml:"backend"`
	Server      ServerConfig      `yaml:"server"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bridge      BridgeConfig      `yaml:"bridge"`
	Database    DatabaseConfig    `yaml:"database"`
	MQTT        MQTTConfig        `yaml:"mqtt"`
	API         APIConfig         `yaml:"api"`
	WebSocket   WebSocketConfig   `yaml:"websocket"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ObservatoryConfig identifies this installation in topics, metrics and logs.
type ObservatoryConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// RPCConfig contains device-control server connection settings.
type RPCConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`

	// RetryDelay is the fixed wait between failed dials, in seconds.
	RetryDelay int `yaml:"retry_delay"`

	// PollIntervalMS is the session housekeeping interval in milliseconds.
	PollIntervalMS int `yaml:"poll_interval_ms"`

	// RequestTimeout is the default reply timeout in seconds.
	RequestTimeout int `yaml:"request_timeout"`

	// ConnectTimeout bounds one dial attempt, in seconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// WriteTimeout bounds writing one frame, in seconds.
	WriteTimeout int `yaml:"write_timeout"`

	// StaleAfter is how long unclaimed replies are kept, in seconds.
	StaleAfter int `yaml:"stale_after"`

	QueueSize    int `yaml:"queue_size"`
	MaxFrameSize int `yaml:"max_frame_size"`

	// ConnectWait is how long startup waits for the first session, in
	// seconds. 0 means do not wait; the client keeps retrying regardless.
	ConnectWait int `yaml:"connect_wait"`

	// SharedSession multiplexes every device adapter over one connection
	// instead of one connection per device.
	SharedSession bool `yaml:"shared_session"`

	// BreakerFailures is how many consecutive link failures make callers
	// fail fast until the breaker timeout passes. 0 disables the breaker.
	BreakerFailures int `yaml:"breaker_failures"`

	// BreakerTimeout is how long the breaker stays open, in seconds.
	BreakerTimeout int `yaml:"breaker_timeout"`
}

// BackendConfig selects the device backend and which devices it exposes.
type BackendConfig struct {
	// Name is the registered backend name. Default: "RPC".
	Name string `yaml:"name"`

	// Devices lists the device kinds to open: focuser, filterwheel,
	// mount, camera.
	Devices []string `yaml:"devices"`
}

// ServerConfig contains settings for managing the device-control server process.
type ServerConfig struct {
	// Managed indicates whether astrorpc should launch and supervise the
	// server. If false, the server is expected to be running already.
	Managed bool `yaml:"managed"`

	// Binary is the path to the server executable.
	Binary string `yaml:"binary"`

	// Args are passed to the server on the command line.
	Args []string `yaml:"args"`

	// WorkingDir is the server's working directory. Empty means inherit.
	WorkingDir string `yaml:"working_dir"`

	// RestartOnFailure enables automatic restart if the server exits.
	// Default: true
	RestartOnFailure bool `yaml:"restart_on_failure"`

	// RestartDelaySeconds is the time to wait before restarting.
	// Default: 5
	RestartDelaySeconds int `yaml:"restart_delay_seconds"`

	// MaxRestartAttempts limits restart attempts. 0 means unlimited.
	// Default: 10
	MaxRestartAttempts int `yaml:"max_restart_attempts"`

	// HealthCheckInterval is how often the server port is probed.
	// Default: 30s
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// TelemetryConfig contains periodic device polling settings.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`

	// Interval between polls, in seconds.
	Interval int `yaml:"interval"`

	Points []TelemetryPoint `yaml:"points"`
}

// TelemetryPoint is one value read by the telemetry poller.
type TelemetryPoint struct {
	Device string `yaml:"device"`
	Method string `yaml:"method"`
	Key    string `yaml:"key"`
}

// BridgeConfig contains MQTT bridge settings.
type BridgeConfig struct {
	// TopicPrefix roots every topic the bridge uses. Default: "astrorpc".
	TopicPrefix string `yaml:"topic_prefix"`

	// HealthInterval is how often health is published, in seconds.
	HealthInterval int `yaml:"health_interval"`

	// CommandRate limits commands accepted from MQTT, per second.
	// 0 means unlimited.
	CommandRate float64 `yaml:"command_rate"`

	// CommandBurst is how many commands may arrive at once above the rate.
	CommandBurst int `yaml:"command_burst"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// JournalRetentionDays prunes journal rows older than this. 0 keeps all.
	JournalRetentionDays int `yaml:"journal_retention_days"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled  bool             `yaml:"enabled"`
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ASTRORPC_SECTION_KEY
// For example: ASTRORPC_RPC_PORT, ASTRORPC_DATABASE_PATH
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration, used when no file is given.
func Default() *Config {
	return defaultConfig()
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Observatory: ObservatoryConfig{
			ID:   "obs-001",
			Name: "Observatory",
		},
		RPC: RPCConfig{
			Host:           "127.0.0.1",
			Port:           8800,
			RetryDelay:     5,
			PollIntervalMS: 500,
			RequestTimeout: 15,
			ConnectTimeout: 10,
			WriteTimeout:   5,
			StaleAfter:     60,
			QueueSize:      256,
			MaxFrameSize:   1 << 20,
			ConnectWait:    30,

			BreakerFailures: 5,
			BreakerTimeout:  30,
		},
		Backend: BackendConfig{
			Name:    "RPC",
			Devices: []string{"focuser", "filterwheel", "mount", "camera"},
		},
		Server: ServerConfig{
			RestartOnFailure:    true,
			RestartDelaySeconds: 5,
			MaxRestartAttempts:  10,
			HealthCheckInterval: 30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Interval: 10,
		},
		Bridge: BridgeConfig{
			TopicPrefix:    "astrorpc",
			HealthInterval: 30,
			CommandRate:    10,
			CommandBurst:   20,
		},
		Database: DatabaseConfig{
			Path:                 "./data/astrorpc.db",
			WALMode:              true,
			BusyTimeout:          5,
			JournalRetentionDays: 30,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "astrorpc",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Enabled: true,
			Host:    "127.0.0.1",
			Port:    8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "astrorpc",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ASTRORPC_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// RPC
	if v := os.Getenv("ASTRORPC_RPC_HOST"); v != "" {
		cfg.RPC.Host = v
	}
	if v := os.Getenv("ASTRORPC_RPC_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("ASTRORPC_RPC_PORT: %w", err)
		}
		cfg.RPC.Port = port
	}

	// Backend
	if v := os.Getenv("ASTRORPC_BACKEND"); v != "" {
		cfg.Backend.Name = v
	}

	// Managed server
	if v := os.Getenv("ASTRORPC_SERVER_BINARY"); v != "" {
		cfg.Server.Binary = v
	}

	// Database
	if v := os.Getenv("ASTRORPC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("ASTRORPC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("ASTRORPC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("ASTRORPC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("ASTRORPC_API_HOST"); v != "" {
		cfg.API.Host = v
	}

	// InfluxDB
	if v := os.Getenv("ASTRORPC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("ASTRORPC_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	return nil
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Observatory.ID == "" {
		errs = append(errs, "observatory.id is required")
	}

	// RPC validation
	if c.RPC.Host == "" {
		errs = append(errs, "rpc.host is required")
	}
	if c.RPC.Port < 1 || c.RPC.Port > 65535 {
		errs = append(errs, "rpc.port must be between 1 and 65535")
	}
	if c.RPC.RetryDelay < 0 || c.RPC.RequestTimeout < 0 || c.RPC.StaleAfter < 0 {
		errs = append(errs, "rpc timeouts must not be negative")
	}
	if c.RPC.BreakerFailures < 0 || c.RPC.BreakerTimeout < 0 {
		errs = append(errs, "rpc breaker settings must not be negative")
	}

	if c.Backend.Name == "" {
		errs = append(errs, "backend.name is required")
	}

	if c.Server.Managed && c.Server.Binary == "" {
		errs = append(errs, "server.binary is required when server.managed is true")
	}

	// Telemetry validation
	if c.Telemetry.Enabled {
		if c.Telemetry.Interval < 1 {
			errs = append(errs, "telemetry.interval must be at least 1 second")
		}
		for i, p := range c.Telemetry.Points {
			if p.Method == "" || p.Key == "" {
				errs = append(errs, fmt.Sprintf("telemetry.points[%d] requires method and key", i))
			}
		}
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.Bridge.CommandRate < 0 || c.Bridge.CommandBurst < 0 {
		errs = append(errs, "bridge command rate and burst must not be negative")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// GetConnectWait returns how long startup waits for the first session.
func (c *Config) GetConnectWait() time.Duration {
	return time.Duration(c.RPC.ConnectWait) * time.Second
}

// GetBreakerTimeout returns how long the dispatch breaker stays open.
func (c *Config) GetBreakerTimeout() time.Duration {
	return time.Duration(c.RPC.BreakerTimeout) * time.Second
}

// GetTelemetryInterval returns the telemetry poll interval.
func (c *Config) GetTelemetryInterval() time.Duration {
	return time.Duration(c.Telemetry.Interval) * time.Second
}
