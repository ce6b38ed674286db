// astrorpc - observatory device-control gateway
//
// astrorpc keeps a session open to a device-control server (focuser,
// filter wheel, mount, camera) over newline-delimited JSON-RPC and exposes
// it to the rest of the observatory:
//   - HTTP API and WebSocket event stream
//   - MQTT bridge with command topics and polled telemetry
//   - SQLite journal of every command performed on behalf of a caller
//   - Optional InfluxDB metrics
//
// The device server may run externally or be supervised by astrorpc.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/nerrad567/astrorpc/internal/api"
	"github.com/nerrad567/astrorpc/internal/backend"
	"github.com/nerrad567/astrorpc/internal/bridges/observatory"
	"github.com/nerrad567/astrorpc/internal/device"
	"github.com/nerrad567/astrorpc/internal/dispatch"
	"github.com/nerrad567/astrorpc/internal/infrastructure/config"
	"github.com/nerrad567/astrorpc/internal/infrastructure/database"
	"github.com/nerrad567/astrorpc/internal/infrastructure/influxdb"
	"github.com/nerrad567/astrorpc/internal/infrastructure/logging"
	"github.com/nerrad567/astrorpc/internal/infrastructure/mqtt"
	"github.com/nerrad567/astrorpc/internal/journal"
	"github.com/nerrad567/astrorpc/internal/process"
	"github.com/nerrad567/astrorpc/internal/rpc"
	"github.com/nerrad567/astrorpc/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

// pruneInterval is how often old journal entries are removed.
const pruneInterval = time.Hour

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the application logic, separated from main for testability.
// It returns nil on clean shutdown.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting astrorpc",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	serverAddr := net.JoinHostPort(cfg.RPC.Host, strconv.Itoa(cfg.RPC.Port))

	// Start the device server (if managed)
	if cfg.Server.Managed {
		srv, srvErr := process.NewServer(cfg.Server, serverAddr, log.Component("device-server"))
		if srvErr != nil {
			return fmt.Errorf("configuring device server: %w", srvErr)
		}
		if startErr := srv.Start(ctx); startErr != nil {
			return fmt.Errorf("starting device server: %w", startErr)
		}
		defer func() {
			log.Info("stopping device server")
			if stopErr := srv.Stop(); stopErr != nil {
				log.Error("error stopping device server", "error", stopErr)
			}
		}()
	}

	// Open the device backend
	kinds, err := backend.ParseDevices(cfg.Backend.Devices)
	if err != nil {
		return fmt.Errorf("parsing devices: %w", err)
	}
	backendName := cfg.Backend.Name
	if backendName == "" {
		backendName = backend.NameRPC
	}
	be, err := backend.Default().Open(backendName, backend.Options{
		RPC:     backend.ClientConfig(cfg.RPC),
		Devices: kinds,
		Shared:  cfg.RPC.SharedSession,
		Logger:  log.Component("rpc"),
	})
	if err != nil {
		return fmt.Errorf("opening backend: %w", err)
	}
	if connErr := connectBackend(ctx, be, cfg.GetConnectWait()); connErr != nil {
		log.Warn("device server not reachable yet, retrying in background",
			"address", serverAddr,
			"error", connErr,
		)
	} else {
		log.Info("device server connected", "address", serverAddr, "backend", be.Name())
	}
	defer func() {
		log.Info("disconnecting from device server")
		if discErr := be.Disconnect(); discErr != nil {
			log.Error("error disconnecting from device server", "error", discErr)
		}
	}()
	primary := be.Primary()

	// Open journal database (optional)
	var (
		db       *database.DB
		journals journal.Repository
		recorder dispatch.Recorder
	)
	if cfg.Database.Enabled {
		db, err = database.Open(database.Config{
			Path:        cfg.Database.Path,
			WALMode:     cfg.Database.WALMode,
			BusyTimeout: cfg.Database.BusyTimeout,
		})
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		log.Info("database connected", "path", cfg.Database.Path)

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		log.Info("database migrations complete")

		repo := journal.NewSQLiteRepository(db.DB)
		journals, recorder = repo, repo

		if cfg.Database.JournalRetentionDays > 0 {
			retention := time.Duration(cfg.Database.JournalRetentionDays) * 24 * time.Hour
			go journal.RunPruner(ctx, repo, retention, pruneInterval, log.Component("journal"))
		}
	} else {
		log.Info("journal disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	dispatcher := dispatch.New(dispatch.Options{
		Caller:  primary,
		Journal: recorder,
		Metrics: callMetrics(influxClient),
		Logger:  log.Component("dispatch"),
		Breaker: dispatch.BreakerConfig{
			Disabled:    cfg.RPC.BreakerFailures == 0,
			MaxFailures: uint32(cfg.RPC.BreakerFailures), //nolint:gosec // validated non-negative
			Timeout:     cfg.GetBreakerTimeout(),
		},
	})

	// Connect to MQTT and start the observatory bridge (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		var bridge *observatory.Bridge
		mqttClient, bridge, err = startBridge(ctx, cfg, serverAddr, be, dispatcher, influxClient, log)
		if err != nil {
			return err
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		defer func() {
			log.Info("stopping observatory bridge")
			bridge.Stop()
		}()
	} else {
		log.Info("MQTT bridge disabled")
	}

	// Start the HTTP API (optional)
	if cfg.API.Enabled {
		deps := api.Deps{
			Config:  cfg.API,
			WS:      cfg.WebSocket,
			Logger:  log.Component("api"),
			Client:  primary,
			Invoker: dispatcher,
			Journal: journals,
			Devices: be,
			Version: version,
		}
		if mqttClient != nil {
			deps.MQTT = mqttClient
		}
		apiServer, apiErr := api.New(deps)
		if apiErr != nil {
			return fmt.Errorf("creating API server: %w", apiErr)
		}
		if startErr := apiServer.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer func() {
			log.Info("stopping API server")
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error stopping API server", "error", closeErr)
			}
		}()
		log.Info("API server started", "address", apiServer.Addr())
	} else {
		log.Info("API disabled")
	}

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred calls run in reverse order: API, MQTT, InfluxDB, database,
	// device session, managed server.

	log.Info("astrorpc stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses ASTRORPC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("ASTRORPC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// connectBackend starts every session and waits up to wait for them to come
// up. Sessions keep retrying after a timeout, so the caller may carry on.
func connectBackend(ctx context.Context, be backend.Backend, wait time.Duration) error {
	if wait <= 0 {
		// Start without waiting.
		ctx, cancel := context.WithCancel(ctx)
		cancel()
		err := be.Connect(ctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return be.Connect(ctx)
}

// callMetrics avoids handing a typed nil *influxdb.Client to the dispatcher.
func callMetrics(c *influxdb.Client) dispatch.Metrics {
	if c == nil {
		return nil
	}
	return c
}

// startBridge connects to the broker, starts the observatory bridge and,
// when telemetry is enabled, the value poller. The caller stops the bridge
// and then closes the client; the poller stops when ctx is done.
func startBridge(
	ctx context.Context,
	cfg *config.Config,
	serverAddr string,
	be backend.Backend,
	invoker observatory.Invoker,
	influxClient *influxdb.Client,
	log *logging.Logger,
) (*mqtt.Client, *observatory.Bridge, error) {
	topics := mqtt.NewTopics(cfg.Bridge.TopicPrefix)
	mqttClient, err := mqtt.Connect(cfg.MQTT, topics)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log.Component("mqtt"))
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})
	log.Info("MQTT connected",
		"broker", net.JoinHostPort(cfg.MQTT.Broker.Host, strconv.Itoa(cfg.MQTT.Broker.Port)),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	primary := be.Primary()

	opts := observatory.Options{
		Publisher:      mqttClient,
		Client:         primary,
		Invoker:        invoker,
		Topics:         topics,
		Address:        serverAddr,
		Version:        version,
		HealthInterval: time.Duration(cfg.Bridge.HealthInterval) * time.Second,
		Logger:         log.Component("bridge"),
		CommandRate:    cfg.Bridge.CommandRate,
		CommandBurst:   cfg.Bridge.CommandBurst,
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	bridge, err := observatory.New(opts)
	if err != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("creating observatory bridge: %w", err)
	}
	if err := bridge.Start(ctx); err != nil {
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("starting observatory bridge: %w", err)
	}
	log.Info("observatory bridge started", "prefix", topics.Prefix())

	if !cfg.Telemetry.Enabled {
		return mqttClient, bridge, nil
	}

	points := make([]observatory.Point, 0, len(cfg.Telemetry.Points))
	for _, p := range cfg.Telemetry.Points {
		points = append(points, observatory.Point{Device: p.Device, Method: p.Method, Key: p.Key})
	}
	popts := observatory.PollerOptions{
		Points:    points,
		Interval:  cfg.GetTelemetryInterval(),
		Resolve:   resolver(be),
		Publisher: mqttClient,
		Topics:    topics,
		Logger:    log.Component("telemetry"),
	}
	if influxClient != nil {
		popts.Metrics = influxClient
	}
	poller, err := observatory.NewPoller(popts)
	if err != nil {
		bridge.Stop()
		_ = mqttClient.Close()
		return nil, nil, fmt.Errorf("creating telemetry poller: %w", err)
	}

	// A fresh session may report different values; republish everything.
	primary.Subscribe(func(ev rpc.Event) {
		if ev.Name == rpc.EventConnected {
			poller.Reset()
		}
	})
	go poller.Run(ctx)
	log.Info("telemetry poller started", "points", len(points), "interval", cfg.GetTelemetryInterval())

	return mqttClient, bridge, nil
}

// resolver maps telemetry device names onto backend sessions.
func resolver(be backend.Backend) observatory.ResolveFunc {
	return func(name string) (observatory.ValueReader, error) {
		kind, err := device.ParseKind(name)
		if err != nil {
			return nil, err
		}
		c, err := be.Client(kind)
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// healthCheck verifies the enabled infrastructure connections. The device
// session is not checked: it may still be retrying.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			return fmt.Errorf("database: %w", err)
		}
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
