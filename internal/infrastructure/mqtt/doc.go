// Package mqtt connects astrorpc to an MQTT broker.
//
// The broker is how the rest of an observatory sees the device server:
// server events, connection state and telemetry are published under a
// common topic prefix, and commands arrive on a wildcard command topic.
//
//	astrorpc/status                  retained online/offline (also the LWT)
//	astrorpc/health                  retained health report
//	astrorpc/event/<name>            device server and connection events
//	astrorpc/state/connection        retained connection state
//	astrorpc/state/<device>/<key>    retained telemetry values
//	astrorpc/command/<origin>        incoming commands
//	astrorpc/response/<request_id>   command replies
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT, mqtt.NewTopics(cfg.Bridge.TopicPrefix))
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.PublishJSON(client.Topics().ConnectionState(), state, true)
package mqtt
