// Package mqtt provides MQTT broker connectivity for the gateway.
//
// This package manages:
//   - A single broker connection per Client, bounded by a context
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Sensor and command topic builders
//
// # Reconnection
//
// Auto-reconnect is disabled. When the broker drops the connection the
// WithOnDisconnect callback fires once and the Client stays disconnected.
// The gateway's connection supervisor tears down and reconnects every
// session together so automation and broker state stay consistent.
//
// # Topics
//
//	<sensors>/<suffix>     published sensor values
//	<commands>/<suffix>    inbound write commands
//	<commands>/#           command subscription filter
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.MQTT,
//	    mqtt.WithOnDisconnect(func(err error) { log.Printf("lost: %v", err) }),
//	)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	topics := mqtt.NewTopics(cfg.MQTT.BaseTopics.Sensors, cfg.MQTT.BaseTopics.Commands)
//	err = client.Subscribe(ctx, topics.CommandFilter(), 1,
//	    func(topic string, payload []byte) error {
//	        suffix, _ := topics.CommandSuffix(topic)
//	        log.Printf("command for %s: %s", suffix, payload)
//	        return nil
//	    })
//
//	client.Publish(ctx, topics.Sensor("line1/temp"), payload, 1, false)
package mqtt
