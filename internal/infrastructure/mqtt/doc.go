// Package mqtt connects the hub to the MQTT bus.
//
// The hub uses the bus in two directions. Other services publish
// notifications and device payloads into the hub's namespace, and the hub
// publishes presence changes and frames read from device streams back out.
// The relay package owns that traffic; this package only provides the
// connection, topic builders and parsers.
//
//	Services <-> MQTT Broker <-> Hub <-> WebSocket clients / devices
//
// # Connection Behaviour
//
//   - Auto-reconnect with backoff between reconnect.initial_delay and max_delay
//   - Subscriptions are tracked and restored after a reconnect
//   - A retained status document on graylogic/hub/status reports online,
//     graceful shutdown, or (via LWT) an unexpected disconnect
//   - Handler panics are recovered and logged
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(mqtt.Topics{}.AllNotify(), 1,
//	    func(topic string, payload []byte) error {
//	        group, err := mqtt.GroupFromNotifyTopic(topic)
//	        ...
//	    })
//
//	client.PublishRetained(mqtt.Topics{}.DevicePresence(42), payload)
package mqtt
