// Package mqtt provides MQTT client connectivity for wpand.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Connection health monitoring
//
// # Architecture
//
// MQTT carries the object bus: every PHY and interface is published as a
// retained object with one retained topic per property, and clients write
// properties by publishing to the set topics.
//
//	wpand ↔ MQTT Broker ↔ management clients
//
// # Security Considerations
//
//   - Enable TLS when the broker is not on the same host (cfg.Broker.TLS=true)
//   - Credentials are validated against broker ACL; restrict "<prefix>/set/#"
//
// # Usage
//
//	topics := mqtt.Topics{Prefix: cfg.ObjectBus.TopicPrefix}
//	client, err := mqtt.Connect(cfg.MQTT, topics)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(topics.AllSets(), 1,
//	    func(topic string, payload []byte) error {
//	        path, name, ok := topics.ParseSet(topic)
//	        ...
//	    })
package mqtt
