// Package mqtt provides the MQTT client mfcd uses to accept remote
// commands and publish device state.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Publishing with QoS and size checks
//   - Subscriptions with wildcard support, restored after reconnect
//   - A retained online/offline status topic with Last Will and Testament
//
// # Architecture
//
//	lab tools ↔ MQTT broker ↔ mfcd (bridge package) ↔ controller/safety
//
// Topic names are built with Topics under the configured prefix (default
// "mfc"); see topics.go for the hierarchy.
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	err = client.Subscribe(client.Topics().AllSafety(), 1,
//	    func(topic string, payload []byte) error {
//	        log.Printf("safety request: %s", mqtt.LastSegment(topic))
//	        return nil
//	    })
package mqtt
