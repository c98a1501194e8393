// Package mqtt provides MQTT client connectivity for the purifier bridge.
//
// This package manages:
//   - Connection to the broker with auto-reconnect
//   - Message publishing with QoS guarantees
//   - Topic subscriptions with wildcard support
//   - Last Will and Testament (LWT) for offline detection
//   - Topic builders for the purifier topic tree
//
// # Topic tree
//
//	{prefix}/state/{device}          retained full status (JSON)
//	{prefix}/availability/{device}   retained "online" / "offline"
//	{prefix}/command/{device}        inbound {"id":..,"field":..,"value":..}
//	{prefix}/ack/{device}            command result
//	{prefix}/event/{device}/{name}   events such as filter_low
//	{prefix}/health                  retained bridge health
//	{prefix}/system/status           retained bridge online/offline (LWT)
//
// # Security Considerations
//
//   - TLS should be enabled outside a trusted LAN (cfg.Broker.TLS=true)
//   - Device secrets are never published
//
// # Usage
//
//	client, err := mqtt.Connect(cfg.MQTT)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	topic := client.Topics().DeviceState("living-room")
//	err = client.Publish(topic, payload, client.QoS(), true)
package mqtt
