// Package bridge publishes purifier state over MQTT and accepts commands.
//
// The bridge subscribes to every coordinator update and translates it into
// retained MQTT messages. It also listens for commands and forwards them to
// the coordinator, acknowledging each one.
//
// # Topics
//
//	{prefix}/state/{id}               StateMessage, retained
//	{prefix}/availability/{id}        AvailabilityMessage, retained
//	{prefix}/command/{id}             CommandMessage, inbound
//	{prefix}/ack/{id}                 AckMessage
//	{prefix}/event/{id}/filter_low    EventMessage
//	{prefix}/health                   HealthMessage, retained
//
// State is republished when a field changes, after a command and on the
// first update of each endpoint. A filter_low event fires when a filter
// newly drops below the alert threshold; the first status of an endpoint
// only establishes the baseline.
//
// Optional telemetry (InfluxDB) receives numeric status fields, filter
// levels and availability transitions.
//
// Thread Safety: All exported methods are safe for concurrent use.
package bridge
