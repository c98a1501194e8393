// Package influxdb provides InfluxDB connectivity for purifier telemetry.
//
// It wraps the official influxdb-client-go v2 library for connection
// management, batched writes and health monitoring.
//
// # Measurements
//
//	purifier_status        numeric and boolean status fields per poll
//	purifier_availability  availability transitions
//	purifier_filter        remaining filter life
//
// All measurements carry a device_id tag; status points also carry the
// profile name.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	client.WriteStatus("living-room", "AC2729", update.Status, update.Timestamp)
//
// # Error Handling
//
// Writes are non-blocking; batch errors are counted in Stats and delivered
// to the SetOnError callback. Connection and health check errors are
// returned directly.
package influxdb
