// Package api implements the HTTP REST API and WebSocket server for the
// purifier bridge.
//
// This package provides:
//   - REST endpoints for listing endpoints, reading status and history
//   - A write endpoint that forwards semantic field changes to the poller
//   - A WebSocket hub that relays coordinator updates as they happen
//   - A redacted diagnostics dump for support requests
//   - Middleware stack (request ID, logging, recovery, body limit, auth)
//
// # Architecture
//
// The server reads directly from the coordinator manager. It never talks
// to devices itself: PUT /devices/{id}/state calls Manager.Set, which runs
// on the endpoint's poll goroutine between polls.
//
// # Security
//
// When security.jwt.secret is set, write endpoints and the audit log
// require an HS256 bearer token signed with that secret. Other reads stay
// open; the bridge is meant for a trusted LAN.
//
// # Routes
//
//	GET  /api/v1/health
//	GET  /api/v1/devices
//	GET  /api/v1/devices/{id}
//	GET  /api/v1/devices/{id}/status
//	PUT  /api/v1/devices/{id}/state
//	GET  /api/v1/devices/{id}/history?limit=50
//	GET  /api/v1/diagnostics
//	GET  /api/v1/audit?device_id=&source=&result=&limit=&offset=
//	GET  /api/v1/ws
//	GET  /panel/  (status page; / redirects here)
package api
