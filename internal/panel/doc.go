// Package panel serves the purifier status page as an embedded asset.
//
// The page is plain HTML and JavaScript compiled into the binary with
// go:embed. It lists endpoints from /api/v1/devices, then follows live
// updates on the WebSocket, so the bridge needs no separate web server.
//
// Handler serves the assets with index.html fallback for unknown paths and
// no-cache headers, since the files are not content-hashed.
package panel
