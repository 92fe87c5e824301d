// Package ws streams pipe data to WebSocket clients.
//
// A tap is a pipe reader: bytes it forwards are consumed from the pipe and
// are not seen by other readers.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//
// Message Types (Server → Client):
//   - system (text): tap attached, with pipe stats
//   - pong (text): reply to ping
//   - binary frames: pipe data in arrival order
//   - error (text): the tap stopped on a kernel error
//
// Example Usage:
//
//	tap := ws.NewTap(k, metrics, logger)
//	router.GET("/v1/pipes/:name/tap", tap.Handle)
package ws
