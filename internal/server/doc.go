// Package server exposes the storage backend to clients over WebSocket.
//
// # Routes
//
//   - /health: liveness probe, always "OK"
//   - /health/ready: 200 when the backend answers a ping, 503 otherwise
//   - /metrics: Prometheus exposition, when enabled
//   - every other path: the WebSocket endpoint
//
// # Protocol
//
// Every message is a JSON text frame:
//
//	{"type": "Store", "request_id": "r1", "token": "...", "payload": {"key": "balance", "value": 100}}
//
// On connect the server sends Hello with a per-connection token. Requests may
// carry that token; a different token is answered with INVALID_TOKEN and the
// connection stays open. Each request gets exactly one Result or Error frame
// with the same request_id. Before closing a connection the server sends Bye.
//
// A successful write that carried a request_id is remembered for the replay
// window. Sending the same write again on the same connection returns the
// remembered result without touching the backend.
//
// # Sessions
//
// A session reads frames on one goroutine and handles them in order on
// another. Each request runs under the configured timeout and under the
// session's context, which is cancelled when the client disconnects.
//
// A backend that stops answering is reported once through Options.OnFatal.
package server
