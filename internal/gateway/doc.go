// Package gateway orchestrates the moneypilot server components.
//
// # Overview
//
// The gateway owns the storage backend selected by db_cfg, the entry store
// on top of it and the WebSocket server that exposes both. Startup fails
// before any port is bound if the configuration is malformed or the backend
// cannot be reached.
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
//	err = gw.Run(ctx)
//
// Run returns when ctx is canceled, the HTTP server fails, or the backend
// becomes unreachable while serving (ErrStoreUnavailable). In every case it
// shuts down in this order:
//
//  1. Bye to every connected client
//  2. HTTP server shutdown
//  3. Backend disconnect
//
// The whole shutdown is bounded by five seconds.
package gateway
