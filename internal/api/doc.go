// Package api implements the homecore control plane over HTTP.
//
// This package provides:
//   - Browsable HTML pages on bare paths (/, /state/change, ...)
//   - A JSON API with the same actions under /api/
//   - State history and event log queries backed by the history store
//   - A WebSocket stream of bus events authenticated with short-lived JWTs
//   - Prometheus metrics and a health endpoint
//
// # Architecture
//
// Every action runs against the state machine and event bus injected through
// Deps. The server itself holds no entity data; the only mutable state it owns
// is the flash message shown on the next HTML page load.
//
// # Security
//
// Each control request carries api_password (query string for GET, form body
// for POST), checked against the configured secret. The secret may be stored
// as an Argon2id hash (see internal/auth). JSON clients receive an
// UNAUTHORIZED envelope; HTML clients are sent back to the password form.
//
// # Lifecycle
//
//	server, err := api.New(deps)
//	bus.ListenOnce(eventbus.EventHomeStart, func(ctx context.Context, _ eventbus.Event) error {
//		return server.Start(ctx)
//	})
//	defer server.Close()
package api
