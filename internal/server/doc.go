// Package server exposes the execution engine over HTTP.
//
// # API Endpoints
//
//   - POST /execute: run a prompt; the response is an SSE stream of "update"
//     events followed by one "result" event
//   - GET /session/{id}: session summary
//   - DELETE /session/{id}: end a session, stopping its execution
//   - POST /session/{id}/abort: cancel the running execution
//   - POST /session/sweep: expire idle sessions now
//   - GET /event: audit events as SSE, optionally filtered by ?sessionID=
//   - GET /metrics: Prometheus metrics
//   - GET /health: liveness
//
// Executions are gated per user by a token bucket when a rate is configured.
// The user is taken from the request body or the X-User-ID header.
//
// # Usage
//
//	srv := server.New(server.ConfigFrom(cfg.Server), eng, bus, m)
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
