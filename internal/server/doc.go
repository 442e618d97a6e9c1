// Package server provides the policy daemon's HTTP API.
//
// This package wires the session registry, trust store and event hub
// behind a gin router:
//   - Session lifecycle (create with declared origin, inspect, delete)
//   - URL and request-header evaluation against a session's engine
//   - Policy-file registration, loading and inspection
//   - Sandbox classification and exact-settings control
//   - Trust-store path checks
//   - Prometheus metrics and the WebSocket event stream
//
// Middleware stack (outermost first): recovery, request tracing, HTTP
// metrics, CORS, optional rate limiting.
//
// Server Lifecycle:
//  1. Load configuration from environment/flags
//  2. Initialize logger, metrics, trust store and transports
//  3. Setup routes and middleware
//  4. Start HTTP server
//  5. Graceful shutdown on signal
//
// Example Usage:
//
//	srv := server.New(server.Options{Config: cfg, Sessions: sessions})
//	if err := srv.Run(); err != nil {
//	    log.Fatal(err)
//	}
package server
