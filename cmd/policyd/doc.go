// Package main is the entry point for the policy decision daemon.
//
// policyd answers cross-domain access questions for sandboxed content
// players: it fetches and parses crossdomain.xml policy files, tracks
// per-session sandbox classifications, and exposes evaluation over a
// REST API with a WebSocket event stream.
//
// The daemon provides:
//   - Per-session policy engines keyed by declared content origin
//   - URL and request-header evaluation endpoints
//   - Policy-file registration, loading and inspection
//   - A local trust store promoting designated paths to trusted
//   - Prometheus metrics and structured logs
//   - A script mode for running policy test scripts
//
// Configuration:
//   - Environment variables (POLICYD_* prefix)
//   - Optional settings file (YAML, TOML or JSON) via -config
//   - CLI flags for address and script mode
//
// Usage:
//
//	# Serve
//	./policyd -addr 0.0.0.0:8090
//
//	# Run a policy script against a one-off session
//	./policyd -script checks.js -origin https://games.example.com/app.swf
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
