// Package config provides 12-factor configuration management for the
// policy daemon.
//
// Configuration is loaded in precedence order: built-in defaults, an
// optional settings file (YAML, TOML or JSON by extension), then
// environment variables. CLI flags can override individual values for
// development flexibility.
//
// Configuration Sections:
//   - Server: HTTP server settings (host, port, CORS, rate limiting)
//   - Engine: policy fetch and evaluation settings (timeouts, retries,
//     circuit breaker, buffer size)
//   - Trust: local trust-store directories
//   - Logging: log level and output format
//   - Session: session TTL and sweep interval
//
// Example Usage:
//
//	cfg := config.LoadOrDefault()
//	fmt.Printf("policyd listening on %s\n", cfg.Server.Addr())
//
// Environment Variables:
//   - POLICYD_HOST, POLICYD_PORT (short forms HOST, PORT also accepted)
//   - LOG_LEVEL, LOG_DEV
//   - FETCH_TIMEOUT, FETCH_MAX_REDIRECTS, FETCH_RETRY_MAX
//   - TRUST_DIRS, SESSION_TTL, RATE_LIMIT_RPS, RATE_LIMIT_BURST
package config
