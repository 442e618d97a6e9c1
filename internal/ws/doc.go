// Package ws streams security events to WebSocket subscribers.
//
// The hub implements security.EventSink: every evaluation verdict,
// policy-load outcome and sandbox change published by the engine is
// fanned out to all connected clients as JSON frames.
//
// Features:
//   - Automatic connection upgrade from HTTP
//   - Non-blocking broadcast; evaluation never waits on subscribers
//   - Slow clients disconnected when their buffer fills
//   - Ping/pong keep-alive with read deadlines
//
// Message Types (Server → Client):
//   - system: Connection established
//   - event: One security event record
//
// Subscribers send nothing; inbound frames are read only to service
// pongs and close handshakes.
//
// Example Usage:
//
//	hub := ws.NewHub(logger, metrics)
//	router.GET("/v1/events/ws", hub.HandleConnection)
package ws
