// Package session provides player session management for the policy daemon.
//
// A session binds one content origin to its own security engine, so
// that concurrently served players with different origins and sandboxes
// never share trust state.
//
// Components:
//   - Manager: Session registry with TTL-based reclamation
//   - Session: Origin plus its security.Manager
//   - Metadata: The JSON shape sessions list as
//
// Lifecycle:
//  1. Create parses the declared origin and builds a security engine
//  2. Get marks the session live on every API touch
//  3. The sweep loop reclaims sessions idle beyond the TTL
//  4. Delete removes a session explicitly
//
// Example Usage:
//
//	mgr := session.NewManager(cfg, builder, logger, metrics)
//	s, err := mgr.Create("https://games.example.com/app.swf", 0)
//	s, err = mgr.Get(s.ID)
package session
