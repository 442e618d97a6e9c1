package session

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Fenveireth/lightspark/internal/logging"
	"github.com/Fenveireth/lightspark/internal/monitoring"
	"github.com/Fenveireth/lightspark/internal/security"
	"github.com/Fenveireth/lightspark/internal/shared/id"
	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// ErrNotFound reports a lookup for a session that does not exist or
// has already expired.
var ErrNotFound = errors.New("session: not found")

// Builder constructs the security engine for a new session. The daemon
// wires transports, logging, metrics and the event sink here; sandbox
// zero means "classify from the origin".
type Builder func(origin urlinfo.Info, sandbox security.Sandbox) *security.Manager

// Session binds one player's content origin to its security engine.
type Session struct {
	ID        id.SessionID
	Origin    urlinfo.Info
	Security  *security.Manager
	CreatedAt time.Time

	lastSeen time.Time // Protected by the owning Manager's mu
}

// Metadata is the JSON shape sessions list as.
type Metadata struct {
	ID        id.SessionID `json:"id"`
	Origin    string       `json:"origin"`
	Sandbox   string       `json:"sandbox"`
	CreatedAt time.Time    `json:"created_at"`
	LastSeen  time.Time    `json:"last_seen"`
	Policies  int          `json:"policies"`
}

// Config tunes session lifetime. A non-positive TTL disables expiry.
type Config struct {
	TTL           time.Duration
	SweepInterval time.Duration
}

// Manager owns the live sessions: creation, lookup with liveness
// touch, deletion and the TTL sweep that reclaims idle ones.
type Manager struct {
	cfg     Config
	builder Builder
	logger  *logging.Logger
	metrics *monitoring.Metrics

	mu       sync.RWMutex
	sessions map[id.SessionID]*Session // Protected by mu

	stopOnce sync.Once
	stop     chan struct{}
}

// NewManager creates a session manager and starts its sweep loop when
// expiry is configured. Call Close to stop the sweeper.
func NewManager(cfg Config, builder Builder, logger *logging.Logger, metrics *monitoring.Metrics) *Manager {
	if logger == nil {
		logger = logging.NewNop()
	}
	m := &Manager{
		cfg:      cfg,
		builder:  builder,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[id.SessionID]*Session),
		stop:     make(chan struct{}),
	}
	if cfg.TTL > 0 {
		interval := cfg.SweepInterval
		if interval <= 0 {
			interval = time.Minute
		}
		go m.sweepLoop(interval)
	}
	return m
}

// Create registers a session for content loaded from rawOrigin. The
// sandbox is honored as given; pass zero to let the builder classify
// the origin itself.
func (m *Manager) Create(rawOrigin string, sandbox security.Sandbox) (*Session, error) {
	origin, err := urlinfo.Parse(rawOrigin)
	if err != nil {
		return nil, fmt.Errorf("session: bad origin: %w", err)
	}

	now := time.Now()
	s := &Session{
		ID:        id.NewSessionID(),
		Origin:    origin,
		Security:  m.builder(origin, sandbox),
		CreatedAt: now,
		lastSeen:  now,
	}

	m.mu.Lock()
	m.sessions[s.ID] = s
	count := len(m.sessions)
	m.mu.Unlock()

	m.metrics.SetSessionsActive(count)
	m.logger.Info("session created",
		zap.String("session", s.ID.String()),
		zap.String("origin", origin.String()),
		zap.Stringer("sandbox", s.Security.SandboxType()))
	return s, nil
}

// Get returns the session and marks it live.
func (m *Manager) Get(sid id.SessionID) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sid]
	if !ok {
		return nil, ErrNotFound
	}
	s.lastSeen = time.Now()
	return s, nil
}

// Delete removes the session; deleting an absent ID reports ErrNotFound.
func (m *Manager) Delete(sid id.SessionID) error {
	m.mu.Lock()
	_, ok := m.sessions[sid]
	delete(m.sessions, sid)
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return ErrNotFound
	}
	m.metrics.SetSessionsActive(count)
	m.logger.Info("session deleted", zap.String("session", sid.String()))
	return nil
}

// List returns metadata for every live session.
func (m *Manager) List() []Metadata {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Metadata, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, m.metadataLocked(s))
	}
	return out
}

// Describe returns one session's metadata.
func (m *Manager) Describe(sid id.SessionID) (Metadata, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[sid]
	if !ok {
		return Metadata{}, ErrNotFound
	}
	return m.metadataLocked(s), nil
}

func (m *Manager) metadataLocked(s *Session) Metadata {
	return Metadata{
		ID:        s.ID,
		Origin:    s.Origin.String(),
		Sandbox:   s.Security.SandboxType().Name(),
		CreatedAt: s.CreatedAt,
		LastSeen:  s.lastSeen,
		Policies:  len(s.Security.PolicyFiles()),
	}
}

// Len returns the live session count.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Close stops the sweep loop. Live sessions stay usable; Close only
// ends their reclamation.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
}

func (m *Manager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweep(time.Now())
		case <-m.stop:
			return
		}
	}
}

// sweep drops sessions idle beyond the TTL.
func (m *Manager) sweep(now time.Time) {
	if m.cfg.TTL <= 0 {
		return
	}
	var expired []id.SessionID

	m.mu.Lock()
	for sid, s := range m.sessions {
		if now.Sub(s.lastSeen) > m.cfg.TTL {
			delete(m.sessions, sid)
			expired = append(expired, sid)
		}
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if len(expired) == 0 {
		return
	}
	m.metrics.SetSessionsActive(count)
	for _, sid := range expired {
		m.logger.Info("session expired", zap.String("session", sid.String()))
	}
}
