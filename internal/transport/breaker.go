package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// ErrCircuitOpen reports a fetch refused because the target host's
// circuit is open.
var ErrCircuitOpen = errors.New("transport: circuit open")

// BreakerState is a per-host circuit state.
type BreakerState int

const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "closed"
}

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // consecutive failures before opening
	ResetTimeout     time.Duration // open duration before probing again
	HalfOpenMax      int           // concurrent probes while half-open
}

// DefaultBreakerConfig returns the breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		HalfOpenMax:      1,
	}
}

// Breaker wraps an Opener with a per-host circuit breaker: hosts that
// keep failing are refused fast for ResetTimeout, then probed with a
// bounded number of requests before the circuit closes again.
type Breaker struct {
	next Opener
	cfg  BreakerConfig

	mu    sync.Mutex
	hosts map[string]*hostBreaker // Protected by mu

	now func() time.Time // test hook
}

type hostBreaker struct {
	state    BreakerState
	failures int
	openedAt time.Time
	probes   int
}

// NewBreaker wraps next; zero config fields take defaults.
func NewBreaker(next Opener, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = def.FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = def.ResetTimeout
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = def.HalfOpenMax
	}
	return &Breaker{
		next:  next,
		cfg:   cfg,
		hosts: make(map[string]*hostBreaker),
		now:   time.Now,
	}
}

// Open implements Opener, refusing fast when the host's circuit is
// open.
func (b *Breaker) Open(ctx context.Context, target urlinfo.Info) (*Response, error) {
	host := target.Host()
	if !b.allow(host) {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, host)
	}
	resp, err := b.next.Open(ctx, target)
	b.record(host, err == nil)
	return resp, err
}

// State reports the host's current circuit state.
func (b *Breaker) State(host string) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	if hb, ok := b.hosts[host]; ok {
		return hb.state
	}
	return StateClosed
}

func (b *Breaker) allow(host string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	hb, ok := b.hosts[host]
	if !ok {
		hb = &hostBreaker{}
		b.hosts[host] = hb
	}

	switch hb.state {
	case StateOpen:
		if b.now().Sub(hb.openedAt) < b.cfg.ResetTimeout {
			return false
		}
		hb.state = StateHalfOpen
		hb.probes = 0
		fallthrough
	case StateHalfOpen:
		if hb.probes >= b.cfg.HalfOpenMax {
			return false
		}
		hb.probes++
		return true
	default:
		return true
	}
}

func (b *Breaker) record(host string, ok bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hb := b.hosts[host]
	if hb == nil {
		return
	}
	if ok {
		hb.state = StateClosed
		hb.failures = 0
		hb.probes = 0
		return
	}
	hb.failures++
	if hb.state == StateHalfOpen || hb.failures >= b.cfg.FailureThreshold {
		hb.state = StateOpen
		hb.openedAt = b.now()
		hb.failures = 0
		hb.probes = 0
	}
}
