// Package transport performs the policy-file fetches the security
// engine delegates: scheme dispatch, HTTP/HTTPS with retries and rate
// limiting, FTP retrieval, an in-memory double for tests, and a
// per-host circuit breaker.
package transport

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// Response is the outcome of a successful fetch. EffectiveURL is where
// the bytes actually came from after any redirects; Redirected is set
// when that differs from the request URL. The caller owns Body.
type Response struct {
	EffectiveURL urlinfo.Info
	Redirected   bool
	ContentType  string
	Body         io.ReadCloser
}

// Opener fetches one URL. Implementations enforce their own timeouts
// and retry policy; callers treat any error as fetch failure.
type Opener interface {
	Open(ctx context.Context, target urlinfo.Info) (*Response, error)
}

// Fetcher is an Opener bound to specific schemes, registrable in a
// Registry.
type Fetcher interface {
	Opener
	Schemes() []string
}

// ErrUnsupportedScheme reports a fetch for a scheme no fetcher claims.
var ErrUnsupportedScheme = fmt.Errorf("transport: unsupported scheme")

// Registry dispatches fetches to the Fetcher registered for the
// target's scheme. Safe for concurrent use.
type Registry struct {
	fetchers sync.Map // scheme -> Fetcher
}

// NewRegistry returns an empty registry; every Open fails until
// fetchers are registered.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register claims f's schemes, replacing any previous registration.
func (r *Registry) Register(f Fetcher) {
	for _, s := range f.Schemes() {
		r.fetchers.Store(s, f)
	}
}

// Resolve returns the fetcher claiming scheme, nil when none does.
func (r *Registry) Resolve(scheme string) Fetcher {
	if f, ok := r.fetchers.Load(scheme); ok {
		return f.(Fetcher)
	}
	return nil
}

// Open dispatches by the target's scheme.
func (r *Registry) Open(ctx context.Context, target urlinfo.Info) (*Response, error) {
	f := r.Resolve(target.Scheme())
	if f == nil {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, target.Scheme())
	}
	return f.Open(ctx, target)
}
