package transport

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// Memory is the in-memory fetcher used by tests: bodies, content
// types, redirect chains and forced errors registered per URL, plus
// fetch counters. Safe for concurrent use.
type Memory struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	fetches map[string]int
}

type memoryEntry struct {
	body        string
	contentType string
	effective   urlinfo.Info
	err         error
}

// NewMemory returns an empty fetcher; unregistered URLs fail like a
// dead server.
func NewMemory() *Memory {
	return &Memory{
		entries: make(map[string]memoryEntry),
		fetches: make(map[string]int),
	}
}

// Serve registers body for raw with the given content type (may be
// empty).
func (m *Memory) Serve(raw, contentType, body string) {
	m.put(raw, memoryEntry{body: body, contentType: contentType})
}

// ServeRedirect registers body for raw, delivered as if the fetch had
// been redirected to effectiveRaw.
func (m *Memory) ServeRedirect(raw, effectiveRaw, contentType, body string) {
	m.put(raw, memoryEntry{
		body:        body,
		contentType: contentType,
		effective:   urlinfo.MustParse(effectiveRaw),
	})
}

// Fail makes fetches of raw return err.
func (m *Memory) Fail(raw string, err error) {
	m.put(raw, memoryEntry{err: err})
}

// Fetches returns how many times raw has been opened.
func (m *Memory) Fetches(raw string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches[memoryKey(urlinfo.MustParse(raw))]
}

func (m *Memory) put(raw string, e memoryEntry) {
	key := memoryKey(urlinfo.MustParse(raw))
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = e
}

// Schemes implements Fetcher; the double stands in for every remote
// scheme.
func (m *Memory) Schemes() []string {
	return []string{urlinfo.SchemeHTTP, urlinfo.SchemeHTTPS, urlinfo.SchemeFTP}
}

// Open implements Opener.
func (m *Memory) Open(_ context.Context, target urlinfo.Info) (*Response, error) {
	key := memoryKey(target)

	m.mu.Lock()
	m.fetches[key]++
	e, ok := m.entries[key]
	m.mu.Unlock()

	if !ok {
		return nil, fmt.Errorf("transport: no entry for %s", target.String())
	}
	if e.err != nil {
		return nil, e.err
	}

	effective := target
	redirected := false
	if !e.effective.IsZero() {
		effective = e.effective
		redirected = !e.effective.Equal(target)
	}
	return &Response{
		EffectiveURL: effective,
		Redirected:   redirected,
		ContentType:  e.contentType,
		Body:         io.NopCloser(strings.NewReader(e.body)),
	}, nil
}

// memoryKey normalizes spelling differences so lookups hit however the
// URL was written.
func memoryKey(u urlinfo.Info) string {
	return fmt.Sprintf("%s://%s:%d%s", u.Scheme(), u.Host(), u.EffectivePort(), u.Path())
}
