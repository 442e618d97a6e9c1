package security

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Fenveireth/lightspark/internal/logging"
	"github.com/Fenveireth/lightspark/internal/monitoring"
	"github.com/Fenveireth/lightspark/internal/shared/id"
	"github.com/Fenveireth/lightspark/internal/stream"
	"github.com/Fenveireth/lightspark/internal/transport"
	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// Manager owns one content session's security state: the sandbox
// classification, the exact-settings latch and the registries of
// pending and loaded policy files keyed by host. Constructed per
// session, torn down with it; there is no process-wide instance.
type Manager struct {
	origin urlinfo.Info

	mu            sync.RWMutex
	sandbox       Sandbox                     // Protected by mu
	exactSettings bool                        // Protected by mu
	exactLocked   bool                        // Protected by mu
	pending       map[string][]*URLPolicyFile // Protected by mu
	loaded        map[string][]*URLPolicyFile // Protected by mu

	fetch      transport.Opener
	logger     *logging.Logger
	metrics    *monitoring.Metrics
	events     EventSink
	bufferSize int
}

// Options configures a Manager. Zero values fall back to sensible
// defaults: a sandbox derived from the origin's locality, an empty
// transport registry (every fetch fails), a no-op logger.
type Options struct {
	Sandbox    Sandbox
	Fetch      transport.Opener
	Logger     *logging.Logger
	Metrics    *monitoring.Metrics
	Events     EventSink
	BufferSize int
}

// NewManager builds the security manager for content loaded from
// origin.
func NewManager(origin urlinfo.Info, opts Options) *Manager {
	m := &Manager{
		origin:        origin,
		sandbox:       opts.Sandbox,
		exactSettings: true,
		pending:       make(map[string][]*URLPolicyFile),
		loaded:        make(map[string][]*URLPolicyFile),
		fetch:         opts.Fetch,
		logger:        opts.Logger,
		metrics:       opts.Metrics,
		events:        opts.Events,
		bufferSize:    opts.BufferSize,
	}
	if m.sandbox == 0 {
		if origin.IsLocal() {
			m.sandbox = SandboxLocalWithFile
		} else {
			m.sandbox = SandboxRemote
		}
	}
	if m.fetch == nil {
		m.fetch = transport.NewRegistry()
	}
	if m.logger == nil {
		m.logger = logging.NewNop()
	}
	if m.bufferSize <= 0 {
		m.bufferSize = stream.DefaultCapacity
	}
	return m
}

// Origin returns the URL of the document this manager guards.
func (m *Manager) Origin() urlinfo.Info { return m.origin }

// AddPolicyFile registers a policy-file URL and returns its canonical
// registration; repeated calls for the same URL return the existing
// file. Local URLs return nil (local content publishes no policy
// files). A malformed URL still registers, permanently invalid, so a
// later load observes a loaded-but-invalid file rather than a failure.
func (m *Manager) AddPolicyFile(raw string) *URLPolicyFile {
	u, err := urlinfo.Parse(raw)
	if err != nil {
		m.logger.Debug("registering unusable policy url",
			zap.String("url", raw), zap.Error(err))
		return m.addURLPolicyFile(urlinfo.Info{})
	}
	if u.IsLocal() {
		return nil
	}
	return m.addURLPolicyFile(u)
}

func (m *Manager) addURLPolicyFile(u urlinfo.Info) *URLPolicyFile {
	m.mu.Lock()
	defer m.mu.Unlock()

	if f := m.findPolicyFileLocked(u); f != nil {
		return f
	}
	f := newURLPolicyFile(m, u)
	host := u.Host()
	m.pending[host] = append(m.pending[host], f)
	return f
}

// PolicyFileByURL returns the registration covering u, nil when
// absent. Both the current (post-redirect) and the original request
// URL match.
func (m *Manager) PolicyFileByURL(u urlinfo.Info) *URLPolicyFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findPolicyFileLocked(u)
}

func (m *Manager) findPolicyFileLocked(u urlinfo.Info) *URLPolicyFile {
	host := u.Host()
	for _, f := range m.pending[host] {
		if f.URL().Equal(u) || f.OriginalURL().Equal(u) {
			return f
		}
	}
	for _, f := range m.loaded[host] {
		if f.URL().Equal(u) || f.OriginalURL().Equal(u) {
			return f
		}
	}
	return nil
}

// PolicyFiles returns a snapshot of every registration, pending and
// loaded alike.
func (m *Manager) PolicyFiles() []*URLPolicyFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*URLPolicyFile
	for _, bucket := range m.pending {
		out = append(out, bucket...)
	}
	for _, bucket := range m.loaded {
		out = append(out, bucket...)
	}
	return out
}

// LoadPolicyFile drives f through its fetch+parse exactly once,
// blocking until done, and moves it from the pending to the loaded
// registry. A second call for the same file returns ErrAlreadyLoaded
// and touches nothing.
func (m *Manager) LoadPolicyFile(ctx context.Context, f *URLPolicyFile) error {
	if f == nil {
		return nil
	}
	if !f.beginLoad() {
		return ErrAlreadyLoaded
	}
	m.runLoad(ctx, f)
	return nil
}

// ensureLoaded loads f when nobody has yet, or waits for the in-flight
// load. The master-chain walk uses this instead of LoadPolicyFile so
// concurrent loads of the same master cooperate instead of erroring.
func (m *Manager) ensureLoaded(ctx context.Context, f *URLPolicyFile) {
	if f.beginLoad() {
		m.runLoad(ctx, f)
		return
	}
	if err := f.WaitLoaded(ctx); err != nil {
		m.logger.Debug("wait for policy load interrupted",
			zap.String("url", f.URL().String()), zap.Error(err))
	}
}

func (m *Manager) runLoad(ctx context.Context, f *URLPolicyFile) {
	start := time.Now()
	f.load(ctx)
	f.finishLoad()
	m.moveToLoaded(f)

	outcome := loadOutcome(f)
	took := time.Since(start)
	m.logger.Debug("policy file loaded",
		zap.String("url", f.URL().String()),
		zap.String("outcome", outcome),
		zap.Duration("took", took))
	m.metrics.RecordPolicyLoad(outcome, took)
	m.emit(Event{
		Kind:        EventPolicyLoad,
		PolicyURL:   f.URL().String(),
		Outcome:     outcome,
		Digest:      f.Digest(),
		ContentType: f.ContentType(),
	})
}

func loadOutcome(f *URLPolicyFile) string {
	switch {
	case !f.IsValid():
		return "invalid"
	case f.IsIgnored():
		return "ignored"
	default:
		return "valid"
	}
}

// moveToLoaded moves f between the registries in one critical section;
// a concurrent lookup never observes it in both or neither. Files stay
// bucketed under their original host whatever a redirect did.
func (m *Manager) moveToLoaded(f *URLPolicyFile) {
	host := f.OriginalURL().Host()

	m.mu.Lock()
	defer m.mu.Unlock()

	bucket := m.pending[host]
	for i, p := range bucket {
		if p == f {
			bucket = append(bucket[:i:i], bucket[i+1:]...)
			if len(bucket) == 0 {
				delete(m.pending, host)
			} else {
				m.pending[host] = bucket
			}
			break
		}
	}
	m.loaded[host] = append(m.loaded[host], f)
}

func (m *Manager) pendingFiles(host string) []*URLPolicyFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*URLPolicyFile(nil), m.pending[host]...)
}

func (m *Manager) loadedFiles(host string) []*URLPolicyFile {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]*URLPolicyFile(nil), m.loaded[host]...)
}

// SandboxType returns the active sandbox classification.
func (m *Manager) SandboxType() Sandbox {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.sandbox
}

// SetSandboxType reclassifies the running content. This is the only
// mutation point for the active sandbox.
func (m *Manager) SetSandboxType(s Sandbox) {
	m.mu.Lock()
	prev := m.sandbox
	m.sandbox = s
	m.mu.Unlock()

	if prev != s {
		m.logger.Info("sandbox reclassified",
			zap.Stringer("from", prev), zap.Stringer("to", s))
		m.emit(Event{Kind: EventSandboxChange, Sandbox: s.Name()})
	}
}

// EvaluateSandbox reports whether the active sandbox is in the allowed
// mask; Sandbox.In gives the explicit two-argument form.
func (m *Manager) EvaluateSandbox(allowed Sandbox) bool {
	return m.SandboxType().In(allowed)
}

// ExactSettings reports the current exact-settings flag.
func (m *Manager) ExactSettings() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exactSettings
}

// ExactSettingsLocked reports whether the latch is closed.
func (m *Manager) ExactSettingsLocked() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exactLocked
}

// SetExactSettings stores value and, when lock is set, closes the
// latch: every later call is silently ignored. First locker wins.
func (m *Manager) SetExactSettings(value, lock bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.exactLocked {
		return
	}
	m.exactSettings = value
	if lock {
		m.exactLocked = true
	}
}

// Evaluation carries the caller-supplied constraints for EvaluateURL.
type Evaluation struct {
	LoadPending            bool
	AllowedRemote          Sandbox
	AllowedLocal           Sandbox
	RestrictLocalDirectory bool
}

// EvaluateURL produces the final verdict for the origin content
// reaching target, short-circuiting on the first failing check:
// sandbox masks, then the local-directory restriction, then
// cross-domain policy files.
func (m *Manager) EvaluateURL(ctx context.Context, target urlinfo.Info, eval Evaluation) Verdict {
	v := m.evaluateURL(ctx, target, eval)
	m.observeEvaluation(target, v)
	return v
}

func (m *Manager) evaluateURL(ctx context.Context, target urlinfo.Info, eval Evaluation) Verdict {
	if v := m.EvaluateSandboxURL(target, eval.AllowedRemote, eval.AllowedLocal); !v.Granted() {
		return v
	}
	if eval.RestrictLocalDirectory {
		if v := m.EvaluateLocalDirectoryURL(target); !v.Granted() {
			return v
		}
	}
	return m.evaluatePoliciesURL(ctx, target, eval.LoadPending)
}

// EvaluateSandboxURL checks the caller's masks against the target's
// locality: a remote target needs the remote flag allowed, a local
// target needs the active sandbox allowed.
func (m *Manager) EvaluateSandboxURL(target urlinfo.Info, allowedRemote, allowedLocal Sandbox) Verdict {
	if !target.IsLocal() && !SandboxRemote.In(allowedRemote) {
		return VerdictDeniedRemoteSandbox
	}
	if target.IsLocal() && !m.SandboxType().In(allowedLocal) {
		return VerdictDeniedLocalSandbox
	}
	return VerdictAllowed
}

// EvaluateLocalDirectoryURL confines local targets to the origin
// document's directory tree. Non-local targets or a non-local origin
// pass vacuously.
func (m *Manager) EvaluateLocalDirectoryURL(target urlinfo.Info) Verdict {
	if !target.IsLocal() || !m.origin.IsLocal() {
		return VerdictAllowed
	}
	if !target.WithinDirectory(m.origin.Directory()) {
		return VerdictDeniedLocalDirectory
	}
	return VerdictAllowed
}

// EvaluatePoliciesURL checks cross-domain policy files for a remote
// target. Local targets and the origin's own host pass without any
// policy.
func (m *Manager) EvaluatePoliciesURL(ctx context.Context, target urlinfo.Info, loadPending bool) Verdict {
	v := m.evaluatePoliciesURL(ctx, target, loadPending)
	m.observeEvaluation(target, v)
	return v
}

func (m *Manager) evaluatePoliciesURL(ctx context.Context, target urlinfo.Info, loadPending bool) Verdict {
	if target.IsLocal() || m.origin.SameHost(target) {
		return VerdictAllowed
	}
	for _, f := range m.searchURLPolicyFiles(ctx, target, loadPending) {
		if f.AllowsAccessFrom(m.origin, target) {
			return VerdictAllowed
		}
	}
	return VerdictDeniedCrossDomainPolicy
}

// EvaluateHeader decides whether the origin may send header along a
// request to target, walking the same candidate files as the URL walk
// but over their header grants.
func (m *Manager) EvaluateHeader(ctx context.Context, target urlinfo.Info, header string, loadPending bool) Verdict {
	v := m.evaluateHeader(ctx, target, header, loadPending)
	m.observeHeaderEvaluation(target, header, v)
	return v
}

func (m *Manager) evaluateHeader(ctx context.Context, target urlinfo.Info, header string, loadPending bool) Verdict {
	if target.IsLocal() || m.origin.SameHost(target) {
		return VerdictAllowed
	}
	for _, f := range m.searchURLPolicyFiles(ctx, target, loadPending) {
		if f.AllowsHTTPRequestHeaderFrom(m.origin, target, header) {
			return VerdictAllowed
		}
	}
	return VerdictDeniedCrossDomainPolicy
}

// searchURLPolicyFiles collects the files consulted for target: the
// host master plus, when its meta-policy admits more, every other
// loaded file for the host. With loadPending set, pending files are
// driven through their load first; otherwise only what is already
// loaded counts.
func (m *Manager) searchURLPolicyFiles(ctx context.Context, target urlinfo.Info, loadPending bool) []*URLPolicyFile {
	master := m.addURLPolicyFile(target.GoToPath(MasterPolicyPath))
	if loadPending {
		m.ensureLoaded(ctx, master)
	}
	if !master.IsLoaded() || !master.IsValid() {
		return nil
	}
	sc := master.SiteControl()
	if sc == nil {
		return nil
	}
	switch sc.PermittedPolicies() {
	case MetaPolicyNone, MetaPolicyNoneThisResponse:
		return nil
	}

	files := []*URLPolicyFile{master}
	if sc.PermittedPolicies() == MetaPolicyMasterOnly {
		return files
	}

	host := target.Host()
	if loadPending {
		for _, f := range m.pendingFiles(host) {
			m.ensureLoaded(ctx, f)
		}
	}
	for _, f := range m.loadedFiles(host) {
		if f != master {
			files = append(files, f)
		}
	}
	return files
}

func (m *Manager) observeEvaluation(target urlinfo.Info, v Verdict) {
	m.logger.Debug("url evaluated",
		zap.String("origin", m.origin.String()),
		zap.String("target", target.String()),
		zap.Stringer("verdict", v))
	m.metrics.RecordEvaluation(string(v))
	m.emit(Event{
		Kind:    EventEvaluation,
		Origin:  m.origin.String(),
		Target:  target.String(),
		Verdict: v,
	})
}

func (m *Manager) observeHeaderEvaluation(target urlinfo.Info, header string, v Verdict) {
	m.logger.Debug("header evaluated",
		zap.String("origin", m.origin.String()),
		zap.String("target", target.String()),
		zap.String("header", header),
		zap.Stringer("verdict", v))
	m.metrics.RecordEvaluation(string(v))
	m.emit(Event{
		Kind:    EventHeaderEvaluation,
		Origin:  m.origin.String(),
		Target:  target.String(),
		Header:  header,
		Verdict: v,
	})
}

func (m *Manager) emit(e Event) {
	if m.events == nil {
		return
	}
	e.ID = id.NewEventID()
	e.Time = time.Now().UTC()
	m.events.Publish(e)
}
