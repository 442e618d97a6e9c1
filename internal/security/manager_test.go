package security

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Fenveireth/lightspark/internal/transport"
	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// recordingSink captures every published event for inspection.
type recordingSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *recordingSink) Publish(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
}

func (s *recordingSink) byKind(k EventKind) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if e.Kind == k {
			out = append(out, e)
		}
	}
	return out
}

func remoteEval() Evaluation {
	return Evaluation{
		LoadPending:   true,
		AllowedRemote: SandboxRemote,
		AllowedLocal:  LocalSandboxes,
	}
}

func TestNewManagerDefaultSandbox(t *testing.T) {
	remote := NewManager(urlinfo.MustParse("http://b.com/page"), Options{})
	assert.Equal(t, SandboxRemote, remote.SandboxType())

	local := NewManager(urlinfo.MustParse("file:///home/user/app/index.swf"), Options{})
	assert.Equal(t, SandboxLocalWithFile, local.SandboxType())

	forced := NewManager(urlinfo.MustParse("file:///home/user/app/index.swf"),
		Options{Sandbox: SandboxLocalTrusted})
	assert.Equal(t, SandboxLocalTrusted, forced.SandboxType())
}

func TestAddPolicyFileIdempotent(t *testing.T) {
	m := NewManager(urlinfo.MustParse("http://b.com/page"), Options{Fetch: transport.NewMemory()})

	f1 := m.AddPolicyFile("https://a.com/crossdomain.xml")
	f2 := m.AddPolicyFile("https://a.com/crossdomain.xml")
	require.NotNil(t, f1)
	assert.Same(t, f1, f2)

	assert.Same(t, f1, m.PolicyFileByURL(urlinfo.MustParse("https://a.com/crossdomain.xml")))
	assert.Nil(t, m.PolicyFileByURL(urlinfo.MustParse("https://a.com/other.xml")))
	assert.Len(t, m.PolicyFiles(), 1)
}

func TestAddPolicyFileLocalURL(t *testing.T) {
	m := NewManager(urlinfo.MustParse("file:///home/user/app/index.swf"), Options{})
	assert.Nil(t, m.AddPolicyFile("file:///home/user/app/crossdomain.xml"),
		"local content publishes no policy files")
}

func TestLoadMovesFileBetweenRegistries(t *testing.T) {
	mem := transport.NewMemory()
	mem.Serve("https://a.com/crossdomain.xml", PolicyContentType, policyAllowB)
	m := NewManager(urlinfo.MustParse("http://b.com/page"), Options{Fetch: mem})

	f := m.AddPolicyFile("https://a.com/crossdomain.xml")
	require.Len(t, m.pendingFiles("a.com"), 1)
	require.Empty(t, m.loadedFiles("a.com"))

	require.NoError(t, m.LoadPolicyFile(context.Background(), f))
	assert.Empty(t, m.pendingFiles("a.com"))
	require.Len(t, m.loadedFiles("a.com"), 1)
	assert.Same(t, f, m.loadedFiles("a.com")[0])

	// Still findable after the move.
	assert.Same(t, f, m.PolicyFileByURL(urlinfo.MustParse("https://a.com/crossdomain.xml")))
}

func TestLoadPolicyFileOnce(t *testing.T) {
	mem := transport.NewMemory()
	mem.Serve("https://a.com/crossdomain.xml", PolicyContentType, policyAllowB)
	m := NewManager(urlinfo.MustParse("http://b.com/page"), Options{Fetch: mem})

	f := m.AddPolicyFile("https://a.com/crossdomain.xml")
	require.NoError(t, m.LoadPolicyFile(context.Background(), f))
	assert.ErrorIs(t, m.LoadPolicyFile(context.Background(), f), ErrAlreadyLoaded)
	assert.Equal(t, 1, mem.Fetches("https://a.com/crossdomain.xml"))

	assert.NoError(t, m.LoadPolicyFile(context.Background(), nil))
}

func TestEvaluateRemoteSandboxMask(t *testing.T) {
	mem := transport.NewMemory()
	m := NewManager(urlinfo.MustParse("http://b.com/page"), Options{Fetch: mem})

	eval := remoteEval()
	eval.AllowedRemote = 0
	v := m.EvaluateURL(context.Background(), urlinfo.MustParse("https://a.com/data"), eval)
	assert.Equal(t, VerdictDeniedRemoteSandbox, v)
	assert.False(t, v.Granted())
	assert.Equal(t, 0, mem.Fetches("https://a.com/crossdomain.xml"),
		"sandbox denial must short-circuit before any policy fetch")
}

func TestEvaluateLocalSandboxMask(t *testing.T) {
	m := NewManager(urlinfo.MustParse("file:///home/user/app/index.swf"), Options{})
	target := urlinfo.MustParse("file:///home/user/app/data.bin")

	eval := remoteEval()
	eval.AllowedLocal = SandboxLocalTrusted
	assert.Equal(t, VerdictDeniedLocalSandbox,
		m.EvaluateURL(context.Background(), target, eval))

	eval.AllowedLocal = LocalSandboxes
	assert.Equal(t, VerdictAllowed,
		m.EvaluateURL(context.Background(), target, eval))

	// Reclassifying the content changes the answer.
	m.SetSandboxType(SandboxLocalTrusted)
	eval.AllowedLocal = SandboxLocalTrusted
	assert.Equal(t, VerdictAllowed,
		m.EvaluateURL(context.Background(), target, eval))
}

func TestEvaluateLocalDirectoryRestriction(t *testing.T) {
	m := NewManager(urlinfo.MustParse("file:///home/user/app/index.swf"), Options{})

	eval := remoteEval()
	eval.RestrictLocalDirectory = true

	inside := urlinfo.MustParse("file:///home/user/app/assets/data.bin")
	assert.Equal(t, VerdictAllowed, m.EvaluateURL(context.Background(), inside, eval))

	outside := urlinfo.MustParse("file:///etc/passwd")
	assert.Equal(t, VerdictDeniedLocalDirectory, m.EvaluateURL(context.Background(), outside, eval))

	sibling := urlinfo.MustParse("file:///home/user/app2/data.bin")
	assert.Equal(t, VerdictDeniedLocalDirectory, m.EvaluateURL(context.Background(), sibling, eval))

	// Without the restriction the same target passes.
	eval.RestrictLocalDirectory = false
	assert.Equal(t, VerdictAllowed, m.EvaluateURL(context.Background(), outside, eval))
}

func TestEvaluateSameHostNeedsNoPolicy(t *testing.T) {
	mem := transport.NewMemory()
	m := NewManager(urlinfo.MustParse("http://a.com/page"), Options{Fetch: mem})

	v := m.EvaluateURL(context.Background(), urlinfo.MustParse("http://a.com:80/data"), remoteEval())
	assert.Equal(t, VerdictAllowed, v)
	assert.Equal(t, 0, mem.Fetches("http://a.com/crossdomain.xml"))
}

func TestEvaluateMasterGrant(t *testing.T) {
	mem := transport.NewMemory()
	mem.Serve("https://a.com/crossdomain.xml", PolicyContentType, policyAllowB)
	target := urlinfo.MustParse("https://a.com/data")

	// The granted origin passes; the master's own grants count even
	// without a site-control element.
	granted := NewManager(urlinfo.MustParse("http://b.com/page"), Options{Fetch: mem})
	assert.Equal(t, VerdictAllowed,
		granted.EvaluateURL(context.Background(), target, remoteEval()))

	// Any other origin is refused by the same policy.
	denied := NewManager(urlinfo.MustParse("http://c.com/page"), Options{Fetch: mem})
	v := denied.EvaluateURL(context.Background(), target, remoteEval())
	assert.Equal(t, VerdictDeniedCrossDomainPolicy, v)
	assert.Equal(t, "no cross-domain policy grants access", v.Reason())
}

func TestEvaluateWithoutLoadPending(t *testing.T) {
	mem := transport.NewMemory()
	mem.Serve("https://a.com/crossdomain.xml", PolicyContentType, policyAllowB)
	m := NewManager(urlinfo.MustParse("http://b.com/page"), Options{Fetch: mem})
	target := urlinfo.MustParse("https://a.com/data")

	eval := remoteEval()
	eval.LoadPending = false
	assert.Equal(t, VerdictDeniedCrossDomainPolicy,
		m.EvaluateURL(context.Background(), target, eval),
		"an unloaded policy grants nothing when loads are deferred")
	assert.Equal(t, 0, mem.Fetches("https://a.com/crossdomain.xml"))

	// The evaluation registered the master; loading it flips the verdict.
	master := m.PolicyFileByURL(urlinfo.MustParse("https://a.com/crossdomain.xml"))
	require.NotNil(t, master)
	require.NoError(t, m.LoadPolicyFile(context.Background(), master))
	assert.Equal(t, VerdictAllowed, m.EvaluateURL(context.Background(), target, eval))
}

func TestEvaluateMetaNoneDeniesAll(t *testing.T) {
	mem := transport.NewMemory()
	mem.Serve("https://a.com/crossdomain.xml", PolicyContentType, masterBody("none", policyAllowB))
	m := NewManager(urlinfo.MustParse("http://b.com/page"), Options{Fetch: mem})

	assert.Equal(t, VerdictDeniedCrossDomainPolicy,
		m.EvaluateURL(context.Background(), urlinfo.MustParse("https://a.com/data"), remoteEval()))
}

func TestEvaluateMetaAllAdmitsSubPolicies(t *testing.T) {
	mem := transport.NewMemory()
	mem.Serve("https://a.com/crossdomain.xml", PolicyContentType, masterBody("all", ""))
	mem.Serve("https://a.com/sub/policy.xml", PolicyContentType, policyAllowC)
	m := NewManager(urlinfo.MustParse("http://c.com/page"), Options{Fetch: mem})
	target := urlinfo.MustParse("https://a.com/data")

	// Nothing grants c.com until the sub-policy is registered.
	assert.Equal(t, VerdictDeniedCrossDomainPolicy,
		m.EvaluateURL(context.Background(), target, remoteEval()))

	m.AddPolicyFile("https://a.com/sub/policy.xml")
	assert.Equal(t, VerdictAllowed,
		m.EvaluateURL(context.Background(), target, remoteEval()))
	assert.Equal(t, 1, mem.Fetches("https://a.com/crossdomain.xml"),
		"the master loads once across evaluations")
}

func TestEvaluateMasterOnlyShunsSubPolicies(t *testing.T) {
	mem := transport.NewMemory()
	mem.Serve("https://a.com/crossdomain.xml", PolicyContentType, masterBody("master-only", ""))
	mem.Serve("https://a.com/sub/policy.xml", PolicyContentType, policyAllowC)
	m := NewManager(urlinfo.MustParse("http://c.com/page"), Options{Fetch: mem})

	m.AddPolicyFile("https://a.com/sub/policy.xml")
	assert.Equal(t, VerdictDeniedCrossDomainPolicy,
		m.EvaluateURL(context.Background(), urlinfo.MustParse("https://a.com/data"), remoteEval()))
	assert.Equal(t, 0, mem.Fetches("https://a.com/sub/policy.xml"))
}

func TestEvaluateFetchFailure(t *testing.T) {
	mem := transport.NewMemory()
	mem.Fail("https://a.com/crossdomain.xml", errors.New("connection refused"))
	m := NewManager(urlinfo.MustParse("http://b.com/page"), Options{Fetch: mem})

	assert.Equal(t, VerdictDeniedCrossDomainPolicy,
		m.EvaluateURL(context.Background(), urlinfo.MustParse("https://a.com/data"), remoteEval()))

	master := m.PolicyFileByURL(urlinfo.MustParse("https://a.com/crossdomain.xml"))
	require.NotNil(t, master)
	assert.True(t, master.IsLoaded())
	assert.False(t, master.IsValid())
}

func TestEvaluateHeader(t *testing.T) {
	mem := transport.NewMemory()
	body := masterBody("", `<allow-http-request-headers-from domain="b.com" headers="X-Custom, X-Other"/>`)
	mem.Serve("https://a.com/crossdomain.xml", PolicyContentType, body)
	m := NewManager(urlinfo.MustParse("http://b.com/page"), Options{Fetch: mem})
	target := urlinfo.MustParse("https://a.com/data")

	assert.Equal(t, VerdictAllowed,
		m.EvaluateHeader(context.Background(), target, "X-Custom", true))
	assert.Equal(t, VerdictAllowed,
		m.EvaluateHeader(context.Background(), target, "x-OTHER", true))
	assert.Equal(t, VerdictDeniedCrossDomainPolicy,
		m.EvaluateHeader(context.Background(), target, "Authorization", true))

	// Same-host and local targets need no grant at all.
	assert.Equal(t, VerdictAllowed,
		m.EvaluateHeader(context.Background(), urlinfo.MustParse("http://b.com/x"), "Anything", false))
}

func TestConcurrentEvaluationsLoadOnce(t *testing.T) {
	mem := transport.NewMemory()
	mem.Serve("https://a.com/crossdomain.xml", PolicyContentType, policyAllowB)
	m := NewManager(urlinfo.MustParse("http://b.com/page"), Options{Fetch: mem})
	target := urlinfo.MustParse("https://a.com/data")

	const workers = 8
	verdicts := make([]Verdict, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			verdicts[i] = m.EvaluateURL(context.Background(), target, remoteEval())
		}(i)
	}
	wg.Wait()

	for i, v := range verdicts {
		assert.Equal(t, VerdictAllowed, v, "worker %d", i)
	}
	assert.Equal(t, 1, mem.Fetches("https://a.com/crossdomain.xml"))
	assert.Len(t, m.loadedFiles("a.com"), 1)
}

func TestExactSettingsLatch(t *testing.T) {
	m := NewManager(urlinfo.MustParse("http://b.com/page"), Options{})
	assert.True(t, m.ExactSettings())
	assert.False(t, m.ExactSettingsLocked())

	m.SetExactSettings(false, false)
	assert.False(t, m.ExactSettings())
	assert.False(t, m.ExactSettingsLocked())

	m.SetExactSettings(true, true)
	assert.True(t, m.ExactSettings())
	assert.True(t, m.ExactSettingsLocked())

	// Locked: later writes are silently ignored, locking included.
	m.SetExactSettings(false, false)
	assert.True(t, m.ExactSettings())
	m.SetExactSettings(false, true)
	assert.True(t, m.ExactSettings())
	assert.True(t, m.ExactSettingsLocked())
}

func TestEventStream(t *testing.T) {
	mem := transport.NewMemory()
	mem.Serve("https://a.com/crossdomain.xml", PolicyContentType, policyAllowB)
	sink := &recordingSink{}
	m := NewManager(urlinfo.MustParse("http://b.com/page"), Options{Fetch: mem, Events: sink})
	target := urlinfo.MustParse("https://a.com/data")

	m.EvaluateURL(context.Background(), target, remoteEval())
	m.EvaluateHeader(context.Background(), target, "X-Custom", false)
	m.SetSandboxType(SandboxLocalTrusted)
	m.SetSandboxType(SandboxLocalTrusted) // unchanged, no event

	loads := sink.byKind(EventPolicyLoad)
	require.Len(t, loads, 1)
	assert.Equal(t, "https://a.com/crossdomain.xml", loads[0].PolicyURL)
	assert.Equal(t, "valid", loads[0].Outcome)
	assert.Len(t, loads[0].Digest, 64)
	assert.NotEmpty(t, loads[0].ID)
	assert.False(t, loads[0].Time.IsZero())

	evals := sink.byKind(EventEvaluation)
	require.Len(t, evals, 1)
	assert.Equal(t, VerdictAllowed, evals[0].Verdict)
	assert.Equal(t, "http://b.com/page", evals[0].Origin)

	headerEvals := sink.byKind(EventHeaderEvaluation)
	require.Len(t, headerEvals, 1)
	assert.Equal(t, "X-Custom", headerEvals[0].Header)

	changes := sink.byKind(EventSandboxChange)
	require.Len(t, changes, 1)
	assert.Equal(t, "localTrusted", changes[0].Sandbox)
}

func TestEvaluateSandboxMaskHelper(t *testing.T) {
	m := NewManager(urlinfo.MustParse("http://b.com/page"), Options{})
	assert.True(t, m.EvaluateSandbox(SandboxRemote))
	assert.True(t, m.EvaluateSandbox(AllSandboxes))
	assert.False(t, m.EvaluateSandbox(LocalSandboxes))
}
