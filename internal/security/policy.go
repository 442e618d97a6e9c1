package security

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/Fenveireth/lightspark/internal/shared/id"
	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// Kind tags the closed set of policy-file transports. Only URL files
// are implemented; the socket kind is reserved.
type Kind uint8

const (
	KindURL Kind = iota
	KindSocket
)

func (k Kind) String() string {
	if k == KindSocket {
		return "socket"
	}
	return "url"
}

// Subtype narrows a URL-kind file by scheme.
type Subtype uint8

const (
	SubtypeNone Subtype = iota
	SubtypeHTTP
	SubtypeHTTPS
	SubtypeFTP
)

func (s Subtype) String() string {
	switch s {
	case SubtypeHTTP:
		return "http"
	case SubtypeHTTPS:
		return "https"
	case SubtypeFTP:
		return "ftp"
	}
	return "none"
}

func subtypeForScheme(scheme string) Subtype {
	switch scheme {
	case urlinfo.SchemeHTTP:
		return SubtypeHTTP
	case urlinfo.SchemeHTTPS:
		return SubtypeHTTPS
	case urlinfo.SchemeFTP:
		return SubtypeFTP
	}
	return SubtypeNone
}

// MasterPolicyFilename is the well-known basename of a master policy
// file; MasterPolicyPath is its required location at the domain root.
const (
	MasterPolicyFilename = "crossdomain.xml"
	MasterPolicyPath     = "/" + MasterPolicyFilename
)

// ErrAlreadyLoaded reports a second load attempt on a file that only
// loads once.
var ErrAlreadyLoaded = errors.New("security: policy file already loaded")

// Load states, single forward transition.
const (
	stateUnloaded int32 = iota
	stateLoading
	stateLoaded
)

// PolicyFile is the state shared by every policy-file kind: identity,
// load lifecycle, validity, ignore flag, site control and access
// grants. Grant fields are written once during load and published to
// readers by the loaded transition; the accessors return nothing until
// then.
type PolicyFile struct {
	id   id.FileID
	kind Kind

	url atomic.Pointer[urlinfo.Info]

	state atomic.Int32
	done  chan struct{}

	valid  atomic.Bool
	ignore atomic.Bool

	siteControl *SiteControl
	access      []AllowAccessFrom
}

func newPolicyFile(kind Kind, u urlinfo.Info) PolicyFile {
	f := PolicyFile{id: id.NewFileID(), kind: kind, done: make(chan struct{})}
	f.url.Store(&u)
	f.valid.Store(!u.IsZero())
	return f
}

// ID returns the file's stable identifier.
func (f *PolicyFile) ID() id.FileID { return f.id }

// Kind returns the transport kind tag.
func (f *PolicyFile) Kind() Kind { return f.kind }

// URL returns the file's current fetch URL; after a redirect this is
// the effective URL the bytes came from.
func (f *PolicyFile) URL() urlinfo.Info { return *f.url.Load() }

func (f *PolicyFile) setURL(u urlinfo.Info) { f.url.Store(&u) }

// beginLoad wins the single unloaded to loading transition.
func (f *PolicyFile) beginLoad() bool {
	return f.state.CompareAndSwap(stateUnloaded, stateLoading)
}

// finishLoad publishes the loaded state. Grant fields written before
// this call are visible to every reader that observes IsLoaded.
func (f *PolicyFile) finishLoad() {
	f.state.Store(stateLoaded)
	close(f.done)
}

// IsLoaded reports whether load completed, successfully or not.
func (f *PolicyFile) IsLoaded() bool { return f.state.Load() == stateLoaded }

// WaitLoaded blocks until load completes or ctx is done.
func (f *PolicyFile) WaitLoaded(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// IsValid reports whether the URL parsed, the fetch succeeded and the
// document parsed.
func (f *PolicyFile) IsValid() bool { return f.valid.Load() }

// IsIgnored reports whether a controlling master forbids this file.
func (f *PolicyFile) IsIgnored() bool { return f.ignore.Load() }

// SiteControl returns the file's meta-policy: nil before load and for
// non-master files.
func (f *PolicyFile) SiteControl() *SiteControl {
	if !f.IsLoaded() {
		return nil
	}
	return f.siteControl
}

// AccessGrants returns a copy of the file's access grants, nil before
// load.
func (f *PolicyFile) AccessGrants() []AllowAccessFrom {
	if !f.IsLoaded() {
		return nil
	}
	return append([]AllowAccessFrom(nil), f.access...)
}
