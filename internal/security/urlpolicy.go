package security

import (
	"context"
	"io"
	"mime"
	"strings"

	"go.uber.org/zap"

	"github.com/Fenveireth/lightspark/internal/stream"
	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// PolicyContentType is the media type a by-content-type meta-policy
// demands of non-master files.
const PolicyContentType = "text/x-cross-domain-policy"

// URLPolicyFile is a policy file fetched over HTTP, HTTPS or FTP. It
// adds master-file detection, redirect rules and header grants to the
// shared PolicyFile state.
type URLPolicyFile struct {
	PolicyFile

	originalURL urlinfo.Info
	subtype     Subtype

	headers     []AllowHTTPRequestHeadersFrom
	contentType string
	digest      string

	mgr *Manager
}

func newURLPolicyFile(mgr *Manager, u urlinfo.Info) *URLPolicyFile {
	return &URLPolicyFile{
		PolicyFile:  newPolicyFile(KindURL, u),
		originalURL: u,
		subtype:     subtypeForScheme(u.Scheme()),
		mgr:         mgr,
	}
}

// OriginalURL returns the URL first requested, before any redirect.
func (f *URLPolicyFile) OriginalURL() urlinfo.Info { return f.originalURL }

// Subtype returns the scheme-derived subtype.
func (f *URLPolicyFile) Subtype() Subtype { return f.subtype }

// IsMaster reports whether the original request URL is the well-known
// master location for its domain. Redirects never change the answer, so
// a redirect onto /crossdomain.xml cannot claim master status.
func (f *URLPolicyFile) IsMaster() bool {
	return !f.originalURL.IsZero() && f.originalURL.Path() == MasterPolicyPath
}

// MasterPolicyFile resolves the file controlling this one: itself for a
// master, otherwise the domain master derived from the original URL,
// registered and loaded on demand.
func (f *URLPolicyFile) MasterPolicyFile(ctx context.Context) *URLPolicyFile {
	if f.IsMaster() {
		return f
	}
	master := f.mgr.addURLPolicyFile(f.originalURL.GoToPath(MasterPolicyPath))
	f.mgr.ensureLoaded(ctx, master)
	return master
}

// masterMeta is the controlling master's effective directive. An
// unavailable or invalid master does not gate the load; evaluation
// consults no files for the host without a valid master anyway.
func (f *URLPolicyFile) masterMeta(ctx context.Context) MetaPolicy {
	master := f.MasterPolicyFile(ctx)
	if !master.IsLoaded() || !master.IsValid() {
		return MetaPolicyAll
	}
	sc := master.SiteControl()
	if sc == nil {
		return MetaPolicyAll
	}
	return sc.PermittedPolicies()
}

// load runs the fetch+parse pipeline. The manager drives it exactly
// once per file; every path leaves the file in its terminal state.
func (f *URLPolicyFile) load(ctx context.Context) {
	u := f.URL()
	if u.IsZero() {
		return // invalid since construction, nothing to fetch
	}

	meta := MetaPolicyAll
	if !f.IsMaster() {
		meta = f.masterMeta(ctx)
		switch meta {
		case MetaPolicyNone, MetaPolicyNoneThisResponse, MetaPolicyMasterOnly:
			f.ignore.Store(true)
			return
		case MetaPolicyByFTPFilename:
			if f.subtype == SubtypeFTP && u.Filename() != MasterPolicyFilename {
				f.ignore.Store(true)
				return
			}
		}
	}

	resp, err := f.mgr.fetch.Open(ctx, u)
	if err != nil {
		f.valid.Store(false)
		f.mgr.metrics.RecordFetch(u.Scheme(), "error")
		f.mgr.logger.Debug("policy fetch failed",
			zap.String("url", u.String()), zap.Error(err))
		return
	}
	f.mgr.metrics.RecordFetch(u.Scheme(), "ok")
	defer resp.Body.Close()

	if resp.Redirected && !resp.EffectiveURL.IsZero() && !resp.EffectiveURL.Equal(u) {
		eff := resp.EffectiveURL
		f.setURL(eff)
		if f.IsMaster() && eff.Path() != MasterPolicyPath {
			// A master redirected off the well-known location loses
			// master trust entirely.
			f.valid.Store(false)
			return
		}
		if !f.IsMaster() && eff.Host() != u.Host() {
			f.valid.Store(false)
			return
		}
	}

	if !f.IsMaster() && meta == MetaPolicyByContentType &&
		(f.subtype == SubtypeHTTP || f.subtype == SubtypeHTTPS) &&
		mediaType(resp.ContentType) != PolicyContentType {
		f.ignore.Store(true)
		return
	}
	f.contentType = resp.ContentType

	buf := stream.New(f.mgr.bufferSize)
	pump := make(chan struct{})
	go func() {
		defer close(pump)
		_, err := io.Copy(buf, resp.Body)
		buf.CloseWithError(err)
	}()

	doc, digest, perr := parsePolicy(buf)
	// Unblock the producer if the parse stopped before end of stream.
	io.Copy(io.Discard, buf)
	<-pump

	f.digest = digest
	if perr != nil {
		f.valid.Store(false)
		f.mgr.logger.Debug("policy parse failed",
			zap.String("url", f.URL().String()), zap.Error(perr))
		return
	}

	f.apply(doc)
}

// apply turns the parse result into this file's grants and, for a
// master, its site control.
func (f *URLPolicyFile) apply(doc *policyDocument) {
	if f.IsMaster() {
		declared := ""
		if doc.siteControl != nil {
			declared = doc.siteControl.permitted
		}
		f.siteControl = NewSiteControl(f.kind, declared)
		switch f.siteControl.PermittedPolicies() {
		case MetaPolicyNone, MetaPolicyNoneThisResponse:
			// The master voids itself; its grants parse but never apply.
			f.ignore.Store(true)
		}
	} else if doc.siteControl != nil {
		f.mgr.logger.Debug("ignoring site-control outside master file",
			zap.String("url", f.URL().String()))
	}

	for _, e := range doc.access {
		var ports []PortRange
		if e.toPorts != "" {
			var bad []string
			ports, bad = ParsePortRanges(e.toPorts)
			if len(bad) > 0 {
				f.mgr.logger.Warn("skipping malformed to-ports segments",
					zap.String("url", f.URL().String()), zap.Strings("segments", bad))
			}
		}
		f.access = append(f.access, NewAllowAccessFrom(f.kind, f.subtype, e.domain, ports, e.secure))
	}
	for _, e := range doc.headers {
		f.headers = append(f.headers, NewAllowHTTPRequestHeadersFrom(e.domain, e.headers, e.secure))
	}
}

// AllowsAccessFrom reports whether some grant in this file authorizes
// origin to reach target. Only valid, non-ignored, loaded files grant
// anything.
func (f *URLPolicyFile) AllowsAccessFrom(origin, target urlinfo.Info) bool {
	if !f.IsLoaded() || !f.IsValid() || f.IsIgnored() {
		return false
	}
	for _, g := range f.access {
		if g.Allows(origin, target) {
			return true
		}
	}
	return false
}

// AllowsHTTPRequestHeaderFrom reports whether origin may send header
// along a request to target under this file's header grants.
func (f *URLPolicyFile) AllowsHTTPRequestHeaderFrom(origin, target urlinfo.Info, header string) bool {
	if !f.IsLoaded() || !f.IsValid() || f.IsIgnored() {
		return false
	}
	for _, g := range f.headers {
		if g.AllowsHeader(origin, target, header) {
			return true
		}
	}
	return false
}

// HeaderGrants returns a copy of the header grants, nil before load.
func (f *URLPolicyFile) HeaderGrants() []AllowHTTPRequestHeadersFrom {
	if !f.IsLoaded() {
		return nil
	}
	return append([]AllowHTTPRequestHeadersFrom(nil), f.headers...)
}

// Digest returns the BLAKE2b-256 hex digest of the fetched body, empty
// until a body was read.
func (f *URLPolicyFile) Digest() string {
	if !f.IsLoaded() {
		return ""
	}
	return f.digest
}

// ContentType returns the media type the transport reported for the
// body, empty until loaded.
func (f *URLPolicyFile) ContentType() string {
	if !f.IsLoaded() {
		return ""
	}
	return f.contentType
}

func mediaType(ct string) string {
	mt, _, err := mime.ParseMediaType(ct)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(ct))
	}
	return mt
}
