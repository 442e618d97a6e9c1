package security

import (
	"strings"

	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

// AllowAccessFrom is one cross-domain access grant: a source-domain
// pattern, optional port ranges (socket kind only) and a secure flag.
// Immutable once built during parse.
type AllowAccessFrom struct {
	kind   Kind
	domain string
	ports  []PortRange
	secure bool
}

// NewAllowAccessFrom builds a grant for a file of the given kind and
// subtype. A nil secure pointer takes the subtype default: true for
// HTTPS, false otherwise.
func NewAllowAccessFrom(kind Kind, subtype Subtype, domain string, ports []PortRange, secure *bool) AllowAccessFrom {
	g := AllowAccessFrom{kind: kind, domain: strings.TrimSpace(domain), ports: ports}
	if secure != nil {
		g.secure = *secure
	} else {
		g.secure = subtype == SubtypeHTTPS
	}
	return g
}

// Domain returns the source-domain pattern.
func (g AllowAccessFrom) Domain() string { return g.domain }

// Secure reports whether the grant extends to secure-transport targets.
func (g AllowAccessFrom) Secure() bool { return g.secure }

// PortRanges returns a copy of the grant's port ranges.
func (g AllowAccessFrom) PortRanges() []PortRange {
	return append([]PortRange(nil), g.ports...)
}

// Allows reports whether this grant authorizes origin to reach target.
// Port ranges are consulted only for socket-kind files; an HTTPS target
// requires the secure flag.
func (g AllowAccessFrom) Allows(origin, target urlinfo.Info) bool {
	if !urlinfo.MatchDomain(g.domain, origin.Host()) {
		return false
	}
	if g.kind == KindSocket && !g.matchesPort(target.EffectivePort()) {
		return false
	}
	if target.Scheme() == urlinfo.SchemeHTTPS && !g.secure {
		return false
	}
	return true
}

func (g AllowAccessFrom) matchesPort(port int) bool {
	for _, r := range g.ports {
		if r.Matches(port) {
			return true
		}
	}
	return false
}

// AllowHTTPRequestHeadersFrom is one grant permitting a source domain
// to send the listed request headers along with requests to this
// file's host. Immutable once built during parse.
type AllowHTTPRequestHeadersFrom struct {
	domain  string
	headers []string
	secure  bool
}

// NewAllowHTTPRequestHeadersFrom builds a header grant. Header names
// are folded to lower case; a nil secure pointer defaults to true.
func NewAllowHTTPRequestHeadersFrom(domain string, headers []string, secure *bool) AllowHTTPRequestHeadersFrom {
	g := AllowHTTPRequestHeadersFrom{domain: strings.TrimSpace(domain), secure: true}
	if secure != nil {
		g.secure = *secure
	}
	for _, h := range headers {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			g.headers = append(g.headers, h)
		}
	}
	return g
}

// Domain returns the source-domain pattern.
func (g AllowHTTPRequestHeadersFrom) Domain() string { return g.domain }

// Headers returns a copy of the granted header names, lowercased.
func (g AllowHTTPRequestHeadersFrom) Headers() []string {
	return append([]string(nil), g.headers...)
}

// Secure reports whether the grant extends to secure-transport targets.
func (g AllowHTTPRequestHeadersFrom) Secure() bool { return g.secure }

// AllowsHeader reports whether origin may send header to target under
// this grant. Comparison is case-insensitive; a "*" entry covers every
// header.
func (g AllowHTTPRequestHeadersFrom) AllowsHeader(origin, target urlinfo.Info, header string) bool {
	if !urlinfo.MatchDomain(g.domain, origin.Host()) {
		return false
	}
	if target.Scheme() == urlinfo.SchemeHTTPS && !g.secure {
		return false
	}
	header = strings.ToLower(strings.TrimSpace(header))
	for _, h := range g.headers {
		if h == "*" || h == header {
			return true
		}
	}
	return false
}
