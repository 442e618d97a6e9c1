package security

import (
	"testing"

	"github.com/Fenveireth/lightspark/internal/urlinfo"
)

func boolPtr(b bool) *bool { return &b }

func TestAccessGrantDomainMatching(t *testing.T) {
	g := NewAllowAccessFrom(KindURL, SubtypeHTTP, "*.example.com", nil, nil)
	target := urlinfo.MustParse("http://data.example.com/feed")

	allowed := []string{
		"http://foo.example.com/page",
		"http://example.com/page",
		"http://a.b.example.com/page",
		"http://FOO.EXAMPLE.COM/page",
	}
	for _, raw := range allowed {
		if !g.Allows(urlinfo.MustParse(raw), target) {
			t.Errorf("grant rejected origin %s", raw)
		}
	}

	denied := []string{
		"http://evil.com/page",
		"http://notexample.com/page",
		"http://example.com.evil.com/page",
	}
	for _, raw := range denied {
		if g.Allows(urlinfo.MustParse(raw), target) {
			t.Errorf("grant accepted origin %s", raw)
		}
	}
}

func TestAccessGrantSecureDefaults(t *testing.T) {
	origin := urlinfo.MustParse("http://b.com/page")
	httpsTarget := urlinfo.MustParse("https://a.com/data")
	httpTarget := urlinfo.MustParse("http://a.com/data")

	// A grant in an HTTPS-served policy defaults to secure and reaches
	// HTTPS targets.
	fromHTTPS := NewAllowAccessFrom(KindURL, SubtypeHTTPS, "b.com", nil, nil)
	if !fromHTTPS.Allows(origin, httpsTarget) {
		t.Error("HTTPS-policy grant rejected HTTPS target")
	}
	if !fromHTTPS.Secure() {
		t.Error("HTTPS-policy grant not secure by default")
	}

	// A grant in a plain-HTTP policy defaults to insecure: it still covers
	// plain targets but not HTTPS ones.
	fromHTTP := NewAllowAccessFrom(KindURL, SubtypeHTTP, "b.com", nil, nil)
	if !fromHTTP.Allows(origin, httpTarget) {
		t.Error("HTTP-policy grant rejected HTTP target")
	}
	if fromHTTP.Allows(origin, httpsTarget) {
		t.Error("HTTP-policy grant reached HTTPS target")
	}

	// secure="false" declared on an HTTPS policy withdraws HTTPS coverage.
	declared := NewAllowAccessFrom(KindURL, SubtypeHTTPS, "b.com", nil, boolPtr(false))
	if declared.Allows(origin, httpsTarget) {
		t.Error("secure=false grant reached HTTPS target")
	}
	if !declared.Allows(origin, httpTarget) {
		t.Error("secure=false grant rejected HTTP target")
	}
}

func TestAccessGrantSocketPorts(t *testing.T) {
	ports := []PortRange{NewPortRange(507, 507, false), NewPortRange(516, 523, true)}
	g := NewAllowAccessFrom(KindSocket, SubtypeNone, "b.com", ports, nil)
	origin := urlinfo.MustParse("http://b.com/page")

	if !g.Allows(origin, urlinfo.MustParse("http://a.com:507/")) {
		t.Error("granted port rejected")
	}
	if !g.Allows(origin, urlinfo.MustParse("http://a.com:520/")) {
		t.Error("in-range port rejected")
	}
	if g.Allows(origin, urlinfo.MustParse("http://a.com:9000/")) {
		t.Error("ungranted port accepted")
	}
	// No declared ports means a socket grant matches nothing.
	empty := NewAllowAccessFrom(KindSocket, SubtypeNone, "b.com", nil, nil)
	if empty.Allows(origin, urlinfo.MustParse("http://a.com:507/")) {
		t.Error("portless socket grant accepted a port")
	}
}

func TestAccessGrantURLKindIgnoresPorts(t *testing.T) {
	// URL-kind grants carry no port ranges and must not consult them.
	g := NewAllowAccessFrom(KindURL, SubtypeHTTP, "b.com", nil, nil)
	origin := urlinfo.MustParse("http://b.com/page")
	if !g.Allows(origin, urlinfo.MustParse("http://a.com:8080/data")) {
		t.Error("URL-kind grant rejected explicit-port target")
	}
}

func TestHeaderGrantMatching(t *testing.T) {
	g := NewAllowHTTPRequestHeadersFrom("b.com", []string{"X-Custom", " X-Other "}, nil)
	origin := urlinfo.MustParse("http://b.com/page")
	target := urlinfo.MustParse("http://a.com/data")

	for _, h := range []string{"X-Custom", "x-custom", "X-CUSTOM", "x-other"} {
		if !g.AllowsHeader(origin, target, h) {
			t.Errorf("header %q rejected", h)
		}
	}
	if g.AllowsHeader(origin, target, "X-Nope") {
		t.Error("unlisted header accepted")
	}
	if g.AllowsHeader(urlinfo.MustParse("http://c.com/page"), target, "X-Custom") {
		t.Error("foreign origin accepted")
	}
}

func TestHeaderGrantWildcard(t *testing.T) {
	g := NewAllowHTTPRequestHeadersFrom("*", []string{"*"}, nil)
	origin := urlinfo.MustParse("http://anyone.net/page")
	target := urlinfo.MustParse("http://a.com/data")
	if !g.AllowsHeader(origin, target, "Authorization") {
		t.Error("wildcard grant rejected header")
	}
}

func TestHeaderGrantSecureDefault(t *testing.T) {
	origin := urlinfo.MustParse("http://b.com/page")
	httpsTarget := urlinfo.MustParse("https://a.com/data")

	// Header grants default to secure regardless of how the policy
	// travelled.
	g := NewAllowHTTPRequestHeadersFrom("b.com", []string{"X-Custom"}, nil)
	if !g.AllowsHeader(origin, httpsTarget, "X-Custom") {
		t.Error("default-secure header grant rejected HTTPS target")
	}

	insecure := NewAllowHTTPRequestHeadersFrom("b.com", []string{"X-Custom"}, boolPtr(false))
	if insecure.AllowsHeader(origin, httpsTarget, "X-Custom") {
		t.Error("secure=false header grant reached HTTPS target")
	}
}

func TestGrantAccessors(t *testing.T) {
	ports := []PortRange{MatchAllPorts()}
	g := NewAllowAccessFrom(KindSocket, SubtypeNone, " b.com ", ports, boolPtr(true))
	if g.Domain() != "b.com" {
		t.Errorf("Domain = %q", g.Domain())
	}
	if !g.Secure() {
		t.Error("Secure lost")
	}
	got := g.PortRanges()
	if len(got) != 1 || !got[0].Matches(12345) {
		t.Errorf("PortRanges = %v", got)
	}

	h := NewAllowHTTPRequestHeadersFrom("b.com", []string{"X-One", "", "X-Two"}, nil)
	if hl := h.Headers(); len(hl) != 2 || hl[0] != "x-one" || hl[1] != "x-two" {
		t.Errorf("Headers = %v", hl)
	}
}
