package security

import "testing"

func TestParseMetaPolicy(t *testing.T) {
	valid := []string{
		"all", "by-content-type", "by-ftp-filename",
		"master-only", "none", "none-this-response",
	}
	for _, s := range valid {
		mp, ok := ParseMetaPolicy(s)
		if !ok || string(mp) != s {
			t.Errorf("ParseMetaPolicy(%q) = (%q, %v)", s, mp, ok)
		}
	}
	if mp, ok := ParseMetaPolicy(" Master-Only "); !ok || mp != MetaPolicyMasterOnly {
		t.Errorf("case-folded parse = (%q, %v)", mp, ok)
	}
	for _, s := range []string{"", "everything", "master only"} {
		if _, ok := ParseMetaPolicy(s); ok {
			t.Errorf("ParseMetaPolicy(%q) accepted", s)
		}
	}
}

func TestDefaultMetaPolicy(t *testing.T) {
	if DefaultMetaPolicy(KindURL) != MetaPolicyMasterOnly {
		t.Error("URL default is not master-only")
	}
	if DefaultMetaPolicy(KindSocket) != MetaPolicyAll {
		t.Error("socket default is not all")
	}
}

func TestNewSiteControl(t *testing.T) {
	declared := NewSiteControl(KindURL, "by-content-type")
	if declared.PermittedPolicies() != MetaPolicyByContentType || !declared.Declared() {
		t.Errorf("declared control = (%q, %v)", declared.PermittedPolicies(), declared.Declared())
	}

	// An absent or unrecognized attribute falls back to the kind default.
	fallback := NewSiteControl(KindURL, "")
	if fallback.PermittedPolicies() != MetaPolicyMasterOnly || fallback.Declared() {
		t.Errorf("fallback control = (%q, %v)", fallback.PermittedPolicies(), fallback.Declared())
	}
	socket := NewSiteControl(KindSocket, "bogus")
	if socket.PermittedPolicies() != MetaPolicyAll || socket.Declared() {
		t.Errorf("socket fallback = (%q, %v)", socket.PermittedPolicies(), socket.Declared())
	}
}
