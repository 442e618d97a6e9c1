package security

import "strings"

// MetaPolicy is a master file's site-wide directive restricting which
// policy files on the same site are honored.
type MetaPolicy string

const (
	// MetaPolicyAll honors every policy file on the site.
	MetaPolicyAll MetaPolicy = "all"
	// MetaPolicyByContentType honors non-master files only when served
	// with the policy media type.
	MetaPolicyByContentType MetaPolicy = "by-content-type"
	// MetaPolicyByFTPFilename honors non-master FTP files only when
	// named crossdomain.xml.
	MetaPolicyByFTPFilename MetaPolicy = "by-ftp-filename"
	// MetaPolicyMasterOnly honors the master file alone.
	MetaPolicyMasterOnly MetaPolicy = "master-only"
	// MetaPolicyNone honors no policy files at all, the master
	// included.
	MetaPolicyNone MetaPolicy = "none"
	// MetaPolicyNoneThisResponse voids the response that carried it.
	MetaPolicyNoneThisResponse MetaPolicy = "none-this-response"
)

// ParseMetaPolicy resolves a permitted-cross-domain-policies attribute
// value; unrecognized values report ok false.
func ParseMetaPolicy(s string) (MetaPolicy, bool) {
	mp := MetaPolicy(strings.ToLower(strings.TrimSpace(s)))
	switch mp {
	case MetaPolicyAll, MetaPolicyByContentType, MetaPolicyByFTPFilename,
		MetaPolicyMasterOnly, MetaPolicyNone, MetaPolicyNoneThisResponse:
		return mp, true
	}
	return "", false
}

// DefaultMetaPolicy returns the directive assumed when a master file
// declares none: master-only for URL files, all for socket files.
func DefaultMetaPolicy(kind Kind) MetaPolicy {
	if kind == KindSocket {
		return MetaPolicyAll
	}
	return MetaPolicyMasterOnly
}

// SiteControl is a master file's effective meta-policy: the declared
// directive when present and recognized, the kind default otherwise.
type SiteControl struct {
	kind      Kind
	permitted MetaPolicy
	declared  bool
}

// NewSiteControl builds the control from the declared attribute value.
func NewSiteControl(kind Kind, declared string) *SiteControl {
	sc := &SiteControl{kind: kind, permitted: DefaultMetaPolicy(kind)}
	if mp, ok := ParseMetaPolicy(declared); ok {
		sc.permitted = mp
		sc.declared = true
	}
	return sc
}

// PermittedPolicies returns the effective directive.
func (s *SiteControl) PermittedPolicies() MetaPolicy { return s.permitted }

// Declared reports whether the directive was explicit in the document
// rather than the kind default.
func (s *SiteControl) Declared() bool { return s.declared }
