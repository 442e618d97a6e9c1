package urlinfo

import (
	"strings"

	"golang.org/x/net/idna"
)

// MatchDomain reports whether a policy domain pattern covers host.
// Patterns come in three forms: "*" matches any host, "*.suffix" matches
// suffix itself and every subdomain of it, and anything else must match
// exactly. Comparison is case-insensitive and IDNA-folded.
func MatchDomain(pattern, host string) bool {
	host = foldHost(host)
	if host == "" {
		return false
	}

	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return false
	}
	if pattern == "*" {
		return true
	}
	if rest, ok := strings.CutPrefix(pattern, "*."); ok {
		suffix := foldHost(rest)
		if suffix == "" {
			return false
		}
		return host == suffix || strings.HasSuffix(host, "."+suffix)
	}
	return foldHost(pattern) == host
}

// foldHost lowercases a hostname and converts international labels to
// their IDNA ASCII form. Labels the profile rejects are kept lowercased so
// a literal pattern can still match literally.
func foldHost(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if ascii, err := idna.Lookup.ToASCII(s); err == nil && ascii != "" {
		return ascii
	}
	return s
}
