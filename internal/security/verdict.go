package security

// Verdict is the outcome of a security evaluation. Denial is an
// expected first-class outcome, never an error.
type Verdict string

const (
	VerdictAllowed                 Verdict = "allowed"
	VerdictDeniedRemoteSandbox     Verdict = "denied-remote-sandbox"
	VerdictDeniedLocalSandbox      Verdict = "denied-local-sandbox"
	VerdictDeniedLocalDirectory    Verdict = "denied-local-directory"
	VerdictDeniedCrossDomainPolicy Verdict = "denied-cross-domain-policy"
)

// Granted reports whether the verdict permits the access.
func (v Verdict) Granted() bool { return v == VerdictAllowed }

// Reason returns a short explanation suitable for API responses.
func (v Verdict) Reason() string {
	switch v {
	case VerdictAllowed:
		return "access granted"
	case VerdictDeniedRemoteSandbox:
		return "remote targets are not allowed for this sandbox"
	case VerdictDeniedLocalSandbox:
		return "the active local sandbox is not in the allowed set"
	case VerdictDeniedLocalDirectory:
		return "local target lies outside the origin document directory"
	case VerdictDeniedCrossDomainPolicy:
		return "no cross-domain policy grants access"
	}
	return "unknown verdict"
}

func (v Verdict) String() string { return string(v) }
