package security

import (
	"fmt"
	"strings"
)

// Sandbox classifies running content by trust level. Values are bit
// flags: exactly one is active per Manager, while evaluation calls take
// OR-ed masks of allowed classifications.
type Sandbox uint8

const (
	// SandboxRemote is content loaded from the network.
	SandboxRemote Sandbox = 1 << iota
	// SandboxLocalWithFile is local content that may read local files
	// but not touch the network.
	SandboxLocalWithFile
	// SandboxLocalWithNetwork is local content with network access but
	// no local file access.
	SandboxLocalWithNetwork
	// SandboxLocalTrusted is local content granted both.
	SandboxLocalTrusted
)

// LocalSandboxes masks every local classification.
const LocalSandboxes = SandboxLocalWithFile | SandboxLocalWithNetwork | SandboxLocalTrusted

// AllSandboxes masks every classification.
const AllSandboxes = SandboxRemote | LocalSandboxes

// In reports whether s intersects the allowed mask.
func (s Sandbox) In(allowed Sandbox) bool { return s&allowed != 0 }

// IsLocal reports whether s is a local classification.
func (s Sandbox) IsLocal() bool { return s.In(LocalSandboxes) }

// Name returns the canonical identifier of a single flag.
func (s Sandbox) Name() string {
	switch s {
	case SandboxRemote:
		return "remote"
	case SandboxLocalWithFile:
		return "localWithFile"
	case SandboxLocalWithNetwork:
		return "localWithNetwork"
	case SandboxLocalTrusted:
		return "localTrusted"
	}
	return "unknown"
}

// Title returns the human-readable name of a single flag.
func (s Sandbox) Title() string {
	switch s {
	case SandboxRemote:
		return "remote"
	case SandboxLocalWithFile:
		return "local-with-filesystem"
	case SandboxLocalWithNetwork:
		return "local-with-networking"
	case SandboxLocalTrusted:
		return "local-trusted"
	}
	return "unknown"
}

// String renders a mask as its flag names joined by "|".
func (s Sandbox) String() string {
	if s == 0 {
		return "none"
	}
	var parts []string
	for _, f := range []Sandbox{SandboxRemote, SandboxLocalWithFile, SandboxLocalWithNetwork, SandboxLocalTrusted} {
		if s.In(f) {
			parts = append(parts, f.Name())
		}
	}
	return strings.Join(parts, "|")
}

// ParseSandbox resolves a single sandbox by name or title.
func ParseSandbox(name string) (Sandbox, error) {
	switch strings.TrimSpace(name) {
	case "remote":
		return SandboxRemote, nil
	case "localWithFile", "local-with-filesystem":
		return SandboxLocalWithFile, nil
	case "localWithNetwork", "local-with-networking":
		return SandboxLocalWithNetwork, nil
	case "localTrusted", "local-trusted":
		return SandboxLocalTrusted, nil
	}
	return 0, fmt.Errorf("security: unknown sandbox %q", name)
}

// ParseSandboxMask resolves a list of names into one OR-ed mask.
func ParseSandboxMask(names []string) (Sandbox, error) {
	var mask Sandbox
	for _, n := range names {
		s, err := ParseSandbox(n)
		if err != nil {
			return 0, err
		}
		mask |= s
	}
	return mask, nil
}
