package security

import (
	"fmt"
	"strconv"
	"strings"
)

// PortRange matches a candidate port against a single port, an
// inclusive range, or the "*" wildcard. Immutable once built.
type PortRange struct {
	start    int
	end      int
	isRange  bool
	matchAll bool
}

// NewPortRange builds a single-port matcher, or an inclusive range when
// isRange is set.
func NewPortRange(start, end int, isRange bool) PortRange {
	return PortRange{start: start, end: end, isRange: isRange}
}

// MatchAllPorts returns the wildcard matcher.
func MatchAllPorts() PortRange { return PortRange{matchAll: true} }

// Matches reports whether port falls inside the range. Range bounds are
// inclusive on both ends.
func (r PortRange) Matches(port int) bool {
	if r.matchAll {
		return true
	}
	if r.isRange {
		return r.start <= port && port <= r.end
	}
	return port == r.start
}

// String renders the range back in to-ports syntax.
func (r PortRange) String() string {
	if r.matchAll {
		return "*"
	}
	if r.isRange {
		return fmt.Sprintf("%d-%d", r.start, r.end)
	}
	return strconv.Itoa(r.start)
}

// ParsePortRanges parses a to-ports attribute value: comma-separated
// single ports and low-high ranges, or "*" for every port. Malformed
// segments are returned in bad and skipped, never fatal.
func ParsePortRanges(spec string) (ranges []PortRange, bad []string) {
	for _, seg := range strings.Split(spec, ",") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		if seg == "*" {
			ranges = append(ranges, MatchAllPorts())
			continue
		}
		if lo, hi, ok := strings.Cut(seg, "-"); ok {
			start, err1 := parsePort(lo)
			end, err2 := parsePort(hi)
			if err1 != nil || err2 != nil || end < start {
				bad = append(bad, seg)
				continue
			}
			ranges = append(ranges, NewPortRange(start, end, true))
			continue
		}
		port, err := parsePort(seg)
		if err != nil {
			bad = append(bad, seg)
			continue
		}
		ranges = append(ranges, NewPortRange(port, port, false))
	}
	return ranges, bad
}

func parsePort(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 0 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return n, nil
}
