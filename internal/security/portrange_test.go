package security

import "testing"

func TestMatchAllPorts(t *testing.T) {
	r := MatchAllPorts()
	for port := 0; port <= 65535; port++ {
		if !r.Matches(port) {
			t.Fatalf("wildcard rejected port %d", port)
		}
	}
}

func TestSinglePortMatch(t *testing.T) {
	r := NewPortRange(8080, 8080, false)
	if !r.Matches(8080) {
		t.Error("exact port rejected")
	}
	for _, port := range []int{8079, 8081, 0, 65535} {
		if r.Matches(port) {
			t.Errorf("single-port matcher accepted %d", port)
		}
	}
}

func TestRangeMatchInclusive(t *testing.T) {
	r := NewPortRange(516, 523, true)
	for port := 516; port <= 523; port++ {
		if !r.Matches(port) {
			t.Errorf("range rejected in-bounds port %d", port)
		}
	}
	for _, port := range []int{515, 524} {
		if r.Matches(port) {
			t.Errorf("range accepted out-of-bounds port %d", port)
		}
	}
}

func TestParsePortRanges(t *testing.T) {
	ranges, bad := ParsePortRanges("507,516-523")
	if len(bad) != 0 {
		t.Fatalf("unexpected bad segments: %v", bad)
	}
	if len(ranges) != 2 {
		t.Fatalf("got %d ranges, want 2", len(ranges))
	}
	if !ranges[0].Matches(507) || ranges[0].Matches(508) {
		t.Error("single segment wrong")
	}
	if !ranges[1].Matches(516) || !ranges[1].Matches(523) || ranges[1].Matches(524) {
		t.Error("range segment wrong")
	}
}

func TestParsePortRangesWildcard(t *testing.T) {
	ranges, bad := ParsePortRanges("*")
	if len(bad) != 0 || len(ranges) != 1 || !ranges[0].Matches(65535) {
		t.Errorf("wildcard parse = (%v, %v)", ranges, bad)
	}
}

func TestParsePortRangesSkipsMalformed(t *testing.T) {
	ranges, bad := ParsePortRanges("80,abc,70000,9-5,443, ,8000-8100")
	if len(ranges) != 3 {
		t.Fatalf("got %d ranges, want 3: %v", len(ranges), ranges)
	}
	if len(bad) != 3 {
		t.Fatalf("got %d bad segments, want 3: %v", len(bad), bad)
	}
	for i, want := range []string{"abc", "70000", "9-5"} {
		if bad[i] != want {
			t.Errorf("bad[%d] = %q, want %q", i, bad[i], want)
		}
	}
	if !ranges[0].Matches(80) || !ranges[1].Matches(443) || !ranges[2].Matches(8050) {
		t.Error("surviving segments wrong")
	}
}

func TestPortRangeString(t *testing.T) {
	cases := []struct {
		r    PortRange
		want string
	}{
		{MatchAllPorts(), "*"},
		{NewPortRange(80, 80, false), "80"},
		{NewPortRange(516, 523, true), "516-523"},
	}
	for _, tc := range cases {
		if got := tc.r.String(); got != tc.want {
			t.Errorf("String = %q, want %q", got, tc.want)
		}
	}
}
