package testplan

import (
	"fmt"
	"testing"

	"pgregory.net/rapid"
)

// TestProperty_ExpandHostPattern_RangeCount checks that a bracketed
// range always expands to exactly end-start+1 hosts, and that every
// generated host's numeric segment round-trips back to a value inside
// [start, end] once the zero-padding is stripped.
func TestProperty_ExpandHostPattern_RangeCount(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		prefix := rapid.StringMatching(`[a-z][a-z0-9-]{0,10}`).Draw(rt, "prefix")
		suffix := rapid.StringMatching(`(\.[a-z]{2,10}){1,3}`).Draw(rt, "suffix")
		width := rapid.IntRange(1, 4).Draw(rt, "width")
		start := rapid.IntRange(0, 20).Draw(rt, "start")
		span := rapid.IntRange(0, 15).Draw(rt, "span")
		end := start + span

		maxForWidth := 1
		for i := 0; i < width; i++ {
			maxForWidth *= 10
		}
		if end >= maxForWidth {
			end = maxForWidth - 1
		}
		if end < start {
			end = start
		}

		pattern := fmt.Sprintf("%s[%0*d-%0*d]%s", prefix, width, start, width, end, suffix)

		hosts, err := ExpandHostPattern(pattern)
		if err != nil {
			rt.Fatalf("ExpandHostPattern(%q) returned error: %v", pattern, err)
		}

		if got, want := len(hosts), end-start+1; got != want {
			rt.Fatalf("expected %d hosts, got %d for pattern %q", want, got, pattern)
		}

		for i, host := range hosts {
			want := fmt.Sprintf("%s%0*d%s", prefix, width, start+i, suffix)
			if host != want {
				rt.Fatalf("host %d: got %q, want %q", i, host, want)
			}
		}
	})
}

// TestProperty_ExpandHostPattern_NoRangePassthrough checks that a
// pattern with no bracketed range is returned unchanged as a
// single-element slice.
func TestProperty_ExpandHostPattern_NoRangePassthrough(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		literal := rapid.StringMatching(`[a-z][a-z0-9.-]{0,30}`).Draw(rt, "literal")

		hosts, err := ExpandHostPattern(literal)
		if err != nil {
			rt.Fatalf("ExpandHostPattern(%q) returned error: %v", literal, err)
		}
		if len(hosts) != 1 || hosts[0] != literal {
			rt.Fatalf("expected passthrough [%q], got %v", literal, hosts)
		}
	})
}
