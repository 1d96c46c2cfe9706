package testplan

import (
	"fmt"
	"strconv"
	"strings"
)

// ExpandHostPattern expands a single host-range pattern such as
// "web-[001-010].example.com" into the literal hostnames it denotes. The
// zero-padding width of every generated number follows the width of the
// range's start literal ("001" pads to 3 digits), not the end literal.
// A pattern with no bracketed range is returned as a single-element
// slice containing the literal string unchanged.
func ExpandHostPattern(pattern string) ([]string, error) {
	open := strings.IndexByte(pattern, '[')
	if open < 0 {
		return []string{pattern}, nil
	}
	closeIdx := strings.IndexByte(pattern, ']')
	if closeIdx < 0 || closeIdx < open {
		return nil, fmt.Errorf("testplan: unbalanced host pattern %q", pattern)
	}

	prefix := pattern[:open]
	suffix := pattern[closeIdx+1:]
	rangeExpr := pattern[open+1 : closeIdx]

	parts := strings.SplitN(rangeExpr, "-", 2)
	if len(parts) != 2 {
		return nil, fmt.Errorf("testplan: invalid host range %q in pattern %q", rangeExpr, pattern)
	}

	startLit, endLit := parts[0], parts[1]
	width := len(startLit)

	start, err := strconv.Atoi(startLit)
	if err != nil {
		return nil, fmt.Errorf("testplan: invalid range start %q: %w", startLit, err)
	}
	end, err := strconv.Atoi(endLit)
	if err != nil {
		return nil, fmt.Errorf("testplan: invalid range end %q: %w", endLit, err)
	}
	if end < start {
		return nil, fmt.Errorf("testplan: host range end %d precedes start %d", end, start)
	}

	hosts := make([]string, 0, end-start+1)
	for n := start; n <= end; n++ {
		hosts = append(hosts, fmt.Sprintf("%s%0*d%s", prefix, width, n, suffix))
	}
	return hosts, nil
}

// ExpandHostPatterns expands every pattern in patterns and concatenates
// the results, preserving declared order.
func ExpandHostPatterns(patterns []string) ([]string, error) {
	var out []string
	for _, p := range patterns {
		hosts, err := ExpandHostPattern(p)
		if err != nil {
			return nil, err
		}
		out = append(out, hosts...)
	}
	return out, nil
}
