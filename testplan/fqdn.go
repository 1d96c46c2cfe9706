package testplan

import (
	"regexp"
	"strings"
)

// labelPattern matches a single DNS label: 1-63 chars, alphanumeric and
// hyphen, never starting or ending with a hyphen. Mirrors the label rule
// from the original FQDN validator (builtins.FQDN).
var labelPattern = regexp.MustCompile(`^(?i)[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// ValidFQDN reports whether host is a well-formed fully-qualified domain
// name: at most 255 characters (after stripping one trailing dot), and
// every dot-separated label conforms to labelPattern.
func ValidFQDN(host string) bool {
	host = strings.TrimSuffix(host, ".")
	if host == "" || len(host) > 255 {
		return false
	}
	for _, label := range strings.Split(host, ".") {
		if !labelPattern.MatchString(label) {
			return false
		}
	}
	return true
}
