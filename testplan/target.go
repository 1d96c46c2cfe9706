package testplan

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/yahoo/ychaos/ychaoserr"
)

// TargetType tags which kind of target a TargetDescriptor describes.
type TargetType int

const (
	TargetSelf TargetType = iota
	TargetHost
	TargetMachine
)

func (t TargetType) String() string {
	switch t {
	case TargetSelf:
		return "self"
	case TargetHost:
		return "host"
	case TargetMachine:
		return "machine"
	default:
		return "unknown"
	}
}

// SSHConfig carries the remote-shell parameters used to reach a
// MACHINE target's hosts.
type SSHConfig struct {
	User           string
	Port           int
	IdentityFile   string
	ConnectTimeout time.Duration
}

// TargetDescriptor is the tagged variant over SELF/HOST/MACHINE the
// Coordinator is configured against. Every variant carries a report
// directory; only MACHINE carries blast radius, SSH config, and the host
// selection fields.
type TargetDescriptor struct {
	Type      TargetType
	ReportDir string

	// MACHINE-only fields.
	BlastRadiusPct float64
	SSH            SSHConfig
	Hostnames      []string
	HostPatterns   []string
	HostFiles      []string
	Exclude        []string
}

// Validate checks the invariants named in the data model: blast radius
// in [0, 100], and every literal/expanded hostname is a valid FQDN.
func (t *TargetDescriptor) Validate() error {
	if t.Type != TargetMachine {
		return nil
	}
	if t.BlastRadiusPct < 0 || t.BlastRadiusPct > 100 {
		return ychaoserr.NewConfigError("blast_radius",
			fmt.Errorf("must be in [0, 100], got %v", t.BlastRadiusPct))
	}
	hosts, err := t.candidateHosts()
	if err != nil {
		return ychaoserr.NewConfigError("hosts", err)
	}
	for _, h := range hosts {
		if !ValidFQDN(h) {
			return ychaoserr.NewConfigError("hosts", fmt.Errorf("invalid FQDN: %q", h))
		}
	}
	return nil
}

// candidateHosts unions literal hostnames, expanded host patterns, and
// host-file contents, without applying the exclusion set.
func (t *TargetDescriptor) candidateHosts() ([]string, error) {
	var hosts []string
	hosts = append(hosts, t.Hostnames...)

	expanded, err := ExpandHostPatterns(t.HostPatterns)
	if err != nil {
		return nil, err
	}
	hosts = append(hosts, expanded...)

	for _, path := range t.HostFiles {
		lines, err := readHostFile(path)
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, lines...)
	}
	return hosts, nil
}

// EffectiveHosts returns the union of literal host names, expanded
// numeric-range patterns, and host-file contents, minus the exclusion
// set, with duplicates removed and declared order preserved.
func (t *TargetDescriptor) EffectiveHosts() ([]string, error) {
	candidates, err := t.candidateHosts()
	if err != nil {
		return nil, err
	}
	excluded := make(map[string]struct{}, len(t.Exclude))
	for _, e := range t.Exclude {
		excluded[e] = struct{}{}
	}

	seen := make(map[string]struct{}, len(candidates))
	out := make([]string, 0, len(candidates))
	for _, h := range candidates {
		if _, skip := excluded[h]; skip {
			continue
		}
		if _, dup := seen[h]; dup {
			continue
		}
		seen[h] = struct{}{}
		out = append(out, h)
	}
	return out, nil
}

func readHostFile(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read host file %q: %w", path, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	return lines, scanner.Err()
}
