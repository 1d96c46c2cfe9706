package testplan

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// sshDocument is the YAML/JSON shape of a MACHINE target's SSH config.
type sshDocument struct {
	User           string `yaml:"user" json:"user"`
	Port           int    `yaml:"port" json:"port"`
	IdentityFile   string `yaml:"identity_file" json:"identity_file"`
	ConnectTimeout string `yaml:"connect_timeout" json:"connect_timeout"`
}

// targetDocument is the YAML/JSON shape of a plan's target descriptor.
type targetDocument struct {
	Type           string      `yaml:"type" json:"type"`
	ReportDir      string      `yaml:"report_dir" json:"report_dir"`
	BlastRadiusPct float64     `yaml:"blast_radius_pct" json:"blast_radius_pct"`
	SSH            sshDocument `yaml:"ssh" json:"ssh"`
	Hostnames      []string    `yaml:"hostnames" json:"hostnames"`
	HostPatterns   []string    `yaml:"host_patterns" json:"host_patterns"`
	HostFiles      []string    `yaml:"host_files" json:"host_files"`
	Exclude        []string    `yaml:"exclude" json:"exclude"`
}

// agentDocument is the YAML/JSON shape of one attack agent entry.
type agentDocument struct {
	Type   string         `yaml:"type" json:"type"`
	Config map[string]any `yaml:"config" json:"config"`
}

// attackDocument is the YAML/JSON shape of a plan's attack half.
type attackDocument struct {
	Mode   string          `yaml:"mode" json:"mode"`
	Agents []agentDocument `yaml:"agents" json:"agents"`
}

// verificationDocument is the YAML/JSON shape of one verification entry.
type verificationDocument struct {
	Type        string         `yaml:"type" json:"type"`
	Strict      bool           `yaml:"strict" json:"strict"`
	States      []string       `yaml:"states" json:"states"`
	DelayBefore string         `yaml:"delay_before" json:"delay_before"`
	DelayAfter  string         `yaml:"delay_after" json:"delay_after"`
	Config      map[string]any `yaml:"config" json:"config"`
}

// Document is the on-disk plan document: the attack descriptor plus its
// ordered verification list, in the shape a plan file's author writes.
type Document struct {
	Target        targetDocument         `yaml:"target" json:"target"`
	Attack        attackDocument         `yaml:"attack" json:"attack"`
	Verifications []verificationDocument `yaml:"verifications" json:"verifications"`
}

// ToPlan converts a parsed Document into a validated, runnable Plan.
func (d *Document) ToPlan() (*Plan, error) {
	target, err := d.Target.toTargetDescriptor()
	if err != nil {
		return nil, fmt.Errorf("target: %w", err)
	}

	mode, err := parseAttackMode(d.Attack.Mode)
	if err != nil {
		return nil, fmt.Errorf("attack.mode: %w", err)
	}

	agents := make([]AgentSpec, 0, len(d.Attack.Agents))
	for i, a := range d.Attack.Agents {
		if a.Type == "" {
			return nil, fmt.Errorf("attack.agents[%d]: type is required", i)
		}
		agents = append(agents, AgentSpec{Type: a.Type, Config: a.Config})
	}

	verifications := make([]VerificationSpec, 0, len(d.Verifications))
	for i, v := range d.Verifications {
		spec, err := v.toVerificationSpec()
		if err != nil {
			return nil, fmt.Errorf("verifications[%d]: %w", i, err)
		}
		verifications = append(verifications, spec)
	}

	attack := AttackConfig{Target: target, Mode: mode, Agents: agents}
	plan := NewPlan(attack, verifications)
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

func (t *targetDocument) toTargetDescriptor() (TargetDescriptor, error) {
	var typ TargetType
	switch strings.ToLower(t.Type) {
	case "", "self":
		typ = TargetSelf
	case "host":
		typ = TargetHost
	case "machine":
		typ = TargetMachine
	default:
		return TargetDescriptor{}, fmt.Errorf("unknown target type %q", t.Type)
	}

	connectTimeout := 10 * time.Second
	if t.SSH.ConnectTimeout != "" {
		d, err := time.ParseDuration(t.SSH.ConnectTimeout)
		if err != nil {
			return TargetDescriptor{}, fmt.Errorf("ssh.connect_timeout: %w", err)
		}
		connectTimeout = d
	}

	return TargetDescriptor{
		Type:           typ,
		ReportDir:      t.ReportDir,
		BlastRadiusPct: t.BlastRadiusPct,
		SSH: SSHConfig{
			User:           t.SSH.User,
			Port:           t.SSH.Port,
			IdentityFile:   t.SSH.IdentityFile,
			ConnectTimeout: connectTimeout,
		},
		Hostnames:    t.Hostnames,
		HostPatterns: t.HostPatterns,
		HostFiles:    t.HostFiles,
		Exclude:      t.Exclude,
	}, nil
}

func parseAttackMode(s string) (AttackMode, error) {
	switch strings.ToLower(s) {
	case "", "sequential":
		return Sequential, nil
	case "concurrent":
		return Concurrent, nil
	default:
		return 0, fmt.Errorf("unknown attack mode %q", s)
	}
}

func (v *verificationDocument) toVerificationSpec() (VerificationSpec, error) {
	if v.Type == "" {
		return VerificationSpec{}, fmt.Errorf("type is required")
	}

	states := make([]SystemState, 0, len(v.States))
	if len(v.States) == 0 {
		states = AllSystemStates
	} else {
		for _, s := range v.States {
			state, ok := ParseSystemState(strings.ToUpper(s))
			if !ok {
				return VerificationSpec{}, fmt.Errorf("unknown system state %q", s)
			}
			states = append(states, state)
		}
	}

	before, err := parseOptionalDuration(v.DelayBefore)
	if err != nil {
		return VerificationSpec{}, fmt.Errorf("delay_before: %w", err)
	}
	after, err := parseOptionalDuration(v.DelayAfter)
	if err != nil {
		return VerificationSpec{}, fmt.Errorf("delay_after: %w", err)
	}

	return VerificationSpec{
		DelayBefore: before,
		DelayAfter:  after,
		States:      states,
		Type:        v.Type,
		Strict:      v.Strict,
		Config:      v.Config,
	}, nil
}

func parseOptionalDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Loader loads a plan Document from a file or raw bytes, auto-detecting
// YAML or JSON from the file extension.
type Loader struct{}

// NewLoader constructs a plan Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadFile reads and parses the plan document at path.
func (l *Loader) LoadFile(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read plan file: %w", err)
	}

	format := detectFormat(path)
	if format == "" {
		return nil, fmt.Errorf("unsupported file extension: %s", filepath.Ext(path))
	}
	return l.LoadBytes(data, format)
}

// LoadBytes parses raw bytes in the given format ("yaml" or "json").
func (l *Loader) LoadBytes(data []byte, format string) (*Plan, error) {
	var doc Document

	switch strings.ToLower(format) {
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse YAML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("parse JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported format %q, use \"yaml\" or \"json\"", format)
	}

	return doc.ToPlan()
}

func detectFormat(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	default:
		return ""
	}
}
