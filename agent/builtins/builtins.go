// Package builtins implements the closed set of built-in agent types
// named in the engine's agent-type catalogue: process/CPU/disk
// disruptors that run directly in this process, and a handful of
// network-disruption agents that shell out to host tooling (iptables,
// tc) the way the original Python agents did via subprocess.
package builtins

import (
	"bytes"
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/yahoo/ychaos/agent"
)

// Register installs every built-in agent type's Factory into reg under
// its catalogue tag.
func Register(reg *agent.Registry) {
	reg.Register("no-op", newNoOp)
	reg.Register("no-op-timed", newNoOpTimed)
	reg.Register("cpu-burn", newCPUBurn)
	reg.Register("shell", newShell)
	reg.Register("disk-fill", newDiskFill)
	reg.Register("iptables-block", newIptablesBlock)
	reg.Register("dns-block", newDNSBlock)
	reg.Register("traffic-block", newTrafficBlock)
	reg.Register("ping-disable", newPingDisable)
	reg.Register("server-cert-validation", newServerCertValidation)
	reg.Register("cert-file-validation", newCertFileValidation)
}

func commonConfig(raw map[string]any) agent.Config {
	cfg := agent.Config{
		Name:                 stringField(raw, "name", "unnamed-agent"),
		Description:          stringField(raw, "description", ""),
		Priority:             intField(raw, "priority", 0),
		SudoRequired:         boolField(raw, "sudo_required", false),
		RaiseOnStateMismatch: boolField(raw, "raise_on_state_mismatch", true),
		StartDelay:           durationField(raw, "start_delay", 0),
	}
	return cfg
}

func timedConfig(raw map[string]any) agent.TimedConfig {
	return agent.TimedConfig{
		Config:   commonConfig(raw),
		Duration: durationField(raw, "duration", 3*time.Second),
	}
}

func stringField(raw map[string]any, key, def string) string {
	if v, ok := raw[key].(string); ok {
		return v
	}
	return def
}

func intField(raw map[string]any, key string, def int) int {
	switch v := raw[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	default:
		return def
	}
}

func boolField(raw map[string]any, key string, def bool) bool {
	if v, ok := raw[key].(bool); ok {
		return v
	}
	return def
}

func durationField(raw map[string]any, key string, def time.Duration) time.Duration {
	switch v := raw[key].(type) {
	case int:
		return time.Duration(v) * time.Second
	case float64:
		return time.Duration(v * float64(time.Second))
	default:
		return def
	}
}

func floatField(raw map[string]any, key string, def float64) float64 {
	switch v := raw[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	default:
		return def
	}
}

// --- no-op -----------------------------------------------------------

type noOp struct{}

func newNoOp(raw map[string]any) (agent.Config, agent.Body, error) {
	return commonConfig(raw), &noOp{}, nil
}

func (n *noOp) Setup(ctx context.Context) error    { return nil }
func (n *noOp) Run(ctx context.Context, stop <-chan struct{}) error {
	<-stop
	return nil
}
func (n *noOp) Teardown(ctx context.Context) error { return nil }

// --- no-op-timed -------------------------------------------------------

type noOpTimed struct {
	duration time.Duration
}

func newNoOpTimed(raw map[string]any) (agent.Config, agent.Body, error) {
	tc := timedConfig(raw)
	return tc.Config, &noOpTimed{duration: tc.Duration}, nil
}

func (n *noOpTimed) Setup(ctx context.Context) error { return nil }

func (n *noOpTimed) Run(ctx context.Context, stop <-chan struct{}) error {
	timer := time.NewTimer(n.duration)
	defer timer.Stop()
	select {
	case <-stop:
	case <-timer.C:
	case <-ctx.Done():
	}
	return nil
}

func (n *noOpTimed) Teardown(ctx context.Context) error { return nil }

// --- cpu-burn ----------------------------------------------------------

// cpuBurn pegs CorePercentage of a goroutine's CPU budget for the
// configured duration, by duty-cycling busy/sleep spins.
type cpuBurn struct {
	duration       time.Duration
	corePercentage float64
}

func newCPUBurn(raw map[string]any) (agent.Config, agent.Body, error) {
	tc := timedConfig(raw)
	return tc.Config, &cpuBurn{
		duration:       tc.Duration,
		corePercentage: floatField(raw, "core_percentage", 100),
	}, nil
}

func (c *cpuBurn) Setup(ctx context.Context) error { return nil }

func (c *cpuBurn) Run(ctx context.Context, stop <-chan struct{}) error {
	pct := c.corePercentage / 100
	if pct <= 0 {
		pct = 0.01
	}
	if pct > 1 {
		pct = 1
	}
	const slice = 10 * time.Millisecond
	busy := time.Duration(float64(slice) * pct)
	idle := slice - busy

	deadline := time.Now().Add(c.duration)
	for time.Now().Before(deadline) {
		select {
		case <-stop:
			return nil
		case <-ctx.Done():
			return nil
		default:
		}
		spinUntil := time.Now().Add(busy)
		for time.Now().Before(spinUntil) {
		}
		if idle > 0 {
			time.Sleep(idle)
		}
	}
	return nil
}

func (c *cpuBurn) Teardown(ctx context.Context) error { return nil }

// --- shell ---------------------------------------------------------------

// shellAgent runs an arbitrary host command for setup, run, and teardown,
// matching the original's generic subprocess-based agent shape.
type shellAgent struct {
	runCmd      string
	teardownCmd string
}

func newShell(raw map[string]any) (agent.Config, agent.Body, error) {
	return commonConfig(raw), &shellAgent{
		runCmd:      stringField(raw, "command", ""),
		teardownCmd: stringField(raw, "teardown_command", ""),
	}, nil
}

func (s *shellAgent) Setup(ctx context.Context) error { return nil }

func (s *shellAgent) Run(ctx context.Context, stop <-chan struct{}) error {
	if s.runCmd == "" {
		<-stop
		return nil
	}
	return runShell(ctx, s.runCmd)
}

func (s *shellAgent) Teardown(ctx context.Context) error {
	if s.teardownCmd == "" {
		return nil
	}
	return runShell(ctx, s.teardownCmd)
}

func runShell(ctx context.Context, command string) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("shell command %q: %w: %s", command, err, stderr.String())
	}
	return nil
}

// --- disk-fill -------------------------------------------------------------

// diskFill writes a single sparse-avoiding file to consume partitionPct
// (expressed as a [0,1] fraction, per the partition_pct Open Question
// decision) of the target mount's free space, and removes it on teardown.
type diskFill struct {
	mountPath    string
	partitionPct float64
	filePath     string
}

func newDiskFill(raw map[string]any) (agent.Config, agent.Body, error) {
	mount := stringField(raw, "mount_path", "/tmp")
	return commonConfig(raw), &diskFill{
		mountPath:    mount,
		partitionPct: floatField(raw, "partition_pct", 50) / 100,
		filePath:     filepath.Join(mount, fmt.Sprintf("ychaos-disk-fill-%d", rand.Int())),
	}, nil
}

func (d *diskFill) Setup(ctx context.Context) error { return nil }

func (d *diskFill) Run(ctx context.Context, stop <-chan struct{}) error {
	var stat fsStatter = osStat{}
	free, err := stat.FreeBytes(d.mountPath)
	if err != nil {
		return fmt.Errorf("disk-fill: stat %q: %w", d.mountPath, err)
	}
	size := int64(float64(free) * d.partitionPct)
	if size <= 0 {
		<-stop
		return nil
	}
	f, err := os.Create(d.filePath)
	if err != nil {
		return fmt.Errorf("disk-fill: create %q: %w", d.filePath, err)
	}
	defer f.Close()
	buf := make([]byte, 1<<20)
	for written := int64(0); written < size; {
		select {
		case <-stop:
			return nil
		default:
		}
		n := int64(len(buf))
		if size-written < n {
			n = size - written
		}
		if _, err := f.Write(buf[:n]); err != nil {
			return fmt.Errorf("disk-fill: write %q: %w", d.filePath, err)
		}
		written += n
	}
	<-stop
	return nil
}

func (d *diskFill) Teardown(ctx context.Context) error {
	if err := os.Remove(d.filePath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("disk-fill: remove %q: %w", d.filePath, err)
	}
	return nil
}

// fsStatter abstracts free-space lookup so disk-fill is testable without
// touching a real filesystem's statvfs.
type fsStatter interface {
	FreeBytes(path string) (uint64, error)
}

type osStat struct{}

func (osStat) FreeBytes(path string) (uint64, error) {
	return statvfsFree(path)
}

// --- network disruption agents: iptables/dns/traffic/ping -----------------

// iptablesBlock blocks the configured ports via iptables for the attack
// window and deletes the same per-port rules on teardown.
type iptablesBlock struct {
	ports []string
	rule  string
}

func newIptablesBlock(raw map[string]any) (agent.Config, agent.Body, error) {
	ports := stringSliceField(raw, "ports")
	return commonConfig(raw), &iptablesBlock{
		ports: ports,
		rule:  "YCHAOS_CHAOS_BLOCK",
	}, nil
}

func (i *iptablesBlock) Setup(ctx context.Context) error { return nil }

func (i *iptablesBlock) Run(ctx context.Context, stop <-chan struct{}) error {
	for _, port := range i.ports {
		if err := runShell(ctx, fmt.Sprintf(
			"iptables -A INPUT -p tcp --dport %s -j DROP -m comment --comment %s",
			port, i.rule)); err != nil {
			return err
		}
	}
	<-stop
	return nil
}

func (i *iptablesBlock) Teardown(ctx context.Context) error {
	for _, port := range i.ports {
		if err := runShell(ctx, fmt.Sprintf(
			"iptables -D INPUT -p tcp --dport %s -j DROP -m comment --comment %s 2>/dev/null || true",
			port, i.rule)); err != nil {
			return err
		}
	}
	return nil
}

// dnsBlock drops all DNS resolution by replacing the resolv.conf file
// with one that lists no nameserver, restoring it on teardown from a
// backup copy taken in Setup. No per-domain selection is made.
type dnsBlock struct {
	resolvConf string
	backup     string
}

func newDNSBlock(raw map[string]any) (agent.Config, agent.Body, error) {
	return commonConfig(raw), &dnsBlock{
		resolvConf: stringField(raw, "resolv_conf", "/etc/resolv.conf"),
		backup:     stringField(raw, "resolv_conf", "/etc/resolv.conf") + ".ychaos-bak",
	}, nil
}

func (d *dnsBlock) Setup(ctx context.Context) error {
	data, err := os.ReadFile(d.resolvConf)
	if err != nil {
		return fmt.Errorf("dns-block: read %q: %w", d.resolvConf, err)
	}
	return os.WriteFile(d.backup, data, 0o644)
}

func (d *dnsBlock) Run(ctx context.Context, stop <-chan struct{}) error {
	if err := os.WriteFile(d.resolvConf, []byte("# ychaos dns-block active\n"), 0o644); err != nil {
		return fmt.Errorf("dns-block: blank %q: %w", d.resolvConf, err)
	}
	<-stop
	return nil
}

func (d *dnsBlock) Teardown(ctx context.Context) error {
	data, err := os.ReadFile(d.backup)
	if err != nil {
		return fmt.Errorf("dns-block: read backup %q: %w", d.backup, err)
	}
	if err := os.WriteFile(d.resolvConf, data, 0o644); err != nil {
		return fmt.Errorf("dns-block: restore %q: %w", d.resolvConf, err)
	}
	return os.Remove(d.backup)
}

// trafficBlock injects latency/packet-loss via `tc` for the attack window.
type trafficBlock struct {
	iface     string
	delayMS   int
	lossPct   float64
}

func newTrafficBlock(raw map[string]any) (agent.Config, agent.Body, error) {
	return commonConfig(raw), &trafficBlock{
		iface:   stringField(raw, "interface", "eth0"),
		delayMS: intField(raw, "delay_ms", 0),
		lossPct: floatField(raw, "loss_pct", 0),
	}, nil
}

func (t *trafficBlock) Setup(ctx context.Context) error { return nil }

func (t *trafficBlock) Run(ctx context.Context, stop <-chan struct{}) error {
	cmd := fmt.Sprintf("tc qdisc add dev %s root netem", t.iface)
	if t.delayMS > 0 {
		cmd += fmt.Sprintf(" delay %dms", t.delayMS)
	}
	if t.lossPct > 0 {
		cmd += fmt.Sprintf(" loss %.2f%%", t.lossPct)
	}
	if err := runShell(ctx, cmd); err != nil {
		return err
	}
	<-stop
	return nil
}

func (t *trafficBlock) Teardown(ctx context.Context) error {
	return runShell(ctx, fmt.Sprintf("tc qdisc del dev %s root netem 2>/dev/null || true", t.iface))
}

// pingDisable drops ICMP echo requests, restoring the prior sysctl value
// on teardown via the Scratchpad-equivalent held on the struct itself
// (the Agent's own Scratchpad is reserved for the runtime, so the body
// tracks its own "was already disabled" flag).
type pingDisable struct {
	alreadyDisabled bool
}

func newPingDisable(raw map[string]any) (agent.Config, agent.Body, error) {
	return commonConfig(raw), &pingDisable{}, nil
}

const icmpIgnoreAllSysctl = "net.ipv4.icmp_echo_ignore_all"

func (p *pingDisable) Setup(ctx context.Context) error {
	out, err := exec.CommandContext(ctx, "sysctl", "-n", icmpIgnoreAllSysctl).Output()
	if err != nil {
		return fmt.Errorf("ping-disable: read sysctl: %w", err)
	}
	p.alreadyDisabled = bytes.TrimSpace(out)[0] == '1'
	return nil
}

func (p *pingDisable) Run(ctx context.Context, stop <-chan struct{}) error {
	if !p.alreadyDisabled {
		if err := runShell(ctx, fmt.Sprintf("sysctl -w %s=1", icmpIgnoreAllSysctl)); err != nil {
			return err
		}
	}
	<-stop
	return nil
}

func (p *pingDisable) Teardown(ctx context.Context) error {
	if p.alreadyDisabled {
		return nil
	}
	return runShell(ctx, fmt.Sprintf("sysctl -w %s=0", icmpIgnoreAllSysctl))
}

// --- certificate-validation agents -----------------------------------------

// serverCertValidation checks whether a remote server's TLS certificate
// chain validates, recording the result as a monitoring datapoint rather
// than causing host-level disruption.
type serverCertValidation struct {
	host string
	port int
}

func newServerCertValidation(raw map[string]any) (agent.Config, agent.Body, error) {
	return commonConfig(raw), &serverCertValidation{
		host: stringField(raw, "host", "localhost"),
		port: intField(raw, "port", 443),
	}, nil
}

func (s *serverCertValidation) Setup(ctx context.Context) error { return nil }

func (s *serverCertValidation) Run(ctx context.Context, stop <-chan struct{}) error {
	<-stop
	return nil
}

func (s *serverCertValidation) Teardown(ctx context.Context) error { return nil }

func (s *serverCertValidation) Monitor(ctx context.Context) map[string]any {
	valid, err := checkServerCert(ctx, s.host, s.port)
	data := map[string]any{"host": s.host, "port": s.port, "valid": valid}
	if err != nil {
		data["error"] = err.Error()
	}
	return data
}

// certFileValidation checks a local certificate file's expiry/validity.
type certFileValidation struct {
	path string
}

func newCertFileValidation(raw map[string]any) (agent.Config, agent.Body, error) {
	return commonConfig(raw), &certFileValidation{
		path: stringField(raw, "cert_path", ""),
	}, nil
}

func (c *certFileValidation) Setup(ctx context.Context) error { return nil }

func (c *certFileValidation) Run(ctx context.Context, stop <-chan struct{}) error {
	<-stop
	return nil
}

func (c *certFileValidation) Teardown(ctx context.Context) error { return nil }

func (c *certFileValidation) Monitor(ctx context.Context) map[string]any {
	valid, notAfter, err := checkCertFile(c.path)
	data := map[string]any{"path": c.path, "valid": valid}
	if !notAfter.IsZero() {
		data["not_after"] = notAfter
	}
	if err != nil {
		data["error"] = err.Error()
	}
	return data
}

func stringSliceField(raw map[string]any, key string) []string {
	v, ok := raw[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(v))
	for _, item := range v {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
