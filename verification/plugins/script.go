package plugins

import (
	"bytes"
	"context"
	"os/exec"
	"time"

	"github.com/yahoo/ychaos/verification"
)

const TypeScript = "script"

// scriptConfig mirrors the original PythonModuleVerificationPlugin's
// config shape, generalized from "a Python module + function" to "a
// host command", since the Go engine has no embedded interpreter to
// import a user module into.
type scriptConfig struct {
	Command string
	Args    []string
}

type script struct {
	config scriptConfig
}

// NewScript builds a verification plugin that runs an external command
// and maps its exit code directly onto the verification return code.
func NewScript(config map[string]any, data *verification.Data) (verification.Plugin, error) {
	cfg := scriptConfig{Command: stringField(config, "command", "")}
	if rawArgs, ok := config["args"].([]any); ok {
		for _, a := range rawArgs {
			if s, ok := a.(string); ok {
				cfg.Args = append(cfg.Args, s)
			}
		}
	}
	return &script{config: cfg}, nil
}

func (s *script) RunVerification(ctx context.Context) *verification.StateData {
	cmd := exec.CommandContext(ctx, s.config.Command, s.config.Args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	rc := 0
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			rc = exitErr.ExitCode()
		} else {
			rc = -1
		}
	}

	return &verification.StateData{
		ReturnCode: rc,
		Timestamp:  time.Now().UTC(),
		Type:       TypeScript,
		Data: map[string]any{
			"command": s.config.Command,
			"stdout":  stdout.String(),
			"stderr":  stderr.String(),
		},
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

func boolField(raw map[string]any, key string, def bool) bool {
	if v, ok := raw[key].(bool); ok {
		return v
	}
	return def
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
