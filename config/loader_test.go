// Loader and default-config tests.
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.False(t, cfg.Server.Enabled)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)

	assert.Equal(t, time.Second, cfg.Engine.TickInterval)
	assert.Equal(t, 300*time.Second, cfg.Engine.TeardownTimeout)
	assert.Equal(t, 3*time.Second, cfg.Engine.DefaultAgentDuration)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 0, cfg.Redis.DB)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "localhost", cfg.Database.Host)

	assert.True(t, cfg.Secrets.EnableEnv)
	assert.False(t, cfg.Secrets.EnableRedis)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, time.Second, cfg.Engine.TickInterval)
	assert.True(t, cfg.Secrets.EnableEnv)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
engine:
  tick_interval: 2s
  teardown_timeout: 120s
  report_dir: /tmp/reports

redis:
  addr: "redis.example.com:6379"
  password: "secret"
  db: 1

log:
  level: "debug"
  format: "console"
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Engine.TickInterval)
	assert.Equal(t, 120*time.Second, cfg.Engine.TeardownTimeout)
	assert.Equal(t, "/tmp/reports", cfg.Engine.ReportDir)

	assert.Equal(t, "redis.example.com:6379", cfg.Redis.Addr)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 1, cfg.Redis.DB)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		"YCHAOS_ENGINE_TICK_INTERVAL": "5s",
		"YCHAOS_ENGINE_REPORT_DIR":    "/var/ychaos/reports",
		"YCHAOS_REDIS_ADDR":           "env-redis:6379",
		"YCHAOS_LOG_LEVEL":            "warn",
	}

	for k, v := range envVars {
		os.Setenv(k, v)
	}
	defer func() {
		for k := range envVars {
			os.Unsetenv(k)
		}
	}()

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 5*time.Second, cfg.Engine.TickInterval)
	assert.Equal(t, "/var/ychaos/reports", cfg.Engine.ReportDir)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
engine:
  report_dir: /from/yaml
`
	err := os.WriteFile(configPath, []byte(yamlContent), 0644)
	require.NoError(t, err)

	os.Setenv("YCHAOS_ENGINE_REPORT_DIR", "/from/env")
	defer os.Unsetenv("YCHAOS_ENGINE_REPORT_DIR")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, "/from/env", cfg.Engine.ReportDir)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	os.Setenv("MYAPP_ENGINE_REPORT_DIR", "/custom/prefix")
	defer os.Unsetenv("MYAPP_ENGINE_REPORT_DIR")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)

	assert.Equal(t, "/custom/prefix", cfg.Engine.ReportDir)
}

func TestLoader_WithValidator(t *testing.T) {
	validator := func(cfg *Config) error {
		if cfg.Engine.TickInterval <= 0 {
			return assert.AnError
		}
		return nil
	}

	os.Setenv("YCHAOS_ENGINE_TICK_INTERVAL", "0s")
	defer os.Unsetenv("YCHAOS_ENGINE_TICK_INTERVAL")

	_, err := NewLoader().WithValidator(validator).Load()
	assert.Error(t, err)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, time.Second, cfg.Engine.TickInterval)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
engine:
  tick_interval: [invalid
  this is not valid yaml
`
	err := os.WriteFile(configPath, []byte(invalidYAML), 0644)
	require.NoError(t, err)

	_, err = NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid tick interval",
			modify: func(c *Config) {
				c.Engine.TickInterval = 0
			},
			wantErr: true,
		},
		{
			name: "invalid teardown timeout",
			modify: func(c *Config) {
				c.Engine.TeardownTimeout = -1
			},
			wantErr: true,
		},
		{
			name: "server enabled without addr",
			modify: func(c *Config) {
				c.Server.Enabled = true
				c.Server.Addr = ""
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver: "postgres", Host: "localhost", Port: 5432,
				User: "user", Password: "pass", Name: "dbname", SSLMode: "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver: "mysql", Host: "localhost", Port: 3306,
				User: "user", Password: "pass", Name: "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/db.sqlite"},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	err := os.WriteFile(configPath, []byte("engine:\n  report_dir: /tmp/x\n"), 0644)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, "/tmp/x", cfg.Engine.ReportDir)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	err := os.WriteFile(configPath, []byte("invalid: [yaml"), 0644)
	require.NoError(t, err)

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	os.Setenv("YCHAOS_ENGINE_REPORT_DIR", "/env-only")
	defer os.Unsetenv("YCHAOS_ENGINE_REPORT_DIR")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "/env-only", cfg.Engine.ReportDir)
}
