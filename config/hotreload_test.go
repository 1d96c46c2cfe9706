// =============================================================================
// Configuration Hot Reload Tests
// =============================================================================
package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// File Watcher Tests
// =============================================================================

func TestFileWatcher_NewFileWatcher(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(tmpFile, []byte("test: value"), 0644)
	require.NoError(t, err)

	watcher, err := NewFileWatcher([]string{tmpFile})
	require.NoError(t, err)
	assert.NotNil(t, watcher)
	assert.Equal(t, []string{tmpFile}, watcher.Paths())
}

func TestFileWatcher_StartStop(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(tmpFile, []byte("test: value"), 0644)
	require.NoError(t, err)

	watcher, err := NewFileWatcher([]string{tmpFile})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = watcher.Start(ctx)
	require.NoError(t, err)
	assert.True(t, watcher.IsRunning())

	err = watcher.Stop()
	require.NoError(t, err)
	assert.False(t, watcher.IsRunning())
}

func TestFileWatcher_DetectsChanges(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")
	err := os.WriteFile(tmpFile, []byte("test: value1"), 0644)
	require.NoError(t, err)

	watcher, err := NewFileWatcher(
		[]string{tmpFile},
		WithDebounceDelay(50*time.Millisecond),
	)
	require.NoError(t, err)

	var events []FileEvent
	watcher.OnChange(func(event FileEvent) {
		events = append(events, event)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = watcher.Start(ctx)
	require.NoError(t, err)
	defer watcher.Stop()

	time.Sleep(100 * time.Millisecond)

	err = os.WriteFile(tmpFile, []byte("test: value2"), 0644)
	require.NoError(t, err)

	time.Sleep(2 * time.Second)

	assert.GreaterOrEqual(t, len(events), 1)
	if len(events) > 0 {
		assert.Equal(t, tmpFile, events[0].Path)
		assert.Equal(t, FileOpWrite, events[0].Op)
	}
}

func TestFileOp_String(t *testing.T) {
	tests := []struct {
		op       FileOp
		expected string
	}{
		{FileOpCreate, "CREATE"},
		{FileOpWrite, "WRITE"},
		{FileOpRemove, "REMOVE"},
		{FileOpRename, "RENAME"},
		{FileOpChmod, "CHMOD"},
		{FileOp(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.op.String())
		})
	}
}

// =============================================================================
// Hot Reload Manager Tests
// =============================================================================

func TestHotReloadManager_NewHotReloadManager(t *testing.T) {
	cfg := DefaultConfig()
	manager := NewHotReloadManager(cfg)

	assert.NotNil(t, manager)
	assert.Equal(t, cfg, manager.GetConfig())
}

func TestHotReloadManager_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	manager := NewHotReloadManager(cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := manager.Start(ctx)
	require.NoError(t, err)

	err = manager.Stop()
	require.NoError(t, err)
}

func TestHotReloadManager_UpdateField(t *testing.T) {
	cfg := DefaultConfig()
	manager := NewHotReloadManager(cfg)

	err := manager.UpdateField("Log.Level", "debug")
	require.NoError(t, err)

	assert.Equal(t, "debug", manager.GetConfig().Log.Level)

	changes := manager.GetChangeLog(10)
	assert.GreaterOrEqual(t, len(changes), 1)
}

func TestHotReloadManager_UpdateField_Unknown(t *testing.T) {
	cfg := DefaultConfig()
	manager := NewHotReloadManager(cfg)

	err := manager.UpdateField("Unknown.Field", "value")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown configuration field")
}

func TestHotReloadManager_SanitizedConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Database.Password = "secret123"
	cfg.Redis.Password = "redis-secret"

	manager := NewHotReloadManager(cfg)
	sanitized := manager.SanitizedConfig()

	// The Config struct uses yaml tags, so JSON marshaling will use field names
	if db, ok := sanitized["Database"].(map[string]interface{}); ok {
		assert.Equal(t, "[REDACTED]", db["Password"])
	} else if db, ok := sanitized["database"].(map[string]interface{}); ok {
		assert.Equal(t, "[REDACTED]", db["password"])
	} else {
		assert.NotNil(t, sanitized)
	}

	if redis, ok := sanitized["Redis"].(map[string]interface{}); ok {
		assert.Equal(t, "[REDACTED]", redis["Password"])
	} else if redis, ok := sanitized["redis"].(map[string]interface{}); ok {
		assert.Equal(t, "[REDACTED]", redis["password"])
	}
}

func TestHotReloadManager_OnChange(t *testing.T) {
	cfg := DefaultConfig()
	manager := NewHotReloadManager(cfg)

	var receivedChanges []ConfigChange
	manager.OnChange(func(change ConfigChange) {
		receivedChanges = append(receivedChanges, change)
	})

	err := manager.UpdateField("Log.Level", "warn")
	require.NoError(t, err)

	assert.Len(t, receivedChanges, 1)
	assert.Equal(t, "Log.Level", receivedChanges[0].Path)
	assert.Equal(t, "api", receivedChanges[0].Source)
}

func TestHotReloadManager_ReloadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")

	initialConfig := `
engine:
  tick_interval: 2s
log:
  level: info
`
	err := os.WriteFile(tmpFile, []byte(initialConfig), 0644)
	require.NoError(t, err)

	cfg := DefaultConfig()
	manager := NewHotReloadManager(cfg, WithConfigPath(tmpFile))

	err = manager.ReloadFromFile()
	require.NoError(t, err)

	assert.Equal(t, "info", manager.GetConfig().Log.Level)
}

func TestHotReloadManager_ApplyConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Log.Level = "info"

	manager := NewHotReloadManager(cfg)

	var reloadCalled bool
	manager.OnReload(func(oldConfig, newConfig *Config) {
		reloadCalled = true
		assert.Equal(t, "info", oldConfig.Log.Level)
		assert.Equal(t, "debug", newConfig.Log.Level)
	})

	newCfg := DefaultConfig()
	newCfg.Log.Level = "debug"

	err := manager.ApplyConfig(newCfg, "test")
	require.NoError(t, err)

	assert.True(t, reloadCalled)
	assert.Equal(t, "debug", manager.GetConfig().Log.Level)
}

// =============================================================================
// Hot Reloadable Fields Tests
// =============================================================================

func TestGetHotReloadableFields(t *testing.T) {
	fields := GetHotReloadableFields()

	assert.NotEmpty(t, fields)
	assert.Contains(t, fields, "Log.Level")
	assert.Contains(t, fields, "Engine.TickInterval")
	assert.Contains(t, fields, "Server.Addr")
}

func TestIsHotReloadable(t *testing.T) {
	assert.True(t, IsHotReloadable("Log.Level"))
	assert.True(t, IsHotReloadable("Engine.TickInterval"))

	// Server.Addr requires restart
	assert.False(t, IsHotReloadable("Server.Addr"))

	assert.False(t, IsHotReloadable("Unknown.Field"))
}

// =============================================================================
// Helper Function Tests
// =============================================================================

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path     string
		expected []string
	}{
		{"Log.Level", []string{"Log", "Level"}},
		{"Engine.TickInterval", []string{"Engine", "TickInterval"}},
		{"Single", []string{"Single"}},
		{"A.B.C.D", []string{"A", "B", "C", "D"}},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			result := splitPath(tt.path)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRedactSensitiveFields(t *testing.T) {
	data := map[string]interface{}{
		"host":     "localhost",
		"password": "secret123",
		"api_key":  "sk-test",
		"nested": map[string]interface{}{
			"token":  "bearer-token",
			"normal": "value",
		},
	}

	redactSensitiveFields(data, "")

	assert.Equal(t, "localhost", data["host"])
	assert.Equal(t, "[REDACTED]", data["password"])
	assert.Equal(t, "[REDACTED]", data["api_key"])

	nested := data["nested"].(map[string]interface{})
	assert.Equal(t, "[REDACTED]", nested["token"])
	assert.Equal(t, "value", nested["normal"])
}

// =============================================================================
// Integration Tests
// =============================================================================

func TestHotReload_Integration(t *testing.T) {
	tmpDir := t.TempDir()
	tmpFile := filepath.Join(tmpDir, "config.yaml")

	initialConfig := `
engine:
  tick_interval: 1s
log:
  level: info
`
	err := os.WriteFile(tmpFile, []byte(initialConfig), 0644)
	require.NoError(t, err)

	cfg := DefaultConfig()
	logger, _ := zap.NewDevelopment()
	manager := NewHotReloadManager(cfg,
		WithConfigPath(tmpFile),
		WithHotReloadLogger(logger),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err = manager.Start(ctx)
	require.NoError(t, err)
	defer manager.Stop()

	var changes []ConfigChange
	manager.OnChange(func(change ConfigChange) {
		changes = append(changes, change)
	})

	updatedConfig := `
engine:
  tick_interval: 2s
log:
  level: debug
`
	time.Sleep(500 * time.Millisecond)

	err = os.WriteFile(tmpFile, []byte(updatedConfig), 0644)
	require.NoError(t, err)

	time.Sleep(4 * time.Second)

	t.Logf("Detected %d changes", len(changes))
}
