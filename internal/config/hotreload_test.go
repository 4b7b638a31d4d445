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

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestHotReloadManager_AppliesLiveReloadableFields(t *testing.T) {
	path := writeConfigFile(t, "rate_limit:\n  rps: 10\n  burst: 20\n")
	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	m := NewHotReloadManager(cfg, path, zap.NewNop())

	var applied *Config
	var changes []ConfigChange
	m.OnReload(func(c *Config, ch []ConfigChange) {
		applied = c
		changes = ch
	})

	require.NoError(t, os.WriteFile(path, []byte("rate_limit:\n  rps: 50\n  burst: 20\n"), 0o600))
	require.NoError(t, m.Reload())

	require.NotNil(t, applied)
	assert.Equal(t, 50.0, applied.RateLimit.RPS)
	require.Len(t, changes, 1)
	assert.Equal(t, "RateLimit.RPS", changes[0].Path)
}

func TestHotReloadManager_IgnoresRestartOnlyFields(t *testing.T) {
	path := writeConfigFile(t, "server:\n  addr: \":8080\"\n")
	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	m := NewHotReloadManager(cfg, path, zap.NewNop())

	require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":9999\"\n"), 0o600))
	require.NoError(t, m.Reload())

	assert.Equal(t, ":8080", m.Current().Server.Addr, "restart-only field must not change live")
}

func TestHotReloadManager_ChangeLogRecordsHistory(t *testing.T) {
	path := writeConfigFile(t, "proxy:\n  failure_threshold: 3\n")
	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	m := NewHotReloadManager(cfg, path, zap.NewNop())

	require.NoError(t, os.WriteFile(path, []byte("proxy:\n  failure_threshold: 5\n"), 0o600))
	require.NoError(t, m.Reload())

	log := m.ChangeLog(0)
	require.Len(t, log, 1)
	assert.Equal(t, "Proxy.FailureThreshold", log[0].Path)
}

func TestFileWatcher_DebouncesIntoSingleEvent(t *testing.T) {
	path := writeConfigFile(t, "server:\n  addr: \":8080\"\n")
	w, err := NewFileWatcher(path, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Run(ctx)

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(path, []byte("server:\n  addr: \":900"+string(rune('0'+i))+"\"\n"), 0o600))
		time.Sleep(10 * time.Millisecond)
	}

	select {
	case <-w.Events():
	case <-time.After(2 * time.Second):
		t.Fatal("expected a debounced event within 2s")
	}
}
