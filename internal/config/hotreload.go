package config

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ConfigChange describes one field that differed between the previous
// and newly-reloaded Config.
type ConfigChange struct {
	Path      string      `json:"path"`
	OldValue  interface{} `json:"old_value"`
	NewValue  interface{} `json:"new_value"`
	Timestamp time.Time   `json:"timestamp"`
}

// ReloadCallback is invoked with the applied config after a successful
// reload of the live-tunable subset.
type ReloadCallback func(cfg *Config, changes []ConfigChange)

// liveReloadable lists the dotted field paths the hot-reload path is
// permitted to change without a restart — everything else (ports, DSNs,
// TLS) is frozen at process start per the no-mutable-structural-config
// rule, mirrored here from the teacher's RequiresRestart field
// classification but inverted: this is an allowlist of what MAY change,
// not a per-field restart flag, since every field not listed here is
// implicitly restart-only.
var liveReloadable = map[string]bool{
	"RateLimit.RPS":           true,
	"RateLimit.Burst":         true,
	"Router.QueueCap":         true,
	"Router.AdmissionTimeout": true,
	"Router.MaxPerTenant":     true,
	"Health.DefaultInterval":  true,
	"Proxy.FailureThreshold":  true,
	"Proxy.FailureWindow":     true,
	"Proxy.Cooldown":          true,
	"CORS.AllowedOrigins":     true,
}

// HotReloadManager re-reads the config file on change, diffs it against
// the running Config, and applies only the fields liveReloadable
// permits — anything else that differs is logged and skipped, requiring
// an operator restart to take effect.
type HotReloadManager struct {
	mu         sync.RWMutex
	current    *Config
	configPath string
	logger     *zap.Logger

	callbacks []ReloadCallback
	changeLog []ConfigChange
}

// NewHotReloadManager constructs a manager seeded with the already-loaded
// config.
func NewHotReloadManager(cfg *Config, configPath string, logger *zap.Logger) *HotReloadManager {
	return &HotReloadManager{
		current:    cfg,
		configPath: configPath,
		logger:     logger.With(zap.String("component", "config_hotreload")),
	}
}

// OnReload registers a callback fired after every successful reload.
func (m *HotReloadManager) OnReload(cb ReloadCallback) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

// Current returns the live config snapshot.
func (m *HotReloadManager) Current() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current
}

// ChangeLog returns up to limit most recent applied changes, newest
// first. limit <= 0 returns the full log.
func (m *HotReloadManager) ChangeLog(limit int) []ConfigChange {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.changeLog)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]ConfigChange, limit)
	for i := 0; i < limit; i++ {
		out[i] = m.changeLog[n-1-i]
	}
	return out
}

// Watch starts an fsnotify watch on the config file and reloads on every
// settled write, until ctx is done.
func (m *HotReloadManager) Watch(ctx context.Context) error {
	watcher, err := NewFileWatcher(m.configPath, m.logger)
	if err != nil {
		return err
	}
	go watcher.Run(ctx)

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-watcher.Events():
				if err := m.Reload(); err != nil {
					m.logger.Error("config reload failed", zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Reload re-runs the loader against configPath and applies whichever
// changed fields are in liveReloadable, logging and skipping the rest.
func (m *HotReloadManager) Reload() error {
	next, err := NewLoader().WithConfigPath(m.configPath).Load()
	if err != nil {
		return fmt.Errorf("config: reload: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	changes := diffReloadable(m.current, next)
	if len(changes) == 0 {
		return nil
	}

	for _, c := range changes {
		m.logger.Info("applying live config change",
			zap.String("path", c.Path),
			zap.Any("old", c.OldValue),
			zap.Any("new", c.NewValue))
	}
	m.changeLog = append(m.changeLog, changes...)
	applied := applyReloadable(m.current, next)
	m.current = applied

	for _, cb := range m.callbacks {
		cb(applied, changes)
	}
	return nil
}

func diffReloadable(old, next *Config) []ConfigChange {
	now := time.Now()
	var changes []ConfigChange

	check := func(path string, oldV, newV interface{}) {
		if !liveReloadable[path] {
			return
		}
		if fmt.Sprintf("%v", oldV) != fmt.Sprintf("%v", newV) {
			changes = append(changes, ConfigChange{Path: path, OldValue: oldV, NewValue: newV, Timestamp: now})
		}
	}

	check("RateLimit.RPS", old.RateLimit.RPS, next.RateLimit.RPS)
	check("RateLimit.Burst", old.RateLimit.Burst, next.RateLimit.Burst)
	check("Router.QueueCap", old.Router.QueueCap, next.Router.QueueCap)
	check("Router.AdmissionTimeout", old.Router.AdmissionTimeout, next.Router.AdmissionTimeout)
	check("Router.MaxPerTenant", old.Router.MaxPerTenant, next.Router.MaxPerTenant)
	check("Health.DefaultInterval", old.Health.DefaultInterval, next.Health.DefaultInterval)
	check("Proxy.FailureThreshold", old.Proxy.FailureThreshold, next.Proxy.FailureThreshold)
	check("Proxy.FailureWindow", old.Proxy.FailureWindow, next.Proxy.FailureWindow)
	check("Proxy.Cooldown", old.Proxy.Cooldown, next.Proxy.Cooldown)
	check("CORS.AllowedOrigins", old.CORS.AllowedOrigins, next.CORS.AllowedOrigins)

	return changes
}

// applyReloadable returns a copy of old with every liveReloadable field
// taken from next, leaving every restart-only field untouched.
func applyReloadable(old, next *Config) *Config {
	applied := *old
	applied.RateLimit.RPS = next.RateLimit.RPS
	applied.RateLimit.Burst = next.RateLimit.Burst
	applied.Router.QueueCap = next.Router.QueueCap
	applied.Router.AdmissionTimeout = next.Router.AdmissionTimeout
	applied.Router.MaxPerTenant = next.Router.MaxPerTenant
	applied.Health.DefaultInterval = next.Health.DefaultInterval
	applied.Proxy.FailureThreshold = next.Proxy.FailureThreshold
	applied.Proxy.FailureWindow = next.Proxy.FailureWindow
	applied.Proxy.Cooldown = next.Proxy.Cooldown
	applied.CORS.AllowedOrigins = next.CORS.AllowedOrigins
	return &applied
}
