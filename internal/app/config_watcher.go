package app

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"computemesh/internal/domain"
	"computemesh/internal/infra/config"
)

const defaultReloadDebounce = 200 * time.Millisecond

// TimeoutStore holds the per-operation deadlines the gateway reads on every request.
type TimeoutStore struct {
	current atomic.Pointer[domain.TimeoutConfig]
}

func NewTimeoutStore(cfg domain.BrokerConfig) *TimeoutStore {
	store := &TimeoutStore{}
	store.Store(cfg.Timeouts)
	return store
}

func (s *TimeoutStore) Timeouts() domain.TimeoutConfig {
	if current := s.current.Load(); current != nil {
		return *current
	}
	return domain.TimeoutConfig{}
}

func (s *TimeoutStore) Store(timeouts domain.TimeoutConfig) {
	s.current.Store(&timeouts)
}

// ConfigWatcher reloads the config file on change and applies the hot-swappable
// parts: timeouts and log level. Other changes are logged and need a restart.
type ConfigWatcher struct {
	logger   *zap.Logger
	loader   *config.Loader
	path     string
	timeouts *TimeoutStore
	level    zap.AtomicLevel
	debounce time.Duration

	mu      sync.Mutex
	current domain.BrokerConfig
}

func NewConfigWatcher(serve ServeConfig, cfg domain.BrokerConfig, timeouts *TimeoutStore, logging Logging, logger *zap.Logger) *ConfigWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ConfigWatcher{
		logger:   logger.Named("config_watcher"),
		loader:   config.NewLoader(logger),
		path:     serve.ConfigPath,
		timeouts: timeouts,
		level:    logging.Level,
		debounce: defaultReloadDebounce,
		current:  cfg,
	}
}

// Run watches the config file's directory until ctx is done. Without a config
// path it returns immediately.
func (w *ConfigWatcher) Run(ctx context.Context) error {
	if w.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("config watcher failed", zap.Error(err))
		return nil
	}
	defer watcher.Close()

	dir := filepath.Dir(w.path)
	if err := watcher.Add(dir); err != nil {
		w.logger.Warn("config watcher add failed", zap.String("path", dir), zap.Error(err))
		return nil
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return nil
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
				continue
			}
			timer.Reset(w.debounce)
		case <-timerChan(timer):
			timer = nil
			if err := w.Reload(ctx); err != nil {
				w.logger.Warn("config reload failed", zap.Error(err))
			}
		}
	}
}

// Reload re-reads the config file and applies what can change at runtime.
func (w *ConfigWatcher) Reload(ctx context.Context) error {
	next, err := w.loader.Load(ctx, w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	prev := w.current
	if next.Timeouts != prev.Timeouts {
		w.timeouts.Store(next.Timeouts)
		w.logger.Info("timeouts reloaded",
			zap.Int("status_seconds", next.Timeouts.StatusSeconds),
			zap.Int("list_seconds", next.Timeouts.ListSeconds),
			zap.Int("command_seconds", next.Timeouts.CommandSeconds),
			zap.Int("broadcast_seconds", next.Timeouts.BroadcastSeconds),
			zap.Int("pull_seconds", next.Timeouts.PullSeconds),
			zap.Int("stream_seconds", next.Timeouts.StreamSeconds),
		)
	}
	if next.Log.Level != prev.Log.Level {
		if level, err := zapcore.ParseLevel(next.Log.Level); err == nil {
			w.level.SetLevel(level)
			w.logger.Info("log level reloaded", zap.String("level", next.Log.Level))
		}
	}

	fixed := next
	fixed.Timeouts = prev.Timeouts
	fixed.Log.Level = prev.Log.Level
	if fixed != prev {
		w.logger.Warn("config changes outside timeouts and log level need a restart", zap.String("path", w.path))
	}
	w.current = next
	return nil
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
