package config

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/wudi/petshop/internal/logging"
	"go.uber.org/zap"
)

// Watcher reloads the configuration file when it changes on disk. Only a
// subset of the configuration is hot: subscribers decide what to apply.
type Watcher struct {
	watcher    *fsnotify.Watcher
	loader     *Loader
	configPath string
	callbacks  []func(*Config)
	mu         sync.RWMutex
	debounce   time.Duration
	lastConfig *Config
	done       chan struct{}
	stopOnce   sync.Once
}

// NewWatcher creates a new configuration watcher
func NewWatcher(configPath string) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		watcher:    fsWatcher,
		loader:     NewLoader(),
		configPath: configPath,
		callbacks:  make([]func(*Config), 0),
		debounce:   500 * time.Millisecond,
		done:       make(chan struct{}),
	}

	// Load initial config
	cfg, err := w.loader.Load(configPath)
	if err != nil {
		fsWatcher.Close()
		return nil, err
	}
	w.lastConfig = cfg

	return w, nil
}

// OnChange registers a callback for config changes
func (w *Watcher) OnChange(callback func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, callback)
}

// Start begins watching for configuration changes
func (w *Watcher) Start() error {
	// Watch the directory so editors that replace the file are still seen
	dir := filepath.Dir(w.configPath)
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go w.watch()
	return nil
}

func (w *Watcher) watch() {
	var debounceTimer *time.Timer

	for {
		select {
		case <-w.done:
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != filepath.Base(w.configPath) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}

			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.getDebounce(), w.reload)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("config watcher error", zap.Error(err))
		}
	}
}

// reload loads the config and notifies callbacks. A file that fails to parse
// or validate leaves the previous configuration in place.
func (w *Watcher) reload() {
	cfg, err := w.loader.Load(w.configPath)
	if err != nil {
		logging.Error("failed to reload config", zap.String("path", w.configPath), zap.Error(err))
		return
	}

	w.mu.Lock()
	w.lastConfig = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	logging.Info("configuration reloaded", zap.String("path", w.configPath))

	for _, cb := range callbacks {
		cb(cfg)
	}
}

// GetConfig returns the current configuration
func (w *Watcher) GetConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastConfig
}

// Stop stops watching for changes
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.watcher.Close()
	})
	return err
}

// SetDebounce sets the debounce duration for file changes
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounce = d
	w.mu.Unlock()
}

func (w *Watcher) getDebounce() time.Duration {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.debounce
}
