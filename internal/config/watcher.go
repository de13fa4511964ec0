package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Watcher reloads a config file when it changes on disk and hands the new
// Config to every registered callback.
type Watcher struct {
	v   *viper.Viper
	mu  sync.RWMutex
	cfg *Config

	callbacks []func(*Config)
	onError   func(error)
	stopped   bool
}

// NewWatcher requires an existing file; env overrides still apply on every reload.
func NewWatcher(path string) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config watcher needs a file path")
	}
	v, err := newViper(path)
	if err != nil {
		return nil, err
	}
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	return &Watcher{v: v, cfg: cfg}, nil
}

func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.cfg
}

func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

// OnError receives reload failures; the previous config stays current.
func (w *Watcher) OnError(fn func(error)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.onError = fn
}

func (w *Watcher) Start() {
	w.v.OnConfigChange(func(fsnotify.Event) {
		w.reload()
	})
	w.v.WatchConfig()
}

// Stop silences callbacks. viper offers no way to remove its fsnotify watch.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = true
}

func (w *Watcher) reload() {
	cfg, err := decode(w.v)

	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return
	}
	if err != nil {
		onError := w.onError
		w.mu.Unlock()
		if onError != nil {
			onError(err)
		}
		return
	}
	w.cfg = cfg
	callbacks := make([]func(*Config), len(w.callbacks))
	copy(callbacks, w.callbacks)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}
