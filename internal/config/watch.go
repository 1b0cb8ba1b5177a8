package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Watcher re-reads the config file on change and hands validated
// configurations to the registered callbacks. Invalid files are reported
// through onError and the previous configuration stays in effect.
type Watcher struct {
	configFile string
	onError    func(error)

	mu        sync.Mutex
	callbacks []func(*Config)
	current   *Config
}

func NewWatcher(configFile string, initial *Config, onError func(error)) *Watcher {
	if onError == nil {
		onError = func(error) {}
	}
	return &Watcher{
		configFile: configFile,
		onError:    onError,
		current:    initial,
	}
}

func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, fn)
}

func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start begins watching the file. It returns after the watch is registered.
func (w *Watcher) Start() {
	v := newViper(w.configFile)
	if err := v.ReadInConfig(); err != nil {
		w.onError(fmt.Errorf("failed to read config file %s: %w", w.configFile, err))
	}

	v.OnConfigChange(func(e fsnotify.Event) {
		if !e.Has(fsnotify.Write) && !e.Has(fsnotify.Create) {
			return
		}
		w.reload()
	})
	v.WatchConfig()
}

func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.configFile)
	if err != nil {
		w.onError(err)
		return
	}
	w.apply(cfg)
}

func (w *Watcher) apply(cfg *Config) {
	w.mu.Lock()
	w.current = cfg
	callbacks := append([]func(*Config){}, w.callbacks...)
	w.mu.Unlock()

	for _, fn := range callbacks {
		fn(cfg)
	}
}

// Hot holds the settings that take effect without a restart.
type Hot struct {
	Batching    BatchingConfig
	Suppression SuppressionConfig
	LogLevel    string
}

func (c *Config) Hot() Hot {
	return Hot{
		Batching:    c.Batching,
		Suppression: c.Suppression,
		LogLevel:    c.Logging.Level,
	}
}

// WatchHot starts a watcher that forwards only the hot-reloadable sections.
func WatchHot(configFile string, initial *Config, onError func(error), fn func(Hot)) *Watcher {
	w := NewWatcher(configFile, initial, onError)
	w.OnChange(func(cfg *Config) {
		fn(cfg.Hot())
	})
	w.Start()
	return w
}
