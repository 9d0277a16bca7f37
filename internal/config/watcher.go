package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the configuration when the config file changes on disk
// and hands the fresh copy to a callback. Used for hook-setting hot reload
// without restarting the engine.
type Watcher struct {
	logger   zerolog.Logger
	loader   *Loader
	onChange func(*Config)
	fw       *fsnotify.Watcher
	done     chan struct{}
}

// NewWatcher creates a watcher over the loader's config file.
func NewWatcher(loader *Loader, onChange func(*Config), logger zerolog.Logger) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange callback is required")
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}

	// Watch the directory, not the file: editors replace files on save and
	// a direct file watch dies with the old inode.
	dir := filepath.Dir(loader.GetConfigPath())
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch config directory: %w", err)
	}

	w := &Watcher{
		logger:   logger.With().Str("component", "config-watcher").Logger(),
		loader:   loader,
		onChange: onChange,
		fw:       fw,
		done:     make(chan struct{}),
	}
	go w.watch()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}

func (w *Watcher) watch() {
	target := w.loader.GetConfigPath()
	var debounce <-chan time.Time

	for {
		select {
		case <-w.done:
			return

		case event, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if event.Name != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			// Editors fire bursts of events per save.
			debounce = time.After(200 * time.Millisecond)

		case <-debounce:
			debounce = nil
			cfg, err := w.loader.Load()
			if err != nil {
				w.logger.Warn().Err(err).Msg("Config reload failed, keeping previous configuration")
				continue
			}
			if err := cfg.Validate(); err != nil {
				w.logger.Warn().Err(err).Msg("Reloaded config invalid, keeping previous configuration")
				continue
			}
			w.logger.Info().Msg("Configuration reloaded")
			w.onChange(cfg)

		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("Config watcher error")
		}
	}
}
