package config

import (
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher hot-reloads the config file. Consensus thresholds, weight
// profiles, and mode parameters take effect without a restart; a file
// that fails validation is ignored and the last good config stays
// active.
type Watcher struct {
	path     string
	logger   *zap.Logger
	onReload func(*Config)
	fw       *fsnotify.Watcher
	done     chan struct{}
}

// Watch starts watching path and invokes onReload with each
// successfully loaded config.
func Watch(path string, onReload func(*Config), logger *zap.Logger) (*Watcher, error) {
	if path == "" || onReload == nil {
		return nil, fmt.Errorf("path and reload callback are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating config watcher: %w", err)
	}
	// Watch the directory: editors and config management tools replace
	// the file rather than writing it in place.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watching config directory: %w", err)
	}

	w := &Watcher{
		path:     path,
		logger:   logger,
		onReload: onReload,
		fw:       fw,
		done:     make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *Watcher) run() {
	for {
		select {
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != filepath.Base(w.path) {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			cfg, err := LoadWithFile(w.path)
			if err != nil {
				w.logger.Warn("config reload rejected, keeping last good config",
					zap.String("path", w.path), zap.Error(err))
				continue
			}
			w.logger.Info("config reloaded", zap.String("path", w.path))
			w.onReload(cfg)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", zap.Error(err))
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	close(w.done)
	return w.fw.Close()
}
