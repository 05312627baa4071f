// Package watch reports file changes under a set of paths as a debounced,
// at-least-once notification stream.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Config controls the watcher.
type Config struct {
	// Debounce is how long the tree must stay quiet before a change is reported.
	Debounce time.Duration `mapstructure:"debounce"`

	// Ignore lists base-name patterns (filepath.Match) whose changes are
	// ignored. Matching directories are not watched.
	Ignore []string `mapstructure:"ignore"`
}

// DefaultConfig returns the configuration used when nothing is set.
func DefaultConfig() Config {
	return Config{
		Debounce: 2 * time.Second,
		Ignore:   []string{".*", "*.wasm", "*~"},
	}
}

// Validate validates the configuration
func (cfg *Config) Validate() error {
	if cfg.Debounce < 0 {
		return errors.New("debounce must not be negative")
	}
	for _, p := range cfg.Ignore {
		if _, err := filepath.Match(p, ""); err != nil {
			return fmt.Errorf("ignore pattern %q: %w", p, err)
		}
	}
	return nil
}

// Watcher coalesces bursts of file events into single notifications. A
// notification is never dropped: while one is pending, later changes are
// covered by it.
type Watcher struct {
	cfg     Config
	logger  *zap.Logger
	fs      *fsnotify.Watcher
	changes chan struct{}
}

// New watches paths. Directories are watched recursively.
func New(cfg Config, logger *zap.Logger, paths ...string) (*Watcher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch: %w", err)
	}
	w := &Watcher{cfg: cfg, logger: logger, fs: fw, changes: make(chan struct{}, 1)}
	for _, p := range paths {
		if err := w.add(p); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// Changes delivers one value per debounced burst of changes.
func (w *Watcher) Changes() <-chan struct{} {
	return w.changes
}

// Run processes events until ctx ends or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) error {
	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.cfg.Debounce)
		} else {
			timer.Reset(w.cfg.Debounce)
		}
		fire = timer.C
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("file changed", zap.String("path", ev.Name), zap.String("op", ev.Op.String()))
			if ev.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.add(ev.Name); err != nil {
						w.logger.Warn("failed to watch new directory", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
			arm()

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))
			// Events may have been lost.
			arm()

		case <-fire:
			fire = nil
			select {
			case w.changes <- struct{}{}:
			default:
			}
		}
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.fs.Close()
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if ev.Op == fsnotify.Chmod {
		return false
	}
	return !w.ignored(filepath.Base(ev.Name))
}

func (w *Watcher) ignored(name string) bool {
	for _, p := range w.cfg.Ignore {
		if ok, _ := filepath.Match(p, name); ok {
			return true
		}
	}
	return false
}

// add watches path, and every directory below it that is not ignored.
func (w *Watcher) add(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	if !info.IsDir() {
		return w.fs.Add(path)
	}
	return filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != path && w.ignored(d.Name()) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}
