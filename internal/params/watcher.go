package params

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reloads a parameters file whenever it changes on disk. Invalid
// files are logged and ignored; the last good Parameters stay current.
type Watcher struct {
	path     string
	log      *slog.Logger
	debounce time.Duration

	mu      sync.RWMutex
	current Parameters
	subs    []func(Parameters)
}

// NewWatcher loads path once and returns a Watcher holding the result.
func NewWatcher(path string, log *slog.Logger) (*Watcher, error) {
	p, err := Load(path)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Watcher{path: path, log: log, debounce: 100 * time.Millisecond, current: p}, nil
}

// Current returns the last successfully loaded Parameters.
func (w *Watcher) Current() Parameters {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current.Clone()
}

// OnReload registers fn to run after every successful reload. Register
// before calling Run.
func (w *Watcher) OnReload(fn func(Parameters)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.subs = append(w.subs, fn)
}

// Run watches the file's directory until ctx is done. Editors that replace
// the file by rename are handled by matching on the base name.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("params watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("params watcher: watch %q: %w", w.path, err)
	}
	name := filepath.Clean(w.path)

	var timer *time.Timer
	fire := make(chan struct{}, 1)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			w.reload()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("params watcher error", "err", err)
		}
	}
}

func (w *Watcher) reload() {
	p, err := Load(w.path)
	if err != nil {
		w.log.Error("params reload failed", "path", w.path, "err", err)
		return
	}
	w.mu.Lock()
	w.current = p
	subs := append([]func(Parameters){}, w.subs...)
	w.mu.Unlock()

	w.log.Info("params reloaded", "path", w.path)
	for _, fn := range subs {
		fn(p.Clone())
	}
}
