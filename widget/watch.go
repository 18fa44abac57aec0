package widget

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes below a set of directories, typically the build
// and development roots, or to single files. Roots that do not exist yet are picked up when
// they are created, provided their parent exists.
type Watcher struct {
	roots    []string
	debounce time.Duration
	log      *slog.Logger
	onChange func(context.Context)
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounce coalesces bursts of events (a rebuild writes many files)
// into one callback. Defaults to 200ms; zero disables debouncing.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// WithWatcherLogger sets the logger.
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher returns a watcher calling onChange after changes below roots.
// Empty roots are ignored.
func NewWatcher(roots []string, onChange func(context.Context), opts ...WatcherOption) *Watcher {
	w := &Watcher{debounce: 200 * time.Millisecond, log: slog.Default(), onChange: onChange}
	for _, r := range roots {
		if r == "" {
			continue
		}
		if abs, err := filepath.Abs(r); err == nil {
			r = abs
		}
		w.roots = append(w.roots, filepath.Clean(r))
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Run watches until ctx is done. It returns nil on cancellation and an
// error if the platform watcher cannot be created.
func (w *Watcher) Run(ctx context.Context) error {
	if len(w.roots) == 0 {
		<-ctx.Done()
		return nil
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer func() { _ = fw.Close() }()

	for _, root := range w.roots {
		// Missing roots and single files are watched through their parent,
		// which also survives editors that replace files on save.
		if fi, err := os.Stat(root); errors.Is(err, fs.ErrNotExist) || (err == nil && !fi.IsDir()) {
			if err := fw.Add(filepath.Dir(root)); err != nil {
				w.log.DebugContext(ctx, "widget.watch.add_failed", slog.String("path", root), slog.String("err", err.Error()))
			}
			continue
		}
		w.addTree(ctx, fw, root)
	}

	d := &debouncer{interval: w.debounce, fire: func() { w.onChange(ctx) }}
	defer d.stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					w.addTree(ctx, fw, ev.Name)
				}
			}
			w.log.DebugContext(ctx, "widget.watch.event", slog.String("path", ev.Name), slog.String("op", ev.Op.String()))
			d.trigger()
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.WarnContext(ctx, "widget.watch.error", slog.String("err", err.Error()))
		}
	}
}

func (w *Watcher) addTree(ctx context.Context, fw *fsnotify.Watcher, dir string) {
	_ = filepath.WalkDir(dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if err := fw.Add(p); err != nil {
			w.log.DebugContext(ctx, "widget.watch.add_failed", slog.String("path", p), slog.String("err", err.Error()))
		}
		return nil
	})
}

func (w *Watcher) relevant(name string) bool {
	for _, root := range w.roots {
		if name == root || within(name, root) {
			return true
		}
	}
	return false
}

type debouncer struct {
	mu       sync.Mutex
	timer    *time.Timer
	interval time.Duration
	fire     func()
}

func (d *debouncer) trigger() {
	if d.interval <= 0 {
		d.fire()
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer == nil {
		d.timer = time.AfterFunc(d.interval, d.fire)
		return
	}
	d.timer.Reset(d.interval)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}
