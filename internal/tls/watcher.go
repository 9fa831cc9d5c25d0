package tls

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/tlsgate/internal/observability"
)

// DefaultWatchDebounce coalesces the events of one key rotation, which
// usually rewrites certificate and key back to back.
const DefaultWatchDebounce = 250 * time.Millisecond

// ErrResourceWatcherStopped is returned when starting a stopped watcher.
var ErrResourceWatcherStopped = errors.New("resource watcher stopped")

// ResourceWatcher calls back when any of a set of key material files
// changes on disk. Parent directories are watched so that files replaced by
// rename are seen. The file set can change while the watcher runs.
type ResourceWatcher struct {
	fs            *fsnotify.Watcher
	onChange      func()
	logger        observability.Logger
	debounceDelay time.Duration

	mu      sync.Mutex
	files   map[string]bool
	dirs    map[string]bool
	running bool
	stopped bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// ResourceWatcherOption configures a ResourceWatcher.
type ResourceWatcherOption func(*ResourceWatcher)

// WithWatcherLogger sets the watcher logger.
func WithWatcherLogger(logger observability.Logger) ResourceWatcherOption {
	return func(w *ResourceWatcher) {
		w.logger = logger
	}
}

// WithWatchDebounce sets how long the watcher waits after the last event.
func WithWatchDebounce(delay time.Duration) ResourceWatcherOption {
	return func(w *ResourceWatcher) {
		w.debounceDelay = delay
	}
}

// NewResourceWatcher creates a watcher that calls onChange, from its own
// goroutine, once per burst of changes.
func NewResourceWatcher(onChange func(), opts ...ResourceWatcherOption) (*ResourceWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, WrapError(err, "failed to create file watcher")
	}

	w := &ResourceWatcher{
		fs:            fsw,
		onChange:      onChange,
		logger:        observability.NopLogger(),
		debounceDelay: DefaultWatchDebounce,
		files:         make(map[string]bool),
		dirs:          make(map[string]bool),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// SetFiles replaces the watched file set. Directories that can no longer be
// watched are reported in the returned error; the rest of the set is
// watched regardless.
func (w *ResourceWatcher) SetFiles(paths []string) error {
	files := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			abs = filepath.Clean(p)
		}
		files[abs] = true
		dirs[filepath.Dir(abs)] = true
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrResourceWatcherStopped
	}

	var errs []error
	for dir := range w.dirs {
		if !dirs[dir] {
			_ = w.fs.Remove(dir)
		}
	}
	for dir := range dirs {
		if w.dirs[dir] {
			continue
		}
		if err := w.fs.Add(dir); err != nil {
			errs = append(errs, WrapError(err, "failed to watch "+dir))
			delete(dirs, dir)
		}
	}

	w.files = files
	w.dirs = dirs
	w.logger.Debug("watching TLS resource files",
		observability.Int("files", len(files)),
		observability.Int("directories", len(dirs)),
	)
	return errors.Join(errs...)
}

// Files returns the watched files, sorted.
func (w *ResourceWatcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]string, 0, len(w.files))
	for f := range w.files {
		out = append(out, f)
	}
	slices.Sort(out)
	return out
}

// Start begins delivering change callbacks until Stop or ctx ends.
func (w *ResourceWatcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.stopped {
		return ErrResourceWatcherStopped
	}
	if w.running {
		return nil
	}
	w.running = true
	go w.loop(ctx)
	return nil
}

// Stop ends watching and releases the underlying watcher.
func (w *ResourceWatcher) Stop() error {
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		return nil
	}
	w.stopped = true
	running := w.running
	w.mu.Unlock()

	if running {
		close(w.stopCh)
		<-w.doneCh
	}
	return w.fs.Close()
}

func (w *ResourceWatcher) loop(ctx context.Context) {
	defer close(w.doneCh)

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if !w.relevant(ev) {
				continue
			}
			w.logger.Debug("TLS resource file changed",
				observability.String("path", ev.Name),
				observability.String("op", ev.Op.String()),
			)
			if timer == nil {
				timer = time.NewTimer(w.debounceDelay)
			} else {
				timer.Reset(w.debounceDelay)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			w.logger.Info("TLS resource files changed")
			if w.onChange != nil {
				w.onChange()
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("resource watcher error", observability.Error(err))
		}
	}
}

func (w *ResourceWatcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[filepath.Clean(ev.Name)]
}
