// Package watcher turns a directory of entity feed files into store mutations.
//
// A feed file is named "<type>_<id>.json" and holds the entity fields as a JSON
// object. Writing the file saves the entity; removing or renaming it away deletes it.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kura/internal/fileid"
	"github.com/hyperjump/kura/internal/models"
	"github.com/hyperjump/kura/pkg/utils"
)

const defaultDebounce = 500 * time.Millisecond

// Sink receives the entity signals derived from feed events.
type Sink interface {
	EntitySaved(ctx context.Context, e models.Entity, created bool) error
	EntityDeleted(ctx context.Context, t models.EntityType, id string) error
}

type pending struct {
	timer   *time.Timer
	created bool
}

// Watcher watches one feed directory and forwards changes to a Sink.
type Watcher struct {
	dir      string
	sink     Sink
	debounce time.Duration
	watcher  *fsnotify.Watcher
	mu       sync.Mutex
	pending  map[string]*pending
	ctx      context.Context
	done     chan struct{}
	started  bool
	stopOnce sync.Once
	logger   *zap.Logger
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithLogger sets the logger for feed events.
func WithLogger(l *zap.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets how long a file must stay quiet before it is read.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// NewWatcher creates a watcher for dir that forwards to sink.
func NewWatcher(dir string, sink Sink, opts ...WatcherOption) *Watcher {
	w := &Watcher{
		dir:      filepath.Clean(dir),
		sink:     sink,
		debounce: defaultDebounce,
		pending:  make(map[string]*pending),
		ctx:      context.Background(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = utils.OrNop(w.logger)
	return w
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Start creates the directory if needed and begins watching it. It runs until
// ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.started {
		return nil
	}
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fw.Add(w.dir); err != nil {
		_ = fw.Close()
		return err
	}
	w.watcher = fw
	w.ctx = ctx
	w.started = true
	w.logger.Debug("feed watcher starting", zap.String("dir", w.dir), zap.Duration("debounce", w.debounce))
	go w.run(ctx, fw)
	return nil
}

func (w *Watcher) run(ctx context.Context, fw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fw.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-fw.Errors:
			if !ok {
				return
			}
			if err != nil {
				w.logger.Warn("feed watcher error", zap.Error(err))
			}
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if !inDir(w.dir, path) {
		return
	}
	ident, ok := fileid.ParseFileName(path, fileid.FeedExt)
	if !ok {
		return
	}
	w.logger.Debug("feed event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch {
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		w.cancelDebounce(path)
		// A rename may replace the file with a new one at the same path.
		if _, err := os.Stat(path); err == nil {
			w.debounceSave(path, false)
			return
		}
		w.remove(ident)
	case ev.Has(fsnotify.Create):
		w.debounceSave(path, true)
	case ev.Has(fsnotify.Write):
		w.debounceSave(path, false)
	}
}

// inDir reports whether path sits directly in dir.
func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != "." && !strings.Contains(rel, string(filepath.Separator)) && rel != ".."
}

func (w *Watcher) debounceSave(path string, created bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		created = created || p.created
	}
	p := &pending{created: created}
	p.timer = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		if w.pending[path] != p {
			w.mu.Unlock()
			return
		}
		delete(w.pending, path)
		ctx := w.ctx
		w.mu.Unlock()
		if err := w.save(ctx, path, p.created); err != nil {
			w.logger.Warn("feed file skipped", zap.String("path", path), zap.Error(err))
		}
	})
	w.pending[path] = p
}

func (w *Watcher) cancelDebounce(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Watcher) save(ctx context.Context, path string, created bool) error {
	ident, ok := fileid.ParseFileName(path, fileid.FeedExt)
	if !ok {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	e, err := models.DecodeEntity(ident.Type, ident.ID, data)
	if err != nil {
		return err
	}
	return w.sink.EntitySaved(ctx, e, created)
}

func (w *Watcher) remove(ident models.Identity) {
	w.mu.Lock()
	ctx := w.ctx
	w.mu.Unlock()
	if err := w.sink.EntityDeleted(ctx, ident.Type, ident.ID); err != nil {
		w.logger.Debug("feed delete not applied", zap.String("entity", ident.String()), zap.Error(err))
	}
}

// SyncExisting saves every feed file already present in the directory. It
// returns the number of files saved and the joined errors of those that failed.
func (w *Watcher) SyncExisting(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	w.logger.Debug("feed watcher syncing existing files", zap.String("dir", w.dir), zap.Int("entries", len(entries)))
	var (
		saved int
		errs  []error
	)
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return saved, err
		}
		path := filepath.Join(w.dir, entry.Name())
		if _, ok := fileid.ParseFileName(path, fileid.FeedExt); !ok {
			continue
		}
		if err := w.save(ctx, path, false); err != nil {
			errs = append(errs, err)
			continue
		}
		saved++
	}
	return saved, errors.Join(errs...)
}

// Stop stops the watcher and drops pending saves.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started || w.watcher == nil {
		w.mu.Unlock()
		return
	}
	for path, p := range w.pending {
		p.timer.Stop()
		delete(w.pending, path)
	}
	_ = w.watcher.Close()
	w.watcher = nil
	w.started = false
	w.mu.Unlock()
	w.stopOnce.Do(func() { close(w.done) })
}
