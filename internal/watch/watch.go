// Package watch keeps a Storage in sync with a directory of training configs.
package watch

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/eugenenazirov/trainconf/internal/hparams"
	"github.com/eugenenazirov/trainconf/internal/lint"
	"github.com/eugenenazirov/trainconf/internal/metrics"
	"github.com/eugenenazirov/trainconf/internal/storage"
)

const defaultDebounce = 500 * time.Millisecond

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounce sets how long to wait after the last event for a file before
// reloading it.
func WithDebounce(d time.Duration) Option {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// WithStrict treats unknown keys as errors.
func WithStrict(strict bool) Option {
	return func(w *Watcher) {
		w.strict = strict
	}
}

// Watcher mirrors the YAML files of a directory into a Storage. A file is
// stored under its base name without extension; files with validation errors
// are rejected and leave the stored revision untouched.
type Watcher struct {
	dir      string
	store    storage.Storage
	logger   *zap.Logger
	debounce time.Duration
	strict   bool

	mu     sync.Mutex
	timers map[string]*time.Timer
	wg     sync.WaitGroup
}

// New creates a Watcher for dir.
func New(dir string, store storage.Storage, logger *zap.Logger, opts ...Option) *Watcher {
	w := &Watcher{
		dir:      dir,
		store:    store,
		logger:   logger,
		debounce: defaultDebounce,
		timers:   make(map[string]*time.Timer),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// NameForPath returns the storage name used for a config file.
func NameForPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Scan loads every config file currently in the directory.
func (w *Watcher) Scan(ctx context.Context) error {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return fmt.Errorf("read config dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !lint.IsConfigFile(entry.Name()) {
			continue
		}
		w.reload(ctx, filepath.Join(w.dir, entry.Name()))
	}
	return nil
}

// Run scans the directory and then applies changes until ctx is cancelled.
// It returns once the watch loop and all pending reloads have finished.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}
	if err := w.Scan(ctx); err != nil {
		return err
	}

	w.logger.Info("watching config directory", zap.String("dir", w.dir))
	defer w.stopTimers()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped")
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !lint.IsConfigFile(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
				w.cancelTimer(event.Name)
				w.remove(ctx, event.Name)
			case event.Has(fsnotify.Write) || event.Has(fsnotify.Create):
				w.schedule(ctx, event.Name)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Error("config watcher error", zap.Error(err))
		}
	}
}

// schedule debounces reloads per file: editors often write a file in
// several steps.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.timers[path]; ok && t.Stop() {
		w.wg.Done()
	}
	w.wg.Add(1)
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		defer w.wg.Done()
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		w.reload(ctx, path)
	})
}

func (w *Watcher) cancelTimer(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
}

func (w *Watcher) stopTimers() {
	w.mu.Lock()
	for path, t := range w.timers {
		if t.Stop() {
			w.wg.Done()
		}
		delete(w.timers, path)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) reload(ctx context.Context, path string) {
	name := NameForPath(path)
	logger := w.logger.With(zap.String("path", path), zap.String("name", name))

	doc, err := hparams.LoadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.remove(ctx, path)
			return
		}
		metrics.ReloadsTotal.WithLabelValues("rejected").Inc()
		logger.Warn("config rejected", zap.Error(err))
		return
	}

	report := hparams.Validate(doc, hparams.Options{Strict: w.strict})
	metrics.ObserveReport("watch", report)
	if err := report.Err(); err != nil {
		metrics.ReloadsTotal.WithLabelValues("rejected").Inc()
		logger.Warn("config rejected", zap.Error(err), zap.Int("issues", len(report.Issues)))
		return
	}

	before, _ := w.store.Get(ctx, name)
	rev, err := w.store.Put(ctx, name, doc)
	if err != nil {
		metrics.ReloadsTotal.WithLabelValues("error").Inc()
		logger.Error("store config", zap.Error(err))
		return
	}
	if rev.Version == before.Version {
		metrics.ReloadsTotal.WithLabelValues("unchanged").Inc()
		logger.Debug("config unchanged", zap.Int("version", rev.Version))
		return
	}

	metrics.ReloadsTotal.WithLabelValues("stored").Inc()
	w.refreshGauge(ctx)
	logger.Info("config stored",
		zap.Int("version", rev.Version),
		zap.Int("warnings", len(report.Warnings())),
	)
}

func (w *Watcher) remove(ctx context.Context, path string) {
	name := NameForPath(path)
	err := w.store.Delete(ctx, name)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return
	case err != nil:
		metrics.ReloadsTotal.WithLabelValues("error").Inc()
		w.logger.Error("delete config", zap.String("name", name), zap.Error(err))
		return
	}
	metrics.ReloadsTotal.WithLabelValues("removed").Inc()
	w.refreshGauge(ctx)
	w.logger.Info("config removed", zap.String("name", name))
}

func (w *Watcher) refreshGauge(ctx context.Context) {
	if revs, err := w.store.List(ctx); err == nil {
		metrics.StoredConfigs.Set(float64(len(revs)))
	}
}
