package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	ignore "github.com/sabhiram/go-gitignore"
	"go.uber.org/zap"

	"github.com/jward/tinct"
	"github.com/jward/tinct/internal/logger"
	"github.com/jward/tinct/internal/syntax"
)

// watcher keeps a repository's persisted classifications current by
// re-persisting supported files as they are written.
type watcher struct {
	root    string
	project string
	engine  *tinct.Engine
	fs      *fsnotify.Watcher
	ignore  *ignore.GitIgnore
	logger  *zap.Logger
	reg     *prometheus.Registry
	srv     *http.Server
}

func newWatcher(ctx context.Context, root, project string) (*watcher, error) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	engine, _, err := openEngine(ctx, root, reg)
	if err != nil {
		return nil, err
	}
	w, err := newEngineWatcher(engine, root, project, zlog)
	if err != nil {
		engine.Close()
		return nil, err
	}
	w.reg = reg
	return w, nil
}

// newEngineWatcher watches every non-excluded directory under root.
func newEngineWatcher(engine *tinct.Engine, root, project string, l *zap.Logger) (*watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		gi = nil
	}
	w := &watcher{
		root:    root,
		project: project,
		engine:  engine,
		fs:      fw,
		ignore:  gi,
		logger:  l.Named("watch"),
	}
	if err := w.addTree(root); err != nil {
		fw.Close()
		return nil, err
	}
	return w, nil
}

// Close stops watching, the metrics endpoint and the engine.
func (w *watcher) Close() error {
	if w.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.srv.Shutdown(ctx)
	}
	w.fs.Close()
	return w.engine.Close()
}

// ignored reports whether path, relative to root, is excluded from
// watching.
func (w *watcher) ignored(path string, dir bool) bool {
	rel, err := filepath.Rel(w.root, path)
	if err != nil || rel == "." {
		return false
	}
	if dir && tinct.IsExcludedDir(filepath.Base(path)) {
		return true
	}
	if w.ignore == nil {
		return false
	}
	rel = filepath.ToSlash(rel)
	if dir {
		rel += "/"
	}
	return w.ignore.MatchesPath(rel)
}

func (w *watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if w.ignored(path, true) {
			return filepath.SkipDir
		}
		if err := w.fs.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}

// Run warms the repository, marks the workspace loaded and handles file
// events until ctx is done.
func (w *watcher) Run(ctx context.Context) error {
	if cfg.Metrics.Addr != "" {
		w.serveMetrics(cfg.Metrics.Addr)
	}

	start := time.Now()
	stats, err := w.engine.WarmDirectory(ctx, w.project, w.root, true)
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		w.logger.Warn("Initial warm had errors", zap.Error(err))
	}
	if err := outputResult(CLIResult{
		Command: "watch",
		Results: toCLIPersistStats(w.project, w.root, stats, time.Since(start).Milliseconds()),
	}); err != nil {
		return err
	}
	w.logger.Info("Watching", zap.String("root", w.root), zap.Int("dirs", len(w.fs.WatchList())))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			w.handle(ctx, ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watch error", zap.Error(err))
		}
	}
}

// handle persists the file named by ev, forgets a removed or renamed one,
// or starts watching a newly created directory.
func (w *watcher) handle(ctx context.Context, ev fsnotify.Event) {
	log := w.logger.With(zap.String("path", ev.Name), zap.Stringer("op", ev.Op))
	ctx = logger.ContextWithLogger(ctx, log)
	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		w.forget(ctx, log, ev.Name)
		return
	}
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
		return
	}
	info, err := os.Stat(ev.Name)
	if err != nil {
		return
	}
	if info.IsDir() {
		if ev.Has(fsnotify.Create) {
			if err := w.addTree(ev.Name); err != nil {
				log.Warn("Failed to watch directory", zap.Error(err))
			}
		}
		return
	}
	if _, ok := syntax.LanguageForFile(ev.Name); !ok || w.ignored(ev.Name, false) {
		return
	}

	doc, err := tinct.LoadDocument(w.project, w.root, ev.Name)
	if err != nil {
		log.Debug("Skipping unreadable file", zap.Error(err))
		return
	}
	pctx, cancel := persistContext(ctx)
	defer cancel()
	written, err := w.engine.PersistDocument(pctx, doc)
	if err != nil {
		log.Warn("Failed to persist", zap.Stringer("document", doc.Key), zap.Error(err))
		return
	}
	if written {
		log.Debug("Persisted", zap.Stringer("document", doc.Key))
	}
}

// forget drops the classifications of a file that no longer exists at path.
func (w *watcher) forget(ctx context.Context, log *zap.Logger, path string) {
	if _, ok := syntax.LanguageForFile(path); !ok {
		return
	}
	rel, err := filepath.Rel(w.root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	key := tinct.DocumentKey{Project: w.project, Path: filepath.ToSlash(rel)}
	pctx, cancel := persistContext(ctx)
	defer cancel()
	if err := w.engine.DeleteDocument(pctx, key); err != nil {
		log.Warn("Failed to forget", zap.Stringer("document", key), zap.Error(err))
		return
	}
	log.Debug("Forgot", zap.Stringer("document", key))
}

func (w *watcher) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(w.reg, promhttp.HandlerOpts{}))

	w.srv = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		w.logger.Info("Metrics server listening", zap.String("addr", addr))
		if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			w.logger.Error("Metrics server failed", zap.Error(err))
		}
	}()
}
