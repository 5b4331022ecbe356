package tinct

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/jward/tinct/internal/cache"
	"github.com/jward/tinct/internal/metrics"
	"github.com/jward/tinct/internal/runtime"
	"github.com/jward/tinct/internal/scope"
	"github.com/jward/tinct/internal/store"
	"github.com/jward/tinct/internal/syntax"
	"github.com/jward/tinct/internal/workspace"
	"github.com/jward/tinct/scripts"
)

// scriptsHashKey is the metadata key holding the hash of the scripts that
// produced the persisted classifications.
const scriptsHashKey = "scripts_hash"

// Engine orchestrates classification: scope narrowing, the per-workspace
// cache, the classifier and the write-behind path.
type Engine struct {
	store            *store.Store      // nil unless the SQLite backend is in use
	persistence      cache.Persistence // nil means memory only
	closePersistence func() error
	persistenceSet   bool

	classifier Classifier
	runtime    *runtime.Runtime
	scriptsDir string
	scriptsFS  fs.FS
	parse      SyntaxFunc

	workspaces *workspace.Registry
	logger     *zap.Logger
	registerer prometheus.Registerer
	metrics    *metrics.Metrics
	maxDocs    int
	workers    int
}

// SyntaxFunc parses doc for scope narrowing. A nil Syntax with a nil error
// means the document cannot be narrowed. release frees parser resources
// and must be called once the Syntax is no longer used.
type SyntaxFunc func(ctx context.Context, doc Document) (syn scope.Syntax, release func(), err error)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the Engine's logger. Components log through named
// children of it.
func WithLogger(l *zap.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithRegisterer registers the Engine's Prometheus collectors with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(e *Engine) {
		e.registerer = reg
	}
}

// WithPersistence replaces the SQLite store opened from dbPath with p. A nil
// p keeps every cache memory only. closeFn, if non-nil, runs on Close.
func WithPersistence(p cache.Persistence, closeFn func() error) Option {
	return func(e *Engine) {
		e.persistence = p
		e.closePersistence = closeFn
		e.persistenceSet = true
	}
}

// WithClassifier replaces the script-based classifier.
func WithClassifier(c Classifier) Option {
	return func(e *Engine) {
		e.classifier = c
	}
}

// WithSyntax replaces the tree-sitter parser used for scope narrowing.
func WithSyntax(fn SyntaxFunc) Option {
	return func(e *Engine) {
		e.parse = fn
	}
}

// WithScriptsFS configures the Engine to load Risor scripts from the given
// filesystem instead of from the scriptsDir path on disk. When neither is
// set, the embedded scripts are used.
func WithScriptsFS(fsys fs.FS) Option {
	return func(e *Engine) {
		e.scriptsFS = fsys
	}
}

// WithMaxCachedDocuments overrides cache.MaxCachedDocumentCount for every
// workspace cache.
func WithMaxCachedDocuments(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxDocs = n
		}
	}
}

// WithWorkers bounds the concurrency of bulk write-behind.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// New creates an Engine backed by a SQLite database at dbPath, unless
// WithPersistence supplies another backend. An empty dbPath without
// WithPersistence keeps caches in memory only.
//
// Script loading priority:
//  1. If WithScriptsFS is set, use the provided fs.FS
//  2. Otherwise, if scriptsDir is non-empty, use scriptsDir on disk
//  3. Otherwise, use the embedded scripts
func New(dbPath string, scriptsDir string, opts ...Option) (*Engine, error) {
	e := &Engine{
		scriptsDir: scriptsDir,
		logger:     zap.NewNop(),
		maxDocs:    cache.MaxCachedDocumentCount,
		workers:    goruntime.NumCPU(),
		parse:      parseSyntax,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.scriptsFS == nil && e.scriptsDir == "" {
		e.scriptsFS = scripts.FS
	}

	if !e.persistenceSet && dbPath != "" {
		s, err := store.NewStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("tinct: create store: %w", err)
		}
		if err := s.Migrate(); err != nil {
			s.Close()
			return nil, fmt.Errorf("tinct: migrate: %w", err)
		}
		e.store = s
		e.persistence = s
		e.closePersistence = s.Close
	}

	var rtOpts []runtime.RuntimeOption
	if e.scriptsFS != nil {
		rtOpts = append(rtOpts, runtime.WithRuntimeFS(e.scriptsFS))
	}
	rtOpts = append(rtOpts, runtime.WithRuntimeLogger(e.logger.Named("runtime")))
	e.runtime = runtime.NewRuntime(e.scriptsDir, rtOpts...)
	if e.classifier == nil {
		e.classifier = e.runtime
	}

	e.metrics = metrics.New(e.registerer)
	e.workspaces = workspace.NewRegistry(e.newCache, workspace.WithLoadedHook(e.onLoaded))

	if err := e.invalidateIfScriptsChanged(context.Background()); err != nil {
		e.Close()
		return nil, err
	}
	return e, nil
}

// Close releases the Engine's persistence resources.
func (e *Engine) Close() error {
	if e.closePersistence == nil {
		return nil
	}
	return e.closePersistence()
}

// Store returns the SQLite store, or nil when another backend is in use.
func (e *Engine) Store() *store.Store {
	return e.store
}

// Metrics returns the Engine's collectors.
func (e *Engine) Metrics() *metrics.Metrics {
	return e.metrics
}

func (e *Engine) newCache(id string) *cache.Store {
	return cache.New(e.persistence,
		cache.WithLogger(e.logger.Named("cache").With(zap.String("workspace", id))),
		cache.WithMetrics(e.metrics),
		cache.WithCapacity(e.maxDocs),
	)
}

func (e *Engine) onLoaded(w *workspace.Workspace) {
	n := w.Cache().Seal()
	e.logger.Info("Workspace fully loaded",
		zap.String("workspace", w.ID()), zap.Int("dropped_entries", n))
}

// Workspace returns the workspace for project, opening it if needed.
func (e *Engine) Workspace(project string) *workspace.Workspace {
	return e.workspaces.Open(project)
}

// MarkLoaded signals that project is fully loaded. From then on its cache
// tier is bypassed, its in-memory entries are dropped and the memory tier
// stops taking new ones. Reports whether this call completed the signal.
func (e *Engine) MarkLoaded(project string) bool {
	return e.workspaces.Open(project).MarkLoaded()
}

// CloseWorkspace forgets project's workspace and its in-memory entries.
func (e *Engine) CloseWorkspace(project string) bool {
	return e.workspaces.Close(project)
}

// Workspaces returns the ids of the open workspaces.
func (e *Engine) Workspaces() []string {
	return e.workspaces.IDs()
}

func parseSyntax(ctx context.Context, doc Document) (scope.Syntax, func(), error) {
	tree, err := syntax.Parse(ctx, doc.Language, doc.Content)
	if err != nil {
		if errors.Is(err, syntax.ErrUnsupportedLanguage) {
			return nil, func() {}, nil
		}
		return nil, func() {}, err
	}
	return tree, tree.Close, nil
}

// metadataStore is implemented by backends that can track which scripts
// produced their streams.
type metadataStore interface {
	GetMetadata(ctx context.Context, key string) (string, error)
	SetMetadata(ctx context.Context, key, value string) error
	Purge(ctx context.Context, name string) (int64, error)
}

// scriptsHash computes a SHA-256 hash of all Risor scripts. Walks the
// scriptsFS or scriptsDir to find all .risor files, sorts them by path, and
// hashes their concatenated contents. Returns hex-encoded hash string.
func (e *Engine) scriptsHash() string {
	var paths []string

	if e.scriptsFS != nil {
		fs.WalkDir(e.scriptsFS, ".", func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() && strings.HasSuffix(path, ".risor") {
				paths = append(paths, path)
			}
			return nil
		})
	} else if e.scriptsDir != "" {
		filepath.WalkDir(e.scriptsDir, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil
			}
			if !d.IsDir() && strings.HasSuffix(path, ".risor") {
				rel, _ := filepath.Rel(e.scriptsDir, path)
				paths = append(paths, rel)
			}
			return nil
		})
	}

	sort.Strings(paths)

	h := sha256.New()
	for _, p := range paths {
		src, err := e.runtime.LoadScript(p)
		if err != nil {
			continue
		}
		h.Write([]byte(p))
		h.Write([]byte(src))
	}
	return fmt.Sprintf("%x", h.Sum(nil))
}

// invalidateIfScriptsChanged purges persisted classifications produced by
// other scripts. Their checksums still match the documents but their spans
// do not match what the current scripts would emit.
func (e *Engine) invalidateIfScriptsChanged(ctx context.Context) error {
	ms, ok := e.persistence.(metadataStore)
	if !ok {
		return nil
	}
	current := e.scriptsHash()
	stored, err := ms.GetMetadata(ctx, scriptsHashKey)
	if err != nil {
		return fmt.Errorf("tinct: read scripts hash: %w", err)
	}
	if stored == current {
		return nil
	}
	if stored != "" {
		n, err := ms.Purge(ctx, cache.PersistenceName)
		if err != nil {
			return fmt.Errorf("tinct: purge stale classifications: %w", err)
		}
		e.logger.Info("Scripts changed, purged persisted classifications", zap.Int64("streams", n))
	}
	if err := ms.SetMetadata(ctx, scriptsHashKey, current); err != nil {
		return fmt.Errorf("tinct: store scripts hash: %w", err)
	}
	return nil
}
