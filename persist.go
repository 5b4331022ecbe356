package tinct

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	ignore "github.com/sabhiram/go-gitignore"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/jward/tinct/internal/cache"
	"github.com/jward/tinct/internal/codec"
	"github.com/jward/tinct/internal/logger"
	"github.com/jward/tinct/internal/metrics"
	"github.com/jward/tinct/internal/store"
	"github.com/jward/tinct/internal/syntax"
)

// PersistStats counts the outcome of a write-behind run.
type PersistStats struct {
	Written int
	Skipped int
	Failed  int
}

// PersistDocument classifies the whole of doc and writes the result to its
// workspace's cache, persisting it and making it the in-memory entry. It
// does nothing when the persistent tier already holds doc's checksum.
// Reports whether anything was written.
func (e *Engine) PersistDocument(ctx context.Context, doc Document) (bool, error) {
	c := e.workspaces.Open(doc.Key.Project).Cache()
	checksum := doc.Checksum()

	stored, ok, err := c.PersistedChecksum(ctx, doc.Key)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return false, ctxErr
		}
		logger.FromContext(ctx, e.logger).Warn("Failed to read persisted checksum",
			zap.Stringer("document", doc.Key), zap.Error(err))
	} else if ok && stored == checksum {
		e.metrics.IncPersist(metrics.PersistSkipped)
		return false, nil
	}

	spans, err := e.classifier.AddSemanticClassifications(ctx, doc, doc.FullSpan(), nil)
	if err != nil {
		e.metrics.IncPersist(metrics.PersistFailed)
		return false, fmt.Errorf("classify %s: %w", doc.Key, err)
	}
	if err := c.Write(ctx, doc.Key, checksum, spans); err != nil {
		e.metrics.IncPersist(metrics.PersistFailed)
		return false, fmt.Errorf("write %s: %w", doc.Key, err)
	}
	e.metrics.IncPersist(metrics.PersistWritten)
	return true, nil
}

// DeleteDocument drops key from its workspace's memory tier, if the
// workspace is open, and removes its persisted classifications.
func (e *Engine) DeleteDocument(ctx context.Context, key DocumentKey) error {
	c := e.newCache(key.Project)
	if ws, ok := e.workspaces.Get(key.Project); ok {
		c = ws.Cache()
	}
	if err := c.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// PersistDocuments persists many documents. Classification runs on a
// bounded worker pool; the encoded results are buffered and committed to
// the persistent tier in one batch. Unlike PersistDocument it does not
// populate the in-memory tier. Errors on individual documents are counted
// and the first is returned; processing continues.
func (e *Engine) PersistDocuments(ctx context.Context, docs []Document) (PersistStats, error) {
	var stats PersistStats
	if e.persistence == nil {
		var errs []error
		for _, doc := range docs {
			written, err := e.PersistDocument(ctx, doc)
			switch {
			case err != nil:
				stats.Failed++
				errs = append(errs, err)
			case written:
				stats.Written++
			default:
				stats.Skipped++
			}
		}
		return stats, summarize(ctx, errs)
	}

	batch := store.NewBatchedStore(e.persistence)
	var (
		mu   sync.Mutex
		errs []error
	)
	p := pool.New().WithMaxGoroutines(e.workers)
	for _, doc := range docs {
		p.Go(func() {
			written, err := e.persistInto(ctx, batch, doc)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				stats.Failed++
				errs = append(errs, err)
			case !written:
				stats.Skipped++
			}
		})
	}
	p.Wait()

	if err := ctx.Err(); err != nil {
		return stats, err
	}

	pending := batch.Len()
	n, err := batch.Commit(ctx)
	stats.Written += n
	for range n {
		e.metrics.IncPersist(metrics.PersistWritten)
	}
	if err != nil {
		stats.Failed += pending - n
		for range pending - n {
			e.metrics.IncPersist(metrics.PersistFailed)
		}
		errs = append(errs, err)
	}
	e.logger.Info("Persisted classifications",
		zap.Int("written", stats.Written), zap.Int("skipped", stats.Skipped), zap.Int("failed", stats.Failed))
	return stats, summarize(ctx, errs)
}

// persistInto classifies doc and buffers the encoded result in p unless p
// already holds doc's checksum.
func (e *Engine) persistInto(ctx context.Context, p cache.Persistence, doc Document) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	checksum := doc.Checksum()
	stored, ok, err := p.ReadChecksum(ctx, doc.Key, cache.PersistenceName)
	if err == nil && ok && stored == checksum {
		e.metrics.IncPersist(metrics.PersistSkipped)
		return false, nil
	}

	spans, err := e.classifier.AddSemanticClassifications(ctx, doc, doc.FullSpan(), nil)
	if err != nil {
		e.metrics.IncPersist(metrics.PersistFailed)
		return false, fmt.Errorf("classify %s: %w", doc.Key, err)
	}
	if err := p.WriteStream(ctx, doc.Key, cache.PersistenceName, codec.Encode(spans), checksum); err != nil {
		e.metrics.IncPersist(metrics.PersistFailed)
		return false, fmt.Errorf("buffer %s: %w", doc.Key, err)
	}
	return true, nil
}

func summarize(ctx context.Context, errs []error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(errs) > 0 {
		return fmt.Errorf("persist had %d error(s): %w", len(errs), errs[0])
	}
	return nil
}

// LoadDocument reads path and keys it by project and its slash-separated
// path relative to root.
func LoadDocument(project, root, path string) (Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Document{}, fmt.Errorf("read file: %w", err)
	}
	rel, err := filepath.Rel(root, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		rel = path
	}
	lang, _ := syntax.LanguageForFile(path)
	return Document{
		Key:      DocumentKey{Project: project, Path: filepath.ToSlash(rel)},
		Language: lang,
		Content:  content,
	}, nil
}

// WarmDirectory persists classifications for every supported file under
// root. If root is inside a git repository, uses git ls-files to respect
// .gitignore; otherwise walks the filesystem honouring root's .gitignore.
// When markLoaded is set, project is marked fully loaded once the files
// are persisted, even if some of them failed.
func (e *Engine) WarmDirectory(ctx context.Context, project, root string, markLoaded bool) (PersistStats, error) {
	paths, err := e.gitListFiles(root)
	if err != nil {
		// Not a git repo or git not available, fall back to walk.
		paths, err = e.walkListFiles(root)
		if err != nil {
			return PersistStats{}, err
		}
	}

	var (
		docs     []Document
		loadErrs []error
	)
	for _, path := range paths {
		doc, err := LoadDocument(project, root, path)
		if err != nil {
			loadErrs = append(loadErrs, fmt.Errorf("load %s: %w", path, err))
			continue
		}
		docs = append(docs, doc)
	}

	stats, err := e.PersistDocuments(ctx, docs)
	stats.Failed += len(loadErrs)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return stats, ctxErr
	}
	if markLoaded {
		e.MarkLoaded(project)
	}
	if err == nil && len(loadErrs) > 0 {
		err = fmt.Errorf("load had %d error(s): %w", len(loadErrs), loadErrs[0])
	}
	return stats, err
}

// skipDirs are excluded from the walk fallback.
var skipDirs = map[string]bool{
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// IsExcludedDir reports whether directories named name are never scanned:
// hidden directories and dependency or cache trees.
func IsExcludedDir(name string) bool {
	return strings.HasPrefix(name, ".") || skipDirs[name]
}

// gitListFiles uses git ls-files to discover tracked and untracked (but not
// ignored) files under root, filtered to supported languages.
func (e *Engine) gitListFiles(root string) ([]string, error) {
	// --cached: tracked files, --others: untracked files,
	// --exclude-standard: respect .gitignore, .git/info/exclude, global excludes.
	cmd := exec.Command("git", "ls-files", "--cached", "--others", "--exclude-standard")
	cmd.Dir = root
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git ls-files: %w", err)
	}

	var paths []string
	for _, line := range strings.Split(stdout.String(), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		absPath := filepath.Join(root, line)
		if _, ok := syntax.LanguageForFile(absPath); ok {
			paths = append(paths, absPath)
		}
	}
	return paths, nil
}

// walkListFiles discovers files by walking the filesystem, used as a fallback
// when git is not available. Skips hidden directories, node_modules, vendor,
// __pycache__ and anything root's .gitignore excludes.
func (e *Engine) walkListFiles(root string) ([]string, error) {
	gi, err := ignore.CompileIgnoreFile(filepath.Join(root, ".gitignore"))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			e.logger.Warn("Ignoring unreadable .gitignore", zap.String("root", root), zap.Error(err))
		}
		gi = nil
	}

	var paths []string
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		if d.IsDir() {
			if path != root && IsExcludedDir(d.Name()) {
				return filepath.SkipDir
			}
			if gi != nil && rel != "." && gi.MatchesPath(filepath.ToSlash(rel)+"/") {
				return filepath.SkipDir
			}
			return nil
		}
		if gi != nil && gi.MatchesPath(filepath.ToSlash(rel)) {
			return nil
		}
		if _, ok := syntax.LanguageForFile(path); ok {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk directory: %w", err)
	}
	return paths, nil
}
