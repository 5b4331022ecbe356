package runtime

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"
	"go.uber.org/zap"

	"github.com/jward/tinct/internal/syntax"
	"github.com/jward/tinct/internal/text"
)

// Runtime embeds a Risor VM and runs per-language classification scripts
// against tree-sitter parse trees.
type Runtime struct {
	scriptsDir string
	fsys       fs.FS
	sources    *sourceStore
	logger     *zap.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS configures the Runtime to load scripts from an fs.FS
// instead of from disk. Also configures the Risor importer to use
// FSImporter for import statement resolution.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithRuntimeLogger sets the logger behind the scripts' log object.
func WithRuntimeLogger(l *zap.Logger) RuntimeOption {
	return func(r *Runtime) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRuntime creates a Runtime reading scripts from scriptsDir.
// Accepts optional RuntimeOptions for configuration such as fs.FS-based script loading.
func NewRuntime(scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		scriptsDir: scriptsDir,
		sources:    newSourceStore(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// AddSemanticClassifications runs the classification script for doc's
// language and appends every emitted span intersecting span to out, ordered
// by start offset. Documents in languages without a grammar or script
// produce no spans.
func (r *Runtime) AddSemanticClassifications(ctx context.Context, doc text.Document, span text.TextSpan, out []text.ClassifiedSpan) ([]text.ClassifiedSpan, error) {
	return r.classify(ctx, doc, nil, span, out)
}

// ClassifyTree is AddSemanticClassifications over a tree already parsed
// from doc. The caller keeps ownership of tree. A tree for another language
// is ignored and doc is parsed afresh.
func (r *Runtime) ClassifyTree(ctx context.Context, doc text.Document, tree *syntax.Tree, span text.TextSpan, out []text.ClassifiedSpan) ([]text.ClassifiedSpan, error) {
	return r.classify(ctx, doc, tree, span, out)
}

func (r *Runtime) classify(ctx context.Context, doc text.Document, tree *syntax.Tree, span text.TextSpan, out []text.ClassifiedSpan) ([]text.ClassifiedSpan, error) {
	if doc.Language == "" {
		return out, nil
	}
	if _, ok := syntax.GrammarForLanguage(doc.Language); !ok {
		return out, nil
	}

	scriptPath := ClassificationScriptPath(doc.Language)
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return out, nil
		}
		return out, err
	}

	if tree == nil || tree.Language() != doc.Language {
		parsed, err := syntax.Parse(ctx, doc.Language, doc.Content)
		if err != nil {
			return out, fmt.Errorf("runtime: %w", err)
		}
		defer parsed.Close()
		tree = parsed
	}

	root := tree.Root()
	r.sources.store(root, tree.Source(), tree.Grammar())
	defer r.sources.forget(root)

	rootProxy, err := object.NewProxy(root)
	if err != nil {
		return out, fmt.Errorf("runtime: proxy root: %w", err)
	}

	collector := &spanCollector{span: span}
	extras := map[string]any{
		"root":       rootProxy,
		"file_path":  doc.Key.Path,
		"span_start": span.Start,
		"span_end":   span.End(),
		"emit":       makeEmitFn(collector),
	}
	if err := r.eval(ctx, src, scriptPath, extras); err != nil {
		return out, err
	}

	slices.SortStableFunc(collector.spans, func(a, b text.ClassifiedSpan) int {
		return a.Span.Start - b.Span.Start
	})
	return append(out, collector.spans...), nil
}

func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) error {
	globals := r.buildGlobals(extraGlobals)

	var opts []risor.Option
	for name, val := range globals {
		opts = append(opts, risor.WithGlobal(name, val))
	}

	// Wire importer so Risor import statements resolve correctly.
	if imp := r.buildImporter(globals); imp != nil {
		opts = append(opts, risor.WithImporter(imp))
	}

	_, err := risor.Eval(ctx, source, opts...)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("runtime: script %s: %w", label, err)
	}
	return nil
}

// buildImporter returns a Risor importer configured for the Runtime's script source.
// Returns nil if neither fs.FS nor scriptsDir is configured.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file and returns its source code.
// When an fs.FS is configured, uses fs.ReadFile on the embedded filesystem.
// Otherwise, uses os.ReadFile with scriptsDir as the base directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		// For fs.FS, strip any leading path separator so the path is
		// relative within the FS (e.g., "/classify/go.risor" -> "classify/go.risor").
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// ClassificationScriptPath returns the path to a language's classification script.
func ClassificationScriptPath(language string) string {
	return filepath.Join("classify", language+".risor")
}

// buildGlobals constructs the full set of globals exposed to Risor scripts.
func (r *Runtime) buildGlobals(extra map[string]any) map[string]any {
	globals := map[string]any{
		"node_text":  makeNodeTextFn(r.sources),
		"node_child": makeNodeChildFn(),
		"query":      makeQueryFn(r.sources),
		"log":        mustProxy(&logObject{logger: r.logger.Named("script")}),
	}
	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
