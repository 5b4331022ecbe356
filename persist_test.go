package tinct

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/tinct/internal/cache"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestPersistDocument_SkipsWhenChecksumMatches(t *testing.T) {
	t.Parallel()
	e, c := newTestEngine(t)
	ctx := context.Background()
	doc := goDocument("proj", "a.go", srcV1)

	written, err := e.PersistDocument(ctx, doc)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Equal(t, 1, c.callCount())

	written, err = e.PersistDocument(ctx, doc)
	require.NoError(t, err)
	assert.False(t, written)
	assert.Equal(t, 1, c.callCount(), "no classification when already persisted")

	edited, _ := bodyEdit(t)
	edited.Key = doc.Key
	written, err = e.PersistDocument(ctx, edited)
	require.NoError(t, err)
	assert.True(t, written)

	cs, ok, err := e.Store().ReadChecksum(ctx, doc.Key, cache.PersistenceName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, edited.Checksum(), cs)
}

func TestPersistDocument_ClassifierError(t *testing.T) {
	t.Parallel()
	e, c := newTestEngine(t)
	c.fail = map[string]error{"a.go": errors.New("boom")}
	doc := goDocument("proj", "a.go", srcV1)

	written, err := e.PersistDocument(context.Background(), doc)
	require.Error(t, err)
	assert.False(t, written)
	assert.Zero(t, e.Workspace("proj").Cache().Len())

	_, ok, err := e.Store().ReadChecksum(context.Background(), doc.Key, cache.PersistenceName)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistDocument_AfterLoadSkipsMemory(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx := context.Background()
	e.MarkLoaded("proj")

	doc := goDocument("proj", "a.go", srcV1)
	written, err := e.PersistDocument(ctx, doc)
	require.NoError(t, err)
	assert.True(t, written)
	assert.Zero(t, e.Workspace("proj").Cache().Len(), "a loaded workspace keeps memory empty")

	cs, ok, err := e.Store().ReadChecksum(ctx, doc.Key, cache.PersistenceName)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, doc.Checksum(), cs)
}

func TestDeleteDocument(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx := context.Background()
	a := goDocument("proj", "a.go", "package a\n")
	b := goDocument("proj", "b.go", "package b\n")
	for _, doc := range []Document{a, b} {
		_, err := e.PersistDocument(ctx, doc)
		require.NoError(t, err)
	}

	require.NoError(t, e.DeleteDocument(ctx, a.Key))
	assert.Equal(t, []DocumentKey{b.Key}, e.Workspace("proj").Cache().Keys())
	keys, err := e.Store().DocumentsWithStream(ctx, "proj", cache.PersistenceName)
	require.NoError(t, err)
	assert.Equal(t, []DocumentKey{b.Key}, keys)
}

func TestDeleteDocument_ClosedWorkspace(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx := context.Background()
	doc := goDocument("other", "a.go", "package a\n")
	_, err := e.PersistDocuments(ctx, []Document{doc})
	require.NoError(t, err)
	require.NotContains(t, e.Workspaces(), "other")

	require.NoError(t, e.DeleteDocument(ctx, doc.Key))
	assert.NotContains(t, e.Workspaces(), "other", "deleting does not open a workspace")
	_, ok, err := e.Store().ReadChecksum(ctx, doc.Key, cache.PersistenceName)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPersistDocuments_Batch(t *testing.T) {
	t.Parallel()
	e, c := newTestEngine(t, WithWorkers(3))
	ctx := context.Background()

	var docs []Document
	for _, p := range []string{"a.go", "b.go", "c.go", "d.go", "e.go"} {
		docs = append(docs, goDocument("proj", p, "package "+p[:1]+"\n"))
	}

	stats, err := e.PersistDocuments(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, PersistStats{Written: 5}, stats)
	assert.Equal(t, 5, c.callCount())

	keys, err := e.Store().DocumentsWithStream(ctx, "proj", cache.PersistenceName)
	require.NoError(t, err)
	assert.Len(t, keys, 5)

	// Bulk persistence leaves memory alone; lookups read through.
	assert.Zero(t, e.Workspace("proj").Cache().Len())
	res, err := e.Classify(ctx, docs[2], docs[2].FullSpan(), nil)
	require.NoError(t, err)
	assert.Equal(t, SourceCache, res.Source)

	stats, err = e.PersistDocuments(ctx, docs)
	require.NoError(t, err)
	assert.Equal(t, PersistStats{Skipped: 5}, stats)
	assert.Equal(t, 5, c.callCount())
}

func TestPersistDocuments_PartialFailure(t *testing.T) {
	t.Parallel()
	e, c := newTestEngine(t)
	c.fail = map[string]error{"bad.go": errors.New("boom")}
	ctx := context.Background()

	docs := []Document{
		goDocument("proj", "a.go", "package a\n"),
		goDocument("proj", "bad.go", "package bad\n"),
		goDocument("proj", "c.go", "package c\n"),
	}
	stats, err := e.PersistDocuments(ctx, docs)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 error(s)")
	assert.Equal(t, PersistStats{Written: 2, Failed: 1}, stats)

	keys, err := e.Store().DocumentsWithStream(ctx, "proj", cache.PersistenceName)
	require.NoError(t, err)
	assert.Equal(t, []DocumentKey{{Project: "proj", Path: "a.go"}, {Project: "proj", Path: "c.go"}}, keys)
}

func TestPersistDocuments_MemoryOnly(t *testing.T) {
	t.Parallel()
	c := &wordClassifier{}
	e, err := New("", "", WithClassifier(c))
	require.NoError(t, err)

	docs := []Document{goDocument("proj", "a.go", "package a\n"), goDocument("proj", "b.go", "package b\n")}
	stats, err := e.PersistDocuments(context.Background(), docs)
	require.NoError(t, err)
	assert.Equal(t, PersistStats{Written: 2}, stats)
	assert.Equal(t, 2, e.Workspace("proj").Cache().Len())
}

func TestPersistDocuments_Cancelled(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.PersistDocuments(ctx, []Document{goDocument("proj", "a.go", "package a\n")})
	require.ErrorIs(t, err, context.Canceled)

	n, err := e.Store().StreamCount(context.Background(), cache.PersistenceName)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestLoadDocument(t *testing.T) {
	t.Parallel()
	root := t.TempDir()
	path := filepath.Join(root, "pkg", "a.go")
	writeFile(t, path, "package pkg\n")

	doc, err := LoadDocument("proj", root, path)
	require.NoError(t, err)
	assert.Equal(t, DocumentKey{Project: "proj", Path: "pkg/a.go"}, doc.Key)
	assert.Equal(t, "go", doc.Language)
	assert.Equal(t, "package pkg\n", string(doc.Content))

	_, err = LoadDocument("proj", root, filepath.Join(root, "missing.go"))
	require.Error(t, err)
}

func TestWarmDirectory(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	ctx := context.Background()
	root := t.TempDir()

	writeFile(t, filepath.Join(root, "main.go"), srcV1)
	writeFile(t, filepath.Join(root, "lib", "util.py"), "def f():\n    return 1\n")
	writeFile(t, filepath.Join(root, "README.md"), "# readme\n")
	writeFile(t, filepath.Join(root, ".gitignore"), "generated/\n*.gen.go\n")
	writeFile(t, filepath.Join(root, "generated", "x.go"), "package generated\n")
	writeFile(t, filepath.Join(root, "types.gen.go"), "package main\n")
	writeFile(t, filepath.Join(root, "node_modules", "dep", "index.js"), "module.exports = 1\n")
	writeFile(t, filepath.Join(root, ".hidden", "h.go"), "package hidden\n")

	stats, err := e.WarmDirectory(ctx, "proj", root, false)
	require.NoError(t, err)
	assert.Equal(t, PersistStats{Written: 2}, stats)
	assert.False(t, e.Workspace("proj").IsLoaded())

	keys, err := e.Store().DocumentsWithStream(ctx, "proj", cache.PersistenceName)
	require.NoError(t, err)
	assert.Equal(t, []DocumentKey{
		{Project: "proj", Path: "lib/util.py"},
		{Project: "proj", Path: "main.go"},
	}, keys)

	stats, err = e.WarmDirectory(ctx, "proj", root, true)
	require.NoError(t, err)
	assert.Equal(t, PersistStats{Skipped: 2}, stats)
	assert.True(t, e.Workspace("proj").IsLoaded())
}

func TestWalkListFiles_NoGitignore(t *testing.T) {
	t.Parallel()
	e, _ := newTestEngine(t)
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.go"), "package a\n")
	writeFile(t, filepath.Join(root, "vendor", "v.go"), "package v\n")

	paths, err := e.walkListFiles(root)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(root, "a.go")}, paths)
}
