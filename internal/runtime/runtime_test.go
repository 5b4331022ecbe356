package runtime

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/jward/tinct/internal/syntax"
	"github.com/jward/tinct/internal/text"
	"github.com/jward/tinct/scripts"
)

const goTestSource = `package main

import "fmt"

// Greet says hello.
func Greet(name string) string {
	return fmt.Sprintf("Hello, %s!", name)
}

func Add(a, b int) int {
	return a + b
}

type Server struct {
	Host string
	Port int
}

func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}
`

const functionNamesScript = `
matches := query("(function_declaration name: (identifier) @name)", root)
for i := 0; i < len(matches); i++ {
    emit("function", matches[i]["name"])
}
`

func goDoc(src string) text.Document {
	return text.Document{
		Key:      text.DocumentKey{Project: "p", Path: "main.go"},
		Language: "go",
		Content:  []byte(src),
	}
}

func inlineRuntime(script string) *Runtime {
	return NewRuntime("", WithRuntimeFS(fstest.MapFS{
		"classify/go.risor": &fstest.MapFile{Data: []byte(script)},
	}))
}

func spanText(src string, cs text.ClassifiedSpan) string {
	return src[cs.Span.Start:cs.Span.End()]
}

func TestClassificationScriptPath(t *testing.T) {
	t.Parallel()
	assert.Equal(t, filepath.Join("classify", "go.risor"), ClassificationScriptPath("go"))
}

func TestAddSemanticClassifications_InlineScript(t *testing.T) {
	t.Parallel()
	rt := inlineRuntime(functionNamesScript)
	doc := goDoc(goTestSource)

	got, err := rt.AddSemanticClassifications(context.Background(), doc, doc.FullSpan(), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "Greet", spanText(goTestSource, got[0]))
	assert.Equal(t, "Add", spanText(goTestSource, got[1]))
	assert.Equal(t, "function", got[0].ClassificationType)
}

func TestAddSemanticClassifications_RestrictsToSpan(t *testing.T) {
	t.Parallel()
	rt := inlineRuntime(functionNamesScript)
	doc := goDoc(goTestSource)

	start := strings.Index(goTestSource, "func Add")
	span := text.NewSpanFromBounds(start, start+len("func Add(a, b int)"))
	got, err := rt.AddSemanticClassifications(context.Background(), doc, span, nil)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Add", spanText(goTestSource, got[0]))
}

func TestAddSemanticClassifications_AppendsToOut(t *testing.T) {
	t.Parallel()
	rt := inlineRuntime(functionNamesScript)
	doc := goDoc(goTestSource)
	prior := []text.ClassifiedSpan{{ClassificationType: "existing", Span: text.TextSpan{Start: 0, Length: 1}}}

	got, err := rt.AddSemanticClassifications(context.Background(), doc, doc.FullSpan(), prior)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "existing", got[0].ClassificationType)
}

func TestAddSemanticClassifications_SortedByStart(t *testing.T) {
	t.Parallel()
	// Emits in reverse document order.
	rt := inlineRuntime(`
matches := query("(function_declaration name: (identifier) @name)", root)
for i := len(matches) - 1; i >= 0; i = i - 1 {
    emit("function", matches[i]["name"])
}
`)
	doc := goDoc(goTestSource)
	got, err := rt.AddSemanticClassifications(context.Background(), doc, doc.FullSpan(), nil)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Less(t, got[0].Span.Start, got[1].Span.Start)
}

func TestAddSemanticClassifications_UnknownLanguage(t *testing.T) {
	t.Parallel()
	rt := inlineRuntime(functionNamesScript)

	for _, lang := range []string{"", "cobol", "rust"} {
		doc := text.Document{Key: text.DocumentKey{Path: "x"}, Language: lang, Content: []byte("fn main() {}")}
		got, err := rt.AddSemanticClassifications(context.Background(), doc, doc.FullSpan(), nil)
		require.NoError(t, err, lang)
		assert.Empty(t, got, lang)
	}
}

func TestAddSemanticClassifications_ScriptError(t *testing.T) {
	t.Parallel()
	rt := inlineRuntime(`query("(not_a_node) @n", root)`)
	doc := goDoc(goTestSource)

	_, err := rt.AddSemanticClassifications(context.Background(), doc, doc.FullSpan(), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "classify")
	assert.Equal(t, 0, rt.sources.len(), "tree mappings must be released")
}

func TestAddSemanticClassifications_ReleasesTrees(t *testing.T) {
	t.Parallel()
	rt := inlineRuntime(functionNamesScript)
	doc := goDoc(goTestSource)
	for range 3 {
		_, err := rt.AddSemanticClassifications(context.Background(), doc, doc.FullSpan(), nil)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, rt.sources.len())
}

func TestAddSemanticClassifications_HostFunctions(t *testing.T) {
	t.Parallel()
	rt := inlineRuntime(`
count := int(root.NamedChildCount())
names := []
for i := 0; i < count; i++ {
    child := root.NamedChild(i)
    if child.Type() == "function_declaration" {
        names.append(node_text(node_child(child, "name")))
    }
}
assert(len(names) == 2, "expected 2 functions")
assert(names[0] == "Greet", "expected Greet first")
assert(node_child(root, "no_such_field") == nil, "missing field should be nil")
assert(file_path == "main.go", "file_path global")
assert(span_start == 0, "span_start global")
emit("ignored", nil)
`)
	doc := goDoc(goTestSource)
	got, err := rt.AddSemanticClassifications(context.Background(), doc, doc.FullSpan(), nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLogObject_UsesZap(t *testing.T) {
	t.Parallel()
	core, logs := observer.New(zapcore.InfoLevel)
	rt := NewRuntime("", WithRuntimeLogger(zap.New(core)), WithRuntimeFS(fstest.MapFS{
		"classify/go.risor": &fstest.MapFile{Data: []byte(`log.Warn("from script")`)},
	}))
	doc := goDoc(goTestSource)

	_, err := rt.AddSemanticClassifications(context.Background(), doc, doc.FullSpan(), nil)
	require.NoError(t, err)
	entries := logs.FilterMessage("from script").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, "script", entries[0].LoggerName)
}

func TestLoadScript_FromDir(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "classify"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "classify", "go.risor"), []byte(functionNamesScript), 0o644))

	rt := NewRuntime(dir)
	doc := goDoc(goTestSource)
	got, err := rt.AddSemanticClassifications(context.Background(), doc, doc.FullSpan(), nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	_, err = rt.LoadScript(ClassificationScriptPath("python"))
	require.Error(t, err)
}

func TestClassifyTree_ReusesCallerTree(t *testing.T) {
	t.Parallel()
	rt := inlineRuntime(functionNamesScript)
	doc := goDoc(goTestSource)
	tree, err := syntax.Parse(context.Background(), "go", doc.Content)
	require.NoError(t, err)
	defer tree.Close()

	want, err := rt.AddSemanticClassifications(context.Background(), doc, doc.FullSpan(), nil)
	require.NoError(t, err)
	for range 2 {
		got, err := rt.ClassifyTree(context.Background(), doc, tree, doc.FullSpan(), nil)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assert.Equal(t, 0, rt.sources.len())

	// The tree is still open for its owner.
	_, ok := tree.EnclosingMember(strings.Index(goTestSource, "a + b"))
	assert.True(t, ok)
}

func TestClassifyTree_OtherLanguageReparses(t *testing.T) {
	t.Parallel()
	rt := inlineRuntime(functionNamesScript)
	doc := goDoc(goTestSource)
	pyTree, err := syntax.Parse(context.Background(), "python", []byte("def f():\n    pass\n"))
	require.NoError(t, err)
	defer pyTree.Close()

	got, err := rt.ClassifyTree(context.Background(), doc, pyTree, doc.FullSpan(), nil)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestEmbeddedScripts_Go(t *testing.T) {
	t.Parallel()
	rt := NewRuntime("", WithRuntimeFS(scripts.FS))
	doc := goDoc(goTestSource)

	got, err := rt.AddSemanticClassifications(context.Background(), doc, doc.FullSpan(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, got)

	byText := make(map[string][]string)
	for i, cs := range got {
		if i > 0 {
			assert.LessOrEqual(t, got[i-1].Span.Start, cs.Span.Start)
		}
		byText[spanText(goTestSource, cs)] = append(byText[spanText(goTestSource, cs)], cs.ClassificationType)
	}
	assert.Contains(t, byText["func"], "keyword")
	assert.Contains(t, byText["Greet"], "function")
	assert.Contains(t, byText["Address"], "method")
	assert.Contains(t, byText["Server"], "type")
	assert.Contains(t, byText["// Greet says hello."], "comment")
	assert.Contains(t, byText[`"fmt"`], "string")
	assert.Contains(t, byText["main"], "namespace")
}

func TestEmbeddedScripts_Python(t *testing.T) {
	t.Parallel()
	src := "# greeting\ndef greet(name):\n    return \"hi \" + name\n\nclass Box:\n    size = 3\n"
	rt := NewRuntime("", WithRuntimeFS(scripts.FS))
	doc := text.Document{Key: text.DocumentKey{Path: "a.py"}, Language: "python", Content: []byte(src)}

	got, err := rt.AddSemanticClassifications(context.Background(), doc, doc.FullSpan(), nil)
	require.NoError(t, err)

	kinds := make(map[string]string)
	for _, cs := range got {
		kinds[spanText(src, cs)] = cs.ClassificationType
	}
	assert.Equal(t, "comment", kinds["# greeting"])
	assert.Equal(t, "keyword", kinds["def"])
	assert.Equal(t, "function", kinds["greet"])
	assert.Equal(t, "type", kinds["Box"])
	assert.Equal(t, "number", kinds["3"])
	assert.Equal(t, "string", kinds[`"hi "`])
}
