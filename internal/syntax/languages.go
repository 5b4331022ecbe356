package syntax

import (
	"path/filepath"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// extToLanguage maps file extensions to canonical language names.
var extToLanguage = map[string]string{
	".go":   "go",
	".ts":   "typescript",
	".tsx":  "typescript",
	".js":   "javascript",
	".jsx":  "javascript",
	".py":   "python",
	".rs":   "rust",
	".c":    "c",
	".h":    "c",
	".cpp":  "cpp",
	".cc":   "cpp",
	".cxx":  "cpp",
	".hpp":  "cpp",
	".java": "java",
	".php":  "php",
	".rb":   "ruby",
}

// langToGrammar maps language names to tree-sitter Language objects.
// Lazily initialized on first call via sync.Once.
var (
	langToGrammar map[string]*sitter.Language
	grammarsOnce  sync.Once
)

func initGrammars() {
	grammarsOnce.Do(func() {
		langToGrammar = map[string]*sitter.Language{
			"go":         golang.GetLanguage(),
			"typescript": ts.GetLanguage(),
			"javascript": javascript.GetLanguage(),
			"python":     python.GetLanguage(),
			"rust":       rust.GetLanguage(),
			"c":          c.GetLanguage(),
			"cpp":        cpp.GetLanguage(),
			"java":       java.GetLanguage(),
			"php":        php.GetLanguage(),
			"ruby":       ruby.GetLanguage(),
		}
	})
}

// LanguageForFile returns the canonical language name for a file path based
// on its extension. Returns ("", false) if the extension is not recognized.
func LanguageForFile(path string) (string, bool) {
	ext := strings.ToLower(filepath.Ext(path))
	lang, ok := extToLanguage[ext]
	return lang, ok
}

// GrammarForLanguage returns the tree-sitter Language for a canonical
// language name. Returns (nil, false) if the language is not supported.
func GrammarForLanguage(lang string) (*sitter.Language, bool) {
	initGrammars()
	l, ok := langToGrammar[lang]
	return l, ok
}

// memberRule describes which nodes of a grammar are members and where their
// speculative-bindable body lives.
type memberRule struct {
	kinds map[string]string // node type -> member kind
	// bodyField is the field holding the member body. Empty means the body
	// runs from the end of the header to the trailing "end" keyword.
	bodyField string
}

var memberRules = map[string]memberRule{
	"go": {
		kinds:     map[string]string{"function_declaration": "function", "method_declaration": "method"},
		bodyField: "body",
	},
	"typescript": {
		kinds: map[string]string{
			"function_declaration":           "function",
			"generator_function_declaration": "function",
			"method_definition":              "method",
		},
		bodyField: "body",
	},
	"javascript": {
		kinds: map[string]string{
			"function_declaration":           "function",
			"generator_function_declaration": "function",
			"method_definition":              "method",
		},
		bodyField: "body",
	},
	"python": {
		kinds:     map[string]string{"function_definition": "function"},
		bodyField: "body",
	},
	"rust": {
		kinds:     map[string]string{"function_item": "function"},
		bodyField: "body",
	},
	"c": {
		kinds:     map[string]string{"function_definition": "function"},
		bodyField: "body",
	},
	"cpp": {
		kinds:     map[string]string{"function_definition": "function"},
		bodyField: "body",
	},
	"java": {
		kinds:     map[string]string{"method_declaration": "method", "constructor_declaration": "constructor"},
		bodyField: "body",
	},
	"php": {
		kinds:     map[string]string{"function_definition": "function", "method_declaration": "method"},
		bodyField: "body",
	},
	"ruby": {
		kinds: map[string]string{"method": "method", "singleton_method": "method"},
	},
}
