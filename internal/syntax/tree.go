// Package syntax parses documents with tree-sitter and answers the
// member-boundary questions scoped reclassification depends on.
package syntax

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/jward/tinct/internal/scope"
	"github.com/jward/tinct/internal/text"
)

// ErrUnsupportedLanguage is returned by Parse for languages without a grammar.
var ErrUnsupportedLanguage = errors.New("syntax: unsupported language")

// Tree is a parsed document. It implements scope.Syntax.
//
// A Tree is safe for concurrent reads. Close releases the underlying
// tree-sitter tree; the Tree must not be used afterwards.
type Tree struct {
	lang    string
	src     []byte
	grammar *sitter.Language
	tree    *sitter.Tree
	rule    memberRule
	hasRule bool

	versionOnce sync.Once
	version     scope.Version
}

var _ scope.Syntax = (*Tree)(nil)

// Parse parses src as lang.
func Parse(ctx context.Context, lang string, src []byte) (*Tree, error) {
	grammar, ok := GrammarForLanguage(lang)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}

	parser := sitter.NewParser()
	defer parser.Close()
	parser.SetLanguage(grammar)

	tree, err := parser.ParseCtx(ctx, nil, src)
	if err != nil {
		return nil, fmt.Errorf("syntax: parse %s: %w", lang, err)
	}

	rule, hasRule := memberRules[lang]
	return &Tree{
		lang:    lang,
		src:     src,
		grammar: grammar,
		tree:    tree,
		rule:    rule,
		hasRule: hasRule,
	}, nil
}

// Close releases the tree-sitter tree.
func (t *Tree) Close() {
	t.tree.Close()
}

// Language returns the canonical language name.
func (t *Tree) Language() string { return t.lang }

// Source returns the parsed bytes.
func (t *Tree) Source() []byte { return t.src }

// Grammar returns the tree-sitter grammar used to parse the tree.
func (t *Tree) Grammar() *sitter.Language { return t.grammar }

// Root returns the root node.
func (t *Tree) Root() *sitter.Node { return t.tree.RootNode() }

// SupportsIncrementalLookup is false for grammars without member rules and
// for trees containing parse errors, whose member boundaries are unreliable.
func (t *Tree) SupportsIncrementalLookup() bool {
	return t.hasRule && !t.Root().HasError()
}

// SemanticVersion hashes the document with every outermost member body
// elided, so edits confined to bodies leave it unchanged.
func (t *Tree) SemanticVersion() scope.Version {
	t.versionOnce.Do(func() {
		h := sha256.New()
		fmt.Fprintf(h, "lang:%s\n", t.lang)

		cursor := 0
		for _, m := range t.Members() {
			if m.Body.IsEmpty() {
				continue
			}
			h.Write(t.src[cursor:m.Body.Start])
			h.Write([]byte("\x00body\x00"))
			cursor = m.Body.End()
		}
		h.Write(t.src[cursor:])

		t.version = scope.Version(fmt.Sprintf("%x", h.Sum(nil)))
	})
	return t.version
}

// EnclosingMember returns the innermost member whose extent contains pos.
func (t *Tree) EnclosingMember(pos int) (scope.Member, bool) {
	if !t.hasRule || pos < 0 {
		return scope.Member{}, false
	}

	var best *sitter.Node
	node := t.Root()
	for {
		next := childContaining(node, pos)
		if next == nil {
			break
		}
		if _, ok := t.rule.kinds[next.Type()]; ok {
			best = next
		}
		node = next
	}
	if best == nil {
		return scope.Member{}, false
	}
	return t.member(best), true
}

// SpeculativeBindableSpan returns the member body, or an empty span when the
// body does not lie within the member.
func (t *Tree) SpeculativeBindableSpan(m scope.Member) text.TextSpan {
	if m.Body.IsEmpty() || !m.Span.Contains(m.Body) {
		return text.TextSpan{}
	}
	return m.Body
}

// Members returns the outermost members in document order.
func (t *Tree) Members() []scope.Member {
	if !t.hasRule {
		return nil
	}
	var out []scope.Member
	var walk func(n *sitter.Node)
	walk = func(n *sitter.Node) {
		count := int(n.ChildCount())
		for i := 0; i < count; i++ {
			child := n.Child(i)
			if child == nil {
				continue
			}
			if _, ok := t.rule.kinds[child.Type()]; ok {
				out = append(out, t.member(child))
				continue
			}
			walk(child)
		}
	}
	walk(t.Root())
	return out
}

func (t *Tree) member(n *sitter.Node) scope.Member {
	m := scope.Member{
		Kind: t.rule.kinds[n.Type()],
		Span: spanOf(n),
		Body: t.bodySpan(n),
	}
	if name := n.ChildByFieldName("name"); name != nil {
		m.Name = name.Content(t.src)
	}
	return m
}

func (t *Tree) bodySpan(n *sitter.Node) text.TextSpan {
	field := t.rule.bodyField
	if field == "" {
		field = "body"
	}
	if body := n.ChildByFieldName(field); body != nil {
		return spanOf(body)
	}
	if t.rule.bodyField != "" {
		return text.TextSpan{}
	}

	// Keyword-delimited members: the body runs from the end of the header
	// to the closing "end".
	count := int(n.ChildCount())
	if count == 0 {
		return text.TextSpan{}
	}
	last := n.Child(count - 1)
	if last == nil || last.Type() != "end" {
		return text.TextSpan{}
	}
	headerEnd := -1
	for _, f := range []string{"name", "parameters"} {
		if c := n.ChildByFieldName(f); c != nil {
			headerEnd = max(headerEnd, int(c.EndByte()))
		}
	}
	if headerEnd < 0 {
		return text.TextSpan{}
	}
	return text.NewSpanFromBounds(headerEnd, int(last.StartByte()))
}

func childContaining(n *sitter.Node, pos int) *sitter.Node {
	count := int(n.ChildCount())
	for i := 0; i < count; i++ {
		child := n.Child(i)
		if child == nil {
			continue
		}
		if int(child.StartByte()) <= pos && pos < int(child.EndByte()) {
			return child
		}
	}
	return nil
}

func spanOf(n *sitter.Node) text.TextSpan {
	return text.NewSpanFromBounds(int(n.StartByte()), int(n.EndByte()))
}
