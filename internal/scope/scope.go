// Package scope decides whether a reclassification pass can be narrowed from
// the requested span to a single member of the document.
package scope

import "github.com/jward/tinct/internal/text"

// Version is a semantic version stamp of a document. It changes only when an
// edit touches top-level or member signatures. The empty Version means no
// version has been recorded.
type Version string

// Member is a top-level or nested declaration with a body that can be
// reclassified in isolation.
type Member struct {
	Kind string
	Name string
	Span text.TextSpan
	// Body is the speculative-bindable region, empty when the member has none.
	Body text.TextSpan
}

// Syntax is the per-grammar capability the resolver depends on.
type Syntax interface {
	// SupportsIncrementalLookup reports whether member lookup is meaningful
	// for this document.
	SupportsIncrementalLookup() bool
	SemanticVersion() Version
	// EnclosingMember returns the smallest member whose extent contains pos.
	EnclosingMember(pos int) (Member, bool)
	// SpeculativeBindableSpan returns the sub-span of m that can be
	// reclassified without the rest of the file.
	SpeculativeBindableSpan(m Member) text.TextSpan
}

// State is the portion of a session's recorded state the resolver reads.
type State struct {
	SemanticVersion Version
}

// Narrow returns the span a pass over change can be restricted to. ok is
// false whenever the full requested span must be reclassified.
func Narrow(prior State, change *text.ChangeRange, syn Syntax) (text.TextSpan, bool) {
	if change == nil || syn == nil || !syn.SupportsIncrementalLookup() {
		return text.TextSpan{}, false
	}
	if prior.SemanticVersion != "" && prior.SemanticVersion != syn.SemanticVersion() {
		return text.TextSpan{}, false
	}

	edited := change.NewSpan()
	member, ok := syn.EnclosingMember(edited.Start)
	if !ok || !member.Span.Contains(edited) {
		return text.TextSpan{}, false
	}

	body := syn.SpeculativeBindableSpan(member)
	if body.IsEmpty() {
		return text.TextSpan{}, false
	}
	if body.Contains(edited) {
		return body, true
	}
	return member.Span, true
}
