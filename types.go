package tinct

import (
	"context"

	"github.com/jward/tinct/internal/text"
)

// Public type aliases for the internal text types used across the Engine
// API. External consumers use these names; no conversion is needed.

type DocumentKey = text.DocumentKey
type Checksum = text.Checksum
type TextSpan = text.TextSpan
type ClassifiedSpan = text.ClassifiedSpan
type Document = text.Document
type ChangeRange = text.ChangeRange

// Classifier produces classifications for a span of a document. It appends
// to out in its own order and returns the extended slice. Implementations
// must be safe for concurrent use on distinct documents.
type Classifier interface {
	AddSemanticClassifications(ctx context.Context, doc Document, span TextSpan, out []ClassifiedSpan) ([]ClassifiedSpan, error)
}

// Source reports which tier answered a Classify call.
type Source string

const (
	SourceScoped   Source = "scoped"
	SourceCache    Source = "cache"
	SourceComputed Source = "computed"
	SourceFailed   Source = "failed"
)

// Result is the outcome of one Classify call.
type Result struct {
	Spans []ClassifiedSpan
	// Tagged is the region the spans cover. Callers replace their tags in
	// Tagged only and keep the rest.
	Tagged TextSpan
	Source Source
}
