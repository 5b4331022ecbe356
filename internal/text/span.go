package text

import "fmt"

// TextSpan is a half-open range [Start, Start+Length) over a document's
// byte offsets.
type TextSpan struct {
	Start  int
	Length int
}

// NewSpanFromBounds returns the span covering [start, end).
func NewSpanFromBounds(start, end int) TextSpan {
	if end < start {
		end = start
	}
	return TextSpan{Start: start, Length: end - start}
}

// End returns the exclusive end offset.
func (s TextSpan) End() int {
	return s.Start + s.Length
}

// IsEmpty reports whether the span covers no positions.
func (s TextSpan) IsEmpty() bool {
	return s.Length <= 0
}

// Contains reports whether other lies entirely within s. An empty span at
// s.End() is considered contained.
func (s TextSpan) Contains(other TextSpan) bool {
	return other.Start >= s.Start && other.End() <= s.End()
}

// ContainsPosition reports whether pos is in [Start, End).
func (s TextSpan) ContainsPosition(pos int) bool {
	return pos >= s.Start && pos < s.End()
}

// IntersectsWith reports whether the two spans overlap by at least one
// position. Empty spans never intersect anything.
func (s TextSpan) IntersectsWith(other TextSpan) bool {
	return max(s.Start, other.Start) < min(s.End(), other.End())
}

func (s TextSpan) String() string {
	return fmt.Sprintf("[%d..%d)", s.Start, s.End())
}

// ClassifiedSpan labels a span with a classification type such as
// "keyword" or "comment".
type ClassifiedSpan struct {
	ClassificationType string
	Span               TextSpan
}

// FilterIntersecting returns the spans that intersect span, preserving order.
func FilterIntersecting(spans []ClassifiedSpan, span TextSpan) []ClassifiedSpan {
	out := make([]ClassifiedSpan, 0, len(spans))
	for _, cs := range spans {
		if cs.Span.IntersectsWith(span) {
			out = append(out, cs)
		}
	}
	return out
}
