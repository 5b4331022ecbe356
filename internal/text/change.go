package text

// ChangeRange describes an edit: Span is the replaced range in the old text
// and NewLength the length of the inserted text.
type ChangeRange struct {
	Span      TextSpan
	NewLength int
}

// NewSpan returns the range the edit occupies in the new text.
func (c ChangeRange) NewSpan() TextSpan {
	return TextSpan{Start: c.Span.Start, Length: c.NewLength}
}

// delta is the change in document length caused by the edit.
func (c ChangeRange) delta() int {
	return c.NewLength - c.Span.Length
}

// Collapse combines c with a later edit next, whose offsets are relative to
// the text produced by c. The result covers both edits; it may cover more
// text than strictly changed but never less.
func (c ChangeRange) Collapse(next ChangeRange) ChangeRange {
	firstNew := c.NewSpan()
	nextNew := next.NewSpan()

	start := min(firstNew.Start, nextNew.Start)

	// The end of the first edit's new text moves when the second edit
	// lands at or before it.
	firstEnd := firstNew.End()
	if next.Span.Start <= firstEnd {
		firstEnd = max(firstEnd+next.delta(), nextNew.End())
	}
	end := max(firstEnd, nextNew.End())

	newLength := end - start
	oldLength := newLength - c.delta() - next.delta()
	if oldLength < 0 {
		oldLength = 0
	}
	return ChangeRange{
		Span:      TextSpan{Start: start, Length: oldLength},
		NewLength: newLength,
	}
}
