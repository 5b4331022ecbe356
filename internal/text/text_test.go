package text

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTextSpan_IntersectsWith(t *testing.T) {
	t.Parallel()
	s := TextSpan{Start: 10, Length: 5} // [10,15)

	assert.True(t, s.IntersectsWith(TextSpan{Start: 14, Length: 3}))
	assert.True(t, s.IntersectsWith(TextSpan{Start: 0, Length: 11}))
	assert.True(t, s.IntersectsWith(TextSpan{Start: 11, Length: 1}))
	assert.False(t, s.IntersectsWith(TextSpan{Start: 15, Length: 3}), "touching at end is not overlap")
	assert.False(t, s.IntersectsWith(TextSpan{Start: 5, Length: 5}), "touching at start is not overlap")
	assert.False(t, s.IntersectsWith(TextSpan{Start: 12, Length: 0}), "empty span never intersects")
}

func TestTextSpan_Contains(t *testing.T) {
	t.Parallel()
	s := NewSpanFromBounds(10, 20)

	assert.True(t, s.Contains(NewSpanFromBounds(10, 20)))
	assert.True(t, s.Contains(NewSpanFromBounds(12, 15)))
	assert.True(t, s.Contains(TextSpan{Start: 20, Length: 0}))
	assert.False(t, s.Contains(NewSpanFromBounds(9, 15)))
	assert.False(t, s.Contains(NewSpanFromBounds(15, 21)))

	assert.True(t, s.ContainsPosition(10))
	assert.False(t, s.ContainsPosition(20))
}

func TestNewSpanFromBounds_ClampsInverted(t *testing.T) {
	t.Parallel()
	s := NewSpanFromBounds(8, 3)
	assert.Equal(t, 8, s.Start)
	assert.True(t, s.IsEmpty())
}

func TestFilterIntersecting_PreservesOrder(t *testing.T) {
	t.Parallel()
	spans := []ClassifiedSpan{
		{ClassificationType: "keyword", Span: TextSpan{Start: 30, Length: 4}},
		{ClassificationType: "comment", Span: TextSpan{Start: 0, Length: 10}},
		{ClassificationType: "string", Span: TextSpan{Start: 12, Length: 3}},
	}
	got := FilterIntersecting(spans, NewSpanFromBounds(5, 32))
	require.Len(t, got, 3)
	assert.Equal(t, "keyword", got[0].ClassificationType)
	assert.Equal(t, "comment", got[1].ClassificationType)

	got = FilterIntersecting(spans, NewSpanFromBounds(11, 20))
	require.Len(t, got, 1)
	assert.Equal(t, "string", got[0].ClassificationType)
}

func TestChecksum_ParseAndFormat(t *testing.T) {
	t.Parallel()
	c := ComputeChecksum([]byte("package main\n"))
	assert.NotEqual(t, Checksum{}, c)

	parsed, err := ParseChecksum(c.String())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	_, err = ParseChecksum("abcd")
	require.Error(t, err)
	_, err = ParseChecksum("zz")
	require.Error(t, err)

	raw, ok := ChecksumFromBytes(c[:])
	require.True(t, ok)
	assert.Equal(t, c, raw)
	_, ok = ChecksumFromBytes([]byte{1, 2, 3})
	assert.False(t, ok)
}

func TestDocument_ChecksumTracksContent(t *testing.T) {
	t.Parallel()
	a := Document{Key: DocumentKey{Project: "p", Path: "a.go"}, Content: []byte("x")}
	b := Document{Key: DocumentKey{Project: "p", Path: "a.go"}, Content: []byte("y")}
	assert.NotEqual(t, a.Checksum(), b.Checksum())
	assert.Equal(t, TextSpan{Start: 0, Length: 1}, a.FullSpan())
}

func TestChangeRange_CollapseDisjoint(t *testing.T) {
	t.Parallel()
	first := ChangeRange{Span: TextSpan{Start: 10}, NewLength: 2}  // insert 2 at 10
	second := ChangeRange{Span: TextSpan{Start: 20}, NewLength: 1} // insert 1 at 20 (new coords)

	got := first.Collapse(second)
	assert.Equal(t, NewSpanFromBounds(10, 21), got.NewSpan())
	assert.Equal(t, NewSpanFromBounds(10, 18), got.Span)
}

func TestChangeRange_CollapseSecondBeforeFirst(t *testing.T) {
	t.Parallel()
	first := ChangeRange{Span: NewSpanFromBounds(10, 15), NewLength: 2}
	second := ChangeRange{Span: TextSpan{Start: 5}, NewLength: 1}

	got := first.Collapse(second)
	assert.Equal(t, NewSpanFromBounds(5, 13), got.NewSpan())
	assert.Equal(t, NewSpanFromBounds(5, 15), got.Span)
}

func TestChangeRange_CollapseDeletionSwallowsInsertion(t *testing.T) {
	t.Parallel()
	first := ChangeRange{Span: TextSpan{Start: 10}, NewLength: 3}
	second := ChangeRange{Span: NewSpanFromBounds(8, 14), NewLength: 0}

	got := first.Collapse(second)
	assert.Equal(t, TextSpan{Start: 8, Length: 0}, got.NewSpan())
	assert.Equal(t, NewSpanFromBounds(8, 11), got.Span)
}
