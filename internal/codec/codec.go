// Package codec serializes classified spans into the compact, versioned
// byte stream kept by the persistent cache tier.
//
// Layout (all integers are varints, see encoding/binary):
//
//	uvarint  format version
//	uvarint  number of distinct classification types
//	         per type: uvarint length, raw bytes
//	uvarint  number of spans
//	         per span: uvarint type index, varint start, varint length
//
// Types are listed in first-occurrence order and spans in their original
// order, so Decode(Encode(s)) reproduces s exactly.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/jward/tinct/internal/text"
)

// FormatVersion is written first in every payload. Payloads carrying any
// other version are rejected without being interpreted.
const FormatVersion = 2

var (
	// ErrVersionMismatch is returned for payloads written by another format version.
	ErrVersionMismatch = errors.New("codec: format version mismatch")
	// ErrCorrupt is returned for truncated or otherwise malformed payloads.
	ErrCorrupt = errors.New("codec: corrupt payload")
)

// Encode serializes spans.
func Encode(spans []text.ClassifiedSpan) []byte {
	index := make(map[string]int)
	var types []string
	for _, cs := range spans {
		if _, ok := index[cs.ClassificationType]; !ok {
			index[cs.ClassificationType] = len(types)
			types = append(types, cs.ClassificationType)
		}
	}

	buf := make([]byte, 0, 8+len(spans)*6)
	buf = binary.AppendUvarint(buf, FormatVersion)
	buf = binary.AppendUvarint(buf, uint64(len(types)))
	for _, t := range types {
		buf = binary.AppendUvarint(buf, uint64(len(t)))
		buf = append(buf, t...)
	}
	buf = binary.AppendUvarint(buf, uint64(len(spans)))
	for _, cs := range spans {
		buf = binary.AppendUvarint(buf, uint64(index[cs.ClassificationType]))
		buf = binary.AppendVarint(buf, int64(cs.Span.Start))
		buf = binary.AppendVarint(buf, int64(cs.Span.Length))
	}
	return buf
}

// Decode deserializes a payload produced by Encode. Any error means the
// payload must be treated as absent.
func Decode(data []byte) ([]text.ClassifiedSpan, error) {
	r := reader{buf: data}

	version, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	if version != FormatVersion {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrVersionMismatch, version, FormatVersion)
	}

	typeCount, err := r.count(1)
	if err != nil {
		return nil, err
	}
	types := make([]string, typeCount)
	for i := range types {
		n, err := r.count(1)
		if err != nil {
			return nil, err
		}
		b, err := r.bytes(n)
		if err != nil {
			return nil, err
		}
		types[i] = string(b)
	}

	// Each span needs at least three bytes.
	spanCount, err := r.count(3)
	if err != nil {
		return nil, err
	}
	spans := make([]text.ClassifiedSpan, spanCount)
	for i := range spans {
		idx, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		if idx >= uint64(len(types)) {
			return nil, fmt.Errorf("%w: type index %d out of range (%d types)", ErrCorrupt, idx, len(types))
		}
		start, err := r.offset()
		if err != nil {
			return nil, err
		}
		length, err := r.offset()
		if err != nil {
			return nil, err
		}
		spans[i] = text.ClassifiedSpan{
			ClassificationType: types[idx],
			Span:               text.TextSpan{Start: int(start), Length: int(length)},
		}
	}

	if r.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, r.remaining())
	}
	return spans, nil
}

// reader walks a payload with bounds checking on every read.
type reader struct {
	buf []byte
	off int
}

func (r *reader) remaining() int {
	return len(r.buf) - r.off
}

func (r *reader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.off:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad uvarint at offset %d", ErrCorrupt, r.off)
	}
	r.off += n
	return v, nil
}

func (r *reader) varint() (int64, error) {
	v, n := binary.Varint(r.buf[r.off:])
	if n <= 0 {
		return 0, fmt.Errorf("%w: bad varint at offset %d", ErrCorrupt, r.off)
	}
	r.off += n
	return v, nil
}

// offset reads a span start or length. Both must lie in [0, math.MaxInt32]
// so they fit an int on every platform.
func (r *reader) offset() (int64, error) {
	at := r.off
	v, err := r.varint()
	if err != nil {
		return 0, err
	}
	if v < 0 || v > math.MaxInt32 {
		return 0, fmt.Errorf("%w: offset %d out of range at offset %d", ErrCorrupt, v, at)
	}
	return v, nil
}

// count reads an element count and rejects values that could not fit in
// the remaining bytes given a minimum encoded size per element.
func (r *reader) count(minElemSize int) (int, error) {
	v, err := r.uvarint()
	if err != nil {
		return 0, err
	}
	if v > uint64(r.remaining()/minElemSize) {
		return 0, fmt.Errorf("%w: count %d exceeds payload", ErrCorrupt, v)
	}
	return int(v), nil
}

func (r *reader) bytes(n int) ([]byte, error) {
	if n > r.remaining() {
		return nil, fmt.Errorf("%w: need %d bytes, have %d", ErrCorrupt, n, r.remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}
