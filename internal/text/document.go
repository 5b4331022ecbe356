package text

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// DocumentKey identifies a document across process boundaries: the owning
// project plus the document's path within it.
type DocumentKey struct {
	Project string
	Path    string
}

func (k DocumentKey) String() string {
	return k.Project + ":" + k.Path
}

// Checksum is the SHA-256 digest of a document's full content.
type Checksum [sha256.Size]byte

// ComputeChecksum hashes content.
func ComputeChecksum(content []byte) Checksum {
	return sha256.Sum256(content)
}

func (c Checksum) String() string {
	return hex.EncodeToString(c[:])
}

// ParseChecksum decodes a hex-encoded checksum.
func ParseChecksum(s string) (Checksum, error) {
	var c Checksum
	b, err := hex.DecodeString(s)
	if err != nil {
		return c, fmt.Errorf("parse checksum: %w", err)
	}
	if len(b) != len(c) {
		return c, fmt.Errorf("parse checksum: want %d bytes, got %d", len(c), len(b))
	}
	copy(c[:], b)
	return c, nil
}

// ChecksumFromBytes copies a raw digest. Returns false if b has the wrong size.
func ChecksumFromBytes(b []byte) (Checksum, bool) {
	var c Checksum
	if len(b) != len(c) {
		return c, false
	}
	copy(c[:], b)
	return c, true
}

// Document is a snapshot of a document's content.
type Document struct {
	Key      DocumentKey
	Language string // canonical language name, "" if unknown
	Content  []byte
}

// Checksum hashes the document's content.
func (d Document) Checksum() Checksum {
	return ComputeChecksum(d.Content)
}

// FullSpan returns the span covering the whole document.
func (d Document) FullSpan() TextSpan {
	return TextSpan{Start: 0, Length: len(d.Content)}
}
