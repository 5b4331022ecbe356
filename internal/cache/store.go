// Package cache implements the two-tier classification cache: a bounded
// in-memory LRU in front of a persistent byte store. Entries are keyed by
// document and are only ever served for an exact content checksum match.
package cache

import (
	"context"
	"slices"

	"go.uber.org/zap"

	"github.com/jward/tinct/internal/codec"
	"github.com/jward/tinct/internal/metrics"
	"github.com/jward/tinct/internal/text"
)

// MaxCachedDocumentCount bounds the in-memory tier.
const MaxCachedDocumentCount = 8

// PersistenceName identifies classification payloads within the persistent
// store's per-document namespace.
const PersistenceName = "<ClassifiedSpans>"

// Persistence is the read/write contract of the persistent byte store.
// Absent data is reported as ok=false with a nil error; errors are reserved
// for storage failures and cancellation.
type Persistence interface {
	ReadChecksum(ctx context.Context, key text.DocumentKey, name string) (text.Checksum, bool, error)
	ReadStream(ctx context.Context, key text.DocumentKey, name string, expected text.Checksum) ([]byte, bool, error)
	WriteStream(ctx context.Context, key text.DocumentKey, name string, data []byte, checksum text.Checksum) error
}

// Stream is one persisted payload with the checksum it was written for.
type Stream struct {
	Key      text.DocumentKey
	Name     string
	Checksum text.Checksum
	Data     []byte
}

// StreamDeleter is implemented by persistence backends that can drop a
// document's stream.
type StreamDeleter interface {
	DeleteStream(ctx context.Context, key text.DocumentKey, name string) error
}

// BatchWriter is implemented by persistence backends that can write many
// streams in one round trip. Each stream is written whole or not at all.
type BatchWriter interface {
	WriteStreams(ctx context.Context, streams []Stream) error
}

// Store is a two-tier classification cache. The zero value is not usable;
// construct with New.
type Store struct {
	persistence Persistence // nil means memory only
	memory      *memoryTier
	logger      *zap.Logger
	metrics     *metrics.Metrics
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for miss diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics records lookups and evictions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithCapacity overrides MaxCachedDocumentCount.
func WithCapacity(n int) Option {
	return func(s *Store) {
		s.memory = newMemoryTier(n)
	}
}

// New creates a Store. p may be nil, in which case every persistent lookup
// is a miss and writes only populate memory.
func New(p Persistence, opts ...Option) *Store {
	s := &Store{
		persistence: p,
		memory:      newMemoryTier(MaxCachedDocumentCount),
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TryGetFromMemory returns the in-memory entry for key when it matches checksum.
func (s *Store) TryGetFromMemory(key text.DocumentKey, checksum text.Checksum) ([]text.ClassifiedSpan, bool) {
	spans, ok := s.memory.get(key, checksum)
	if !ok {
		s.metrics.IncLookup(metrics.TierMemory, metrics.ResultMiss)
		return nil, false
	}
	s.metrics.IncLookup(metrics.TierMemory, metrics.ResultHit)
	return slices.Clone(spans), true
}

// TryReadFromPersistent reads and decodes the persisted entry for key when
// it was written for checksum. The error is non-nil only when ctx is done.
func (s *Store) TryReadFromPersistent(ctx context.Context, key text.DocumentKey, checksum text.Checksum) ([]text.ClassifiedSpan, bool, error) {
	spans, ok, err := s.readPersistent(ctx, key, checksum)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		s.metrics.IncLookup(metrics.TierPersistent, metrics.ResultMiss)
		return nil, false, nil
	}
	s.metrics.IncLookup(metrics.TierPersistent, metrics.ResultHit)
	return spans, true, nil
}

func (s *Store) readPersistent(ctx context.Context, key text.DocumentKey, checksum text.Checksum) ([]text.ClassifiedSpan, bool, error) {
	if s.persistence == nil {
		return nil, false, nil
	}
	data, ok, err := s.persistence.ReadStream(ctx, key, PersistenceName, checksum)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, false, ctxErr
		}
		s.logger.Warn("Failed to read persisted classifications",
			zap.Stringer("document", key), zap.Error(err))
		return nil, false, nil
	}
	if !ok {
		return nil, false, nil
	}
	spans, err := codec.Decode(data)
	if err != nil {
		s.logger.Debug("Discarding undecodable persisted classifications",
			zap.Stringer("document", key), zap.Error(err))
		return nil, false, nil
	}
	return spans, true, nil
}

// GetOrRead checks memory, then the persistent tier. A persistent hit is
// promoted into memory before returning. The error is non-nil only when ctx
// is done; every other failure is a miss.
func (s *Store) GetOrRead(ctx context.Context, key text.DocumentKey, checksum text.Checksum) ([]text.ClassifiedSpan, bool, error) {
	if spans, ok := s.TryGetFromMemory(key, checksum); ok {
		return spans, true, nil
	}
	spans, ok, err := s.TryReadFromPersistent(ctx, key, checksum)
	if err != nil || !ok {
		return nil, false, err
	}
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	s.populate(key, checksum, spans)
	return slices.Clone(spans), true, nil
}

// Write persists spans for (key, checksum) and then makes them the
// document's in-memory entry. Memory is left untouched when the persistent
// write fails or ctx is cancelled.
func (s *Store) Write(ctx context.Context, key text.DocumentKey, checksum text.Checksum, spans []text.ClassifiedSpan) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	spans = slices.Clone(spans)
	if s.persistence != nil {
		if err := s.persistence.WriteStream(ctx, key, PersistenceName, codec.Encode(spans), checksum); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			return err
		}
	}
	s.populate(key, checksum, spans)
	return nil
}

// PersistedChecksum returns the checksum the persistent tier holds for key.
func (s *Store) PersistedChecksum(ctx context.Context, key text.DocumentKey) (text.Checksum, bool, error) {
	if s.persistence == nil {
		return text.Checksum{}, false, nil
	}
	return s.persistence.ReadChecksum(ctx, key, PersistenceName)
}

func (s *Store) populate(key text.DocumentKey, checksum text.Checksum, spans []text.ClassifiedSpan) {
	for range s.memory.put(key, checksum, spans) {
		s.metrics.IncEviction()
	}
}

// Delete drops key from both tiers. Backends without StreamDeleter keep
// the persisted entry, which the checksum guard still protects.
func (s *Store) Delete(ctx context.Context, key text.DocumentKey) error {
	s.memory.remove(key)
	d, ok := s.persistence.(StreamDeleter)
	if !ok {
		return nil
	}
	return d.DeleteStream(ctx, key, PersistenceName)
}

// Clear drops every in-memory entry. The persistent tier is untouched.
func (s *Store) Clear() {
	n := s.memory.clear()
	s.logger.Debug("Cleared in-memory classification cache", zap.Int("entries", n))
}

// Seal drops every in-memory entry and stops the memory tier from taking
// new ones. Reads and writes of the persistent tier carry on. Returns the
// number of entries dropped.
func (s *Store) Seal() int {
	n := s.memory.seal()
	s.logger.Debug("Sealed in-memory classification cache", zap.Int("entries", n))
	return n
}

// Sealed reports whether Seal has been called.
func (s *Store) Sealed() bool {
	return s.memory.isSealed()
}

// Len returns the number of in-memory entries.
func (s *Store) Len() int {
	return s.memory.len()
}

// Keys returns the in-memory keys from most to least recently used.
func (s *Store) Keys() []text.DocumentKey {
	return s.memory.keys()
}
