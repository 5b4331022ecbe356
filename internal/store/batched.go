package store

import (
	"context"
	"fmt"
	"sync"

	"github.com/jward/tinct/internal/cache"
	"github.com/jward/tinct/internal/text"
)

// BatchedStore buffers stream writes in memory and commits them to a target
// persistence in one batch. It implements cache.Persistence so a cache
// store can write to it without knowing whether it is hitting the backend
// or the buffer.
//
// Thread safety: the mutex protects the buffer. Reads of streams that are
// not buffered are passed through to the target, which handles its own
// concurrency.
type BatchedStore struct {
	target cache.Persistence
	mu     sync.Mutex

	pending map[streamKey]int // index into streams
	streams []cache.Stream
}

type streamKey struct {
	key  text.DocumentKey
	name string
}

// Compile-time check: *BatchedStore satisfies cache.Persistence.
var _ cache.Persistence = (*BatchedStore)(nil)

// NewBatchedStore creates a BatchedStore in front of target.
func NewBatchedStore(target cache.Persistence) *BatchedStore {
	return &BatchedStore{
		target:  target,
		pending: make(map[streamKey]int),
	}
}

func (b *BatchedStore) buffered(key text.DocumentKey, name string) (cache.Stream, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i, ok := b.pending[streamKey{key, name}]
	if !ok {
		return cache.Stream{}, false
	}
	return b.streams[i], true
}

func (b *BatchedStore) ReadChecksum(ctx context.Context, key text.DocumentKey, name string) (text.Checksum, bool, error) {
	if st, ok := b.buffered(key, name); ok {
		return st.Checksum, true, nil
	}
	return b.target.ReadChecksum(ctx, key, name)
}

func (b *BatchedStore) ReadStream(ctx context.Context, key text.DocumentKey, name string, expected text.Checksum) ([]byte, bool, error) {
	if st, ok := b.buffered(key, name); ok {
		if st.Checksum != expected {
			return nil, false, nil
		}
		return st.Data, true, nil
	}
	return b.target.ReadStream(ctx, key, name, expected)
}

// WriteStream buffers the stream, replacing any buffered stream for the
// same document and name.
func (b *BatchedStore) WriteStream(ctx context.Context, key text.DocumentKey, name string, data []byte, checksum text.Checksum) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	st := cache.Stream{Key: key, Name: name, Checksum: checksum, Data: data}
	k := streamKey{key, name}
	if i, ok := b.pending[k]; ok {
		b.streams[i] = st
		return nil
	}
	b.pending[k] = len(b.streams)
	b.streams = append(b.streams, st)
	return nil
}

// Len returns the number of buffered streams.
func (b *BatchedStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.streams)
}

// Commit writes every buffered stream to the target and empties the buffer.
// Targets implementing cache.BatchWriter receive a single batch; others get
// one WriteStream call per stream. On failure the buffer is kept so the
// commit can be retried.
func (b *BatchedStore) Commit(ctx context.Context) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.streams) == 0 {
		return 0, nil
	}

	if bw, ok := b.target.(cache.BatchWriter); ok {
		if err := bw.WriteStreams(ctx, b.streams); err != nil {
			return 0, fmt.Errorf("commit batch: %w", err)
		}
	} else {
		for i, st := range b.streams {
			if err := b.target.WriteStream(ctx, st.Key, st.Name, st.Data, st.Checksum); err != nil {
				// Drop what was already written so a retry resumes here.
				b.dropFirst(i)
				return i, fmt.Errorf("commit batch: %s: %w", st.Key, err)
			}
		}
	}

	n := len(b.streams)
	b.dropFirst(n)
	return n, nil
}

// dropFirst removes the first n buffered streams. Caller holds mu.
func (b *BatchedStore) dropFirst(n int) {
	b.streams = append([]cache.Stream(nil), b.streams[n:]...)
	b.pending = make(map[streamKey]int, len(b.streams))
	for i, st := range b.streams {
		b.pending[streamKey{st.Key, st.Name}] = i
	}
}
