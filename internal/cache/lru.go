package cache

import (
	"slices"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/jward/tinct/internal/text"
)

// memoryTier is a bounded LRU of classification results with at most one
// entry per document.
//
// Thread safety: the LRU is safe on its own. mu serializes put against seal
// so a put that raced a seal cannot land after the purge.
type memoryTier struct {
	mu     sync.Mutex
	lru    *lru.Cache[text.DocumentKey, memoryEntry]
	sealed bool
}

type memoryEntry struct {
	checksum text.Checksum
	spans    []text.ClassifiedSpan
}

func newMemoryTier(capacity int) *memoryTier {
	if capacity < 1 {
		capacity = 1
	}
	c, err := lru.New[text.DocumentKey, memoryEntry](capacity)
	if err != nil {
		// Only a non-positive size is rejected.
		panic(err)
	}
	return &memoryTier{lru: c}
}

// get returns the entry for key if its checksum matches, marking it most
// recently used. A checksum mismatch is a miss and leaves the order alone.
func (m *memoryTier) get(key text.DocumentKey, checksum text.Checksum) ([]text.ClassifiedSpan, bool) {
	entry, ok := m.lru.Peek(key)
	if !ok || entry.checksum != checksum {
		return nil, false
	}
	entry, ok = m.lru.Get(key)
	if !ok || entry.checksum != checksum {
		return nil, false
	}
	return entry.spans, true
}

// put replaces any entry for key with a new most-recently-used entry.
// Returns the number of evicted entries. A sealed tier stores nothing.
func (m *memoryTier) put(key text.DocumentKey, checksum text.Checksum, spans []text.ClassifiedSpan) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sealed {
		return 0
	}
	if m.lru.Add(key, memoryEntry{checksum: checksum, spans: spans}) {
		return 1
	}
	return 0
}

// seal empties the tier and makes every later put a no-op.
func (m *memoryTier) seal() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sealed = true
	return m.purge()
}

func (m *memoryTier) remove(key text.DocumentKey) {
	m.lru.Remove(key)
}

func (m *memoryTier) clear() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.purge()
}

func (m *memoryTier) purge() int {
	n := m.lru.Len()
	m.lru.Purge()
	return n
}

func (m *memoryTier) isSealed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sealed
}

func (m *memoryTier) len() int {
	return m.lru.Len()
}

// keys returns the cached keys from most to least recently used.
func (m *memoryTier) keys() []text.DocumentKey {
	keys := m.lru.Keys()
	slices.Reverse(keys)
	return keys
}
