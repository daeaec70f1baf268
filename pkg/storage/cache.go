package storage

import (
	"container/list"
	"sync"

	"github.com/vjranagit/hearth/pkg/types"
)

// blockCache is an LRU over decoded day blocks. Both queries and the
// ingest merge path read blocks, so keeping the hot ones decoded saves
// the badger read and the column decompression. Entries are
// invalidated when ingest rewrites their block, so they carry no TTL.
type blockCache struct {
	capacity int
	mu       sync.Mutex
	entries  map[string]*list.Element
	lru      *list.List
}

// blockEntry is one cached decoded block
type blockEntry struct {
	key  string
	rows []types.Point
}

// newBlockCache creates a cache holding up to capacity blocks
func newBlockCache(capacity int) *blockCache {
	return &blockCache{
		capacity: capacity,
		entries:  make(map[string]*list.Element),
		lru:      list.New(),
	}
}

// get returns the decoded rows for a block key. Callers must treat the
// returned slice as read-only.
func (bc *blockCache) get(key []byte) ([]types.Point, bool) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	element, exists := bc.entries[string(key)]
	if !exists {
		return nil, false
	}

	bc.lru.MoveToFront(element)
	return element.Value.(*blockEntry).rows, true
}

// put stores decoded rows for a block key, evicting the least recently
// used block when the cache is full
func (bc *blockCache) put(key []byte, rows []types.Point) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	k := string(key)
	if element, exists := bc.entries[k]; exists {
		element.Value.(*blockEntry).rows = rows
		bc.lru.MoveToFront(element)
		return
	}

	bc.entries[k] = bc.lru.PushFront(&blockEntry{key: k, rows: rows})

	if bc.lru.Len() > bc.capacity {
		oldest := bc.lru.Back()
		if oldest != nil {
			bc.removeLocked(oldest.Value.(*blockEntry).key)
		}
	}
}

// invalidate drops a block from the cache after its content changed
func (bc *blockCache) invalidate(key []byte) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.removeLocked(string(key))
}

// removeLocked removes an entry (must hold lock)
func (bc *blockCache) removeLocked(key string) {
	if element, exists := bc.entries[key]; exists {
		bc.lru.Remove(element)
		delete(bc.entries, key)
	}
}

// size returns the number of cached blocks
func (bc *blockCache) size() int {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return len(bc.entries)
}
