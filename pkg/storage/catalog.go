package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/vjranagit/hearth/pkg/types"
)

// catalog is the in-memory view of the statistic metadata stored under
// metaKeyPrefix. Entries are written to badger inside the ingest
// transaction; the map mirrors them so lookups and listings never touch
// the database.
type catalog struct {
	mu   sync.RWMutex
	byID map[string]types.Metadata
}

func newCatalog() *catalog {
	return &catalog{
		byID: make(map[string]types.Metadata),
	}
}

// load populates the catalog from the persisted metadata entries
func (c *catalog) load(db *badger.DB) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	return db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(metaKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var meta types.Metadata
				if err := json.Unmarshal(val, &meta); err != nil {
					return fmt.Errorf("corrupt metadata entry %q: %w", it.Item().Key(), err)
				}
				c.byID[meta.StatisticID] = meta
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// put records or replaces a metadata entry
func (c *catalog) put(meta types.Metadata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byID[meta.StatisticID] = meta
}

// get looks up metadata by statistic id
func (c *catalog) get(statisticID string) (types.Metadata, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta, ok := c.byID[statisticID]
	return meta, ok
}

// list returns all metadata entries ordered by statistic id
func (c *catalog) list() []types.Metadata {
	c.mu.RLock()
	defer c.mu.RUnlock()

	result := make([]types.Metadata, 0, len(c.byID))
	for _, meta := range c.byID {
		result = append(result, meta)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].StatisticID < result[j].StatisticID
	})
	return result
}

// size returns the number of known series
func (c *catalog) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.byID)
}
