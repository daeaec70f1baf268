package storage

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/vjranagit/hearth/pkg/types"
)

// Store is the long-term statistics store. Series are identified by
// their statistic id; rows are hourly and grouped into day blocks on
// disk.
type Store interface {
	// Ingest registers the series metadata and appends rows. The call
	// is atomic: either all rows and the metadata land, or none do.
	Ingest(ctx context.Context, meta types.Metadata, points []types.Point) error

	// LastValue returns the most recent recorded sum for the series.
	// It returns (nil, nil) when the series has never recorded one.
	LastValue(ctx context.Context, statisticID string) (*float64, error)

	// Query returns the rows with start times in [start, end)
	Query(ctx context.Context, statisticID string, start, end time.Time) ([]types.Point, error)

	// Metadata returns the metadata for a single series
	Metadata(ctx context.Context, statisticID string) (types.Metadata, error)

	// ListMetadata returns metadata for all known series
	ListMetadata(ctx context.Context) ([]types.Metadata, error)

	// Close closes the store
	Close() error
}

// ErrNotFound is returned for lookups of series the store has never seen
var ErrNotFound = errors.New("statistic not found")

// ErrInvalid marks ingests rejected for malformed metadata or rows
// that do not match the declared columns
var ErrInvalid = errors.New("invalid statistics payload")

// Config holds store configuration
type Config struct {
	Path             string
	CompressionLevel int
	BlockCacheSize   int
}

// DefaultConfig returns default store configuration
func DefaultConfig() *Config {
	return &Config{
		Path:             "./data",
		CompressionLevel: 3,
		BlockCacheSize:   defaultBlockCacheSize,
	}
}

// defaultBlockCacheSize caps the decoded-block cache; a block is one
// series-day
const defaultBlockCacheSize = 256

// Rows are stored in one block per day; hourly statistics put at most
// 24 rows in a block.
const blockWindow = 24 * time.Hour

const (
	metaKeyPrefix  = "meta/"
	blockKeyPrefix = "blk/"
	lastKeyPrefix  = "last/"
)

const (
	colMean = "mean"
	colMin  = "min"
	colMax  = "max"
	colSum  = "sum"
)

// badgerStore implements Store using BadgerDB
type badgerStore struct {
	cfg        *Config
	db         *badger.DB
	catalog    *catalog
	compressor *Compressor
	blocks     *blockCache
	log        *slog.Logger
	mu         sync.RWMutex
}

// NewStore opens the statistics store at cfg.Path
func NewStore(cfg *Config, log *slog.Logger) (Store, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if log == nil {
		log = slog.Default()
	}

	opts := badger.DefaultOptions(filepath.Join(cfg.Path, "badger"))
	opts.Logger = nil // Disable BadgerDB logging

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open BadgerDB: %w", err)
	}

	compressor, err := NewCompressor(cfg.CompressionLevel)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create compressor: %w", err)
	}

	cacheSize := cfg.BlockCacheSize
	if cacheSize <= 0 {
		cacheSize = defaultBlockCacheSize
	}

	s := &badgerStore{
		cfg:        cfg,
		db:         db,
		catalog:    newCatalog(),
		compressor: compressor,
		blocks:     newBlockCache(cacheSize),
		log:        log.With("component", "statistics-store"),
	}

	// Continuation across restarts depends on the persisted catalog
	// and last-sum entries, so load the catalog before serving
	if err := s.catalog.load(db); err != nil {
		compressor.Close()
		db.Close()
		return nil, fmt.Errorf("failed to load statistics catalog: %w", err)
	}

	return s, nil
}

// Ingest implements Store.Ingest
func (s *badgerStore) Ingest(ctx context.Context, meta types.Metadata, points []types.Point) error {
	if err := meta.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if err := validateColumns(meta, points); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	metaBytes, err := json.Marshal(&meta)
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	blocks := groupPointsByBlock(points)

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(metaKey(meta.StatisticID), metaBytes); err != nil {
			return fmt.Errorf("failed to write metadata: %w", err)
		}

		for blockTime, rows := range blocks {
			if err := s.writeBlock(txn, meta.StatisticID, blockTime, rows); err != nil {
				return fmt.Errorf("failed to write block: %w", err)
			}
		}

		if meta.HasSum {
			if err := s.advanceLastSum(txn, meta.StatisticID, points); err != nil {
				return fmt.Errorf("failed to advance last sum: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("ingest %s: %w", meta.StatisticID, err)
	}

	// Rewritten blocks are stale in the decoded cache only after the
	// transaction committed
	for blockTime := range blocks {
		s.blocks.invalidate(blockKey(meta.StatisticID, blockTime))
	}

	s.catalog.put(meta)
	s.log.Info("ingested statistics",
		"ingest_id", uuid.NewString(),
		"statistic_id", meta.StatisticID,
		"rows", len(points),
		"blocks", len(blocks))
	return nil
}

// groupPointsByBlock groups rows into day blocks
func groupPointsByBlock(points []types.Point) map[int64][]types.Point {
	blocks := make(map[int64][]types.Point)

	for _, p := range points {
		blockTime := p.Start.Truncate(blockWindow).Unix()
		blocks[blockTime] = append(blocks[blockTime], p)
	}

	return blocks
}

// writeBlock merges rows into the block and writes it back. Rows with
// the same start time are replaced by the incoming ones.
func (s *badgerStore) writeBlock(txn *badger.Txn, statisticID string, blockTime int64, rows []types.Point) error {
	key := blockKey(statisticID, blockTime)

	existing, err := s.readBlock(txn, key)
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return err
	}

	merged := mergeRows(existing, rows)

	payload, err := s.encodeBlock(merged)
	if err != nil {
		return err
	}

	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	return txn.Set(key, payloadBytes)
}

// mergeRows overlays incoming rows on the existing block content,
// keyed by row start, and returns the result ordered by start time
func mergeRows(existing, incoming []types.Point) []types.Point {
	byStart := make(map[int64]types.Point, len(existing)+len(incoming))
	for _, p := range existing {
		byStart[p.Start.UnixNano()] = p
	}
	for _, p := range incoming {
		byStart[p.Start.UnixNano()] = p
	}

	merged := make([]types.Point, 0, len(byStart))
	for _, p := range byStart {
		merged = append(merged, p)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Start.Before(merged[j].Start)
	})
	return merged
}

// blockPayload is the stored form of one day block
type blockPayload struct {
	Count   int
	Starts  []byte
	Columns map[string][]byte
}

// encodeBlock compresses rows into a block payload
func (s *badgerStore) encodeBlock(rows []types.Point) (*blockPayload, error) {
	starts := make([]int64, len(rows))
	for i, r := range rows {
		starts[i] = r.Start.UnixNano()
	}

	compressedStarts, err := s.compressor.CompressTimestamps(starts)
	if err != nil {
		return nil, fmt.Errorf("failed to compress row starts: %w", err)
	}

	payload := &blockPayload{
		Count:   len(rows),
		Starts:  compressedStarts,
		Columns: make(map[string][]byte),
	}

	columns := map[string]func(types.Point) *float64{
		colMean: func(p types.Point) *float64 { return p.Mean },
		colMin:  func(p types.Point) *float64 { return p.Min },
		colMax:  func(p types.Point) *float64 { return p.Max },
		colSum:  func(p types.Point) *float64 { return p.Sum },
	}

	for name, field := range columns {
		values := make([]*float64, len(rows))
		present := false
		for i, r := range rows {
			values[i] = field(r)
			present = present || values[i] != nil
		}
		if !present {
			continue
		}
		compressed, err := s.compressor.CompressColumn(values)
		if err != nil {
			return nil, fmt.Errorf("failed to compress %s column: %w", name, err)
		}
		payload.Columns[name] = compressed
	}

	return payload, nil
}

// readBlock reads and decodes one day block, preferring the decoded
// cache. It passes through badger.ErrKeyNotFound for missing blocks.
func (s *badgerStore) readBlock(txn *badger.Txn, key []byte) ([]types.Point, error) {
	if rows, ok := s.blocks.get(key); ok {
		return rows, nil
	}

	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}

	var payloadBytes []byte
	err = item.Value(func(val []byte) error {
		payloadBytes = append([]byte{}, val...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	var payload blockPayload
	if err := json.Unmarshal(payloadBytes, &payload); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
	}

	starts, err := s.compressor.DecompressTimestamps(payload.Starts, payload.Count)
	if err != nil {
		return nil, fmt.Errorf("failed to decompress row starts: %w", err)
	}

	rows := make([]types.Point, payload.Count)
	for i := range rows {
		rows[i].Start = time.Unix(0, starts[i])
	}

	for name, data := range payload.Columns {
		values, err := s.compressor.DecompressColumn(data, payload.Count)
		if err != nil {
			return nil, fmt.Errorf("failed to decompress %s column: %w", name, err)
		}
		for i, v := range values {
			switch name {
			case colMean:
				rows[i].Mean = v
			case colMin:
				rows[i].Min = v
			case colMax:
				rows[i].Max = v
			case colSum:
				rows[i].Sum = v
			}
		}
	}

	s.blocks.put(key, rows)
	return rows, nil
}

// lastSum is the stored continuation marker for a sum series
type lastSum struct {
	Start time.Time
	Sum   float64
}

// advanceLastSum moves the continuation marker to the newest written
// sum, unless an even newer one is already recorded
func (s *badgerStore) advanceLastSum(txn *badger.Txn, statisticID string, points []types.Point) error {
	var newest *types.Point
	for i := range points {
		p := &points[i]
		if p.Sum == nil {
			continue
		}
		if newest == nil || p.Start.After(newest.Start) {
			newest = p
		}
	}
	if newest == nil {
		return nil
	}

	key := lastKey(statisticID)
	current, err := readLastSum(txn, key)
	if err != nil {
		return err
	}
	if current != nil && current.Start.After(newest.Start) {
		return nil
	}

	entry := lastSum{Start: newest.Start, Sum: *newest.Sum}
	raw, err := json.Marshal(&entry)
	if err != nil {
		return fmt.Errorf("failed to marshal last sum: %w", err)
	}
	return txn.Set(key, raw)
}

// readLastSum reads the continuation marker, returning nil when the
// series has never recorded a sum
func readLastSum(txn *badger.Txn, key []byte) (*lastSum, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var entry lastSum
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &entry)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal last sum: %w", err)
	}
	return &entry, nil
}

// LastValue implements Store.LastValue
func (s *badgerStore) LastValue(ctx context.Context, statisticID string) (*float64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result *float64
	err := s.db.View(func(txn *badger.Txn) error {
		entry, err := readLastSum(txn, lastKey(statisticID))
		if err != nil {
			return err
		}
		if entry != nil {
			result = &entry.Sum
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("last value for %s: %w", statisticID, err)
	}
	return result, nil
}

// Query implements Store.Query
func (s *badgerStore) Query(ctx context.Context, statisticID string, start, end time.Time) ([]types.Point, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.catalog.get(statisticID); !ok {
		return nil, fmt.Errorf("query %s: %w", statisticID, ErrNotFound)
	}
	if !start.Before(end) {
		return nil, nil
	}

	var result []types.Point
	err := s.db.View(func(txn *badger.Txn) error {
		startBlock := start.Truncate(blockWindow).Unix()
		endBlock := end.Add(-time.Nanosecond).Truncate(blockWindow).Unix()

		for blockTime := startBlock; blockTime <= endBlock; blockTime += int64(blockWindow / time.Second) {
			rows, err := s.readBlock(txn, blockKey(statisticID, blockTime))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}

			// Half-open range: a row exactly at start belongs to the
			// result, a row exactly at end does not
			for _, row := range rows {
				if !row.Start.Before(start) && row.Start.Before(end) {
					result = append(result, row)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", statisticID, err)
	}
	return result, nil
}

// Metadata implements Store.Metadata
func (s *badgerStore) Metadata(ctx context.Context, statisticID string) (types.Metadata, error) {
	meta, ok := s.catalog.get(statisticID)
	if !ok {
		return types.Metadata{}, fmt.Errorf("metadata for %s: %w", statisticID, ErrNotFound)
	}
	return meta, nil
}

// ListMetadata implements Store.ListMetadata
func (s *badgerStore) ListMetadata(ctx context.Context) ([]types.Metadata, error) {
	return s.catalog.list(), nil
}

// Close implements Store.Close
func (s *badgerStore) Close() error {
	if s.compressor != nil {
		s.compressor.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// validateColumns checks every row against the columns the metadata
// declares. Mean series must carry mean/min/max on every row, sum
// series must carry sum, and neither may carry columns the metadata
// does not declare.
func validateColumns(meta types.Metadata, points []types.Point) error {
	for i, p := range points {
		if meta.HasMean {
			if p.Mean == nil || p.Min == nil || p.Max == nil {
				return fmt.Errorf("statistic %s: row %d is missing mean columns declared by metadata", meta.StatisticID, i)
			}
		} else if p.Mean != nil || p.Min != nil || p.Max != nil {
			return fmt.Errorf("statistic %s: row %d carries mean columns but metadata declares none", meta.StatisticID, i)
		}

		if meta.HasSum {
			if p.Sum == nil {
				return fmt.Errorf("statistic %s: row %d is missing the sum column declared by metadata", meta.StatisticID, i)
			}
		} else if p.Sum != nil {
			return fmt.Errorf("statistic %s: row %d carries a sum column but metadata declares none", meta.StatisticID, i)
		}
	}
	return nil
}

func metaKey(statisticID string) []byte {
	return []byte(metaKeyPrefix + statisticID)
}

func lastKey(statisticID string) []byte {
	return []byte(lastKeyPrefix + statisticID)
}

// blockKey generates the storage key for a day block
func blockKey(statisticID string, blockTime int64) []byte {
	buf := new(bytes.Buffer)

	buf.WriteString(blockKeyPrefix)
	buf.WriteString(statisticID)
	buf.WriteByte('/')

	// Big-endian block time keeps keys for one series in time order
	binary.Write(buf, binary.BigEndian, blockTime)

	return buf.Bytes()
}
