// Package badger persists datasets in BadgerDB so the demo backend keeps
// its seeded data across restarts.
package badger

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"
	"github.com/goccy/go-json"

	"github.com/chartfeed/chartfeed/pkg/series"
	"github.com/chartfeed/chartfeed/pkg/store"
)

// Store implements store.Store on BadgerDB (LSM tree).
type Store struct {
	db  *badger.DB
	seq atomic.Uint32
}

// Config holds BadgerDB configuration.
type Config struct {
	// Path to the database files.
	Path string

	// InMemory mode, for testing.
	InMemory bool
}

// New opens a BadgerDB store tuned for this small, mostly-read workload.
func New(cfg Config) (*Store, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}

	// Conservative footprint: the demo datasets are a few MB at most.
	opts = opts.
		WithCompression(options.Snappy).
		WithNumVersionsToKeep(1).
		WithMemTableSize(16 << 20).
		WithNumMemtables(2).
		WithBlockCacheSize(8 << 20).
		WithIndexCacheSize(4 << 20).
		WithMaxLevels(4).
		WithNumCompactors(2).
		WithValueLogFileSize(64 << 20)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger: %w", err)
	}
	return &Store{db: db}, nil
}

// Write appends points to the dataset.
func (s *Store) Write(ctx context.Context, dataset string, pts series.Series) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		for _, p := range pts {
			value, err := json.Marshal(p)
			if err != nil {
				return fmt.Errorf("failed to encode point: %w", err)
			}
			if err := txn.Set(s.makeKey(dataset, p.Timestamp), value); err != nil {
				return fmt.Errorf("failed to write point: %w", err)
			}
		}
		// Record the dataset name; keys only carry its hash.
		return txn.Set(nameKey(dataset), []byte(dataset))
	})
}

// Query retrieves matching points for the dataset, sorted by timestamp.
func (s *Store) Query(ctx context.Context, req store.QueryRequest) (series.Series, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	prefix := datasetPrefix(req.Dataset)
	var results series.Series

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchSize = 100

		it := txn.NewIterator(opts)
		defer it.Close()

		count := 0
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
			if count%1000 == 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
			}

			err := it.Item().Value(func(val []byte) error {
				var p series.Point
				if err := json.Unmarshal(val, &p); err != nil {
					return fmt.Errorf("failed to decode point: %w", err)
				}
				if req.Matches(p) {
					results = append(results, p)
				}
				return nil
			})
			if err != nil {
				return err
			}
			if req.Limit > 0 && len(results) >= req.Limit {
				break
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})
	return results, nil
}

// Datasets lists the stored dataset names.
func (s *Store) Datasets(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(namePrefix)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(opts.Prefix); it.ValidForPrefix(opts.Prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				names = append(names, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Close shuts down BadgerDB cleanly.
func (s *Store) Close() error {
	return s.db.Close()
}

// RunGC reclaims value log space; call it periodically on long-lived stores.
func (s *Store) RunGC(discardRatio float64) error {
	return s.db.RunValueLogGC(discardRatio)
}

const namePrefix = "ds!"

func nameKey(dataset string) []byte {
	return append([]byte(namePrefix), dataset...)
}

// datasetPrefix is the 9-byte key prefix for a dataset's points: a tag byte
// plus the dataset name hash.
func datasetPrefix(dataset string) []byte {
	prefix := make([]byte, 9)
	prefix[0] = 'p'
	binary.BigEndian.PutUint64(prefix[1:9], xxhash.Sum64String(dataset))
	return prefix
}

// makeKey builds a point key: dataset prefix, timestamp nanos, then a
// process-local sequence so duplicate timestamps stay distinct points.
func (s *Store) makeKey(dataset string, ts time.Time) []byte {
	key := make([]byte, 21)
	copy(key[0:9], datasetPrefix(dataset))
	binary.BigEndian.PutUint64(key[9:17], uint64(ts.UnixNano()))
	binary.BigEndian.PutUint32(key[17:21], s.seq.Add(1))
	return key
}
