// Package memory stores datasets in memory. Data is lost on restart.
// Useful for testing and development.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/chartfeed/chartfeed/pkg/series"
	"github.com/chartfeed/chartfeed/pkg/store"
)

// Store keeps each dataset as an ordered point slice behind one RWMutex.
type Store struct {
	datasets map[string]series.Series
	mu       sync.RWMutex
}

// New creates an in-memory store.
func New() *Store {
	return &Store{datasets: make(map[string]series.Series)}
}

// Write appends points to the dataset.
func (s *Store) Write(ctx context.Context, dataset string, pts series.Series) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[dataset] = append(s.datasets[dataset], pts.Clone()...)
	return nil
}

// Query retrieves matching points sorted by timestamp.
func (s *Store) Query(ctx context.Context, req store.QueryRequest) (series.Series, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results series.Series
	for _, p := range s.datasets[req.Dataset] {
		if !req.Matches(p) {
			continue
		}
		results = append(results, p)
		if req.Limit > 0 && len(results) >= req.Limit {
			break
		}
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})
	return results.Clone(), nil
}

// Datasets lists dataset names, sorted.
func (s *Store) Datasets(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.datasets))
	for name := range s.datasets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// Close is a no-op for memory storage.
func (s *Store) Close() error {
	return nil
}
