// Package store is the storage layer behind the demo analytics backend:
// named datasets of chart points, queryable by time range and branch.
// Implementations: memory (testing), badger (persistent).
package store

import (
	"context"
	"time"

	"github.com/chartfeed/chartfeed/pkg/series"
)

// Store holds the seeded datasets the demo endpoints serve from.
type Store interface {
	// Write appends points to a dataset.
	Write(ctx context.Context, dataset string, pts series.Series) error

	// Query retrieves points matching the request, in timestamp order.
	Query(ctx context.Context, req QueryRequest) (series.Series, error)

	// Datasets lists the dataset names present.
	Datasets(ctx context.Context) ([]string, error)

	// Close cleanly shuts down the store.
	Close() error
}

// QueryRequest specifies which points to retrieve.
type QueryRequest struct {
	Dataset string

	// Time range; zero values leave the bound open.
	Start time.Time
	End   time.Time

	// BranchID filters on the branch_id field when non-zero.
	BranchID int

	// Limit caps the result size (0 = no limit).
	Limit int
}

// Matches applies the request's filters to one point.
func (r QueryRequest) Matches(p series.Point) bool {
	if !r.Start.IsZero() && p.Timestamp.Before(r.Start) {
		return false
	}
	if !r.End.IsZero() && p.Timestamp.After(r.End) {
		return false
	}
	if r.BranchID != 0 && int(p.Field("branch_id")) != r.BranchID {
		return false
	}
	return true
}
