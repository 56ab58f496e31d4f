package memory

import (
	"context"
	"testing"
	"time"

	"github.com/chartfeed/chartfeed/pkg/series"
	"github.com/chartfeed/chartfeed/pkg/store"
)

func seedPoints(t *testing.T, s *Store) {
	t.Helper()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	pts := series.Series{
		{Timestamp: base.Add(2 * time.Hour), Fields: map[string]float64{"branch_id": 1, "total": 30}},
		{Timestamp: base, Fields: map[string]float64{"branch_id": 1, "total": 10}},
		{Timestamp: base.Add(time.Hour), Fields: map[string]float64{"branch_id": 2, "total": 20}},
	}
	if err := s.Write(context.Background(), "sales", pts); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestQuerySortedByTimestamp(t *testing.T) {
	s := New()
	seedPoints(t, s)

	got, err := s.Query(context.Background(), store.QueryRequest{Dataset: "sales"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d points, want 3", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Fatalf("point %d out of order", i)
		}
	}
}

func TestQueryFilters(t *testing.T) {
	s := New()
	seedPoints(t, s)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		req  store.QueryRequest
		want int
	}{
		{"branch filter", store.QueryRequest{Dataset: "sales", BranchID: 1}, 2},
		{"time range", store.QueryRequest{Dataset: "sales", Start: base.Add(30 * time.Minute)}, 2},
		{"upper bound", store.QueryRequest{Dataset: "sales", End: base.Add(time.Hour)}, 2},
		{"limit", store.QueryRequest{Dataset: "sales", Limit: 1}, 1},
		{"unknown dataset", store.QueryRequest{Dataset: "nope"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Query(context.Background(), tt.req)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(got) != tt.want {
				t.Fatalf("got %d points, want %d", len(got), tt.want)
			}
		})
	}
}

func TestQueryResultsAreCopies(t *testing.T) {
	s := New()
	seedPoints(t, s)

	got, err := s.Query(context.Background(), store.QueryRequest{Dataset: "sales"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	got[0].Fields["total"] = -1

	again, err := s.Query(context.Background(), store.QueryRequest{Dataset: "sales"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if again[0].Field("total") == -1 {
		t.Fatal("query result aliases stored data")
	}
}

func TestDatasets(t *testing.T) {
	s := New()
	seedPoints(t, s)
	if err := s.Write(context.Background(), "kpis", series.Series{{Timestamp: time.Now()}}); err != nil {
		t.Fatalf("write: %v", err)
	}

	names, err := s.Datasets(context.Background())
	if err != nil {
		t.Fatalf("datasets: %v", err)
	}
	if len(names) != 2 || names[0] != "kpis" || names[1] != "sales" {
		t.Fatalf("got %v, want [kpis sales]", names)
	}
}
