package main

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chartfeed/chartfeed/pkg/aggregate"
	"github.com/chartfeed/chartfeed/pkg/httpx"
	"github.com/chartfeed/chartfeed/pkg/pipeline"
	"github.com/chartfeed/chartfeed/pkg/realtime"
	"github.com/chartfeed/chartfeed/pkg/series"
	"github.com/chartfeed/chartfeed/pkg/store"
)

const queryTimeout = 10 * time.Second

// reductionModes gives each dataset the right per-field bucket reduction:
// additive metrics sum, gauge-like metrics average or carry the last value.
var reductionModes = map[string]map[string]aggregate.Reduction{
	"sales": {
		"total":     aggregate.Sum,
		"orders":    aggregate.Sum,
		"branch_id": aggregate.Last,
	},
	"kpis": {
		"value":           aggregate.Avg,
		"active_sessions": aggregate.Avg,
	},
	"inventory": {
		"on_hand":   aggregate.Last,
		"reserved":  aggregate.Last,
		"branch_id": aggregate.Last,
	},
	"dashboard": {
		"value": aggregate.Avg,
	},
}

// server bundles the demo backend's dependencies.
type server struct {
	store store.Store
	hub   *invalidationHub
	log   *logrus.Logger
}

// chartResponse is the object wire shape: points under "data" plus a small
// summary block.
type chartResponse struct {
	Data    series.Series      `json:"data"`
	Summary map[string]float64 `json:"summary,omitempty"`
}

// handleDataset serves one dataset endpoint, applying server-side
// aggregation when the client asks for it.
func (s *server) handleDataset(dataset string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := contextWithTimeout(r, queryTimeout)
		defer cancel()

		q := r.URL.Query()
		req := store.QueryRequest{Dataset: dataset}

		if v := q.Get("branch_id"); v != "" {
			id, err := strconv.Atoi(v)
			if err != nil {
				httpx.RespondError(w, http.StatusUnprocessableEntity, fmt.Errorf("invalid branch_id: %q", v))
				return
			}
			req.BranchID = id
		}
		var err error
		if req.Start, err = parseDate(q.Get("start_date")); err != nil {
			httpx.RespondError(w, http.StatusUnprocessableEntity, err)
			return
		}
		if req.End, err = parseDate(q.Get("end_date")); err != nil {
			httpx.RespondError(w, http.StatusUnprocessableEntity, err)
			return
		}
		if !req.End.IsZero() {
			// end_date is inclusive on the wire.
			req.End = req.End.AddDate(0, 0, 1).Add(-time.Nanosecond)
		}

		pts, err := s.store.Query(ctx, req)
		if err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("query failed: %w", err))
			return
		}

		mode := q.Get("aggregation")
		if mode != "" && mode != pipeline.AggregationRaw {
			g, err := aggregate.Parse(mode)
			if err != nil {
				httpx.RespondError(w, http.StatusUnprocessableEntity, err)
				return
			}
			pts, err = aggregate.ByTime(pts, g, reductionModes[dataset])
			if err != nil {
				httpx.RespondError(w, http.StatusInternalServerError, err)
				return
			}
		}

		if metrics := q.Get("metrics"); metrics != "" {
			pts = selectFields(pts, splitComma(metrics))
		}

		httpx.RespondJSON(w, http.StatusOK, chartResponse{
			Data:    pts,
			Summary: summarize(pts, dataset),
		})
	}
}

// handleReseed rebuilds the datasets and tells connected clients their
// cached chart data is stale.
func (s *server) handleReseed(days int) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := contextWithTimeout(r, 30*time.Second)
		defer cancel()

		if err := seed(ctx, s.store, days); err != nil {
			httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("reseed failed: %w", err))
			return
		}
		for _, endpoint := range []string{"/api/v1/sales", "/api/v1/kpis", "/api/v1/inventory", "/api/v1/dashboard"} {
			s.hub.broadcast(realtime.Invalidation{Endpoint: endpoint})
		}
		httpx.RespondJSON(w, http.StatusOK, map[string]string{"status": "reseeded"})
	}
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	datasets, err := s.store.Datasets(r.Context())
	if err != nil {
		httpx.RespondError(w, http.StatusServiceUnavailable, err)
		return
	}
	httpx.RespondJSON(w, http.StatusOK, map[string]interface{}{
		"status":   "healthy",
		"datasets": datasets,
	})
}

func parseDate(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	ts, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q (want YYYY-MM-DD)", v)
	}
	return ts.UTC(), nil
}

// selectFields keeps only the requested fields (branch_id always survives,
// charts group on it).
func selectFields(pts series.Series, fields []string) series.Series {
	keep := map[string]bool{"branch_id": true}
	for _, f := range fields {
		keep[f] = true
	}
	out := make(series.Series, len(pts))
	for i, p := range pts {
		cp := series.Point{Timestamp: p.Timestamp, Category: p.Category, Fields: make(map[string]float64)}
		for name, v := range p.Fields {
			if keep[name] {
				cp.Fields[name] = v
			}
		}
		out[i] = cp
	}
	return out
}

func splitComma(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func contextWithTimeout(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

// summarize produces the summary block for the dataset's headline field.
func summarize(pts series.Series, dataset string) map[string]float64 {
	field := map[string]string{
		"sales":     "total",
		"kpis":      "value",
		"inventory": "on_hand",
		"dashboard": "value",
	}[dataset]
	if field == "" || len(pts) == 0 {
		return nil
	}
	summary := map[string]float64{"count": float64(len(pts))}
	summary[field+"_sum"] = pts.Sum(field)
	return summary
}
