// Package feeds provides the per-domain chart data feeds: thin
// configurations that point the query cache at a fixed endpoint with the
// right processing settings. Feeds hold no state of their own.
package feeds

import (
	"context"
	"strconv"
	"strings"

	"github.com/chartfeed/chartfeed/pkg/pipeline"
	"github.com/chartfeed/chartfeed/pkg/querycache"
	"github.com/chartfeed/chartfeed/pkg/series"
	"github.com/chartfeed/chartfeed/pkg/transport"
)

// Params are the query parameters a feed accepts. Zero values are omitted
// from the request.
type Params struct {
	BranchID    int
	StartDate   string // YYYY-MM-DD
	EndDate     string // YYYY-MM-DD
	Aggregation string // raw, hour, day, week, month; empty means raw
	GroupBy     string
	Metrics     []string
}

// query renders the parameters into the wire mapping. Metrics are
// comma-joined; aggregation travels on the signature, not here.
func (p Params) query() map[string]string {
	out := make(map[string]string)
	if p.BranchID != 0 {
		out["branch_id"] = strconv.Itoa(p.BranchID)
	}
	if p.StartDate != "" {
		out["start_date"] = p.StartDate
	}
	if p.EndDate != "" {
		out["end_date"] = p.EndDate
	}
	if p.GroupBy != "" {
		out["group_by"] = p.GroupBy
	}
	if len(p.Metrics) > 0 {
		out["metrics"] = strings.Join(p.Metrics, ",")
	}
	return out
}

func (p Params) aggregation() string {
	if p.Aggregation == "" {
		return pipeline.AggregationRaw
	}
	return p.Aggregation
}

// Transform is a pure Series -> Series step a feed composes after the core
// pipeline; the pipeline itself stays transform-agnostic.
type Transform func(series.Series) series.Series

// Feed binds one endpoint to the cache with fixed processing settings.
type Feed struct {
	name      string
	endpoint  string
	cache     *querycache.Cache
	fetcher   transport.Fetcher
	pcfg      pipeline.Config
	transform Transform
	enabled   bool
}

// Option customizes a feed at construction time.
type Option func(*Feed)

// WithTransform composes a pure post-processing step over every snapshot.
func WithTransform(t Transform) Option {
	return func(f *Feed) { f.transform = t }
}

// WithDownsampleThreshold overrides the feed's downsampling trigger/target.
func WithDownsampleThreshold(n int) Option {
	return func(f *Feed) { f.pcfg.DownsampleThreshold = n }
}

// WithDisabled constructs the feed suspended: loads stay idle and perform no
// network activity until re-enabled.
func WithDisabled() Option {
	return func(f *Feed) { f.enabled = false }
}

// New creates a feed for an arbitrary endpoint. The named constructors below
// cover the built-in domains.
func New(name, endpoint string, cache *querycache.Cache, fetcher transport.Fetcher, pcfg pipeline.Config, opts ...Option) *Feed {
	f := &Feed{
		name:     name,
		endpoint: endpoint,
		cache:    cache,
		fetcher:  fetcher,
		pcfg:     pcfg,
		enabled:  true,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// NewSalesFeed serves revenue/order charts.
func NewSalesFeed(cache *querycache.Cache, fetcher transport.Fetcher, opts ...Option) *Feed {
	return New("sales", "/api/v1/sales", cache, fetcher, pipeline.Config{
		ValueField:     "total",
		RequiredFields: []string{"total"},
	}, opts...)
}

// NewKPIFeed serves headline KPI tiles and their trend lines.
func NewKPIFeed(cache *querycache.Cache, fetcher transport.Fetcher, opts ...Option) *Feed {
	return New("kpis", "/api/v1/kpis", cache, fetcher, pipeline.Config{
		ValueField:     "value",
		RequiredFields: []string{"value"},
	}, opts...)
}

// NewInventoryFeed serves stock-level charts.
func NewInventoryFeed(cache *querycache.Cache, fetcher transport.Fetcher, opts ...Option) *Feed {
	return New("inventory", "/api/v1/inventory", cache, fetcher, pipeline.Config{
		ValueField:     "on_hand",
		RequiredFields: []string{"on_hand"},
	}, opts...)
}

// NewDashboardFeed serves the combined dashboard payload.
func NewDashboardFeed(cache *querycache.Cache, fetcher transport.Fetcher, opts ...Option) *Feed {
	return New("dashboard", "/api/v1/dashboard", cache, fetcher, pipeline.Config{
		ValueField: "value",
	}, opts...)
}

// Name returns the feed's domain name.
func (f *Feed) Name() string { return f.name }

// SetEnabled toggles fetching for subsequent loads.
func (f *Feed) SetEnabled(enabled bool) { f.enabled = enabled }

// Signature returns the cache identity for the given parameters.
func (f *Feed) Signature(p Params) querycache.Signature {
	return querycache.Signature{
		Endpoint:    f.endpoint,
		Params:      p.query(),
		Aggregation: p.aggregation(),
	}
}

// Load resolves the feed for the given parameters, reusing cached data when
// fresh and de-duplicating concurrent loads.
func (f *Feed) Load(ctx context.Context, p Params) *querycache.Handle {
	cfg := f.pcfg
	cfg.AggregationMode = p.aggregation()
	enabled := f.enabled
	return f.cache.Resolve(ctx, f.Signature(p), f.fetcher, querycache.ResolveOptions{
		Enabled:  &enabled,
		Pipeline: cfg,
	})
}

// Prefetch warms the cache for parameters a view is about to need.
func (f *Feed) Prefetch(ctx context.Context, p Params) {
	f.Load(ctx, p)
}

// Invalidate evicts cached results for this feed matching the parameter
// prefix and returns the eviction count.
func (f *Feed) Invalidate(paramsPrefix map[string]string) int {
	return f.cache.Invalidate(f.endpoint, paramsPrefix)
}

// Snapshot is what rendering code consumes: processed data, metadata and
// derived convenience flags.
type Snapshot struct {
	Data      series.Series
	Meta      pipeline.Metadata
	IsLoading bool
	IsStale   bool
	IsError   bool
	Err       error

	IsProcessed   bool
	IsDownsampled bool
	IsAggregated  bool
}

// Snapshot reads the handle's current state and applies the feed's
// transform, if any. The cached series itself is never transformed in place.
func (f *Feed) Snapshot(h *querycache.Handle) Snapshot {
	s := h.Snapshot()
	data := s.Data
	if f.transform != nil && data != nil {
		data = f.transform(data)
	}
	return Snapshot{
		Data:          data,
		Meta:          s.Meta,
		IsLoading:     s.Loading,
		IsStale:       s.Stale,
		IsError:       s.Err != nil,
		Err:           s.Err,
		IsProcessed:   s.Meta.Processed(),
		IsDownsampled: s.Meta.Downsampled,
		IsAggregated:  s.Meta.Aggregated,
	}
}

// Fetch is Load followed by Wait: it blocks until the entry settles and
// returns the rendered snapshot. Useful for non-reactive consumers.
func (f *Feed) Fetch(ctx context.Context, p Params) (Snapshot, error) {
	h := f.Load(ctx, p)
	if _, err := h.Wait(ctx); err != nil {
		return f.Snapshot(h), err
	}
	return f.Snapshot(h), nil
}
