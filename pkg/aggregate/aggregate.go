// Package aggregate buckets time series by a calendar granularity and
// reduces each bucket to summary values, one reduction mode per field.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/chartfeed/chartfeed/pkg/series"
)

// Granularity is the time-bucket width. Truncation is UTC-normalized so a
// point lands in the same bucket regardless of the host locale.
type Granularity string

const (
	Hour  Granularity = "hour"
	Day   Granularity = "day"
	Week  Granularity = "week"
	Month Granularity = "month"
)

// Parse maps the wire value of an aggregation parameter onto a Granularity.
func Parse(s string) (Granularity, error) {
	switch Granularity(s) {
	case Hour, Day, Week, Month:
		return Granularity(s), nil
	}
	return "", fmt.Errorf("aggregate: unknown granularity %q", s)
}

// Truncate rounds t down to the bucket boundary in UTC. Weeks start Monday.
func (g Granularity) Truncate(t time.Time) time.Time {
	t = t.UTC()
	switch g {
	case Hour:
		return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), 0, 0, 0, time.UTC)
	case Day:
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	case Week:
		day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
		offset := (int(day.Weekday()) + 6) % 7 // Monday = 0
		return day.AddDate(0, 0, -offset)
	case Month:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	}
	return t
}

// Reduction is the per-field bucket reduction mode. Additive metrics
// (counts, totals) want Sum; gauge-like metrics want Last or Avg.
type Reduction string

const (
	Sum  Reduction = "sum"
	Avg  Reduction = "avg"
	Last Reduction = "last"
	Min  Reduction = "min"
	Max  Reduction = "max"
)

// accumulator collects everything needed to apply any reduction afterwards.
// Storing sum and count rather than a running average keeps the reduction
// exact when buckets are combined.
type accumulator struct {
	sum   float64
	count int
	last  float64
	min   float64
	max   float64
}

type bucket struct {
	ts     time.Time
	fields map[string]*accumulator
}

// ByTime groups s into granularity buckets keyed by the truncated timestamp
// and reduces each field per modes (default Sum for fields not listed).
// Output is a new series ordered ascending by bucket key regardless of input
// order. Empty buckets are not synthesized; gap-filling is a rendering
// concern. The input series is never mutated.
func ByTime(s series.Series, g Granularity, modes map[string]Reduction) (series.Series, error) {
	if _, err := Parse(string(g)); err != nil {
		return nil, err
	}

	buckets := make(map[int64]*bucket)
	for _, p := range s {
		key := g.Truncate(p.Timestamp)
		b, ok := buckets[key.UnixMilli()]
		if !ok {
			b = &bucket{ts: key, fields: make(map[string]*accumulator)}
			buckets[key.UnixMilli()] = b
		}
		for name, v := range p.Fields {
			acc, ok := b.fields[name]
			if !ok {
				acc = &accumulator{min: v, max: v}
				b.fields[name] = acc
			}
			acc.sum += v
			acc.count++
			acc.last = v
			if v < acc.min {
				acc.min = v
			}
			if v > acc.max {
				acc.max = v
			}
		}
	}

	out := make(series.Series, 0, len(buckets))
	for _, b := range buckets {
		fields := make(map[string]float64, len(b.fields))
		for name, acc := range b.fields {
			fields[name] = acc.reduce(modes[name])
		}
		out = append(out, series.Point{Timestamp: b.ts, Fields: fields})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out, nil
}

func (a *accumulator) reduce(mode Reduction) float64 {
	switch mode {
	case Avg:
		return a.sum / float64(a.count)
	case Last:
		return a.last
	case Min:
		return a.min
	case Max:
		return a.max
	default:
		return a.sum
	}
}
