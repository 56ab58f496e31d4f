// Package pipeline is the glue run on every successful fetch: it decides
// between server-side aggregation and local downsampling, validates the
// series, and annotates the result with processing metadata.
package pipeline

import (
	"github.com/chartfeed/chartfeed/pkg/downsample"
	"github.com/chartfeed/chartfeed/pkg/series"
)

// AggregationRaw means the backend returned unaggregated points; anything
// else names the granularity the server already applied.
const AggregationRaw = "raw"

// DefaultDownsampleThreshold caps how many points a chart is handed before
// local downsampling kicks in.
const DefaultDownsampleThreshold = 10000

// Config drives the processing decision for one feed.
type Config struct {
	// AggregationMode is the aggregation the query asked the server for.
	// Empty is treated as raw.
	AggregationMode string

	// DownsampleThreshold is both the trigger and the target point count
	// for local downsampling. 0 uses DefaultDownsampleThreshold.
	DownsampleThreshold int

	// ValueField is the y-axis field preserved by downsampling.
	ValueField string

	// RequiredFields must be present on every point for the series to
	// validate. Validation failure degrades the result, it never drops it.
	RequiredFields []string

	// ValidationMode controls non-finite handling (coerce to 0 vs reject).
	ValidationMode series.Mode
}

// Metadata describes what processing a series went through. It is derived
// alongside the data and never stored independently of it.
type Metadata struct {
	OriginalLength  int    `json:"original_length"`
	ProcessedLength int    `json:"processed_length"`
	Downsampled     bool   `json:"downsampled"`
	Aggregated      bool   `json:"aggregated"`
	AggregationMode string `json:"aggregation_mode"`

	// Degraded is set when validation failed and the raw data was passed
	// through anyway; Diagnostic carries the reason.
	Degraded   bool   `json:"degraded,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Processed reports whether any reduction was applied.
func (m Metadata) Processed() bool {
	return m.Downsampled || m.Aggregated
}

// Result pairs a processed series with its metadata.
type Result struct {
	Data series.Series
	Meta Metadata
}

// Process applies the reduction policy to a freshly fetched series:
//
//  1. Server-aggregated payloads (mode != raw) pass through untouched, even
//     when large; double reduction would distort the chart.
//  2. Raw payloads above the threshold are downsampled to the threshold.
//  3. Everything else passes through unchanged.
//
// Data-shape problems never abort: validation failures degrade the output,
// and downsampler misuse (threshold below the algorithm minimum) yields an
// empty series with a diagnostic rather than a panic or error return.
func Process(raw series.Series, cfg Config) Result {
	mode := cfg.AggregationMode
	if mode == "" {
		mode = AggregationRaw
	}
	threshold := cfg.DownsampleThreshold
	if threshold == 0 {
		threshold = DefaultDownsampleThreshold
	}

	meta := Metadata{
		OriginalLength:  len(raw),
		AggregationMode: mode,
	}

	data := raw
	if report := series.Validate(raw, cfg.RequiredFields, cfg.ValidationMode); !report.Valid {
		meta.Degraded = true
		meta.Diagnostic = report.Err
	} else if cfg.ValidationMode == series.Coerce {
		data = series.Sanitize(raw)
	}

	switch {
	case mode != AggregationRaw:
		meta.Aggregated = true
	case len(data) > threshold:
		reduced, err := downsample.LTTB(data, threshold, cfg.ValueField)
		if err != nil {
			meta.Diagnostic = err.Error()
			meta.Degraded = true
			data = series.Series{}
			break
		}
		data = reduced
		meta.Downsampled = true
	}

	meta.ProcessedLength = len(data)
	return Result{Data: data, Meta: meta}
}
