// Package series defines the chart data model shared by the whole pipeline:
// an ordered sequence of points, each carrying a timestamp (or category
// label) and one or more numeric fields.
package series

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// Point is a single observation: a timestamp-or-category key plus named
// numeric fields. A point backing a daily revenue chart looks like
// {Timestamp: 2026-03-01T00:00:00Z, Fields: {"revenue": 1520, "orders": 38}}.
type Point struct {
	Timestamp time.Time
	Category  string
	Fields    map[string]float64
}

// Field returns the named numeric field, or 0 when the point doesn't carry it.
func (p Point) Field(name string) float64 {
	return p.Fields[name]
}

// Has reports whether the point carries the named field.
func (p Point) Has(name string) bool {
	_, ok := p.Fields[name]
	return ok
}

// Series is an ordered sequence of points. Insertion order is preserved by
// every operation in this module; order carries meaning when the key is
// temporal.
type Series []Point

// Clone returns a deep copy. Processing stages return new series and never
// mutate their input; Clone is the escape hatch for callers that need to.
func (s Series) Clone() Series {
	if s == nil {
		return nil
	}
	out := make(Series, len(s))
	for i, p := range s {
		cp := p
		if p.Fields != nil {
			cp.Fields = make(map[string]float64, len(p.Fields))
			for k, v := range p.Fields {
				cp.Fields[k] = v
			}
		}
		out[i] = cp
	}
	return out
}

// FieldNames returns the sorted union of field names across all points.
func (s Series) FieldNames() []string {
	set := make(map[string]bool)
	for _, p := range s {
		for k := range p.Fields {
			set[k] = true
		}
	}
	names := make([]string, 0, len(set))
	for k := range set {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Sum adds up the named field across all points. Non-finite values count as 0.
func (s Series) Sum(field string) float64 {
	total := 0.0
	for _, p := range s {
		v := p.Field(field)
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			total += v
		}
	}
	return total
}

// Wire field names recognized when decoding points. Backends are loose about
// naming, so several aliases map onto the timestamp and category keys.
var (
	timestampKeys = []string{"timestamp", "date", "time", "t"}
	categoryKeys  = []string{"category", "label", "name"}
)

// MarshalJSON encodes the point as a flat object: the timestamp under
// "timestamp" (RFC 3339), the category under "category" when set, and every
// numeric field at the top level.
func (p Point) MarshalJSON() ([]byte, error) {
	obj := make(map[string]interface{}, len(p.Fields)+2)
	if !p.Timestamp.IsZero() {
		obj["timestamp"] = p.Timestamp.UTC().Format(time.RFC3339)
	}
	if p.Category != "" {
		obj["category"] = p.Category
	}
	for k, v := range p.Fields {
		obj[k] = v
	}
	return json.Marshal(obj)
}

// UnmarshalJSON decodes a flat point object. Timestamps are accepted as
// RFC 3339 strings, "YYYY-MM-DD" dates or Unix-millisecond numbers under any
// of the recognized keys. Remaining numeric members become fields; JSON null
// becomes NaN so the validator can coerce or reject it downstream.
func (p *Point) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("point must be a JSON object: %w", err)
	}

	*p = Point{Fields: make(map[string]float64)}

	for _, key := range timestampKeys {
		msg, ok := raw[key]
		if !ok {
			continue
		}
		ts, err := decodeTimestamp(msg)
		if err != nil {
			return fmt.Errorf("field %q: %w", key, err)
		}
		p.Timestamp = ts
		delete(raw, key)
		break
	}

	for _, key := range categoryKeys {
		msg, ok := raw[key]
		if !ok {
			continue
		}
		var s string
		if err := json.Unmarshal(msg, &s); err == nil {
			p.Category = s
			delete(raw, key)
			break
		}
	}

	for k, msg := range raw {
		var num float64
		if err := json.Unmarshal(msg, &num); err == nil {
			p.Fields[k] = num
			continue
		}
		if string(msg) == "null" {
			p.Fields[k] = math.NaN()
		}
		// Non-numeric members (ids, notes) are not chartable; skip them.
	}
	return nil
}

func decodeTimestamp(msg json.RawMessage) (time.Time, error) {
	var s string
	if err := json.Unmarshal(msg, &s); err == nil {
		if ts, err := time.Parse(time.RFC3339, s); err == nil {
			return ts, nil
		}
		if ts, err := time.Parse("2006-01-02", s); err == nil {
			return ts.UTC(), nil
		}
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
	}
	var ms int64
	if err := json.Unmarshal(msg, &ms); err == nil {
		return time.UnixMilli(ms).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("timestamp must be a string or unix milliseconds")
}
