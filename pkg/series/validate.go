package series

import (
	"fmt"
	"math"
)

// Mode controls how the validator treats non-finite numeric values.
type Mode int

const (
	// Coerce treats NaN/Inf as 0; the series stays valid and Sanitize
	// produces the cleaned copy.
	Coerce Mode = iota
	// Reject fails validation on the first non-finite value.
	Reject
)

// Report is the validator's verdict. Validation never aborts the feed:
// callers log the report and proceed with whatever data they have.
type Report struct {
	Valid bool
	Err   string
}

// Validate checks the structural invariants a series must hold before the
// pipeline trusts it: every point carries all required fields, and every
// numeric value is finite (after coercion, in Coerce mode).
func Validate(s Series, required []string, mode Mode) Report {
	for i, p := range s {
		for _, field := range required {
			if !p.Has(field) {
				return Report{Err: fmt.Sprintf("point %d: missing required field %q", i, field)}
			}
		}
		if mode != Reject {
			continue
		}
		for name, v := range p.Fields {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return Report{Err: fmt.Sprintf("point %d: field %q is not finite", i, name)}
			}
		}
	}
	return Report{Valid: true}
}

// Sanitize returns a copy of the series with non-finite field values
// replaced by 0. The input is left untouched.
func Sanitize(s Series) Series {
	out := s.Clone()
	for i := range out {
		for name, v := range out[i].Fields {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				out[i].Fields[name] = 0
			}
		}
	}
	return out
}
