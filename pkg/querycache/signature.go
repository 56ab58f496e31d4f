package querycache

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// Signature is the normalized identity of a query: endpoint, parameter
// mapping and aggregation mode. Two fetches with equal signatures are the
// same cached resource. Equality is structural and order-independent on
// parameter keys.
type Signature struct {
	Endpoint    string
	Params      map[string]string
	Aggregation string
}

// canonical renders the signature as a stable string: endpoint, aggregation,
// then parameters sorted by key.
func (s Signature) canonical() string {
	keys := make([]string, 0, len(s.Params))
	for k := range s.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(s.Endpoint)
	b.WriteByte('|')
	b.WriteString(s.Aggregation)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(s.Params[k])
	}
	return b.String()
}

// Key is the cache key: a 64-bit hash of the canonical form.
func (s Signature) Key() uint64 {
	return xxhash.Sum64String(s.canonical())
}

// String implements fmt.Stringer for log output.
func (s Signature) String() string {
	return s.canonical()
}

// Matches reports whether the signature falls under an invalidation prefix:
// same endpoint, and every prefix parameter present with an equal value.
// A nil prefix matches every signature for the endpoint.
func (s Signature) Matches(endpoint string, paramsPrefix map[string]string) bool {
	if s.Endpoint != endpoint {
		return false
	}
	for k, v := range paramsPrefix {
		if s.Params[k] != v {
			return false
		}
	}
	return true
}

// queryParams is the parameter map actually sent over the wire: the
// signature params plus the aggregation mode when one is set.
func (s Signature) queryParams() map[string]string {
	out := make(map[string]string, len(s.Params)+1)
	for k, v := range s.Params {
		out[k] = v
	}
	if s.Aggregation != "" {
		out["aggregation"] = s.Aggregation
	}
	return out
}
