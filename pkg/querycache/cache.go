// Package querycache owns the per-query lifecycle for chart data: signature
// derivation, in-flight de-duplication, staleness and expiry, retry policy,
// and the processing pipeline run on every successful fetch. It is the only
// holder of mutable shared state in the data path; chart code observes
// results through handles and never touches entries directly.
package querycache

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chartfeed/chartfeed/pkg/pipeline"
)

// Defaults applied by New when the corresponding option is zero.
const (
	DefaultTTL             = 10 * time.Minute
	DefaultRetryAttempts   = 3
	DefaultRetryBackoff    = 250 * time.Millisecond
	DefaultJanitorInterval = time.Minute
)

// entryState is the lifecycle position of a cache entry.
type entryState int

const (
	stateIdle entryState = iota
	stateFetching
	stateFresh
	stateFailed
)

func (s entryState) String() string {
	switch s {
	case stateFetching:
		return "fetching"
	case stateFresh:
		return "fresh"
	case stateFailed:
		return "failed"
	default:
		return "idle"
	}
}

// entry is the cached state for one signature. All fields are guarded by the
// cache mutex; only the cache's own transition logic mutates them.
type entry struct {
	sig   Signature
	state entryState

	// hasValue distinguishes "no data yet" from "stale data retained".
	// A failed refresh keeps the previous value servable.
	hasValue bool
	result   pipeline.Result
	err      error

	fetchedAt  time.Time
	lastAccess time.Time

	// done is closed when the current in-flight fetch settles. A fresh
	// channel is made per flight so late observers never miss the close.
	done chan struct{}
}

// Options configures a Cache. The zero value is usable; every field has a
// default.
type Options struct {
	// TTL is how long an entry stays fresh, and also how long an untouched
	// entry survives after its last access before the janitor evicts it.
	TTL time.Duration

	// RetryAttempts is the total attempt cap per fetch, including the
	// first. Client rejections are never retried regardless of the cap.
	RetryAttempts int

	// RetryBackoff is the base delay between attempts; attempt n waits
	// n times the base.
	RetryBackoff time.Duration

	// JanitorInterval is how often expired entries are swept.
	JanitorInterval time.Duration

	// EvictOnRefreshFailure drops the stale value when a background
	// refresh fails instead of serving it alongside the error.
	EvictOnRefreshFailure bool

	// Namespace tags log lines and keeps ClearAll scoped when several
	// caches share a process.
	Namespace string

	Log *logrus.Logger

	// Clock overrides time.Now, for tests.
	Clock func() time.Time
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Entries   int    `json:"entries"`
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
}

// Cache is an explicitly owned query cache: construct it at application
// start, pass it to whatever needs it, Close it on shutdown. There is no
// package-level instance.
type Cache struct {
	mu      sync.Mutex
	entries map[uint64]*entry

	opts Options
	now  func() time.Time
	log  *logrus.Entry

	hits      uint64
	misses    uint64
	evictions uint64

	stop     chan struct{}
	stopOnce sync.Once
}

// New creates a cache and starts its eviction janitor.
func New(opts Options) *Cache {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = DefaultRetryAttempts
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = DefaultRetryBackoff
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = DefaultJanitorInterval
	}
	logger := opts.Log
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}

	c := &Cache{
		entries: make(map[uint64]*entry),
		opts:    opts,
		now:     now,
		log: logger.WithFields(logrus.Fields{
			"component": "querycache",
			"namespace": opts.Namespace,
		}),
		stop: make(chan struct{}),
	}
	go c.janitor()
	return c
}

// Close stops the janitor. In-flight fetches run to completion but their
// results are only visible to handles already holding the entry.
func (c *Cache) Close() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Invalidate evicts every entry matching the endpoint and parameter prefix
// and returns how many were removed. An entry mid-fetch is removed from the
// map; the flight completes against the orphaned entry and is re-fetched on
// next access.
func (c *Cache) Invalidate(endpoint string, paramsPrefix map[string]string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for key, e := range c.entries {
		if e.sig.Matches(endpoint, paramsPrefix) {
			delete(c.entries, key)
			removed++
		}
	}
	c.evictions += uint64(removed)
	c.log.WithFields(logrus.Fields{
		"endpoint": endpoint,
		"removed":  removed,
	}).Debug("invalidated entries")
	return removed
}

// ClearAll removes every entry in this cache's namespace.
func (c *Cache) ClearAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictions += uint64(len(c.entries))
	c.entries = make(map[uint64]*entry)
	c.log.Debug("cleared all entries")
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
}

// janitor sweeps entries that have gone unaccessed for a full TTL. Each
// entry expires independently; a fetch in flight is never swept.
func (c *Cache) janitor() {
	ticker := time.NewTicker(c.opts.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			c.sweep()
		}
	}
}

func (c *Cache) sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.opts.TTL)
	for key, e := range c.entries {
		if e.state == stateFetching {
			continue
		}
		if e.lastAccess.Before(cutoff) {
			delete(c.entries, key)
			c.evictions++
		}
	}
}
