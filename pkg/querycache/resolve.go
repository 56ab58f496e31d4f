package querycache

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/chartfeed/chartfeed/pkg/pipeline"
	"github.com/chartfeed/chartfeed/pkg/series"
	"github.com/chartfeed/chartfeed/pkg/transport"
)

// ResolveOptions parameterize one Resolve call.
type ResolveOptions struct {
	// Enabled false suspends fetching entirely: the entry stays idle, no
	// network activity happens, and no error is reported.
	Enabled *bool

	// Pipeline is the processing configuration applied to the fetched
	// payload. AggregationMode should agree with the signature.
	Pipeline pipeline.Config
}

func (o ResolveOptions) enabled() bool {
	return o.Enabled == nil || *o.Enabled
}

// Snapshot is the consumer-facing view of an entry at one instant.
type Snapshot struct {
	Data    series.Series
	Meta    pipeline.Metadata
	Loading bool
	Stale   bool
	Err     error
}

// IsError reports whether the last fetch for this entry failed terminally.
func (s Snapshot) IsError() bool { return s.Err != nil }

// Handle is a live view onto one cache entry. It stays valid across entry
// refreshes and evictions; Snapshot always reflects the current state for
// the signature.
type Handle struct {
	cache *Cache
	sig   Signature
	key   uint64
}

// Signature returns the query identity this handle observes.
func (h *Handle) Signature() Signature { return h.sig }

// Snapshot reads the entry's current data, metadata and state. After an
// eviction it reports an idle, empty view.
func (h *Handle) Snapshot() Snapshot {
	c := h.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[h.key]
	if !ok {
		return Snapshot{}
	}
	snap := Snapshot{
		Loading: e.state == stateFetching,
		Err:     e.err,
	}
	if e.hasValue {
		snap.Data = e.result.Data
		snap.Meta = e.result.Meta
		snap.Stale = c.now().Sub(e.fetchedAt) > c.opts.TTL || e.state == stateFailed
	}
	return snap
}

// Ready returns a channel closed when the in-flight fetch (if any) settles.
// With no fetch in flight the returned channel is already closed.
func (h *Handle) Ready() <-chan struct{} {
	c := h.cache
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[h.key]; ok && e.state == stateFetching {
		return e.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Wait blocks until the current fetch settles or ctx is cancelled, then
// returns the snapshot. Cancelling the wait does not cancel the fetch; the
// result still lands in the cache for other observers.
func (h *Handle) Wait(ctx context.Context) (Snapshot, error) {
	select {
	case <-h.Ready():
		return h.Snapshot(), nil
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	}
}

// Resolve returns a handle for the signature, fetching through f when the
// entry is missing, stale or failed. Concurrent resolves for one signature
// share a single underlying fetch; a still-fresh entry is served without any
// network activity. A stale entry keeps serving its previous value while the
// refresh runs.
func (c *Cache) Resolve(ctx context.Context, sig Signature, f transport.Fetcher, opts ResolveOptions) *Handle {
	key := sig.Key()
	h := &Handle{cache: c, sig: sig, key: key}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		e = &entry{sig: sig, state: stateIdle}
		c.entries[key] = e
	}
	e.lastAccess = c.now()

	if !opts.enabled() {
		return h
	}

	switch e.state {
	case stateFetching:
		// Someone else's flight; observe it.
		c.hits++
		return h
	case stateFresh:
		if c.now().Sub(e.fetchedAt) <= c.opts.TTL {
			c.hits++
			return h
		}
	}

	// Idle, failed, or fresh-but-expired: start a flight. The previous
	// value (if any) stays servable while it runs.
	c.misses++
	e.state = stateFetching
	e.done = make(chan struct{})

	// Detach from the consumer's cancellation: an unmounting widget must
	// not discard work useful to other observers of the same signature.
	fetchCtx := context.WithoutCancel(ctx)
	go c.runFetch(fetchCtx, e, f, opts)

	return h
}

// Prefetch warms the cache for a signature without keeping a handle.
func (c *Cache) Prefetch(ctx context.Context, sig Signature, f transport.Fetcher, opts ResolveOptions) {
	c.Resolve(ctx, sig, f, opts)
}

// runFetch performs the retrying fetch and applies the resulting state
// transition. It is the only writer of entry state besides Resolve.
func (c *Cache) runFetch(ctx context.Context, e *entry, f transport.Fetcher, opts ResolveOptions) {
	payload, err := c.fetchWithRetry(ctx, e.sig, f)

	c.mu.Lock()
	defer c.mu.Unlock()
	defer close(e.done)

	if err != nil {
		e.err = err
		e.state = stateFailed
		if c.opts.EvictOnRefreshFailure {
			e.hasValue = false
			e.result = pipeline.Result{}
		}
		c.log.WithFields(logrus.Fields{
			"signature": e.sig.String(),
			"stale":     e.hasValue,
		}).WithError(err).Warn("fetch failed")
		return
	}

	res := pipeline.Process(payload.Data, opts.Pipeline)
	if res.Meta.Degraded {
		c.log.WithFields(logrus.Fields{
			"signature":  e.sig.String(),
			"diagnostic": res.Meta.Diagnostic,
		}).Warn("serving degraded series")
	}

	e.result = res
	e.hasValue = true
	e.err = nil
	e.state = stateFresh
	e.fetchedAt = c.now()

	c.log.WithFields(logrus.Fields{
		"signature":   e.sig.String(),
		"original":    res.Meta.OriginalLength,
		"processed":   res.Meta.ProcessedLength,
		"downsampled": res.Meta.Downsampled,
		"aggregated":  res.Meta.Aggregated,
	}).Debug("entry refreshed")
}

// fetchWithRetry runs the transport call under the retry policy: up to the
// configured attempt cap, linear backoff, and no retry at all for requests
// the server rejected as malformed or unauthorized.
func (c *Cache) fetchWithRetry(ctx context.Context, sig Signature, f transport.Fetcher) (*transport.Payload, error) {
	params := sig.queryParams()

	var lastErr error
	for attempt := 1; attempt <= c.opts.RetryAttempts; attempt++ {
		payload, err := f.Get(ctx, sig.Endpoint, params)
		if err == nil {
			return payload, nil
		}
		lastErr = err
		if !transport.IsRetryable(err) {
			return nil, err
		}
		if attempt == c.opts.RetryAttempts {
			break
		}

		backoff := time.Duration(attempt) * c.opts.RetryBackoff
		c.log.WithFields(logrus.Fields{
			"signature": sig.String(),
			"attempt":   attempt,
			"backoff":   backoff.String(),
		}).WithError(err).Debug("retrying fetch")

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
