package querycache

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chartfeed/chartfeed/pkg/series"
	"github.com/chartfeed/chartfeed/pkg/transport"
)

// fakeFetcher counts calls and serves canned responses.
type fakeFetcher struct {
	mu    sync.Mutex
	calls int
	fn    func(path string, params map[string]string) (*transport.Payload, error)
}

func (f *fakeFetcher) Get(_ context.Context, path string, params map[string]string) (*transport.Payload, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	return f.fn(path, params)
}

func (f *fakeFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// fakeClock is an adjustable time source for TTL tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
	return log
}

func testPayload(n int) *transport.Payload {
	pts := make(series.Series, n)
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := range pts {
		pts[i] = series.Point{
			Timestamp: base.Add(time.Duration(i) * time.Minute),
			Fields:    map[string]float64{"value": float64(i)},
		}
	}
	return &transport.Payload{Data: pts}
}

func salesSig(branch string) Signature {
	return Signature{
		Endpoint: "/api/v1/sales",
		Params:   map[string]string{"branch_id": branch},
	}
}

func TestResolveDeduplicatesConcurrentCalls(t *testing.T) {
	release := make(chan struct{})
	fetcher := &fakeFetcher{fn: func(string, map[string]string) (*transport.Payload, error) {
		<-release
		return testPayload(10), nil
	}}

	cache := New(Options{Log: quietLogger()})
	defer cache.Close()

	const n = 32
	handles := make([]*Handle, n)
	var start sync.WaitGroup
	start.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			handles[i] = cache.Resolve(context.Background(), salesSig("1"), fetcher, ResolveOptions{})
			start.Done()
		}(i)
	}
	start.Wait()
	close(release)

	for _, h := range handles {
		snap, err := h.Wait(context.Background())
		require.NoError(t, err)
		require.False(t, snap.IsError())
		assert.Len(t, snap.Data, 10)
	}
	assert.Equal(t, 1, fetcher.callCount())

	stats := cache.Stats()
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, uint64(n-1), stats.Hits)
}

func TestResolveServesFreshEntryWithoutFetch(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(string, map[string]string) (*transport.Payload, error) {
		return testPayload(5), nil
	}}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := New(Options{Log: quietLogger(), Clock: clock.Now})
	defer cache.Close()

	h := cache.Resolve(context.Background(), salesSig("1"), fetcher, ResolveOptions{})
	_, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fetcher.callCount())

	// Within TTL: a second resolve is a pure cache hit.
	clock.Advance(5 * time.Minute)
	h2 := cache.Resolve(context.Background(), salesSig("1"), fetcher, ResolveOptions{})
	snap, err := h2.Wait(context.Background())
	require.NoError(t, err)
	assert.Len(t, snap.Data, 5)
	assert.False(t, snap.Stale)
	assert.Equal(t, 1, fetcher.callCount())

	// Past TTL: the entry refreshes.
	clock.Advance(10 * time.Minute)
	h3 := cache.Resolve(context.Background(), salesSig("1"), fetcher, ResolveOptions{})
	_, err = h3.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestResolveDisabledSuspendsFetching(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(string, map[string]string) (*transport.Payload, error) {
		return testPayload(5), nil
	}}
	cache := New(Options{Log: quietLogger()})
	defer cache.Close()

	disabled := false
	h := cache.Resolve(context.Background(), salesSig("1"), fetcher, ResolveOptions{Enabled: &disabled})
	snap, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, fetcher.callCount())
	assert.False(t, snap.Loading)
	assert.False(t, snap.IsError())
	assert.Nil(t, snap.Data)
}

func TestClientRejectionIsNeverRetried(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(string, map[string]string) (*transport.Payload, error) {
		return nil, &transport.ClientError{Status: 422, Body: "bad branch_id"}
	}}
	cache := New(Options{Log: quietLogger(), RetryAttempts: 3, RetryBackoff: time.Millisecond})
	defer cache.Close()

	h := cache.Resolve(context.Background(), salesSig("x"), fetcher, ResolveOptions{})
	snap, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, snap.IsError())

	var ce *transport.ClientError
	assert.True(t, errors.As(snap.Err, &ce))
	assert.Equal(t, 1, fetcher.callCount())
}

func TestTransientFailureRetriesUpToCap(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(string, map[string]string) (*transport.Payload, error) {
		return nil, &transport.TransportError{Status: 503}
	}}
	cache := New(Options{Log: quietLogger(), RetryAttempts: 3, RetryBackoff: time.Millisecond})
	defer cache.Close()

	h := cache.Resolve(context.Background(), salesSig("1"), fetcher, ResolveOptions{})
	snap, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, snap.IsError())
	assert.Equal(t, 3, fetcher.callCount())
}

func TestTransientFailureRecoversMidRetry(t *testing.T) {
	fetcher := &fakeFetcher{}
	fetcher.fn = func(string, map[string]string) (*transport.Payload, error) {
		if fetcher.callCount() < 2 {
			return nil, &transport.TransportError{Status: 503}
		}
		return testPayload(4), nil
	}
	cache := New(Options{Log: quietLogger(), RetryAttempts: 3, RetryBackoff: time.Millisecond})
	defer cache.Close()

	h := cache.Resolve(context.Background(), salesSig("1"), fetcher, ResolveOptions{})
	snap, err := h.Wait(context.Background())
	require.NoError(t, err)
	require.False(t, snap.IsError())
	assert.Len(t, snap.Data, 4)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestFailedRefreshRetainsStaleValue(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	fetcher := &fakeFetcher{fn: func(string, map[string]string) (*transport.Payload, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, &transport.TransportError{Status: 500}
		}
		return testPayload(7), nil
	}}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := New(Options{Log: quietLogger(), Clock: clock.Now, RetryAttempts: 1})
	defer cache.Close()

	h := cache.Resolve(context.Background(), salesSig("1"), fetcher, ResolveOptions{})
	_, err := h.Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	fail = true
	mu.Unlock()
	clock.Advance(11 * time.Minute)

	h2 := cache.Resolve(context.Background(), salesSig("1"), fetcher, ResolveOptions{})
	snap, err := h2.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.IsError())
	assert.Len(t, snap.Data, 7, "stale value should remain servable")
	assert.True(t, snap.Stale)
}

func TestEvictOnRefreshFailureDropsStaleValue(t *testing.T) {
	var fail bool
	var mu sync.Mutex
	fetcher := &fakeFetcher{fn: func(string, map[string]string) (*transport.Payload, error) {
		mu.Lock()
		defer mu.Unlock()
		if fail {
			return nil, &transport.TransportError{Status: 500}
		}
		return testPayload(7), nil
	}}
	clock := &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	cache := New(Options{Log: quietLogger(), Clock: clock.Now, RetryAttempts: 1, EvictOnRefreshFailure: true})
	defer cache.Close()

	h := cache.Resolve(context.Background(), salesSig("1"), fetcher, ResolveOptions{})
	_, err := h.Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	fail = true
	mu.Unlock()
	clock.Advance(11 * time.Minute)

	h2 := cache.Resolve(context.Background(), salesSig("1"), fetcher, ResolveOptions{})
	snap, err := h2.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, snap.IsError())
	assert.Nil(t, snap.Data)
}

func TestInvalidatePrefix(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(string, map[string]string) (*transport.Payload, error) {
		return testPayload(3), nil
	}}
	cache := New(Options{Log: quietLogger()})
	defer cache.Close()

	ctx := context.Background()
	h1 := cache.Resolve(ctx, salesSig("1"), fetcher, ResolveOptions{})
	h2 := cache.Resolve(ctx, salesSig("2"), fetcher, ResolveOptions{})
	kpi := cache.Resolve(ctx, Signature{Endpoint: "/api/v1/kpis"}, fetcher, ResolveOptions{})
	for _, h := range []*Handle{h1, h2, kpi} {
		_, err := h.Wait(ctx)
		require.NoError(t, err)
	}

	removed := cache.Invalidate("/api/v1/sales", map[string]string{"branch_id": "1"})
	assert.Equal(t, 1, removed)

	// Evicted entries read as idle and empty; untouched ones keep data.
	assert.Nil(t, h1.Snapshot().Data)
	assert.Len(t, h2.Snapshot().Data, 3)
	assert.Len(t, kpi.Snapshot().Data, 3)

	// No prefix clears the whole endpoint.
	removed = cache.Invalidate("/api/v1/sales", nil)
	assert.Equal(t, 1, removed)
	assert.Len(t, kpi.Snapshot().Data, 3)
}

func TestClearAllAndStats(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(string, map[string]string) (*transport.Payload, error) {
		return testPayload(3), nil
	}}
	cache := New(Options{Log: quietLogger()})
	defer cache.Close()

	ctx := context.Background()
	h := cache.Resolve(ctx, salesSig("1"), fetcher, ResolveOptions{})
	_, err := h.Wait(ctx)
	require.NoError(t, err)

	stats := cache.Stats()
	assert.Equal(t, 1, stats.Entries)

	cache.ClearAll()
	stats = cache.Stats()
	assert.Equal(t, 0, stats.Entries)
	assert.Equal(t, uint64(1), stats.Evictions)
}

func TestWaitHonorsContext(t *testing.T) {
	fetcher := &fakeFetcher{fn: func(string, map[string]string) (*transport.Payload, error) {
		time.Sleep(time.Second)
		return testPayload(3), nil
	}}
	cache := New(Options{Log: quietLogger()})
	defer cache.Close()

	h := cache.Resolve(context.Background(), salesSig("1"), fetcher, ResolveOptions{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	snap, err := h.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, snap.Loading)
}
