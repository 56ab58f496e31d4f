// The example command wires the full client stack against a running demo
// backend (cmd/server): transport, query cache, feeds and the realtime
// invalidation listener.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/chartfeed/chartfeed/pkg/config"
	"github.com/chartfeed/chartfeed/pkg/feeds"
	"github.com/chartfeed/chartfeed/pkg/logger"
	"github.com/chartfeed/chartfeed/pkg/querycache"
	"github.com/chartfeed/chartfeed/pkg/realtime"
	"github.com/chartfeed/chartfeed/pkg/series"
	"github.com/chartfeed/chartfeed/pkg/transport"
)

func main() {
	_ = godotenv.Load()

	log, err := logger.New(logger.Config{Format: "text"})
	if err != nil {
		panic(err)
	}

	baseURL := os.Getenv("CHARTFEED_BASE_URL")
	if baseURL == "" {
		baseURL = "http://localhost:" + config.DefaultPort
	}

	client := transport.NewClient(transport.ClientConfig{
		BaseURL:   baseURL,
		Timeout:   config.DefaultRequestTimeout,
		RateLimit: 20,
		Burst:     5,
		Log:       log,
	})

	cache := querycache.New(querycache.Options{
		TTL:       config.DefaultTTL,
		Namespace: "example",
		Log:       log,
	})
	defer cache.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Background invalidation: reseeding the backend evicts our entries.
	wsURL := strings.Replace(baseURL, "http", "ws", 1) + "/ws/invalidations"
	listener := realtime.NewListener(wsURL, cache, log)
	go func() {
		if err := listener.Run(ctx); err != nil && ctx.Err() == nil {
			log.WithError(err).Warn("invalidation listener stopped")
		}
	}()

	sales := feeds.NewSalesFeed(cache, client)
	kpis := feeds.NewKPIFeed(cache, client, feeds.WithTransform(movingAverage("value", 3)))

	end := time.Now().UTC().Format("2006-01-02")
	start := time.Now().UTC().AddDate(0, 0, -30).Format("2006-01-02")

	// Server-aggregated daily revenue for one branch.
	snap, err := sales.Fetch(ctx, feeds.Params{
		BranchID:    1,
		StartDate:   start,
		EndDate:     end,
		Aggregation: "day",
		Metrics:     []string{"total", "orders"},
	})
	if err != nil {
		log.WithError(err).Fatal("sales fetch failed")
	}
	report(log, "sales", snap)

	// Raw hourly KPIs; large windows get downsampled locally.
	snap, err = kpis.Fetch(ctx, feeds.Params{StartDate: start, EndDate: end})
	if err != nil {
		log.WithError(err).Fatal("kpi fetch failed")
	}
	report(log, "kpis", snap)

	// Second load inside the TTL window: served from cache, no request.
	sales.Prefetch(ctx, feeds.Params{
		BranchID:    1,
		StartDate:   start,
		EndDate:     end,
		Aggregation: "day",
		Metrics:     []string{"total", "orders"},
	})

	stats := cache.Stats()
	log.WithFields(logrus.Fields{
		"entries": stats.Entries,
		"hits":    stats.Hits,
		"misses":  stats.Misses,
	}).Info("cache stats")
}

func report(log *logrus.Logger, name string, snap feeds.Snapshot) {
	if snap.IsError {
		log.WithError(snap.Err).WithField("feed", name).Error("feed failed")
		return
	}
	log.WithFields(logrus.Fields{
		"feed":        name,
		"points":      len(snap.Data),
		"original":    snap.Meta.OriginalLength,
		"downsampled": snap.IsDownsampled,
		"aggregated":  snap.IsAggregated,
		"stale":       snap.IsStale,
	}).Info("feed loaded")
}

// movingAverage smooths the named field over a trailing window; a typical
// pure per-feed transform composed after the pipeline.
func movingAverage(field string, window int) feeds.Transform {
	return func(s series.Series) series.Series {
		if window < 2 || len(s) == 0 {
			return s
		}
		out := s.Clone()
		for i := range out {
			lo := i - window + 1
			if lo < 0 {
				lo = 0
			}
			sum := 0.0
			for j := lo; j <= i; j++ {
				sum += s[j].Field(field)
			}
			out[i].Fields[field] = sum / float64(i-lo+1)
		}
		return out
	}
}
