// Package realtime listens for cache-invalidation hints pushed by the
// backend. Live data push is deliberately not wired here; the socket only
// tells the cache which entries are no longer trustworthy.
package realtime

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/chartfeed/chartfeed/pkg/querycache"
)

// Invalidation names the cache entries that should be evicted: an endpoint
// plus an optional parameter prefix.
type Invalidation struct {
	Endpoint string            `json:"endpoint"`
	Params   map[string]string `json:"params,omitempty"`
}

// Listener maintains a websocket to the backend's invalidation endpoint and
// forwards each message to the cache.
type Listener struct {
	url   string
	cache *querycache.Cache
	log   *logrus.Entry

	// ReconnectDelay is the pause before redialing a dropped socket.
	ReconnectDelay time.Duration
}

// NewListener creates a listener for the given ws:// URL.
func NewListener(url string, cache *querycache.Cache, log *logrus.Logger) *Listener {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Listener{
		url:            url,
		cache:          cache,
		log:            log.WithField("component", "realtime"),
		ReconnectDelay: 5 * time.Second,
	}
}

// Run dials and reads until ctx is cancelled, redialing on failure. It only
// returns the context's error; individual socket failures are logged and
// retried.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := l.listen(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.log.WithError(err).Warn("invalidation socket dropped; reconnecting")
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(l.ReconnectDelay):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, l.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	l.log.WithField("url", l.url).Info("listening for invalidations")

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		var inv Invalidation
		if err := json.Unmarshal(msg, &inv); err != nil {
			l.log.WithError(err).Warn("dropping malformed invalidation")
			continue
		}
		removed := l.cache.Invalidate(inv.Endpoint, inv.Params)
		l.log.WithFields(logrus.Fields{
			"endpoint": inv.Endpoint,
			"removed":  removed,
		}).Debug("applied invalidation")
	}
}
