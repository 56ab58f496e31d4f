// Package transport is the HTTP fetch capability the query cache consumes.
// It classifies failures into retryable and terminal, rate-limits outbound
// requests, and decodes the backend's chart payload shapes.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"github.com/chartfeed/chartfeed/pkg/series"
)

// Fetcher is the capability the orchestrator depends on. Implementations
// must return a *ClientError for rejected requests and a *TransportError for
// transient failures so the retry policy can tell them apart.
type Fetcher interface {
	Get(ctx context.Context, path string, params map[string]string) (*Payload, error)
}

// Payload is what a chart endpoint returns: either a bare array of points or
// an object with the points under "data" plus optional summary/kpis/charts
// blocks. The wire format is not prescribed beyond that.
type Payload struct {
	Data    series.Series            `json:"data"`
	Summary map[string]float64       `json:"summary,omitempty"`
	KPIs    map[string]float64       `json:"kpis,omitempty"`
	Charts  map[string]series.Series `json:"charts,omitempty"`
}

// ClientConfig configures the HTTP fetcher.
type ClientConfig struct {
	BaseURL string
	APIKey  string

	// Timeout for a single request attempt. 0 means 10s.
	Timeout time.Duration

	// RateLimit caps outbound requests per second; 0 disables limiting.
	RateLimit float64
	Burst     int

	Log *logrus.Logger
}

// Client fetches chart payloads over HTTP. A circuit breaker sits around the
// wire call so a flapping backend fails fast instead of queueing requests.
type Client struct {
	baseURL string
	apiKey  string
	hc      *http.Client
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[*Payload]
	log     *logrus.Entry
}

// NewClient creates an HTTP fetcher for the given backend.
func NewClient(cfg ClientConfig) *Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		burst := cfg.Burst
		if burst == 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}

	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		hc:      &http.Client{Timeout: timeout},
		limiter: limiter,
		breaker: gobreaker.NewCircuitBreaker[*Payload](gobreaker.Settings{
			Name: "chartfeed-transport",
			// Client rejections say nothing about backend health; only
			// transport and server failures may open the breaker.
			IsSuccessful: func(err error) bool {
				var ce *ClientError
				return err == nil || errors.As(err, &ce)
			},
		}),
		log: log.WithField("component", "transport"),
	}
}

// Get performs a GET against baseURL+path with the given query parameters
// and decodes the response into a Payload.
func (c *Client) Get(ctx context.Context, path string, params map[string]string) (*Payload, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, &TransportError{Err: err}
		}
	}

	payload, err := c.breaker.Execute(func() (*Payload, error) {
		return c.get(ctx, path, params)
	})
	if err != nil {
		var ce *ClientError
		var te *TransportError
		if errors.As(err, &ce) || errors.As(err, &te) {
			return nil, err
		}
		// Breaker-open and other wrapper errors count as transient.
		return nil, &TransportError{Err: err}
	}
	return payload, nil
}

func (c *Client) get(ctx context.Context, path string, params map[string]string) (*Payload, error) {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return nil, &ClientError{Body: fmt.Sprintf("invalid request url: %v", err)}
	}
	q := u.Query()
	for k, v := range params {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &ClientError{Body: fmt.Sprintf("building request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")
	requestID := uuid.NewString()
	req.Header.Set("X-Request-ID", requestID)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	started := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	c.log.WithFields(logrus.Fields{
		"request_id": requestID,
		"path":       path,
		"status":     resp.StatusCode,
		"elapsed_ms": time.Since(started).Milliseconds(),
	}).Debug("fetch completed")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{Status: resp.StatusCode, Err: err}
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return decodePayload(body)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &ClientError{Status: resp.StatusCode, Body: truncate(string(body), 256)}
	default:
		return nil, &TransportError{Status: resp.StatusCode}
	}
}

// decodePayload accepts both wire shapes: a bare JSON array of points, or an
// object carrying the points under "data".
func decodePayload(body []byte) (*Payload, error) {
	trimmed := firstByte(body)
	if trimmed == '[' {
		var pts series.Series
		if err := json.Unmarshal(body, &pts); err != nil {
			return nil, &TransportError{Err: fmt.Errorf("decoding point array: %w", err)}
		}
		return &Payload{Data: pts}, nil
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, &TransportError{Err: fmt.Errorf("decoding payload: %w", err)}
	}
	return &payload, nil
}

func firstByte(body []byte) byte {
	for _, b := range body {
		switch b {
		case ' ', '\t', '\n', '\r':
			continue
		}
		return b
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
