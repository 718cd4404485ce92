package upstream

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/opengemini/gemproxy/internal/ratelimit"
	"github.com/opengemini/gemproxy/internal/retry"
)

// ClientConfig configures the shared upstream HTTP client.
type ClientConfig struct {
	BaseURL string

	// MaxIdleConns/MaxIdleConnsPerHost back the process-wide connection
	// pool. Defaults: 20 / 10, matching the "pool limit >= 20,
	// per-host >= 10".
	MaxIdleConns        int
	MaxIdleConnsPerHost int

	// RateLimitPerWindow/RateLimitWindow bound calls to the upstream
	// (defaults 30 requests / 60s).
	RateLimitPerWindow int
	RateLimitWindow    time.Duration

	MaxRetries int
}

// DefaultClientConfig returns the documented defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL:             baseURL,
		MaxIdleConns:        20,
		MaxIdleConnsPerHost: 10,
		RateLimitPerWindow:  30,
		RateLimitWindow:     60 * time.Second,
		MaxRetries:          5,
	}
}

// Client is the single process-wide HTTP client the orchestrator issues
// every upstream call through: shared connection pool, shared rate limiter,
// retry-with-backoff wrapper. Grounded on internal/retry's generic Do and
// internal/ratelimit's token bucket (kept as the idiomatic Go form rather
// than golang.org/x/time/rate per SPEC_FULL.md's dependency notes),
// composed with a Retry-After-aware wrapper neither teacher package has on
// its own.
type Client struct {
	http       *http.Client
	limiter    *ratelimit.Bucket
	baseURL    string
	maxRetries int
	logger     *slog.Logger
}

// NewClient builds a Client from cfg.
func NewClient(cfg ClientConfig, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxIdleConnsPerHost,
	}
	limiter := ratelimit.NewBucket(ratelimit.Config{
		RequestsPerSecond: float64(cfg.RateLimitPerWindow) / cfg.RateLimitWindow.Seconds(),
		BurstSize:         cfg.RateLimitPerWindow,
		Enabled:           true,
	})
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 5
	}
	return &Client{
		http:       &http.Client{Transport: transport},
		limiter:    limiter,
		baseURL:    cfg.BaseURL,
		maxRetries: maxRetries,
		logger:     logger.With("component", "upstream"),
	}
}

// retryableStatus reports whether status should be retried:
// 429 and 502/503/504 are retried (honoring Retry-After); other 4xx are not.
func retryableStatus(status int) bool {
	switch status {
	case http.StatusTooManyRequests, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// Do issues req, blocking on the shared rate limiter's gate, and retrying
// transient failures (connection errors, timeouts, 429/502/503/504) with
// Retry-After-aware or jittered-exponential backoff, up to maxRetries. The
// returned response's body is the caller's to close. getBody must produce a
// fresh io.ReadCloser for req.Body on every attempt (http.Request bodies are
// single-use), or be nil for bodyless requests.
func (c *Client) Do(ctx context.Context, req *http.Request, getBody func() io.ReadCloser) (*http.Response, error) {
	var lastResp *http.Response
	var lastErr error

	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		if err := c.waitForRateLimit(ctx); err != nil {
			return nil, err
		}

		attemptReq := req.Clone(ctx)
		if getBody != nil {
			attemptReq.Body = getBody()
		}

		resp, err := c.http.Do(attemptReq)
		if err != nil {
			lastErr = err
			if attempt > c.maxRetries {
				return nil, fmt.Errorf("upstream request failed after %d attempts: %w", attempt, err)
			}
			c.sleep(ctx, retry.BackoffWithJitter(attempt, 200*time.Millisecond, 10*time.Second, 2.0))
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}

		lastResp = resp
		if attempt > c.maxRetries {
			return resp, nil
		}

		wait := retryAfterDelay(resp.Header.Get("Retry-After"))
		if wait <= 0 {
			wait = retry.BackoffWithJitter(attempt, 500*time.Millisecond, 30*time.Second, 2.0)
		}
		resp.Body.Close()
		c.logger.Warn("retrying upstream call", "status", resp.StatusCode, "attempt", attempt, "wait", wait)
		c.sleep(ctx, wait)
	}
	if lastResp != nil {
		return lastResp, nil
	}
	return nil, lastErr
}

func (c *Client) waitForRateLimit(ctx context.Context) error {
	for !c.limiter.Allow() {
		wait := c.limiter.WaitTime()
		if wait <= 0 {
			wait = 10 * time.Millisecond
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

func (c *Client) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

// retryAfterDelay parses an HTTP Retry-After header, which is either an
// integer number of seconds or an HTTP-date. Non-parseable or absent
// headers yield 0 (caller falls back to jittered backoff).
func retryAfterDelay(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := http.ParseTime(header); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return 0
}

// StreamDecoder reads a response body that is a concatenation of
// whitespace-delimited JSON objects (the upstream's streaming framing). It
// maintains a rolling buffer, finds the first '{', and attempts to decode;
// if the buffer grows past 64 KiB without a successful decode, its head is
// truncated to 32 KiB to bound memory on a malformed or stalled stream.
type StreamDecoder struct {
	r   *bufio.Reader
	buf bytes.Buffer
}

const (
	streamBufferHardCap = 64 * 1024
	streamBufferDropTo  = 32 * 1024
)

// NewStreamDecoder wraps r for decoding.
func NewStreamDecoder(r io.Reader) *StreamDecoder {
	return &StreamDecoder{r: bufio.NewReaderSize(r, 4096)}
}

// Next returns the next decoded StreamObject, or io.EOF when the body is
// exhausted with no further decodable object pending.
func (d *StreamDecoder) Next() (*StreamObject, error) {
	for {
		if obj, ok, err := d.tryDecode(); err != nil {
			return nil, err
		} else if ok {
			return obj, nil
		}

		chunk := make([]byte, 4096)
		n, err := d.r.Read(chunk)
		if n > 0 {
			d.buf.Write(chunk[:n])
		}
		if err != nil {
			if n == 0 {
				if obj, ok, decErr := d.tryDecode(); decErr == nil && ok {
					return obj, nil
				}
				return nil, err
			}
		}
		if d.buf.Len() > streamBufferHardCap {
			data := d.buf.Bytes()
			d.buf.Reset()
			d.buf.Write(data[len(data)-streamBufferDropTo:])
		}
	}
}

// tryDecode attempts to find and decode one JSON object starting at the
// first '{' in the rolling buffer. On success, consumed bytes (everything
// up through the decoded object) are dropped from the buffer.
func (d *StreamDecoder) tryDecode() (*StreamObject, bool, error) {
	data := d.buf.Bytes()
	start := bytes.IndexByte(data, '{')
	if start < 0 {
		if len(data) > 0 {
			d.buf.Reset()
		}
		return nil, false, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data[start:]))
	var obj StreamObject
	if err := decoder.Decode(&obj); err != nil {
		return nil, false, nil // incomplete object; wait for more bytes
	}

	consumed := start + int(decoder.InputOffset())
	remaining := append([]byte(nil), data[consumed:]...)
	d.buf.Reset()
	d.buf.Write(remaining)
	return &obj, true, nil
}
