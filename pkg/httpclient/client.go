// Package httpclient is the HTTP client used to poll playlists and download
// media segments. It retries transient failures with exponential backoff,
// honours Retry-After, stops hammering a dead upstream with a circuit
// breaker and decodes compressed bodies.
package httpclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"
)

var (
	ErrCircuitOpen      = errors.New("circuit breaker is open")
	ErrMaxRetries       = errors.New("max retries exceeded")
	ErrResponseTooLarge = errors.New("response body exceeds maximum size limit")
)

// Default configuration values.
const (
	DefaultTimeout            = 30 * time.Second
	DefaultRetryAttempts      = 2
	DefaultRetryDelay         = 500 * time.Millisecond
	DefaultRetryMaxDelay      = 10 * time.Second
	DefaultBackoffMultiplier  = 2.0
	DefaultCircuitThreshold   = 5
	DefaultCircuitTimeout     = 30 * time.Second
	DefaultCircuitHalfOpenMax = 1
	DefaultUserAgent          = "hlssplit-httpclient/1.0"
)

const drainLimit = 4096

// levelTrace matches the trace level of the application logger.
const levelTrace = slog.Level(-8)

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout bounds a whole request including reading the body.
	Timeout time.Duration

	// RetryAttempts is the number of retries after the first attempt.
	RetryAttempts     int
	RetryDelay        time.Duration
	RetryMaxDelay     time.Duration
	BackoffMultiplier float64

	// CircuitThreshold consecutive failures open the circuit for
	// CircuitTimeout, after which CircuitHalfOpenMax probes are allowed.
	CircuitThreshold   int
	CircuitTimeout     time.Duration
	CircuitHalfOpenMax int

	UserAgent string
	Logger    *slog.Logger

	// EnableDecompression decodes gzip, deflate and brotli bodies.
	EnableDecompression bool

	// MaxResponseSize limits the decoded body size. Zero disables the limit.
	MaxResponseSize int64

	// Transport is the underlying round tripper, e.g. one that adds
	// authentication headers. Nil uses http.DefaultTransport.
	Transport http.RoundTripper
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		RetryAttempts:       DefaultRetryAttempts,
		RetryDelay:          DefaultRetryDelay,
		RetryMaxDelay:       DefaultRetryMaxDelay,
		BackoffMultiplier:   DefaultBackoffMultiplier,
		CircuitThreshold:    DefaultCircuitThreshold,
		CircuitTimeout:      DefaultCircuitTimeout,
		CircuitHalfOpenMax:  DefaultCircuitHalfOpenMax,
		UserAgent:           DefaultUserAgent,
		EnableDecompression: true,
	}
}

// Client wraps http.Client with retries and a circuit breaker.
type Client struct {
	config  Config
	client  *http.Client
	breaker *CircuitBreaker
	logger  *slog.Logger
}

// New creates a client from cfg.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.BackoffMultiplier < 1 {
		cfg.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = DefaultRetryMaxDelay
	}

	return &Client{
		config:  cfg,
		client:  &http.Client{Timeout: cfg.Timeout, Transport: cfg.Transport},
		breaker: NewCircuitBreaker(cfg.CircuitThreshold, cfg.CircuitTimeout, cfg.CircuitHalfOpenMax),
		logger:  cfg.Logger,
	}
}

// NewWithDefaults creates a client with DefaultConfig.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// outcome is the result of a single attempt.
type outcome struct {
	resp  *http.Response
	err   error
	retry bool
	// wait overrides the backoff delay when the server sent Retry-After.
	wait time.Duration
}

// Do executes req with circuit breaker protection and automatic retries.
// Transport errors and 429/502/503/504 responses are retried; any other
// response is returned to the caller, who owns the status check.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	if req.Header.Get("User-Agent") == "" && c.config.UserAgent != "" {
		req.Header.Set("User-Agent", c.config.UserAgent)
	}
	if c.config.EnableDecompression && req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", acceptEncoding)
	}

	delay := c.config.RetryDelay
	var last outcome
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			wait := delay
			if last.wait > 0 {
				wait = min(last.wait, c.config.RetryMaxDelay)
			}
			c.logger.Debug("retrying request",
				slog.Int("attempt", attempt),
				slog.Duration("delay", wait),
				slog.String("url", req.URL.Redacted()))
			if err := sleep(ctx, wait); err != nil {
				return nil, err
			}
			delay = min(time.Duration(float64(delay)*c.config.BackoffMultiplier), c.config.RetryMaxDelay)
		}

		last = c.attempt(req, attempt)
		if !last.retry {
			return last.resp, last.err
		}
	}
	return nil, fmt.Errorf("%w: %w", ErrMaxRetries, last.err)
}

func (c *Client) attempt(req *http.Request, n int) outcome {
	url := req.URL.Redacted()
	if !c.breaker.Allow() {
		c.logger.Warn("circuit breaker open, skipping request",
			slog.String("url", url),
			slog.String("state", c.breaker.State().String()))
		return outcome{err: ErrCircuitOpen, retry: true}
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	elapsed := time.Since(start)

	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return outcome{err: err}
		}
		c.breaker.RecordFailure()
		c.logger.Warn("request failed",
			slog.String("url", url),
			slog.Duration("duration", elapsed),
			slog.Int("attempt", n),
			slog.String("error", err.Error()))
		return outcome{err: err, retry: true}
	}

	if isRetryableStatus(resp.StatusCode) {
		c.breaker.RecordFailure()
		wait := retryAfter(resp.Header.Get("Retry-After"))
		discard(resp)
		c.logger.Warn("retryable status code",
			slog.String("url", url),
			slog.Int("status", resp.StatusCode),
			slog.Duration("duration", elapsed),
			slog.Int("attempt", n))
		return outcome{err: &StatusError{Code: resp.StatusCode, URL: url}, retry: true, wait: wait}
	}

	if resp.StatusCode >= 500 {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess()
	}
	c.logger.Log(req.Context(), levelTrace, "request completed",
		slog.String("url", url),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", elapsed),
		slog.Int64("content_length", resp.ContentLength))

	if c.config.EnableDecompression {
		resp.Body = c.decode(resp)
	}
	// Applied after decoding to bound the decoded size.
	if c.config.MaxResponseSize > 0 {
		resp.Body = &limitedBody{ReadCloser: resp.Body, remaining: c.config.MaxResponseSize}
	}
	return outcome{resp: resp}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// Fetch performs a GET request and fails with a *StatusError unless the
// response is 2xx.
func (c *Client) Fetch(ctx context.Context, url string) (*http.Response, error) {
	resp, err := c.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		discard(resp)
		return nil, &StatusError{Code: resp.StatusCode, URL: resp.Request.URL.Redacted()}
	}
	return resp, nil
}

// CircuitState returns the current state of the circuit breaker.
func (c *Client) CircuitState() CircuitState {
	return c.breaker.State()
}

// ResetCircuit closes the circuit breaker.
func (c *Client) ResetCircuit() {
	c.breaker.Reset()
}

// StandardClient returns an *http.Client that routes through this client,
// for libraries that only accept the standard type.
func (c *Client) StandardClient() *http.Client {
	return &http.Client{
		Transport: roundTripper{c},
		Timeout:   c.config.Timeout,
	}
}

type roundTripper struct{ c *Client }

func (t roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.c.Do(req)
}

// StatusError reports an unexpected HTTP status.
type StatusError struct {
	Code int
	URL  string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d %s from %s", e.Code, http.StatusText(e.Code), e.URL)
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}

// retryAfter parses a Retry-After header in either delay-seconds or
// HTTP-date form. Unparseable or past values yield 0.
func retryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// discard drains a little of the body so the connection can be reused.
func discard(resp *http.Response) {
	io.Copy(io.Discard, io.LimitReader(resp.Body, drainLimit))
	resp.Body.Close()
}
