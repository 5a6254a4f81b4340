// Package fal is an HTTP client for the fal.ai inference API: storage uploads,
// queue submission and request status.
package fal

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/genfill/genfill-agent/internal/logging"
)

const (
	maxErrorBodyBytes    = 4096
	maxResponseBodyBytes = 1 << 20
)

// APIError represents a non-2xx response from the inference API.
type APIError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("fal %s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// Observer receives one call per completed HTTP request.
type Observer interface {
	ObserveAPIRequest(op string, statusCode int, d time.Duration)
}

// Config holds the client configuration.
type Config struct {
	QueueURL   string
	StorageURL string
	RateLimit  float64 // requests per second across all operations
	Timeout    time.Duration
	Logger     *slog.Logger
	Observer   Observer
}

// Client talks to the inference API. The API key is supplied per call; runs
// carry their own credential.
type Client struct {
	cfg            Config
	httpClient     *http.Client
	transferClient *http.Client // video bytes; bounded by the context only
	limiter        *rate.Limiter
	logger         *slog.Logger
}

// NewClient creates a Client.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	limit := rate.Inf
	if cfg.RateLimit > 0 {
		limit = rate.Limit(cfg.RateLimit)
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		transferClient: &http.Client{},
		limiter:        rate.NewLimiter(limit, 1),
		logger:         logging.WithComponent(cfg.Logger, "fal"),
	}
}

// doJSON sends a JSON request with key auth and decodes a 2xx response body
// into out when out is non-nil. It returns the raw body.
func (c *Client) doJSON(ctx context.Context, op, method, url, key string, in, out any) ([]byte, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal %s request: %w", op, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if key != "" {
		req.Header.Set("Authorization", "Key "+key)
	}

	resp, err := c.send(ctx, c.httpClient, op, req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &APIError{Op: op, StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", op, err)
	}
	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return respBody, fmt.Errorf("decode %s response: %w", op, err)
		}
	}
	return respBody, nil
}

// send applies the rate limit, stamps a request id and records the outcome.
func (c *Client) send(ctx context.Context, hc *http.Client, op string, req *http.Request) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}

	requestID := uuid.NewString()
	req.Header.Set("X-Request-Id", requestID)

	start := time.Now()
	resp, err := hc.Do(req)
	elapsed := time.Since(start)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	if c.cfg.Observer != nil {
		c.cfg.Observer.ObserveAPIRequest(op, status, elapsed)
	}

	if err != nil {
		c.logger.Warn("api request failed",
			"op", op,
			"request_id", requestID,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
		return nil, fmt.Errorf("http request failed: %w", err)
	}

	c.logger.Debug("api request complete",
		"op", op,
		"request_id", requestID,
		"status", status,
		"duration_ms", elapsed.Milliseconds(),
	)
	return resp, nil
}

// Fetch issues an unauthenticated GET, as result URLs are public CDN links.
// The caller closes the body. size is -1 when unknown.
func (c *Client) Fetch(ctx context.Context, url string) (body io.ReadCloser, size int64, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.send(ctx, c.transferClient, "download", req)
	if err != nil {
		return nil, 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, 0, &APIError{Op: "download", StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	return resp.Body, resp.ContentLength, nil
}
