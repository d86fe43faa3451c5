package coinalyze

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	appconfig "coinflow/config"
	"coinflow/logger"
)

// ErrUnavailable marks endpoints that do not exist upstream. Callers treat it
// as a recoverable absence rather than a transport failure.
var ErrUnavailable = errors.New("endpoint not available upstream")

// APIError carries the upstream HTTP status together with the resolved
// request so failures stay diagnosable from the log line alone.
type APIError struct {
	StatusCode int
	URL        string
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coinalyze api error %d: %s (url=%s)", e.StatusCode, http.StatusText(e.StatusCode), e.URL)
}

// IsRetryable reports whether the failure should trigger a retry.
func (e *APIError) IsRetryable() bool {
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// Client issues authenticated GET requests against the Coinalyze REST API
// with bounded retries and client-side rate limiting.
type Client struct {
	baseURL     string
	apiKey      string
	userAgent   string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	log         *logger.Log
}

// NewClient builds a Client from the application configuration.
func NewClient(cfg *appconfig.Config) *Client {
	return &Client{
		baseURL:   strings.TrimRight(cfg.API.BaseURL, "/"),
		apiKey:    cfg.API.Key,
		userAgent: cfg.API.UserAgent,
		httpClient: &http.Client{
			Timeout: cfg.API.Timeout,
		},
		limiter:     rate.NewLimiter(rate.Limit(cfg.API.RateLimit.RequestsPerSecond), cfg.API.RateLimit.BurstSize),
		maxAttempts: cfg.API.Retry.MaxAttempts,
		baseDelay:   cfg.API.Retry.BaseDelay,
		maxDelay:    cfg.API.Retry.MaxDelay,
		log:         logger.GetLogger(),
	}
}

func (c *Client) doRequest(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	fullURL := c.baseURL + path
	if len(query) > 0 {
		fullURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fullURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			URL:        fullURL,
			Body:       body,
		}
	}

	return body, nil
}

// get performs a GET with retry on transient upstream failures. Backoff grows
// exponentially from the configured base delay with a half-to-full jitter,
// capped at the configured max delay.
func (c *Client) get(ctx context.Context, path string, query url.Values) (json.RawMessage, error) {
	var lastErr error
	backoff := c.baseDelay

	for attempt := 0; attempt < c.maxAttempts; attempt++ {
		if attempt > 0 {
			delay := backoff/2 + time.Duration(rand.Int63n(int64(backoff/2)+1))
			c.log.WithComponent("coinalyze_client").WithFields(logger.Fields{
				"attempt": attempt,
				"backoff": delay.String(),
				"path":    path,
			}).Debug("retrying request")

			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}

			backoff *= 2
			if backoff > c.maxDelay {
				backoff = c.maxDelay
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		body, err := c.doRequest(ctx, path, query)
		if err == nil {
			return body, nil
		}

		lastErr = err

		var apiErr *APIError
		if !errors.As(err, &apiErr) || !apiErr.IsRetryable() {
			return nil, fmt.Errorf("coinalyze api request failed: %w (params=%s)", err, query.Encode())
		}
	}

	return nil, fmt.Errorf("coinalyze api request failed after %d attempts: %w (path=%s, params=%s)",
		c.maxAttempts, lastErr, path, query.Encode())
}
