package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"time"

	"github.com/odavl/odavl-go/internal/queue"
)

// Retry and backoff constants.
const (
	maxRetries     = 3
	baseBackoff    = 1 * time.Second
	maxBackoff     = 30 * time.Second
	backoffFactor  = 2.0
	jitterFraction = 0.25
	userAgent      = "odavl-go/0.1"
)

// HeaderSource provides authentication headers for outbound requests.
// Defined at the consumer per Go convention "accept interfaces, return
// structs"; the auth package provides the real implementation.
type HeaderSource interface {
	Headers(ctx context.Context) (map[string]string, error)
}

// Client is the resilient HTTP client for the odavl backend. It handles
// request construction, auth-header injection, retry with exponential
// backoff, failure classification, and offline queueing of requests that
// never reached the server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       HeaderSource
	offline    *queue.Queue
	logger     *slog.Logger

	// sleepFunc is called to wait between retries. Defaults to timeSleep.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error
}

// NewClient creates a backend API client. offline may be nil, in which case
// connection-level failures surface as network errors instead of being
// queued (used for queue replay itself).
func NewClient(baseURL string, httpClient *http.Client, auth HeaderSource, offline *queue.Queue, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    baseURL,
		httpClient: httpClient,
		auth:       auth,
		offline:    offline,
		logger:     logger,
		sleepFunc:  timeSleep,
	}
}

// Do executes an HTTP request against the backend and returns the response
// body. Network errors and retryable status codes are retried with
// exponential backoff; 4xx responses (other than 408/429) are classified and
// surfaced immediately. If every attempt fails at the connection level (no
// response at all) and an offline queue is attached, the request is enqueued
// and a QueuedError is returned so the caller can report "queued for retry".
func (c *Client) Do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	url := c.baseURL + path

	var attempt int
	for {
		resp, err := c.doOnce(ctx, method, url, body)
		if err != nil {
			// Header source failures are authentication errors, not
			// transport errors. Never retried, never queued.
			var hdrErr *headerError
			if errors.As(err, &hdrErr) {
				return nil, hdrErr.err
			}

			// Context cancellation is not retryable.
			if ctx.Err() != nil {
				return nil, fmt.Errorf("api: request canceled: %w", ctx.Err())
			}

			// Network errors are retryable.
			if attempt < maxRetries {
				backoff := c.calcBackoff(attempt)
				c.logger.Warn("retrying after network error",
					slog.String("method", method),
					slog.String("path", path),
					slog.Int("attempt", attempt+1),
					slog.Duration("backoff", backoff),
					slog.String("error", err.Error()),
				)

				if sleepErr := c.sleepFunc(ctx, backoff); sleepErr != nil {
					return nil, fmt.Errorf("api: request canceled: %w", sleepErr)
				}

				attempt++

				continue
			}

			return nil, c.queueOrFail(method, url, body, err)
		}

		respBody, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()

		// 2xx — success.
		if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			if readErr != nil {
				return nil, fmt.Errorf("api: reading response body: %w", readErr)
			}

			c.logger.Debug("request succeeded",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
			)

			return respBody, nil
		}

		if readErr != nil {
			respBody = []byte("(failed to read response body)")
		}

		if isRetryable(resp.StatusCode) && attempt < maxRetries {
			backoff := c.retryBackoff(resp, attempt)
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempt", attempt+1),
				slog.Duration("backoff", backoff),
			)

			if err := c.sleepFunc(ctx, backoff); err != nil {
				return nil, fmt.Errorf("api: request canceled: %w", err)
			}

			attempt++

			continue
		}

		if attempt > 0 {
			c.logger.Error("request failed after retries",
				slog.String("method", method),
				slog.String("path", path),
				slog.Int("status", resp.StatusCode),
				slog.Int("attempts", attempt+1),
			)
		}

		return nil, c.classifyResponse(resp, respBody)
	}
}

// DoJSON executes a request with a JSON-encoded body and decodes the JSON
// response into out. in and out may each be nil.
func (c *Client) DoJSON(ctx context.Context, method, path string, in, out any) error {
	var body []byte

	if in != nil {
		var err error

		body, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("api: encoding request body: %w", err)
		}
	}

	respBody, err := c.Do(ctx, method, path, body)
	if err != nil {
		return err
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("api: decoding response body: %w", err)
	}

	return nil
}

// SyncOfflineQueue replays the offline queue through the same authenticated
// transport. Entries that fail again stay queued (or are dropped once their
// retry budget is exhausted). A client without an offline queue returns a
// zero result.
func (c *Client) SyncOfflineQueue(ctx context.Context) (queue.ProcessResult, error) {
	if c.offline == nil {
		return queue.ProcessResult{}, nil
	}

	// The replay client shares transport and auth but has no queue of its
	// own: a failed replay must not re-enqueue.
	replay := NewClient("", c.httpClient, c.auth, nil, c.logger)
	replay.sleepFunc = c.sleepFunc

	return c.offline.Process(ctx, func(ctx context.Context, req queue.Request) error {
		_, err := replay.Do(ctx, req.Method, req.URL, req.Payload)
		return err
	})
}

// doOnce executes a single HTTP request (no retry).
func (c *Client) doOnce(ctx context.Context, method, url string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	headers, err := c.auth.Headers(ctx)
	if err != nil {
		return nil, &headerError{err: err}
	}

	for k, v := range headers {
		req.Header.Set(k, v)
	}

	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

// headerError marks a failure to obtain auth headers, so the retry loop can
// distinguish it from transport errors.
type headerError struct {
	err error
}

func (e *headerError) Error() string {
	return e.err.Error()
}

func (e *headerError) Unwrap() error {
	return e.err
}

// queueOrFail handles a request whose every attempt failed at the connection
// level. With an offline queue attached, the request is persisted for later
// replay; otherwise the network error is classified and surfaced.
func (c *Client) queueOrFail(method, url string, body []byte, cause error) error {
	if c.offline == nil {
		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, url, cause)
	}

	id, err := c.offline.Enqueue(url, method, body, nil, queue.DefaultMaxRetries)
	if err != nil {
		c.logger.Error("failed to enqueue request for offline retry",
			slog.String("method", method),
			slog.String("url", url),
			slog.String("error", err.Error()),
		)

		return fmt.Errorf("%w: %s %s: %v", ErrNetwork, method, url, cause)
	}

	c.logger.Info("request queued for offline retry",
		slog.String("method", method),
		slog.String("url", url),
		slog.String("queue_id", id),
	)

	return &QueuedError{ID: id, Cause: cause}
}

// classifyResponse maps a non-2xx response to an APIError wrapping the
// matching sentinel. Quota responses are decoded into a QuotaError so the
// caller sees current/limit/upgrade details.
func (c *Client) classifyResponse(resp *http.Response, body []byte) error {
	sentinel := classifyStatus(resp.StatusCode)
	reqID := resp.Header.Get("X-Request-Id")

	if sentinel == ErrQuotaExceeded {
		var q struct {
			Current    int64  `json:"current"`
			Limit      int64  `json:"limit"`
			UpgradeURL string `json:"upgradeUrl"`
		}
		if err := json.Unmarshal(body, &q); err == nil && q.Limit > 0 {
			return &QuotaError{Current: q.Current, Limit: q.Limit, UpgradeURL: q.UpgradeURL}
		}
	}

	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  reqID,
		Message:    string(body),
		Err:        sentinel,
	}

	if sentinel == ErrRateLimited {
		apiErr.RetryAfter = retryAfterHint(resp)
	}

	return apiErr
}

// retryAfterHint parses the Retry-After header (seconds form).
func retryAfterHint(resp *http.Response) time.Duration {
	if ra := resp.Header.Get("Retry-After"); ra != "" {
		if seconds, err := strconv.Atoi(ra); err == nil && seconds > 0 {
			return time.Duration(seconds) * time.Second
		}
	}

	return 0
}

// retryBackoff returns the backoff duration for a retryable response.
// For 429 responses with a Retry-After header, that value is used.
func (c *Client) retryBackoff(resp *http.Response, attempt int) time.Duration {
	if resp.StatusCode == http.StatusTooManyRequests {
		if hint := retryAfterHint(resp); hint > 0 {
			return hint
		}
	}

	return c.calcBackoff(attempt)
}

// calcBackoff computes exponential backoff with ±25% jitter.
func (c *Client) calcBackoff(attempt int) time.Duration {
	backoff := float64(baseBackoff) * math.Pow(backoffFactor, float64(attempt))
	if backoff > float64(maxBackoff) {
		backoff = float64(maxBackoff)
	}

	// Apply ±25% jitter.
	jitter := backoff * jitterFraction * (rand.Float64()*2 - 1) //nolint:gosec // jitter does not need crypto rand
	backoff += jitter

	return time.Duration(backoff)
}

// timeSleep waits for the given duration or until the context is canceled.
// It is the default sleepFunc for Client.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
