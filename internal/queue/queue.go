// Package queue implements the durable offline queue: an ordered list of
// requests that failed to reach the server and are replayed later. The queue
// is persisted as a flat JSON list rewritten whole on every mutation, which
// is acceptable for the target size (hundreds of entries, not millions).
//
// The queue is single-consumer by design: a Process call that finds another
// Process in flight is a no-op. Like the credential vault, the queue file is
// a single-process resource with no cross-process locking.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// File permissions for the queue file and its directory.
const (
	filePerms = 0o600
	dirPerms  = 0o700
)

// DefaultMaxRetries is the replay budget for entries enqueued without an
// explicit limit.
const DefaultMaxRetries = 3

// Request is one queued outbound call awaiting replay.
type Request struct {
	ID         string            `json:"id"`
	URL        string            `json:"url"`
	Method     string            `json:"method"`
	Payload    json.RawMessage   `json:"payload,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	EnqueuedAt time.Time         `json:"enqueuedAt"`
	RetryCount int               `json:"retryCount"`
	MaxRetries int               `json:"maxRetries"`
}

// Executor replays a single queued request. A nil return removes the entry;
// an error increments its retry count.
type Executor func(ctx context.Context, req Request) error

// ProcessResult summarizes one replay pass. Failed counts entries dropped
// after exhausting their retry budget; entries that remain queued for a
// later pass are counted in neither field.
type ProcessResult struct {
	Succeeded int
	Failed    int
}

// Queue is a durable FIFO queue of outbound requests.
type Queue struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	entries []Request

	// processing guards Process: the queue is single-consumer, so a
	// concurrent replay pass is a no-op rather than a corruption hazard.
	processing atomic.Bool

	// now is the clock used for enqueue timestamps and age checks.
	// Tests override it.
	now func() time.Time
}

// Open loads the queue file at path, creating an empty queue if the file
// does not exist.
func Open(path string, logger *slog.Logger) (*Queue, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	q := &Queue{path: path, logger: logger, now: time.Now}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return q, nil
	}

	if err != nil {
		return nil, fmt.Errorf("queue: reading %s: %w", path, err)
	}

	if err := json.Unmarshal(data, &q.entries); err != nil {
		return nil, fmt.Errorf("queue: decoding %s: %w", path, err)
	}

	return q, nil
}

// Enqueue appends a request and persists the queue. Returns the entry ID.
// maxRetries <= 0 selects DefaultMaxRetries.
func (q *Queue) Enqueue(url, method string, payload []byte, headers map[string]string, maxRetries int) (string, error) {
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	req := Request{
		ID:         uuid.NewString(),
		URL:        url,
		Method:     method,
		Payload:    payload,
		Headers:    headers,
		EnqueuedAt: q.now().UTC(),
		MaxRetries: maxRetries,
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = append(q.entries, req)
	if err := q.persistLocked(); err != nil {
		q.entries = q.entries[:len(q.entries)-1]
		return "", err
	}

	q.logger.Info("queue: enqueued request",
		slog.String("id", req.ID),
		slog.String("method", method),
		slog.String("url", url),
		slog.Int("size", len(q.entries)),
	)

	return req.ID, nil
}

// Dequeue removes the entry with the given ID. Removing an absent ID is a
// no-op.
func (q *Queue) Dequeue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, e := range q.entries {
		if e.ID == id {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return q.persistLocked()
		}
	}

	return nil
}

// All returns a copy of the queued entries in FIFO order.
func (q *Queue) All() []Request {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Request, len(q.entries))
	copy(out, q.entries)

	return out
}

// Size returns the number of queued entries.
func (q *Queue) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.entries)
}

// Clear removes all entries and persists the empty queue.
func (q *Queue) Clear() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.entries = nil

	return q.persistLocked()
}

// Process replays the current snapshot of the queue once, in FIFO order.
// On executor success the entry is removed. On failure its retry count is
// incremented and persisted; once the count reaches the entry's limit the
// entry is dropped and counted as a permanent failure.
//
// Process is reentrant-safe: a call while another is in flight returns a
// zero ProcessResult without touching the queue.
func (q *Queue) Process(ctx context.Context, exec Executor) (ProcessResult, error) {
	if !q.processing.CompareAndSwap(false, true) {
		q.logger.Debug("queue: replay already in progress, skipping")
		return ProcessResult{}, nil
	}
	defer q.processing.Store(false)

	snapshot := q.All()

	var result ProcessResult

	for _, req := range snapshot {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("queue: replay canceled: %w", err)
		}

		err := exec(ctx, req)
		if err == nil {
			if dqErr := q.Dequeue(req.ID); dqErr != nil {
				return result, dqErr
			}

			result.Succeeded++

			q.logger.Info("queue: replayed request",
				slog.String("id", req.ID),
				slog.String("url", req.URL),
			)

			continue
		}

		dropped, markErr := q.markFailed(req.ID)
		if markErr != nil {
			return result, markErr
		}

		if dropped {
			result.Failed++

			q.logger.Warn("queue: dropping request after exhausting retries",
				slog.String("id", req.ID),
				slog.String("url", req.URL),
				slog.String("error", err.Error()),
			)

			continue
		}

		q.logger.Warn("queue: replay failed, will retry",
			slog.String("id", req.ID),
			slog.String("url", req.URL),
			slog.String("error", err.Error()),
		)
	}

	return result, nil
}

// markFailed increments the retry count of the entry with the given ID,
// dropping it once the count reaches its limit. Reports whether the entry
// was dropped.
func (q *Queue) markFailed(id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i := range q.entries {
		if q.entries[i].ID != id {
			continue
		}

		q.entries[i].RetryCount++
		if q.entries[i].RetryCount >= q.entries[i].MaxRetries {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			return true, q.persistLocked()
		}

		return false, q.persistLocked()
	}

	return false, nil
}

// CleanOld purges entries older than maxAge regardless of retry state, to
// bound growth from permanently-unreachable endpoints. Returns the number
// of entries removed.
func (q *Queue) CleanOld(maxAge time.Duration) (int, error) {
	cutoff := q.now().Add(-maxAge)

	q.mu.Lock()
	defer q.mu.Unlock()

	kept := q.entries[:0]

	removed := 0
	for _, e := range q.entries {
		if e.EnqueuedAt.Before(cutoff) {
			removed++
			continue
		}

		kept = append(kept, e)
	}

	if removed == 0 {
		return 0, nil
	}

	q.entries = kept
	if err := q.persistLocked(); err != nil {
		return 0, err
	}

	q.logger.Info("queue: purged old entries",
		slog.Int("removed", removed),
		slog.Duration("max_age", maxAge),
	)

	return removed, nil
}

// persistLocked rewrites the queue file atomically. Callers must hold q.mu.
func (q *Queue) persistLocked() error {
	data, err := json.MarshalIndent(q.entries, "", "  ")
	if err != nil {
		return fmt.Errorf("queue: encoding: %w", err)
	}

	dir := filepath.Dir(q.path)
	if err := os.MkdirAll(dir, dirPerms); err != nil {
		return fmt.Errorf("queue: creating directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".queue-*.tmp")
	if err != nil {
		return fmt.Errorf("queue: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, filePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("queue: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("queue: writing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("queue: closing: %w", err)
	}

	if err := os.Rename(tmpPath, q.path); err != nil {
		return fmt.Errorf("queue: renaming: %w", err)
	}

	success = true

	return nil
}
