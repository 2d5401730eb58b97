package api

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// Job poll defaults.
const (
	defaultPollInterval = 2 * time.Second
)

// Job statuses reported by the backend.
const (
	JobStatusQueued    = "queued"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// QuotaStatus is the account's usage position returned by the quota check.
type QuotaStatus struct {
	Used      int64 `json:"used"`
	Limit     int64 `json:"limit"`
	Remaining int64 `json:"remaining"`
}

// JobRequest describes a job submission.
type JobRequest struct {
	Kind      string            `json:"kind"`
	Workspace string            `json:"workspace,omitempty"`
	Params    map[string]string `json:"params,omitempty"`
}

// Job is a backend job and its current state.
type Job struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Terminal reports whether the job has finished, successfully or not.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// CheckQuota fetches the account's usage position.
func (c *Client) CheckQuota(ctx context.Context) (*QuotaStatus, error) {
	var qs QuotaStatus
	if err := c.DoJSON(ctx, http.MethodGet, "/usage/quota", nil, &qs); err != nil {
		return nil, err
	}

	return &qs, nil
}

// IncrementUsage reports n units of consumed usage. A connection-level
// failure leaves the increment in the offline queue, so usage reporting
// survives flaky networks.
func (c *Client) IncrementUsage(ctx context.Context, n int64) error {
	in := map[string]int64{"amount": n}
	return c.DoJSON(ctx, http.MethodPost, "/usage/increment", in, nil)
}

// CreateJob submits a job.
func (c *Client) CreateJob(ctx context.Context, req *JobRequest) (*Job, error) {
	var job Job
	if err := c.DoJSON(ctx, http.MethodPost, "/jobs", req, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

// JobStatus fetches the current state of a job.
func (c *Client) JobStatus(ctx context.Context, id string) (*Job, error) {
	var job Job
	if err := c.DoJSON(ctx, http.MethodGet, "/jobs/"+id, nil, &job); err != nil {
		return nil, err
	}

	return &job, nil
}

// WaitForJob polls a job until it reaches a terminal state or ctx is
// canceled. interval <= 0 selects the default poll interval.
func (c *Client) WaitForJob(ctx context.Context, id string, interval time.Duration) (*Job, error) {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	for {
		job, err := c.JobStatus(ctx, id)
		if err != nil {
			return nil, err
		}

		if job.Terminal() {
			return job, nil
		}

		if err := c.sleepFunc(ctx, interval); err != nil {
			return nil, fmt.Errorf("api: job wait canceled: %w", err)
		}
	}
}
