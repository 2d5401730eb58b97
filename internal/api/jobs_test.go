package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckQuota(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/usage/quota", r.URL.Path)
		_ = json.NewEncoder(w).Encode(QuotaStatus{Used: 40, Limit: 100, Remaining: 60})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	qs, err := c.CheckQuota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(40), qs.Used)
	assert.Equal(t, int64(60), qs.Remaining)
}

func TestIncrementUsage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/usage/increment", r.URL.Path)

		var in map[string]int64
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, int64(3), in["amount"])

		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	require.NoError(t, c.IncrementUsage(context.Background(), 3))
}

func TestCreateJobAndWait(t *testing.T) {
	var polls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/jobs":
			_ = json.NewEncoder(w).Encode(Job{ID: "job-1", Kind: "insight", Status: JobStatusQueued})
		case r.Method == http.MethodGet && r.URL.Path == "/jobs/job-1":
			status := JobStatusRunning
			if polls.Add(1) >= 3 {
				status = JobStatusCompleted
			}
			_ = json.NewEncoder(w).Encode(Job{ID: "job-1", Kind: "insight", Status: status})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	job, err := c.CreateJob(context.Background(), &JobRequest{Kind: "insight", Workspace: "demo"})
	require.NoError(t, err)
	assert.Equal(t, "job-1", job.ID)
	assert.False(t, job.Terminal())

	done, err := c.WaitForJob(context.Background(), job.ID, time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, JobStatusCompleted, done.Status)
	assert.True(t, done.Terminal())
	assert.Equal(t, int32(3), polls.Load())
}

func TestWaitForJob_FailedJobIsTerminal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Job{ID: "job-2", Status: JobStatusFailed, Error: "detector crashed"})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)

	job, err := c.WaitForJob(context.Background(), "job-2", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, "detector crashed", job.Error)
}

func TestWaitForJob_Cancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(Job{ID: "job-3", Status: JobStatusRunning})
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	c := newTestClient(t, srv.URL, nil)
	c.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := c.WaitForJob(ctx, "job-3", time.Millisecond)
	require.Error(t, err)
}
