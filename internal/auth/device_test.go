package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// deviceTestServer serves the device code endpoint plus a scripted sequence
// of token endpoint responses.
func deviceTestServer(t *testing.T, script []deviceTokenResponse) (*httptest.Server, *atomic.Int32) {
	t.Helper()

	var polls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/auth/device/code":
			_ = json.NewEncoder(w).Encode(DeviceAuth{
				DeviceCode:      "dev-123",
				UserCode:        "WDJB-MJHT",
				VerificationURI: "https://odavl.dev/activate",
				ExpiresIn:       900,
				Interval:        5,
			})
		case "/auth/device/token":
			var in map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
			assert.Equal(t, "dev-123", in["device_code"])

			i := int(polls.Add(1)) - 1
			if i >= len(script) {
				i = len(script) - 1
			}

			resp := script[i]
			if resp.Error != "" {
				w.WriteHeader(http.StatusBadRequest)
			}

			_ = json.NewEncoder(w).Encode(resp)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))

	return srv, &polls
}

func TestDeviceLogin_PendingThenSuccess(t *testing.T) {
	script := []deviceTokenResponse{
		{Error: errAuthorizationPending},
		{Error: errAuthorizationPending},
		{Error: errAuthorizationPending},
		{AccessToken: "at-dev", RefreshToken: "rt-dev", ExpiresIn: 3600, OrgID: "org-1", UserID: "user-1"},
	}

	srv, polls := deviceTestServer(t, script)
	defer srv.Close()

	m := newTestManager(t, srv.URL)

	var slept []time.Duration
	m.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	da, err := m.StartDeviceLogin(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "WDJB-MJHT", da.UserCode)
	assert.Equal(t, "https://odavl.dev/activate", da.VerificationURI)

	require.NoError(t, m.WaitForDeviceToken(context.Background(), da))
	assert.Equal(t, int32(4), polls.Load())

	// The loop waited the server-specified interval between every attempt.
	require.Len(t, slept, 4)
	for _, d := range slept {
		assert.Equal(t, 5*time.Second, d)
	}

	// Tokens were persisted.
	creds, err := m.vault.Load()
	require.NoError(t, err)
	require.NotNil(t, creds)
	assert.Equal(t, "at-dev", creds.AccessToken)
	assert.Equal(t, "rt-dev", creds.RefreshToken)
	assert.Equal(t, "org-1", creds.OrgID)
}

func TestDeviceLogin_SlowDownIncreasesInterval(t *testing.T) {
	script := []deviceTokenResponse{
		{Error: errSlowDown},
		{Error: errSlowDown},
		{AccessToken: "at-dev", ExpiresIn: 3600},
	}

	srv, _ := deviceTestServer(t, script)
	defer srv.Close()

	m := newTestManager(t, srv.URL)

	var slept []time.Duration
	m.sleepFunc = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	da := &DeviceAuth{DeviceCode: "dev-123", ExpiresIn: 900, Interval: 5}
	require.NoError(t, m.WaitForDeviceToken(context.Background(), da))

	// Effective interval strictly increases on each slow_down.
	require.Len(t, slept, 3)
	assert.Equal(t, 5*time.Second, slept[0])
	assert.Equal(t, 10*time.Second, slept[1])
	assert.Equal(t, 15*time.Second, slept[2])
}

func TestDeviceLogin_AccessDenied(t *testing.T) {
	srv, polls := deviceTestServer(t, []deviceTokenResponse{{Error: errAccessDenied}})
	defer srv.Close()

	m := newTestManager(t, srv.URL)

	da := &DeviceAuth{DeviceCode: "dev-123", ExpiresIn: 900, Interval: 5}
	err := m.WaitForDeviceToken(context.Background(), da)
	assert.True(t, errors.Is(err, ErrAuthorizationDenied))
	assert.Equal(t, int32(1), polls.Load(), "denial aborts polling immediately")
}

func TestDeviceLogin_ExpiredToken(t *testing.T) {
	srv, _ := deviceTestServer(t, []deviceTokenResponse{{Error: errExpiredToken}})
	defer srv.Close()

	m := newTestManager(t, srv.URL)

	da := &DeviceAuth{DeviceCode: "dev-123", ExpiresIn: 900, Interval: 5}
	err := m.WaitForDeviceToken(context.Background(), da)
	assert.True(t, errors.Is(err, ErrDeviceCodeExpired))
}

func TestDeviceLogin_UnknownErrorAborts(t *testing.T) {
	srv, polls := deviceTestServer(t, []deviceTokenResponse{{Error: "server_meltdown"}})
	defer srv.Close()

	m := newTestManager(t, srv.URL)

	da := &DeviceAuth{DeviceCode: "dev-123", ExpiresIn: 900, Interval: 5}
	err := m.WaitForDeviceToken(context.Background(), da)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server_meltdown")
	assert.Equal(t, int32(1), polls.Load())
}

func TestDeviceLogin_DeadlineFromExpiresIn(t *testing.T) {
	srv, _ := deviceTestServer(t, []deviceTokenResponse{{Error: errAuthorizationPending}})
	defer srv.Close()

	m := newTestManager(t, srv.URL)

	// Advance the clock past the deadline after the first poll.
	base := time.Date(2026, 8, 23, 10, 0, 0, 0, time.UTC)
	calls := 0
	m.now = func() time.Time {
		calls++
		if calls > 2 {
			return base.Add(time.Hour)
		}
		return base
	}

	da := &DeviceAuth{DeviceCode: "dev-123", ExpiresIn: 30, Interval: 5}
	err := m.WaitForDeviceToken(context.Background(), da)
	assert.True(t, errors.Is(err, ErrDeviceCodeExpired))
}

func TestDeviceLogin_Cancellable(t *testing.T) {
	srv, _ := deviceTestServer(t, []deviceTokenResponse{{Error: errAuthorizationPending}})
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())

	m := newTestManager(t, srv.URL)
	m.sleepFunc = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	da := &DeviceAuth{DeviceCode: "dev-123", ExpiresIn: 900, Interval: 5}
	err := m.WaitForDeviceToken(ctx, da)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
