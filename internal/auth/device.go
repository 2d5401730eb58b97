package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/odavl/odavl-go/internal/vault"
)

// Device-flow control signals sent by the token endpoint.
const (
	errAuthorizationPending = "authorization_pending"
	errSlowDown             = "slow_down"
	errAccessDenied         = "access_denied"
	errExpiredToken         = "expired_token"
)

// slowDownIncrement is the conventional interval bump on slow_down.
const slowDownIncrement = 5 * time.Second

// minPollInterval guards against a server-supplied interval of zero.
const minPollInterval = time.Second

// Device-flow terminal errors.
var (
	// ErrAuthorizationDenied: the user declined the authorization request.
	ErrAuthorizationDenied = errors.New("auth: authorization denied by user")
	// ErrDeviceCodeExpired: the device code expired before the user
	// authorized it.
	ErrDeviceCodeExpired = errors.New("auth: device code expired, start login again")
)

// DeviceAuth holds the device code response. UserCode and VerificationURI
// are displayed to the user; the rest drives the poll loop.
type DeviceAuth struct {
	DeviceCode      string `json:"device_code"`
	UserCode        string `json:"user_code"`
	VerificationURI string `json:"verification_uri"`
	ExpiresIn       int    `json:"expires_in"`
	Interval        int    `json:"interval"`
}

// deviceTokenResponse is the body of POST /auth/device/token.
type deviceTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	OrgID        string `json:"orgId"`
	UserID       string `json:"userId"`
	Error        string `json:"error,omitempty"`
}

// StartDeviceLogin requests a device code. The caller displays UserCode and
// VerificationURI, then calls WaitForDeviceToken to poll for completion.
func (m *Manager) StartDeviceLogin(ctx context.Context) (*DeviceAuth, error) {
	var da DeviceAuth

	status, err := m.postJSON(ctx, "/auth/device/code", map[string]string{}, &da)
	if err != nil {
		return nil, err
	}

	if status != http.StatusOK {
		return nil, fmt.Errorf("auth: device code request failed (HTTP %d)", status)
	}

	m.logger.Info("device code received",
		slog.String("verification_uri", da.VerificationURI),
		slog.Int("expires_in", da.ExpiresIn),
		slog.Int("interval", da.Interval),
	)

	return &da, nil
}

// WaitForDeviceToken polls the token endpoint at the server-specified
// interval until the user authorizes, denies, or the code expires. The
// server's control signals are honored: authorization_pending keeps the
// current interval, slow_down increases it by five seconds. Any other error
// aborts polling. On success the tokens are persisted to the vault.
//
// The loop has a hard deadline equal to the server-declared expires_in and
// is cancellable through ctx.
func (m *Manager) WaitForDeviceToken(ctx context.Context, da *DeviceAuth) error {
	interval := time.Duration(da.Interval) * time.Second
	if interval < minPollInterval {
		interval = minPollInterval
	}

	deadline := m.now().Add(time.Duration(da.ExpiresIn) * time.Second)

	m.logger.Info("waiting for user authorization",
		slog.Duration("interval", interval),
		slog.Time("deadline", deadline),
	)

	for m.now().Before(deadline) {
		if err := m.sleepFunc(ctx, interval); err != nil {
			return fmt.Errorf("auth: device login canceled: %w", err)
		}

		var resp deviceTokenResponse

		status, err := m.postJSON(ctx, "/auth/device/token", map[string]string{"device_code": da.DeviceCode}, &resp)
		if err != nil {
			// Transient transport failure: keep polling until the deadline.
			m.logger.Warn("device token poll failed, retrying",
				slog.String("error", err.Error()),
			)

			continue
		}

		// The token endpoint reports control signals in the body, not the
		// status code, so decode the body for 4xx responses too.
		if resp.Error == "" && status != http.StatusOK {
			return fmt.Errorf("auth: device token request failed (HTTP %d)", status)
		}

		switch resp.Error {
		case "":
			return m.persistDeviceTokens(&resp)
		case errAuthorizationPending:
			continue
		case errSlowDown:
			interval += slowDownIncrement

			m.logger.Debug("server requested slow down",
				slog.Duration("interval", interval),
			)

			continue
		case errAccessDenied:
			return ErrAuthorizationDenied
		case errExpiredToken:
			return ErrDeviceCodeExpired
		default:
			return fmt.Errorf("auth: device authorization failed: %s", resp.Error)
		}
	}

	return ErrDeviceCodeExpired
}

// persistDeviceTokens saves a successful device-token response to the vault.
func (m *Manager) persistDeviceTokens(resp *deviceTokenResponse) error {
	creds := &vault.Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: resp.RefreshToken,
		ExpiresAt:    m.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		OrgID:        resp.OrgID,
		UserID:       resp.UserID,
	}
	if err := m.vault.Save(creds); err != nil {
		return fmt.Errorf("auth: persisting device tokens: %w", err)
	}

	m.logger.Info("device login successful",
		slog.String("org_id", resp.OrgID),
		slog.String("user_id", resp.UserID),
		slog.Time("expires_at", creds.ExpiresAt),
	)

	return nil
}
