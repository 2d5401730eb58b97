// Package auth performs login against the odavl backend and supplies
// authentication headers for outbound requests. Two login modes are
// supported: synchronous API-key validation and the device authorization
// flow (a code is displayed to the user, who authorizes it out-of-band
// while the client polls for completion).
package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/odavl/odavl-go/internal/config"
	"github.com/odavl/odavl-go/internal/vault"
)

// Sentinel errors surfaced to callers.
var (
	// ErrNotAuthenticated: no usable credentials. The caller must log in.
	ErrNotAuthenticated = errors.New("auth: not authenticated (run login)")
	// ErrReauthRequired: the refresh token was rejected and the vault has
	// been cleared. The caller must log in again.
	ErrReauthRequired = errors.New("auth: session expired, re-authentication required")
	// ErrInvalidAPIKey: the backend rejected the supplied API key.
	ErrInvalidAPIKey = errors.New("auth: invalid API key")
)

// Headers used for the two credential kinds. API keys are long-lived and
// intended for automation, so they take precedence over access tokens.
const (
	apiKeyHeader = "X-Api-Key"
	authHeader   = "Authorization"
)

// Manager performs login, token refresh, and header construction.
// It talks to the auth endpoints directly (they are the one surface that
// cannot depend on the resilient client, which needs a Manager itself).
type Manager struct {
	baseURL    string
	httpClient *http.Client
	vault      *vault.Vault
	logger     *slog.Logger

	// sleepFunc is called between device-flow poll attempts.
	// Tests override this to avoid real delays.
	sleepFunc func(ctx context.Context, d time.Duration) error

	// getenv resolves environment overrides. Tests override this.
	getenv func(string) string

	// now is the clock used for expiry arithmetic. Tests override it.
	now func() time.Time
}

// NewManager creates a Manager backed by the given vault.
func NewManager(baseURL string, httpClient *http.Client, v *vault.Vault, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Manager{
		baseURL:    baseURL,
		httpClient: httpClient,
		vault:      v,
		logger:     logger,
		sleepFunc:  timeSleep,
		getenv:     os.Getenv,
		now:        time.Now,
	}
}

// validateResponse is the body of POST /auth/validate.
type validateResponse struct {
	Valid  bool   `json:"valid"`
	OrgID  string `json:"orgId"`
	UserID string `json:"userId"`
}

// LoginWithAPIKey validates the key against the backend and persists it on
// success.
func (m *Manager) LoginWithAPIKey(ctx context.Context, key string) error {
	m.logger.Info("validating API key")

	var resp validateResponse

	status, err := m.postJSON(ctx, "/auth/validate", map[string]string{"apiKey": key}, &resp)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized || (status == http.StatusOK && !resp.Valid) {
		return ErrInvalidAPIKey
	}

	if status != http.StatusOK {
		return fmt.Errorf("auth: API key validation failed (HTTP %d)", status)
	}

	creds := &vault.Credentials{
		APIKey: key,
		OrgID:  resp.OrgID,
		UserID: resp.UserID,
	}
	if err := m.vault.Save(creds); err != nil {
		return fmt.Errorf("auth: persisting credentials: %w", err)
	}

	m.logger.Info("API key login successful",
		slog.String("org_id", resp.OrgID),
		slog.String("user_id", resp.UserID),
	)

	return nil
}

// refreshResponse is the body of POST /auth/refresh.
type refreshResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// RefreshAccessToken exchanges the stored refresh token for a new access
// token. A 401 here means the refresh token itself is no longer valid: the
// vault is cleared and ErrReauthRequired returned — never silently retried.
func (m *Manager) RefreshAccessToken(ctx context.Context) error {
	creds, err := m.vault.Load()
	if err != nil {
		return fmt.Errorf("auth: loading credentials: %w", err)
	}

	if creds == nil || creds.RefreshToken == "" {
		return ErrNotAuthenticated
	}

	var resp refreshResponse

	status, err := m.postJSON(ctx, "/auth/refresh", map[string]string{"refresh_token": creds.RefreshToken}, &resp)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized {
		m.logger.Warn("refresh token rejected, clearing vault")

		if clearErr := m.vault.Clear(); clearErr != nil {
			return fmt.Errorf("auth: clearing vault after rejected refresh: %w", clearErr)
		}

		return ErrReauthRequired
	}

	if status != http.StatusOK {
		return fmt.Errorf("auth: token refresh failed (HTTP %d)", status)
	}

	refreshToken := resp.RefreshToken
	if refreshToken == "" {
		refreshToken = creds.RefreshToken
	}

	updated := &vault.Credentials{
		AccessToken:  resp.AccessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    m.now().Add(time.Duration(resp.ExpiresIn) * time.Second),
		OrgID:        creds.OrgID,
		UserID:       creds.UserID,
	}
	if err := m.vault.Save(updated); err != nil {
		return fmt.Errorf("auth: persisting refreshed credentials: %w", err)
	}

	m.logger.Info("access token refreshed",
		slog.Time("expires_at", updated.ExpiresAt),
	)

	return nil
}

// Headers returns the authentication headers for an outbound request.
// Precedence: environment API key, persisted API key, access token
// (refreshed if expired and a refresh token is available). Fails with
// ErrNotAuthenticated rather than returning an empty header set.
func (m *Manager) Headers(ctx context.Context) (map[string]string, error) {
	if key := m.getenv(config.EnvAPIKey); key != "" {
		return map[string]string{apiKeyHeader: key}, nil
	}

	creds, err := m.vault.Load()
	if err != nil {
		return nil, fmt.Errorf("auth: loading credentials: %w", err)
	}

	if creds == nil {
		return nil, ErrNotAuthenticated
	}

	if creds.APIKey != "" {
		return map[string]string{apiKeyHeader: creds.APIKey}, nil
	}

	if creds.AccessToken == "" {
		return nil, ErrNotAuthenticated
	}

	expired := !creds.ExpiresAt.IsZero() && !m.now().Before(creds.ExpiresAt)
	if expired {
		if err := m.RefreshAccessToken(ctx); err != nil {
			return nil, err
		}

		creds, err = m.vault.Load()
		if err != nil || creds == nil {
			return nil, ErrNotAuthenticated
		}
	}

	return map[string]string{authHeader: "Bearer " + creds.AccessToken}, nil
}

// Identity returns the stored org and user IDs, or ErrNotAuthenticated.
func (m *Manager) Identity() (orgID, userID string, err error) {
	creds, err := m.vault.Load()
	if err != nil {
		return "", "", fmt.Errorf("auth: loading credentials: %w", err)
	}

	if creds == nil {
		return "", "", ErrNotAuthenticated
	}

	return creds.OrgID, creds.UserID, nil
}

// Logout deletes the persisted credentials.
func (m *Manager) Logout() error {
	if err := m.vault.Clear(); err != nil {
		return fmt.Errorf("auth: clearing vault: %w", err)
	}

	m.logger.Info("logged out, credentials cleared")

	return nil
}

// postJSON posts a JSON body to the given auth endpoint and decodes the
// response into out. The device token endpoint reports control signals in
// 4xx bodies (RFC 8628 section 3.5), so decoding is attempted for every
// status; a malformed body is only an error on 2xx responses.
// Returns the HTTP status code.
func (m *Manager) postJSON(ctx context.Context, path string, in, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, fmt.Errorf("auth: encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("auth: creating request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("auth: %s request failed: %w", path, err)
	}
	defer resp.Body.Close()

	if out != nil {
		decodeErr := json.NewDecoder(resp.Body).Decode(out)
		if decodeErr != nil && resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
			return resp.StatusCode, fmt.Errorf("auth: decoding %s response: %w", path, decodeErr)
		}
	}

	return resp.StatusCode, nil
}

// timeSleep waits for the given duration or until the context is canceled.
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
