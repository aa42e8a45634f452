// Package twitchauth manages the single shared bot OAuth credential: an
// in-memory cache of the current access token and rotating refresh token,
// refresh via the refresh_token grant, and a one-shot retry wrapper for
// 401 responses from Helix.
//
// The expiry model is reactive: a cached access token is served without
// checking expiresAt, and a 401 from the resource API is the authoritative
// expiry signal. The computed expiry is kept only as a diagnostic hint.
package twitchauth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pawbrew/cat-cafe/backend/telemetry"
)

const (
	defaultTokenURL = "https://id.twitch.tv/oauth2/token" //nolint:gosec // G101: endpoint URL, not a credential

	// expirySafetyMargin is subtracted from expires_in when computing the
	// expiry hint, matching Twitch's guidance to refresh slightly early.
	expirySafetyMargin = 300 * time.Second

	refreshTimeout = 15 * time.Second
)

// DefaultRequiredScopes is the capability set a refreshed credential must
// carry to be usable for sending chat messages.
var DefaultRequiredScopes = []string{"user:write:chat"}

// ErrMissingConfig indicates absent client credentials or refresh secret.
// It is a configuration failure, not a network one, and is never retryable.
var ErrMissingConfig = errors.New("missing oauth client credentials or refresh token")

// RefreshFailureKind classifies why a refresh attempt failed.
type RefreshFailureKind string

const (
	// RefreshInvalidGrant means the refresh token itself was rejected. The
	// cached refresh secret is cleared and an operator must re-run the
	// interactive authorization flow. Not retryable.
	RefreshInvalidGrant RefreshFailureKind = "invalid_grant"
	// RefreshTransient covers network failures and unexpected statuses.
	// Retryable on the next GetValid/ForceRefresh call.
	RefreshTransient RefreshFailureKind = "transient"
	// RefreshInsufficientScope means the exchange succeeded but the granted
	// scopes lack a required one; the credential is useless and not cached.
	RefreshInsufficientScope RefreshFailureKind = "insufficient_scope"
)

// RefreshError is returned by refresh attempts with enough structure for the
// handler layer to map outcomes without re-deriving classification.
type RefreshError struct {
	Kind   RefreshFailureKind
	Status int    // HTTP status when applicable, else 0
	Detail string // diagnostic only; never shown to end callers
}

func (e *RefreshError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("token refresh failed (%s, status %d): %s", e.Kind, e.Status, e.Detail)
	}
	return fmt.Sprintf("token refresh failed (%s): %s", e.Kind, e.Detail)
}

// Retryable reports whether a later refresh attempt may succeed without
// operator intervention.
func (e *RefreshError) Retryable() bool { return e.Kind == RefreshTransient }

// TokenStore persists credential state across restarts. Implementations are
// optional; without one, a rotated refresh token survives only in memory and
// is surfaced to the operator via logs.
type TokenStore interface {
	Load(ctx context.Context) (access, refresh string, expiry time.Time, scope string, err error)
	Save(ctx context.Context, access, refresh string, expiry time.Time, scope string) error
}

// scopeList accepts both representations Twitch uses for granted scopes:
// a JSON array and a space-delimited string.
type scopeList []string

func (s *scopeList) UnmarshalJSON(b []byte) error {
	var arr []string
	if err := json.Unmarshal(b, &arr); err == nil {
		*s = arr
		return nil
	}
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return err
	}
	*s = strings.Fields(str)
	return nil
}

// RefreshResult is the outcome of a successful refresh exchange.
type RefreshResult struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresIn    int       `json:"expires_in"`
	Scope        scopeList `json:"scope"`
}

// Manager is the process-wide holder of the bot credential. Construct one at
// startup and pass it by reference; all fields below mu are guarded by it.
type Manager struct {
	ClientID         string
	ClientSecret     string
	SeedRefreshToken string       // cold-start fallback from env
	RequiredScopes   []string     // defaults to DefaultRequiredScopes when nil
	Store            TokenStore   // optional persistence hook
	HTTPClient       *http.Client // defaults to a client with refreshTimeout
	TokenURL         string       // defaults to the Twitch token endpoint

	mu           sync.Mutex
	accessToken  string
	refreshToken string
	expiresAt    time.Time
	storeChecked bool
}

func (m *Manager) httpClient() *http.Client {
	if m.HTTPClient != nil {
		return m.HTTPClient
	}
	return &http.Client{Timeout: refreshTimeout}
}

func (m *Manager) tokenURL() string {
	if m.TokenURL != "" {
		return m.TokenURL
	}
	return defaultTokenURL
}

func (m *Manager) requiredScopes() []string {
	if m.RequiredScopes != nil {
		return m.RequiredScopes
	}
	return DefaultRequiredScopes
}

// GetValid returns the cached access token, refreshing only when none is
// cached. No expiry comparison happens here: expiry is detected reactively
// via 401 and recovered by Do/ForceRefresh.
func (m *Manager) GetValid(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.accessToken != "" {
		return m.accessToken, nil
	}
	slog.Debug("no cached access token, refreshing")
	return m.refreshLocked(ctx)
}

// ForceRefresh unconditionally refreshes the credential, overwriting the
// cache. Called exactly once per failed request as the 401 recovery path.
func (m *Manager) ForceRefresh(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.refreshLocked(ctx)
}

// Reset clears all cached credential state. Test isolation only.
func (m *Manager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = ""
	m.refreshToken = ""
	m.expiresAt = time.Time{}
	m.storeChecked = false
}

// Adopt installs externally obtained credentials (e.g. from the interactive
// authorization callback) into the cache.
func (m *Manager) Adopt(access, refresh string, expiry time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accessToken = access
	if refresh != "" {
		m.refreshToken = refresh
	}
	m.expiresAt = expiry
}

// ExpiryHint returns the computed expiry of the cached token. Diagnostic
// only; never consulted on the request path.
func (m *Manager) ExpiryHint() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.expiresAt
}

// refreshLocked performs the refresh_token exchange. Callers hold mu, which
// serializes concurrent refreshes so racing 401 handlers share the provider
// round trips instead of stampeding.
func (m *Manager) refreshLocked(ctx context.Context) (string, error) {
	if err := m.resolveRefreshTokenLocked(ctx); err != nil {
		return "", err
	}
	if m.ClientID == "" || m.ClientSecret == "" || m.refreshToken == "" {
		return "", ErrMissingConfig
	}
	usedRefreshToken := m.refreshToken

	form := url.Values{}
	form.Set("client_id", m.ClientID)
	form.Set("client_secret", m.ClientSecret)
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", usedRefreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL(), strings.NewReader(form.Encode()))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.httpClient().Do(req)
	if err != nil {
		telemetry.CountTokenRefresh(string(RefreshTransient))
		return "", &RefreshError{Kind: RefreshTransient, Detail: err.Error()}
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()

	if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized {
		// The grant itself is invalid; it will never work again.
		b, _ := io.ReadAll(resp.Body)
		m.refreshToken = ""
		telemetry.CountTokenRefresh(string(RefreshInvalidGrant))
		slog.Error("refresh token rejected; re-run the authorization flow to obtain a new BOT_REFRESH_TOKEN",
			slog.Int("status", resp.StatusCode))
		return "", &RefreshError{Kind: RefreshInvalidGrant, Status: resp.StatusCode, Detail: string(b)}
	}
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		telemetry.CountTokenRefresh(string(RefreshTransient))
		return "", &RefreshError{Kind: RefreshTransient, Status: resp.StatusCode, Detail: string(b)}
	}

	var res RefreshResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		telemetry.CountTokenRefresh(string(RefreshTransient))
		return "", &RefreshError{Kind: RefreshTransient, Detail: "decode token response: " + err.Error()}
	}
	if res.AccessToken == "" {
		telemetry.CountTokenRefresh(string(RefreshTransient))
		return "", &RefreshError{Kind: RefreshTransient, Detail: "empty access_token in token response"}
	}

	// Twitch may rotate the refresh token on any refresh. Adopt the new one
	// before anything else can fail: losing it invalidates all future
	// refreshes. Absence of a rotation means the previous value stays valid.
	rotated := res.RefreshToken != "" && res.RefreshToken != usedRefreshToken
	if rotated {
		slog.Warn("new refresh token received from Twitch; update BOT_REFRESH_TOKEN if not using a token store")
		m.refreshToken = res.RefreshToken
	}

	if missing := missingScopes(res.Scope, m.requiredScopes()); len(missing) > 0 {
		// The exchange worked but the credential is useless. Leave the cached
		// access token untouched so GetValid never serves a known-bad value.
		// The rotated secret still goes to the store: a restart before the
		// next successful refresh must not cold-start from the rotated-out
		// value.
		if rotated && m.Store != nil {
			if err := m.Store.Save(ctx, m.accessToken, m.refreshToken, m.expiresAt, strings.Join(res.Scope, " ")); err != nil {
				slog.Warn("token persist failed", slog.Any("err", err))
			}
		}
		telemetry.CountTokenRefresh(string(RefreshInsufficientScope))
		return "", &RefreshError{
			Kind:   RefreshInsufficientScope,
			Detail: fmt.Sprintf("granted scopes %v missing required %v", []string(res.Scope), missing),
		}
	}

	m.accessToken = res.AccessToken
	m.expiresAt = time.Now().Add(time.Duration(res.ExpiresIn)*time.Second - expirySafetyMargin)
	telemetry.CountTokenRefresh("success")
	slog.Info("bot token refreshed", slog.Time("expiry_hint", m.expiresAt))

	if m.Store != nil {
		if err := m.Store.Save(ctx, m.accessToken, m.refreshToken, m.expiresAt, strings.Join(res.Scope, " ")); err != nil {
			// Persistence is best effort; the in-memory state is authoritative.
			slog.Warn("token persist failed", slog.Any("err", err))
		}
	}
	return m.accessToken, nil
}

// resolveRefreshTokenLocked fills m.refreshToken on cold start: prefer the
// persisted value, then the env seed.
func (m *Manager) resolveRefreshTokenLocked(ctx context.Context) error {
	if m.refreshToken != "" {
		return nil
	}
	if m.Store != nil && !m.storeChecked {
		m.storeChecked = true
		_, refresh, _, _, err := m.Store.Load(ctx)
		if err != nil {
			slog.Warn("token store load failed, falling back to env seed", slog.Any("err", err))
		} else if refresh != "" {
			m.refreshToken = refresh
			return nil
		}
	}
	m.refreshToken = m.SeedRefreshToken
	return nil
}

func missingScopes(granted, required []string) []string {
	have := make(map[string]bool, len(granted))
	for _, s := range granted {
		have[s] = true
	}
	var missing []string
	for _, s := range required {
		if !have[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
