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
	"time"
)

// Endpoints for the interactive authorization flow used to seed the bot's
// refresh token (the backend itself only ever uses the refresh_token grant).
const (
	authorizeURL = "https://id.twitch.tv/oauth2/authorize"
	validateURL  = "https://id.twitch.tv/oauth2/validate"
)

// AuthCodeExchangeResult is the response of an authorization_code grant.
type AuthCodeExchangeResult struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token"`
	TokenType    string    `json:"token_type"`
	Scope        scopeList `json:"scope"`
	ExpiresIn    int       `json:"expires_in"`
}

// BuildAuthorizeURL constructs the user authorization URL for the OAuth code
// grant that seeds BOT_REFRESH_TOKEN.
func BuildAuthorizeURL(clientID, redirectURI, scopes, state string) (string, error) {
	if clientID == "" || redirectURI == "" {
		return "", errors.New("missing clientID or redirectURI")
	}
	v := url.Values{}
	v.Set("response_type", "code")
	v.Set("client_id", clientID)
	v.Set("redirect_uri", redirectURI)
	if scopes != "" {
		v.Set("scope", strings.TrimSpace(strings.ReplaceAll(scopes, ",", " ")))
	}
	if state != "" {
		v.Set("state", state)
	}
	return authorizeURL + "?" + v.Encode(), nil
}

// ExchangeAuthCode exchanges an authorization code for access & refresh tokens.
func ExchangeAuthCode(ctx context.Context, clientID, clientSecret, code, redirectURI string) (*AuthCodeExchangeResult, error) {
	if clientID == "" || clientSecret == "" || code == "" || redirectURI == "" {
		return nil, errors.New("missing required parameter for auth code exchange")
	}
	form := url.Values{}
	form.Set("client_id", clientID)
	form.Set("client_secret", clientSecret)
	form.Set("code", code)
	form.Set("grant_type", "authorization_code")
	form.Set("redirect_uri", redirectURI)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, defaultTokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("twitch auth code exchange failed: %s: %s", resp.Status, string(b))
	}
	var res AuthCodeExchangeResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}

// ComputeExpiry returns the expiry hint for a token issued now, applying the
// same safety margin the refresher uses. Defaults to +60m when unknown.
func ComputeExpiry(seconds int) time.Time {
	if seconds <= 0 {
		return time.Now().Add(60 * time.Minute)
	}
	return time.Now().Add(time.Duration(seconds)*time.Second - expirySafetyMargin)
}

// ValidateResult describes a token per the Twitch validate endpoint.
type ValidateResult struct {
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`
	ClientID  string   `json:"client_id"`
}

// Validate checks a token against the Twitch validate endpoint. Used by the
// seeding flow to confirm scopes before storing; never on the request path.
func Validate(ctx context.Context, token string) (*ValidateResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, validateURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "OAuth "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			slog.Warn("failed to close response body", slog.Any("err", err))
		}
	}()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token validation failed: %s: %s", resp.Status, string(b))
	}
	var res ValidateResult
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, err
	}
	return &res, nil
}
