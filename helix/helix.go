// Package helix contains minimal helpers for the Twitch Helix endpoints the
// extension backend uses: sending chat messages as the bot and reading or
// writing the extension configuration service.
package helix

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/pawbrew/cat-cafe/backend/extjwt"
	"github.com/pawbrew/cat-cafe/backend/twitchauth"
)

const defaultBaseURL = "https://api.twitch.tv/helix"

// APIError is a non-success Helix response. Detail holds the provider body
// for logs; handlers must map Status to a coarse outcome and never expose
// Detail to end callers.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("helix request failed: status %d: %s", e.Status, e.Detail)
}

// Client calls Helix on behalf of the extension. Chat messages authenticate
// with the bot's OAuth token (via the 401-retry cycle in Tokens.Do);
// configuration service calls authenticate with a freshly minted extension JWT.
type Client struct {
	ClientID    string
	ExtensionID string
	Tokens      *twitchauth.Manager
	Signer      *extjwt.Signer
	HTTPClient  *http.Client
	BaseURL     string // override for tests
}

func (c *Client) http() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) baseURL() string {
	if c.BaseURL != "" {
		return c.BaseURL
	}
	return defaultBaseURL
}

// SendChatMessage posts a message to the broadcaster's chat as the bot.
// retried reports whether the one-shot 401 recovery cycle ran.
func (c *Client) SendChatMessage(ctx context.Context, broadcasterID, senderID, message string) (retried bool, err error) {
	if broadcasterID == "" || senderID == "" || message == "" {
		return false, fmt.Errorf("broadcasterID, senderID and message are required")
	}
	body, err := json.Marshal(map[string]string{
		"broadcaster_id": broadcasterID,
		"sender_id":      senderID,
		"message":        message,
	})
	if err != nil {
		return false, err
	}

	resp, retried, err := c.Tokens.Do(ctx, func(ctx context.Context, token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL()+"/chat/messages", bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Client-Id", c.ClientID)
		req.Header.Set("Authorization", "Bearer "+token)
		req.Header.Set("Content-Type", "application/json")
		return c.http().Do(req)
	})
	if err != nil {
		return retried, err
	}
	defer closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return retried, &APIError{Status: resp.StatusCode, Detail: string(b)}
	}
	// Always consume the body so the connection is reusable.
	_, _ = io.Copy(io.Discard, resp.Body)
	return retried, nil
}

// GetBroadcasterConfig fetches the broadcaster configuration segment content
// for a channel. Returns "" when the segment has never been set.
func (c *Client) GetBroadcasterConfig(ctx context.Context, channelID string) (string, error) {
	if c.Signer == nil {
		return "", extjwt.ErrUnconfigured
	}
	token, err := c.Signer.Issue(channelID)
	if err != nil {
		return "", err
	}
	u := fmt.Sprintf("%s/extensions/configurations?extension_id=%s&segment=broadcaster&broadcaster_id=%s",
		c.baseURL(), url.QueryEscape(c.ExtensionID), url.QueryEscape(channelID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("Client-Id", c.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := c.http().Do(req)
	if err != nil {
		return "", err
	}
	defer closeBody(resp)

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", &APIError{Status: resp.StatusCode, Detail: string(b)}
	}
	var body struct {
		Data []struct {
			Content string `json:"content"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", err
	}
	if len(body.Data) == 0 {
		return "", nil
	}
	return body.Data[0].Content, nil
}

// SetBroadcasterConfig writes the broadcaster configuration segment content
// for a channel.
func (c *Client) SetBroadcasterConfig(ctx context.Context, channelID, content string) error {
	if c.Signer == nil {
		return extjwt.ErrUnconfigured
	}
	token, err := c.Signer.Issue(channelID)
	if err != nil {
		return err
	}
	body, err := json.Marshal(map[string]string{
		"extension_id":   c.ExtensionID,
		"segment":        "broadcaster",
		"broadcaster_id": channelID,
		"content":        content,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL()+"/extensions/configurations", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Client-Id", c.ClientID)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http().Do(req)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{Status: resp.StatusCode, Detail: string(b)}
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func closeBody(resp *http.Response) {
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
