package helix

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/pawbrew/cat-cafe/backend/extjwt"
	"github.com/pawbrew/cat-cafe/backend/testutil"
	"github.com/pawbrew/cat-cafe/backend/twitchauth"
)

const testExtSecretB64 = "c2VjcmV0" // base64 for "secret"

func newTestClient(t *testing.T, mock *testutil.MockTwitchServer) *Client {
	t.Helper()
	signer, err := extjwt.NewSigner(testExtSecretB64)
	if err != nil {
		t.Fatalf("NewSigner() error = %v", err)
	}
	return &Client{
		ClientID:    "test-client",
		ExtensionID: "test-ext",
		Tokens: &twitchauth.Manager{
			ClientID:         "test-client",
			ClientSecret:     "test-secret",
			SeedRefreshToken: "seed-refresh",
			TokenURL:         mock.URL + "/oauth2/token",
		},
		Signer:  signer,
		BaseURL: mock.URL,
	}
}

func TestSendChatMessage(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.HandleTokenRefresh("AT", "", 3600, []string{"user:write:chat"})

	var gotBody map[string]string
	var gotAuth, gotClientID string
	mock.Handle(http.MethodPost, "/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotClientID = r.Header.Get("Client-Id")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})

	c := newTestClient(t, mock)
	retried, err := c.SendChatMessage(context.Background(), "123", "999", "☕ @alice just ordered Latte!")
	if err != nil {
		t.Fatalf("SendChatMessage() error = %v", err)
	}
	if retried {
		t.Error("retried = true, want false on clean 200")
	}
	if gotAuth != "Bearer AT" {
		t.Errorf("Authorization = %q, want Bearer AT", gotAuth)
	}
	if gotClientID != "test-client" {
		t.Errorf("Client-Id = %q, want test-client", gotClientID)
	}
	if gotBody["broadcaster_id"] != "123" || gotBody["sender_id"] != "999" {
		t.Errorf("body = %v, want broadcaster 123 sender 999", gotBody)
	}
}

func TestSendChatMessageRetriesOn401(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.HandleTokenRefresh("AT", "", 3600, []string{"user:write:chat"})

	calls := 0
	mock.Handle(http.MethodPost, "/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	})

	c := newTestClient(t, mock)
	retried, err := c.SendChatMessage(context.Background(), "123", "999", "hi")
	if err != nil {
		t.Fatalf("SendChatMessage() error = %v", err)
	}
	if !retried {
		t.Error("retried = false, want true")
	}
	if calls != 2 {
		t.Errorf("chat calls = %d, want 2", calls)
	}
	if mock.Hits(http.MethodPost, "/oauth2/token") != 2 {
		t.Errorf("token refreshes = %d, want 2 (initial + forced)", mock.Hits(http.MethodPost, "/oauth2/token"))
	}
}

func TestSendChatMessageAPIError(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.HandleTokenRefresh("AT", "", 3600, []string{"user:write:chat"})
	mock.HandleChatMessages(http.StatusForbidden)

	c := newTestClient(t, mock)
	_, err := c.SendChatMessage(context.Background(), "123", "999", "hi")
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("SendChatMessage() error = %T, want *APIError", err)
	}
	if apiErr.Status != http.StatusForbidden {
		t.Errorf("Status = %d, want 403", apiErr.Status)
	}
}

func TestSendChatMessageValidatesInput(t *testing.T) {
	c := &Client{}
	if _, err := c.SendChatMessage(context.Background(), "", "999", "hi"); err == nil {
		t.Error("missing broadcaster should error before any network call")
	}
	if _, err := c.SendChatMessage(context.Background(), "123", "999", ""); err == nil {
		t.Error("empty message should error before any network call")
	}
}

func TestGetBroadcasterConfig(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)

	var gotQuery map[string]string
	mock.Handle(http.MethodGet, "/extensions/configurations", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		gotQuery = map[string]string{
			"extension_id":   q.Get("extension_id"),
			"segment":        q.Get("segment"),
			"broadcaster_id": q.Get("broadcaster_id"),
		}
		// Configuration service calls carry a freshly minted extension JWT,
		// not the bot OAuth token.
		signer, _ := extjwt.NewSigner(testExtSecretB64)
		token := r.Header.Get("Authorization")[len("Bearer "):]
		if _, err := signer.Verify(token); err != nil {
			t.Errorf("config call bearer is not a valid extension JWT: %v", err)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"content": `{"menuItems":[]}`}},
		})
	})

	c := newTestClient(t, mock)
	content, err := c.GetBroadcasterConfig(context.Background(), "123")
	if err != nil {
		t.Fatalf("GetBroadcasterConfig() error = %v", err)
	}
	if content != `{"menuItems":[]}` {
		t.Errorf("content = %q", content)
	}
	if gotQuery["extension_id"] != "test-ext" || gotQuery["segment"] != "broadcaster" || gotQuery["broadcaster_id"] != "123" {
		t.Errorf("query = %v", gotQuery)
	}
}

func TestGetBroadcasterConfigNeverSet(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)
	mock.HandleBroadcasterConfig("")

	c := newTestClient(t, mock)
	content, err := c.GetBroadcasterConfig(context.Background(), "123")
	if err != nil {
		t.Fatalf("GetBroadcasterConfig() error = %v", err)
	}
	if content != "" {
		t.Errorf("content = %q, want empty for never-set segment", content)
	}
}

func TestBroadcasterConfigUnconfiguredSigner(t *testing.T) {
	c := &Client{}
	if _, err := c.GetBroadcasterConfig(context.Background(), "123"); !errors.Is(err, extjwt.ErrUnconfigured) {
		t.Errorf("GetBroadcasterConfig() error = %v, want ErrUnconfigured", err)
	}
	if err := c.SetBroadcasterConfig(context.Background(), "123", "{}"); !errors.Is(err, extjwt.ErrUnconfigured) {
		t.Errorf("SetBroadcasterConfig() error = %v, want ErrUnconfigured", err)
	}
}

func TestSetBroadcasterConfig(t *testing.T) {
	mock := testutil.NewMockTwitchServer(t)

	var gotBody map[string]string
	mock.Handle(http.MethodPut, "/extensions/configurations", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.WriteHeader(http.StatusNoContent)
	})

	c := newTestClient(t, mock)
	if err := c.SetBroadcasterConfig(context.Background(), "123", `{"menuItems":[]}`); err != nil {
		t.Fatalf("SetBroadcasterConfig() error = %v", err)
	}
	if gotBody["extension_id"] != "test-ext" || gotBody["segment"] != "broadcaster" ||
		gotBody["broadcaster_id"] != "123" || gotBody["content"] != `{"menuItems":[]}` {
		t.Errorf("body = %v", gotBody)
	}
}
