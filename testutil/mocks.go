// Package testutil provides shared test helpers: a mock Twitch server for
// Helix and OAuth endpoints.
package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// MockTwitchServer mocks Twitch API responses. Handlers are keyed by
// "METHOD /path"; unmatched requests return 404.
type MockTwitchServer struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	hits     map[string]int
}

// NewMockTwitchServer creates a mock server that is closed with the test.
func NewMockTwitchServer(t *testing.T) *MockTwitchServer {
	t.Helper()
	m := &MockTwitchServer{
		handlers: make(map[string]http.HandlerFunc),
		hits:     make(map[string]int),
	}
	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		m.mu.Lock()
		handler, ok := m.handlers[key]
		m.hits[key]++
		m.mu.Unlock()
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(m.Close)
	return m
}

// Handle registers a handler for a method and path.
func (m *MockTwitchServer) Handle(method, path string, fn http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[method+" "+path] = fn
}

// Hits returns how many times a method+path was requested.
func (m *MockTwitchServer) Hits(method, path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.hits[method+" "+path]
}

// HandleTokenRefresh registers a static successful refresh_token response.
func (m *MockTwitchServer) HandleTokenRefresh(accessToken, refreshToken string, expiresIn int, scopes []string) {
	m.Handle(http.MethodPost, "/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		resp := map[string]any{
			"access_token": accessToken,
			"expires_in":   expiresIn,
			"scope":        scopes,
			"token_type":   "bearer",
		}
		if refreshToken != "" {
			resp["refresh_token"] = refreshToken
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
}

// HandleChatMessages registers a chat message endpoint returning the given
// status for every call.
func (m *MockTwitchServer) HandleChatMessages(status int) {
	m.Handle(http.MethodPost, "/chat/messages", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	})
}

// HandleBroadcasterConfig registers a configuration service read returning
// the given segment content ("" simulates a never-set segment).
func (m *MockTwitchServer) HandleBroadcasterConfig(content string) {
	m.Handle(http.MethodGet, "/extensions/configurations", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if content == "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []any{}})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"content": content}},
		})
	})
}
