package twitchauth

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// scriptedAPI serves a fixed sequence of status codes for an authenticated
// endpoint, recording the bearer token of each call.
type scriptedAPI struct {
	statuses []int
	calls    int
	tokens   []string
}

func (s *scriptedAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.tokens = append(s.tokens, strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		status := s.statuses[len(s.statuses)-1]
		if s.calls < len(s.statuses) {
			status = s.statuses[s.calls]
		}
		s.calls++
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{}`))
	}
}

func callVia(client *http.Client, apiURL string) AuthorizedCall {
	return func(ctx context.Context, token string) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, strings.NewReader("{}"))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Authorization", "Bearer "+token)
		return client.Do(req)
	}
}

func TestDoRetriesOnceOn401(t *testing.T) {
	refreshes := 0
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		access := "AT1"
		if refreshes > 1 {
			access = "AT2"
		}
		_ = json.NewEncoder(w).Encode(refreshResponse(access, "", 3600, []string{"user:write:chat"}))
	}))
	defer tokenServer.Close()

	api := &scriptedAPI{statuses: []int{http.StatusUnauthorized, http.StatusOK}}
	apiServer := httptest.NewServer(api.handler())
	defer apiServer.Close()

	m := newTestManager(tokenServer.URL)
	resp, retried, err := m.Do(context.Background(), callVia(apiServer.Client(), apiServer.URL))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if !retried {
		t.Error("retried = false, want true after 401 recovery")
	}
	if refreshes != 2 {
		t.Errorf("refreshes = %d, want 2 (initial + forced)", refreshes)
	}
	if api.calls != 2 {
		t.Errorf("api calls = %d, want 2", api.calls)
	}
	if len(api.tokens) != 2 || api.tokens[0] != "AT1" || api.tokens[1] != "AT2" {
		t.Errorf("tokens used = %v, want [AT1 AT2]", api.tokens)
	}
}

func TestDoNoSecondRetryOn401Twice(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(refreshResponse("AT", "", 3600, []string{"user:write:chat"}))
	}))
	defer tokenServer.Close()

	api := &scriptedAPI{statuses: []int{http.StatusUnauthorized, http.StatusUnauthorized}}
	apiServer := httptest.NewServer(api.handler())
	defer apiServer.Close()

	m := newTestManager(tokenServer.URL)
	resp, retried, err := m.Do(context.Background(), callVia(apiServer.Client(), apiServer.URL))
	if err != nil {
		t.Fatalf("Do() error = %v", err)
	}
	defer func() { _, _ = io.Copy(io.Discard, resp.Body); _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want the second 401 surfaced", resp.StatusCode)
	}
	if !retried {
		t.Error("retried = false, want true")
	}
	if api.calls != 2 {
		t.Errorf("api calls = %d, want exactly 2 (no third attempt)", api.calls)
	}
}

func TestDoNon401NotRetried(t *testing.T) {
	refreshes := 0
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		_ = json.NewEncoder(w).Encode(refreshResponse("AT", "", 3600, []string{"user:write:chat"}))
	}))
	defer tokenServer.Close()

	for _, status := range []int{http.StatusForbidden, http.StatusTooManyRequests, http.StatusInternalServerError} {
		api := &scriptedAPI{statuses: []int{status}}
		apiServer := httptest.NewServer(api.handler())

		m := newTestManager(tokenServer.URL)
		resp, retried, err := m.Do(context.Background(), callVia(apiServer.Client(), apiServer.URL))
		if err != nil {
			t.Fatalf("Do() status %d error = %v", status, err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()

		if resp.StatusCode != status {
			t.Errorf("status = %d, want %d surfaced as-is", resp.StatusCode, status)
		}
		if retried {
			t.Errorf("retried = true for status %d, want false", status)
		}
		if api.calls != 1 {
			t.Errorf("api calls = %d for status %d, want 1", api.calls, status)
		}
		apiServer.Close()
	}
}

func TestDoRefreshFailureAfter401(t *testing.T) {
	refreshes := 0
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshes++
		if refreshes == 1 {
			_ = json.NewEncoder(w).Encode(refreshResponse("AT", "", 3600, []string{"user:write:chat"}))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenServer.Close()

	api := &scriptedAPI{statuses: []int{http.StatusUnauthorized}}
	apiServer := httptest.NewServer(api.handler())
	defer apiServer.Close()

	m := newTestManager(tokenServer.URL)
	_, retried, err := m.Do(context.Background(), callVia(apiServer.Client(), apiServer.URL))
	if err == nil {
		t.Fatal("Do() error = nil, want refresh failure surfaced")
	}
	if !retried {
		t.Error("retried = false, want true (recovery was attempted)")
	}
	if api.calls != 1 {
		t.Errorf("api calls = %d, want 1 (no retry without a fresh token)", api.calls)
	}
}
