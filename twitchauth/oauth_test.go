package twitchauth

import (
	"encoding/json"
	"net/url"
	"strings"
	"testing"
	"time"
)

func TestBuildAuthorizeURL(t *testing.T) {
	tests := []struct {
		name        string
		clientID    string
		redirectURI string
		scopes      string
		state       string
		wantErr     bool
		wantScope   string
	}{
		{
			name:        "basic",
			clientID:    "cid",
			redirectURI: "http://localhost:8080/auth/twitch/callback",
			scopes:      "user:write:chat",
			state:       "abc",
			wantScope:   "user:write:chat",
		},
		{
			name:        "comma separated scopes normalized",
			clientID:    "cid",
			redirectURI: "http://localhost/cb",
			scopes:      "user:write:chat,chat:read",
			wantScope:   "user:write:chat chat:read",
		},
		{
			name:    "missing client id",
			scopes:  "user:write:chat",
			wantErr: true,
		},
		{
			name:     "missing redirect uri",
			clientID: "cid",
			wantErr:  true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildAuthorizeURL(tt.clientID, tt.redirectURI, tt.scopes, tt.state)
			if tt.wantErr {
				if err == nil {
					t.Fatal("BuildAuthorizeURL() error = nil, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("BuildAuthorizeURL() error = %v", err)
			}
			u, err := url.Parse(got)
			if err != nil {
				t.Fatalf("result is not a URL: %v", err)
			}
			if !strings.HasPrefix(got, "https://id.twitch.tv/oauth2/authorize?") {
				t.Errorf("unexpected base: %s", got)
			}
			q := u.Query()
			if q.Get("response_type") != "code" {
				t.Errorf("response_type = %q, want code", q.Get("response_type"))
			}
			if q.Get("client_id") != tt.clientID {
				t.Errorf("client_id = %q, want %q", q.Get("client_id"), tt.clientID)
			}
			if q.Get("redirect_uri") != tt.redirectURI {
				t.Errorf("redirect_uri = %q, want %q", q.Get("redirect_uri"), tt.redirectURI)
			}
			if q.Get("scope") != tt.wantScope {
				t.Errorf("scope = %q, want %q", q.Get("scope"), tt.wantScope)
			}
			if q.Get("state") != tt.state {
				t.Errorf("state = %q, want %q", q.Get("state"), tt.state)
			}
		})
	}
}

func TestComputeExpiry(t *testing.T) {
	now := time.Now()

	got := ComputeExpiry(14400)
	want := now.Add(14100 * time.Second)
	if got.Before(want.Add(-2*time.Second)) || got.After(want.Add(2*time.Second)) {
		t.Errorf("ComputeExpiry(14400) = %v, want ~%v", got, want)
	}

	got = ComputeExpiry(0)
	want = now.Add(60 * time.Minute)
	if got.Before(want.Add(-2*time.Second)) || got.After(want.Add(2*time.Second)) {
		t.Errorf("ComputeExpiry(0) = %v, want ~%v", got, want)
	}
}

func TestScopeListUnmarshal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"json array", `["user:write:chat","chat:read"]`, []string{"user:write:chat", "chat:read"}},
		{"space delimited string", `"user:write:chat chat:read"`, []string{"user:write:chat", "chat:read"}},
		{"empty string", `""`, nil},
		{"null", `null`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got scopeList
			if err := json.Unmarshal([]byte(tt.in), &got); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.in, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Unmarshal(%s) = %v, want %v", tt.in, got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("Unmarshal(%s)[%d] = %q, want %q", tt.in, i, got[i], tt.want[i])
				}
			}
		})
	}
}
