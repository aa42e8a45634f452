package config

import (
	"errors"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, v := range []string{
		"CLIENT_ID", "CLIENT_SECRET", "TWITCH_REDIRECT_URI", "TWITCH_SCOPES",
		"EXTENSION_ID", "EXTENSION_SECRET", "BOT_ID", "STREAMER_CHANNEL_ID",
		"BOT_REFRESH_TOKEN", "DB_DSN", "HTTP_ADDR", "ORDER_COOLDOWN_SECONDS",
		"ORDER_COOLDOWN_ENABLED",
	} {
		t.Setenv(v, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TwitchScopes != "user:write:chat" {
		t.Errorf("TwitchScopes = %q, want default user:write:chat", cfg.TwitchScopes)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Errorf("HTTPAddr = %q, want :8080", cfg.HTTPAddr)
	}
	if cfg.OrderCooldown != 60*time.Second {
		t.Errorf("OrderCooldown = %v, want 60s", cfg.OrderCooldown)
	}
	if !cfg.OrderCooldownEnabled {
		t.Error("OrderCooldownEnabled = false, want enabled by default")
	}
}

func TestLoadCooldownDisabled(t *testing.T) {
	clearEnv(t)
	t.Setenv("ORDER_COOLDOWN_ENABLED", "0")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.OrderCooldownEnabled {
		t.Error("OrderCooldownEnabled = true, want disabled for 0")
	}
}

func TestLoadOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("CLIENT_ID", "cid")
	t.Setenv("TWITCH_SCOPES", "user:write:chat chat:read")
	t.Setenv("HTTP_ADDR", ":9999")
	t.Setenv("ORDER_COOLDOWN_SECONDS", "15")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.TwitchClientID != "cid" {
		t.Errorf("TwitchClientID = %q", cfg.TwitchClientID)
	}
	if cfg.TwitchScopes != "user:write:chat chat:read" {
		t.Errorf("TwitchScopes = %q", cfg.TwitchScopes)
	}
	if cfg.HTTPAddr != ":9999" {
		t.Errorf("HTTPAddr = %q", cfg.HTTPAddr)
	}
	if cfg.OrderCooldown != 15*time.Second {
		t.Errorf("OrderCooldown = %v, want 15s", cfg.OrderCooldown)
	}
}

func TestLoadInvalidCooldown(t *testing.T) {
	clearEnv(t)
	for _, v := range []string{"abc", "-5"} {
		t.Setenv("ORDER_COOLDOWN_SECONDS", v)
		if _, err := Load(); err == nil {
			t.Errorf("Load() with ORDER_COOLDOWN_SECONDS=%q should error", v)
		}
	}
}

func TestValidateOrderReady(t *testing.T) {
	cfg := &Config{}
	err := cfg.ValidateOrderReady()
	var missing *MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("ValidateOrderReady() error = %T, want *MissingError", err)
	}
	if len(missing.Vars) != 3 {
		t.Errorf("missing vars = %v, want CLIENT_ID BOT_ID STREAMER_CHANNEL_ID", missing.Vars)
	}

	cfg = &Config{TwitchClientID: "c", BotID: "b", StreamerChannelID: "s"}
	if err := cfg.ValidateOrderReady(); err != nil {
		t.Errorf("ValidateOrderReady() error = %v, want nil", err)
	}
}

func TestValidateRefreshReady(t *testing.T) {
	cfg := &Config{TwitchClientID: "c"}
	err := cfg.ValidateRefreshReady()
	var missing *MissingError
	if !errors.As(err, &missing) {
		t.Fatalf("ValidateRefreshReady() error = %T, want *MissingError", err)
	}
	if len(missing.Vars) != 1 || missing.Vars[0] != "CLIENT_SECRET" {
		t.Errorf("missing vars = %v, want [CLIENT_SECRET]", missing.Vars)
	}

	cfg.TwitchClientSecret = "s"
	if err := cfg.ValidateRefreshReady(); err != nil {
		t.Errorf("ValidateRefreshReady() error = %v, want nil", err)
	}
}
