// Package config loads environment variables and provides a typed Config used across the service.
// It applies sensible defaults so the binary can run locally with minimal setup.
// Required credentials are checked lazily with the Validate* helpers so that
// missing values fail the affected request path, not process startup.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// MissingError reports absent required environment variables. It is distinct
// from runtime/network errors so handlers can map it to a server-config outcome.
type MissingError struct {
	Vars []string
}

func (e *MissingError) Error() string {
	return fmt.Sprintf("missing required environment variables: %v", e.Vars)
}

type Config struct {
	// Twitch application
	TwitchClientID     string
	TwitchClientSecret string
	TwitchRedirectURI  string
	TwitchScopes       string

	// Extension identity
	ExtensionID     string
	ExtensionSecret string // base64-encoded shared signing secret

	// Bot / broadcaster identities
	BotID             string
	StreamerChannelID string

	// Seed refresh token for cold start (operator-managed)
	BotRefreshToken string

	// Database (optional; empty disables the token store)
	DBDsn string

	// HTTP
	HTTPAddr string

	// Per-viewer order cooldown window
	OrderCooldown        time.Duration
	OrderCooldownEnabled bool
}

// Load reads environment variables and applies defaults. It never fails on
// missing credentials; call ValidateOrderReady/ValidateRefreshReady where a
// feature actually needs them.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.TwitchClientID = os.Getenv("CLIENT_ID")
	cfg.TwitchClientSecret = os.Getenv("CLIENT_SECRET")
	cfg.TwitchRedirectURI = os.Getenv("TWITCH_REDIRECT_URI")
	cfg.TwitchScopes = os.Getenv("TWITCH_SCOPES")
	if cfg.TwitchScopes == "" {
		// default scope for sending chat messages via Helix
		cfg.TwitchScopes = "user:write:chat"
	}

	cfg.ExtensionID = os.Getenv("EXTENSION_ID")
	cfg.ExtensionSecret = os.Getenv("EXTENSION_SECRET")

	cfg.BotID = os.Getenv("BOT_ID")
	cfg.StreamerChannelID = os.Getenv("STREAMER_CHANNEL_ID")
	cfg.BotRefreshToken = os.Getenv("BOT_REFRESH_TOKEN")

	cfg.DBDsn = os.Getenv("DB_DSN")

	cfg.HTTPAddr = os.Getenv("HTTP_ADDR")
	if cfg.HTTPAddr == "" {
		cfg.HTTPAddr = ":8080"
	}

	cfg.OrderCooldownEnabled = os.Getenv("ORDER_COOLDOWN_ENABLED") != "0"
	cfg.OrderCooldown = 60 * time.Second
	if v := os.Getenv("ORDER_COOLDOWN_SECONDS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("invalid ORDER_COOLDOWN_SECONDS: %q", v)
		}
		cfg.OrderCooldown = time.Duration(n) * time.Second
	}

	return cfg, nil
}

// ValidateOrderReady checks identities needed to post an order to chat.
func (c *Config) ValidateOrderReady() error {
	var missing []string
	if c.TwitchClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if c.BotID == "" {
		missing = append(missing, "BOT_ID")
	}
	if c.StreamerChannelID == "" {
		missing = append(missing, "STREAMER_CHANNEL_ID")
	}
	if len(missing) > 0 {
		return &MissingError{Vars: missing}
	}
	return nil
}

// ValidateRefreshReady checks credentials needed for the token refresh exchange.
func (c *Config) ValidateRefreshReady() error {
	var missing []string
	if c.TwitchClientID == "" {
		missing = append(missing, "CLIENT_ID")
	}
	if c.TwitchClientSecret == "" {
		missing = append(missing, "CLIENT_SECRET")
	}
	if len(missing) > 0 {
		return &MissingError{Vars: missing}
	}
	return nil
}
