package server

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	dbpkg "github.com/pawbrew/cat-cafe/backend/db"
	"github.com/pawbrew/cat-cafe/backend/telemetry"
	"github.com/pawbrew/cat-cafe/backend/twitchauth"
)

// HandleOAuthStart begins the interactive authorization flow that seeds the
// bot's refresh token. Operator-facing; the extension frontend never uses it.
func (h *Handlers) HandleOAuthStart(w http.ResponseWriter, r *http.Request) {
	if h.cfg.TwitchClientID == "" || h.cfg.TwitchRedirectURI == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "oauth not configured (need CLIENT_ID + TWITCH_REDIRECT_URI)"})
		return
	}
	state := uuid.New().String()
	h.addOAuthState(state, time.Now().Add(10*time.Minute))
	authURL, err := twitchauth.BuildAuthorizeURL(h.cfg.TwitchClientID, h.cfg.TwitchRedirectURI, h.cfg.TwitchScopes, state)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// HandleOAuthCallback exchanges the authorization code, adopts the new
// credential into the cache, and persists it when a token store is
// configured.
func (h *Handlers) HandleOAuthCallback(w http.ResponseWriter, r *http.Request) {
	log := telemetry.LoggerWithCorr(r.Context())
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")
	if code == "" || state == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing code/state"})
		return
	}
	if !h.consumeOAuthState(state) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid state"})
		return
	}

	ctx := r.Context()
	res, err := twitchauth.ExchangeAuthCode(ctx, h.cfg.TwitchClientID, h.cfg.TwitchClientSecret, code, h.cfg.TwitchRedirectURI)
	if err != nil {
		log.Error("auth code exchange failed", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "auth code exchange failed"})
		return
	}

	expiry := twitchauth.ComputeExpiry(res.ExpiresIn)
	h.tokens.Adopt(res.AccessToken, res.RefreshToken, expiry)

	if h.db != nil {
		if err := dbpkg.UpsertBotToken(ctx, h.db, res.AccessToken, res.RefreshToken, expiry, strings.Join(res.Scope, " ")); err != nil {
			log.Error("token persist failed", slog.Any("err", err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to store tokens"})
			return
		}
	} else {
		// No store: the operator must copy the seed into the environment or
		// the credential dies with the process.
		log.Warn("no token store configured; set BOT_REFRESH_TOKEN in the environment",
			slog.String("refresh_token", res.RefreshToken))
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"scopes":     []string(res.Scope),
		"expires_in": res.ExpiresIn,
	})
}
