// Package server exposes the HTTP API: the viewer order endpoint, menu and
// message-template configuration, OAuth seeding, health, and metrics. It
// includes CORS for the extension frontend and injects correlation IDs into
// request contexts for consistent logging.
package server

import (
	"database/sql"
	"sync"
	"time"

	"github.com/pawbrew/cat-cafe/backend/config"
	"github.com/pawbrew/cat-cafe/backend/extjwt"
	"github.com/pawbrew/cat-cafe/backend/helix"
	"github.com/pawbrew/cat-cafe/backend/twitchauth"
)

// Maximum number of OAuth states to keep in memory.
const maxOAuthStates = 10000

// Handlers holds dependencies for all HTTP handlers.
type Handlers struct {
	cfg    *config.Config
	db     *sql.DB // nil when no token store is configured
	tokens *twitchauth.Manager
	helix  *helix.Client
	signer *extjwt.Signer // nil when EXTENSION_SECRET is unset

	stateStore map[string]time.Time
	stateMu    sync.RWMutex
}

// NewHandlers creates a Handlers instance with the given dependencies.
func NewHandlers(cfg *config.Config, db *sql.DB, tokens *twitchauth.Manager, hx *helix.Client, signer *extjwt.Signer) *Handlers {
	return &Handlers{
		cfg:        cfg,
		db:         db,
		tokens:     tokens,
		helix:      hx,
		signer:     signer,
		stateStore: make(map[string]time.Time),
	}
}

// cleanExpiredStates removes expired OAuth states. Callers hold stateMu.
func (h *Handlers) cleanExpiredStates() {
	now := time.Now()
	for state, expiry := range h.stateStore {
		if now.After(expiry) {
			delete(h.stateStore, state)
		}
	}
}

// addOAuthState records a new OAuth state, cleaning up as needed.
func (h *Handlers) addOAuthState(state string, expiry time.Time) {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()

	if len(h.stateStore)%100 == 0 {
		h.cleanExpiredStates()
	}
	// Refusing past the cap fails the flow instead of exhausting memory.
	if len(h.stateStore) >= maxOAuthStates {
		return
	}
	h.stateStore[state] = expiry
}

// consumeOAuthState validates and removes a state. Returns false when the
// state is unknown or expired.
func (h *Handlers) consumeOAuthState(state string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	expiry, ok := h.stateStore[state]
	if !ok {
		return false
	}
	delete(h.stateStore, state)
	return time.Now().Before(expiry)
}
