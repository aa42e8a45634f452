package server

import (
	"log/slog"
	"net/http"

	"github.com/pawbrew/cat-cafe/backend/extjwt"
	"github.com/pawbrew/cat-cafe/backend/orders"
	"github.com/pawbrew/cat-cafe/backend/telemetry"
)

// HandleMenu returns the broadcaster's configured menu for the caller's
// channel. Empty when the broadcaster has not configured one yet.
func (h *Handlers) HandleMenu(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	viewer, _ := viewerFrom(r.Context())
	cfg, err := h.loadBroadcasterConfig(r, viewer.ChannelID)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "configuration service unavailable"})
		return
	}
	items := cfg.MenuItems
	if items == nil {
		items = []orders.MenuItem{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"menuItems": items, "count": len(items)})
}

// HandleMessages reads (GET) or replaces (PUT) the broadcaster configuration:
// menu items and category message templates. Writes are limited to the
// broadcaster and moderators.
func (h *Handlers) HandleMessages(w http.ResponseWriter, r *http.Request) {
	viewer, _ := viewerFrom(r.Context())
	log := telemetry.LoggerWithCorr(r.Context())

	switch r.Method {
	case http.MethodGet:
		cfg, err := h.loadBroadcasterConfig(r, viewer.ChannelID)
		if err != nil {
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "configuration service unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"categoryMessages": cfg.Messages()})

	case http.MethodPut:
		if !extjwt.IsPrivileged(viewer.Role) {
			log.Warn("config write rejected", slog.String("role", viewer.Role), slog.String("channel_id", viewer.ChannelID))
			writeJSON(w, http.StatusForbidden, map[string]string{"error": "broadcaster or moderator role required"})
			return
		}
		var cfg orders.Config
		if err := decodeJSON(r, &cfg); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
			return
		}
		if err := cfg.Validate(); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		content, err := cfg.Encode()
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to encode configuration"})
			return
		}
		if err := h.helix.SetBroadcasterConfig(r.Context(), viewer.ChannelID, content); err != nil {
			log.Error("config write failed", slog.Any("err", err))
			writeJSON(w, http.StatusBadGateway, map[string]string{"error": "configuration service unavailable"})
			return
		}
		log.Info("broadcaster config updated",
			slog.String("channel_id", viewer.ChannelID),
			slog.Int("menu_items", len(cfg.MenuItems)))
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (h *Handlers) loadBroadcasterConfig(r *http.Request, channelID string) (*orders.Config, error) {
	content, err := h.helix.GetBroadcasterConfig(r.Context(), channelID)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("broadcaster config fetch failed", slog.Any("err", err))
		return nil, err
	}
	cfg, err := orders.ParseConfig(content)
	if err != nil {
		telemetry.LoggerWithCorr(r.Context()).Error("broadcaster config unparseable", slog.Any("err", err))
		return nil, err
	}
	return cfg, nil
}
