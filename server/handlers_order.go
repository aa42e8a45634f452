package server

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/pawbrew/cat-cafe/backend/config"
	"github.com/pawbrew/cat-cafe/backend/helix"
	"github.com/pawbrew/cat-cafe/backend/orders"
	"github.com/pawbrew/cat-cafe/backend/telemetry"
	"github.com/pawbrew/cat-cafe/backend/twitchauth"
)

type orderRequest struct {
	Item     string `json:"item"`
	Username string `json:"username"`
}

// HandleOrder posts a viewer's order to the broadcaster's chat. Runs behind
// extensionAuth and cooldownMiddleware. Callers only ever see coarse
// outcomes; provider error bodies stay in logs.
func (h *Handlers) HandleOrder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	if telemetry.OrdersReceived != nil {
		telemetry.OrdersReceived.Inc()
	}
	log := telemetry.LoggerWithCorr(r.Context())

	if err := h.cfg.ValidateOrderReady(); err != nil {
		log.Error("order endpoint misconfigured", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server configuration error"})
		return
	}

	var req orderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	req.Item = strings.TrimSpace(req.Item)
	req.Username = strings.TrimSpace(req.Username)
	if req.Item == "" || req.Username == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "item and username are required"})
		return
	}

	viewer, _ := viewerFrom(r.Context())

	var retried bool
	var sendErr error
	telemetry.TimeFunc(telemetry.OrderDuration, func() {
		// Broadcaster config is best effort: a config-service outage must not
		// block orders, so fall back to default templates.
		cfg := &orders.Config{}
		if content, err := h.helix.GetBroadcasterConfig(r.Context(), viewer.ChannelID); err != nil {
			log.Warn("broadcaster config fetch failed, using default templates", slog.Any("err", err))
		} else if parsed, err := orders.ParseConfig(content); err != nil {
			log.Warn("broadcaster config unparseable, using default templates", slog.Any("err", err))
		} else {
			cfg = parsed
		}

		category := ""
		if item := cfg.FindItem(req.Item); item != nil {
			category = item.Category
		}
		message := orders.FormatMessage(cfg.Messages(), category, req.Username, req.Item)
		log.Info("sending order to chat",
			slog.String("channel_id", viewer.ChannelID),
			slog.String("item", req.Item),
			slog.Bool("viewer_unlinked", viewer.IsUnlinked))

		retried, sendErr = h.helix.SendChatMessage(r.Context(), h.cfg.StreamerChannelID, h.cfg.BotID, message)
	})

	if sendErr != nil {
		if telemetry.OrdersFailed != nil {
			telemetry.OrdersFailed.Inc()
		}
		h.writeOrderError(w, r, sendErr)
		return
	}

	if telemetry.OrdersSucceeded != nil {
		telemetry.OrdersSucceeded.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":             true,
		"message":             "Order sent to chat!",
		"retriedAfterRefresh": retried,
	})
}

// writeOrderError maps credential and upstream failures to the small set of
// caller-visible outcomes.
func (h *Handlers) writeOrderError(w http.ResponseWriter, r *http.Request, err error) {
	log := telemetry.LoggerWithCorr(r.Context())

	var refreshErr *twitchauth.RefreshError
	var apiErr *helix.APIError
	var missingErr *config.MissingError
	switch {
	case errors.Is(err, twitchauth.ErrMissingConfig), errors.As(err, &missingErr):
		log.Error("credential configuration missing", slog.Any("err", err))
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server configuration error"})
	case errors.As(err, &refreshErr):
		// InvalidGrant needs operator intervention; Transient may clear on the
		// next attempt. Callers cannot act on the difference, the log can.
		if refreshErr.Retryable() {
			log.Warn("token refresh failed", slog.String("kind", string(refreshErr.Kind)), slog.Any("err", err))
		} else {
			log.Error("token refresh requires operator intervention", slog.String("kind", string(refreshErr.Kind)), slog.Any("err", err))
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "upstream authorization failed"})
	case errors.As(err, &apiErr):
		log.Error("chat message rejected by Twitch", slog.Int("status", apiErr.Status), slog.String("detail", apiErr.Detail))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to send message to chat"})
	default:
		log.Error("order failed", slog.Any("err", err))
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "failed to send message to chat"})
	}
}
