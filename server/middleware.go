// Package server middleware: extension JWT authentication, the per-viewer
// order cooldown, and CORS.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/pawbrew/cat-cafe/backend/extjwt"
	"github.com/pawbrew/cat-cafe/backend/telemetry"
)

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

const viewerContextKey contextKey = "viewer"

// withViewer adds the verified caller identity to the request context.
func withViewer(ctx context.Context, info extjwt.ChannelInfo) context.Context {
	return context.WithValue(ctx, viewerContextKey, info)
}

// viewerFrom returns the verified caller identity, if any.
func viewerFrom(ctx context.Context) (extjwt.ChannelInfo, bool) {
	info, ok := ctx.Value(viewerContextKey).(extjwt.ChannelInfo)
	return info, ok
}

// extensionAuth verifies the extension JWT on the Authorization header.
// The failure kind (expired vs invalid signature) is logged for diagnosis,
// but callers always see the same generic unauthorized response.
func extensionAuth(next http.Handler, signer *extjwt.Signer) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		unauthorized := func() {
			telemetry.CountAuthRejected()
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
		}
		if signer == nil {
			slog.Error("extension auth unavailable: EXTENSION_SECRET not configured")
			unauthorized()
			return
		}
		auth := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			unauthorized()
			return
		}
		claims, err := signer.Verify(token)
		if err != nil {
			log := telemetry.LoggerWithCorr(r.Context())
			switch {
			case errors.Is(err, extjwt.ErrExpired):
				log.Info("extension token expired", slog.String("path", r.URL.Path))
			default:
				log.Warn("extension token rejected", slog.String("path", r.URL.Path), slog.Any("err", err))
			}
			unauthorized()
			return
		}
		next.ServeHTTP(w, r.WithContext(withViewer(r.Context(), claims.Info())))
	})
}

// viewerCooldown is a per-viewer sliding window limiter: one order per
// window, keyed by the opaque user id so it works for unlinked viewers too.
type viewerCooldown struct {
	mu      sync.Mutex
	last    map[string]time.Time
	window  time.Duration
	enabled bool
}

func newViewerCooldown(ctx context.Context, window time.Duration, enabled bool) *viewerCooldown {
	vc := &viewerCooldown{
		last:    make(map[string]time.Time),
		window:  window,
		enabled: enabled && window > 0,
	}
	go vc.cleanupLoop(ctx)
	return vc
}

func (vc *viewerCooldown) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			vc.cleanup()
		case <-ctx.Done():
			return
		}
	}
}

func (vc *viewerCooldown) cleanup() {
	vc.mu.Lock()
	defer vc.mu.Unlock()
	cutoff := time.Now().Add(-2 * vc.window)
	for key, t := range vc.last {
		if t.Before(cutoff) {
			delete(vc.last, key)
		}
	}
}

// remaining returns how long the viewer must still wait before ordering.
func (vc *viewerCooldown) remaining(key string) time.Duration {
	if !vc.enabled {
		return 0
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()
	if t, ok := vc.last[key]; ok {
		if left := vc.window - time.Since(t); left > 0 {
			return left
		}
	}
	return 0
}

// record starts the viewer's window. Called only after the order succeeds so
// a failed send does not consume the cooldown.
func (vc *viewerCooldown) record(key string) {
	if !vc.enabled {
		return
	}
	vc.mu.Lock()
	defer vc.mu.Unlock()
	vc.last[key] = time.Now()
}

// cooldownMiddleware rejects orders inside the per-viewer window.
func cooldownMiddleware(next http.Handler, vc *viewerCooldown) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		viewer, ok := viewerFrom(r.Context())
		if !ok {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
			return
		}
		key := viewer.OpaqueUserID
		if key == "" {
			key = viewer.UserID
		}
		key = viewer.ChannelID + "/" + key
		if left := vc.remaining(key); left > 0 {
			if telemetry.OrdersThrottled != nil {
				telemetry.OrdersThrottled.Inc()
			}
			w.Header().Set("Retry-After", strconv.Itoa(int(left.Seconds())+1))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"error":             "rate-limited",
				"retry_after_seconds": int(left.Seconds()) + 1,
			})
			return
		}
		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r)
		if rec.statusCode < 400 {
			vc.record(key)
		}
	})
}

// corsConfig holds CORS configuration.
type corsConfig struct {
	allowedOrigins []string
	permissive     bool
}

// loadCORSConfig reads CORS configuration from environment. Extension panels
// are served from Twitch's extension origin, so production deployments set
// CORS_ALLOWED_ORIGINS accordingly.
func loadCORSConfig() *corsConfig {
	mode := strings.ToLower(os.Getenv("ENV"))
	permissive := mode == "" || mode == "dev" || mode == "development"
	if v := os.Getenv("CORS_PERMISSIVE"); v != "" {
		permissive = v == "1" || v == "true"
	}

	var allowedOrigins []string
	for _, origin := range strings.Split(os.Getenv("CORS_ALLOWED_ORIGINS"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			allowedOrigins = append(allowedOrigins, origin)
		}
	}
	if !permissive && len(allowedOrigins) == 0 {
		slog.Warn("CORS restricted mode enabled but no CORS_ALLOWED_ORIGINS configured - all CORS requests will be blocked")
	}
	return &corsConfig{allowedOrigins: allowedOrigins, permissive: permissive}
}

// withCORS wraps a handler with CORS headers based on configuration.
func withCORS(next http.Handler, cfg *corsConfig) http.Handler {
	const methods = "GET, POST, PUT, OPTIONS"
	const headers = "Content-Type, Authorization, X-Correlation-ID"
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if cfg.permissive {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
		} else if origin != "" && originAllowed(origin, cfg.allowedOrigins) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", methods)
			w.Header().Set("Access-Control-Allow-Headers", headers)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func originAllowed(origin string, allowed []string) bool {
	for _, a := range allowed {
		if origin == a {
			return true
		}
		// Wildcard subdomains, e.g. "*.ext-twitch.tv".
		if strings.HasPrefix(a, "*.") {
			domain := a[2:]
			if strings.HasSuffix(origin, "."+domain) || origin == "https://"+domain || origin == "http://"+domain {
				return true
			}
		}
	}
	return false
}
