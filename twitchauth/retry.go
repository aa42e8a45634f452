package twitchauth

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/pawbrew/cat-cafe/backend/telemetry"
)

// AuthorizedCall performs one authenticated request with the given bearer
// token and returns the raw response.
type AuthorizedCall func(ctx context.Context, token string) (*http.Response, error)

// Do wraps a single outbound authenticated call with the reactive 401
// recovery cycle: on an unauthorized response it forces exactly one refresh
// and retries once, then returns whatever the retry produced. Any other
// status is surfaced as-is without retry. retried reports whether the
// recovery path ran, letting callers expose it in responses.
//
// The caller owns the returned response body.
func (m *Manager) Do(ctx context.Context, call AuthorizedCall) (resp *http.Response, retried bool, err error) {
	token, err := m.GetValid(ctx)
	if err != nil {
		return nil, false, err
	}
	resp, err = call(ctx, token)
	if err != nil {
		return nil, false, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, false, nil
	}

	// Token expired or was revoked. Consume the body so the connection can
	// be reused, then refresh and retry once.
	drainAndClose(resp)
	slog.Info("got 401 from resource API, refreshing token and retrying")
	telemetry.CountAuthRetry()

	token, err = m.ForceRefresh(ctx)
	if err != nil {
		return nil, true, err
	}
	resp, err = call(ctx, token)
	if err != nil {
		return nil, true, err
	}
	return resp, true, nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	if err := resp.Body.Close(); err != nil {
		slog.Warn("failed to close response body", slog.Any("err", err))
	}
}
