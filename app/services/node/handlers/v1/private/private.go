// Package private maintains the group of handlers for operator access.
package private

import (
	"context"
	"net/http"

	"github.com/birthmark/provenance/foundation/ledger/state"
	"github.com/birthmark/provenance/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of operator endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// CacheStats returns the verdict cache counters.
func (h Handlers) CacheStats(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.CacheStatistics(), http.StatusOK)
}

// SignalBatching requests a batch cycle outside the regular interval.
func (h Handlers) SignalBatching(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.Log.Infow("batch cycle requested", "traceid", v.TraceID)
	h.State.Worker.SignalBatching()

	resp := struct {
		Status string `json:"status"`
	}{
		Status: "batch cycle signaled",
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Status returns the node status snapshot for operators.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	status, err := h.State.Status()
	if err != nil {
		return err
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}
