// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/birthmark/provenance/app/services/node/handlers/v1/private"
	"github.com/birthmark/provenance/app/services/node/handlers/v1/public"
	"github.com/birthmark/provenance/foundation/events"
	"github.com/birthmark/provenance/foundation/ledger/state"
	"github.com/birthmark/provenance/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodPost, version, "/submit", pbl.Submit)
	app.Handle(http.MethodGet, version, "/verify/:hash", pbl.Verify)
	app.Handle(http.MethodGet, version, "/history/:hash", pbl.History)
	app.Handle(http.MethodGet, version, "/proof/:hash", pbl.Proof)
	app.Handle(http.MethodGet, version, "/blocks/height/:height", pbl.BlockByHeight)
	app.Handle(http.MethodGet, version, "/blocks/hash/:hash", pbl.BlockByHash)
	app.Handle(http.MethodGet, version, "/status", pbl.Status)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/cache/stats", prv.CacheStats)
	app.Handle(http.MethodPost, version, "/node/batch/signal", prv.SignalBatching)
}
