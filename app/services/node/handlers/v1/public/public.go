// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/birthmark/provenance/business/web/errs"
	"github.com/birthmark/provenance/foundation/events"
	"github.com/birthmark/provenance/foundation/ledger/database"
	"github.com/birthmark/provenance/foundation/ledger/state"
	"github.com/birthmark/provenance/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public provenance endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Subscribe(v.TraceID)
	defer h.Evts.Unsubscribe(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// Submit stages a new image hash for inclusion on the ledger.
func (h Handlers) Submit(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var req submitRequest
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("unable to decode payload: %w", err)
	}

	h.Log.Infow("submit", "traceid", v.TraceID, "hash", req.ImageHash, "submitter", req.SubmitterID)

	sub, err := h.State.Submit(ctx, state.SubmitTx{
		ImageHash:         req.ImageHash,
		Timestamp:         req.Timestamp,
		SubmitterID:       req.SubmitterID,
		ModificationLevel: req.ModificationLevel,
		ParentImageHash:   req.ParentImageHash,
		GPSHash:           req.GPSHash,
		OwnerHash:         req.OwnerHash,
		AuthorityID:       req.AuthorityID,
		Token:             req.Token,
	})
	if err != nil {
		switch {
		case errors.Is(err, state.ErrInvalidHash):
			return errs.NewTrusted(err, http.StatusBadRequest)
		case errors.Is(err, state.ErrAlreadyOnLedger), errors.Is(err, state.ErrAlreadyStaged):
			return errs.NewTrusted(err, http.StatusConflict)
		default:
			return fmt.Errorf("submitting hash: %w", err)
		}
	}

	resp := submitResponse{
		SubmissionID: sub.ID,
		ImageHash:    sub.ImageHash,
		Status:       string(sub.Status),
	}

	return web.Respond(ctx, w, resp, http.StatusAccepted)
}

// Verify reports whether an image hash is on the ledger.
func (h Handlers) Verify(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	imageHash := web.Param(r, "hash")

	record, err := h.State.Verify(imageHash)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return web.Respond(ctx, w, verifyResponse{Verified: false, ImageHash: imageHash}, http.StatusOK)
		}
		return fmt.Errorf("verifying hash: %w", err)
	}

	resp := verifyResponse{
		Verified:          true,
		ImageHash:         record.ImageHash,
		BlockHeight:       record.BlockHeight,
		TxID:              record.TxID,
		Timestamp:         record.Timestamp,
		SubmitterID:       record.SubmitterID,
		ModificationLevel: record.ModificationLevel,
		ParentImageHash:   record.ParentImageHash,
		GPSHash:           record.GPSHash,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// History returns the modification chain for an image hash, most recent
// first.
func (h Handlers) History(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	imageHash := web.Param(r, "hash")

	chain, err := h.State.History(imageHash)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errs.NewTrusted(errors.New("image hash not found"), http.StatusNotFound)
		}
		return fmt.Errorf("walking history: %w", err)
	}

	return web.Respond(ctx, w, chain, http.StatusOK)
}

// Proof returns the merkle inclusion proof for an image hash.
func (h Handlers) Proof(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	imageHash := web.Param(r, "hash")

	proof, err := h.State.MerkleProof(imageHash)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errs.NewTrusted(errors.New("no proof for image hash"), http.StatusNotFound)
		}
		return fmt.Errorf("reading proof: %w", err)
	}

	return web.Respond(ctx, w, proof, http.StatusOK)
}

// BlockByHeight returns the block stored at the specified height, or the
// latest block when the param is "latest".
func (h Handlers) BlockByHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	heightStr := web.Param(r, "height")

	if heightStr == "latest" || heightStr == "" {
		latest, exists := h.State.LatestBlock()
		if !exists {
			return errs.NewTrusted(errors.New("chain is empty"), http.StatusNotFound)
		}
		heightStr = strconv.FormatUint(latest.Height, 10)
	}

	height, err := strconv.ParseUint(heightStr, 10, 64)
	if err != nil {
		return errs.NewTrusted(fmt.Errorf("invalid height %q", heightStr), http.StatusBadRequest)
	}

	data, err := h.State.BlockByHeight(height)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errs.NewTrusted(errors.New("block not found"), http.StatusNotFound)
		}
		return fmt.Errorf("reading block: %w", err)
	}

	return web.Respond(ctx, w, data, http.StatusOK)
}

// BlockByHash returns the block stored with the specified block hash.
func (h Handlers) BlockByHash(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash := web.Param(r, "hash")

	data, err := h.State.BlockByHash(hash)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return errs.NewTrusted(errors.New("block not found"), http.StatusNotFound)
		}
		return fmt.Errorf("reading block: %w", err)
	}

	return web.Respond(ctx, w, data, http.StatusOK)
}

// Status returns the node status snapshot.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	status, err := h.State.Status()
	if err != nil {
		return fmt.Errorf("reading status: %w", err)
	}

	return web.Respond(ctx, w, status, http.StatusOK)
}
