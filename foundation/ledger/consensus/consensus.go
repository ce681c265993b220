// Package consensus provides the pluggable engine that decides when a
// proposed block becomes part of the ledger. The engine only produces
// proposals; persisting an approved proposal is the caller's job.
package consensus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/birthmark/provenance/foundation/ledger/database"
	"github.com/birthmark/provenance/foundation/ledger/signature"
)

// Engine names for configuration.
const (
	EngineSingleNode = "single-node"
	EnginePoA        = "poa"
)

// Set of errors for the consensus API.
var (
	ErrNotImplemented    = errors.New("not implemented for this engine")
	ErrEmptyValidatorSet = errors.New("proof of authority requires at least one validator")
	ErrUnknownEngine     = errors.New("unknown consensus engine")
)

// LatestBlocker is the read access an engine needs to extend the chain.
type LatestBlocker interface {
	LatestBlock() (database.Block, bool)
}

// Signer signs block seals on behalf of this node.
type Signer interface {
	Sign(data []byte) (string, error)
}

// Proposal is an unpersisted candidate block produced by an engine.
type Proposal struct {
	BlockHeight  uint64
	PreviousHash string
	Timestamp    int64
	Transactions []database.BatchTx
	ValidatorID  string
	Signature    string
}

// Engine represents the behavior required of any consensus
// implementation.
type Engine interface {
	ProposeBlock(ctx context.Context, txs []database.BatchTx, validatorID string, keys Signer) (*Proposal, error)
	BroadcastBlock(ctx context.Context, proposal *Proposal) error
	SyncWithPeers(ctx context.Context) error
}

// Config selects and parameterizes an engine.
type Config struct {
	Engine     string
	Ledger     LatestBlocker
	Validators []string
	EvHandler  database.EventHandler
}

// New constructs the engine named by the configuration.
func New(cfg Config) (Engine, error) {
	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	switch cfg.Engine {
	case EngineSingleNode, "":
		return &SingleNode{ledger: cfg.Ledger, ev: ev}, nil

	case EnginePoA:
		return newPoA(cfg.Validators, ev)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}

// =============================================================================

// SingleNode is the phase one engine: one validator, no peers, instant
// finality. Every valid batch set becomes a proposal immediately.
type SingleNode struct {
	ledger LatestBlocker
	ev     database.EventHandler
}

// ProposeBlock builds and signs a proposal extending the current chain.
// An empty batch set means there is nothing to do and returns nil, nil.
func (sn *SingleNode) ProposeBlock(ctx context.Context, txs []database.BatchTx, validatorID string, keys Signer) (*Proposal, error) {
	if len(txs) == 0 {
		return nil, nil
	}

	var height uint64
	previousHash := signature.ZeroHash

	if latest, exists := sn.ledger.LatestBlock(); exists {
		height = latest.Height + 1
		previousHash = latest.BlockHash
	}

	timestamp := time.Now().Unix()

	txHashes := make([]string, len(txs))
	for i, tx := range txs {
		txHashes[i] = signature.ComputeTransactionHash(tx.ImageHashes, tx.Timestamps, tx.SubmitterID)
	}

	seal := fmt.Sprintf("%d%s%d%s%s", height, previousHash, timestamp, strings.Join(txHashes, ","), validatorID)
	sig, err := keys.Sign([]byte(seal))
	if err != nil {
		return nil, fmt.Errorf("signing proposal: %w", err)
	}

	sn.ev("consensus: ProposeBlock: blk[%d] txs[%d]", height, len(txs))

	return &Proposal{
		BlockHeight:  height,
		PreviousHash: previousHash,
		Timestamp:    timestamp,
		Transactions: txs,
		ValidatorID:  validatorID,
		Signature:    sig,
	}, nil
}

// BroadcastBlock has no peers to broadcast to.
func (sn *SingleNode) BroadcastBlock(ctx context.Context, proposal *Proposal) error {
	return nil
}

// SyncWithPeers has no peers to sync with.
func (sn *SingleNode) SyncWithPeers(ctx context.Context) error {
	return nil
}

// =============================================================================

// PoA is the phase two proof of authority engine. The validator set and
// quorum are configured up front; voting is not implemented yet and all
// operations return ErrNotImplemented.
type PoA struct {
	validators []string
	quorum     int
	ev         database.EventHandler
}

func newPoA(validators []string, ev database.EventHandler) (*PoA, error) {
	if len(validators) == 0 {
		return nil, ErrEmptyValidatorSet
	}

	return &PoA{
		validators: validators,
		quorum:     (2*len(validators))/3 + 1,
		ev:         ev,
	}, nil
}

// Quorum returns the number of validator approvals a proposal needs.
func (p *PoA) Quorum() int {
	return p.quorum
}

// ProposeBlock is not implemented yet.
func (p *PoA) ProposeBlock(ctx context.Context, txs []database.BatchTx, validatorID string, keys Signer) (*Proposal, error) {
	return nil, fmt.Errorf("poa propose: %w", ErrNotImplemented)
}

// BroadcastBlock is not implemented yet.
func (p *PoA) BroadcastBlock(ctx context.Context, proposal *Proposal) error {
	return fmt.Errorf("poa broadcast: %w", ErrNotImplemented)
}

// SyncWithPeers is not implemented yet.
func (p *PoA) SyncWithPeers(ctx context.Context) error {
	return fmt.Errorf("poa sync: %w", ErrNotImplemented)
}
