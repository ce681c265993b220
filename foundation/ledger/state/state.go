// Package state is the core API for the provenance ledger and implements
// all the business rules and processing. Every outer surface (web
// handlers, workers, tooling) goes through this facade.
package state

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/birthmark/provenance/foundation/ledger/authority"
	"github.com/birthmark/provenance/foundation/ledger/consensus"
	"github.com/birthmark/provenance/foundation/ledger/database"
	"github.com/birthmark/provenance/foundation/ledger/nuccache"
	"github.com/birthmark/provenance/foundation/ledger/signature"
	"github.com/birthmark/provenance/foundation/ledger/validator"
)

// The provenance walk stops after this many parent links.
const maxHistoryDepth = 50

// Set of errors for the state API.
var (
	ErrNoPending       = errors.New("no validated submissions waiting for a block")
	ErrInvalidHash     = errors.New("invalid image hash format")
	ErrAlreadyOnLedger = errors.New("image hash already on the ledger")
	ErrAlreadyStaged   = errors.New("image hash already staged for batching")
)

// TokenValidator is the behavior the state needs to get a verdict on a
// camera token. The authority client implements this.
type TokenValidator interface {
	ValidateToken(ctx context.Context, token authority.Token, authorityID string) (authority.Result, error)
}

// Worker interface represents the behavior required to be implemented by
// any package providing support for background processing.
type Worker interface {
	Shutdown()
	SignalBatching()
}

// EventHandler defines a function that is called when events occur in
// the processing of submissions and blocks.
type EventHandler func(v string, args ...any)

// =============================================================================

// Config represents the configuration required to start the state.
type Config struct {
	NodeID               string
	Keys                 *signature.Keys
	Storage              database.Storage
	ConsensusEngine      string
	Validators           []string
	AuthorizedSubmitters map[string]bool
	BatchSizeMin         int
	BatchSizeMax         int
	MaxRetries           int
	RetryBackoff         time.Duration
	TokenValidator       TokenValidator
	Cache                *nuccache.Cache
	EvHandler            EventHandler
}

// State manages the provenance ledger.
type State struct {
	mu sync.Mutex

	nodeID       string
	keys         *signature.Keys
	batchMin     int
	batchMax     int
	maxRetries   int
	retryBackoff time.Duration

	db        *database.Database
	validator *validator.Validator
	engine    consensus.Engine
	tokens    TokenValidator
	cache     *nuccache.Cache
	evHandler EventHandler

	Worker Worker
}

// New constructs a new state for use. If the underlying storage is
// empty, the genesis block is written so the chain always has a root to
// extend.
func New(cfg Config) (*State, error) {
	ev := cfg.EvHandler
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	db, err := database.New(cfg.NodeID, cfg.Storage, database.EventHandler(ev))
	if err != nil {
		return nil, fmt.Errorf("constructing database: %w", err)
	}

	batchMin := cfg.BatchSizeMin
	if batchMin <= 0 {
		batchMin = 1
	}
	batchMax := cfg.BatchSizeMax
	if batchMax <= 0 {
		batchMax = 1000
	}

	val := validator.New(validator.Config{
		AuthorizedSubmitters: cfg.AuthorizedSubmitters,
		BatchSizeMin:         batchMin,
		BatchSizeMax:         batchMax,
	}, db)

	engine, err := consensus.New(consensus.Config{
		Engine:     cfg.ConsensusEngine,
		Ledger:     db,
		Validators: cfg.Validators,
		EvHandler:  database.EventHandler(ev),
	})
	if err != nil {
		return nil, fmt.Errorf("constructing consensus engine: %w", err)
	}

	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	retryBackoff := cfg.RetryBackoff
	if retryBackoff <= 0 {
		retryBackoff = 30 * time.Second
	}

	s := State{
		nodeID:       cfg.NodeID,
		keys:         cfg.Keys,
		batchMin:     batchMin,
		batchMax:     batchMax,
		maxRetries:   maxRetries,
		retryBackoff: retryBackoff,
		db:           db,
		validator:    val,
		engine:       engine,
		tokens:       cfg.TokenValidator,
		cache:        cfg.Cache,
		evHandler:    ev,
	}

	if _, exists := db.LatestBlock(); !exists {
		if err := s.writeGenesis(); err != nil {
			return nil, fmt.Errorf("writing genesis block: %w", err)
		}
	}

	return &s, nil
}

// Shutdown cleanly brings the state down. The worker is stopped first so
// no commit is in flight when the storage closes.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return s.db.Close()
}

// writeGenesis seals an empty block at height 0 so the first data block
// lands at height 1.
func (s *State) writeGenesis() error {
	timestamp := time.Now().Unix()

	seal := fmt.Sprintf("%d%s%d%s%s", 0, signature.ZeroHash, timestamp, "", s.nodeID)
	sig, err := s.keys.Sign([]byte(seal))
	if err != nil {
		return err
	}

	block, err := s.db.StoreGenesisBlock(timestamp, s.nodeID, sig)
	if err != nil {
		return err
	}

	s.evHandler("state: genesis: hash[%s]", block.BlockHash)
	return nil
}

// =============================================================================
// Submissions

// SubmitTx is one image hash presented for inclusion on the ledger.
type SubmitTx struct {
	ImageHash         string
	Timestamp         int64
	SubmitterID       string
	ModificationLevel int
	ParentImageHash   string
	GPSHash           string
	OwnerHash         string
	AuthorityID       string
	Token             authority.Token
}

// Submit stages an image hash for validation and batching. Hashes that
// are malformed, already on the ledger, or already staged are rejected
// synchronously; everything else is decided by the background workers.
func (s *State) Submit(ctx context.Context, tx SubmitTx) (database.PendingSubmission, error) {
	if !signature.VerifyHashFormat(tx.ImageHash) {
		return database.PendingSubmission{}, fmt.Errorf("%w: %s", ErrInvalidHash, tx.ImageHash)
	}

	imageHash := signature.Normalize(tx.ImageHash)

	exists, err := s.db.HasImageHash(imageHash)
	if err != nil {
		return database.PendingSubmission{}, fmt.Errorf("checking ledger: %w", err)
	}
	if exists {
		return database.PendingSubmission{}, fmt.Errorf("%w: %s", ErrAlreadyOnLedger, imageHash)
	}

	staged, err := s.db.HasStaged(imageHash)
	if err != nil {
		return database.PendingSubmission{}, fmt.Errorf("checking staged submissions: %w", err)
	}
	if staged {
		return database.PendingSubmission{}, fmt.Errorf("%w: %s", ErrAlreadyStaged, imageHash)
	}

	tokenJSON, err := json.Marshal(tx.Token)
	if err != nil {
		return database.PendingSubmission{}, fmt.Errorf("encoding token: %w", err)
	}

	sub, err := s.db.AddPending(database.PendingSubmission{
		ImageHash:         imageHash,
		Timestamp:         tx.Timestamp,
		SubmitterID:       tx.SubmitterID,
		ModificationLevel: tx.ModificationLevel,
		ParentImageHash:   tx.ParentImageHash,
		GPSHash:           tx.GPSHash,
		OwnerHash:         tx.OwnerHash,
		AuthorityID:       tx.AuthorityID,
		TokenJSON:         string(tokenJSON),
	})
	if err != nil {
		return database.PendingSubmission{}, err
	}

	s.evHandler("state: submit: hash[%s] sub[%d]", imageHash, sub.ID)

	return sub, nil
}
