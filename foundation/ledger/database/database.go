// Package database handles all the lower level support for maintaining
// the provenance ledger: blocks, batch transactions, per image records,
// inclusion proofs, and the staging queue of pending submissions.
package database

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/birthmark/provenance/foundation/ledger/merkle"
	"github.com/birthmark/provenance/foundation/ledger/signature"
)

// EventHandler defines a function that is called when events occur in the
// processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Set of errors for the database API.
var (
	ErrNoTransactions = errors.New("block has no transactions")
	ErrChainBroken    = errors.New("block does not extend the current chain")
)

// Database manages the ledger state. It is the only writer of persisted
// blocks; every write for one block is applied as a single atomic unit by
// the underlying storage.
type Database struct {
	mu      sync.RWMutex
	storage Storage
	ev      EventHandler

	latestBlock Block
	hasBlocks   bool
	state       NodeState
	txCount     uint64
	pendingID   uint64
}

// New constructs the database and replays the chain from storage,
// validating every link on the way up.
func New(nodeID string, storage Storage, ev EventHandler) (*Database, error) {
	db := Database{
		storage: storage,
		ev:      ev,
	}

	// Walk the chain to find the latest block, verifying hash integrity
	// and linkage for every block read.
	iter := storage.ForEach()
	for !iter.Done() {
		data, err := iter.Next()
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				break
			}
			return nil, fmt.Errorf("reading chain: %w", err)
		}

		if err := data.Validate(db.latestBlock, db.hasBlocks); err != nil {
			return nil, fmt.Errorf("block %d: %w", data.Block.Height, err)
		}

		db.latestBlock = data.Block
		db.hasBlocks = true
		db.txCount += uint64(len(data.Trans))
	}

	state, err := storage.GetState()
	switch {
	case errors.Is(err, ErrNotFound):
		state = NodeState{NodeID: nodeID}
	case err != nil:
		return nil, fmt.Errorf("reading node state: %w", err)
	}
	db.state = state

	// Pending ids continue after whatever is already staged.
	pending, err := storage.PendingList()
	if err != nil {
		return nil, fmt.Errorf("reading pending submissions: %w", err)
	}
	for _, sub := range pending {
		if sub.ID > db.pendingID {
			db.pendingID = sub.ID
		}
	}

	return &db, nil
}

// Close closes the underlying storage.
func (db *Database) Close() error {
	return db.storage.Close()
}

// =============================================================================
// Block writes

// StoreBlock persists one block with its transactions, image records,
// inclusion proofs, and the node state update as a single atomic unit.
// Transaction and block hashes are computed here from the raw payloads.
func (db *Database) StoreBlock(height uint64, previousHash string, timestamp int64, validatorID string, txs []BatchTx, sig string) (Block, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if len(txs) == 0 {
		return Block{}, ErrNoTransactions
	}

	// Reject anything that does not extend the chain. Commit is
	// serialized under the lock so two blocks can never land at the
	// same height.
	switch {
	case db.hasBlocks:
		if height != db.latestBlock.Height+1 {
			return Block{}, fmt.Errorf("%w: got height %d, exp %d", ErrChainBroken, height, db.latestBlock.Height+1)
		}
		if previousHash != db.latestBlock.BlockHash {
			return Block{}, fmt.Errorf("%w: previous hash mismatch at height %d", ErrChainBroken, height)
		}
	default:
		if height != 0 || previousHash != signature.ZeroHash {
			return Block{}, fmt.Errorf("%w: first block must be genesis", ErrChainBroken)
		}
	}

	// Compute the transaction hashes and assemble the rows to persist.
	trans := make([]Transaction, 0, len(txs))
	records := make([]ImageHashRecord, 0)
	txHashes := make([]string, 0, len(txs))
	nextTxID := db.txCount

	for _, tx := range txs {
		if len(tx.ImageHashes) != len(tx.Timestamps) {
			return Block{}, fmt.Errorf("batch from %s: image hash and timestamp counts differ", tx.SubmitterID)
		}

		hashes := make([]string, len(tx.ImageHashes))
		for i, h := range tx.ImageHashes {
			hashes[i] = signature.Normalize(h)
		}

		txHash := signature.ComputeTransactionHash(hashes, tx.Timestamps, tx.SubmitterID)
		txHashes = append(txHashes, txHash)
		nextTxID++

		trans = append(trans, Transaction{
			TxID:        nextTxID,
			TxHash:      txHash,
			BlockHeight: height,
			SubmitterID: tx.SubmitterID,
			BatchSize:   len(hashes),
			Signature:   tx.Signature,
		})

		for i, imageHash := range hashes {
			record := ImageHashRecord{
				ImageHash:         imageHash,
				TxID:              nextTxID,
				BlockHeight:       height,
				Timestamp:         roundToMinute(tx.Timestamps[i]),
				SubmitterID:       tx.SubmitterID,
				ModificationLevel: at(tx.Levels, i),
				ParentImageHash:   signature.Normalize(atStr(tx.ParentHashes, i)),
				GPSHash:           signature.Normalize(atStr(tx.GPSHashes, i)),
				OwnerHash:         signature.Normalize(atStr(tx.OwnerHashes, i)),
			}
			records = append(records, record)
		}
	}

	blockHash := signature.ComputeBlockHash(height, previousHash, timestamp, txHashes, validatorID)

	block := Block{
		Height:           height,
		BlockHash:        blockHash,
		PreviousHash:     previousHash,
		Timestamp:        timestamp,
		ValidatorID:      validatorID,
		TransactionCount: len(trans),
		Signature:        sig,
	}

	// Build one inclusion tree over every record in the block and keep
	// a proof per leaf.
	leaves := make([]string, len(records))
	for i, record := range records {
		leaves[i] = record.ImageHash
	}

	root, proofPaths, err := merkle.BuildTree(leaves)
	if err != nil {
		return Block{}, fmt.Errorf("building proof tree: %w", err)
	}

	proofs := make([]MerkleProofRecord, len(records))
	for i, record := range records {
		proofs[i] = MerkleProofRecord{
			ImageHash:   record.ImageHash,
			BlockHeight: height,
			LeafIndex:   i,
			MerkleRoot:  root,
			Path:        proofPaths[record.ImageHash],
		}
	}

	// The hash total is recomputed by counting, never incremented, so the
	// state stays consistent even after a manual repair of the records.
	count, err := db.storage.CountRecords()
	if err != nil {
		return Block{}, fmt.Errorf("counting records: %w", err)
	}

	state := db.state
	state.CurrentBlockHeight = height
	state.TotalHashes = count + uint64(len(records))
	state.LastBlockTime = time.Unix(timestamp, 0).UTC()
	if height == 0 {
		state.GenesisHash = blockHash
	}

	data := BlockData{
		Block:   block,
		Trans:   trans,
		Records: records,
		Proofs:  proofs,
		State:   state,
	}

	if err := db.storage.WriteBlock(data); err != nil {
		return Block{}, fmt.Errorf("writing block: %w", err)
	}

	db.latestBlock = block
	db.hasBlocks = true
	db.state = state
	db.txCount = nextTxID

	db.ev("database: StoreBlock: blk[%d] hash[%s] txs[%d] records[%d]", height, blockHash, len(trans), len(records))

	return block, nil
}

// StoreGenesisBlock seals an empty block at height 0 on an empty chain.
// This is the only block allowed to carry no transactions.
func (db *Database) StoreGenesisBlock(timestamp int64, validatorID string, sig string) (Block, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.hasBlocks {
		return Block{}, fmt.Errorf("%w: chain already has a genesis block", ErrChainBroken)
	}

	blockHash := signature.ComputeBlockHash(0, signature.ZeroHash, timestamp, nil, validatorID)

	block := Block{
		Height:       0,
		BlockHash:    blockHash,
		PreviousHash: signature.ZeroHash,
		Timestamp:    timestamp,
		ValidatorID:  validatorID,
		Signature:    sig,
	}

	state := db.state
	state.CurrentBlockHeight = 0
	state.GenesisHash = blockHash
	state.LastBlockTime = time.Unix(timestamp, 0).UTC()

	if err := db.storage.WriteBlock(BlockData{Block: block, State: state}); err != nil {
		return Block{}, fmt.Errorf("writing genesis block: %w", err)
	}

	db.latestBlock = block
	db.hasBlocks = true
	db.state = state

	db.ev("database: StoreGenesisBlock: hash[%s]", blockHash)

	return block, nil
}

// =============================================================================
// Reads

// LatestBlock returns the latest block, with false when the chain is
// still empty.
func (db *Database) LatestBlock() (Block, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.latestBlock, db.hasBlocks
}

// GetBlockByHeight returns the block stored at the specified height.
func (db *Database) GetBlockByHeight(height uint64) (BlockData, error) {
	return db.storage.GetBlock(height)
}

// GetBlockByHash returns the block stored with the specified hash.
func (db *Database) GetBlockByHash(hash string) (BlockData, error) {
	return db.storage.GetBlockByHash(signature.Normalize(hash))
}

// VerifyImageHash looks up the ledger record for the specified image
// hash. The hash is normalized to lowercase before the lookup.
func (db *Database) VerifyImageHash(imageHash string) (ImageHashRecord, error) {
	return db.storage.GetRecord(signature.Normalize(imageHash))
}

// HasImageHash reports whether the specified image hash is already on
// the ledger.
func (db *Database) HasImageHash(imageHash string) (bool, error) {
	_, err := db.VerifyImageHash(imageHash)
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// Proof returns the persisted inclusion proof for the specified image
// hash.
func (db *Database) Proof(imageHash string) (MerkleProofRecord, error) {
	return db.storage.GetProof(signature.Normalize(imageHash))
}

// TotalHashCount returns the number of image hash records on the ledger.
func (db *Database) TotalHashCount() (uint64, error) {
	return db.storage.CountRecords()
}

// State returns a copy of the current node state.
func (db *Database) State() NodeState {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.state
}

// UpdateNodeState rewrites the node state bookkeeping from a recount of
// the stored records. This is the manual repair path; the normal path
// updates state inside StoreBlock's atomic unit.
func (db *Database) UpdateNodeState(height uint64, blockHash string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	count, err := db.storage.CountRecords()
	if err != nil {
		return fmt.Errorf("counting records: %w", err)
	}

	state := db.state
	state.CurrentBlockHeight = height
	state.TotalHashes = count
	state.LastBlockTime = time.Now().UTC()

	if err := db.storage.WriteState(state); err != nil {
		return fmt.Errorf("writing node state: %w", err)
	}

	db.state = state
	db.ev("database: UpdateNodeState: height[%d] hash[%s] total[%d]", height, blockHash, count)

	return nil
}

// =============================================================================
// Pending submissions

// AddPending stages a new submission for validation and batching.
func (db *Database) AddPending(sub PendingSubmission) (PendingSubmission, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.pendingID++
	sub.ID = db.pendingID
	sub.ImageHash = signature.Normalize(sub.ImageHash)
	sub.ParentImageHash = signature.Normalize(sub.ParentImageHash)
	sub.Status = StatusPending
	sub.ReceivedAt = time.Now().UTC()

	if err := db.storage.WritePending(sub); err != nil {
		return PendingSubmission{}, fmt.Errorf("writing pending submission: %w", err)
	}

	return sub, nil
}

// PendingForValidation returns staged submissions that are due for a
// validation attempt.
func (db *Database) PendingForValidation(limit int, maxRetries int, now time.Time) ([]PendingSubmission, error) {
	pending, err := db.storage.PendingList()
	if err != nil {
		return nil, err
	}

	due := make([]PendingSubmission, 0, limit)
	for _, sub := range pending {
		if sub.Status != StatusPending || sub.RetryCount >= maxRetries {
			continue
		}
		if !sub.NextRetry.IsZero() && sub.NextRetry.After(now) {
			continue
		}

		due = append(due, sub)
		if len(due) == limit {
			break
		}
	}

	return due, nil
}

// PendingForBatch returns validated submissions that have not been
// included in a block yet, up to the specified limit.
func (db *Database) PendingForBatch(limit int) ([]PendingSubmission, error) {
	pending, err := db.storage.PendingList()
	if err != nil {
		return nil, err
	}

	ready := make([]PendingSubmission, 0, limit)
	for _, sub := range pending {
		if sub.Status != StatusValidated || sub.Batched {
			continue
		}

		ready = append(ready, sub)
		if len(ready) == limit {
			break
		}
	}

	return ready, nil
}

// UpdatePending rewrites a staged submission after a validation attempt.
func (db *Database) UpdatePending(sub PendingSubmission) error {
	return db.storage.UpdatePending(sub)
}

// MarkBatched flags the specified staged submissions as committed to a
// block.
func (db *Database) MarkBatched(ids []uint64) error {
	return db.storage.MarkBatched(ids)
}

// HasStaged reports whether the specified image hash is already staged
// and still in play: pending or validated, and not yet batched.
func (db *Database) HasStaged(imageHash string) (bool, error) {
	pending, err := db.storage.PendingList()
	if err != nil {
		return false, err
	}

	norm := signature.Normalize(imageHash)
	for _, sub := range pending {
		if sub.ImageHash == norm && sub.Status != StatusRejected && !sub.Batched {
			return true, nil
		}
	}

	return false, nil
}

// PendingCounts returns the number of staged submissions per status for
// observability.
func (db *Database) PendingCounts() (map[ValidationStatus]int, error) {
	pending, err := db.storage.PendingList()
	if err != nil {
		return nil, err
	}

	counts := make(map[ValidationStatus]int)
	for _, sub := range pending {
		if sub.Batched {
			continue
		}
		counts[sub.Status]++
	}

	return counts, nil
}

// =============================================================================

// Validate checks a block read from storage for hash integrity and
// correct linkage to the previous block.
func (data BlockData) Validate(prev Block, hasPrev bool) error {
	b := data.Block

	if hasPrev {
		if b.Height != prev.Height+1 {
			return fmt.Errorf("height %d does not follow %d", b.Height, prev.Height)
		}
		if b.PreviousHash != prev.BlockHash {
			return fmt.Errorf("previous hash does not match the parent block")
		}
	} else {
		if b.Height != 0 {
			return fmt.Errorf("chain starts at height %d, exp 0", b.Height)
		}
		if b.PreviousHash != signature.ZeroHash {
			return fmt.Errorf("genesis previous hash is not the zero hash")
		}
	}

	txHashes := make([]string, len(data.Trans))
	for i, tx := range data.Trans {
		txHashes[i] = tx.TxHash
	}

	if hash := signature.ComputeBlockHash(b.Height, b.PreviousHash, b.Timestamp, txHashes, b.ValidatorID); hash != b.BlockHash {
		return fmt.Errorf("block hash %s does not match computed hash %s", b.BlockHash, hash)
	}

	return nil
}

// roundToMinute drops the seconds from a unix timestamp. Stored record
// times are only minute accurate by design of the data model.
func roundToMinute(ts int64) int64 {
	return ts - ts%60
}

func at(values []int, i int) int {
	if i >= len(values) {
		return 0
	}
	return values[i]
}

func atStr(values []string, i int) string {
	if i >= len(values) {
		return ""
	}
	return values[i]
}
