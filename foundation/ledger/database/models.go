package database

import (
	"time"

	"github.com/birthmark/provenance/foundation/ledger/merkle"
)

// Block represents a committed group of batch transactions. Blocks form a
// singly linked hash chain and are immutable once stored.
type Block struct {
	Height           uint64 `json:"block_height"`
	BlockHash        string `json:"block_hash"`
	PreviousHash     string `json:"previous_hash"`
	Timestamp        int64  `json:"timestamp"`
	ValidatorID      string `json:"validator_id"`
	TransactionCount int    `json:"transaction_count"`
	Signature        string `json:"signature"`
}

// BatchTx is the raw payload for one batch of image hash submissions
// committed together. Callers never supply precomputed hashes, the
// storage layer computes them so hash and data can not drift apart.
type BatchTx struct {
	SubmitterID  string   `json:"submitter_id"`
	ImageHashes  []string `json:"image_hashes"`
	Timestamps   []int64  `json:"timestamps"`
	Levels       []int    `json:"modification_levels"`
	ParentHashes []string `json:"parent_hashes,omitempty"`
	GPSHashes    []string `json:"gps_hashes,omitempty"`
	OwnerHashes  []string `json:"owner_hashes,omitempty"`
	Signature    string   `json:"signature"`
}

// Transaction is the persisted form of a batch inside a block.
type Transaction struct {
	TxID        uint64 `json:"tx_id"`
	TxHash      string `json:"tx_hash"`
	BlockHeight uint64 `json:"block_height"`
	SubmitterID string `json:"submitter_id"`
	BatchSize   int    `json:"batch_size"`
	Signature   string `json:"signature"`
}

// ImageHashRecord is the per image ledger entry. There is at most one
// record per image hash, ever. The stored timestamp is rounded down to
// the minute boundary for privacy.
type ImageHashRecord struct {
	ImageHash         string `json:"image_hash"`
	TxID              uint64 `json:"tx_id"`
	BlockHeight       uint64 `json:"block_height"`
	Timestamp         int64  `json:"timestamp"`
	ModificationLevel int    `json:"modification_level"`
	ParentImageHash   string `json:"parent_image_hash,omitempty"`
	SubmitterID       string `json:"submitter_id"`
	GPSHash           string `json:"gps_hash,omitempty"`
	OwnerHash         string `json:"owner_hash,omitempty"`
}

// MerkleProofRecord is the persisted inclusion proof for one leaf of one
// block's batch tree. Generated at commit time, read only afterward.
type MerkleProofRecord struct {
	ImageHash   string       `json:"image_hash"`
	BlockHeight uint64       `json:"block_height"`
	LeafIndex   int          `json:"leaf_index"`
	MerkleRoot  string       `json:"merkle_root"`
	Path        merkle.Proof `json:"path"`
}

// NodeState is the singleton bookkeeping record for this node. It is only
// mutated inside the same atomic unit as the block write that causes the
// mutation.
type NodeState struct {
	NodeID             string    `json:"node_id"`
	CurrentBlockHeight uint64    `json:"current_block_height"`
	TotalHashes        uint64    `json:"total_hashes"`
	GenesisHash        string    `json:"genesis_hash"`
	LastBlockTime      time.Time `json:"last_block_time"`
}

// ValidationStatus is the state machine for a pending submission.
type ValidationStatus string

// Set of pending submission states.
const (
	StatusPending   ValidationStatus = "pending"
	StatusValidated ValidationStatus = "validated"
	StatusRejected  ValidationStatus = "rejected"
)

// PendingSubmission is a staging row for a submission that has not made
// it into a block yet. Created on intake, advanced by the validation
// worker, flagged batched by the batching service.
type PendingSubmission struct {
	ID                uint64           `json:"id"`
	ImageHash         string           `json:"image_hash"`
	Timestamp         int64            `json:"timestamp"`
	SubmitterID       string           `json:"submitter_id"`
	ModificationLevel int              `json:"modification_level"`
	ParentImageHash   string           `json:"parent_image_hash,omitempty"`
	GPSHash           string           `json:"gps_hash,omitempty"`
	OwnerHash         string           `json:"owner_hash,omitempty"`
	AuthorityID       string           `json:"authority_id"`
	TokenJSON         string           `json:"token_json"`
	Status            ValidationStatus `json:"status"`
	StatusMessage     string           `json:"status_message,omitempty"`
	RetryCount        int              `json:"retry_count"`
	NextRetry         time.Time        `json:"next_retry"`
	Batched           bool             `json:"batched"`
	ReceivedAt        time.Time        `json:"received_at"`
}

// BlockData is everything one block commit writes: the block row, its
// transactions, the per image records, the inclusion proofs, and the new
// node state. Backends persist a BlockData as a single atomic unit.
type BlockData struct {
	Block   Block               `json:"block"`
	Trans   []Transaction       `json:"trans"`
	Records []ImageHashRecord   `json:"records"`
	Proofs  []MerkleProofRecord `json:"proofs"`
	State   NodeState           `json:"state"`
}
