// Package signature provides the deterministic hashing and validator
// signing support for the provenance ledger.
package signature

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// ZeroHash represents a hash code of zeros. It is the previous hash of
// the genesis block.
const ZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

// HashLen is the number of characters in a hex encoded SHA-256 digest.
const HashLen = 64

// =============================================================================

// Hash returns the hex encoded SHA-256 digest of the specified data.
func Hash(data []byte) string {
	digest := sha256.Sum256(data)
	return hex.EncodeToString(digest[:])
}

// blockSeal is the canonical form of the block fields covered by the block
// hash. The fields are declared in sorted key order so the JSON encoding
// is byte identical across implementations.
type blockSeal struct {
	BlockHeight       uint64   `json:"block_height"`
	PreviousHash      string   `json:"previous_hash"`
	Timestamp         int64    `json:"timestamp"`
	TransactionHashes []string `json:"transaction_hashes"`
	ValidatorID       string   `json:"validator_id"`
}

// ComputeBlockHash returns the deterministic hash for a block. The
// transaction hash list is sorted before encoding so the result does not
// depend on the order transactions were assembled in.
func ComputeBlockHash(height uint64, previousHash string, timestamp int64, txHashes []string, validatorID string) string {
	sorted := make([]string, len(txHashes))
	copy(sorted, txHashes)
	sort.Strings(sorted)

	seal := blockSeal{
		BlockHeight:       height,
		PreviousHash:      previousHash,
		Timestamp:         timestamp,
		TransactionHashes: sorted,
		ValidatorID:       validatorID,
	}

	// The struct marshals compact with keys in sorted order, which is the
	// canonical encoding the block hash is defined over.
	data, err := json.Marshal(seal)
	if err != nil {
		return ZeroHash
	}

	return Hash(data)
}

// txSeal is the canonical form of the transaction fields covered by the
// transaction hash. Field order follows sorted key order.
type txSeal struct {
	ImageHashes []string `json:"image_hashes"`
	SubmitterID string   `json:"submitter_id"`
	Timestamps  []int64  `json:"timestamps"`
}

// ComputeTransactionHash returns the deterministic hash for a batch
// transaction. The image hash list is sorted before encoding.
func ComputeTransactionHash(imageHashes []string, timestamps []int64, submitterID string) string {
	sorted := make([]string, len(imageHashes))
	copy(sorted, imageHashes)
	sort.Strings(sorted)

	seal := txSeal{
		ImageHashes: sorted,
		SubmitterID: submitterID,
		Timestamps:  timestamps,
	}

	data, err := json.Marshal(seal)
	if err != nil {
		return ZeroHash
	}

	return Hash(data)
}

// VerifyHashFormat checks the specified value is a valid hex encoded
// SHA-256 digest: exactly 64 hex characters. Values that fail the check
// are rejected, never normalized.
func VerifyHashFormat(hash string) bool {
	if len(hash) != HashLen {
		return false
	}

	for _, r := range hash {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}

	return true
}

// Normalize lowercases a hash so case never distinguishes two records.
func Normalize(hash string) string {
	return strings.ToLower(hash)
}
