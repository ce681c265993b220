package state

import (
	"errors"
	"fmt"
	"time"

	"github.com/birthmark/provenance/foundation/ledger/database"
	"github.com/birthmark/provenance/foundation/ledger/nuccache"
	"github.com/birthmark/provenance/foundation/ledger/signature"
)

// Status is a point in time snapshot of the node.
type Status struct {
	NodeID             string                            `json:"node_id"`
	CurrentBlockHeight uint64                            `json:"current_block_height"`
	TotalHashes        uint64                            `json:"total_hashes"`
	GenesisHash        string                            `json:"genesis_hash"`
	LastBlockTime      time.Time                         `json:"last_block_time"`
	Pending            map[database.ValidationStatus]int `json:"pending"`
}

// Verify looks up the ledger record for the specified image hash.
func (s *State) Verify(imageHash string) (database.ImageHashRecord, error) {
	return s.db.VerifyImageHash(imageHash)
}

// History walks the parent links of the specified image hash and
// returns the modification chain, most recent first. The walk is
// bounded and stops at a missing parent.
func (s *State) History(imageHash string) ([]database.ImageHashRecord, error) {
	var chain []database.ImageHashRecord
	seen := make(map[string]bool)

	current := signature.Normalize(imageHash)
	for depth := 0; depth < maxHistoryDepth; depth++ {
		if current == "" || seen[current] {
			break
		}
		seen[current] = true

		record, err := s.db.VerifyImageHash(current)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) && len(chain) > 0 {
				break
			}
			return nil, err
		}

		chain = append(chain, record)
		current = record.ParentImageHash
	}

	return chain, nil
}

// MerkleProof returns the persisted inclusion proof for the specified
// image hash.
func (s *State) MerkleProof(imageHash string) (database.MerkleProofRecord, error) {
	return s.db.Proof(imageHash)
}

// BlockByHeight returns the block stored at the specified height.
func (s *State) BlockByHeight(height uint64) (database.BlockData, error) {
	return s.db.GetBlockByHeight(height)
}

// BlockByHash returns the block stored with the specified hash.
func (s *State) BlockByHash(hash string) (database.BlockData, error) {
	return s.db.GetBlockByHash(hash)
}

// LatestBlock returns the latest block on the chain.
func (s *State) LatestBlock() (database.Block, bool) {
	return s.db.LatestBlock()
}

// Status returns the node status snapshot.
func (s *State) Status() (Status, error) {
	pending, err := s.db.PendingCounts()
	if err != nil {
		return Status{}, fmt.Errorf("counting staged submissions: %w", err)
	}

	ns := s.db.State()

	return Status{
		NodeID:             ns.NodeID,
		CurrentBlockHeight: ns.CurrentBlockHeight,
		TotalHashes:        ns.TotalHashes,
		GenesisHash:        ns.GenesisHash,
		LastBlockTime:      ns.LastBlockTime,
		Pending:            pending,
	}, nil
}

// CacheStatistics returns the verdict cache counters. A node running
// without a cache reports zero values.
func (s *State) CacheStatistics() nuccache.Stats {
	if s.cache == nil {
		return nuccache.Stats{}
	}
	return s.cache.Statistics()
}
