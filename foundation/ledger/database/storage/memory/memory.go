// Package memory implements the ability to read and write ledger data in
// memory. It is used for tests and for running a throwaway node.
package memory

import (
	"fmt"
	"sync"

	"github.com/birthmark/provenance/foundation/ledger/database"
)

// Memory represents the in memory implementation for reading and storing
// ledger data. This implements the database.Storage interface.
type Memory struct {
	mu       sync.RWMutex
	blocks   []database.BlockData
	byHash   map[string]int
	records  map[string]database.ImageHashRecord
	proofs   map[string]database.MerkleProofRecord
	state    *database.NodeState
	pending  map[uint64]database.PendingSubmission
	pendIDs  []uint64
}

// New constructs a Memory value for use.
func New() (*Memory, error) {
	return &Memory{
		byHash:  make(map[string]int),
		records: make(map[string]database.ImageHashRecord),
		proofs:  make(map[string]database.MerkleProofRecord),
		pending: make(map[uint64]database.PendingSubmission),
	}, nil
}

// Close in this implementation has nothing to do since everything
// is in memory.
func (m *Memory) Close() error {
	return nil
}

// WriteBlock stores the block, its transactions, records, proofs, and the
// node state update as one unit under the write lock.
func (m *Memory) WriteBlock(data database.BlockData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.blocks) != int(data.Block.Height) {
		return fmt.Errorf("block %d is out of order", data.Block.Height)
	}

	m.blocks = append(m.blocks, data)
	m.byHash[data.Block.BlockHash] = int(data.Block.Height)

	for _, record := range data.Records {
		m.records[record.ImageHash] = record
	}
	for _, proof := range data.Proofs {
		m.proofs[proof.ImageHash] = proof
	}

	state := data.State
	m.state = &state

	return nil
}

// GetBlock returns the contents of the block at the specified height.
func (m *Memory) GetBlock(height uint64) (database.BlockData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if height >= uint64(len(m.blocks)) {
		return database.BlockData{}, database.ErrNotFound
	}

	return m.blocks[height], nil
}

// GetBlockByHash returns the contents of the block with the specified
// block hash.
func (m *Memory) GetBlockByHash(hash string) (database.BlockData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	height, exists := m.byHash[hash]
	if !exists {
		return database.BlockData{}, database.ErrNotFound
	}

	return m.blocks[height], nil
}

// GetRecord returns the ledger record for the specified image hash.
func (m *Memory) GetRecord(imageHash string) (database.ImageHashRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	record, exists := m.records[imageHash]
	if !exists {
		return database.ImageHashRecord{}, database.ErrNotFound
	}

	return record, nil
}

// GetProof returns the inclusion proof for the specified image hash.
func (m *Memory) GetProof(imageHash string) (database.MerkleProofRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	proof, exists := m.proofs[imageHash]
	if !exists {
		return database.MerkleProofRecord{}, database.ErrNotFound
	}

	return proof, nil
}

// CountRecords returns the number of image hash records stored.
func (m *Memory) CountRecords() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return uint64(len(m.records)), nil
}

// GetState returns the last persisted node state.
func (m *Memory) GetState() (database.NodeState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.state == nil {
		return database.NodeState{}, database.ErrNotFound
	}

	return *m.state, nil
}

// WriteState rewrites the node state outside of a block write.
func (m *Memory) WriteState(state database.NodeState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.state = &state
	return nil
}

// ForEach returns an iterator to walk through all the blocks starting
// at height 0.
func (m *Memory) ForEach() database.Iterator {
	return &memoryIterator{storage: m}
}

// Reset clears out all the ledger data.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = nil
	m.byHash = make(map[string]int)
	m.records = make(map[string]database.ImageHashRecord)
	m.proofs = make(map[string]database.MerkleProofRecord)
	m.state = nil
	m.pending = make(map[uint64]database.PendingSubmission)
	m.pendIDs = nil

	return nil
}

// =============================================================================
// Pending submissions

// WritePending stages a new submission.
func (m *Memory) WritePending(sub database.PendingSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pending[sub.ID]; !exists {
		m.pendIDs = append(m.pendIDs, sub.ID)
	}
	m.pending[sub.ID] = sub

	return nil
}

// UpdatePending rewrites an existing staged submission.
func (m *Memory) UpdatePending(sub database.PendingSubmission) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pending[sub.ID]; !exists {
		return database.ErrNotFound
	}
	m.pending[sub.ID] = sub

	return nil
}

// PendingList returns all staged submissions in arrival order.
func (m *Memory) PendingList() ([]database.PendingSubmission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	subs := make([]database.PendingSubmission, 0, len(m.pendIDs))
	for _, id := range m.pendIDs {
		subs = append(subs, m.pending[id])
	}

	return subs, nil
}

// MarkBatched flags the specified staged submissions as committed.
func (m *Memory) MarkBatched(ids []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range ids {
		sub, exists := m.pending[id]
		if !exists {
			return database.ErrNotFound
		}
		sub.Batched = true
		m.pending[id] = sub
	}

	return nil
}

// =============================================================================

// memoryIterator represents the iteration implementation for walking
// through the blocks in memory. This implements the database.Iterator
// interface.
type memoryIterator struct {
	storage *Memory
	current uint64
	eoc     bool
}

// Next retrieves the next block in height order.
func (mi *memoryIterator) Next() (database.BlockData, error) {
	if mi.eoc {
		return database.BlockData{}, database.ErrNotFound
	}

	data, err := mi.storage.GetBlock(mi.current)
	if err != nil {
		mi.eoc = true
		return database.BlockData{}, err
	}

	mi.current++
	mi.storage.mu.RLock()
	mi.eoc = mi.current >= uint64(len(mi.storage.blocks))
	mi.storage.mu.RUnlock()

	return data, nil
}

// Done returns the end of chain value.
func (mi *memoryIterator) Done() bool {
	return mi.eoc
}
