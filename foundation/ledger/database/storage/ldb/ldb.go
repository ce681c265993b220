// Package ldb implements the ability to read and write ledger data on
// disk using leveldb. One block commit is applied as a single leveldb
// batch so the chain can never be half written.
package ldb

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/birthmark/provenance/foundation/ledger/database"
)

// Key prefixes for the different row types.
const (
	prefixBlock   = "b/"
	prefixByHash  = "h/"
	prefixRecord  = "r/"
	prefixProof   = "p/"
	prefixPending = "q/"
	keyState      = "s/state"
)

// Ldb represents the disk implementation for reading and storing ledger
// data. This implements the database.Storage interface.
type Ldb struct {
	db *leveldb.DB
}

// New constructs an Ldb value for use, opening or creating the leveldb
// files under the specified path.
func New(dbPath string) (*Ldb, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("opening leveldb at %q: %w", dbPath, err)
	}

	return &Ldb{db: db}, nil
}

// Close releases the leveldb files.
func (l *Ldb) Close() error {
	return l.db.Close()
}

// WriteBlock stores the block, its transactions, records, proofs, and the
// node state update as a single leveldb batch.
func (l *Ldb) WriteBlock(data database.BlockData) error {
	batch := new(leveldb.Batch)

	blockJSON, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling block %d: %w", data.Block.Height, err)
	}
	batch.Put(blockKey(data.Block.Height), blockJSON)
	batch.Put([]byte(prefixByHash+data.Block.BlockHash), heightBytes(data.Block.Height))

	for _, record := range data.Records {
		recordJSON, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling record %s: %w", record.ImageHash, err)
		}
		batch.Put([]byte(prefixRecord+record.ImageHash), recordJSON)
	}

	for _, proof := range data.Proofs {
		proofJSON, err := json.Marshal(proof)
		if err != nil {
			return fmt.Errorf("marshaling proof %s: %w", proof.ImageHash, err)
		}
		batch.Put([]byte(prefixProof+proof.ImageHash), proofJSON)
	}

	stateJSON, err := json.Marshal(data.State)
	if err != nil {
		return fmt.Errorf("marshaling node state: %w", err)
	}
	batch.Put([]byte(keyState), stateJSON)

	return l.db.Write(batch, nil)
}

// GetBlock returns the contents of the block at the specified height.
func (l *Ldb) GetBlock(height uint64) (database.BlockData, error) {
	return l.readBlock(blockKey(height))
}

// GetBlockByHash returns the contents of the block with the specified
// block hash.
func (l *Ldb) GetBlockByHash(hash string) (database.BlockData, error) {
	heightJSON, err := l.db.Get([]byte(prefixByHash+hash), nil)
	if err != nil {
		return database.BlockData{}, mapErr(err)
	}

	return l.readBlock(append([]byte(prefixBlock), heightJSON...))
}

// GetRecord returns the ledger record for the specified image hash.
func (l *Ldb) GetRecord(imageHash string) (database.ImageHashRecord, error) {
	var record database.ImageHashRecord
	if err := l.readJSON(prefixRecord+imageHash, &record); err != nil {
		return database.ImageHashRecord{}, err
	}
	return record, nil
}

// GetProof returns the inclusion proof for the specified image hash.
func (l *Ldb) GetProof(imageHash string) (database.MerkleProofRecord, error) {
	var proof database.MerkleProofRecord
	if err := l.readJSON(prefixProof+imageHash, &proof); err != nil {
		return database.MerkleProofRecord{}, err
	}
	return proof, nil
}

// CountRecords returns the number of image hash records stored.
func (l *Ldb) CountRecords() (uint64, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefixRecord)), nil)
	defer iter.Release()

	var count uint64
	for iter.Next() {
		count++
	}

	return count, iter.Error()
}

// GetState returns the last persisted node state.
func (l *Ldb) GetState() (database.NodeState, error) {
	var state database.NodeState
	if err := l.readJSON(keyState, &state); err != nil {
		return database.NodeState{}, err
	}
	return state, nil
}

// WriteState rewrites the node state outside of a block write.
func (l *Ldb) WriteState(state database.NodeState) error {
	stateJSON, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshaling node state: %w", err)
	}

	return l.db.Put([]byte(keyState), stateJSON, nil)
}

// ForEach returns an iterator to walk through all the blocks starting
// at height 0.
func (l *Ldb) ForEach() database.Iterator {
	return &ldbIterator{storage: l}
}

// Reset clears out all the ledger data.
func (l *Ldb) Reset() error {
	iter := l.db.NewIterator(nil, nil)
	defer iter.Release()

	batch := new(leveldb.Batch)
	for iter.Next() {
		key := make([]byte, len(iter.Key()))
		copy(key, iter.Key())
		batch.Delete(key)
	}
	if err := iter.Error(); err != nil {
		return err
	}

	return l.db.Write(batch, nil)
}

// =============================================================================
// Pending submissions

// WritePending stages a new submission.
func (l *Ldb) WritePending(sub database.PendingSubmission) error {
	subJSON, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("marshaling pending submission %d: %w", sub.ID, err)
	}

	return l.db.Put(pendingKey(sub.ID), subJSON, nil)
}

// UpdatePending rewrites an existing staged submission.
func (l *Ldb) UpdatePending(sub database.PendingSubmission) error {
	has, err := l.db.Has(pendingKey(sub.ID), nil)
	if err != nil {
		return err
	}
	if !has {
		return database.ErrNotFound
	}

	return l.WritePending(sub)
}

// PendingList returns all staged submissions in id order. Ids are
// encoded big endian so the natural key order is the arrival order.
func (l *Ldb) PendingList() ([]database.PendingSubmission, error) {
	iter := l.db.NewIterator(util.BytesPrefix([]byte(prefixPending)), nil)
	defer iter.Release()

	var subs []database.PendingSubmission
	for iter.Next() {
		var sub database.PendingSubmission
		if err := json.Unmarshal(iter.Value(), &sub); err != nil {
			return nil, fmt.Errorf("unmarshaling pending submission: %w", err)
		}
		subs = append(subs, sub)
	}

	return subs, iter.Error()
}

// MarkBatched flags the specified staged submissions as committed. The
// flags for one block are applied as a single batch.
func (l *Ldb) MarkBatched(ids []uint64) error {
	batch := new(leveldb.Batch)

	for _, id := range ids {
		subJSON, err := l.db.Get(pendingKey(id), nil)
		if err != nil {
			return mapErr(err)
		}

		var sub database.PendingSubmission
		if err := json.Unmarshal(subJSON, &sub); err != nil {
			return fmt.Errorf("unmarshaling pending submission %d: %w", id, err)
		}

		sub.Batched = true
		updated, err := json.Marshal(sub)
		if err != nil {
			return fmt.Errorf("marshaling pending submission %d: %w", id, err)
		}
		batch.Put(pendingKey(id), updated)
	}

	return l.db.Write(batch, nil)
}

// =============================================================================

// ldbIterator represents the iteration implementation for walking
// through the blocks on disk in height order. This implements the
// database.Iterator interface.
type ldbIterator struct {
	storage *Ldb
	current uint64
	eoc     bool
}

// Next retrieves the next block in height order.
func (li *ldbIterator) Next() (database.BlockData, error) {
	if li.eoc {
		return database.BlockData{}, database.ErrNotFound
	}

	data, err := li.storage.GetBlock(li.current)
	if err != nil {
		li.eoc = true
		return database.BlockData{}, err
	}

	li.current++
	has, err := li.storage.db.Has(blockKey(li.current), nil)
	if err != nil || !has {
		li.eoc = true
	}

	return data, nil
}

// Done returns the end of chain value.
func (li *ldbIterator) Done() bool {
	return li.eoc
}

// =============================================================================

func (l *Ldb) readBlock(key []byte) (database.BlockData, error) {
	blockJSON, err := l.db.Get(key, nil)
	if err != nil {
		return database.BlockData{}, mapErr(err)
	}

	var data database.BlockData
	if err := json.Unmarshal(blockJSON, &data); err != nil {
		return database.BlockData{}, fmt.Errorf("unmarshaling block: %w", err)
	}

	return data, nil
}

func (l *Ldb) readJSON(key string, v any) error {
	data, err := l.db.Get([]byte(key), nil)
	if err != nil {
		return mapErr(err)
	}

	return json.Unmarshal(data, v)
}

// blockKey encodes heights big endian hex so leveldb key order matches
// height order.
func blockKey(height uint64) []byte {
	return append([]byte(prefixBlock), heightBytes(height)...)
}

func heightBytes(height uint64) []byte {
	return []byte(fmt.Sprintf("%016x", height))
}

func pendingKey(id uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixPending, id))
}

func mapErr(err error) error {
	if errors.Is(err, leveldb.ErrNotFound) {
		return database.ErrNotFound
	}
	return err
}
