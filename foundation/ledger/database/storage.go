package database

import "errors"

// ErrNotFound is returned when a block, record, or proof does not exist.
var ErrNotFound = errors.New("not found")

// Storage interface represents the behavior required to be implemented by
// any package providing support for persisting and reading the ledger.
type Storage interface {
	WriteBlock(data BlockData) error
	GetBlock(height uint64) (BlockData, error)
	GetBlockByHash(hash string) (BlockData, error)
	GetRecord(imageHash string) (ImageHashRecord, error)
	GetProof(imageHash string) (MerkleProofRecord, error)
	CountRecords() (uint64, error)
	GetState() (NodeState, error)
	WriteState(state NodeState) error
	ForEach() Iterator
	WritePending(sub PendingSubmission) error
	UpdatePending(sub PendingSubmission) error
	PendingList() ([]PendingSubmission, error)
	MarkBatched(ids []uint64) error
	Close() error
	Reset() error
}

// Iterator interface represents the behavior required to be implemented
// by any package providing support to iterate over the blocks in height
// order.
type Iterator interface {
	Next() (BlockData, error)
	Done() bool
}
