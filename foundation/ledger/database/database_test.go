package database_test

import (
	"errors"
	"testing"
	"time"

	"github.com/birthmark/provenance/foundation/ledger/database"
	"github.com/birthmark/provenance/foundation/ledger/database/storage/memory"
	"github.com/birthmark/provenance/foundation/ledger/merkle"
	"github.com/birthmark/provenance/foundation/ledger/signature"
)

func ifErrFailNow(t *testing.T, err error) {
	if err != nil {
		t.Error(err)
		t.FailNow()
	}
}

func noopEv(v string, args ...any) {}

func testDB(t *testing.T) *database.Database {
	storage, err := memory.New()
	ifErrFailNow(t, err)

	db, err := database.New("node-test", storage, noopEv)
	ifErrFailNow(t, err)

	return db
}

func imageHash(b byte) string {
	h := make([]byte, 0, signature.HashLen)
	for i := 0; i < signature.HashLen; i++ {
		h = append(h, "0123456789abcdef"[int(b)%16])
	}
	return string(h)
}

func Test_StoreAndReadBlocks(t *testing.T) {
	db := testDB(t)

	genesis, err := db.StoreBlock(0, signature.ZeroHash, 1700000000, "node-test", []database.BatchTx{
		{
			SubmitterID: "node-test",
			ImageHashes: []string{imageHash(1)},
			Timestamps:  []int64{1700000000},
		},
	}, "")
	ifErrFailNow(t, err)

	if genesis.Height != 0 {
		t.Fatalf("genesis height: got %d, exp 0", genesis.Height)
	}
	if genesis.PreviousHash != signature.ZeroHash {
		t.Fatalf("genesis previous hash: got %s", genesis.PreviousHash)
	}

	ts := int64(1700000125)
	block, err := db.StoreBlock(1, genesis.BlockHash, ts, "node-test", []database.BatchTx{
		{
			SubmitterID: "sub-1",
			ImageHashes: []string{imageHash(2), imageHash(3)},
			Timestamps:  []int64{ts, ts},
			Levels:      []int{0, 1},
		},
	}, "")
	ifErrFailNow(t, err)

	if block.Height != 1 {
		t.Fatalf("block height: got %d, exp 1", block.Height)
	}
	if block.TransactionCount != 1 {
		t.Fatalf("transaction count: got %d, exp 1", block.TransactionCount)
	}

	latest, exists := db.LatestBlock()
	if !exists || latest.BlockHash != block.BlockHash {
		t.Fatal("latest block does not match the last stored block")
	}

	byHeight, err := db.GetBlockByHeight(1)
	ifErrFailNow(t, err)
	byHash, err := db.GetBlockByHash(block.BlockHash)
	ifErrFailNow(t, err)
	if byHeight.Block.BlockHash != byHash.Block.BlockHash {
		t.Fatal("height and hash lookups disagree")
	}

	record, err := db.VerifyImageHash(imageHash(3))
	ifErrFailNow(t, err)
	if record.BlockHeight != 1 {
		t.Fatalf("record block height: got %d, exp 1", record.BlockHeight)
	}
	if record.ModificationLevel != 1 {
		t.Fatalf("record modification level: got %d, exp 1", record.ModificationLevel)
	}
	if record.Timestamp != ts-ts%60 {
		t.Fatalf("record timestamp not rounded to the minute: got %d", record.Timestamp)
	}

	total, err := db.TotalHashCount()
	ifErrFailNow(t, err)
	if total != 3 {
		t.Fatalf("total hash count: got %d, exp 3", total)
	}

	state := db.State()
	if state.CurrentBlockHeight != 1 || state.TotalHashes != 3 {
		t.Fatalf("node state not updated: %+v", state)
	}
	if state.GenesisHash != genesis.BlockHash {
		t.Fatal("genesis hash not recorded in node state")
	}
}

func Test_StoreBlockUppercaseNormalized(t *testing.T) {
	db := testDB(t)

	upper := "ABCDEF" + imageHash(0)[6:]

	_, err := db.StoreBlock(0, signature.ZeroHash, 1700000000, "node-test", []database.BatchTx{
		{
			SubmitterID: "sub-1",
			ImageHashes: []string{upper},
			Timestamps:  []int64{1700000000},
		},
	}, "")
	ifErrFailNow(t, err)

	if _, err := db.VerifyImageHash(upper); err != nil {
		t.Fatal("uppercase lookup should find the normalized record")
	}

	record, err := db.VerifyImageHash(signature.Normalize(upper))
	ifErrFailNow(t, err)
	if record.ImageHash != signature.Normalize(upper) {
		t.Fatal("record stored with uppercase hash")
	}
}

func Test_StoreBlockChainChecks(t *testing.T) {
	db := testDB(t)

	tx := database.BatchTx{
		SubmitterID: "sub-1",
		ImageHashes: []string{imageHash(1)},
		Timestamps:  []int64{1700000000},
	}

	if _, err := db.StoreBlock(0, signature.ZeroHash, 1700000000, "node-test", nil, ""); !errors.Is(err, database.ErrNoTransactions) {
		t.Fatalf("empty block: got %v, exp ErrNoTransactions", err)
	}

	if _, err := db.StoreBlock(1, signature.ZeroHash, 1700000000, "node-test", []database.BatchTx{tx}, ""); !errors.Is(err, database.ErrChainBroken) {
		t.Fatalf("non genesis first block: got %v, exp ErrChainBroken", err)
	}

	genesis, err := db.StoreBlock(0, signature.ZeroHash, 1700000000, "node-test", []database.BatchTx{tx}, "")
	ifErrFailNow(t, err)

	tx2 := tx
	tx2.ImageHashes = []string{imageHash(2)}

	if _, err := db.StoreBlock(2, genesis.BlockHash, 1700000060, "node-test", []database.BatchTx{tx2}, ""); !errors.Is(err, database.ErrChainBroken) {
		t.Fatalf("skipped height: got %v, exp ErrChainBroken", err)
	}

	if _, err := db.StoreBlock(1, imageHash(9), 1700000060, "node-test", []database.BatchTx{tx2}, ""); !errors.Is(err, database.ErrChainBroken) {
		t.Fatalf("wrong previous hash: got %v, exp ErrChainBroken", err)
	}
}

func Test_ProofsPersisted(t *testing.T) {
	db := testDB(t)

	hashes := []string{imageHash(1), imageHash(2), imageHash(3)}

	_, err := db.StoreBlock(0, signature.ZeroHash, 1700000000, "node-test", []database.BatchTx{
		{
			SubmitterID: "sub-1",
			ImageHashes: hashes,
			Timestamps:  []int64{1700000000, 1700000000, 1700000000},
		},
	}, "")
	ifErrFailNow(t, err)

	for _, h := range hashes {
		proof, err := db.Proof(h)
		ifErrFailNow(t, err)

		if !merkle.VerifyProof(h, proof.Path, proof.MerkleRoot) {
			t.Fatalf("persisted proof for %s does not verify", h)
		}
	}

	if _, err := db.Proof(imageHash(9)); !errors.Is(err, database.ErrNotFound) {
		t.Fatalf("unknown hash proof: got %v, exp ErrNotFound", err)
	}
}

func Test_ReplayOnRestart(t *testing.T) {
	storage, err := memory.New()
	ifErrFailNow(t, err)

	db, err := database.New("node-test", storage, noopEv)
	ifErrFailNow(t, err)

	genesis, err := db.StoreBlock(0, signature.ZeroHash, 1700000000, "node-test", []database.BatchTx{
		{SubmitterID: "sub-1", ImageHashes: []string{imageHash(1)}, Timestamps: []int64{1700000000}},
	}, "")
	ifErrFailNow(t, err)

	_, err = db.StoreBlock(1, genesis.BlockHash, 1700000060, "node-test", []database.BatchTx{
		{SubmitterID: "sub-1", ImageHashes: []string{imageHash(2)}, Timestamps: []int64{1700000060}},
	}, "")
	ifErrFailNow(t, err)

	// Same storage, fresh database. The chain is replayed and validated.
	db2, err := database.New("node-test", storage, noopEv)
	ifErrFailNow(t, err)

	latest, exists := db2.LatestBlock()
	if !exists || latest.Height != 1 {
		t.Fatalf("replayed latest block: got %+v exists %v", latest, exists)
	}

	state := db2.State()
	if state.TotalHashes != 2 {
		t.Fatalf("replayed state total: got %d, exp 2", state.TotalHashes)
	}
}

func Test_NodeStateRepair(t *testing.T) {
	storage, err := memory.New()
	ifErrFailNow(t, err)

	db, err := database.New("node-test", storage, noopEv)
	ifErrFailNow(t, err)

	block, err := db.StoreBlock(0, signature.ZeroHash, 1700000000, "node-test", []database.BatchTx{
		{SubmitterID: "sub-1", ImageHashes: []string{imageHash(1), imageHash(2)}, Timestamps: []int64{1700000000, 1700000000}},
	}, "")
	ifErrFailNow(t, err)

	ifErrFailNow(t, db.UpdateNodeState(block.Height, block.BlockHash))

	// The repair path recounts the stored records, never increments.
	state := db.State()
	if state.CurrentBlockHeight != 0 || state.TotalHashes != 2 {
		t.Fatalf("repaired state: %+v", state)
	}
	if state.LastBlockTime.IsZero() {
		t.Fatal("last block time not set by the repair")
	}

	// The rewritten state survives a restart.
	db2, err := database.New("node-test", storage, noopEv)
	ifErrFailNow(t, err)

	if state2 := db2.State(); state2.TotalHashes != 2 {
		t.Fatalf("repaired state not persisted: %+v", state2)
	}
}

func Test_PendingLifecycle(t *testing.T) {
	db := testDB(t)

	sub, err := db.AddPending(database.PendingSubmission{
		ImageHash:   imageHash(1),
		Timestamp:   1700000000,
		SubmitterID: "sub-1",
		AuthorityID: "authority-1",
	})
	ifErrFailNow(t, err)

	if sub.ID == 0 || sub.Status != database.StatusPending {
		t.Fatalf("staged submission not initialized: %+v", sub)
	}

	due, err := db.PendingForValidation(10, 3, time.Now())
	ifErrFailNow(t, err)
	if len(due) != 1 {
		t.Fatalf("due for validation: got %d, exp 1", len(due))
	}

	// A submission waiting for its retry window is not due.
	sub.RetryCount = 1
	sub.NextRetry = time.Now().Add(time.Minute)
	ifErrFailNow(t, db.UpdatePending(sub))

	due, err = db.PendingForValidation(10, 3, time.Now())
	ifErrFailNow(t, err)
	if len(due) != 0 {
		t.Fatalf("backoff ignored: got %d due, exp 0", len(due))
	}

	sub.Status = database.StatusValidated
	ifErrFailNow(t, db.UpdatePending(sub))

	ready, err := db.PendingForBatch(10)
	ifErrFailNow(t, err)
	if len(ready) != 1 {
		t.Fatalf("ready for batch: got %d, exp 1", len(ready))
	}

	ifErrFailNow(t, db.MarkBatched([]uint64{sub.ID}))

	ready, err = db.PendingForBatch(10)
	ifErrFailNow(t, err)
	if len(ready) != 0 {
		t.Fatalf("batched submission still ready: got %d", len(ready))
	}

	counts, err := db.PendingCounts()
	ifErrFailNow(t, err)
	if counts[database.StatusValidated] != 0 {
		t.Fatalf("batched submission still counted: %+v", counts)
	}
}
