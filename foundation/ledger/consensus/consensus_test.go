package consensus_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/birthmark/provenance/foundation/ledger/consensus"
	"github.com/birthmark/provenance/foundation/ledger/database"
	"github.com/birthmark/provenance/foundation/ledger/signature"
)

type ledgerStub struct {
	latest database.Block
	exists bool
}

func (ls *ledgerStub) LatestBlock() (database.Block, bool) {
	return ls.latest, ls.exists
}

func testKeys(t *testing.T) *signature.Keys {
	keys, err := signature.GenerateKeys()
	if err != nil {
		t.Fatal(err)
	}
	return keys
}

func batch() database.BatchTx {
	return database.BatchTx{
		SubmitterID: "sub-1",
		ImageHashes: []string{strings.Repeat("a", 64)},
		Timestamps:  []int64{1700000000},
	}
}

func Test_SingleNodeGenesisProposal(t *testing.T) {
	engine, err := consensus.New(consensus.Config{
		Engine: consensus.EngineSingleNode,
		Ledger: &ledgerStub{},
	})
	if err != nil {
		t.Fatal(err)
	}

	keys := testKeys(t)

	proposal, err := engine.ProposeBlock(context.Background(), []database.BatchTx{batch()}, "node-1", keys)
	if err != nil {
		t.Fatal(err)
	}

	if proposal.BlockHeight != 0 {
		t.Fatalf("first proposal height: got %d, exp 0", proposal.BlockHeight)
	}
	if proposal.PreviousHash != signature.ZeroHash {
		t.Fatalf("first proposal previous hash: got %s", proposal.PreviousHash)
	}
	if proposal.ValidatorID != "node-1" {
		t.Fatalf("validator id: got %s", proposal.ValidatorID)
	}
	if proposal.Signature == "" {
		t.Fatal("proposal is not signed")
	}
}

func Test_SingleNodeExtendsChain(t *testing.T) {
	latest := database.Block{Height: 4, BlockHash: strings.Repeat("b", 64)}

	engine, err := consensus.New(consensus.Config{
		Ledger: &ledgerStub{latest: latest, exists: true},
	})
	if err != nil {
		t.Fatal(err)
	}

	proposal, err := engine.ProposeBlock(context.Background(), []database.BatchTx{batch()}, "node-1", testKeys(t))
	if err != nil {
		t.Fatal(err)
	}

	if proposal.BlockHeight != 5 {
		t.Fatalf("proposal height: got %d, exp 5", proposal.BlockHeight)
	}
	if proposal.PreviousHash != latest.BlockHash {
		t.Fatal("proposal does not link to the latest block")
	}
}

func Test_SingleNodeEmptyBatchSet(t *testing.T) {
	engine, err := consensus.New(consensus.Config{Ledger: &ledgerStub{}})
	if err != nil {
		t.Fatal(err)
	}

	proposal, err := engine.ProposeBlock(context.Background(), nil, "node-1", testKeys(t))
	if err != nil {
		t.Fatalf("empty batch set must not error: %v", err)
	}
	if proposal != nil {
		t.Fatal("empty batch set must not produce a proposal")
	}
}

func Test_SingleNodeNoopPeers(t *testing.T) {
	engine, err := consensus.New(consensus.Config{Ledger: &ledgerStub{}})
	if err != nil {
		t.Fatal(err)
	}

	if err := engine.BroadcastBlock(context.Background(), &consensus.Proposal{}); err != nil {
		t.Fatal(err)
	}
	if err := engine.SyncWithPeers(context.Background()); err != nil {
		t.Fatal(err)
	}
}

func Test_PoAStub(t *testing.T) {
	if _, err := consensus.New(consensus.Config{Engine: consensus.EnginePoA}); !errors.Is(err, consensus.ErrEmptyValidatorSet) {
		t.Fatalf("empty validator set: got %v, exp ErrEmptyValidatorSet", err)
	}

	engine, err := consensus.New(consensus.Config{
		Engine:     consensus.EnginePoA,
		Validators: []string{"v1", "v2", "v3", "v4"},
	})
	if err != nil {
		t.Fatal(err)
	}

	poa := engine.(*consensus.PoA)
	if poa.Quorum() != 3 {
		t.Fatalf("quorum for 4 validators: got %d, exp 3", poa.Quorum())
	}

	if _, err := engine.ProposeBlock(context.Background(), []database.BatchTx{batch()}, "v1", testKeys(t)); !errors.Is(err, consensus.ErrNotImplemented) {
		t.Fatalf("poa propose: got %v, exp ErrNotImplemented", err)
	}
	if err := engine.BroadcastBlock(context.Background(), &consensus.Proposal{}); !errors.Is(err, consensus.ErrNotImplemented) {
		t.Fatalf("poa broadcast: got %v, exp ErrNotImplemented", err)
	}
	if err := engine.SyncWithPeers(context.Background()); !errors.Is(err, consensus.ErrNotImplemented) {
		t.Fatalf("poa sync: got %v, exp ErrNotImplemented", err)
	}
}

func Test_UnknownEngine(t *testing.T) {
	if _, err := consensus.New(consensus.Config{Engine: "raft"}); !errors.Is(err, consensus.ErrUnknownEngine) {
		t.Fatalf("got %v, exp ErrUnknownEngine", err)
	}
}
