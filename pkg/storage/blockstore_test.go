package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/slatechain/slate/pkg/consensus"
	"github.com/slatechain/slate/pkg/crypto"
	"github.com/slatechain/slate/pkg/storage"
)

func testVote(t *testing.T, slot consensus.Slot, head consensus.Hash) consensus.SignedVoteMessage {
	t.Helper()
	signer, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	m := consensus.VoteMessage{Slot: slot, HeadHash: head}
	sig, err := signer.SignDomain(crypto.DomainVote, consensus.EncodeVoteMessage(m))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return consensus.SignedVoteMessage{Message: m, Signature: sig, Sender: signer.Address()}
}

func exerciseStore(t *testing.T, s consensus.BlockStore) {
	t.Helper()

	b := consensus.Block{Slot: 1, Body: []byte("payload")}
	h := consensus.HashOfBlock(b)

	if _, ok := s.GetBlock(h); ok {
		t.Fatal("unknown block should not be found")
	}
	s.SaveBlock(b)
	got, ok := s.GetBlock(h)
	if !ok {
		t.Fatal("saved block not found")
	}
	if consensus.HashOfBlock(got) != h {
		t.Fatal("retrieved block hash mismatch")
	}

	if s.HasComplete(h) {
		t.Fatal("block should not be marked complete yet")
	}
	s.MarkComplete(h)
	if !s.HasComplete(h) {
		t.Fatal("completeness mark not persisted")
	}

	v := testVote(t, 1, h)
	s.SaveVote(v)
	s.SaveVote(v) // idempotent
	votes := s.ListVotes()
	if len(votes) != 1 {
		t.Fatalf("expected 1 vote, got %d", len(votes))
	}
	if votes[0].Sender != v.Sender {
		t.Fatal("vote sender mismatch after round trip")
	}

	if _, ok := s.GetFinalized(); ok {
		t.Fatal("no finalized checkpoint expected yet")
	}
	cp := consensus.Checkpoint{BlockHash: h, CheckpointSlot: 1, BlockSlot: 1}
	s.SetFinalized(cp)
	got2, ok := s.GetFinalized()
	if !ok || got2 != cp {
		t.Fatalf("finalized checkpoint %+v (ok=%v), want %+v", got2, ok, cp)
	}
}

func TestInMemoryBlockStore(t *testing.T) {
	exerciseStore(t, storage.NewInMemoryBlockStore())
}

func TestPebbleStore(t *testing.T) {
	ps, err := storage.NewPebbleStore(filepath.Join(t.TempDir(), "chain"))
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer ps.Close()

	exerciseStore(t, ps)
}

func TestPebbleReplay(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "chain")
	ps, err := storage.NewPebbleStore(dir)
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer ps.Close()

	genesis := consensus.Block{Slot: 0}
	b1 := consensus.Block{ParentHash: consensus.HashOfBlock(genesis), Slot: 1, Body: []byte("b1")}
	b2 := consensus.Block{ParentHash: consensus.HashOfBlock(b1), Slot: 2, Body: []byte("b2")}
	ps.SaveBlock(b1)
	ps.SaveBlock(b2)
	ps.SaveVote(testVote(t, 1, consensus.HashOfBlock(b1)))

	state := consensus.NewNodeState(consensus.Config{Genesis: genesis}, nil)
	if err := ps.Replay(state); err != nil {
		t.Fatalf("replay: %v", err)
	}

	if !state.HasBlock(consensus.HashOfBlock(b2)) {
		t.Fatal("replayed state missing persisted block")
	}
	restored, err := state.BlockByHash(consensus.HashOfBlock(b2))
	if err != nil {
		t.Fatalf("block by hash: %v", err)
	}
	if !state.IsCompleteChain(restored) {
		t.Fatal("replayed ancestry should be complete")
	}
	if len(state.Votes()) != 1 {
		t.Fatalf("expected 1 replayed vote, got %d", len(state.Votes()))
	}
}

func TestPebbleReplayRestoresCompletenessMarks(t *testing.T) {
	ps, err := storage.NewPebbleStore(filepath.Join(t.TempDir(), "chain"))
	if err != nil {
		t.Fatalf("open pebble: %v", err)
	}
	defer ps.Close()

	genesis := consensus.Block{Slot: 0}
	b1 := consensus.Block{ParentHash: consensus.HashOfBlock(genesis), Slot: 1, Body: []byte("b1")}
	b2 := consensus.Block{ParentHash: consensus.HashOfBlock(b1), Slot: 2, Body: []byte("b2")}
	b3 := consensus.Block{ParentHash: consensus.HashOfBlock(b2), Slot: 3, Body: []byte("b3")}

	// b1 was compacted away after its descendants were marked complete;
	// only the marks can answer completeness for b2 after a restart.
	ps.SaveBlock(b2)
	ps.SaveBlock(b3)
	ps.MarkComplete(consensus.HashOfBlock(b2))

	state := consensus.NewNodeState(consensus.Config{Genesis: genesis}, nil)
	if err := ps.Replay(state); err != nil {
		t.Fatalf("replay: %v", err)
	}

	marked, err := state.BlockByHash(consensus.HashOfBlock(b2))
	if err != nil {
		t.Fatalf("block by hash: %v", err)
	}
	if !state.IsCompleteChain(marked) {
		t.Fatal("persisted completeness mark not restored on replay")
	}
	child, err := state.BlockByHash(consensus.HashOfBlock(b3))
	if err != nil {
		t.Fatalf("block by hash: %v", err)
	}
	if !state.IsCompleteChain(child) {
		t.Fatal("descendant of a restored mark should be complete")
	}
}
