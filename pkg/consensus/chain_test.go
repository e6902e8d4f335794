package consensus_test

import (
	"errors"
	"testing"

	"github.com/slatechain/slate/pkg/consensus"
)

func TestCompleteChainResolution(t *testing.T) {
	signers := newSigners(t, 1)
	s := newState(t, equalStakes(signers, 1), signers[0])

	b1 := extend(t, s, s.Genesis(), 1, "b1")
	b2 := extend(t, s, b1, 2, "b2")

	if !s.IsCompleteChain(b2) {
		t.Fatal("chain to genesis should be complete")
	}

	// An orphan whose parent is unknown is incomplete until the gap closes.
	gap := consensus.Block{ParentHash: consensus.HashOfBlock(b2), Slot: 3, Body: []byte("gap")}
	orphan := consensus.Block{ParentHash: consensus.HashOfBlock(gap), Slot: 4, Body: []byte("orphan")}
	if err := s.AddBlock(orphan); err != nil {
		t.Fatalf("add orphan: %v", err)
	}
	if s.IsCompleteChain(orphan) {
		t.Fatal("orphan with unknown parent must not be complete")
	}

	if err := s.AddBlock(gap); err != nil {
		t.Fatalf("add gap block: %v", err)
	}
	if !s.IsCompleteChain(orphan) {
		t.Fatal("orphan should become complete once its parent arrives")
	}
}

func TestAddBlockRejectsSlotRegression(t *testing.T) {
	signers := newSigners(t, 1)
	s := newState(t, equalStakes(signers, 1), signers[0])

	b1 := extend(t, s, s.Genesis(), 2, "b1")

	bad := consensus.Block{ParentHash: consensus.HashOfBlock(b1), Slot: 2, Body: []byte("bad")}
	if err := s.AddBlock(bad); !errors.Is(err, consensus.ErrSlotOrder) {
		t.Fatalf("expected ErrSlotOrder, got %v", err)
	}
	bad.Slot = 1
	if err := s.AddBlock(bad); !errors.Is(err, consensus.ErrSlotOrder) {
		t.Fatalf("expected ErrSlotOrder for earlier slot, got %v", err)
	}
}

func TestIsAncestor(t *testing.T) {
	signers := newSigners(t, 1)
	s := newState(t, equalStakes(signers, 1), signers[0])

	b1 := extend(t, s, s.Genesis(), 1, "b1")
	b2 := extend(t, s, b1, 2, "b2")
	fork := extend(t, s, s.Genesis(), 1, "fork")

	if !s.IsAncestor(s.Genesis(), b2) {
		t.Fatal("genesis should be ancestor of b2")
	}
	if !s.IsAncestor(b2, b2) {
		t.Fatal("a block is its own ancestor")
	}
	if s.IsAncestor(b2, b1) {
		t.Fatal("descendant must not be ancestor of its parent")
	}
	if s.IsAncestor(fork, b2) {
		t.Fatal("fork sibling must not be ancestor")
	}
}

func TestBlockKDeep(t *testing.T) {
	signers := newSigners(t, 1)
	s := newState(t, equalStakes(signers, 1), signers[0])

	b1 := extend(t, s, s.Genesis(), 1, "b1")
	b2 := extend(t, s, b1, 2, "b2")
	b3 := extend(t, s, b2, 3, "b3")

	got, err := s.BlockKDeep(b3, 1)
	if err != nil {
		t.Fatalf("k-deep: %v", err)
	}
	if consensus.HashOfBlock(got) != consensus.HashOfBlock(b2) {
		t.Fatalf("1-deep of b3 should be b2, got slot %d", got.Slot)
	}

	got, err = s.BlockKDeep(b3, 10)
	if err != nil {
		t.Fatalf("k-deep beyond genesis: %v", err)
	}
	if consensus.HashOfBlock(got) != s.GenesisHash() {
		t.Fatal("k beyond chain length should clamp to genesis")
	}
}

func TestHeadPicksBestCompleteTip(t *testing.T) {
	signers := newSigners(t, 1)
	s := newState(t, equalStakes(signers, 1), signers[0])

	b1 := extend(t, s, s.Genesis(), 1, "b1")
	b2 := extend(t, s, b1, 2, "b2")
	extend(t, s, s.Genesis(), 1, "short fork")

	// An incomplete branch at a higher slot must not win.
	missing := consensus.Block{ParentHash: consensus.HashOfBlock(b2), Slot: 3, Body: []byte("missing")}
	orphan := consensus.Block{ParentHash: consensus.HashOfBlock(missing), Slot: 9, Body: []byte("orphan")}
	if err := s.AddBlock(orphan); err != nil {
		t.Fatalf("add orphan: %v", err)
	}

	head, err := s.Head()
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if consensus.HashOfBlock(head) != consensus.HashOfBlock(b2) {
		t.Fatalf("expected b2 as head, got slot %d", head.Slot)
	}
}
