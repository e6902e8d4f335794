package consensus_test

import (
	"errors"
	"testing"

	"github.com/slatechain/slate/pkg/consensus"
)

func TestProposerDeterministic(t *testing.T) {
	signers := newSigners(t, 4)
	balances := make(consensus.ValidatorBalances)
	for i, sg := range signers {
		balances[sg.Address()] = uint64(i + 1)
	}
	s := newState(t, balances, signers[0])
	b1 := extend(t, s, s.Genesis(), 1, "b1")

	first, err := s.ProposerForSlot(b1, 5)
	if err != nil {
		t.Fatalf("proposer: %v", err)
	}
	second, err := s.ProposerForSlot(b1, 5)
	if err != nil {
		t.Fatalf("proposer: %v", err)
	}
	if first != second {
		t.Fatalf("same inputs gave different proposers: %s vs %s", first.Hex(), second.Hex())
	}
	if !consensus.IsValidator(first, balances) {
		t.Fatalf("elected proposer %s is not a validator", first.Hex())
	}
}

func TestSingleValidatorAlwaysProposes(t *testing.T) {
	signers := newSigners(t, 1)
	s := newState(t, equalStakes(signers, 1), signers[0])

	for slot := consensus.Slot(1); slot <= 5; slot++ {
		p, err := s.ProposerForSlot(s.Genesis(), slot)
		if err != nil {
			t.Fatalf("proposer slot %d: %v", slot, err)
		}
		if p != signers[0].Address() {
			t.Fatalf("slot %d elected %s, want the only validator", slot, p.Hex())
		}
	}
}

func TestProposerEmptySet(t *testing.T) {
	signers := newSigners(t, 1)
	s := newState(t, consensus.ValidatorBalances{}, signers[0])

	if _, err := s.ProposerForSlot(s.Genesis(), 1); !errors.Is(err, consensus.ErrEmptyValidatorSet) {
		t.Fatalf("expected ErrEmptyValidatorSet, got %v", err)
	}
}

func TestProposerStakeWeighting(t *testing.T) {
	signers := newSigners(t, 2)
	whale := signers[1].Address()
	s := newState(t, consensus.ValidatorBalances{
		signers[0].Address(): 1,
		whale:                1_000_000,
	}, signers[0])

	wins := 0
	for slot := consensus.Slot(1); slot <= 64; slot++ {
		p, err := s.ProposerForSlot(s.Genesis(), slot)
		if err != nil {
			t.Fatalf("proposer slot %d: %v", slot, err)
		}
		if p == whale {
			wins++
		}
	}
	if wins < 60 {
		t.Fatalf("validator holding ~100%% of stake won only %d/64 slots", wins)
	}
}
