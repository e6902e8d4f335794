package consensus_test

import (
	"testing"

	"github.com/slatechain/slate/pkg/consensus"
	"github.com/slatechain/slate/pkg/crypto"
)

func newSigners(t *testing.T, n int) []*crypto.Signer {
	t.Helper()
	out := make([]*crypto.Signer, n)
	for i := range out {
		s, err := crypto.GenerateKey()
		if err != nil {
			t.Fatalf("generate key %d: %v", i, err)
		}
		out[i] = s
	}
	return out
}

func equalStakes(signers []*crypto.Signer, stake uint64) consensus.ValidatorBalances {
	out := make(consensus.ValidatorBalances, len(signers))
	for _, s := range signers {
		out[s.Address()] = stake
	}
	return out
}

func newState(t *testing.T, balances consensus.ValidatorBalances, signer *crypto.Signer) *consensus.NodeState {
	t.Helper()
	return consensus.NewNodeState(consensus.Config{
		Genesis:         consensus.Block{Slot: 0},
		GenesisBalances: balances,
		ConfirmDepth:    1,
	}, signer)
}

// extend adds a child of parent at slot to the state and returns it. The body
// disambiguates forks: two children of the same parent at the same slot need
// different bodies to have different hashes.
func extend(t *testing.T, s *consensus.NodeState, parent consensus.Block, slot consensus.Slot, body string) consensus.Block {
	t.Helper()
	b := consensus.Block{
		ParentHash: consensus.HashOfBlock(parent),
		Slot:       slot,
		Body:       []byte(body),
	}
	if err := s.AddBlock(b); err != nil {
		t.Fatalf("add block at slot %d: %v", slot, err)
	}
	return b
}

func signVote(t *testing.T, signer *crypto.Signer, m consensus.VoteMessage) consensus.SignedVoteMessage {
	t.Helper()
	sig, err := signer.SignDomain(crypto.DomainVote, consensus.EncodeVoteMessage(m))
	if err != nil {
		t.Fatalf("sign vote: %v", err)
	}
	return consensus.SignedVoteMessage{Message: m, Signature: sig, Sender: signer.Address()}
}

func checkpointOf(b consensus.Block, slot consensus.Slot) consensus.Checkpoint {
	return consensus.Checkpoint{
		BlockHash:      consensus.HashOfBlock(b),
		CheckpointSlot: slot,
		BlockSlot:      b.Slot,
	}
}

// headVote is the common shape: vote for head at slot, targeting target and
// sourcing source.
func headVote(t *testing.T, signer *crypto.Signer, slot consensus.Slot, head consensus.Block, source, target consensus.Checkpoint) consensus.SignedVoteMessage {
	t.Helper()
	return signVote(t, signer, consensus.VoteMessage{
		Slot:     slot,
		HeadHash: consensus.HashOfBlock(head),
		Source:   source,
		Target:   target,
	})
}
