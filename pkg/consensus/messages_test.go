package consensus_test

import (
	"errors"
	"testing"

	"github.com/slatechain/slate/pkg/consensus"
)

func TestVoteSignatureRoundTrip(t *testing.T) {
	signers := newSigners(t, 1)
	s := newState(t, equalStakes(signers, 1), signers[0])

	m := consensus.VoteMessage{
		Slot:     3,
		HeadHash: s.GenesisHash(),
		Source:   s.GenesisCheckpoint(),
		Target:   checkpointOf(s.Genesis(), 3),
	}
	sv, err := s.SignVoteMessage(m)
	if err != nil {
		t.Fatalf("sign vote: %v", err)
	}

	if !consensus.VerifyVoteSignature(sv) {
		t.Fatal("own vote signature must verify")
	}
	signer, err := consensus.SignerOfVoteMessage(sv)
	if err != nil {
		t.Fatalf("recover signer: %v", err)
	}
	if signer != s.Identity() {
		t.Fatalf("recovered %s, want %s", signer.Hex(), s.Identity().Hex())
	}
}

func TestVoteSignatureTamper(t *testing.T) {
	signers := newSigners(t, 2)
	s := newState(t, equalStakes(signers, 1), signers[0])

	sv, err := s.SignVoteMessage(consensus.VoteMessage{
		Slot:     1,
		HeadHash: s.GenesisHash(),
		Source:   s.GenesisCheckpoint(),
		Target:   checkpointOf(s.Genesis(), 1),
	})
	if err != nil {
		t.Fatalf("sign vote: %v", err)
	}

	tampered := sv
	tampered.Message.Slot = 2
	if consensus.VerifyVoteSignature(tampered) {
		t.Fatal("tampered vote must not verify")
	}
	if _, err := consensus.SignerOfVoteMessage(tampered); !errors.Is(err, consensus.ErrUnresolvedSigner) {
		t.Fatalf("expected ErrUnresolvedSigner, got %v", err)
	}

	misclaimed := sv
	misclaimed.Sender = signers[1].Address()
	if consensus.VerifyVoteSignature(misclaimed) {
		t.Fatal("vote with wrong claimed sender must not verify")
	}
	if _, err := consensus.SignerOfVoteMessage(misclaimed); !errors.Is(err, consensus.ErrUnresolvedSigner) {
		t.Fatalf("expected ErrUnresolvedSigner for misclaimed sender, got %v", err)
	}
}

func TestProposeSignatureCommitsToVotes(t *testing.T) {
	signers := newSigners(t, 2)
	s := newState(t, equalStakes(signers, 1), signers[0])

	carried := signVote(t, signers[1], consensus.VoteMessage{
		Slot:     1,
		HeadHash: s.GenesisHash(),
		Source:   s.GenesisCheckpoint(),
		Target:   checkpointOf(s.Genesis(), 1),
	})

	block := consensus.Block{
		ParentHash: s.GenesisHash(),
		Slot:       1,
		Proposer:   s.Identity(),
		Votes:      []consensus.SignedVoteMessage{carried},
	}
	sp, err := s.SignProposeMessage(consensus.ProposeMessage{
		Block:             block,
		GreatestJustified: s.GenesisCheckpoint(),
	})
	if err != nil {
		t.Fatalf("sign propose: %v", err)
	}
	if !consensus.VerifyProposeSignature(sp) {
		t.Fatal("proposal signature must verify")
	}

	stripped := sp
	stripped.Message.Block.Votes = nil
	if consensus.VerifyProposeSignature(stripped) {
		t.Fatal("dropping carried votes must break the proposal signature")
	}
}

func TestSigningRequiresSigner(t *testing.T) {
	observers := newSigners(t, 1)
	s := newState(t, equalStakes(observers, 1), nil)

	if _, err := s.SignVoteMessage(consensus.VoteMessage{Slot: 1}); !errors.Is(err, consensus.ErrNoSigner) {
		t.Fatalf("expected ErrNoSigner for vote, got %v", err)
	}
	if _, err := s.SignProposeMessage(consensus.ProposeMessage{}); !errors.Is(err, consensus.ErrNoSigner) {
		t.Fatalf("expected ErrNoSigner for propose, got %v", err)
	}
}
