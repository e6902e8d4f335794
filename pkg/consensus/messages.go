package consensus

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/slatechain/slate/pkg/crypto"
)

// VoteMessage is a validator's unsigned voting intent for one slot: the head
// it observes plus the FFG source/target checkpoint link it attests to.
type VoteMessage struct {
	Slot     Slot
	HeadHash Hash
	Source   Checkpoint
	Target   Checkpoint
}

// SignedVoteMessage carries the vote, the sender's ECDSA signature over the
// domain-tagged canonical encoding, and an optional BLS share over the same
// digest for checkpoint certificate aggregation.
type SignedVoteMessage struct {
	Message   VoteMessage
	Signature []byte
	Sender    NodeID
	SigShare  []byte
}

// ProposeMessage is the proposer's unsigned intent: the new block, the
// proposer's greatest justified checkpoint, and the votes it shares with the
// proposal so lagging validators can catch up before voting.
type ProposeMessage struct {
	Block             Block
	GreatestJustified Checkpoint
	ProposerView      []SignedVoteMessage
}

type SignedProposeMessage struct {
	Message   ProposeMessage
	Signature []byte
	Sender    NodeID
}

func writeUint64(buf *bytes.Buffer, v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	buf.Write(b[:])
}

func writeCheckpoint(buf *bytes.Buffer, c Checkpoint) {
	buf.Write(c.BlockHash[:])
	writeUint64(buf, uint64(c.CheckpointSlot))
	writeUint64(buf, uint64(c.BlockSlot))
}

// EncodeVoteMessage produces the canonical encoding signatures are computed
// over. Fixed-width big-endian fields; any field change changes the encoding.
func EncodeVoteMessage(m VoteMessage) []byte {
	var buf bytes.Buffer
	writeUint64(&buf, uint64(m.Slot))
	buf.Write(m.HeadHash[:])
	writeCheckpoint(&buf, m.Source)
	writeCheckpoint(&buf, m.Target)
	return buf.Bytes()
}

func writeSignedVote(buf *bytes.Buffer, v SignedVoteMessage) {
	enc := EncodeVoteMessage(v.Message)
	writeUint64(buf, uint64(len(enc)))
	buf.Write(enc)
	writeUint64(buf, uint64(len(v.Signature)))
	buf.Write(v.Signature)
	buf.Write(v.Sender[:])
}

// EncodeProposeMessage is the canonical encoding of a proposal. The block is
// committed via its content hash plus the carried votes, so a relayed proposal
// cannot have its payload or vote set swapped without breaking the signature.
func EncodeProposeMessage(m ProposeMessage) []byte {
	var buf bytes.Buffer
	bh := HashOfBlock(m.Block)
	buf.Write(bh[:])
	writeUint64(&buf, uint64(len(m.Block.Votes)))
	for _, v := range m.Block.Votes {
		writeSignedVote(&buf, v)
	}
	writeCheckpoint(&buf, m.GreatestJustified)
	writeUint64(&buf, uint64(len(m.ProposerView)))
	for _, v := range m.ProposerView {
		writeSignedVote(&buf, v)
	}
	return buf.Bytes()
}

// VoteDigest is the domain-tagged digest a vote signature commits to.
func VoteDigest(m VoteMessage) [32]byte {
	return crypto.DigestWithDomain(crypto.DomainVote, EncodeVoteMessage(m))
}

// CheckpointDigest is the message BLS vote shares sign. All votes targeting
// the same checkpoint share it, so their shares aggregate into one signature.
func CheckpointDigest(c Checkpoint) [32]byte {
	var buf bytes.Buffer
	writeCheckpoint(&buf, c)
	return crypto.DigestWithDomain(crypto.DomainCheckpoint, buf.Bytes())
}

// VerifyVoteSignature recomputes the canonical encoding and checks the ECDSA
// signature against the claimed sender. Returns false, never panics, on
// malformed input, wrong domain, or cryptographic mismatch.
func VerifyVoteSignature(sv SignedVoteMessage) bool {
	return crypto.VerifyDomain(sv.Sender, crypto.DomainVote, EncodeVoteMessage(sv.Message), sv.Signature)
}

// VerifyProposeSignature is the proposal counterpart of VerifyVoteSignature.
func VerifyProposeSignature(sp SignedProposeMessage) bool {
	return crypto.VerifyDomain(sp.Sender, crypto.DomainPropose, EncodeProposeMessage(sp.Message), sp.Signature)
}

// SignerOfVoteMessage recovers the vote's signer identity. It fails if the
// signature does not recover, or if the recovered identity contradicts the
// claimed sender; it never silently returns a default identity.
func SignerOfVoteMessage(sv SignedVoteMessage) (NodeID, error) {
	recovered, err := crypto.RecoverDomain(crypto.DomainVote, EncodeVoteMessage(sv.Message), sv.Signature)
	if err != nil {
		return NodeID{}, fmt.Errorf("%w: %v", ErrUnresolvedSigner, err)
	}
	if recovered != sv.Sender {
		return NodeID{}, fmt.Errorf("%w: recovered %s, claimed %s", ErrUnresolvedSigner, recovered.Hex(), sv.Sender.Hex())
	}
	return recovered, nil
}

// SignerOfProposeMessage recovers the proposal's signer identity.
func SignerOfProposeMessage(sp SignedProposeMessage) (NodeID, error) {
	recovered, err := crypto.RecoverDomain(crypto.DomainPropose, EncodeProposeMessage(sp.Message), sp.Signature)
	if err != nil {
		return NodeID{}, fmt.Errorf("%w: %v", ErrUnresolvedSigner, err)
	}
	if recovered != sp.Sender {
		return NodeID{}, fmt.Errorf("%w: recovered %s, claimed %s", ErrUnresolvedSigner, recovered.Hex(), sp.Sender.Hex())
	}
	return recovered, nil
}
