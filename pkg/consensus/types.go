package consensus

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Slot is a discrete, monotonically increasing time unit. At most one block
// may be canonically proposed per slot.
type Slot uint64

// NodeID is a validator's public identity: the secp256k1 address derived from
// its public key. It is the key space for stake and the identity recovered
// from vote/propose signatures.
type NodeID = common.Address

type Hash [32]byte

func (h Hash) String() string { return fmt.Sprintf("%x", h[:]) }
func (h Hash) Bytes() []byte  { return h[:] }

// BlockBody is the externally produced payload. The consensus core hashes it
// but never interprets it; stake changes are extracted by a StakeReader.
type BlockBody []byte

// Checkpoint identifies a block together with the slot at which it is
// checkpointed. CheckpointSlot >= BlockSlot always: a block proposed at
// BlockSlot can be checkpointed at any later slot.
type Checkpoint struct {
	BlockHash      Hash
	CheckpointSlot Slot
	BlockSlot      Slot
}

type Block struct {
	ParentHash Hash
	Slot       Slot
	Body       BlockBody
	Proposer   NodeID

	// Votes folded in by the proposer. Not part of the block hash: the
	// block's identity commits to {parent, slot, body, proposer} only.
	Votes []SignedVoteMessage
}

// HashOfBlock computes the content address of a block. Deterministic over the
// canonical encoding of {parent, slot, body, proposer}; any change to one of
// those fields changes the hash. Included votes are excluded so that a block's
// identity is fixed before the proposer decides which votes to carry.
func HashOfBlock(b Block) Hash {
	h := sha256.New()

	h.Write(b.ParentHash[:])

	var slotBuf [8]byte
	binary.BigEndian.PutUint64(slotBuf[:], uint64(b.Slot))
	h.Write(slotBuf[:])

	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(b.Body)))
	h.Write(lenBuf[:])
	h.Write(b.Body)

	h.Write(b.Proposer[:])

	return sha256.Sum256(h.Sum(nil))
}

// ValidatorBalances maps validator identities to voting weight for one slot's
// validator set. Snapshots are derived per (block, slot) and never mutated in
// place; absence from the map means "not a validator".
type ValidatorBalances map[NodeID]uint64

// IsValidator reports whether node belongs to the validator set.
func IsValidator(node NodeID, balances ValidatorBalances) bool {
	_, ok := balances[node]
	return ok
}

// ValidatorSetWeight sums the balances of the given validators. Identities
// absent from balances contribute nothing.
func ValidatorSetWeight(validators []NodeID, balances ValidatorBalances) uint64 {
	var total uint64
	for _, v := range validators {
		total += balances[v]
	}
	return total
}

// TotalWeight is the weight of the whole set.
func TotalWeight(balances ValidatorBalances) uint64 {
	var total uint64
	for _, w := range balances {
		total += w
	}
	return total
}

func (vb ValidatorBalances) clone() ValidatorBalances {
	out := make(ValidatorBalances, len(vb))
	for k, v := range vb {
		out[k] = v
	}
	return out
}

// StakeEventKind distinguishes deposits from withdrawals.
type StakeEventKind uint8

const (
	StakeDeposit StakeEventKind = iota
	StakeWithdrawal
)

// StakeEvent is a stake-affecting event recorded in a block's body.
type StakeEvent struct {
	Kind      StakeEventKind
	Validator NodeID
	Amount    uint64
}

// StakeReader extracts stake events from an opaque block body. It is the
// execution layer's view of the payload; the consensus core only folds the
// resulting events into balance snapshots.
type StakeReader interface {
	StakeEvents(body BlockBody) []StakeEvent
}

// NoStakeChanges is the default StakeReader: no body carries stake events, so
// every snapshot equals the genesis balances.
type NoStakeChanges struct{}

func (NoStakeChanges) StakeEvents(BlockBody) []StakeEvent { return nil }

// ---- Storage/WAL interfaces (impl in pkg/storage) ----

type BlockStore interface {
	SaveBlock(b Block)
	GetBlock(h Hash) (Block, bool)
	SaveVote(v SignedVoteMessage)
	ListVotes() []SignedVoteMessage
	MarkComplete(h Hash)
	HasComplete(h Hash) bool
	SetFinalized(c Checkpoint)
	GetFinalized() (Checkpoint, bool)
}

type WAL interface {
	Append(line string)
}
