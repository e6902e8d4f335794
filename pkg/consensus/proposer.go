package consensus

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math/big"
	"sort"

	"golang.org/x/crypto/sha3"

	"github.com/slatechain/slate/pkg/crypto"
)

// SeedSource produces the verifiable-randomness seed for proposer selection.
// It is an injected collaborator so the selection algorithm stays pure and
// testable independent of the beacon's implementation.
type SeedSource interface {
	Seed(tip Block, slot Slot) [32]byte
}

// ChainSeed derives the seed from the chain itself: keccak over a domain tag,
// the tip's hash, the tip's proposer contribution and the slot number.
// Reproducible by every node holding the same complete ancestry.
type ChainSeed struct{}

func (ChainSeed) Seed(tip Block, slot Slot) [32]byte {
	d := sha3.NewLegacyKeccak256()
	d.Write([]byte(crypto.DomainSeed))
	th := HashOfBlock(tip)
	d.Write(th[:])
	d.Write(tip.Proposer[:])
	var slotBuf [8]byte
	binary.BigEndian.PutUint64(slotBuf[:], uint64(slot))
	d.Write(slotBuf[:])

	var out [32]byte
	d.Sum(out[:0])
	return out
}

// ProposerForSlot runs deterministic stake-weighted leader election for slot,
// relative to the validator set resolved from tip. Selection probability is
// proportional to a validator's share of total stake; the draw is the seed
// reduced modulo total stake, walked over validators in byte order of their
// identities. Exactly one identity wins per (tip, slot), so repeated
// invocation with unchanged inputs yields the same leader on every node.
func (s *NodeState) ProposerForSlot(tip Block, slot Slot) (NodeID, error) {
	balances, err := s.ValidatorSetForSlot(tip, slot)
	if err != nil {
		return NodeID{}, fmt.Errorf("resolve validator set: %w", err)
	}
	if len(balances) == 0 {
		return NodeID{}, ErrEmptyValidatorSet
	}

	ids := make([]NodeID, 0, len(balances))
	for id := range balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})

	total := new(big.Int)
	for _, id := range ids {
		total.Add(total, new(big.Int).SetUint64(balances[id]))
	}
	if total.Sign() == 0 {
		return NodeID{}, ErrEmptyValidatorSet
	}

	s.mu.RLock()
	seedSrc := s.seed
	s.mu.RUnlock()

	seed := seedSrc.Seed(tip, slot)
	draw := new(big.Int).Mod(new(big.Int).SetBytes(seed[:]), total)

	acc := new(big.Int)
	for _, id := range ids {
		acc.Add(acc, new(big.Int).SetUint64(balances[id]))
		if draw.Cmp(acc) < 0 {
			return id, nil
		}
	}
	// Unreachable: draw < total and the accumulator ends at total.
	return ids[len(ids)-1], nil
}

// Proposer resolves the leader for the node's current slot against its best
// known complete tip.
func (s *NodeState) Proposer() (NodeID, error) {
	tip, err := s.Head()
	if err != nil {
		return NodeID{}, err
	}
	return s.ProposerForSlot(tip, s.CurrentSlot())
}
