package consensus

import (
	"fmt"
	"sync"

	"github.com/slatechain/slate/pkg/crypto"
)

// Config is the consensus-level configuration fixed at genesis.
type Config struct {
	Genesis         Block
	GenesisBalances ValidatorBalances

	// EpochLength is the stake-checkpoint boundary: the validator set for
	// slot s folds stake events from ancestry blocks below s-(s mod EpochLength).
	EpochLength Slot

	// ConfirmDepth is the k-deep confirmation prefix used when updating the
	// available chain before voting.
	ConfirmDepth int
}

type voteKey struct {
	digest [32]byte
	sender NodeID
}

// NodeState is the local node's view: the known block graph, the received
// votes, the node's identity and signing capability, and the caches that keep
// completeness checks and validator-set derivation cheap.
//
// Ancestry mutation (AddBlock) is mutually exclusive with in-progress
// validator-set resolution via the embedded RWMutex; pure signature
// verification never touches the state and runs fully in parallel.
type NodeState struct {
	mu sync.RWMutex

	cfg         Config
	identity    NodeID
	signer      *crypto.Signer
	blsSigner   *crypto.BLSSigner
	stakes      StakeReader
	seed        SeedSource
	genesisHash Hash

	currentSlot Slot

	blocks   map[Hash]Block
	complete map[Hash]struct{}
	votes    map[voteKey]SignedVoteMessage

	// Memoized balance snapshots per (block, stake-checkpoint boundary).
	snapshots map[snapshotKey]ValidatorBalances
}

type snapshotKey struct {
	block    Hash
	boundary Slot
}

// NewNodeState builds a node view from genesis and configuration. The signer
// may be nil for observer nodes; signing operations then fail with ErrNoSigner.
func NewNodeState(cfg Config, signer *crypto.Signer) *NodeState {
	if cfg.EpochLength == 0 {
		cfg.EpochLength = 1
	}
	gh := HashOfBlock(cfg.Genesis)
	s := &NodeState{
		cfg:         cfg,
		signer:      signer,
		stakes:      NoStakeChanges{},
		seed:        ChainSeed{},
		genesisHash: gh,
		blocks:      map[Hash]Block{gh: cfg.Genesis},
		complete:    map[Hash]struct{}{gh: {}},
		votes:       make(map[voteKey]SignedVoteMessage),
		snapshots:   make(map[snapshotKey]ValidatorBalances),
	}
	if signer != nil {
		s.identity = signer.Address()
	}
	return s
}

// SetStakeReader injects the execution layer's stake-event extractor.
func (s *NodeState) SetStakeReader(r StakeReader) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stakes = r
	// Snapshots derived under the previous reader are no longer valid.
	s.snapshots = make(map[snapshotKey]ValidatorBalances)
}

// SetSeedSource injects the randomness beacon used for proposer selection.
func (s *NodeState) SetSeedSource(src SeedSource) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seed = src
}

// SetBLSSigner enables BLS signature shares on outgoing votes.
func (s *NodeState) SetBLSSigner(b *crypto.BLSSigner) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blsSigner = b
}

func (s *NodeState) Identity() NodeID { return s.identity }

func (s *NodeState) Genesis() Block { return s.cfg.Genesis }
func (s *NodeState) GenesisHash() Hash { return s.genesisHash }

func (s *NodeState) ConfirmDepth() int { return s.cfg.ConfirmDepth }

func (s *NodeState) CurrentSlot() Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSlot
}

func (s *NodeState) SetCurrentSlot(slot Slot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if slot > s.currentSlot {
		s.currentSlot = slot
	}
}

// AddBlock accepts a block into the local view. The slot-order invariant is
// enforced against the parent when the parent is known; completeness of the
// block's chain is established lazily by IsCompleteChain.
func (s *NodeState) AddBlock(b Block) error {
	h := HashOfBlock(b)

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.blocks[h]; exists {
		return nil
	}
	if parent, ok := s.blocks[b.ParentHash]; ok && b.Slot <= parent.Slot {
		return fmt.Errorf("%w: block slot %d, parent slot %d", ErrSlotOrder, b.Slot, parent.Slot)
	}
	s.blocks[h] = b
	return nil
}

// AddVote records a received vote in the local view. The caller is expected
// to have validated it; unvalidated votes never reach a tally because every
// weight computation re-filters through ValidVote.
func (s *NodeState) AddVote(sv SignedVoteMessage) {
	k := voteKey{digest: VoteDigest(sv.Message), sender: sv.Sender}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[k] = sv
}

// Votes returns a snapshot of all received votes.
func (s *NodeState) Votes() []SignedVoteMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]SignedVoteMessage, 0, len(s.votes))
	for _, v := range s.votes {
		out = append(out, v)
	}
	return out
}

// SignVoteMessage signs the canonical vote encoding under the vote domain tag
// with the node's key material, attaching a BLS share when configured.
func (s *NodeState) SignVoteMessage(m VoteMessage) (SignedVoteMessage, error) {
	if s.signer == nil {
		return SignedVoteMessage{}, ErrNoSigner
	}
	sig, err := s.signer.SignDomain(crypto.DomainVote, EncodeVoteMessage(m))
	if err != nil {
		return SignedVoteMessage{}, fmt.Errorf("sign vote: %w", err)
	}
	sv := SignedVoteMessage{Message: m, Signature: sig, Sender: s.identity}
	if s.blsSigner != nil {
		digest := CheckpointDigest(m.Target)
		sv.SigShare = s.blsSigner.Sign(digest[:])
	}
	return sv, nil
}

// SignProposeMessage signs the canonical proposal encoding under the propose
// domain tag. The domain separation guarantees a propose signature can never
// verify as a vote signature.
func (s *NodeState) SignProposeMessage(m ProposeMessage) (SignedProposeMessage, error) {
	if s.signer == nil {
		return SignedProposeMessage{}, ErrNoSigner
	}
	sig, err := s.signer.SignDomain(crypto.DomainPropose, EncodeProposeMessage(m))
	if err != nil {
		return SignedProposeMessage{}, fmt.Errorf("sign propose: %w", err)
	}
	return SignedProposeMessage{Message: m, Signature: sig, Sender: s.identity}, nil
}
