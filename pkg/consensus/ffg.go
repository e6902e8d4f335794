package consensus

// FFG vote accounting: checkpoint justification and finalization over the
// received vote view. A checkpoint is justified when validators holding at
// least two-thirds of the applicable snapshot's weight cast valid votes whose
// target covers it from an already-justified source; a justified checkpoint is
// finalized when two-thirds link from it to a checkpoint in the immediately
// following slot.

// GenesisCheckpoint is the protocol's root of trust: justified by definition.
func (s *NodeState) GenesisCheckpoint() Checkpoint {
	return Checkpoint{BlockHash: s.genesisHash, CheckpointSlot: 0, BlockSlot: 0}
}

// ValidVote is the full vote validity predicate gating every tally:
// verified signature, known and complete head, sender in the validator set
// resolved for (head, slot), source-target-head ancestry ordering, strictly
// increasing checkpoint slots, and checkpoint block-slot consistency.
func (s *NodeState) ValidVote(sv SignedVoteMessage) bool {
	if !VerifyVoteSignature(sv) {
		return false
	}
	head, err := s.BlockByHash(sv.Message.HeadHash)
	if err != nil || !s.IsCompleteChain(head) {
		return false
	}
	balances, err := s.ValidatorSetForSlot(head, sv.Message.Slot)
	if err != nil || !IsValidator(sv.Sender, balances) {
		return false
	}
	source, err := s.BlockByHash(sv.Message.Source.BlockHash)
	if err != nil || source.Slot != sv.Message.Source.BlockSlot {
		return false
	}
	target, err := s.BlockByHash(sv.Message.Target.BlockHash)
	if err != nil || target.Slot != sv.Message.Target.BlockSlot {
		return false
	}
	return sv.Message.Source.CheckpointSlot < sv.Message.Target.CheckpointSlot &&
		s.IsAncestor(source, target) &&
		s.IsAncestor(target, head)
}

// IsEquivocatingVote reports whether another valid vote by the same sender
// exists for the same slot with a different head. The pair is evidence for
// the external slashing system; neither vote should count toward a tally.
func (s *NodeState) IsEquivocatingVote(sv SignedVoteMessage) bool {
	for _, other := range s.Votes() {
		if other.Sender == sv.Sender &&
			other.Message.Slot == sv.Message.Slot &&
			other.Message.HeadHash != sv.Message.HeadHash &&
			s.ValidVote(other) {
			return true
		}
	}
	return false
}

// FFGTargets extracts the distinct target checkpoints from a set of votes.
func FFGTargets(votes []SignedVoteMessage) []Checkpoint {
	seen := make(map[Checkpoint]struct{})
	var out []Checkpoint
	for _, v := range votes {
		if _, ok := seen[v.Message.Target]; ok {
			continue
		}
		seen[v.Message.Target] = struct{}{}
		out = append(out, v.Message.Target)
	}
	return out
}

// supportersOfJustification returns the validators whose valid votes support
// the justification of checkpoint: target at the checkpoint's slot covering
// it, source an already-justified ancestor of it.
func (s *NodeState) supportersOfJustification(checkpoint Checkpoint) []NodeID {
	cpBlock, err := s.BlockByHash(checkpoint.BlockHash)
	if err != nil {
		return nil
	}

	seen := make(map[NodeID]struct{})
	var out []NodeID
	for _, v := range s.Votes() {
		if v.Message.Target.CheckpointSlot != checkpoint.CheckpointSlot {
			continue
		}
		if !s.ValidVote(v) {
			continue
		}
		target, err := s.BlockByHash(v.Message.Target.BlockHash)
		if err != nil || !s.IsAncestor(cpBlock, target) {
			continue
		}
		source, err := s.BlockByHash(v.Message.Source.BlockHash)
		if err != nil || !s.IsAncestor(source, cpBlock) {
			continue
		}
		if !s.IsJustifiedCheckpoint(v.Message.Source) {
			continue
		}
		if _, dup := seen[v.Sender]; dup {
			continue
		}
		seen[v.Sender] = struct{}{}
		out = append(out, v.Sender)
	}
	return out
}

// IsJustifiedCheckpoint checks the two-thirds justification condition:
// supportWeight*3 >= totalWeight*2 over the snapshot resolved at the
// checkpoint's block and block slot. Recursion through vote sources
// terminates because source checkpoint slots strictly decrease.
func (s *NodeState) IsJustifiedCheckpoint(checkpoint Checkpoint) bool {
	if checkpoint == s.GenesisCheckpoint() {
		return true
	}
	cpBlock, err := s.BlockByHash(checkpoint.BlockHash)
	if err != nil || !s.IsCompleteChain(cpBlock) {
		return false
	}
	balances, err := s.ValidatorSetForSlot(cpBlock, checkpoint.BlockSlot)
	if err != nil {
		return false
	}

	supportWeight := ValidatorSetWeight(s.supportersOfJustification(checkpoint), balances)
	return supportWeight*3 >= TotalWeight(balances)*2
}

// JustifiedCheckpoints returns every justified checkpoint in the view,
// genesis included.
func (s *NodeState) JustifiedCheckpoints() []Checkpoint {
	out := []Checkpoint{s.GenesisCheckpoint()}
	for _, cp := range FFGTargets(s.Votes()) {
		if cp != s.GenesisCheckpoint() && s.IsJustifiedCheckpoint(cp) {
			out = append(out, cp)
		}
	}
	return out
}

// GreatestJustifiedCheckpoint is the justified checkpoint with the greatest
// checkpoint slot, ties broken deterministically so all nodes agree.
func (s *NodeState) GreatestJustifiedCheckpoint() Checkpoint {
	return greatestCheckpoint(s.JustifiedCheckpoints())
}

// IsFinalizedCheckpoint: a justified checkpoint is finalized when validators
// holding two-thirds of its snapshot's weight cast valid votes sourcing it
// and targeting a checkpoint in the immediately next slot.
func (s *NodeState) IsFinalizedCheckpoint(checkpoint Checkpoint) bool {
	if checkpoint == s.GenesisCheckpoint() {
		return true
	}
	if !s.IsJustifiedCheckpoint(checkpoint) {
		return false
	}
	cpBlock, err := s.BlockByHash(checkpoint.BlockHash)
	if err != nil {
		return false
	}
	balances, err := s.ValidatorSetForSlot(cpBlock, checkpoint.BlockSlot)
	if err != nil {
		return false
	}

	seen := make(map[NodeID]struct{})
	var linking []NodeID
	for _, v := range s.Votes() {
		if v.Message.Source != checkpoint {
			continue
		}
		if v.Message.Target.CheckpointSlot != checkpoint.CheckpointSlot+1 {
			continue
		}
		if !s.ValidVote(v) {
			continue
		}
		if _, dup := seen[v.Sender]; dup {
			continue
		}
		seen[v.Sender] = struct{}{}
		linking = append(linking, v.Sender)
	}
	return ValidatorSetWeight(linking, balances)*3 >= TotalWeight(balances)*2
}

// FinalizedCheckpoints returns every finalized checkpoint in the view.
func (s *NodeState) FinalizedCheckpoints() []Checkpoint {
	out := []Checkpoint{s.GenesisCheckpoint()}
	for _, cp := range s.JustifiedCheckpoints() {
		if cp != s.GenesisCheckpoint() && s.IsFinalizedCheckpoint(cp) {
			out = append(out, cp)
		}
	}
	return out
}

// GreatestFinalizedCheckpoint is the finalized checkpoint with the greatest
// checkpoint slot.
func (s *NodeState) GreatestFinalizedCheckpoint() Checkpoint {
	return greatestCheckpoint(s.FinalizedCheckpoints())
}

// FinalizedChain is the chain output by the finalizing component: the
// ancestry of the greatest finalized checkpoint's block, tip first.
func (s *NodeState) FinalizedChain() ([]Block, error) {
	cp := s.GreatestFinalizedCheckpoint()
	b, err := s.BlockByHash(cp.BlockHash)
	if err != nil {
		return nil, err
	}
	return s.Blockchain(b)
}

// VotesInChain collects the votes folded into blocks along b's ancestry.
// Requires a complete chain.
func (s *NodeState) VotesInChain(b Block) ([]SignedVoteMessage, error) {
	chain, err := s.Blockchain(b)
	if err != nil {
		return nil, err
	}
	seen := make(map[voteKey]struct{})
	var out []SignedVoteMessage
	for _, blk := range chain {
		for _, v := range blk.Votes {
			k := voteKey{digest: VoteDigest(v.Message), sender: v.Sender}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			out = append(out, v)
		}
	}
	return out, nil
}

func greatestCheckpoint(cps []Checkpoint) Checkpoint {
	best := cps[0]
	for _, cp := range cps[1:] {
		if cp.CheckpointSlot > best.CheckpointSlot ||
			(cp.CheckpointSlot == best.CheckpointSlot && cp.BlockSlot > best.BlockSlot) ||
			(cp.CheckpointSlot == best.CheckpointSlot && cp.BlockSlot == best.BlockSlot && lessHash(best.BlockHash, cp.BlockHash)) {
			best = cp
		}
	}
	return best
}
