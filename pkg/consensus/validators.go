package consensus

import "fmt"

// checkpointBoundary maps a slot to the most recent stake-determining
// checkpoint slot at or below it.
func checkpointBoundary(slot, epochLength Slot) Slot {
	if epochLength == 0 {
		return 0
	}
	return slot - slot%epochLength
}

// ValidatorSetForSlot derives the authoritative stake snapshot applicable to
// slot, relative to the ancestry of block.
//
// Requires IsCompleteChain(block): stake derivation is only well-defined over
// a fully resolved history, so an incomplete chain fails fast with
// ErrIncompleteChain and performs no partial computation; it is never
// downgraded to an empty set.
//
// Derivation starts from the genesis-configured balances and folds, in chain
// order, the stake events of every ancestor block below the stake checkpoint
// for slot (the last epoch boundary). A slot beyond the chain's tip simply
// folds everything resolvable, which is the lookahead behavior; a slot at or
// before the genesis checkpoint returns the genesis balances unchanged.
//
// The result is pure for a fixed (block, slot): any node with the same
// ancestry derives the same mapping. Snapshots are memoized per
// (block, boundary) and returned as fresh copies, never shared mutably.
func (s *NodeState) ValidatorSetForSlot(block Block, slot Slot) (ValidatorBalances, error) {
	if !s.IsCompleteChain(block) {
		return nil, fmt.Errorf("%w: block %s slot %d", ErrIncompleteChain, HashOfBlock(block), slot)
	}

	boundary := checkpointBoundary(slot, s.cfg.EpochLength)
	key := snapshotKey{block: HashOfBlock(block), boundary: boundary}

	s.mu.RLock()
	if cached, ok := s.snapshots[key]; ok {
		s.mu.RUnlock()
		return cached.clone(), nil
	}
	s.mu.RUnlock()

	chain, err := s.Blockchain(block)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	reader := s.stakes
	s.mu.RUnlock()

	balances := s.cfg.GenesisBalances.clone()

	// chain is tip-first; fold genesis→tip, skipping genesis itself (its
	// balances are the configured base, not body-derived).
	for i := len(chain) - 2; i >= 0; i-- {
		blk := chain[i]
		if blk.Slot >= boundary {
			break
		}
		applyStakeEvents(balances, reader.StakeEvents(blk.Body))
	}

	s.mu.Lock()
	s.snapshots[key] = balances
	s.mu.Unlock()

	return balances.clone(), nil
}

func applyStakeEvents(balances ValidatorBalances, events []StakeEvent) {
	for _, ev := range events {
		switch ev.Kind {
		case StakeDeposit:
			balances[ev.Validator] += ev.Amount
		case StakeWithdrawal:
			if balances[ev.Validator] <= ev.Amount {
				delete(balances, ev.Validator)
			} else {
				balances[ev.Validator] -= ev.Amount
			}
		}
	}
}
