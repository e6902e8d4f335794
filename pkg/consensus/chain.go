package consensus

import "fmt"

// HasBlock reports whether a block hash is present in the local view.
func (s *NodeState) HasBlock(h Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.blocks[h]
	return ok
}

// BlockByHash retrieves the block associated with a hash.
func (s *NodeState) BlockByHash(h Hash) (Block, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[h]
	if !ok {
		return Block{}, fmt.Errorf("%w: %s", ErrUnknownBlock, h)
	}
	return b, nil
}

// HasParent reports whether a block's parent is in the local view.
func (s *NodeState) HasParent(b Block) bool {
	return s.HasBlock(b.ParentHash)
}

// Parent retrieves the parent of a block.
func (s *NodeState) Parent(b Block) (Block, error) {
	return s.BlockByHash(b.ParentHash)
}

// AllBlocks returns a snapshot of every block in the local view.
func (s *NodeState) AllBlocks() []Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Block, 0, len(s.blocks))
	for _, b := range s.blocks {
		out = append(out, b)
	}
	return out
}

// IsCompleteChain reports whether walking parent links from b reaches genesis
// with no gaps and strictly increasing slots toward the tip. It is the
// precondition for every validator-set query.
//
// Completeness is monotonic: the view only grows, so once a block's chain is
// complete it stays complete. Positive results are cached per block hash so
// repeated checks cost one map lookup instead of a full walk.
func (s *NodeState) IsCompleteChain(b Block) bool {
	s.mu.RLock()
	path, ok := s.walkToGenesis(b)
	s.mu.RUnlock()

	if ok && len(path) > 0 {
		s.mu.Lock()
		for _, h := range path {
			s.complete[h] = struct{}{}
		}
		s.mu.Unlock()
	}
	return ok
}

// RestoreComplete re-seeds the completeness cache for a known block, letting
// a restarted node answer IsCompleteChain from persisted marks instead of a
// full re-walk. Hashes without a matching block are ignored.
func (s *NodeState) RestoreComplete(h Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blocks[h]; ok {
		s.complete[h] = struct{}{}
	}
}

// walkToGenesis walks parent links under the read lock, returning the hashes
// newly known to be complete. Stops early at any cached-complete ancestor.
func (s *NodeState) walkToGenesis(b Block) ([]Hash, bool) {
	var path []Hash
	cur := b
	curHash := HashOfBlock(b)
	for {
		if _, done := s.complete[curHash]; done {
			return path, true
		}
		if curHash == s.genesisHash {
			return path, true
		}
		parent, ok := s.blocks[cur.ParentHash]
		if !ok {
			return nil, false
		}
		if parent.Slot >= cur.Slot {
			return nil, false
		}
		path = append(path, curHash)
		cur = parent
		curHash = HashOfBlock(parent)
	}
}

// Blockchain constructs the chain from b back to genesis, tip first.
// Requires a complete chain.
func (s *NodeState) Blockchain(b Block) ([]Block, error) {
	if !s.IsCompleteChain(b) {
		return nil, fmt.Errorf("%w: %s", ErrIncompleteChain, HashOfBlock(b))
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var chain []Block
	cur := b
	for {
		chain = append(chain, cur)
		if HashOfBlock(cur) == s.genesisHash {
			return chain, nil
		}
		parent, ok := s.blocks[cur.ParentHash]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownBlock, cur.ParentHash)
		}
		cur = parent
	}
}

// IsAncestor reports whether ancestor is on descendant's parent chain.
// A block is its own ancestor.
func (s *NodeState) IsAncestor(ancestor, descendant Block) bool {
	target := HashOfBlock(ancestor)

	s.mu.RLock()
	defer s.mu.RUnlock()

	cur := descendant
	for {
		h := HashOfBlock(cur)
		if h == target {
			return true
		}
		if h == s.genesisHash {
			return false
		}
		parent, ok := s.blocks[cur.ParentHash]
		if !ok || parent.Slot >= cur.Slot {
			return false
		}
		cur = parent
	}
}

// BlockKDeep returns the block k parents above head, or genesis when the
// chain is shorter than k. Requires a complete chain.
func (s *NodeState) BlockKDeep(head Block, k int) (Block, error) {
	chain, err := s.Blockchain(head)
	if err != nil {
		return Block{}, err
	}
	if k >= len(chain) {
		return chain[len(chain)-1], nil
	}
	return chain[k], nil
}

// Children returns the known blocks whose parent is b.
func (s *NodeState) Children(b Block) []Block {
	h := HashOfBlock(b)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Block
	for _, c := range s.blocks {
		if c.ParentHash == h && HashOfBlock(c) != s.genesisHash {
			out = append(out, c)
		}
	}
	return out
}

// Head resolves the node's best known complete chain tip: the complete block
// with the greatest slot, ties broken by smaller hash so every node holding
// the same view resolves the same tip. The canonical fork-choice walk over
// vote weight belongs to the external fork-choice module; this resolver only
// answers "what complete tip do I extend when nothing better is known".
func (s *NodeState) Head() (Block, error) {
	best := s.Genesis()
	bestHash := s.genesisHash

	for _, b := range s.AllBlocks() {
		if !s.IsCompleteChain(b) {
			continue
		}
		h := HashOfBlock(b)
		if b.Slot > best.Slot || (b.Slot == best.Slot && lessHash(h, bestHash)) {
			best, bestHash = b, h
		}
	}
	return best, nil
}

func lessHash(a, b Hash) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
