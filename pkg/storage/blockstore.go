package storage

import (
	"sync"

	"github.com/slatechain/slate/pkg/consensus"
)

type InMemoryBlockStore struct {
	mu        sync.Mutex
	blocks    map[consensus.Hash]consensus.Block
	votes     map[string]consensus.SignedVoteMessage
	complete  map[consensus.Hash]struct{}
	finalized *consensus.Checkpoint
}

func NewInMemoryBlockStore() *InMemoryBlockStore {
	return &InMemoryBlockStore{
		blocks:   make(map[consensus.Hash]consensus.Block),
		votes:    make(map[string]consensus.SignedVoteMessage),
		complete: make(map[consensus.Hash]struct{}),
	}
}

func (s *InMemoryBlockStore) SaveBlock(b consensus.Block) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[consensus.HashOfBlock(b)] = b
}

func (s *InMemoryBlockStore) GetBlock(h consensus.Hash) (consensus.Block, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.blocks[h]
	return b, ok
}

func (s *InMemoryBlockStore) SaveVote(v consensus.SignedVoteMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.votes[string(kVote(v))] = v
}

func (s *InMemoryBlockStore) ListVotes() []consensus.SignedVoteMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]consensus.SignedVoteMessage, 0, len(s.votes))
	for _, v := range s.votes {
		out = append(out, v)
	}
	return out
}

func (s *InMemoryBlockStore) MarkComplete(h consensus.Hash) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.complete[h] = struct{}{}
}

func (s *InMemoryBlockStore) HasComplete(h consensus.Hash) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.complete[h]
	return ok
}

func (s *InMemoryBlockStore) SetFinalized(c consensus.Checkpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = &c
}

func (s *InMemoryBlockStore) GetFinalized() (consensus.Checkpoint, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized == nil {
		return consensus.Checkpoint{}, false
	}
	return *s.finalized, true
}

var _ consensus.BlockStore = (*InMemoryBlockStore)(nil)
