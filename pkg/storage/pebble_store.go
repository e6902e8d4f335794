package storage

import (
	"fmt"

	"github.com/cockroachdb/pebble"

	"github.com/slatechain/slate/pkg/consensus"
)

// PebbleStore persists blocks, votes, completeness marks and the finalized
// checkpoint. The completeness marks are what keep IsCompleteChain answerable
// from cached metadata after a restart instead of a full re-traversal.
type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}

func (s *PebbleStore) Close() error { return s.db.Close() }

func (s *PebbleStore) SaveBlock(b consensus.Block) {
	val, err := encodeGob(b)
	if err != nil {
		panic(fmt.Errorf("encode block: %w", err))
	}
	if err := s.db.Set(kBlock(consensus.HashOfBlock(b)), val, pebble.Sync); err != nil {
		panic(err)
	}
}

func (s *PebbleStore) GetBlock(h consensus.Hash) (consensus.Block, bool) {
	val, closer, err := s.db.Get(kBlock(h))
	if err != nil {
		if err == pebble.ErrNotFound {
			return consensus.Block{}, false
		}
		panic(err)
	}
	defer closer.Close()
	var out consensus.Block
	if err := decodeGob(val, &out); err != nil {
		panic(err)
	}
	return out, true
}

func (s *PebbleStore) SaveVote(v consensus.SignedVoteMessage) {
	val, err := encodeGob(v)
	if err != nil {
		panic(fmt.Errorf("encode vote: %w", err))
	}
	if err := s.db.Set(kVote(v), val, pebble.Sync); err != nil {
		panic(err)
	}
}

func (s *PebbleStore) ListVotes() []consensus.SignedVoteMessage {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("v:"),
		UpperBound: []byte("v;"),
	})
	if err != nil {
		panic(err)
	}
	defer iter.Close()

	var out []consensus.SignedVoteMessage
	for iter.First(); iter.Valid(); iter.Next() {
		var v consensus.SignedVoteMessage
		if err := decodeGob(iter.Value(), &v); err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (s *PebbleStore) MarkComplete(h consensus.Hash) {
	if err := s.db.Set(kComplete(h), []byte{1}, pebble.Sync); err != nil {
		panic(err)
	}
}

func (s *PebbleStore) HasComplete(h consensus.Hash) bool {
	_, closer, err := s.db.Get(kComplete(h))
	if err != nil {
		if err == pebble.ErrNotFound {
			return false
		}
		panic(err)
	}
	closer.Close()
	return true
}

func (s *PebbleStore) SetFinalized(c consensus.Checkpoint) {
	val, err := encodeGob(c)
	if err != nil {
		panic(fmt.Errorf("encode checkpoint: %w", err))
	}
	if err := s.db.Set(kFinalized(), val, pebble.Sync); err != nil {
		panic(err)
	}
}

func (s *PebbleStore) GetFinalized() (consensus.Checkpoint, bool) {
	val, closer, err := s.db.Get(kFinalized())
	if err != nil {
		if err == pebble.ErrNotFound {
			return consensus.Checkpoint{}, false
		}
		panic(err)
	}
	defer closer.Close()
	var out consensus.Checkpoint
	if err := decodeGob(val, &out); err != nil {
		panic(err)
	}
	return out, true
}

// Replay folds every persisted block, completeness mark and vote back into a
// node state, so a restarted node resumes with its pre-shutdown view and
// answers completeness from the marks instead of re-walking ancestry.
func (s *PebbleStore) Replay(state *consensus.NodeState) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("b:"),
		UpperBound: []byte("b;"),
	})
	if err != nil {
		return err
	}
	var replayed []consensus.Hash
	for iter.First(); iter.Valid(); iter.Next() {
		var b consensus.Block
		if err := decodeGob(iter.Value(), &b); err != nil {
			continue
		}
		if err := state.AddBlock(b); err != nil {
			continue
		}
		replayed = append(replayed, consensus.HashOfBlock(b))
	}
	if err := iter.Close(); err != nil {
		return err
	}
	for _, h := range replayed {
		if s.HasComplete(h) {
			state.RestoreComplete(h)
		}
	}

	for _, v := range s.ListVotes() {
		state.AddVote(v)
	}
	return nil
}

var _ consensus.BlockStore = (*PebbleStore)(nil)
