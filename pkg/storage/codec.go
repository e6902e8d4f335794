package storage

import (
	"bytes"
	"encoding/gob"

	"github.com/slatechain/slate/pkg/consensus"
)

func encodeGob(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeGob(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}

// keys: b:<32-byte-hash>, v:<32-byte-digest><20-byte-sender>, cm:<hash>, fin
func kBlock(h consensus.Hash) []byte { return append([]byte("b:"), h[:]...) }

func kVote(v consensus.SignedVoteMessage) []byte {
	d := consensus.VoteDigest(v.Message)
	key := append([]byte("v:"), d[:]...)
	return append(key, v.Sender[:]...)
}

func kComplete(h consensus.Hash) []byte { return append([]byte("cm:"), h[:]...) }
func kFinalized() []byte                { return []byte("fin") }
