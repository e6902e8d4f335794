package p2p

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(ProposeWire{})
	gob.Register(VoteWire{})
	gob.Register(BlockWire{})
}

type ProposeWire struct {
	Propose []byte // gob-encoded consensus.SignedProposeMessage
}

type VoteWire struct {
	Vote []byte // gob-encoded consensus.SignedVoteMessage
}

type BlockWire struct {
	Block []byte // gob-encoded consensus.Block
}

func gobEncode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func gobDecode(b []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(b)).Decode(v)
}
