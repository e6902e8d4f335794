package api

// API response types for REST endpoints and WebSocket messages

// BlockInfo represents a block in the node's view.
type BlockInfo struct {
	Hash       string   `json:"hash"`
	ParentHash string   `json:"parentHash"`
	Slot       uint64   `json:"slot"`
	Proposer   string   `json:"proposer"`
	BodySize   int      `json:"bodySize"`
	VoteCount  int      `json:"voteCount"`
	Complete   bool     `json:"complete"`
	Children   []string `json:"children,omitempty"`
}

// CheckpointInfo represents an FFG checkpoint.
type CheckpointInfo struct {
	BlockHash      string `json:"blockHash"`
	CheckpointSlot uint64 `json:"checkpointSlot"`
	BlockSlot      uint64 `json:"blockSlot"`
}

// ValidatorInfo is one entry of the active validator set.
type ValidatorInfo struct {
	Address string `json:"address"`
	Stake   uint64 `json:"stake"`
}

// ChainStatus represents consensus status at the current slot.
type ChainStatus struct {
	Slot           uint64         `json:"slot"`
	SlotState      string         `json:"slotState"`
	HeadHash       string         `json:"headHash"`
	HeadSlot       uint64         `json:"headSlot"`
	Justified      CheckpointInfo `json:"justified"`
	Finalized      CheckpointInfo `json:"finalized"`
	BlockCount     int            `json:"blockCount"`
	VoteCount      int            `json:"voteCount"`
	ValidatorCount int            `json:"validatorCount"`
	Identity       string         `json:"identity"`
}

// EvidenceInfo represents a detected equivocation.
type EvidenceInfo struct {
	Sender string `json:"sender"`
	Slot   uint64 `json:"slot"`
	HeadA  string `json:"headA"`
	HeadB  string `json:"headB"`
}

// WSSubscribeRequest is sent by a client to subscribe to channels.
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["blocks", "checkpoints"]
}

// BlockUpdate is broadcast on the "blocks" channel when a block is accepted.
type BlockUpdate struct {
	Type  string    `json:"type"` // "block"
	Block BlockInfo `json:"block"`
}

// CheckpointUpdate is broadcast on the "checkpoints" channel when
// finalization advances.
type CheckpointUpdate struct {
	Type       string         `json:"type"` // "checkpoint"
	Checkpoint CheckpointInfo `json:"checkpoint"`
}

// ErrorResponse is returned for all errors.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
