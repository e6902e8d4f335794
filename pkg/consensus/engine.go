package consensus

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/slatechain/slate/pkg/crypto"
)

// Phase is the position within a slot. Each slot runs the four phases in
// order; the external scheduler decides when each begins.
type Phase uint8

const (
	PhasePropose Phase = iota
	PhaseVote
	PhaseConfirm
	PhaseMerge
)

func (p Phase) String() string {
	switch p {
	case PhasePropose:
		return "propose"
	case PhaseVote:
		return "vote"
	case PhaseConfirm:
		return "confirm"
	case PhaseMerge:
		return "merge"
	default:
		return "unknown"
	}
}

// SlotState tracks the node's progression within the current slot.
type SlotState uint8

const (
	SlotIdle SlotState = iota
	SlotProposed
	SlotNotProposer
	SlotVoted
)

func (s SlotState) String() string {
	switch s {
	case SlotIdle:
		return "idle"
	case SlotProposed:
		return "proposed"
	case SlotNotProposer:
		return "not_proposer"
	case SlotVoted:
		return "voted"
	default:
		return "unknown"
	}
}

// Mempool assembles the opaque block body for a slot. External collaborator.
type Mempool interface {
	BlockBody(slot Slot) BlockBody
}

// EmptyMempool produces empty bodies; useful for tests and observer wiring.
type EmptyMempool struct{}

func (EmptyMempool) BlockBody(Slot) BlockBody { return nil }

// ForkChoice selects the tip the node extends and votes for. The canonical
// vote-weight walk lives outside this core; the default resolver just picks
// the node's best complete tip.
type ForkChoice interface {
	Head(s *NodeState) (Block, error)
}

type HighestCompleteTip struct{}

func (HighestCompleteTip) Head(s *NodeState) (Block, error) { return s.Head() }

// Handlers are the inbound message callbacks the transport dispatches into.
type Handlers struct {
	OnPropose func(ctx context.Context, sp SignedProposeMessage)
	OnVote    func(ctx context.Context, sv SignedVoteMessage)
	OnBlock   func(ctx context.Context, b Block)
}

// Network is the external transport. The engine only computes content and
// hands it off; it never waits on delivery.
type Network interface {
	BroadcastPropose(ctx context.Context, sp SignedProposeMessage) error
	BroadcastVote(ctx context.Context, sv SignedVoteMessage) error
	BroadcastBlock(ctx context.Context, b Block) error
	SetHandlers(h Handlers)
}

// Equivocation is a conflicting-vote pair: evidence for the external
// slashing system.
type Equivocation struct {
	Sender NodeID
	Slot   Slot
	VoteA  SignedVoteMessage
	VoteB  SignedVoteMessage
}

// CheckpointCert compresses the votes backing a justified checkpoint into a
// single aggregate BLS signature.
type CheckpointCert struct {
	Checkpoint Checkpoint
	Signers    []NodeID
	AggSig     []byte
}

// Engine drives the per-slot decision sequence (resolve, maybe-propose,
// vote, confirm, merge) and ingests signed messages from the network.
// Each slot's decision sequence is logically single-threaded; inbound
// messages land in a buffer merged at phase boundaries so in-progress
// resolutions observe a consistent view.
type Engine struct {
	State   *NodeState
	Net     Network
	Mempool Mempool
	FC      ForkChoice

	Logger *zap.SugaredLogger
	Store  BlockStore
	WAL    WAL

	mu           sync.Mutex
	bufferBlocks []Block
	bufferVotes  []SignedVoteMessage
	sCand        map[Hash]Block
	chava        Block
	slotState    SlotState
	evidence     []Equivocation
	blsKeys      map[NodeID]*crypto.BLSPubKey
}

func NewEngine(state *NodeState, net Network, mp Mempool, fc ForkChoice) *Engine {
	e := &Engine{
		State:   state,
		Net:     net,
		Mempool: mp,
		FC:      fc,
		sCand:   make(map[Hash]Block),
		chava:   state.Genesis(),
		blsKeys: make(map[NodeID]*crypto.BLSPubKey),
	}
	if net != nil {
		net.SetHandlers(Handlers{
			OnPropose: e.onProposeReceived,
			OnVote:    e.onVoteReceived,
			OnBlock:   e.onBlockReceived,
		})
	}
	return e
}

// SlotState reports the node's progression within the current slot.
func (e *Engine) SlotState() SlotState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.slotState
}

// Evidence returns the equivocation pairs observed so far.
func (e *Engine) Evidence() []Equivocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]Equivocation(nil), e.evidence...)
}

// RegisterBLSKey records a validator's BLS public key for checkpoint
// certificate verification.
func (e *Engine) RegisterBLSKey(id NodeID, pk *crypto.BLSPubKey) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.blsKeys[id] = pk
}

// OnTick is the external scheduler's entry point: invoked once per phase
// transition with the wall-clock slot and phase.
func (e *Engine) OnTick(ctx context.Context, slot Slot, phase Phase) {
	switch phase {
	case PhasePropose:
		e.onProposePhase(ctx, slot)
	case PhaseVote:
		e.onVotePhase(ctx, slot)
	case PhaseConfirm:
		e.onConfirmPhase(slot)
	case PhaseMerge:
		e.mergeBuffer()
	}
}

func (e *Engine) onProposePhase(ctx context.Context, slot Slot) {
	e.State.SetCurrentSlot(slot)
	e.mu.Lock()
	e.slotState = SlotIdle
	e.mu.Unlock()
	e.mergeBuffer()

	tip, err := e.FC.Head(e.State)
	if err != nil {
		// No complete tip: a liveness stall, not an error. Skip the slot;
		// ancestry catches up and the next slot retries naturally.
		e.logw("slot_skipped", "slot", slot, "reason", "no_complete_tip")
		return
	}

	proposer, err := e.State.ProposerForSlot(tip, slot)
	if err != nil {
		e.logw("slot_skipped", "slot", slot, "reason", "proposer_unresolved", "err", err)
		return
	}
	if proposer != e.State.Identity() {
		e.mu.Lock()
		e.slotState = SlotNotProposer
		e.mu.Unlock()
		return
	}

	body := e.Mempool.BlockBody(slot)
	block := Block{
		ParentHash: HashOfBlock(tip),
		Slot:       slot,
		Body:       body,
		Proposer:   e.State.Identity(),
		Votes:      e.votesToInclude(tip),
	}

	// Reorg guard: if the tip changed while assembling, discard rather than
	// sign over a stale ancestry (a signature over both chains for this slot
	// would be equivocation).
	if cur, err := e.FC.Head(e.State); err != nil || HashOfBlock(cur) != HashOfBlock(tip) {
		e.logw("propose_discarded", "slot", slot, "reason", ErrStaleTip.Error())
		return
	}

	sp, err := e.State.SignProposeMessage(ProposeMessage{
		Block:             block,
		GreatestJustified: e.State.GreatestJustifiedCheckpoint(),
		ProposerView:      e.State.Votes(),
	})
	if err != nil {
		e.logw("propose_failed", "slot", slot, "err", err)
		return
	}

	if err := e.State.AddBlock(block); err != nil {
		e.logw("propose_failed", "slot", slot, "err", err)
		return
	}
	e.persistBlock(block)
	e.appendWAL(fmt.Sprintf("propose slot=%d hash=%s", slot, HashOfBlock(block)))

	if err := e.Net.BroadcastPropose(ctx, sp); err != nil {
		e.logw("propose_broadcast_failed", "slot", slot, "err", err)
	}
	e.rebroadcastAncestry(ctx, tip)

	e.mu.Lock()
	e.slotState = SlotProposed
	e.mu.Unlock()
	e.logw("propose_broadcasted", "slot", slot, "hash", HashOfBlock(block).String(), "parent", block.ParentHash.String())
}

// rebroadcastAncestry re-gossips the unfinalized ancestors of tip on the
// block topic. Proposals carry only the new block, so this is what lets a
// late joiner backfill the ancestry it missed and complete the chain;
// history below the finalized checkpoint is a state-sync concern.
func (e *Engine) rebroadcastAncestry(ctx context.Context, tip Block) {
	chain, err := e.State.Blockchain(tip)
	if err != nil {
		return
	}
	fin := e.State.GreatestFinalizedCheckpoint()
	for _, b := range chain {
		if b.Slot <= fin.BlockSlot {
			continue
		}
		if err := e.Net.BroadcastBlock(ctx, b); err != nil {
			e.logw("block_broadcast_failed", "slot", b.Slot, "err", err)
		}
	}
}

// votesToInclude selects the valid votes for blocks on head's chain that the
// chain has not already recorded.
func (e *Engine) votesToInclude(head Block) []SignedVoteMessage {
	included := make(map[voteKey]struct{})
	if inChain, err := e.State.VotesInChain(head); err == nil {
		for _, v := range inChain {
			included[voteKey{digest: VoteDigest(v.Message), sender: v.Sender}] = struct{}{}
		}
	}

	var out []SignedVoteMessage
	for _, v := range e.State.Votes() {
		k := voteKey{digest: VoteDigest(v.Message), sender: v.Sender}
		if _, dup := included[k]; dup {
			continue
		}
		if !e.State.ValidVote(v) {
			continue
		}
		voted, err := e.State.BlockByHash(v.Message.HeadHash)
		if err != nil || !e.State.IsAncestor(voted, head) {
			continue
		}
		out = append(out, v)
	}
	return out
}

func (e *Engine) onVotePhase(ctx context.Context, slot Slot) {
	e.State.SetCurrentSlot(slot)

	head, err := e.FC.Head(e.State)
	if err != nil {
		e.logw("vote_skipped", "slot", slot, "reason", "no_complete_tip")
		return
	}

	e.updateAvailableChain(head)

	e.mu.Lock()
	chava := e.chava
	e.mu.Unlock()

	vote := VoteMessage{
		Slot:     slot,
		HeadHash: HashOfBlock(head),
		Source:   e.State.GreatestJustifiedCheckpoint(),
		Target: Checkpoint{
			BlockHash:      HashOfBlock(chava),
			CheckpointSlot: slot,
			BlockSlot:      chava.Slot,
		},
	}

	sv, err := e.State.SignVoteMessage(vote)
	if err != nil {
		e.logw("vote_skipped", "slot", slot, "err", err)
		return
	}

	e.State.AddVote(sv)
	e.persistVote(sv)
	if err := e.Net.BroadcastVote(ctx, sv); err != nil {
		e.logw("vote_broadcast_failed", "slot", slot, "err", err)
	}

	e.mu.Lock()
	e.slotState = SlotVoted
	e.mu.Unlock()
	e.logw("vote_cast", "slot", slot, "head", vote.HeadHash.String(), "target_slot", vote.Target.CheckpointSlot)
}

// updateAvailableChain advances chava, the tip of the node's available chain:
// the max of the best confirmation candidate and the k-deep prefix of head,
// unless both already sit on chava's chain.
func (e *Engine) updateAvailableChain(head Block) {
	e.mu.Lock()
	defer e.mu.Unlock()

	bcand := e.chava
	if gjb, err := e.State.BlockByHash(e.State.GreatestJustifiedCheckpoint().BlockHash); err == nil {
		bcand = gjb
	}
	for _, c := range e.sCand {
		if c.Slot > bcand.Slot && e.State.IsAncestor(c, head) {
			bcand = c
		}
	}

	kdeep, err := e.State.BlockKDeep(head, e.State.ConfirmDepth())
	if err != nil {
		return
	}

	if e.State.IsAncestor(bcand, e.chava) && e.State.IsAncestor(kdeep, e.chava) {
		return
	}
	if bcand.Slot >= kdeep.Slot {
		e.chava = bcand
	} else {
		e.chava = kdeep
	}
}

// onConfirmPhase refreshes the confirmation candidates: complete blocks whose
// descendants gathered two-thirds of this slot's head-vote weight.
func (e *Engine) onConfirmPhase(slot Slot) {
	votes := e.State.Votes()

	for _, b := range e.State.AllBlocks() {
		if !e.State.IsCompleteChain(b) {
			continue
		}
		balances, err := e.State.ValidatorSetForSlot(b, slot)
		if err != nil || len(balances) == 0 {
			continue
		}

		seen := make(map[NodeID]struct{})
		var supporters []NodeID
		for _, v := range votes {
			if v.Message.Slot != slot || !e.State.ValidVote(v) {
				continue
			}
			voted, err := e.State.BlockByHash(v.Message.HeadHash)
			if err != nil || !e.State.IsAncestor(b, voted) {
				continue
			}
			if _, dup := seen[v.Sender]; dup {
				continue
			}
			seen[v.Sender] = struct{}{}
			supporters = append(supporters, v.Sender)
		}

		if ValidatorSetWeight(supporters, balances)*3 >= TotalWeight(balances)*2 {
			e.mu.Lock()
			e.sCand[HashOfBlock(b)] = b
			e.mu.Unlock()
		}
	}
}

// mergeBuffer folds buffered inbound blocks and votes into the local view.
func (e *Engine) mergeBuffer() {
	e.mu.Lock()
	blocks := e.bufferBlocks
	votes := e.bufferVotes
	e.bufferBlocks = nil
	e.bufferVotes = nil
	e.mu.Unlock()

	for _, b := range blocks {
		if err := e.State.AddBlock(b); err != nil {
			e.logw("block_rejected", "hash", HashOfBlock(b).String(), "err", err)
			continue
		}
		e.persistBlock(b)
	}
	for _, v := range votes {
		e.State.AddVote(v)
		e.persistVote(v)
	}
}

// onProposeReceived authenticates an inbound proposal, checks the sender
// against the slot's elected proposer, and folds the block plus the shared
// view into the node's state.
func (e *Engine) onProposeReceived(ctx context.Context, sp SignedProposeMessage) {
	if !VerifyProposeSignature(sp) {
		e.logw("propose_rejected", "reason", ErrInvalidSignature.Error())
		return
	}
	signer, err := SignerOfProposeMessage(sp)
	if err != nil {
		e.logw("propose_rejected", "reason", "unresolved_signer", "err", err)
		return
	}

	block := sp.Message.Block
	if block.Proposer != signer {
		e.logw("propose_rejected", "reason", "proposer_mismatch", "signer", signer.Hex())
		return
	}

	// Single-leader check when the parent ancestry is resolvable. An
	// unknown parent defers the check to the tally path, which re-validates.
	if parent, err := e.State.BlockByHash(block.ParentHash); err == nil && e.State.IsCompleteChain(parent) {
		expected, err := e.State.ProposerForSlot(parent, block.Slot)
		if err == nil && expected != signer {
			e.logw("propose_rejected", "reason", ErrNotProposer.Error(), "signer", signer.Hex(), "expected", expected.Hex())
			return
		}
	}

	if err := e.State.AddBlock(block); err != nil {
		e.logw("propose_rejected", "reason", "invalid_block", "err", err)
		return
	}
	e.persistBlock(block)

	e.mu.Lock()
	e.bufferVotes = append(e.bufferVotes, sp.Message.ProposerView...)
	e.bufferVotes = append(e.bufferVotes, block.Votes...)
	e.mu.Unlock()

	e.logw("propose_received", "slot", block.Slot, "hash", HashOfBlock(block).String(), "proposer", signer.Hex())
}

// onVoteReceived authenticates an inbound vote, recovers the signer, checks
// membership in the validator set resolved for the vote's slot, and only then
// admits it to the view any tally reads from. Equivocating pairs are recorded
// as evidence and excluded.
func (e *Engine) onVoteReceived(ctx context.Context, sv SignedVoteMessage) {
	if !VerifyVoteSignature(sv) {
		e.logw("vote_rejected", "reason", ErrInvalidSignature.Error())
		return
	}
	signer, err := SignerOfVoteMessage(sv)
	if err != nil {
		e.logw("vote_rejected", "reason", "unresolved_signer", "err", err)
		return
	}

	// Membership gate: resolvable only once the voted head's ancestry is
	// complete. Votes for not-yet-synced heads are held in the view and
	// re-validated by every tally, so nothing is counted early.
	if head, err := e.State.BlockByHash(sv.Message.HeadHash); err == nil && e.State.IsCompleteChain(head) {
		balances, err := e.State.ValidatorSetForSlot(head, sv.Message.Slot)
		if err == nil && !IsValidator(signer, balances) {
			e.logw("vote_rejected", "reason", ErrUnknownValidator.Error(), "signer", signer.Hex(), "slot", sv.Message.Slot)
			return
		}
	}

	if e.State.IsEquivocatingVote(sv) {
		e.recordEquivocation(sv)
		return
	}

	e.State.AddVote(sv)
	e.persistVote(sv)
}

func (e *Engine) onBlockReceived(ctx context.Context, b Block) {
	if err := e.State.AddBlock(b); err != nil {
		e.logw("block_rejected", "hash", HashOfBlock(b).String(), "err", err)
		return
	}
	e.persistBlock(b)
}

func (e *Engine) recordEquivocation(sv SignedVoteMessage) {
	var conflicting SignedVoteMessage
	for _, other := range e.State.Votes() {
		if other.Sender == sv.Sender &&
			other.Message.Slot == sv.Message.Slot &&
			other.Message.HeadHash != sv.Message.HeadHash {
			conflicting = other
			break
		}
	}

	ev := Equivocation{Sender: sv.Sender, Slot: sv.Message.Slot, VoteA: conflicting, VoteB: sv}
	e.mu.Lock()
	e.evidence = append(e.evidence, ev)
	e.mu.Unlock()

	e.appendWAL(fmt.Sprintf("equivocation sender=%s slot=%d", sv.Sender.Hex(), sv.Message.Slot))
	e.logw("vote_rejected", "reason", ErrConflictingVote.Error(), "sender", sv.Sender.Hex(), "slot", sv.Message.Slot)
}

// FinalizeCheckpoint persists the greatest finalized checkpoint when it
// advances, returning it.
func (e *Engine) FinalizeCheckpoint() Checkpoint {
	cp := e.State.GreatestFinalizedCheckpoint()
	if e.Store != nil {
		if prev, ok := e.Store.GetFinalized(); !ok || cp.CheckpointSlot > prev.CheckpointSlot {
			e.Store.SetFinalized(cp)
			e.appendWAL(fmt.Sprintf("finalize slot=%d hash=%s", cp.CheckpointSlot, cp.BlockHash))
			e.logw("checkpoint_finalized", "slot", cp.CheckpointSlot, "hash", cp.BlockHash.String())
		}
	}
	return cp
}

// BuildCheckpointCert aggregates the BLS shares of the valid votes targeting
// a justified checkpoint into one compact certificate.
func (e *Engine) BuildCheckpointCert(cp Checkpoint) (CheckpointCert, error) {
	if !e.State.IsJustifiedCheckpoint(cp) {
		return CheckpointCert{}, fmt.Errorf("checkpoint %s at slot %d is not justified", cp.BlockHash, cp.CheckpointSlot)
	}

	var shares [][]byte
	var signers []NodeID
	seen := make(map[NodeID]struct{})
	for _, v := range e.State.Votes() {
		if v.Message.Target != cp || len(v.SigShare) == 0 {
			continue
		}
		if !e.State.ValidVote(v) {
			continue
		}
		if _, dup := seen[v.Sender]; dup {
			continue
		}
		seen[v.Sender] = struct{}{}
		shares = append(shares, v.SigShare)
		signers = append(signers, v.Sender)
	}
	if len(shares) == 0 {
		return CheckpointCert{}, fmt.Errorf("no BLS shares for checkpoint %s", cp.BlockHash)
	}

	agg := crypto.BLSAggregate(shares)
	if agg == nil {
		return CheckpointCert{}, fmt.Errorf("aggregate failed for checkpoint %s", cp.BlockHash)
	}
	return CheckpointCert{Checkpoint: cp, Signers: signers, AggSig: agg}, nil
}

// VerifyCheckpointCert checks an aggregate certificate against the registered
// BLS keys of its signers.
func (e *Engine) VerifyCheckpointCert(cert CheckpointCert) bool {
	e.mu.Lock()
	pks := make([]*crypto.BLSPubKey, 0, len(cert.Signers))
	for _, id := range cert.Signers {
		pk, ok := e.blsKeys[id]
		if !ok {
			e.mu.Unlock()
			return false
		}
		pks = append(pks, pk)
	}
	e.mu.Unlock()

	digest := CheckpointDigest(cert.Checkpoint)
	return crypto.BLSVerifyAggregateSameMsg(pks, digest[:], cert.AggSig)
}

func (e *Engine) persistBlock(b Block) {
	if e.Store != nil {
		e.Store.SaveBlock(b)
		if e.State.IsCompleteChain(b) {
			e.Store.MarkComplete(HashOfBlock(b))
		}
	}
}

func (e *Engine) persistVote(v SignedVoteMessage) {
	if e.Store != nil {
		e.Store.SaveVote(v)
	}
}

func (e *Engine) appendWAL(line string) {
	if e.WAL != nil {
		e.WAL.Append(line)
	}
}

func (e *Engine) logw(msg string, kv ...interface{}) {
	if e.Logger != nil {
		e.Logger.Infow(msg, kv...)
	}
}
