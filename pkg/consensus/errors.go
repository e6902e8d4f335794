package consensus

import "errors"

// Consensus errors
var (
	// ErrIncompleteChain: a validator-set query was made against a block whose
	// ancestry does not reach genesis. Fatal to the calling slot step; the
	// caller must not proceed to sign anything derived from it.
	ErrIncompleteChain = errors.New("block is not on a complete chain")

	ErrUnknownBlock      = errors.New("unknown block")
	ErrInvalidSignature  = errors.New("invalid signature")
	ErrUnresolvedSigner  = errors.New("signer not resolvable")
	ErrUnknownValidator  = errors.New("signer not in validator set")
	ErrEmptyValidatorSet = errors.New("empty validator set")
	ErrNotProposer       = errors.New("not the proposer for this slot")
	ErrNoSigner          = errors.New("no signing key configured")
	ErrStaleTip          = errors.New("chain tip changed during slot step")
	ErrSlotOrder         = errors.New("block slot not greater than parent slot")
	ErrConflictingVote   = errors.New("conflicting vote (equivocation)")
)
