package consensus

import (
	"context"
	"time"

	"github.com/slatechain/slate/pkg/util"
)

// SlotTicker maps wall time onto (slot, phase) and drives the engine. A slot
// lasts 4Δ; the four phases begin at Δ boundaries within it. The ticker is
// the only place wall time enters the core: everything below OnTick is pure
// in the slot and phase numbers.
type SlotTicker struct {
	delta time.Duration
	clock util.Clock
	start time.Time
}

func NewSlotTicker(delta time.Duration, clock util.Clock) *SlotTicker {
	return &SlotTicker{delta: delta, clock: clock, start: clock.Now()}
}

// SlotAt converts an instant to the slot containing it.
func (t *SlotTicker) SlotAt(at time.Time) Slot {
	elapsed := at.Sub(t.start)
	if elapsed < 0 {
		return 0
	}
	return Slot(elapsed / (4 * t.delta))
}

// PhaseAt converts an instant to the phase within its slot.
func (t *SlotTicker) PhaseAt(at time.Time) Phase {
	elapsed := at.Sub(t.start)
	if elapsed < 0 {
		return PhasePropose
	}
	return Phase((elapsed / t.delta) % 4)
}

// Run ticks the engine on every phase transition until ctx is cancelled.
func (t *SlotTicker) Run(ctx context.Context, e *Engine) error {
	lastSlot, lastPhase := Slot(0), Phase(255)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.clock.After(t.delta / 4):
		}

		now := t.clock.Now()
		slot, phase := t.SlotAt(now), t.PhaseAt(now)
		if slot == lastSlot && phase == lastPhase {
			continue
		}
		lastSlot, lastPhase = slot, phase
		e.OnTick(ctx, slot, phase)

		if phase == PhaseMerge {
			e.FinalizeCheckpoint()
		}
	}
}
