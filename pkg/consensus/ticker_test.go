package consensus_test

import (
	"testing"
	"time"

	"github.com/slatechain/slate/pkg/consensus"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

func (c fixedClock) After(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- c.now
	return ch
}

func TestSlotPhaseArithmetic(t *testing.T) {
	start := time.Unix(1000, 0)
	ticker := consensus.NewSlotTicker(time.Second, fixedClock{now: start})

	cases := []struct {
		offset time.Duration
		slot   consensus.Slot
		phase  consensus.Phase
	}{
		{0, 0, consensus.PhasePropose},
		{1 * time.Second, 0, consensus.PhaseVote},
		{2 * time.Second, 0, consensus.PhaseConfirm},
		{3 * time.Second, 0, consensus.PhaseMerge},
		{4 * time.Second, 1, consensus.PhasePropose},
		{9 * time.Second, 2, consensus.PhaseVote},
		{-5 * time.Second, 0, consensus.PhasePropose},
	}
	for _, tc := range cases {
		at := start.Add(tc.offset)
		if got := ticker.SlotAt(at); got != tc.slot {
			t.Fatalf("SlotAt(+%v) = %d, want %d", tc.offset, got, tc.slot)
		}
		if got := ticker.PhaseAt(at); got != tc.phase {
			t.Fatalf("PhaseAt(+%v) = %s, want %s", tc.offset, got, tc.phase)
		}
	}
}
