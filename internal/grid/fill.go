package grid

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/wonny/settle/internal/window"
)

// ErrUnfillableGap means a run of missing slots exceeded the gap policy
// bound, or the first slot was missing with no seed to carry from. The
// window is not yet answerable; retrying later may succeed once the
// upstream backfills.
var ErrUnfillableGap = errors.New("unfillable gap")

// Policy bounds how far a stale value may be carried into missing slots
type Policy struct {
	MaxConsecutiveMissing int
	Seed                  decimal.Decimal
	HasSeed               bool
}

// Fill walks the window's slots in ascending order up to effectiveEnd
// and carries the last known value into missing slots, bounded by the
// policy. The result is dense: every expected slot appears exactly
// once, marked observed or filled.
func Fill(sparse Sparse, spec window.Spec, effectiveEnd int64, policy Policy) ([]Slot, error) {
	lastKnown := policy.Seed
	haveKnown := policy.HasSeed
	consecutiveMissing := 0

	expected := 0
	if effectiveEnd >= spec.Start {
		expected = int((effectiveEnd-spec.Start)/spec.StepMillis) + 1
	}

	dense := make([]Slot, 0, expected)
	for t := spec.Start; t <= effectiveEnd; t += spec.StepMillis {
		if v, ok := sparse.Value(t); ok {
			lastKnown = v
			haveKnown = true
			consecutiveMissing = 0
			dense = append(dense, Slot{
				StartMillis:   t,
				Value:         v,
				Provenance:    ProvenanceObserved,
				Contributions: sparse.Contributions(t),
			})
			continue
		}

		consecutiveMissing++
		if !haveKnown {
			return nil, fmt.Errorf("%w: slot %s missing with no seed to carry",
				ErrUnfillableGap, window.FormatISO(t))
		}
		if consecutiveMissing > policy.MaxConsecutiveMissing {
			return nil, fmt.Errorf("%w: %d consecutive missing slots ending at %s exceed bound %d",
				ErrUnfillableGap, consecutiveMissing, window.FormatISO(t), policy.MaxConsecutiveMissing)
		}
		dense = append(dense, Slot{
			StartMillis: t,
			Value:       lastKnown,
			Provenance:  ProvenanceFilled,
		})
	}

	if len(dense) != expected {
		return nil, fmt.Errorf("dense grid has %d slots, expected %d", len(dense), expected)
	}

	return dense, nil
}

// MissingSlots returns the starts of slots that were not directly
// observed, in ascending order
func MissingSlots(dense []Slot) []int64 {
	var missing []int64
	for _, s := range dense {
		if s.Provenance != ProvenanceObserved {
			missing = append(missing, s.StartMillis)
		}
	}
	return missing
}
