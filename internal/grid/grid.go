package grid

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wonny/settle/internal/source"
	"github.com/wonny/settle/internal/window"
)

// Provenance records how a slot obtained its value
type Provenance string

const (
	ProvenanceObserved Provenance = "observed"
	ProvenanceFilled   Provenance = "filled"
	ProvenanceMissing  Provenance = "missing"
)

// Slot is one interval of the dense grid
type Slot struct {
	StartMillis   int64           `json:"start_ms"`
	Value         decimal.Decimal `json:"value"`
	Provenance    Provenance      `json:"provenance"`
	Contributions int             `json:"contributions"`
}

// cell accumulates raw points that floor to the same slot
type cell struct {
	sum   decimal.Decimal
	count int64
}

// Sparse maps slot starts to combined observation values.
// Construction is order independent: duplicates are averaged, never
// overwritten, so shuffled input and overlapping pages converge on the
// same map.
type Sparse struct {
	cells map[int64]cell
}

// Build floors each raw point to its containing slot and combines
// duplicates by arithmetic mean. Points outside [spec.Start,
// effectiveEnd] are discarded.
func Build(points []source.RawPoint, spec window.Spec, effectiveEnd int64) Sparse {
	cells := make(map[int64]cell, len(points))
	for _, p := range points {
		slot := window.FloorToStep(p.SlotStartMillis, spec.StepMillis)
		if slot < spec.Start || slot > effectiveEnd {
			continue
		}
		c := cells[slot]
		c.sum = c.sum.Add(p.Value)
		c.count++
		cells[slot] = c
	}
	return Sparse{cells: cells}
}

// Value returns the combined value for a slot, if any observation
// floored into it
func (s Sparse) Value(slotStart int64) (decimal.Decimal, bool) {
	c, ok := s.cells[slotStart]
	if !ok {
		return decimal.Decimal{}, false
	}
	if c.count == 1 {
		return c.sum, true
	}
	return c.sum.Div(decimal.NewFromInt(c.count)), true
}

// Contributions returns how many raw points floored into a slot
func (s Sparse) Contributions(slotStart int64) int {
	return int(s.cells[slotStart].count)
}

// Len returns the number of distinct observed slots
func (s Sparse) Len() int {
	return len(s.cells)
}

// SlotStarts returns the observed slot starts in ascending order
func (s Sparse) SlotStarts() []int64 {
	starts := make([]int64, 0, len(s.cells))
	for t := range s.cells {
		starts = append(starts, t)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i] < starts[j] })
	return starts
}
