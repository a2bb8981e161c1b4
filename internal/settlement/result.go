package settlement

import (
	"encoding/json"

	"github.com/wonny/settle/internal/aggregate"
	"github.com/wonny/settle/internal/grid"
	"github.com/wonny/settle/internal/window"
)

// Provenance records which upstream answered and how the range was
// covered, so a settlement can be reproduced against the same source.
type Provenance struct {
	Provider      string `json:"provider"`
	SourceID      string `json:"source_id"`
	Endpoint      string `json:"endpoint"`
	Requests      int    `json:"requests"`
	Pages         int    `json:"pages"`
	RawPointCount int    `json:"raw_point_count"`
	SeedUsed      bool   `json:"seed_used"`
}

// Result is the immutable output of one settlement computation. It is
// assembled once and never mutated afterwards.
type Result struct {
	Window             window.Spec       `json:"window"`
	EffectiveEndMillis int64             `json:"effective_end_ms"`
	Aggregation        aggregate.Result  `json:"aggregation"`
	Source             Provenance        `json:"source"`
	Slots              []grid.Slot       `json:"slots"`
	RawPages           []json.RawMessage `json:"-"`
	ComputedAtMillis   int64             `json:"computed_at_ms"`
}

// Answer is the settlement integer in minor units
func (r *Result) Answer() int64 {
	return r.Aggregation.RoundedInteger
}
