package aggregate

import (
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/wonny/settle/internal/grid"
	"github.com/wonny/settle/internal/window"
)

// Method selects the reduction applied to the dense grid
type Method string

const (
	MethodMean   Method = "mean"
	MethodMedian Method = "median"
)

// RoundingRule selects how the scaled scalar becomes an integer.
// Half-up and floor-half agree for positive values but historical
// settlements used both, so each stays distinct and the rule in force
// is recorded in the result.
type RoundingRule string

const (
	// RoundHalfUp rounds ties away from zero
	RoundHalfUp RoundingRule = "half_up"
	// RoundFloorHalf computes floor(x + 0.5)
	RoundFloorHalf RoundingRule = "floor_half"
	// RoundCeil rounds toward positive infinity, for metrics that
	// require a conservative upper bound
	RoundCeil RoundingRule = "ceil"
)

// Result is the terminal aggregation output, produced once per window
type Result struct {
	Scalar         decimal.Decimal `json:"scalar"`
	RoundedInteger int64           `json:"rounded_integer"`
	Method         Method          `json:"method"`
	RoundingRule   RoundingRule    `json:"rounding_rule"`
	MinorUnitScale int64           `json:"minor_unit_scale"`
	ObservedCount  int             `json:"observed_count"`
	ExpectedCount  int             `json:"expected_count"`
	Contiguous     bool            `json:"contiguous"`
	Complete       bool            `json:"complete"`
	MissingSlots   []int64         `json:"missing_slots,omitempty"`
}

// Aggregate reduces a dense grid to one scalar and its integer form in
// minor units. All accumulation is exact decimal arithmetic.
func Aggregate(dense []grid.Slot, spec window.Spec, effectiveEnd int64, method Method, rule RoundingRule, scale int64) (Result, error) {
	if len(dense) == 0 {
		return Result{}, fmt.Errorf("%w: cannot aggregate an empty grid", window.ErrConfigMismatch)
	}
	if scale <= 0 {
		return Result{}, fmt.Errorf("%w: minor unit scale must be positive, got %d", window.ErrConfigMismatch, scale)
	}

	values := make([]decimal.Decimal, len(dense))
	observed := 0
	for i, s := range dense {
		values[i] = s.Value
		if s.Provenance == grid.ProvenanceObserved {
			observed++
		}
	}

	var scalar decimal.Decimal
	switch method {
	case MethodMean:
		scalar = mean(values)
	case MethodMedian:
		scalar = median(values)
	default:
		return Result{}, fmt.Errorf("%w: unknown aggregation method %q", window.ErrConfigMismatch, method)
	}

	rounded, err := roundScaled(scalar.Mul(decimal.NewFromInt(scale)), rule)
	if err != nil {
		return Result{}, err
	}

	return Result{
		Scalar:         scalar,
		RoundedInteger: rounded,
		Method:         method,
		RoundingRule:   rule,
		MinorUnitScale: scale,
		ObservedCount:  observed,
		ExpectedCount:  len(dense),
		Contiguous:     observed == len(dense),
		Complete:       effectiveEnd == spec.LastSlotStart() && len(dense) == spec.ExpectedSlotCount,
		MissingSlots:   grid.MissingSlots(dense),
	}, nil
}

func mean(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Decimal{}
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.Div(decimal.NewFromInt(int64(len(values))))
}

func median(values []decimal.Decimal) decimal.Decimal {
	sorted := make([]decimal.Decimal, len(values))
	copy(sorted, values)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return sorted[mid-1].Add(sorted[mid]).Div(decimal.NewFromInt(2))
}

var half = decimal.New(5, -1)

func roundScaled(scaled decimal.Decimal, rule RoundingRule) (int64, error) {
	switch rule {
	case RoundHalfUp:
		return scaled.Round(0).IntPart(), nil
	case RoundFloorHalf:
		return scaled.Add(half).Floor().IntPart(), nil
	case RoundCeil:
		return scaled.Ceil().IntPart(), nil
	default:
		return 0, fmt.Errorf("%w: unknown rounding rule %q", window.ErrConfigMismatch, rule)
	}
}
