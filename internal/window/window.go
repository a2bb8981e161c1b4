package window

import (
	"errors"
	"fmt"
	"time"
)

// ErrConfigMismatch is returned when caller-supplied window parameters
// disagree with a canonically fixed window, or cannot form a valid grid.
// It is fatal for the invocation and never retried.
var ErrConfigMismatch = errors.New("window config mismatch")

// Spec is one computation's resolved time window: a half-open range
// [Start, End) on a fixed-step grid. All instants are UTC epoch
// milliseconds, matching the upstream providers' wire format.
// Immutable once resolved.
type Spec struct {
	Start             int64 `json:"start_ms"`
	End               int64 `json:"end_ms"`
	StepMillis        int64 `json:"step_ms"`
	ExpectedSlotCount int   `json:"expected_slot_count"`
}

// Request holds the caller-supplied window parameters.
// Either LengthMillis or FixedEndMillis must be set; when both are set
// they must agree.
type Request struct {
	ReferenceMillis int64
	OffsetMillis    int64
	LengthMillis    int64
	StepMillis      int64
	FixedEndMillis  int64 // 0 means "derive end from length"
}

// Resolve derives the window spec from a reference instant.
// The start is ceiling-aligned to the next step boundary because
// upstream sources only emit observations on step boundaries.
func Resolve(req Request) (Spec, error) {
	if req.StepMillis <= 0 {
		return Spec{}, fmt.Errorf("%w: step must be positive, got %d", ErrConfigMismatch, req.StepMillis)
	}

	start := CeilToStep(req.ReferenceMillis+req.OffsetMillis, req.StepMillis)

	var end int64
	switch {
	case req.FixedEndMillis > 0:
		end = req.FixedEndMillis
		// A fixed window is canonical: a disagreeing length override is an error
		if req.LengthMillis > 0 && start+req.LengthMillis != end {
			return Spec{}, fmt.Errorf("%w: fixed end %d disagrees with start %d + length %d",
				ErrConfigMismatch, end, start, req.LengthMillis)
		}
	case req.LengthMillis > 0:
		end = start + req.LengthMillis
	default:
		return Spec{}, fmt.Errorf("%w: neither window length nor fixed end supplied", ErrConfigMismatch)
	}

	if end <= start {
		return Spec{}, fmt.Errorf("%w: end %d not after start %d", ErrConfigMismatch, end, start)
	}

	length := end - start
	if length%req.StepMillis != 0 {
		return Spec{}, fmt.Errorf("%w: window length %dms is not a multiple of step %dms",
			ErrConfigMismatch, length, req.StepMillis)
	}

	return Spec{
		Start:             start,
		End:               end,
		StepMillis:        req.StepMillis,
		ExpectedSlotCount: int(length / req.StepMillis),
	}, nil
}

// LastSlotStart returns the start of the final slot in the window
func (s Spec) LastSlotStart() int64 {
	return s.End - s.StepMillis
}

// EffectiveEnd returns the start of the last slot that may be requested
// at instant now: the later of window slots never exceeds the last
// fully closed step boundary, so only fully elapsed slots are fetched.
// The result may precede Start for a window that has not opened yet.
func (s Spec) EffectiveEnd(nowMillis int64) int64 {
	lastClosed := FloorToStep(nowMillis, s.StepMillis) - s.StepMillis
	if last := s.LastSlotStart(); last < lastClosed {
		return last
	}
	return lastClosed
}

// ExpectedCountAt returns how many slots are expected for the window's
// current partial state at instant now.
func (s Spec) ExpectedCountAt(nowMillis int64) int {
	eff := s.EffectiveEnd(nowMillis)
	if eff < s.Start {
		return 0
	}
	return int((eff-s.Start)/s.StepMillis) + 1
}

// Elapsed reports whether the whole window has closed at instant now
func (s Spec) Elapsed(nowMillis int64) bool {
	return s.EffectiveEnd(nowMillis) == s.LastSlotStart()
}

// SlotStarts returns the start instant of every slot in the window,
// ascending.
func (s Spec) SlotStarts() []int64 {
	starts := make([]int64, 0, s.ExpectedSlotCount)
	for t := s.Start; t < s.End; t += s.StepMillis {
		starts = append(starts, t)
	}
	return starts
}

// CeilToStep aligns an instant up to the next step boundary
func CeilToStep(millis, step int64) int64 {
	return ((millis + step - 1) / step) * step
}

// FloorToStep aligns an instant down to its containing step boundary
func FloorToStep(millis, step int64) int64 {
	return millis - (millis % step)
}

// ToTime converts epoch milliseconds to a UTC time.Time
func ToTime(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}

// FormatISO renders epoch milliseconds as an ISO 8601 UTC instant
func FormatISO(millis int64) string {
	return ToTime(millis).Format("2006-01-02T15:04:05Z")
}
