package settlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/wonny/settle/internal/aggregate"
	"github.com/wonny/settle/internal/grid"
	"github.com/wonny/settle/internal/source"
	"github.com/wonny/settle/internal/window"
	"github.com/wonny/settle/pkg/logger"
)

// Params are the explicit inputs of one settlement computation. There
// are no hidden defaults; the caller supplies everything.
type Params struct {
	SourceID              string
	ReferenceMillis       int64
	OffsetMillis          int64
	LengthMillis          int64
	StepMillis            int64
	FixedEndMillis        int64
	Method                aggregate.Method
	RoundingRule          aggregate.RoundingRule
	MinorUnitScale        int64
	MaxConsecutiveMissing int

	// SettleDelayMillis holds the answer back for a margin after the
	// window closes, giving late upstream writes time to land.
	SettleDelayMillis int64

	// AllowEarly answers a window that is still open (or inside the
	// settle delay), using the slots elapsed so far. Off by default: an
	// open window is not yet answerable.
	AllowEarly bool
}

// RawFallback serves the archived raw pages of the most recent
// successful run covering a window, for re-parsing when every live
// endpoint is down.
type RawFallback interface {
	LatestRawPages(ctx context.Context, provider, sourceID string, windowStartMillis, windowEndMillis int64) ([]json.RawMessage, error)
}

// Engine runs the settlement pipeline: resolve the window, fetch the
// range, build and fill the grid, aggregate, assemble. One invocation
// is strictly sequential and owns all of its state.
type Engine struct {
	gateway  *source.Gateway
	fallback RawFallback
	logger   *logger.Logger
	now      func() time.Time
}

// NewEngine creates a settlement engine over a source gateway
func NewEngine(gateway *source.Gateway, log *logger.Logger) *Engine {
	return &Engine{
		gateway: gateway,
		logger:  log,
		now:     time.Now,
	}
}

// WithClock overrides the engine's clock
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// WithRawFallback enables the cached-raw fallback: when every endpoint
// is exhausted, the latest archived pages for the window are re-parsed
// through the provider codec instead of failing the run.
func (e *Engine) WithRawFallback(fb RawFallback) *Engine {
	e.fallback = fb
	return e
}

// Compute runs one settlement and returns the immutable result
func (e *Engine) Compute(ctx context.Context, params Params) (*Result, error) {
	spec, err := window.Resolve(window.Request{
		ReferenceMillis: params.ReferenceMillis,
		OffsetMillis:    params.OffsetMillis,
		LengthMillis:    params.LengthMillis,
		StepMillis:      params.StepMillis,
		FixedEndMillis:  params.FixedEndMillis,
	})
	if err != nil {
		return nil, err
	}

	nowMillis := e.now().UnixMilli()
	effectiveEnd := spec.EffectiveEnd(nowMillis)

	e.logger.WithFields(map[string]interface{}{
		"source_id":     params.SourceID,
		"window_start":  window.FormatISO(spec.Start),
		"window_end":    window.FormatISO(spec.End),
		"effective_end": window.FormatISO(effectiveEnd),
		"slots":         spec.ExpectedCountAt(nowMillis),
	}).Info("Starting settlement computation")

	if effectiveEnd < spec.Start {
		return nil, fmt.Errorf("%w: window opens at %s, no slot has closed yet",
			grid.ErrUnfillableGap, window.FormatISO(spec.Start))
	}
	if !params.AllowEarly {
		if !spec.Elapsed(nowMillis) {
			return nil, fmt.Errorf("%w: window is open until %s, %d of %d slots elapsed",
				grid.ErrUnfillableGap, window.FormatISO(spec.End),
				spec.ExpectedCountAt(nowMillis), spec.ExpectedSlotCount)
		}
		if earliest := spec.End + params.SettleDelayMillis; nowMillis < earliest {
			return nil, fmt.Errorf("%w: settlement opens at %s",
				grid.ErrUnfillableGap, window.FormatISO(earliest))
		}
	}

	fetch, err := e.gateway.FetchRange(ctx, params.SourceID, spec.Start, effectiveEnd+spec.StepMillis, spec.StepMillis)
	if err != nil {
		if e.fallback == nil || !errors.Is(err, source.ErrSourceUnavailable) {
			return nil, err
		}
		fetch, err = e.fetchFromArchive(ctx, params.SourceID, spec, err)
		if err != nil {
			return nil, err
		}
	}

	sparse := grid.Build(fetch.Points, spec, effectiveEnd)

	policy := grid.Policy{MaxConsecutiveMissing: params.MaxConsecutiveMissing}
	if _, ok := sparse.Value(spec.Start); !ok {
		// First slot missing: try to seed the carry-forward from the
		// value immediately preceding the window
		if seed, found := e.gateway.FetchSeed(ctx, params.SourceID, spec.Start, spec.StepMillis); found {
			policy.Seed = seed
			policy.HasSeed = true
			e.logger.WithField("seed", seed.String()).Info("Seeded carry-forward from pre-window value")
		}
	}

	dense, err := grid.Fill(sparse, spec, effectiveEnd, policy)
	if err != nil {
		return nil, err
	}

	agg, err := aggregate.Aggregate(dense, spec, effectiveEnd, params.Method, params.RoundingRule, params.MinorUnitScale)
	if err != nil {
		return nil, err
	}

	result := &Result{
		Window:             spec,
		EffectiveEndMillis: effectiveEnd,
		Aggregation:        agg,
		Source: Provenance{
			Provider:      e.gateway.Provider(),
			SourceID:      params.SourceID,
			Endpoint:      fetch.Endpoint,
			Requests:      fetch.Requests,
			Pages:         fetch.Pages,
			RawPointCount: len(fetch.Points),
			SeedUsed:      policy.HasSeed,
		},
		Slots:            dense,
		RawPages:         fetch.RawPages,
		ComputedAtMillis: nowMillis,
	}

	e.logger.WithFields(map[string]interface{}{
		"answer":     result.Answer(),
		"endpoint":   fetch.Endpoint,
		"scalar":     agg.Scalar.String(),
		"complete":   agg.Complete,
		"contiguous": agg.Contiguous,
		"observed":   agg.ObservedCount,
		"expected":   agg.ExpectedCount,
	}).Info("Settlement computed")

	return result, nil
}

// fetchFromArchive re-parses the latest archived pages for the window.
// Any failure here surfaces the original fetch error; the fallback
// never invents a new failure mode.
func (e *Engine) fetchFromArchive(ctx context.Context, sourceID string, spec window.Spec, fetchErr error) (*source.FetchResult, error) {
	pages, err := e.fallback.LatestRawPages(ctx, e.gateway.Provider(), sourceID, spec.Start, spec.End)
	if err != nil {
		e.logger.WithError(err).Warn("No archived pages to fall back on")
		return nil, fetchErr
	}

	points, err := e.gateway.ParseRawPages(pages)
	if err != nil {
		e.logger.WithError(err).Warn("Archived page re-parse failed")
		return nil, fetchErr
	}

	e.logger.WithFields(map[string]interface{}{
		"source_id": sourceID,
		"pages":     len(pages),
		"points":    len(points),
	}).Warn("All endpoints down, answering from archived raw pages")

	return &source.FetchResult{
		Points:   points,
		RawPages: pages,
		Endpoint: "cache",
		Pages:    len(pages),
	}, nil
}
