package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/wonny/settle/internal/artifacts"
	"github.com/wonny/settle/internal/grid"
	"github.com/wonny/settle/internal/settlement"
	"github.com/wonny/settle/pkg/logger"
)

// Archiver persists a completed settlement run
type Archiver interface {
	SaveRun(ctx context.Context, result *settlement.Result) (int64, error)
}

// RecomputeJob recomputes one settlement window on a schedule. While
// the window is still open it answers early with the slots elapsed so
// far; once a complete result lands the OnComplete callback fires and
// the caller can stop watching.
type RecomputeJob struct {
	engine   *settlement.Engine
	params   settlement.Params
	schedule string
	writer   *artifacts.Writer
	archiver Archiver
	logger   *logger.Logger

	// OnComplete is invoked at most once, with the first complete
	// result
	OnComplete func(*settlement.Result)

	done bool
}

// NewRecomputeJob creates a recompute job for one window. writer and
// archiver may be nil when artifacts or the archive are disabled.
func NewRecomputeJob(engine *settlement.Engine, params settlement.Params, schedule string, writer *artifacts.Writer, archiver Archiver, log *logger.Logger) *RecomputeJob {
	params.AllowEarly = true
	return &RecomputeJob{
		engine:   engine,
		params:   params,
		schedule: schedule,
		writer:   writer,
		archiver: archiver,
		logger:   log,
	}
}

// Name returns the job name
func (j *RecomputeJob) Name() string {
	return "recompute_" + j.params.SourceID
}

// Schedule returns the cron schedule expression
func (j *RecomputeJob) Schedule() string {
	return j.schedule
}

// Run executes one recomputation
func (j *RecomputeJob) Run(ctx context.Context) error {
	if j.done {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	result, err := j.engine.Compute(ctx, j.params)
	if err != nil {
		if errors.Is(err, grid.ErrUnfillableGap) {
			// Expected while the window has no closed slots yet or
			// the upstream has not backfilled a gap
			j.logger.WithError(err).Info("Window not yet answerable")
			return nil
		}
		return err
	}

	j.logger.WithFields(map[string]interface{}{
		"answer":   result.Answer(),
		"complete": result.Aggregation.Complete,
		"observed": result.Aggregation.ObservedCount,
		"expected": result.Aggregation.ExpectedCount,
	}).Info("Recomputed window")

	if j.writer != nil {
		if _, err := j.writer.WriteAll(result); err != nil {
			j.logger.WithError(err).Warn("Failed to write artifacts")
		}
	}
	if j.archiver != nil {
		if _, err := j.archiver.SaveRun(ctx, result); err != nil {
			j.logger.WithError(err).Warn("Failed to archive run")
		}
	}

	if result.Aggregation.Complete {
		j.done = true
		if j.OnComplete != nil {
			j.OnComplete(result)
		}
	}
	return nil
}
