package settlement

import (
	"context"
	"errors"

	"github.com/wonny/settle/internal/grid"
	"github.com/wonny/settle/internal/source"
	"github.com/wonny/settle/internal/window"
)

// Kind is the fatal error taxonomy callers discriminate on
type Kind string

const (
	// KindConfigMismatch means the caller's window parameters
	// disagree with each other. Retrying does not help.
	KindConfigMismatch Kind = "config_mismatch"
	// KindSourceUnavailable means every endpoint and retry was
	// exhausted. The whole invocation may be retried later.
	KindSourceUnavailable Kind = "source_unavailable"
	// KindUnfillableGap means the window is not yet answerable, not
	// that anything is broken. Retrying sooner can help once the
	// upstream backfills or more slots close.
	KindUnfillableGap Kind = "unfillable_gap"
	// KindCancelled means the caller aborted the invocation
	KindCancelled Kind = "cancelled"
	// KindInternal covers everything else
	KindInternal Kind = "internal"
)

// Classify maps an error to its taxonomy kind
func Classify(err error) Kind {
	switch {
	case errors.Is(err, window.ErrConfigMismatch):
		return KindConfigMismatch
	case errors.Is(err, source.ErrSourceUnavailable):
		return KindSourceUnavailable
	case errors.Is(err, grid.ErrUnfillableGap):
		return KindUnfillableGap
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCancelled
	default:
		return KindInternal
	}
}

// ExitCode maps a computation outcome to a process exit code: 0 for an
// answer, 2 for "not yet answerable", 1 for everything else.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	if Classify(err) == KindUnfillableGap {
		return 2
	}
	return 1
}
