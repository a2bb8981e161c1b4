package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/settle/internal/aggregate"
	"github.com/wonny/settle/internal/settlement"
	"github.com/wonny/settle/internal/window"
	"github.com/wonny/settle/pkg/config"
	"github.com/wonny/settle/pkg/logger"
)

// windowFlags holds the flag set shared by compute and watch
type windowFlags struct {
	provider    string
	sourceID    string
	reference   string
	offset      time.Duration
	length      time.Duration
	step        time.Duration
	end         string
	method      string
	rounding    string
	scale       int64
	maxMissing  int
	settleDelay time.Duration
}

func addWindowFlags(cmd *cobra.Command, f *windowFlags) {
	cmd.Flags().StringVar(&f.provider, "provider", "", "upstream provider (binance|hyperliquid|defillama)")
	cmd.Flags().StringVar(&f.sourceID, "source", "", "source identifier (symbol, pair or pool id)")
	cmd.Flags().StringVar(&f.reference, "reference", "", "reference instant, RFC3339 or epoch millis (default now)")
	cmd.Flags().DurationVar(&f.offset, "offset", 0, "offset from the reference to the window start")
	cmd.Flags().DurationVar(&f.length, "length", 0, "window length (e.g. 12h)")
	cmd.Flags().DurationVar(&f.step, "step", time.Minute, "grid step (e.g. 1m, 24h)")
	cmd.Flags().StringVar(&f.end, "end", "", "fixed window end, RFC3339 or epoch millis")
	cmd.Flags().StringVar(&f.method, "method", "mean", "aggregation method (mean|median)")
	cmd.Flags().StringVar(&f.rounding, "rounding", "half_up", "rounding rule (half_up|floor_half|ceil)")
	cmd.Flags().Int64Var(&f.scale, "scale", 100, "minor unit scale (100 cents, 10000 basis points)")
	cmd.Flags().IntVar(&f.maxMissing, "max-missing", 60, "max consecutive missing slots to carry forward")
	cmd.Flags().DurationVar(&f.settleDelay, "settle-delay", 0, "extra wait after the window closes before answering")

	cmd.MarkFlagRequired("provider")
	cmd.MarkFlagRequired("source")
}

// params validates the flags into an explicit engine parameter set
func (f *windowFlags) params() (settlement.Params, error) {
	reference, err := parseInstant(f.reference)
	if err != nil {
		return settlement.Params{}, fmt.Errorf("%w: invalid --reference: %v", window.ErrConfigMismatch, err)
	}

	fixedEnd, err := parseInstant(f.end)
	if err != nil {
		return settlement.Params{}, fmt.Errorf("%w: invalid --end: %v", window.ErrConfigMismatch, err)
	}

	if reference == 0 {
		if fixedEnd > 0 && f.length > 0 {
			// A fixed window of a known length is anchored at its end;
			// an explicit --reference that disagrees is still rejected
			// by the resolver
			reference = fixedEnd - f.length.Milliseconds() - f.offset.Milliseconds()
		} else {
			reference = time.Now().UnixMilli()
		}
	}

	return settlement.Params{
		SourceID:              f.sourceID,
		ReferenceMillis:       reference,
		OffsetMillis:          f.offset.Milliseconds(),
		LengthMillis:          f.length.Milliseconds(),
		StepMillis:            f.step.Milliseconds(),
		FixedEndMillis:        fixedEnd,
		Method:                aggregate.Method(f.method),
		RoundingRule:          aggregate.RoundingRule(f.rounding),
		MinorUnitScale:        f.scale,
		MaxConsecutiveMissing: f.maxMissing,
		SettleDelayMillis:     f.settleDelay.Milliseconds(),
	}, nil
}

// parseInstant accepts RFC3339 or epoch milliseconds; empty means unset
func parseInstant(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	if millis, err := strconv.ParseInt(s, 10, 64); err == nil {
		return millis, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return 0, err
	}
	return t.UnixMilli(), nil
}

// loadConfig loads the environment configuration, honoring the global
// flags
func loadConfig() (*config.Config, *logger.Logger, error) {
	cfg, err := config.LoadFrom(envFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	return cfg, logger.New(cfg), nil
}
