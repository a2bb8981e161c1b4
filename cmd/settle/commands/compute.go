package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wonny/settle/internal/archive"
	"github.com/wonny/settle/internal/artifacts"
	"github.com/wonny/settle/internal/settlement"
	"github.com/wonny/settle/internal/window"
	"github.com/wonny/settle/pkg/database"
)

// computeCmd represents the compute command
var computeCmd = &cobra.Command{
	Use:   "compute",
	Short: "Compute one settlement window",
	Long: `Computes the settlement answer for one time window and prints
the integer result in minor units to stdout.

Exit codes:
  0 - answer computed
  2 - window not yet answerable (still open, or gap bound exceeded)
  1 - any other failure

Example:
  go run ./cmd/settle compute --provider binance --source BTCUSDT \
    --end 2025-10-29T18:00:00Z --length 12h --step 1m \
    --method mean --rounding half_up --scale 100`,
	RunE: runCompute,
}

var (
	computeFlags      windowFlags
	computeAllowEarly bool
	computeJSON       bool
	computeArtifacts  bool
	computeArchive    bool
)

func init() {
	rootCmd.AddCommand(computeCmd)

	addWindowFlags(computeCmd, &computeFlags)
	computeCmd.Flags().BoolVar(&computeAllowEarly, "allow-early", false, "answer an open window with the slots elapsed so far")
	computeCmd.Flags().BoolVar(&computeJSON, "json", false, "print the full result object as JSON")
	computeCmd.Flags().BoolVar(&computeArtifacts, "artifacts", false, "write result, slots and raw page artifacts")
	computeCmd.Flags().BoolVar(&computeArchive, "archive", false, "archive the run in the database")
}

func runCompute(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	params, err := computeFlags.params()
	if err != nil {
		return err
	}
	params.AllowEarly = computeAllowEarly

	gateway, err := newGateway(cfg, log, computeFlags.provider, params.StepMillis)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := settlement.NewEngine(gateway, log)

	// The archive doubles as the cached-raw fallback, so it is opened
	// before the computation when requested
	var repo *archive.RunRepository
	if computeArchive {
		if !cfg.ArchiveEnabled() {
			return fmt.Errorf("--archive requires DATABASE_URL to be set")
		}
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		repo = archive.NewRunRepository(db.Pool)
		if err := repo.EnsureSchema(ctx); err != nil {
			return err
		}
		engine.WithRawFallback(repo)
	}

	result, err := engine.Compute(ctx, params)
	if err != nil {
		return err
	}

	if computeArtifacts {
		writer := artifacts.NewWriter(cfg.ArtifactsDir, log)
		if _, err := writer.WriteAll(result); err != nil {
			log.WithError(err).Warn("Failed to write artifacts")
		}
	}

	if repo != nil {
		id, err := repo.SaveRun(ctx, result)
		if err != nil {
			return fmt.Errorf("archive run: %w", err)
		}
		log.WithField("run_id", id).Info("Run archived")
	}

	if computeJSON {
		return json.NewEncoder(os.Stdout).Encode(result)
	}

	printResult(result)
	return nil
}

// printResult prints the human-readable summary. The final line is the
// bare integer answer so scripts can take the last stdout line.
func printResult(result *settlement.Result) {
	agg := result.Aggregation

	PrintDoubleSeparator()
	PrintKeyValue("Window", fmt.Sprintf("%s ~ %s",
		window.FormatISO(result.Window.Start), window.FormatISO(result.Window.End)), 12)
	PrintKeyValue("Step", fmt.Sprintf("%dms", result.Window.StepMillis), 12)
	PrintKeyValue("Source", fmt.Sprintf("%s %s via %s",
		result.Source.Provider, result.Source.SourceID, result.Source.Endpoint), 12)
	PrintKeyValue("Method", fmt.Sprintf("%s, %s, scale %d",
		agg.Method, agg.RoundingRule, agg.MinorUnitScale), 12)
	PrintKeyValue("Slots", fmt.Sprintf("%d observed / %d expected", agg.ObservedCount, agg.ExpectedCount), 12)
	PrintKeyValue("Scalar", agg.Scalar.String(), 12)
	PrintKeyValue("Complete", strconv.FormatBool(agg.Complete), 12)
	PrintKeyValue("Contiguous", strconv.FormatBool(agg.Contiguous), 12)
	if len(agg.MissingSlots) > 0 {
		PrintWarning(fmt.Sprintf("%d slots were carried forward", len(agg.MissingSlots)))
	}
	PrintSeparator()
	fmt.Println(result.Answer())
}
