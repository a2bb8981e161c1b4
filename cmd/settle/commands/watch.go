package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/settle/internal/archive"
	"github.com/wonny/settle/internal/artifacts"
	"github.com/wonny/settle/internal/scheduler"
	"github.com/wonny/settle/internal/scheduler/jobs"
	"github.com/wonny/settle/internal/settlement"
	"github.com/wonny/settle/pkg/database"
)

// watchCmd represents the watch command
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Recompute a window on a schedule until it completes",
	Long: `Recomputes one settlement window on a fixed interval, writing
artifacts after each pass. While the window is open it answers early
with the slots elapsed so far; once the window closes and a complete
answer lands, the final answer is printed and the watcher exits.

Example:
  go run ./cmd/settle watch --provider binance --source BTCUSDT \
    --end 2025-10-29T18:00:00Z --length 12h --every 1m`,
	RunE: runWatch,
}

var (
	watchFlags     windowFlags
	watchEvery     time.Duration
	watchArtifacts bool
	watchArchive   bool
)

func init() {
	rootCmd.AddCommand(watchCmd)

	addWindowFlags(watchCmd, &watchFlags)
	watchCmd.Flags().DurationVar(&watchEvery, "every", time.Minute, "recompute interval")
	watchCmd.Flags().BoolVar(&watchArtifacts, "artifacts", true, "write artifacts after each pass")
	watchCmd.Flags().BoolVar(&watchArchive, "archive", false, "archive each complete pass in the database")
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	params, err := watchFlags.params()
	if err != nil {
		return err
	}

	gateway, err := newGateway(cfg, log, watchFlags.provider, params.StepMillis)
	if err != nil {
		return err
	}
	engine := settlement.NewEngine(gateway, log)

	var writer *artifacts.Writer
	if watchArtifacts {
		writer = artifacts.NewWriter(cfg.ArtifactsDir, log)
	}

	var archiver jobs.Archiver
	if watchArchive {
		if !cfg.ArchiveEnabled() {
			return fmt.Errorf("--archive requires DATABASE_URL to be set")
		}
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		repo := archive.NewRunRepository(db.Pool)
		if err := repo.EnsureSchema(context.Background()); err != nil {
			return err
		}
		archiver = repo
		engine.WithRawFallback(repo)
	}

	done := make(chan *settlement.Result, 1)

	job := jobs.NewRecomputeJob(engine, params, fmt.Sprintf("@every %s", watchEvery), writer, archiver, log)
	job.OnComplete = func(result *settlement.Result) {
		done <- result
	}

	sched := scheduler.New(log).WithRetry(0, 0)
	if err := sched.AddJob(job); err != nil {
		return err
	}

	sched.Start()
	defer sched.Stop()

	// First pass immediately, then on the schedule
	if err := sched.RunJob(job.Name()); err != nil {
		return err
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case result := <-done:
		PrintSuccess("Window complete")
		fmt.Println(result.Answer())
		return nil
	case <-quit:
		log.Info("Watch interrupted")
		return nil
	}
}
