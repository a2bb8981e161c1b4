package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/settle/internal/api"
	"github.com/wonny/settle/internal/api/handlers"
	"github.com/wonny/settle/internal/archive"
	"github.com/wonny/settle/internal/settlement"
	"github.com/wonny/settle/pkg/database"
)

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the settlement API server",
	Long: `Starts the REST API server.

Endpoints:
  GET  /health             - Health check
  POST /api/compute        - Compute one settlement window
  GET  /api/runs           - List archived runs
  GET  /api/runs/{id}      - Get one archived run

Example:
  go run ./cmd/settle serve
  go run ./cmd/settle serve --port 8089`,
	RunE: runServe,
}

var servePort string

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&servePort, "port", "", "API server port (default from PORT)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}

	// The archive is optional; without a database the runs endpoints
	// answer 503 and compute results are not persisted
	var runRepo *archive.RunRepository
	if cfg.ArchiveEnabled() {
		db, err := database.New(cfg)
		if err != nil {
			return fmt.Errorf("connect to database: %w", err)
		}
		defer db.Close()

		runRepo = archive.NewRunRepository(db.Pool)
		if err := runRepo.EnsureSchema(context.Background()); err != nil {
			return err
		}
		log.Info("Run archive enabled")
	}

	compute := func(ctx context.Context, provider string, params settlement.Params) (*settlement.Result, error) {
		gateway, err := newGateway(cfg, log, provider, params.StepMillis)
		if err != nil {
			return nil, err
		}

		engine := settlement.NewEngine(gateway, log)
		if runRepo != nil {
			engine.WithRawFallback(runRepo)
		}

		result, err := engine.Compute(ctx, params)
		if err != nil {
			return nil, err
		}

		if runRepo != nil {
			if id, err := runRepo.SaveRun(ctx, result); err != nil {
				log.WithError(err).Warn("Failed to archive run")
			} else {
				log.WithField("run_id", id).Debug("Run archived")
			}
		}
		return result, nil
	}

	computeHandler := handlers.NewComputeHandler(compute, log)
	runsHandler := handlers.NewRunsHandler(runRepo, log)
	router := api.NewRouter(computeHandler, runsHandler, log)
	server := api.New(cfg, log, router)

	go func() {
		if err := server.Start(); err != nil {
			log.WithError(err).Fatal("Failed to start server")
		}
	}()

	fmt.Printf("Server running on http://localhost:%s\n", cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	return nil
}
