package commands

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/wonny/settle/internal/archive"
	"github.com/wonny/settle/pkg/database"
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show configuration and archive health",
	Long: `Prints the effective configuration, checks the archive
database connection and shows the most recent archived runs.

Example:
  go run ./cmd/settle status`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	PrintDoubleSeparator()
	PrintKeyValue("Environment", cfg.Env, 14)
	PrintKeyValue("Log level", cfg.LogLevel, 14)
	PrintKeyValue("Max retries", strconv.Itoa(cfg.Gateway.MaxRetries), 14)
	PrintKeyValue("Page limit", strconv.Itoa(cfg.Gateway.PageLimit), 14)
	PrintKeyValue("Artifacts dir", cfg.ArtifactsDir, 14)
	PrintKeyValue("Archive", strconv.FormatBool(cfg.ArchiveEnabled()), 14)
	PrintSeparator()

	if !cfg.ArchiveEnabled() {
		PrintWarning("DATABASE_URL not set; runs are not archived")
		return nil
	}

	db, err := database.New(cfg)
	if err != nil {
		PrintError(fmt.Sprintf("Database connection failed: %v", err))
		return err
	}
	defer db.Close()

	health, err := db.HealthCheck(cmd.Context())
	if err != nil {
		PrintError(fmt.Sprintf("Database unhealthy: %s", health.Error))
		return fmt.Errorf("database unhealthy: %w", err)
	}
	PrintSuccess(fmt.Sprintf("Database healthy (%s, %d/%d conns)",
		health.ResponseTime, health.IdleConns, health.MaxConns))

	repo := archive.NewRunRepository(db.Pool)
	runs, err := repo.ListRuns(cmd.Context(), "", 10)
	if err != nil {
		// The schema may not exist until the first archived run
		PrintWarning(fmt.Sprintf("Could not list runs: %v", err))
		return nil
	}

	if len(runs) == 0 {
		fmt.Println("No archived runs yet")
		return nil
	}

	PrintTableHeader([]string{"ID", "SOURCE", "METHOD", "ANSWER", "COMPLETE", "COMPUTED AT"}, []int{6, 16, 8, 12, 8, 20})
	for _, run := range runs {
		PrintTableRow([]string{
			strconv.FormatInt(run.ID, 10),
			run.Provider + ":" + run.SourceID,
			run.Method,
			strconv.FormatInt(run.RoundedInteger, 10),
			strconv.FormatBool(run.Complete),
			run.ComputedAt.Format("2006-01-02 15:04:05"),
		}, []int{6, 16, 8, 12, 8, 20})
	}

	return nil
}
