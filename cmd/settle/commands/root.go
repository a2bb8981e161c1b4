package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Global flags
	envFile string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "settle",
	Short: "Windowed settlement metric computation",
	Long: `Settle computes a single deterministic integer answer over a
precisely defined UTC time window: a time-weighted average price, a
multi-day metric average, or a spot-sampled value, fetched from an
external quote provider with mirror failover.

Usage:
  go run ./cmd/settle [command]

Examples:
  go run ./cmd/settle compute --provider binance --source BTCUSDT \
    --end 2025-10-29T18:00:00Z --length 12h --step 1m \
    --method mean --rounding half_up
  go run ./cmd/settle watch --provider hyperliquid --source HYPE/USDC \
    --end 2025-10-29T18:00:00Z --length 12h
  go run ./cmd/settle serve --port 8089`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file (default is .env)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
