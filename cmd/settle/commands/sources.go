package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/wonny/settle/internal/source/hyperliquid"
	"github.com/wonny/settle/pkg/httputil"
)

// sourcesCmd represents the sources command
var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "List configured providers and their endpoints",
	Long: `Lists every configured upstream provider with its endpoint
mirror order, and optionally resolves a spot pair name to the
provider's internal coin identifier.

Example:
  go run ./cmd/settle sources
  go run ./cmd/settle sources --resolve HYPE/USDC`,
	RunE: runSources,
}

var sourcesResolve string

func init() {
	rootCmd.AddCommand(sourcesCmd)

	sourcesCmd.Flags().StringVar(&sourcesResolve, "resolve", "", "resolve a Hyperliquid spot pair (e.g. HYPE/USDC)")
}

func runSources(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}

	providers := []struct {
		name      string
		endpoints []string
		step      string
	}{
		{"binance", cfg.Binance.BaseURLs, "1m candles (1m-1d)"},
		{"hyperliquid", cfg.Hyperliquid.BaseURLs, "1m candles (1m-1d)"},
		{"defillama", cfg.DefiLlama.BaseURLs, "daily samples"},
	}

	PrintDoubleSeparator()
	PrintTableHeader([]string{"PROVIDER", "GRID", "ENDPOINTS"}, []int{13, 20, 24})
	for _, p := range providers {
		PrintTableRow([]string{p.name, p.step, strings.Join(p.endpoints, ", ")}, []int{13, 20, 24})
	}
	PrintSeparator()

	if sourcesResolve != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()

		client := hyperliquid.NewClient(httputil.New(cfg, log), log)

		coin, err := client.ResolveSpotPair(ctx, cfg.Hyperliquid.BaseURLs[0], sourcesResolve)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", sourcesResolve, err)
		}
		PrintSuccess(fmt.Sprintf("%s resolves to %s", sourcesResolve, coin))
	}

	return nil
}
