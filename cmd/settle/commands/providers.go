package commands

import (
	"fmt"

	"github.com/wonny/settle/internal/source"
	"github.com/wonny/settle/internal/source/binance"
	"github.com/wonny/settle/internal/source/defillama"
	"github.com/wonny/settle/internal/source/hyperliquid"
	"github.com/wonny/settle/internal/window"
	"github.com/wonny/settle/pkg/config"
	"github.com/wonny/settle/pkg/httputil"
	"github.com/wonny/settle/pkg/logger"
)

// newGateway wires a provider adapter and its endpoint list into a
// source gateway. The gateway owns the retry and rotation policy, so
// the HTTP client's own retry layer is disabled.
func newGateway(cfg *config.Config, log *logger.Logger, providerName string, stepMillis int64) (*source.Gateway, error) {
	httpClient := httputil.New(cfg, log).DisableRetry()

	var provider source.Provider
	var endpoints []string

	switch providerName {
	case "binance":
		interval, err := intervalForStep(stepMillis)
		if err != nil {
			return nil, err
		}
		provider = binance.NewClient(httpClient, log).WithInterval(interval)
		endpoints = cfg.Binance.BaseURLs
	case "hyperliquid":
		interval, err := intervalForStep(stepMillis)
		if err != nil {
			return nil, err
		}
		provider = hyperliquid.NewClient(httpClient, log).WithInterval(interval)
		endpoints = cfg.Hyperliquid.BaseURLs
	case "defillama":
		if stepMillis != dayMillis {
			return nil, fmt.Errorf("%w: defillama samples daily, step must be 24h", window.ErrConfigMismatch)
		}
		provider = defillama.NewClient(httpClient, log)
		endpoints = cfg.DefiLlama.BaseURLs
	default:
		return nil, fmt.Errorf("%w: unknown provider %q (valid: binance, hyperliquid, defillama)",
			window.ErrConfigMismatch, providerName)
	}

	return source.NewGateway(provider, endpoints, cfg.Gateway, log), nil
}

const dayMillis = 24 * 60 * 60 * 1000

// intervalForStep maps a grid step onto the candle interval both
// exchange providers understand
func intervalForStep(stepMillis int64) (string, error) {
	intervals := map[int64]string{
		60_000:     "1m",
		300_000:    "5m",
		900_000:    "15m",
		1_800_000:  "30m",
		3_600_000:  "1h",
		14_400_000: "4h",
		dayMillis:  "1d",
	}
	interval, ok := intervals[stepMillis]
	if !ok {
		return "", fmt.Errorf("%w: no candle interval for step %dms", window.ErrConfigMismatch, stepMillis)
	}
	return interval, nil
}
