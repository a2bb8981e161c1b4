package config_test

import (
	"fmt"

	"github.com/wonny/settle/pkg/config"
)

// Example demonstrates how to use the config package
func Example() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		return
	}

	// Access configuration values
	fmt.Printf("Environment: %s\n", cfg.Env)
	fmt.Printf("Gateway retries: %d\n", cfg.Gateway.MaxRetries)
	fmt.Printf("Binance endpoints: %d\n", len(cfg.Binance.BaseURLs))
}
