package main

import (
	"os"

	"github.com/wonny/settle/cmd/settle/commands"
	"github.com/wonny/settle/internal/settlement"
)

// main is the entry point for the settle CLI
func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(settlement.ExitCode(err))
	}
}
