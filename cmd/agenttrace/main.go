package main

import (
	"fmt"
	"os"

	"github.com/agenttrace-ai/agenttrace/pkg/config"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	root := &cobra.Command{
		Use:     "agenttrace",
		Short:   "AgentTrace: local trace capture for AI provider calls",
		Version: version,
	}

	root.AddCommand(
		newSessionsCmd(),
		newStatsCmd(),
		newCostCmd(),
		newValidateCmd(),
		newCleanupCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}
