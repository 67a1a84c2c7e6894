package main

import (
	"fmt"

	"github.com/agenttrace-ai/agenttrace/pkg/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newCleanupCmd() *cobra.Command {
	var (
		configPath string
		days       int
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete trace files older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if days <= 0 {
				days = cfg.AutoCleanupDays
			}

			logger, err := zap.NewProduction()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			st, err := store.New(cfg.OutputDir, logger)
			if err != nil {
				return err
			}

			res, err := st.Cleanup(days)
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d trace file(s), %d failed.\n", res.Deleted, res.Failed)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to agenttrace config file")
	cmd.Flags().IntVar(&days, "days", 0, "retention window in days (default: auto_cleanup_days from config)")
	return cmd
}
