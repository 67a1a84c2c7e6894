package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/agenttrace-ai/agenttrace/pkg/cost"
	"github.com/agenttrace-ai/agenttrace/pkg/ledger"
	"github.com/agenttrace-ai/agenttrace/pkg/models"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newCostCmd() *cobra.Command {
	var (
		configPath string
		since      string
	)

	cmd := &cobra.Command{
		Use:   "cost",
		Short: "Show cost breakdown by provider and model",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			sinceTime, err := parseSince(since)
			if err != nil {
				return err
			}

			l, err := ledger.Open(cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			summaries, err := l.Summary(context.Background(), sinceTime)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			// Rows recorded before pricing was known carry a zero cost;
			// fill those in from the current pricing tables.
			accountant := cost.New()
			estimated := false

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tREQUESTS\tTOTAL TOKENS\tCOST (USD)")
			var totalCost float64
			for _, s := range summaries {
				rowCost := s.TotalCostUSD
				marker := ""
				if rowCost == 0 && s.TotalTokens > 0 {
					if c := accountant.Cost(s.Provider, s.Model, models.TokenUsage{
						PromptTokens:     s.TotalPrompt,
						CompletionTokens: s.TotalCompletion,
					}); c != nil {
						rowCost = *c
						marker = "*"
						estimated = true
					}
				}
				totalCost += rowCost
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%.5f%s\n",
					s.Provider, s.Model, s.RequestCount,
					humanize.Comma(int64(s.TotalTokens)), rowCost, marker)
			}
			fmt.Fprintf(w, "\t\t\tTOTAL\t%.5f\n", totalCost)
			if err := w.Flush(); err != nil {
				return err
			}
			if estimated {
				fmt.Println("* estimated from current pricing tables")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to agenttrace config file")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: start of month)")
	return cmd
}
