package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/agenttrace-ai/agenttrace/pkg/ledger"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		sessionID  string
		since      string
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show token usage and cost from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			l, err := ledger.Open(cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer func() { _ = l.Close() }()

			ctx := context.Background()

			// Session detail view
			if sessionID != "" {
				t, err := l.SessionTotals(ctx, sessionID)
				if err != nil {
					return err
				}
				if t.RequestCount == 0 {
					fmt.Println("No usage recorded for session.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SESSION ID\tREQUESTS\tTOTAL TOKENS\tCOST (USD)\tFIRST SEEN\tLAST SEEN")
				fmt.Fprintf(w, "%s\t%d\t%s\t%.5f\t%s\t%s\n",
					t.SessionID, t.RequestCount, humanize.Comma(int64(t.TotalTokens)), t.TotalCostUSD,
					t.FirstSeen.Format("2006-01-02T15:04:05"), t.LastSeen.Format("2006-01-02T15:04:05"))
				return w.Flush()
			}

			sinceTime, err := parseSince(since)
			if err != nil {
				return err
			}
			summaries, err := l.Summary(ctx, sinceTime)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "PROVIDER\tMODEL\tREQUESTS\tPROMPT\tCOMPLETION\tTOTAL\tCOST (USD)")
			var totalCost float64
			for _, s := range summaries {
				totalCost += s.TotalCostUSD
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\t%.5f\n",
					s.Provider, s.Model, s.RequestCount,
					humanize.Comma(int64(s.TotalPrompt)), humanize.Comma(int64(s.TotalCompletion)),
					humanize.Comma(int64(s.TotalTokens)), s.TotalCostUSD)
			}
			fmt.Fprintf(w, "\t\t\t\t\tTOTAL\t%.5f\n", totalCost)
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to agenttrace config file")
	cmd.Flags().StringVar(&sessionID, "session-id", "", "show totals for a specific session")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD, default: start of month)")
	return cmd
}
