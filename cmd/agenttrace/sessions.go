package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"
	"time"

	"github.com/agenttrace-ai/agenttrace/pkg/ledger"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newSessionsCmd() *cobra.Command {
	var (
		configPath string
		fromLedger bool
		since      string
	)

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List captured session trace files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			if fromLedger {
				sinceTime, err := parseSince(since)
				if err != nil {
					return err
				}
				l, err := ledger.Open(cfg.LedgerPath)
				if err != nil {
					return err
				}
				defer func() { _ = l.Close() }()

				sess, err := l.Sessions(context.Background(), sinceTime)
				if err != nil {
					return err
				}
				if len(sess) == 0 {
					fmt.Println("No sessions found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "SESSION ID\tREQUESTS\tTOTAL TOKENS\tCOST (USD)\tFIRST SEEN\tLAST SEEN")
				for _, s := range sess {
					fmt.Fprintf(w, "%s\t%d\t%s\t%.5f\t%s\t%s\n",
						s.SessionID, s.RequestCount, humanize.Comma(int64(s.TotalTokens)), s.TotalCostUSD,
						s.FirstSeen.Format("2006-01-02T15:04:05"), humanize.Time(s.LastSeen))
				}
				return w.Flush()
			}

			dir := filepath.Join(cfg.OutputDir, "sessions")
			entries, err := os.ReadDir(dir)
			if err != nil {
				if os.IsNotExist(err) {
					fmt.Println("No session files found.")
					return nil
				}
				return err
			}

			files := make([]os.FileInfo, 0, len(entries))
			for _, e := range entries {
				if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
					continue
				}
				info, err := e.Info()
				if err != nil {
					continue
				}
				files = append(files, info)
			}
			if len(files) == 0 {
				fmt.Println("No session files found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FILE\tSIZE\tMODIFIED")
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name(), humanize.Bytes(uint64(f.Size())), humanize.Time(f.ModTime()))
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to agenttrace config file")
	cmd.Flags().BoolVar(&fromLedger, "ledger", false, "list sessions from the usage ledger instead of trace files")
	cmd.Flags().StringVar(&since, "since", "", "start date for --ledger (YYYY-MM-DD, default: start of month)")
	return cmd
}

func parseSince(since string) (time.Time, error) {
	if since == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01-02", since)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
	}
	return t, nil
}
