package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/agenttrace-ai/agenttrace/pkg/jsonl"
	"github.com/spf13/cobra"
)

func newValidateCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "validate [file...]",
		Short: "Check trace files for malformed JSONL lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			paths := args
			if len(paths) == 0 {
				cfg, err := loadConfig(configPath)
				if err != nil {
					return err
				}
				paths, err = filepath.Glob(filepath.Join(cfg.OutputDir, "sessions", "*.jsonl"))
				if err != nil {
					return err
				}
			}
			if len(paths) == 0 {
				fmt.Println("No trace files found.")
				return nil
			}

			bad := 0
			for _, p := range paths {
				content, err := os.ReadFile(p)
				if err != nil {
					return err
				}
				errs := jsonl.ValidateJSONL(content)
				if len(errs) == 0 {
					fmt.Printf("%s: ok\n", p)
					continue
				}
				bad++
				for _, e := range errs {
					fmt.Printf("%s: %s\n", p, e.Error())
				}
			}
			if bad > 0 {
				return fmt.Errorf("%d file(s) contained invalid lines", bad)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to agenttrace config file")
	return cmd
}
