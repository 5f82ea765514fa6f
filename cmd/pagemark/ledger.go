// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pagemark/internal/ledger"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the run ledger (config.json)",
}

var ledgerShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the parse run history",
	Long: `Show prints the parse_runs history recorded in <out-dir>/config.json,
or the whole ledger with --all.`,
	RunE: runLedgerShow,
}

func init() {
	ledgerShowCmd.Flags().String("out-dir", "", "output root holding config.json")
	ledgerShowCmd.Flags().Bool("all", false, "print the whole ledger, not only parse_runs")
	ledgerShowCmd.Flags().String("format", "yaml", "output format: yaml or json")
	_ = ledgerShowCmd.MarkFlagRequired("out-dir")

	ledgerCmd.AddCommand(ledgerShowCmd)
	rootCmd.AddCommand(ledgerCmd)
}

func runLedgerShow(cmd *cobra.Command, args []string) error {
	outDir, _ := cmd.Flags().GetString("out-dir")
	all, _ := cmd.Flags().GetBool("all")
	format, _ := cmd.Flags().GetString("format")

	path := ledger.Path(outDir)
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("no ledger at %s", path)
	}
	l, err := ledger.Open(path)
	if err != nil {
		return err
	}
	m, err := l.Decode()
	if err != nil {
		return err
	}

	var v any = m
	if !all {
		runs, ok := m["parse_runs"]
		if !ok || runs == nil {
			runs = []any{}
		}
		v = map[string]any{"parse_runs": runs}
	}

	switch format {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding ledger: %w", err)
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	default:
		return fmt.Errorf("unsupported format %q: use yaml or json", format)
	}
}
