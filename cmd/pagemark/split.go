// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.yaml.in/yaml/v3"

	"github.com/pdiddy/pagemark/internal/split"
	"github.com/pdiddy/pagemark/pkg/types"
)

var splitCmd = &cobra.Command{
	Use:   "split",
	Short: "Split a PDF into section PDFs along its table of contents",
	Long: `Split reads the PDF outline, picks the entries at --toc-level (or the
shallowest level present when that level does not exist) and writes one PDF
per entry to <out-dir>/sections/. A PDF without an outline becomes a single
section. The split is recorded in <out-dir>/config.json; parse history
already in that file is kept.`,
	RunE: runSplit,
}

func init() {
	splitCmd.Flags().String("pdf", "", "source PDF")
	splitCmd.Flags().Int("toc-level", 1, "outline level to split on")
	splitCmd.Flags().String("out-dir", "", "output root (default: <pdf-dir>/<stem>__out)")
	splitCmd.Flags().Bool("dry-run", false, "list the planned sections without writing files")
	splitCmd.Flags().String("format", "text", "dry-run listing format: text or yaml")
	_ = splitCmd.MarkFlagRequired("pdf")

	rootCmd.AddCommand(splitCmd)
}

func runSplit(cmd *cobra.Command, args []string) error {
	pdf, _ := cmd.Flags().GetString("pdf")
	level, _ := cmd.Flags().GetInt("toc-level")
	outDir, _ := cmd.Flags().GetString("out-dir")
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	format, _ := cmd.Flags().GetString("format")

	if level < 1 {
		return fmt.Errorf("--toc-level must be >= 1")
	}
	if format != "text" && format != "yaml" {
		return fmt.Errorf("unsupported format %q: use text or yaml", format)
	}

	s := &split.Splitter{PDF: split.NewPdfcpu(), Out: os.Stdout, Logger: logger}
	if dryRun && format == "yaml" {
		// The YAML listing replaces the progress lines.
		s.Out = nil
	}

	rec, err := s.Run(pdf, types.SplitConfig{TOCLevel: level, OutDir: outDir, DryRun: dryRun})
	if err != nil {
		return err
	}

	if dryRun && format == "yaml" {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding split plan: %w", err)
		}
		return enc.Close()
	}
	return nil
}
