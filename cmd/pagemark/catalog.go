// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pdiddy/pagemark/internal/catalog"
	"github.com/pdiddy/pagemark/pkg/types"
)

// --- index command ---

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Rebuild the page catalog from the per-page markdown",
	Long: `Index rebuilds <out-dir>/catalog.db from markdown/pages/*.md. The
catalog only serves search; parse never reads it.`,
	RunE: runIndex,
}

func runIndex(cmd *cobra.Command, args []string) error {
	store, err := catalog.NewStore(catalogConfig(cmd))
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = store.Rebuild(cmd.Context(), os.Stdout)
	return err
}

// --- search command ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the page catalog",
	Long: `Search finds pages whose markdown contains the query, ignoring case,
ordered by section then page. Run index first.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSearch,
}

func runSearch(cmd *cobra.Command, args []string) error {
	section, _ := cmd.Flags().GetString("section")
	jsonOutput, _ := cmd.Flags().GetBool("json")

	store, err := catalog.NewStore(catalogConfig(cmd))
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := store.Search(cmd.Context(), catalog.QueryOptions{
		Query:   strings.Join(args, " "),
		Section: section,
	})
	if err != nil {
		return err
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No results found.")
		return nil
	}
	for _, r := range results {
		fmt.Fprintf(os.Stdout, "%s p.%03d (%d images)\n    %s\n", r.Section, r.Page, r.Images, r.Snippet)
	}
	fmt.Fprintf(os.Stdout, "\n%d results\n", len(results))
	return nil
}

// --- shared helpers ---

func catalogConfig(cmd *cobra.Command) types.CatalogConfig {
	outDir, _ := cmd.Flags().GetString("out-dir")
	limit, _ := cmd.Flags().GetInt("limit")
	return types.CatalogConfig{OutDir: outDir, MaxResults: limit}
}

func init() {
	indexCmd.Flags().String("out-dir", "", "output root holding markdown/pages")
	_ = indexCmd.MarkFlagRequired("out-dir")

	searchCmd.Flags().String("out-dir", "", "output root holding catalog.db")
	searchCmd.Flags().String("section", "", "restrict results to one section")
	searchCmd.Flags().Int("limit", 20, "maximum number of results")
	searchCmd.Flags().Bool("json", false, "output results as JSON")
	_ = searchCmd.MarkFlagRequired("out-dir")

	rootCmd.AddCommand(indexCmd, searchCmd)
}
