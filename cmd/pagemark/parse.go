// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pdiddy/pagemark/internal/gemini"
	"github.com/pdiddy/pagemark/internal/pipeline"
	"github.com/pdiddy/pagemark/internal/prompt"
	"github.com/pdiddy/pagemark/internal/ratelimit"
	"github.com/pdiddy/pagemark/internal/render"
	"github.com/pdiddy/pagemark/internal/secrets"
	"github.com/pdiddy/pagemark/pkg/types"
)

const (
	defaultDPI       = 200
	defaultTilePages = 1
	defaultModel     = "gemini-2.5-flash"
)

var parseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Transcribe section PDFs into per-page markdown",
	Long: `Parse renders each page of a PDF (or of every PDF in a sections
directory), sends each page, or each tile of --tile-pages stacked pages, to a
vision model and writes:

  images/<section>/page_NNN.png        page rasters
  crops/<section>/page_NNN_img_NN.png  figure crops
  markdown/pages/<section>_page_NNN.md per-page markdown
  markdown/<section>.md                combined section markdown

Pages with existing markdown are skipped unless --force is given. A
successful run is appended to parse_runs in config.json.`,
	RunE: runParse,
}

// parseKeys maps viper keys to parse flags; each can also come from
// pagemark.yaml or PAGEMARK_<KEY>.
var parseKeys = map[string]string{
	"model":          "model",
	"dpi":            "dpi",
	"tile_pages":     "tile-pages",
	"prompt":         "prompt",
	"backend":        "backend",
	"project":        "project",
	"location":       "location",
	"staging_bucket": "staging-bucket",
	"poppler_image":  "poppler-image",
	"max_retries":    "max-retries",
}

func init() {
	f := parseCmd.Flags()
	f.String("pdf", "", "section PDF to parse")
	f.String("sections-dir", "", "directory of section PDFs to parse in name order")
	f.String("out-dir", "", "output root (default: <pdf-dir>/<stem>__out, or the parent of --sections-dir)")
	f.Int("dpi", defaultDPI, "rasterization resolution")
	f.Int("tile-pages", defaultTilePages, "pages stacked into one model call")
	f.String("model", defaultModel, "model identifier")
	f.String("prompt", "", "prompt template file (default: built-in page or tile template)")
	f.String("api-key", "", "Gemini API key (default: .secrets/gemini-api-key, GEMINI_API_KEY, GOOGLE_API_KEY)")
	f.Bool("force", false, "reprocess every page and rebuild rasters and tiles")
	f.String("backend", string(types.BackendGemini), "model backend: gemini or vertex")
	f.String("project", "", "Google Cloud project (vertex backend)")
	f.String("location", "", "Vertex AI location (default us-central1)")
	f.String("staging-bucket", "", "Cloud Storage bucket for images too large to send inline (vertex backend)")
	f.String("poppler-image", render.DefaultImage, "container image used when pdftoppm is not installed")
	f.Int("max-retries", ratelimit.DefaultMaxRetries, "retries per model call after HTTP 429")
	parseCmd.MarkFlagsMutuallyExclusive("pdf", "sections-dir")
	parseCmd.MarkFlagsOneRequired("pdf", "sections-dir")

	for key, flag := range parseKeys {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}

	rootCmd.AddCommand(parseCmd)
}

func runParse(cmd *cobra.Command, args []string) error {
	pdfFlag, _ := cmd.Flags().GetString("pdf")
	sectionsDir, _ := cmd.Flags().GetString("sections-dir")
	outDir, _ := cmd.Flags().GetString("out-dir")
	apiKey, _ := cmd.Flags().GetString("api-key")
	force, _ := cmd.Flags().GetBool("force")

	pdfs, defaultOut, err := resolveInputs(pdfFlag, sectionsDir)
	if err != nil {
		return err
	}
	if outDir == "" {
		outDir = defaultOut
	}

	cfg := types.ParseConfig{
		AIConfig: types.AIConfig{
			Backend:       types.Backend(viper.GetString("backend")),
			Model:         viper.GetString("model"),
			APIKey:        secrets.ResolveAPIKey(apiKey, loadedSecrets, os.Getenv),
			Project:       viper.GetString("project"),
			Location:      viper.GetString("location"),
			StagingBucket: viper.GetString("staging_bucket"),
			MaxRetries:    viper.GetInt("max_retries"),
		},
		OutDir:       outDir,
		DPI:          viper.GetInt("dpi"),
		TilePages:    viper.GetInt("tile_pages"),
		PromptPath:   viper.GetString("prompt"),
		Force:        force,
		PopplerImage: viper.GetString("poppler_image"),
	}
	if err := validateParseConfig(cfg); err != nil {
		return err
	}

	tmpl, err := prompt.Load(cfg.PromptPath, cfg.TilePages > 1)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	gen, closeGen, err := newGenerator(ctx, cfg.AIConfig)
	if err != nil {
		return err
	}
	defer closeGen()

	renderer, err := render.NewPoppler(ctx, cfg.PopplerImage, logger)
	if err != nil {
		return err
	}

	p := &pipeline.Pipeline{
		Renderer:  renderer,
		Generator: gen,
		Limiter:   &ratelimit.Limiter{MaxRetries: cfg.MaxRetries, Logger: logger},
		Prompt:    tmpl,
		Config:    cfg,
		Out:       os.Stdout,
		Logger:    logger,
	}
	_, _, err = p.Run(ctx, pdfs)
	return err
}

// resolveInputs returns the PDFs to parse and the default output root. A
// single PDF defaults to <dir>/<stem>__out; a sections directory defaults to
// its parent, which is where split writes the ledger.
func resolveInputs(pdf, sectionsDir string) ([]string, string, error) {
	if pdf != "" {
		abs, err := filepath.Abs(pdf)
		if err != nil {
			return nil, "", fmt.Errorf("resolving PDF path: %w", err)
		}
		info, err := os.Stat(abs)
		if err != nil || info.IsDir() {
			return nil, "", fmt.Errorf("PDF not found: %s", abs)
		}
		stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
		return []string{abs}, filepath.Join(filepath.Dir(abs), stem+"__out"), nil
	}

	abs, err := filepath.Abs(sectionsDir)
	if err != nil {
		return nil, "", fmt.Errorf("resolving sections directory: %w", err)
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, "", fmt.Errorf("sections directory not found: %s", abs)
	}
	var pdfs []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
			continue
		}
		pdfs = append(pdfs, filepath.Join(abs, e.Name()))
	}
	if len(pdfs) == 0 {
		return nil, "", fmt.Errorf("no PDFs found in %s", abs)
	}
	sort.Strings(pdfs)
	return pdfs, filepath.Dir(abs), nil
}

// validateParseConfig rejects settings that would fail before any page is
// processed.
func validateParseConfig(cfg types.ParseConfig) error {
	if cfg.TilePages < 1 {
		return fmt.Errorf("--tile-pages must be >= 1")
	}
	if cfg.DPI <= 0 {
		return fmt.Errorf("--dpi must be > 0")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("--model must not be empty")
	}
	switch cfg.Backend {
	case types.BackendGemini:
		if cfg.APIKey == "" {
			return fmt.Errorf("missing API key: pass --api-key, write .secrets/%s, or set GEMINI_API_KEY or GOOGLE_API_KEY", secrets.GeminiAPIKey)
		}
	case types.BackendVertex:
		if cfg.Project == "" {
			return fmt.Errorf("--project is required for the vertex backend")
		}
	default:
		return fmt.Errorf("unsupported backend %q: use gemini or vertex", cfg.Backend)
	}
	return nil
}

// newGenerator builds the model client for the configured backend and a
// function that releases it.
func newGenerator(ctx context.Context, cfg types.AIConfig) (pipeline.Generator, func(), error) {
	if cfg.Backend == types.BackendVertex {
		vc, err := gemini.NewVertexClient(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		return vc, func() { vc.Close() }, nil
	}
	return gemini.NewClient(cfg.APIKey, cfg.Model), func() {}, nil
}
