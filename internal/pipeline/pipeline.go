// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pipeline turns section PDFs into page-addressable markdown.
//
// For each section the pipeline renders every page, then asks the model for
// each page (or each tile of stacked pages) that has no markdown yet,
// reconciles the reply, crops the figures it names and writes the page
// markdown. Pages already on disk are never sent again unless forced, so an
// interrupted run resumes where it stopped. Work is strictly sequential:
// one section, one call at a time.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdiddy/pagemark/internal/ledger"
	"github.com/pdiddy/pagemark/internal/pagestate"
	"github.com/pdiddy/pagemark/internal/prompt"
	"github.com/pdiddy/pagemark/internal/ratelimit"
	"github.com/pdiddy/pagemark/pkg/types"
)

// Package-level var for test substitution.
var now = time.Now

// Renderer counts and rasterizes PDF pages.
type Renderer interface {
	PageCount(pdfPath string) (int, error)
	RenderPage(ctx context.Context, pdfPath string, page, dpi int, outPath string) error
}

// Generator sends one image and prompt to the vision model and returns the
// raw reply text.
type Generator interface {
	Generate(ctx context.Context, imagePath, prompt string) (string, error)
}

// SectionStats counts the work done for one section.
type SectionStats struct {
	Parsed int
	Reused int
	Calls  int
}

// BatchSummary holds counts from a parse run over one or more sections.
type BatchSummary struct {
	Sections int
	Parsed   int
	Reused   int
	Calls    int
}

// Total returns the number of pages with markdown after the run.
func (s BatchSummary) Total() int {
	return s.Parsed + s.Reused
}

func (s *BatchSummary) add(st SectionStats) {
	s.Sections++
	s.Parsed += st.Parsed
	s.Reused += st.Reused
	s.Calls += st.Calls
}

// Pipeline processes sections with one configuration.
type Pipeline struct {
	Renderer  Renderer
	Generator Generator

	// Limiter applies the rate-limit retry policy to model calls. Nil uses
	// the default policy.
	Limiter *ratelimit.Limiter

	Prompt prompt.Template
	Config types.ParseConfig

	// Out receives human-readable progress lines.
	Out    io.Writer
	Logger *slog.Logger
}

func (p *Pipeline) out() io.Writer {
	if p.Out == nil {
		return io.Discard
	}
	return p.Out
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return p.Logger
}

func (p *Pipeline) limiter() *ratelimit.Limiter {
	if p.Limiter == nil {
		p.Limiter = &ratelimit.Limiter{MaxRetries: p.Config.MaxRetries, Logger: p.Logger}
	}
	return p.Limiter
}

// Run processes the PDFs in order and appends one parse run to the ledger
// in the output root. The first failing section aborts the run and nothing
// is written to the ledger; sections completed before it keep their files.
func (p *Pipeline) Run(ctx context.Context, pdfPaths []string) (types.ParseRun, BatchSummary, error) {
	w := p.out()

	l, err := ledger.Open(ledger.Path(p.Config.OutDir))
	if err != nil {
		return types.ParseRun{}, BatchSummary{}, err
	}

	var summary BatchSummary
	sections := make([]types.SectionSummary, 0, len(pdfPaths))
	for _, pdfPath := range pdfPaths {
		fmt.Fprintf(w, "Parsing %s with model %s...\n", filepath.Base(pdfPath), p.Config.Model)

		sec, stats, err := p.ProcessSection(ctx, pdfPath)
		if err != nil {
			return types.ParseRun{}, summary, fmt.Errorf("parsing %s: %w", filepath.Base(pdfPath), err)
		}
		summary.add(stats)
		sections = append(sections, sec)
	}

	run := types.ParseRun{
		RunAt:     now().UTC().Format(time.RFC3339),
		Model:     p.Config.Model,
		Prompt:    p.Prompt.Source,
		DPI:       p.Config.DPI,
		TilePages: p.Config.TilePages,
		BBoxOrder: types.BBoxOrder,
		Sections:  sections,
	}
	if err := l.AppendParseRun(run); err != nil {
		return types.ParseRun{}, summary, err
	}
	if err := l.Save(); err != nil {
		return types.ParseRun{}, summary, err
	}
	fmt.Fprintf(w, "Updated config: %s\n", l.File())
	fmt.Fprintf(w, "\nBatch summary: %d sections, %d pages parsed, %d reused, %d model calls (total pages: %d)\n",
		summary.Sections, summary.Parsed, summary.Reused, summary.Calls, summary.Total())

	return run, summary, nil
}

// ProcessSection renders, parses and assembles one section PDF.
func (p *Pipeline) ProcessSection(ctx context.Context, pdfPath string) (types.SectionSummary, SectionStats, error) {
	var stats SectionStats
	cfg := p.Config

	abs, err := filepath.Abs(pdfPath)
	if err != nil {
		return types.SectionSummary{}, stats, fmt.Errorf("resolving PDF path: %w", err)
	}
	section := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	layout := NewLayout(cfg.OutDir, section)
	logger := p.logger().With("section", section)

	if err := os.MkdirAll(layout.PagesDir, 0o755); err != nil {
		return types.SectionSummary{}, stats, fmt.Errorf("creating markdown directory: %w", err)
	}

	pageCount, err := p.Renderer.PageCount(abs)
	if err != nil {
		return types.SectionSummary{}, stats, err
	}
	if err := p.renderPages(ctx, abs, layout, pageCount); err != nil {
		return types.SectionSummary{}, stats, err
	}

	state := pagestate.New(layout.PagesDir, section)
	if !cfg.Force {
		if state, err = pagestate.Load(layout.PagesDir, section, pageCount); err != nil {
			return types.SectionSummary{}, stats, err
		}
		stats.Reused = len(state.Pages())
	}

	sp := &sectionRun{p: p, layout: layout, state: state, pageCount: pageCount, stats: &stats, logger: logger}
	if cfg.TilePages > 1 {
		err = sp.tiles(ctx)
	} else {
		err = sp.pages(ctx)
	}
	if err != nil {
		return types.SectionSummary{}, stats, err
	}

	if err := os.WriteFile(layout.CombinedPath(), []byte(state.Combined()), 0o644); err != nil {
		return types.SectionSummary{}, stats, fmt.Errorf("writing combined markdown: %w", err)
	}
	logger.Info("section complete", "pages", pageCount, "parsed", stats.Parsed, "reused", stats.Reused, "calls", stats.Calls)

	return types.SectionSummary{
		Section:         section,
		SourcePDF:       abs,
		Pages:           pageCount,
		ImagesDir:       layout.ImagesDir,
		CropsDir:        layout.CropsDir,
		Markdown:        layout.CombinedPath(),
		PageMarkdownDir: layout.PagesDir,
		TilePages:       cfg.TilePages,
		BBoxOrder:       types.BBoxOrder,
		ImageRecords:    state.ImageRecords(),
	}, stats, nil
}

// renderPages rasterizes every page, reusing non-empty rasters unless forced.
func (p *Pipeline) renderPages(ctx context.Context, pdfPath string, layout Layout, pageCount int) error {
	if err := os.MkdirAll(layout.ImagesDir, 0o755); err != nil {
		return fmt.Errorf("creating images directory: %w", err)
	}
	for page := 1; page <= pageCount; page++ {
		path := layout.RasterPath(page)
		if !p.Config.Force && nonEmpty(path) {
			continue
		}
		if err := p.Renderer.RenderPage(ctx, pdfPath, page, p.Config.DPI, path); err != nil {
			return err
		}
	}
	return nil
}

func nonEmpty(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Size() > 0
}

// call runs one model request under the retry policy.
func (p *Pipeline) call(ctx context.Context, imagePath, text string) (string, error) {
	return p.limiter().Do(ctx, func(ctx context.Context) (string, error) {
		return p.Generator.Generate(ctx, imagePath, text)
	})
}
