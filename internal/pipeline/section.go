// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pdiddy/pagemark/internal/compose"
	"github.com/pdiddy/pagemark/internal/pagestate"
	"github.com/pdiddy/pagemark/internal/reconcile"
)

// sectionRun carries the state of one section while its pages are parsed.
type sectionRun struct {
	p         *Pipeline
	layout    Layout
	state     *pagestate.State
	pageCount int
	stats     *SectionStats
	logger    *slog.Logger
}

// pages sends each unresolved page on its own.
func (s *sectionRun) pages(ctx context.Context) error {
	force := s.p.Config.Force
	for n := 1; n <= s.pageCount; n++ {
		if !force && s.state.Resolved(n) {
			continue
		}

		raster := s.layout.RasterPath(n)
		text, err := s.p.call(ctx, raster, s.p.Prompt.Page(n))
		s.stats.Calls++
		if err != nil {
			return fmt.Errorf("page %d: %w", n, err)
		}

		page, err := reconcile.DecodePage(text)
		if err != nil {
			return fmt.Errorf("page %d: %w", n, err)
		}
		page.Number = n
		if err := s.commit(page, s.logger.With("page", n)); err != nil {
			return err
		}
	}
	return nil
}

// tiles stacks consecutive pages into tiles and sends each tile that still
// has an unresolved page.
func (s *sectionRun) tiles(ctx context.Context) error {
	force := s.p.Config.Force
	size := s.p.Config.TilePages
	w := s.p.out()

	for first := 1; first <= s.pageCount; first += size {
		last := min(s.pageCount, first+size-1)
		numbers := make([]int, 0, last-first+1)
		rasters := make([]string, 0, last-first+1)
		for n := first; n <= last; n++ {
			numbers = append(numbers, n)
			rasters = append(rasters, s.layout.RasterPath(n))
		}
		label := fmt.Sprintf("%03d-%03d", first, last)

		if !force && s.state.AllResolved(numbers) {
			fmt.Fprintf(w, "skipped tile %s (already parsed)\n", label)
			continue
		}

		tilePath := s.layout.TilePath(first, last)
		if force || !nonEmpty(tilePath) {
			if err := compose.BuildTile(rasters, numbers, tilePath); err != nil {
				return fmt.Errorf("tile %s: %w", label, err)
			}
		}

		text, err := s.p.call(ctx, tilePath, s.p.Prompt.Tile(numbers))
		s.stats.Calls++
		if err != nil {
			return fmt.Errorf("tile %s: %w", label, err)
		}

		logger := s.logger.With("tile", label)
		pages, err := reconcile.DecodeTile(text, numbers, s.pageCount, logger)
		if err != nil {
			return fmt.Errorf("tile %s: %w", label, err)
		}

		seen := make(map[int]bool, len(pages))
		for _, page := range pages {
			if seen[page.Number] {
				logger.Warn("skipping duplicate page entry", "page", page.Number)
				continue
			}
			seen[page.Number] = true
			if !force && s.state.Resolved(page.Number) {
				continue
			}
			if err := s.commit(page, logger.With("page", page.Number)); err != nil {
				return err
			}
		}
	}
	return nil
}

// commit crops the page's figures, then writes its markdown. The markdown
// file is written last so a page is only complete once its crops exist.
func (s *sectionRun) commit(page reconcile.Page, logger *slog.Logger) error {
	raster := s.layout.RasterPath(page.Number)
	mdPath := s.state.Path(page.Number)

	c := &compose.Compositor{CropsDir: s.layout.CropsDir, Logger: logger}
	markdown, records, err := c.Compose(page.Markdown, page.Images, raster, mdPath)
	if err != nil {
		return fmt.Errorf("page %d: %w", page.Number, err)
	}
	if err := s.state.Save(page.Number, markdown, records); err != nil {
		return err
	}

	s.stats.Parsed++
	fmt.Fprintf(s.p.out(), "parsed page %03d (%d images)\n", page.Number, len(records))
	return nil
}
