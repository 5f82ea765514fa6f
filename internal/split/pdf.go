// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package split

import (
	"errors"
	"fmt"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"github.com/pdiddy/pagemark/pkg/types"
)

// PDF reads outlines from a source PDF and writes page ranges of it.
type PDF interface {
	PageCount(path string) (int, error)

	// TOC returns the outline flattened depth-first in document order, or
	// nil when the PDF has none.
	TOC(path string) ([]types.TOCEntry, error)

	// Extract writes pages start..end (1-based, inclusive) to outPath.
	Extract(path string, start, end int, outPath string) error
}

// Pdfcpu implements PDF with pdfcpu.
type Pdfcpu struct {
	conf *model.Configuration
}

// NewPdfcpu returns a PDF backed by pdfcpu in relaxed validation mode, which
// accepts the minor defects common in scanned books.
func NewPdfcpu() *Pdfcpu {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return &Pdfcpu{conf: conf}
}

func (p *Pdfcpu) PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	n, err := api.PageCount(f, p.conf)
	if err != nil {
		return 0, fmt.Errorf("failed to get page count: %w", err)
	}
	return n, nil
}

func (p *Pdfcpu) TOC(path string) ([]types.TOCEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open PDF: %w", err)
	}
	defer f.Close()

	bms, err := api.Bookmarks(f, p.conf)
	if errors.Is(err, api.ErrNoOutlines) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading outline: %w", err)
	}

	var entries []types.TOCEntry
	flatten(bms, 1, &entries)
	return entries, nil
}

func flatten(bms []pdfcpu.Bookmark, level int, out *[]types.TOCEntry) {
	for _, bm := range bms {
		*out = append(*out, types.TOCEntry{Level: level, Title: bm.Title, Page: bm.PageFrom})
		flatten(bm.Kids, level+1, out)
	}
}

func (p *Pdfcpu) Extract(path string, start, end int, outPath string) error {
	pages := []string{fmt.Sprintf("%d-%d", start, end)}
	if start == end {
		pages = []string{fmt.Sprintf("%d", start)}
	}
	if err := api.TrimFile(path, outPath, pages, p.conf); err != nil {
		return fmt.Errorf("writing pages %d-%d to %s: %w", start, end, outPath, err)
	}
	return nil
}
