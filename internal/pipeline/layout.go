// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"fmt"
	"path/filepath"
)

const (
	imagesDir   = "images"
	tilesDir    = "tiles"
	cropsDir    = "crops"
	markdownDir = "markdown"
	pagesDir    = "pages"
)

// Layout locates the artifacts of one section under an output root:
//
//	images/<section>/page_NNN.png
//	tiles/<section>/tile_AAA_BBB.png
//	crops/<section>/page_NNN_img_NN.png
//	markdown/pages/<section>_page_NNN.md
//	markdown/<section>.md
type Layout struct {
	Section     string
	ImagesDir   string
	TilesDir    string
	CropsDir    string
	MarkdownDir string
	PagesDir    string
}

// NewLayout returns the layout of section under outDir.
func NewLayout(outDir, section string) Layout {
	md := filepath.Join(outDir, markdownDir)
	return Layout{
		Section:     section,
		ImagesDir:   filepath.Join(outDir, imagesDir, section),
		TilesDir:    filepath.Join(outDir, tilesDir, section),
		CropsDir:    filepath.Join(outDir, cropsDir, section),
		MarkdownDir: md,
		PagesDir:    filepath.Join(md, pagesDir),
	}
}

// RasterPath returns the rendered image of page.
func (l Layout) RasterPath(page int) string {
	return filepath.Join(l.ImagesDir, fmt.Sprintf("page_%03d.png", page))
}

// TilePath returns the composite image of pages first..last.
func (l Layout) TilePath(first, last int) string {
	return filepath.Join(l.TilesDir, fmt.Sprintf("tile_%03d_%03d.png", first, last))
}

// CombinedPath returns the section's combined markdown file.
func (l Layout) CombinedPath() string {
	return filepath.Join(l.MarkdownDir, l.Section+".md")
}
