// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package compose

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// BandHeight is the height of the labeled band above each page in a tile.
const BandHeight = 40

var (
	bandFill  = color.RGBA{R: 245, G: 245, B: 245, A: 255}
	labelLeft = 10
	labelTop  = 12
)

// BuildTile stacks the page rasters at pagePaths top to bottom into one PNG
// at outPath. Every page is preceded by a band reading
// "=== PAGE NNN ===" for the matching entry of pageNumbers. The canvas is as
// wide as the widest page and narrower pages are centered.
func BuildTile(pagePaths []string, pageNumbers []int, outPath string) error {
	if len(pagePaths) == 0 || len(pagePaths) != len(pageNumbers) {
		return fmt.Errorf("tile needs one page number per page image, got %d images and %d numbers",
			len(pagePaths), len(pageNumbers))
	}

	pages := make([]image.Image, 0, len(pagePaths))
	width, height := 0, 0
	for _, p := range pagePaths {
		img, err := decodePNG(p)
		if err != nil {
			return err
		}
		pages = append(pages, img)
		width = max(width, img.Bounds().Dx())
		height += img.Bounds().Dy() + BandHeight
	}

	tile := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.Draw(tile, tile.Bounds(), image.White, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	cursor := 0
	for i, img := range pages {
		band := image.Rect(0, cursor, width, cursor+BandHeight)
		draw.Draw(tile, band, image.NewUniform(bandFill), image.Point{}, draw.Src)

		d := font.Drawer{
			Dst:  tile,
			Src:  image.Black,
			Face: face,
			Dot:  fixed.P(labelLeft, cursor+labelTop+face.Metrics().Ascent.Ceil()),
		}
		d.DrawString(fmt.Sprintf("=== PAGE %03d ===", pageNumbers[i]))
		cursor += BandHeight

		b := img.Bounds()
		offsetX := (width - b.Dx()) / 2
		dst := image.Rect(offsetX, cursor, offsetX+b.Dx(), cursor+b.Dy())
		draw.Draw(tile, dst, img, b.Min, draw.Src)
		cursor += b.Dy()
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating tiles directory: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("creating tile %s: %w", outPath, err)
	}
	if err := png.Encode(f, tile); err != nil {
		f.Close()
		return fmt.Errorf("encoding tile %s: %w", outPath, err)
	}
	return f.Close()
}
