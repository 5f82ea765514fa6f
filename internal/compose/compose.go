// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package compose crops figures out of page rasters and rewrites page
// markdown to reference them.
//
// Each crop is embedded as an image block:
//
//	<IMAGE source="../../images/sec/page_003.png" bbox="120,80,560,920">
//	![Figure 2](../../crops/sec/page_003_img_01.png)
//	</IMAGE>
//
// The same grammar is parsed back by ScanImageBlocks, so a page's markdown
// file alone is enough to recover its image records.
package compose

import (
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/image/draw"

	"github.com/pdiddy/pagemark/internal/geometry"
	"github.com/pdiddy/pagemark/pkg/types"
)

// Compositor writes figure crops for one section.
type Compositor struct {
	// CropsDir receives <page-raster-stem>_img_NN.png files.
	CropsDir string

	Logger *slog.Logger
}

// Compose crops every valid descriptor in images from the raster at
// pagePath and embeds an image block for it in markdown. mdPath is the page
// markdown file the result will be written to; block paths are relative to
// its directory. Descriptors without exactly four numeric bbox values are
// skipped. The returned markdown is trimmed and ends with one newline.
func (c *Compositor) Compose(markdown string, images []any, pagePath, mdPath string) (string, []types.ImageRecord, error) {
	logger := c.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	records := []types.ImageRecord{}
	if len(images) == 0 {
		return finish(markdown), records, nil
	}

	if err := os.MkdirAll(c.CropsDir, 0o755); err != nil {
		return "", nil, fmt.Errorf("creating crops directory: %w", err)
	}
	page, err := decodePNG(pagePath)
	if err != nil {
		return "", nil, err
	}
	bounds := page.Bounds()
	stem := strings.TrimSuffix(filepath.Base(pagePath), filepath.Ext(pagePath))
	mdDir := filepath.Dir(mdPath)

	for i, raw := range images {
		idx := i + 1
		desc, ok := raw.(map[string]any)
		if !ok {
			logger.Warn("skipping image descriptor that is not an object", "page_image", pagePath, "index", idx)
			continue
		}

		label := fmt.Sprintf("img_%02d", idx)
		if s := labelText(desc["label"]); s != "" {
			label = s
		}

		bbox, ok := descriptorBBox(desc)
		if !ok {
			logger.Warn("skipping image descriptor without a 4-value bbox", "page_image", pagePath, "label", label)
			continue
		}

		rect := geometry.Normalize(bbox, bounds.Dx(), bounds.Dy())
		cropPath := filepath.Join(c.CropsDir, fmt.Sprintf("%s_img_%02d.png", stem, idx))
		if err := writeCrop(page, rect, cropPath); err != nil {
			return "", nil, err
		}

		block := Block{
			Source: relSlash(mdDir, pagePath),
			BBox:   bbox,
			Label:  label,
			Crop:   relSlash(mdDir, cropPath),
		}.String()

		placeholder := "[[IMAGE:" + label + "]]"
		if strings.Contains(markdown, placeholder) {
			markdown = strings.ReplaceAll(markdown, placeholder, block)
		} else {
			markdown = markdown + "\n\n" + block
		}

		records = append(records, types.ImageRecord{
			Label:     label,
			BBoxNorm:  bbox[:],
			BBoxOrder: types.BBoxOrder,
			CropPath:  cropPath,
		})
	}

	return finish(markdown), records, nil
}

func finish(markdown string) string {
	return strings.TrimSpace(markdown) + "\n"
}

// labelText renders a descriptor label; absent or empty labels yield "".
func labelText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// descriptorBBox reads bbox_norm, falling back to bbox. Values may be JSON
// numbers or numeric strings.
func descriptorBBox(desc map[string]any) ([4]float64, bool) {
	var out [4]float64
	raw, ok := desc["bbox_norm"].([]any)
	if !ok || len(raw) == 0 {
		raw, ok = desc["bbox"].([]any)
	}
	if !ok || len(raw) != 4 {
		return out, false
	}
	for i, v := range raw {
		f, ok := asFloat(v)
		if !ok {
			return out, false
		}
		out[i] = f
	}
	return out, true
}

func asFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		return f, err == nil
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	}
	return 0, false
}

func decodePNG(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening page image %s: %w", path, err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decoding page image %s: %w", path, err)
	}
	return img, nil
}

func writeCrop(page image.Image, rect geometry.Rect, path string) error {
	r := rect.Image().Add(page.Bounds().Min)
	crop := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(crop, crop.Bounds(), page, r.Min, draw.Src)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating crop %s: %w", path, err)
	}
	if err := png.Encode(f, crop); err != nil {
		f.Close()
		return fmt.Errorf("encoding crop %s: %w", path, err)
	}
	return f.Close()
}

// relSlash returns target relative to dir with forward slashes, or target
// itself when no relative path exists.
func relSlash(dir, target string) string {
	rel, err := filepath.Rel(dir, target)
	if err != nil {
		return filepath.ToSlash(target)
	}
	return filepath.ToSlash(rel)
}
