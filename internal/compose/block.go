// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package compose

import (
	"fmt"
	"math"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pdiddy/pagemark/internal/geometry"
	"github.com/pdiddy/pagemark/pkg/types"
)

// Block is one embedded figure reference in page markdown.
type Block struct {
	// Source is the page raster path relative to the markdown file.
	Source string

	// BBox is the normalized box in ymin,xmin,ymax,xmax order.
	BBox [4]float64

	Label string

	// Crop is the crop path relative to the markdown file.
	Crop string
}

// String renders the block. Box values are clamped to the normalized range
// and written as truncated integers. Brackets in the label are backslash
// escaped; a crop path that would end the link early is wrapped in <...>.
func (b Block) String() string {
	parts := make([]string, len(b.BBox))
	for i, v := range b.BBox {
		parts[i] = strconv.Itoa(int(clampNorm(v)))
	}
	return fmt.Sprintf("<IMAGE source=\"%s\" bbox=\"%s\">\n![%s](%s)\n</IMAGE>",
		attrEscaper.Replace(b.Source), strings.Join(parts, ","), labelEscaper.Replace(b.Label), linkTarget(b.Crop))
}

func clampNorm(v float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return min(v, geometry.Scale)
}

var (
	attrEscaper  = strings.NewReplacer(`&`, "&amp;", `"`, "&quot;")
	labelEscaper = strings.NewReplacer(`\`, `\\`, `[`, `\[`, `]`, `\]`)
	destEscaper  = strings.NewReplacer(`\`, `\\`, `<`, `\<`, `>`, `\>`)
)

func linkTarget(p string) string {
	if p != "" && !strings.ContainsAny(p, "()<>\\ \t") {
		return p
	}
	return "<" + destEscaper.Replace(p) + ">"
}

// The link target is either <...> with backslash escapes or a bare run
// without parentheses.
var blockPattern = regexp.MustCompile(
	`(?i)<IMAGE\s+source="([^"]+)"\s+bbox="([^"]+)"\s*>\s*` +
		`!\[((?:\\.|[^\]\\])*)\]\((?:<((?:\\.|[^>\\\n])*)>|([^<)][^)]*))\)\s*</IMAGE>`)

// ScanImageBlocks re-derives image records from page markdown. mdPath is the
// markdown file the text came from; crop paths are resolved against its
// directory. Blocks whose bbox does not hold exactly four numbers are ignored.
func ScanImageBlocks(markdown, mdPath string) []types.ImageRecord {
	records := []types.ImageRecord{}
	for _, m := range blockPattern.FindAllStringSubmatch(markdown, -1) {
		bbox, ok := parseBBox(m[2])
		if !ok {
			continue
		}
		label := unescape(m[3])
		if label == "" {
			label = "img"
		}
		crop := m[5]
		if crop == "" {
			crop = unescape(m[4])
		}
		records = append(records, types.ImageRecord{
			Label:     label,
			BBoxNorm:  bbox,
			BBoxOrder: types.BBoxOrder,
			CropPath:  filepath.Join(filepath.Dir(mdPath), filepath.FromSlash(crop)),
		})
	}
	return records
}

// unescape drops the backslash in front of every escaped character.
func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func parseBBox(s string) ([]float64, bool) {
	var values []float64
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		f, err := strconv.ParseFloat(item, 64)
		if err != nil {
			return nil, false
		}
		values = append(values, f)
	}
	return values, len(values) == 4
}
