// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package prompt loads the instruction text sent with each page or tile.
//
// Templates use brace placeholders: {page_number} (zero-padded; the first
// page of a tile), {page_numbers} (comma-separated, zero-padded) and
// {bbox_order}. Literal braces are written doubled, "{{" and "}}". Unknown
// placeholders are left as written.
package prompt

import (
	"embed"
	"fmt"
	"os"
	"strings"

	"github.com/pdiddy/pagemark/pkg/types"
)

//go:embed templates/*.txt
var builtin embed.FS

// Source names recorded in the ledger for the built-in templates.
const (
	BuiltinPage = "builtin:page"
	BuiltinTile = "builtin:tile"
)

// Template is a loaded prompt.
type Template struct {
	// Source is the file path, or BuiltinPage / BuiltinTile.
	Source string
	text   string
}

// Load reads the template at path. An empty path selects the built-in
// template for tile or single-page mode.
func Load(path string, tile bool) (Template, error) {
	if path == "" {
		name, source := "templates/page.txt", BuiltinPage
		if tile {
			name, source = "templates/tile.txt", BuiltinTile
		}
		data, err := builtin.ReadFile(name)
		if err != nil {
			return Template{}, fmt.Errorf("reading built-in prompt: %w", err)
		}
		return Template{Source: source, text: string(data)}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Template{}, fmt.Errorf("prompt file not found: %w", err)
	}
	return Template{Source: path, text: string(data)}, nil
}

// Raw returns the unrendered template text.
func (t Template) Raw() string { return t.text }

// Page renders the template for a single page.
func (t Template) Page(n int) string {
	p := fmt.Sprintf("%03d", n)
	return t.render(p, p)
}

// Tile renders the template for the pages in a tile.
func (t Template) Tile(pages []int) string {
	nums := make([]string, len(pages))
	for i, n := range pages {
		nums[i] = fmt.Sprintf("%03d", n)
	}
	first := ""
	if len(nums) > 0 {
		first = nums[0]
	}
	return t.render(first, strings.Join(nums, ","))
}

func (t Template) render(page, pages string) string {
	// Replacer tries old strings in argument order at each position, so the
	// escapes win over placeholders and {page_numbers} over {page_number}.
	r := strings.NewReplacer(
		"{{", "{",
		"}}", "}",
		"{page_numbers}", pages,
		"{page_number}", page,
		"{bbox_order}", types.BBoxOrder,
	)
	return r.Replace(t.text)
}
