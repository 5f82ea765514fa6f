// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package reconcile

import (
	"encoding/json"
	"log/slog"
	"sort"
	"strconv"
	"strings"
)

// Page is one normalized page of a model reply.
type Page struct {
	Number   int
	Markdown string

	// Images holds the raw image descriptors; the compositor validates them.
	Images []any
}

// pageKeys are the accepted names for an explicit page number, in priority order.
var pageKeys = []string{"page", "page_number", "pageNo", "page_index"}

// CoercePage extracts the markdown body and image descriptors from a
// single-page reply. Objects supply markdown (or content) and images (or
// figures); any other value becomes the body with no images.
func CoercePage(v any) (string, []any) {
	obj, ok := v.(map[string]any)
	if !ok {
		return strings.TrimSpace(stringify(v)), nil
	}

	markdown := firstPresent(obj, "markdown", "content")
	var images []any
	if list, ok := firstPresent(obj, "images", "figures").([]any); ok {
		images = list
	}
	return strings.TrimSpace(stringify(markdown)), images
}

// firstPresent returns the first value under keys that is neither missing,
// null, nor an empty string or list.
func firstPresent(obj map[string]any, keys ...string) any {
	for _, k := range keys {
		switch v := obj[k].(type) {
		case nil:
			continue
		case string:
			if v == "" {
				continue
			}
		case []any:
			if len(v) == 0 {
				continue
			}
		}
		return obj[k]
	}
	return nil
}

// DecodePage parses a single-page reply.
func DecodePage(text string) (Page, error) {
	v, err := ParsePayload(text)
	if err != nil {
		return Page{}, err
	}
	markdown, images := CoercePage(v)
	return Page{Markdown: markdown, Images: images}, nil
}

// TilePages extracts the page objects of a tile reply and resolves their page
// numbers. pageNumbers lists the pages the tile covered, in order; an entry
// without an explicit number takes the page at its position. Entries whose
// number does not parse are dropped. Page range checks are left to the
// caller. An unrecognized shape yields no pages.
func TilePages(v any, pageNumbers []int, logger *slog.Logger) []Page {
	entries := matchTile(v)
	if len(entries) == 0 {
		return nil
	}
	logger = orDiscard(logger)

	var pages []Page
	for idx, entry := range entries {
		obj, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		number, ok := explicitPageNumber(obj)
		switch {
		case !ok && idx < len(pageNumbers):
			number = pageNumbers[idx]
		case !ok:
			logger.Warn("dropping tile entry without page number", "position", idx)
			continue
		case number == unparseable:
			logger.Warn("dropping tile entry with unparseable page number", "position", idx)
			continue
		}

		markdown, images := CoercePage(obj)
		pages = append(pages, Page{Number: number, Markdown: markdown, Images: images})
	}
	return pages
}

// unparseable marks a page field that is present but not an integer.
const unparseable = -1 << 31

// explicitPageNumber reads the first present, non-null page key. The boolean
// is false when no key is present.
func explicitPageNumber(obj map[string]any) (int, bool) {
	for _, key := range pageKeys {
		raw, ok := obj[key]
		if !ok || raw == nil {
			continue
		}
		n, err := parsePageNumber(raw)
		if err != nil {
			return unparseable, true
		}
		return n, true
	}
	return 0, false
}

func parsePageNumber(raw any) (int, error) {
	switch v := raw.(type) {
	case json.Number:
		return strconv.Atoi(strings.TrimSpace(v.String()))
	case string:
		return strconv.Atoi(strings.TrimSpace(v))
	case float64:
		if v == float64(int(v)) {
			return int(v), nil
		}
	case int:
		return v, nil
	}
	return 0, strconv.ErrSyntax
}

// DecodeTile parses a tile reply into pages within [1, pageCount]. A reply
// with no recognizable page content is a PayloadError; out-of-range page
// numbers are logged and dropped.
func DecodeTile(text string, pageNumbers []int, pageCount int, logger *slog.Logger) ([]Page, error) {
	v, err := ParsePayload(text)
	if err != nil {
		return nil, err
	}

	logger = orDiscard(logger)
	pages := TilePages(v, pageNumbers, logger)
	if len(pages) == 0 {
		return nil, &PayloadError{Reason: "Tile response missing 'pages' list", Snippet: Snippet(text)}
	}

	kept := pages[:0]
	for _, p := range pages {
		if p.Number < 1 || p.Number > pageCount {
			logger.Warn("skipping out-of-range page number", "page", p.Number, "page_count", pageCount)
			continue
		}
		kept = append(kept, p)
	}
	return kept, nil
}

func orDiscard(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return logger
}

// shapeMatcher recognizes one tile-reply shape and returns its page entries.
type shapeMatcher struct {
	name  string
	match func(v any) ([]any, bool)
}

// tileShapes lists the accepted tile-reply shapes in priority order.
var tileShapes = []shapeMatcher{
	{"list", matchList},
	{"pages", matchKey("pages")},
	{"single page", matchSinglePage},
	{"data", matchKey("data")},
	{"results", matchKey("results")},
	{"page-keyed map", matchPageKeyed},
}

// matchTile returns the entries of the first shape that matches v.
func matchTile(v any) []any {
	for _, m := range tileShapes {
		if entries, ok := m.match(v); ok {
			return entries
		}
	}
	return nil
}

func matchList(v any) ([]any, bool) {
	list, ok := v.([]any)
	return list, ok
}

func matchKey(key string) func(any) ([]any, bool) {
	return func(v any) ([]any, bool) {
		obj, ok := v.(map[string]any)
		if !ok {
			return nil, false
		}
		list, ok := obj[key].([]any)
		return list, ok
	}
}

func matchSinglePage(v any) ([]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, false
	}
	_, hasPage := obj["page"]
	_, hasMarkdown := obj["markdown"]
	if !hasPage || !hasMarkdown {
		return nil, false
	}
	return []any{obj}, true
}

// matchPageKeyed accepts an object whose keys are all page numbers. Entries
// are returned in ascending key order with the key injected as "page" when
// the entry carries none. Non-object values are skipped.
func matchPageKeyed(v any) ([]any, bool) {
	obj, ok := v.(map[string]any)
	if !ok || len(obj) == 0 {
		return nil, false
	}

	keys := make([]int, 0, len(obj))
	byNumber := make(map[int]any, len(obj))
	for k, val := range obj {
		if !isDigits(k) {
			return nil, false
		}
		n, err := strconv.Atoi(k)
		if err != nil {
			return nil, false
		}
		keys = append(keys, n)
		byNumber[n] = val
	}
	sort.Ints(keys)

	entries := make([]any, 0, len(keys))
	for _, n := range keys {
		item, ok := byNumber[n].(map[string]any)
		if !ok {
			continue
		}
		promoted := make(map[string]any, len(item)+1)
		for k, v := range item {
			promoted[k] = v
		}
		if _, ok := promoted["page"]; !ok {
			promoted["page"] = json.Number(strconv.Itoa(n))
		}
		entries = append(entries, promoted)
	}
	return entries, true
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
