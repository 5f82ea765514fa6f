// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package pagestate tracks which pages of a section already have markdown.
//
// The per-page markdown files are the only record of completion: a page is
// done when its file exists with non-blank content, and its image records
// are re-read from the image blocks inside that file.
package pagestate

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pdiddy/pagemark/internal/compose"
	"github.com/pdiddy/pagemark/pkg/types"
)

// PagePath returns the markdown path of one page of a section.
func PagePath(pagesDir, section string, page int) string {
	return filepath.Join(pagesDir, fmt.Sprintf("%s_page_%03d.md", section, page))
}

// State holds the resolved pages of one section.
type State struct {
	section  string
	pagesDir string
	markdown map[int]string
	images   map[int][]types.ImageRecord
}

// New returns a State with no resolved pages.
func New(pagesDir, section string) *State {
	return &State{
		section:  section,
		pagesDir: pagesDir,
		markdown: make(map[int]string),
		images:   make(map[int][]types.ImageRecord),
	}
}

// Load scans pages 1..pageCount for existing markdown files.
func Load(pagesDir, section string, pageCount int) (*State, error) {
	s := New(pagesDir, section)
	for page := 1; page <= pageCount; page++ {
		path := s.Path(page)
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading page markdown %s: %w", path, err)
		}
		md := strings.TrimSpace(string(data))
		if md == "" {
			continue
		}
		s.markdown[page] = md
		s.images[page] = compose.ScanImageBlocks(md, path)
	}
	return s, nil
}

// Path returns the markdown path of page.
func (s *State) Path(page int) string {
	return PagePath(s.pagesDir, s.section, page)
}

// Resolved reports whether page has markdown.
func (s *State) Resolved(page int) bool {
	_, ok := s.markdown[page]
	return ok
}

// AllResolved reports whether every page in pages has markdown.
func (s *State) AllResolved(pages []int) bool {
	for _, p := range pages {
		if !s.Resolved(p) {
			return false
		}
	}
	return true
}

// Missing returns the pages of 1..pageCount without markdown.
func (s *State) Missing(pageCount int) []int {
	var missing []int
	for p := 1; p <= pageCount; p++ {
		if !s.Resolved(p) {
			missing = append(missing, p)
		}
	}
	return missing
}

// Save writes the markdown file of page and records it as resolved. Crops
// referenced by records must already be on disk.
func (s *State) Save(page int, markdown string, records []types.ImageRecord) error {
	if err := os.MkdirAll(s.pagesDir, 0o755); err != nil {
		return fmt.Errorf("creating page markdown directory: %w", err)
	}
	path := s.Path(page)
	if err := os.WriteFile(path, []byte(markdown), 0o644); err != nil {
		return fmt.Errorf("writing page markdown %s: %w", path, err)
	}
	s.markdown[page] = markdown
	s.images[page] = records
	return nil
}

// Pages returns the resolved page numbers in ascending order.
func (s *State) Pages() []int {
	pages := make([]int, 0, len(s.markdown))
	for p := range s.markdown {
		pages = append(pages, p)
	}
	sort.Ints(pages)
	return pages
}

// Combined joins the resolved pages in page order, blank-line separated,
// with a single trailing newline.
func (s *State) Combined() string {
	parts := make([]string, 0, len(s.markdown))
	for _, p := range s.Pages() {
		parts = append(parts, strings.TrimSpace(s.markdown[p]))
	}
	return strings.Join(parts, "\n\n") + "\n"
}

// ImageRecords returns the image records of every resolved page.
func (s *State) ImageRecords() map[int][]types.ImageRecord {
	out := make(map[int][]types.ImageRecord, len(s.images))
	for p, recs := range s.images {
		out[p] = recs
	}
	return out
}
