// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package split cuts a source PDF into section PDFs along its outline and
// records the result in the run ledger.
package split

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/pdiddy/pagemark/internal/ledger"
	"github.com/pdiddy/pagemark/pkg/types"
)

// SectionsDir is the directory under the output root that holds section PDFs.
const SectionsDir = "sections"

// Package-level var for test substitution.
var now = time.Now

// Section is a contiguous page range cut from the source PDF.
type Section struct {
	Title     string
	StartPage int
	EndPage   int
}

// BuildSections turns outline entries into sections at the requested level.
// When no entry sits at that level the shallowest level present is used
// instead. The returned level is nil when entries is empty.
//
// Each section starts at its entry's page and ends one page before the next
// entry at the same or a shallower level, or at the last page.
func BuildSections(entries []types.TOCEntry, requested, pageCount int) (*int, []Section) {
	if len(entries) == 0 {
		return nil, nil
	}

	levels := make([]int, 0, len(entries))
	for _, e := range entries {
		levels = append(levels, e.Level)
	}
	level := slices.Min(levels)
	if slices.Contains(levels, requested) {
		level = requested
	}

	var sections []Section
	for i, e := range entries {
		if e.Level != level {
			continue
		}
		start := clamp(e.Page, 1, pageCount)
		end := pageCount
		for _, next := range entries[i+1:] {
			if next.Level <= level {
				end = clamp(next.Page-1, 1, pageCount)
				break
			}
		}
		end = max(end, start)

		title := strings.TrimSpace(e.Title)
		if title == "" {
			title = fmt.Sprintf("Section %d", len(sections)+1)
		}
		sections = append(sections, Section{Title: title, StartPage: start, EndPage: end})
	}
	return &level, sections
}

func clamp(v, lo, hi int) int {
	return max(lo, min(hi, v))
}

var nonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

// Slugify lowercases text and joins its ASCII alphanumeric runs with dashes.
// An empty result becomes "section".
func Slugify(text string) string {
	slug := nonAlnum.ReplaceAllString(strings.ToLower(strings.TrimSpace(text)), "-")
	slug = strings.Trim(slug, "-")
	if slug == "" {
		return "section"
	}
	return slug
}

// FileNames returns the output file name of each section: the 1-based index
// zero-padded to the width of the section count, then the slug.
func FileNames(sections []Section) []string {
	width := len(strconv.Itoa(len(sections)))
	names := make([]string, len(sections))
	for i, s := range sections {
		names[i] = fmt.Sprintf("%0*d_%s.pdf", width, i+1, Slugify(s.Title))
	}
	return names
}

// Splitter runs the split stage.
type Splitter struct {
	PDF    PDF
	Out    io.Writer
	Logger *slog.Logger
}

// Run splits the PDF at pdfPath per cfg and returns the ledger record. On a
// dry run nothing is written; the record still lists the planned outputs.
func (s *Splitter) Run(pdfPath string, cfg types.SplitConfig) (types.SplitRecord, error) {
	logger := s.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	out := s.Out
	if out == nil {
		out = io.Discard
	}

	abs, err := filepath.Abs(pdfPath)
	if err != nil {
		return types.SplitRecord{}, fmt.Errorf("resolving PDF path: %w", err)
	}
	if _, err := os.Stat(abs); err != nil {
		return types.SplitRecord{}, fmt.Errorf("PDF not found: %s", abs)
	}
	stem := strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	outDir := cfg.OutDir
	if outDir == "" {
		outDir = filepath.Join(filepath.Dir(abs), stem+"__out")
	}
	sectionsDir := filepath.Join(outDir, SectionsDir)

	pageCount, err := s.PDF.PageCount(abs)
	if err != nil {
		return types.SplitRecord{}, err
	}
	toc, err := s.PDF.TOC(abs)
	if err != nil {
		return types.SplitRecord{}, err
	}

	var level *int
	var sections []Section
	if len(toc) == 0 {
		fmt.Fprintln(out, "No TOC detected; falling back to full PDF.")
		sections = []Section{{Title: stem, StartPage: 1, EndPage: pageCount}}
	} else {
		level, sections = BuildSections(toc, cfg.TOCLevel, pageCount)
		fmt.Fprintf(out, "TOC entries: %d. Using level %d for splitting.\n", len(toc), *level)
	}

	if !cfg.DryRun {
		if err := os.MkdirAll(sectionsDir, 0o755); err != nil {
			return types.SplitRecord{}, fmt.Errorf("creating sections directory: %w", err)
		}
	}

	names := FileNames(sections)
	outputs := make([]types.SplitSection, 0, len(sections))
	for i, sec := range sections {
		outPath := filepath.Join(sectionsDir, names[i])
		if !cfg.DryRun {
			if err := s.PDF.Extract(abs, sec.StartPage, sec.EndPage, outPath); err != nil {
				return types.SplitRecord{}, err
			}
			logger.Debug("section written", "index", i+1, "path", outPath)
		}
		outputs = append(outputs, types.SplitSection{
			Index:     i + 1,
			Title:     sec.Title,
			Slug:      Slugify(sec.Title),
			StartPage: sec.StartPage,
			EndPage:   sec.EndPage,
			OutputPDF: outPath,
		})
		fmt.Fprintf(out, "[%d] %s (pages %d-%d) -> %s\n", i+1, sec.Title, sec.StartPage, sec.EndPage, outPath)
	}

	if toc == nil {
		toc = []types.TOCEntry{}
	}
	rec := types.SplitRecord{
		SourcePDF:         abs,
		SourceName:        filepath.Base(abs),
		PageCount:         pageCount,
		TOCFound:          len(toc) > 0,
		TOCLevelRequested: cfg.TOCLevel,
		TOCLevelUsed:      level,
		TOC:               toc,
		Sections:          outputs,
		CreatedAt:         now().UTC().Format(time.RFC3339),
	}
	if cfg.DryRun {
		return rec, nil
	}

	l, err := ledger.Open(ledger.Path(outDir))
	if err != nil {
		return types.SplitRecord{}, err
	}
	if err := l.SetSplit(rec); err != nil {
		return types.SplitRecord{}, err
	}
	if err := l.Save(); err != nil {
		return types.SplitRecord{}, err
	}
	rec.Notes = l.Notes()
	fmt.Fprintf(out, "Wrote config: %s\n", l.File())
	return rec, nil
}
