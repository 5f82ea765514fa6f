// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

// ParseRun is one entry of the parse_runs history in config.json.
// Entries are appended and never rewritten.
type ParseRun struct {
	// RunAt is the RFC 3339 UTC timestamp of the run.
	RunAt string `json:"run_at" yaml:"run_at"`

	Model string `json:"model" yaml:"model"`

	// Prompt is the template file path, or builtin:page / builtin:tile.
	Prompt string `json:"prompt" yaml:"prompt"`

	DPI       int              `json:"dpi" yaml:"dpi"`
	TilePages int              `json:"tile_pages" yaml:"tile_pages"`
	BBoxOrder string           `json:"bbox_order" yaml:"bbox_order"`
	Sections  []SectionSummary `json:"sections" yaml:"sections"`
}

// TOCEntry is one outline entry of a source PDF, in document order.
type TOCEntry struct {
	// Level is the outline depth, 1 for top-level entries.
	Level int    `json:"level" yaml:"level"`
	Title string `json:"title" yaml:"title"`

	// Page is the 1-based page the entry points at.
	Page int `json:"page" yaml:"page"`
}

// SplitSection is one emitted section PDF.
type SplitSection struct {
	Index     int    `json:"index" yaml:"index"`
	Title     string `json:"title" yaml:"title"`
	Slug      string `json:"slug" yaml:"slug"`
	StartPage int    `json:"start_page" yaml:"start_page"`
	EndPage   int    `json:"end_page" yaml:"end_page"`
	OutputPDF string `json:"output_pdf" yaml:"output_pdf"`
}

// SplitRecord is the split stage's view of config.json.
type SplitRecord struct {
	SourcePDF         string         `json:"source_pdf" yaml:"source_pdf"`
	SourceName        string         `json:"source_name" yaml:"source_name"`
	PageCount         int            `json:"page_count" yaml:"page_count"`
	TOCFound          bool           `json:"toc_found" yaml:"toc_found"`
	TOCLevelRequested int            `json:"toc_level_requested" yaml:"toc_level_requested"`
	TOCLevelUsed      *int           `json:"toc_level_used" yaml:"toc_level_used"`
	TOC               []TOCEntry     `json:"toc" yaml:"toc"`
	Sections          []SplitSection `json:"sections" yaml:"sections"`
	CreatedAt         string         `json:"created_at" yaml:"created_at"`
	Notes             string         `json:"notes" yaml:"notes"`
}
