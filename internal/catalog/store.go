// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package catalog indexes produced page markdown into a SQLite database for
// searching.
//
// The catalog is derived output. It is rebuilt from markdown/pages on every
// index run and nothing in the parse pipeline reads it, so the page markdown
// files remain the only record of which pages are done.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/pagemark/internal/compose"
	"github.com/pdiddy/pagemark/pkg/types"
)

const (
	// DBFile is the catalog database name under the output root.
	DBFile = "catalog.db"

	pagesDir          = "markdown/pages"
	defaultMaxResults = 20
)

var pageFileRe = regexp.MustCompile(`^(.+)_page_(\d+)\.md$`)

// Store manages the catalog database of one output root.
type Store struct {
	db         *sql.DB
	outDir     string
	maxResults int
}

// NewStore opens or creates outDir/catalog.db and its schema.
func NewStore(cfg types.CatalogConfig) (*Store, error) {
	if err := os.MkdirAll(cfg.OutDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}

	dbPath := filepath.Join(cfg.OutDir, DBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = defaultMaxResults
	}

	s := &Store{db: db, outDir: cfg.OutDir, maxResults: maxResults}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS pages (
			section TEXT NOT NULL,
			page INTEGER NOT NULL,
			path TEXT NOT NULL,
			images INTEGER NOT NULL,
			text TEXT NOT NULL,
			PRIMARY KEY (section, page)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_pages_section ON pages(section)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

// IndexSummary holds counts from a catalog rebuild.
type IndexSummary struct {
	Sections int
	Pages    int
	Images   int
	Skipped  int
}

// pageFile is one page markdown file found on disk.
type pageFile struct {
	section string
	page    int
	path    string
}

// Rebuild replaces the catalog contents with the page markdown currently
// under markdown/pages. Blank page files are skipped; so are files whose
// names do not follow <section>_page_NNN.md.
func (s *Store) Rebuild(ctx context.Context, w io.Writer) (IndexSummary, error) {
	dir := filepath.Join(s.outDir, filepath.FromSlash(pagesDir))
	entries, err := os.ReadDir(dir)
	if err != nil {
		return IndexSummary{}, fmt.Errorf("reading page markdown directory %s: %w", dir, err)
	}

	var files []pageFile
	var summary IndexSummary
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := pageFileRe.FindStringSubmatch(entry.Name())
		if m == nil {
			summary.Skipped++
			continue
		}
		n, err := strconv.Atoi(m[2])
		if err != nil {
			summary.Skipped++
			continue
		}
		files = append(files, pageFile{section: m[1], page: n, path: filepath.Join(dir, entry.Name())})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].section != files[j].section {
			return files[i].section < files[j].section
		}
		return files[i].page < files[j].page
	})

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return IndexSummary{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pages`); err != nil {
		return IndexSummary{}, fmt.Errorf("clearing catalog: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO pages (section, page, path, images, text) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return IndexSummary{}, fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	perSection := make(map[string]int)
	var order []string
	for _, f := range files {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return IndexSummary{}, fmt.Errorf("reading %s: %w", f.path, err)
		}
		text := strings.TrimSpace(string(data))
		if text == "" {
			summary.Skipped++
			continue
		}
		images := len(compose.ScanImageBlocks(text, f.path))
		if _, err := stmt.ExecContext(ctx, f.section, f.page, f.path, images, text); err != nil {
			return IndexSummary{}, fmt.Errorf("inserting %s page %d: %w", f.section, f.page, err)
		}
		if _, ok := perSection[f.section]; !ok {
			order = append(order, f.section)
		}
		perSection[f.section]++
		summary.Pages++
		summary.Images += images
	}

	if err := tx.Commit(); err != nil {
		return IndexSummary{}, fmt.Errorf("committing catalog: %w", err)
	}

	for _, sec := range order {
		fmt.Fprintf(w, "indexed %s (%d pages)\n", sec, perSection[sec])
	}
	summary.Sections = len(order)
	fmt.Fprintf(w, "\nsections: %d, pages: %d, images: %d, skipped: %d\n",
		summary.Sections, summary.Pages, summary.Images, summary.Skipped)
	return summary, nil
}
