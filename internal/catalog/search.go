// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package catalog

import (
	"context"
	"fmt"
	"strings"
)

// snippetRadius is the number of runes kept on each side of a match.
const snippetRadius = 60

// QueryOptions holds parameters for a catalog search.
type QueryOptions struct {
	// Query is matched as a case-insensitive substring of the page text.
	Query string

	// Section restricts results to one section.
	Section string

	// MaxResults limits result count. Zero uses the store default.
	MaxResults int
}

// Result is one matching page.
type Result struct {
	Section string `json:"section" yaml:"section"`
	Page    int    `json:"page" yaml:"page"`
	Path    string `json:"path" yaml:"path"`
	Images  int    `json:"images" yaml:"images"`
	Snippet string `json:"snippet" yaml:"snippet"`
}

// Search returns pages containing opts.Query, ordered by section then page.
func (s *Store) Search(ctx context.Context, opts QueryOptions) ([]Result, error) {
	if strings.TrimSpace(opts.Query) == "" {
		return nil, fmt.Errorf("search query is empty")
	}
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = s.maxResults
	}

	var qb strings.Builder
	qb.WriteString(`SELECT section, page, path, images, text FROM pages WHERE lower(text) LIKE ? ESCAPE '\'`)
	args := []any{"%" + escapeLike(strings.ToLower(opts.Query)) + "%"}
	if opts.Section != "" {
		qb.WriteString(` AND section = ?`)
		args = append(args, opts.Section)
	}
	qb.WriteString(` ORDER BY section, page LIMIT ?`)
	args = append(args, maxResults)

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("querying catalog: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var text string
		if err := rows.Scan(&r.Section, &r.Page, &r.Path, &r.Images, &text); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		r.Snippet = snippet(text, opts.Query)
		results = append(results, r)
	}
	return results, rows.Err()
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// snippet returns the text around the first match of query with whitespace
// collapsed, marking truncation with "...".
func snippet(text, query string) string {
	runes := []rune(text)
	lower := []rune(strings.ToLower(text))
	q := []rune(strings.ToLower(query))

	at := indexRunes(lower, q)
	if at < 0 || len(lower) != len(runes) {
		at = 0
	}
	start := max(0, at-snippetRadius)
	end := min(len(runes), at+len(q)+snippetRadius)

	out := strings.Join(strings.Fields(string(runes[start:end])), " ")
	if start > 0 {
		out = "..." + out
	}
	if end < len(runes) {
		out += "..."
	}
	return out
}

func indexRunes(s, sub []rune) int {
	for i := 0; i+len(sub) <= len(s); i++ {
		match := true
		for j := range sub {
			if s[i+j] != sub[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
