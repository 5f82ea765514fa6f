// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package ledger reads and writes config.json, the run ledger at the root of
// an output directory.
//
// The ledger is a JSON object shared by two writers. Parsing appends to the
// parse_runs list and never rewrites earlier entries. Splitting replaces its
// own keys (source_pdf, toc, sections, ...) and keeps notes. Keys neither
// writer owns, including legacy parser_runs, are carried through untouched.
package ledger

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/pdiddy/pagemark/pkg/types"
)

// FileName is the ledger file name inside an output directory.
const FileName = "config.json"

const (
	keyParseRuns = "parse_runs"
	keyNotes     = "notes"
)

// Ledger is an open config.json. Fields hold the raw value of every
// top-level key so unknown keys survive a rewrite.
type Ledger struct {
	path   string
	fields map[string]json.RawMessage
}

// Path returns the ledger path for an output directory.
func Path(outDir string) string {
	return filepath.Join(outDir, FileName)
}

// Open reads the ledger at path. A missing file yields an empty ledger. A
// file that is not a JSON object is an error; the caller decides whether to
// move it aside.
func Open(path string) (*Ledger, error) {
	l := &Ledger{path: path, fields: make(map[string]json.RawMessage)}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading ledger: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l.fields); err != nil {
		return nil, fmt.Errorf("ledger %s is not a JSON object: %w", path, err)
	}
	if l.fields == nil {
		l.fields = make(map[string]json.RawMessage)
	}
	return l, nil
}

// File returns the ledger's path.
func (l *Ledger) File() string { return l.path }

// ParseRuns decodes the parse_runs history.
func (l *Ledger) ParseRuns() ([]types.ParseRun, error) {
	raw, ok := l.fields[keyParseRuns]
	if !ok || isNull(raw) {
		return nil, nil
	}
	var runs []types.ParseRun
	if err := json.Unmarshal(raw, &runs); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", keyParseRuns, err)
	}
	return runs, nil
}

// AppendParseRun adds run to the end of parse_runs. Existing entries are
// kept as raw JSON, so fields this version does not know are preserved.
func (l *Ledger) AppendParseRun(run types.ParseRun) error {
	var runs []json.RawMessage
	if raw, ok := l.fields[keyParseRuns]; ok && !isNull(raw) {
		if err := json.Unmarshal(raw, &runs); err != nil {
			return fmt.Errorf("%s is not a list: %w", keyParseRuns, err)
		}
	}

	entry, err := marshal(run)
	if err != nil {
		return fmt.Errorf("encoding parse run: %w", err)
	}
	runs = append(runs, entry)

	all, err := marshal(runs)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", keyParseRuns, err)
	}
	l.fields[keyParseRuns] = all
	return nil
}

// Notes returns the free-form notes string, empty when absent.
func (l *Ledger) Notes() string {
	var notes string
	if raw, ok := l.fields[keyNotes]; ok {
		_ = json.Unmarshal(raw, &notes)
	}
	return notes
}

// SetSplit writes the split record's keys. Notes already in the ledger win
// over rec.Notes.
func (l *Ledger) SetSplit(rec types.SplitRecord) error {
	if _, ok := l.fields[keyNotes]; ok {
		rec.Notes = l.Notes()
	}

	data, err := marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding split record: %w", err)
	}
	var keys map[string]json.RawMessage
	if err := json.Unmarshal(data, &keys); err != nil {
		return fmt.Errorf("encoding split record: %w", err)
	}
	for k, v := range keys {
		l.fields[k] = v
	}
	return nil
}

// Decode returns the whole ledger as generic JSON values.
func (l *Ledger) Decode() (map[string]any, error) {
	out := make(map[string]any, len(l.fields))
	for k, raw := range l.fields {
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", k, err)
		}
		out[k] = v
	}
	return out, nil
}

// Save writes the ledger as two-space indented JSON with a trailing newline.
// The file is replaced atomically.
func (l *Ledger) Save() error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(l.fields); err != nil {
		return fmt.Errorf("encoding ledger: %w", err)
	}
	data := buf.Bytes()

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating ledger directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	if err := os.Rename(tmp.Name(), l.path); err != nil {
		return fmt.Errorf("writing ledger: %w", err)
	}
	return nil
}

func marshal(v any) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func isNull(raw json.RawMessage) bool {
	return string(bytes.TrimSpace(raw)) == "null"
}
