// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package reconcile turns raw model replies into normalized per-page records.
//
// The model is asked for JSON but replies drift: fenced code blocks, prose
// around the object, and several page-list shapes. Decoding is tolerant;
// recognizing page content is not, since an accepted malformed page would
// end up in the combined markdown.
package reconcile

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// snippetLimit caps the raw reply excerpt carried by a PayloadError.
const snippetLimit = 400

// PayloadError reports a reply that could not be decoded or did not contain
// recognizable page content.
type PayloadError struct {
	Reason  string
	Snippet string
}

func (e *PayloadError) Error() string {
	return fmt.Sprintf("%s. Raw snippet: %s", e.Reason, e.Snippet)
}

// Snippet collapses newlines to spaces and truncates raw to 400 characters.
func Snippet(raw string) string {
	s := strings.ReplaceAll(strings.TrimSpace(raw), "\r\n", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	if r := []rune(s); len(r) > snippetLimit {
		return string(r[:snippetLimit]) + "..."
	}
	return s
}

// ParsePayload decodes a model reply. Markdown code fences are stripped, then
// the whole text is tried, then the span from the first '{' to the last '}',
// then the span from the first '[' to the last ']'. Numbers decode as
// json.Number so page numbers keep their literal form.
func ParsePayload(text string) (any, error) {
	cleaned := stripFences(text)

	if v, err := decode(cleaned); err == nil {
		return v, nil
	}
	for _, delims := range [][2]string{{"{", "}"}, {"[", "]"}} {
		start := strings.Index(cleaned, delims[0])
		end := strings.LastIndex(cleaned, delims[1])
		if start == -1 || end <= start {
			continue
		}
		if v, err := decode(cleaned[start : end+1]); err == nil {
			return v, nil
		}
	}
	return nil, &PayloadError{Reason: "Model reply is not valid JSON", Snippet: Snippet(text)}
}

// stripFences removes a leading ```lang line and a trailing ``` line.
func stripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	lines := strings.Split(cleaned, "\n")
	lines = lines[1:]
	if n := len(lines); n > 0 && strings.HasPrefix(strings.TrimSpace(lines[n-1]), "```") {
		lines = lines[:n-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func decode(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	// Trailing data means the candidate was not a single JSON value.
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// stringify renders a decoded JSON value as text: strings verbatim,
// everything else re-encoded as JSON.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return fmt.Sprint(v)
	}
	return strings.TrimSpace(buf.String())
}
