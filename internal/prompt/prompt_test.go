// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package prompt

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Builtin(t *testing.T) {
	page, err := Load("", false)
	require.NoError(t, err)
	assert.Equal(t, BuiltinPage, page.Source)

	text := page.Page(7)
	assert.Contains(t, text, "page 007")
	assert.Contains(t, text, "ymin,xmin,ymax,xmax")
	assert.Contains(t, text, `"markdown":`)
	assert.NotContains(t, text, "{{")
	assert.NotContains(t, text, "{page_number}")

	tile, err := Load("", true)
	require.NoError(t, err)
	assert.Equal(t, BuiltinTile, tile.Source)

	text = tile.Tile([]int{9, 10, 11})
	assert.Contains(t, text, "009,010,011")
	assert.Contains(t, text, `"pages": [`)
	assert.NotContains(t, text, "{page_numbers}")
	assert.Contains(t, tile.Raw(), "{page_numbers}", "raw text keeps placeholders")
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.txt")
	require.NoError(t, os.WriteFile(path, []byte("p={page_number} ps={page_numbers} o={bbox_order} lit={{page_number}} json={{\"a\": 1}} x={unknown}"), 0o644))

	tmpl, err := Load(path, true)
	require.NoError(t, err)
	assert.Equal(t, path, tmpl.Source)

	assert.Equal(t,
		`p=004 ps=004 o=ymin,xmin,ymax,xmax lit={page_number} json={"a": 1} x={unknown}`,
		tmpl.Page(4))
	assert.Equal(t,
		`p=001 ps=001,002 o=ymin,xmin,ymax,xmax lit={page_number} json={"a": 1} x={unknown}`,
		tmpl.Tile([]int{1, 2}))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.txt"), false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "prompt file not found")
}
