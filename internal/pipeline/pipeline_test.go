// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/googleapi"

	"github.com/pdiddy/pagemark/internal/prompt"
	"github.com/pdiddy/pagemark/internal/ratelimit"
	"github.com/pdiddy/pagemark/internal/reconcile"
	"github.com/pdiddy/pagemark/pkg/types"
)

// fakeRenderer writes a solid 200x100 PNG for every page.
type fakeRenderer struct {
	pages   map[string]int // PDF base name -> page count
	renders int
}

func (f *fakeRenderer) PageCount(pdfPath string) (int, error) {
	n, ok := f.pages[filepath.Base(pdfPath)]
	if !ok {
		return 0, fmt.Errorf("unknown PDF %s", pdfPath)
	}
	return n, nil
}

func (f *fakeRenderer) RenderPage(_ context.Context, _ string, _, _ int, outPath string) error {
	f.renders++
	img := image.NewRGBA(image.Rect(0, 0, 200, 100))
	for y := range 100 {
		for x := range 200 {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 90, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return err
	}
	return os.WriteFile(outPath, buf.Bytes(), 0o644)
}

type call struct {
	image  string
	prompt string
}

// fakeGenerator answers from reply and records every request.
type fakeGenerator struct {
	reply func(image, prompt string) (string, error)
	calls []call
}

func (f *fakeGenerator) Generate(_ context.Context, imagePath, prompt string) (string, error) {
	f.calls = append(f.calls, call{image: filepath.Base(imagePath), prompt: prompt})
	return f.reply(imagePath, prompt)
}

func (f *fakeGenerator) prompts() []string {
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.prompt
	}
	return out
}

// pageObject is the model's answer for page n: page 2 carries one figure.
func pageObject(n int) map[string]any {
	obj := map[string]any{"markdown": fmt.Sprintf("# Page %d\n\nBody of page %d.", n, n)}
	if n == 2 {
		obj["markdown"] = "# Page 2\n\n[[IMAGE:Figure 1]]\n\nAfter the figure."
		obj["images"] = []any{map[string]any{"label": "Figure 1", "bbox_norm": []any{0, 0, 500, 500}}}
	}
	return obj
}

func mustJSON(v any) string {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(data)
}

// pageNumbers reads the page list from a prompt rendered from "{page_numbers}".
func pageNumbers(prompt string) []int {
	var nums []int
	for _, s := range strings.Split(prompt, ",") {
		n, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			panic(err)
		}
		nums = append(nums, n)
	}
	return nums
}

func pageReply(_, prompt string) (string, error) {
	return mustJSON(pageObject(pageNumbers(prompt)[0])), nil
}

func tileReply(_, prompt string) (string, error) {
	var pages []any
	for _, n := range pageNumbers(prompt) {
		obj := pageObject(n)
		obj["page"] = n
		pages = append(pages, obj)
	}
	return mustJSON(map[string]any{"pages": pages}), nil
}

type fakeTimer struct{ waits []time.Duration }

func (f *fakeTimer) After(d time.Duration) <-chan time.Time {
	f.waits = append(f.waits, d)
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

type fixture struct {
	dir      string
	outDir   string
	renderer *fakeRenderer
	gen      *fakeGenerator
	out      bytes.Buffer
}

func newFixture(t *testing.T, pdfs map[string]int, reply func(string, string) (string, error)) *fixture {
	t.Helper()
	dir := t.TempDir()
	for name := range pdfs {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF"), 0o644))
	}
	return &fixture{
		dir:      dir,
		outDir:   filepath.Join(dir, "out"),
		renderer: &fakeRenderer{pages: pdfs},
		gen:      &fakeGenerator{reply: reply},
	}
}

func (f *fixture) pipeline(t *testing.T, tilePages int, force bool) *Pipeline {
	t.Helper()
	promptPath := filepath.Join(f.dir, "prompt.txt")
	require.NoError(t, os.WriteFile(promptPath, []byte("{page_numbers}"), 0o644))
	tmpl, err := prompt.Load(promptPath, tilePages > 1)
	require.NoError(t, err)

	return &Pipeline{
		Renderer:  f.renderer,
		Generator: f.gen,
		Limiter:   &ratelimit.Limiter{Timer: &fakeTimer{}},
		Prompt:    tmpl,
		Config: types.ParseConfig{
			AIConfig:  types.AIConfig{Model: "gemini-2.5-flash"},
			OutDir:    f.outDir,
			DPI:       200,
			TilePages: tilePages,
			Force:     force,
		},
		Out: &f.out,
	}
}

func (f *fixture) pdf(name string) string { return filepath.Join(f.dir, name) }

func (f *fixture) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(f.outDir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func (f *fixture) ledgerRuns(t *testing.T) []types.ParseRun {
	t.Helper()
	var cfg struct {
		ParseRuns []types.ParseRun `json:"parse_runs"`
	}
	require.NoError(t, json.Unmarshal([]byte(f.read(t, "config.json")), &cfg))
	return cfg.ParseRuns
}

func TestRun_SinglePageMode(t *testing.T) {
	f := newFixture(t, map[string]int{"book.pdf": 3}, pageReply)

	run, summary, err := f.pipeline(t, 1, false).Run(context.Background(), []string{f.pdf("book.pdf")})
	require.NoError(t, err)

	assert.Equal(t, []string{"001", "002", "003"}, f.gen.prompts())
	assert.Equal(t, "page_001.png", f.gen.calls[0].image)
	assert.Equal(t, BatchSummary{Sections: 1, Parsed: 3, Calls: 3}, summary)
	assert.Equal(t, 3, summary.Total())

	page2 := f.read(t, "markdown/pages/book_page_002.md")
	assert.Equal(t, "# Page 2\n\n"+
		"<IMAGE source=\"../../images/book/page_002.png\" bbox=\"0,0,500,500\">\n"+
		"![Figure 1](../../crops/book/page_002_img_01.png)\n"+
		"</IMAGE>\n\nAfter the figure.\n", page2)
	assert.FileExists(t, filepath.Join(f.outDir, "crops", "book", "page_002_img_01.png"))

	combined := f.read(t, "markdown/book.md")
	assert.True(t, strings.HasPrefix(combined, "# Page 1\n\nBody of page 1.\n\n# Page 2\n\n<IMAGE"))
	assert.True(t, strings.HasSuffix(combined, "# Page 3\n\nBody of page 3.\n"))

	require.Len(t, run.Sections, 1)
	sec := run.Sections[0]
	assert.Equal(t, "book", sec.Section)
	assert.Equal(t, 3, sec.Pages)
	assert.Equal(t, filepath.Join(f.outDir, "markdown", "book.md"), sec.Markdown)
	assert.Empty(t, sec.ImageRecords[1])
	require.Len(t, sec.ImageRecords[2], 1)
	assert.Equal(t, "Figure 1", sec.ImageRecords[2][0].Label)

	runs := f.ledgerRuns(t)
	require.Len(t, runs, 1)
	assert.Equal(t, filepath.Join(f.dir, "prompt.txt"), runs[0].Prompt)
	assert.Equal(t, types.BBoxOrder, runs[0].BBoxOrder)
	assert.Contains(t, f.out.String(), "Updated config: ")
}

func TestRun_RerunMakesNoCalls(t *testing.T) {
	f := newFixture(t, map[string]int{"book.pdf": 3}, pageReply)
	first, _, err := f.pipeline(t, 1, false).Run(context.Background(), []string{f.pdf("book.pdf")})
	require.NoError(t, err)
	combined := f.read(t, "markdown/book.md")

	f.gen.calls = nil
	second, summary, err := f.pipeline(t, 1, false).Run(context.Background(), []string{f.pdf("book.pdf")})
	require.NoError(t, err)

	assert.Empty(t, f.gen.calls)
	assert.Equal(t, 3, f.renderer.renders, "rasters are reused")
	assert.Equal(t, BatchSummary{Sections: 1, Reused: 3}, summary)
	assert.Equal(t, combined, f.read(t, "markdown/book.md"))
	assert.Equal(t, first.Sections[0].ImageRecords, second.Sections[0].ImageRecords,
		"image records recovered from markdown match the ones written")
	assert.Len(t, f.ledgerRuns(t), 2, "each run appends")
}

func TestRun_ForceReprocesses(t *testing.T) {
	f := newFixture(t, map[string]int{"book.pdf": 2}, pageReply)
	_, _, err := f.pipeline(t, 1, false).Run(context.Background(), []string{f.pdf("book.pdf")})
	require.NoError(t, err)

	f.gen.calls = nil
	_, summary, err := f.pipeline(t, 1, true).Run(context.Background(), []string{f.pdf("book.pdf")})
	require.NoError(t, err)

	assert.Len(t, f.gen.calls, 2)
	assert.Equal(t, 4, f.renderer.renders)
	assert.Equal(t, 2, summary.Parsed)
	assert.Zero(t, summary.Reused)
}

func TestRun_ResumesPartialSection(t *testing.T) {
	f := newFixture(t, map[string]int{"book.pdf": 3}, pageReply)
	pages := filepath.Join(f.outDir, "markdown", "pages")
	require.NoError(t, os.MkdirAll(pages, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(pages, "book_page_002.md"), []byte("Kept from last run.\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(pages, "book_page_003.md"), []byte("  \n"), 0o644))

	run, _, err := f.pipeline(t, 1, false).Run(context.Background(), []string{f.pdf("book.pdf")})
	require.NoError(t, err)

	assert.Equal(t, []string{"001", "003"}, f.gen.prompts(), "blank files count as missing")
	assert.Contains(t, f.read(t, "markdown/book.md"), "\n\nKept from last run.\n\n# Page 3")
	assert.Empty(t, run.Sections[0].ImageRecords[2])
}

func TestRun_TileMode(t *testing.T) {
	f := newFixture(t, map[string]int{"book.pdf": 5}, tileReply)

	_, summary, err := f.pipeline(t, 2, false).Run(context.Background(), []string{f.pdf("book.pdf")})
	require.NoError(t, err)

	assert.Equal(t, []string{"001,002", "003,004", "005"}, f.gen.prompts())
	assert.Equal(t, "tile_001_002.png", f.gen.calls[0].image)
	assert.Equal(t, "tile_005_005.png", f.gen.calls[2].image)
	assert.FileExists(t, filepath.Join(f.outDir, "tiles", "book", "tile_003_004.png"))
	assert.Equal(t, 5, summary.Parsed)
	assert.Equal(t, 3, summary.Calls)
	for n := 1; n <= 5; n++ {
		assert.FileExists(t, filepath.Join(f.outDir, "markdown", "pages", fmt.Sprintf("book_page_%03d.md", n)))
	}
}

func TestRun_TileModeSkipsResolvedTiles(t *testing.T) {
	f := newFixture(t, map[string]int{"book.pdf": 4}, tileReply)
	pages := filepath.Join(f.outDir, "markdown", "pages")
	require.NoError(t, os.MkdirAll(pages, 0o755))
	for _, n := range []int{1, 2, 4} {
		require.NoError(t, os.WriteFile(filepath.Join(pages, fmt.Sprintf("book_page_%03d.md", n)), []byte(fmt.Sprintf("old %d", n)), 0o644))
	}

	_, _, err := f.pipeline(t, 2, false).Run(context.Background(), []string{f.pdf("book.pdf")})
	require.NoError(t, err)

	assert.Equal(t, []string{"003,004"}, f.gen.prompts())
	assert.Contains(t, f.out.String(), "skipped tile 001-002")
	assert.Equal(t, "old 4", strings.TrimSpace(f.read(t, "markdown/pages/book_page_004.md")),
		"resolved pages in a re-sent tile are not overwritten")
	assert.Contains(t, f.read(t, "markdown/pages/book_page_003.md"), "Body of page 3.")
}

func TestTileAndPageModesAgree(t *testing.T) {
	pageFix := newFixture(t, map[string]int{"sec.pdf": 1}, func(_, _ string) (string, error) {
		return mustJSON(pageObject(2)), nil
	})
	tileFix := newFixture(t, map[string]int{"sec.pdf": 1}, func(_, _ string) (string, error) {
		obj := pageObject(2)
		obj["page"] = 1
		return mustJSON(map[string]any{"pages": []any{obj}}), nil
	})

	pageRun, _, err := pageFix.pipeline(t, 1, false).Run(context.Background(), []string{pageFix.pdf("sec.pdf")})
	require.NoError(t, err)
	tileRun, _, err := tileFix.pipeline(t, 4, false).Run(context.Background(), []string{tileFix.pdf("sec.pdf")})
	require.NoError(t, err)

	assert.Equal(t, pageFix.read(t, "markdown/pages/sec_page_001.md"), tileFix.read(t, "markdown/pages/sec_page_001.md"))
	assert.Equal(t, pageFix.read(t, "markdown/sec.md"), tileFix.read(t, "markdown/sec.md"))

	relative := func(outDir string, recs []types.ImageRecord) []types.ImageRecord {
		out := make([]types.ImageRecord, len(recs))
		for i, r := range recs {
			rel, err := filepath.Rel(outDir, r.CropPath)
			require.NoError(t, err)
			r.CropPath = rel
			out[i] = r
		}
		return out
	}
	assert.Equal(t,
		relative(pageFix.outDir, pageRun.Sections[0].ImageRecords[1]),
		relative(tileFix.outDir, tileRun.Sections[0].ImageRecords[1]))
}

func TestRun_TileDropsOutOfRangeAndDuplicateEntries(t *testing.T) {
	f := newFixture(t, map[string]int{"book.pdf": 2}, func(_, _ string) (string, error) {
		return `{"pages": [
			{"page": 1, "markdown": "one"},
			{"page": 9, "markdown": "nine"},
			{"page": "2", "markdown": "two"},
			{"page": 2, "markdown": "two again"}
		]}`, nil
	})

	_, summary, err := f.pipeline(t, 2, false).Run(context.Background(), []string{f.pdf("book.pdf")})
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Parsed)
	assert.Equal(t, "one\n\ntwo\n", f.read(t, "markdown/book.md"))
	assert.NoFileExists(t, filepath.Join(f.outDir, "markdown", "pages", "book_page_009.md"))
}

func TestRun_MalformedTileIsFatal(t *testing.T) {
	f := newFixture(t, map[string]int{"book.pdf": 2}, func(_, _ string) (string, error) {
		return `{"summary": "I could not read this"}`, nil
	})

	_, _, err := f.pipeline(t, 2, false).Run(context.Background(), []string{f.pdf("book.pdf")})
	require.Error(t, err)

	var pe *reconcile.PayloadError
	require.True(t, errors.As(err, &pe), "got %v", err)
	assert.Contains(t, err.Error(), "Tile response missing 'pages' list")
	assert.Contains(t, err.Error(), "tile 001-002")
	assert.NoFileExists(t, filepath.Join(f.outDir, "config.json"))
	assert.NoFileExists(t, filepath.Join(f.outDir, "markdown", "book.md"))
}

func TestRun_FailedSectionAbortsBatchWithoutLedger(t *testing.T) {
	f := newFixture(t, map[string]int{"a.pdf": 1, "b.pdf": 1}, func(image, prompt string) (string, error) {
		if strings.Contains(image, string(filepath.Separator)+"b"+string(filepath.Separator)) {
			return "", &googleapi.Error{Code: 400, Message: "bad image"}
		}
		return pageReply(image, prompt)
	})

	_, summary, err := f.pipeline(t, 1, false).Run(context.Background(), []string{f.pdf("a.pdf"), f.pdf("b.pdf")})
	require.Error(t, err)

	assert.Contains(t, err.Error(), "parsing b.pdf: page 1")
	assert.Equal(t, 1, summary.Sections)
	assert.FileExists(t, filepath.Join(f.outDir, "markdown", "a.md"), "completed sections keep their output")
	assert.NoFileExists(t, filepath.Join(f.outDir, "config.json"))
}

func TestRun_RateLimitExhausted(t *testing.T) {
	f := newFixture(t, map[string]int{"book.pdf": 1}, func(_, _ string) (string, error) {
		return "", &googleapi.Error{Code: 429, Message: "Resource exhausted"}
	})
	p := f.pipeline(t, 1, false)
	timer := &fakeTimer{}
	p.Limiter = &ratelimit.Limiter{Timer: timer}

	_, _, err := p.Run(context.Background(), []string{f.pdf("book.pdf")})

	var rle *ratelimit.RateLimitError
	require.True(t, errors.As(err, &rle), "got %v", err)
	assert.Len(t, f.gen.calls, 4)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, timer.waits)
	assert.NoFileExists(t, filepath.Join(f.outDir, "config.json"))
}

func TestRun_InvalidLedgerFailsBeforeWork(t *testing.T) {
	f := newFixture(t, map[string]int{"book.pdf": 1}, pageReply)
	require.NoError(t, os.MkdirAll(f.outDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(f.outDir, "config.json"), []byte("{broken"), 0o644))

	_, _, err := f.pipeline(t, 1, false).Run(context.Background(), []string{f.pdf("book.pdf")})
	require.Error(t, err)
	assert.Empty(t, f.gen.calls)
	assert.Zero(t, f.renderer.renders)
}

func TestLayout(t *testing.T) {
	l := NewLayout("/out", "intro")
	assert.Equal(t, filepath.FromSlash("/out/images/intro/page_007.png"), l.RasterPath(7))
	assert.Equal(t, filepath.FromSlash("/out/tiles/intro/tile_005_008.png"), l.TilePath(5, 8))
	assert.Equal(t, filepath.FromSlash("/out/crops/intro"), l.CropsDir)
	assert.Equal(t, filepath.FromSlash("/out/markdown/pages"), l.PagesDir)
	assert.Equal(t, filepath.FromSlash("/out/markdown/intro.md"), l.CombinedPath())
}
