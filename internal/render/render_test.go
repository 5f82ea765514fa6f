// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package render

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdiddy/pagemark/internal/container"
)

type fakeRunner struct {
	args  [][]string
	input []byte
	out   []byte
	err   error
}

func (f *fakeRunner) run(_ context.Context, args []string, pdf io.Reader, png io.Writer) error {
	f.args = append(f.args, args)
	f.input, _ = io.ReadAll(pdf)
	if _, err := png.Write(f.out); err != nil {
		return err
	}
	return f.err
}

func (f *fakeRunner) describe() string { return "fake" }

type fakeRuntime struct {
	ensured []string
	ran     []string
}

func (f *fakeRuntime) Name() string { return "podman" }
func (f *fakeRuntime) Available(context.Context) bool { return true }

func (f *fakeRuntime) EnsureImage(_ context.Context, image string) error {
	f.ensured = append(f.ensured, image)
	return nil
}

func (f *fakeRuntime) Run(_ context.Context, image string, args []string, _ io.Reader, stdout io.Writer) error {
	f.ran = append(append(f.ran, image), args...)
	_, err := stdout.Write([]byte("png"))
	return err
}

func discard() *slog.Logger { return slog.New(slog.DiscardHandler) }

func writePDF(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "doc.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.7 fake"), 0o644))
	return path
}

func TestRenderPage(t *testing.T) {
	pdf := writePDF(t)
	out := filepath.Join(t.TempDir(), "images", "doc", "page_002.png")
	r := &fakeRunner{out: []byte("\x89PNG data")}
	p := &Poppler{runner: r, logger: discard()}

	require.NoError(t, p.RenderPage(context.Background(), pdf, 2, 150, out))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "\x89PNG data", string(data))
	assert.Equal(t, "%PDF-1.7 fake", string(r.input))
	assert.Equal(t, [][]string{{"-png", "-r", "150", "-f", "2", "-l", "2", "-singlefile", "-"}}, r.args)

	entries, err := os.ReadDir(filepath.Dir(out))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestRenderPage_FailureLeavesNoRaster(t *testing.T) {
	pdf := writePDF(t)
	out := filepath.Join(t.TempDir(), "page_001.png")

	p := &Poppler{runner: &fakeRunner{out: []byte("partial"), err: errors.New("exit status 99")}, logger: discard()}
	err := p.RenderPage(context.Background(), pdf, 1, 200, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "page 1")
	assert.NoFileExists(t, out)

	p = &Poppler{runner: &fakeRunner{}, logger: discard()}
	err = p.RenderPage(context.Background(), pdf, 1, 200, out)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no output")
	assert.NoFileExists(t, out)
}

func TestRenderPage_MissingPDF(t *testing.T) {
	p := &Poppler{runner: &fakeRunner{}, logger: discard()}
	err := p.RenderPage(context.Background(), filepath.Join(t.TempDir(), "nope.pdf"), 1, 200, filepath.Join(t.TempDir(), "x.png"))
	assert.Error(t, err)
}

func TestNewPoppler_PrefersHostBinary(t *testing.T) {
	origLook, origDetect := lookPath, detectRuntime
	t.Cleanup(func() { lookPath, detectRuntime = origLook, origDetect })

	lookPath = func(string) (string, error) { return "/usr/bin/pdftoppm", nil }
	detectRuntime = func(context.Context) (container.Runtime, error) {
		t.Fatal("container runtime should not be consulted")
		return nil, nil
	}

	p, err := NewPoppler(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, "/usr/bin/pdftoppm", p.runner.describe())
}

func TestNewPoppler_FallsBackToContainer(t *testing.T) {
	origLook, origDetect := lookPath, detectRuntime
	t.Cleanup(func() { lookPath, detectRuntime = origLook, origDetect })

	rt := &fakeRuntime{}
	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	detectRuntime = func(context.Context) (container.Runtime, error) { return rt, nil }

	p, err := NewPoppler(context.Background(), "", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{DefaultImage}, rt.ensured)
	assert.Equal(t, "podman:"+DefaultImage, p.runner.describe())

	out := filepath.Join(t.TempDir(), "page_003.png")
	require.NoError(t, p.RenderPage(context.Background(), writePDF(t), 3, 72, out))
	assert.Equal(t, []string{DefaultImage, "pdftoppm", "-png", "-r", "72", "-f", "3", "-l", "3", "-singlefile", "-"}, rt.ran)
}

func TestNewPoppler_NoRasterizer(t *testing.T) {
	origLook, origDetect := lookPath, detectRuntime
	t.Cleanup(func() { lookPath, detectRuntime = origLook, origDetect })

	lookPath = func(string) (string, error) { return "", errors.New("not found") }
	detectRuntime = func(context.Context) (container.Runtime, error) { return nil, errors.New("no container runtime available") }

	_, err := NewPoppler(context.Background(), "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdftoppm not found")
}

func TestPageCount_InvalidPDF(t *testing.T) {
	p := &Poppler{runner: &fakeRunner{}, logger: discard()}
	_, err := p.PageCount(writePDF(t))
	assert.Error(t, err)
}
