// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package render rasterizes PDF pages to PNG with poppler's pdftoppm.
// pdftoppm runs on the host when it is on PATH, otherwise inside a
// container image through Docker or Podman.
package render

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/pdiddy/pagemark/internal/container"
)

const (
	// DefaultImage is the container image used when pdftoppm is not installed.
	DefaultImage = "minidocks/poppler:latest"

	binPdftoppm = "pdftoppm"
)

// Package-level vars for test substitution.
var (
	lookPath      = exec.LookPath
	detectRuntime = container.DetectRuntime
)

// runner executes pdftoppm with args, the PDF on stdin and the PNG on stdout.
type runner interface {
	run(ctx context.Context, args []string, pdf io.Reader, png io.Writer) error
	describe() string
}

type localRunner struct {
	bin string
}

func (l *localRunner) run(ctx context.Context, args []string, pdf io.Reader, png io.Writer) error {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, l.bin, args...)
	cmd.Stdin = pdf
	cmd.Stdout = png
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("pdftoppm failed: %w (output: %s)", err, msg)
		}
		return fmt.Errorf("pdftoppm failed: %w", err)
	}
	return nil
}

func (l *localRunner) describe() string { return l.bin }

type containerRunner struct {
	rt    container.Runtime
	image string
}

func (c *containerRunner) run(ctx context.Context, args []string, pdf io.Reader, png io.Writer) error {
	return c.rt.Run(ctx, c.image, append([]string{binPdftoppm}, args...), pdf, png)
}

func (c *containerRunner) describe() string { return c.rt.Name() + ":" + c.image }

// Poppler renders pages and counts them.
type Poppler struct {
	runner runner
	logger *slog.Logger
}

// NewPoppler picks the host pdftoppm when available and falls back to
// running image in a container. An empty image means DefaultImage.
func NewPoppler(ctx context.Context, image string, logger *slog.Logger) (*Poppler, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	if bin, err := lookPath(binPdftoppm); err == nil {
		logger.Debug("rasterizer selected", "runner", bin)
		return &Poppler{runner: &localRunner{bin: bin}, logger: logger}, nil
	}

	if image == "" {
		image = DefaultImage
	}
	rt, err := detectRuntime(ctx)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm not found on PATH and %w", err)
	}
	if err := rt.EnsureImage(ctx, image); err != nil {
		return nil, err
	}
	logger.Debug("rasterizer selected", "runner", rt.Name(), "image", image)
	return &Poppler{runner: &containerRunner{rt: rt, image: image}, logger: logger}, nil
}

// PageCount returns the number of pages in the PDF.
func (p *Poppler) PageCount(pdfPath string) (int, error) {
	n, err := api.PageCountFile(pdfPath)
	if err != nil {
		return 0, fmt.Errorf("counting pages of %s: %w", pdfPath, err)
	}
	return n, nil
}

// RenderPage writes page (1-based) of the PDF at dpi to outPath. The PNG is
// written to a temporary file first so an interrupted render never leaves a
// partial raster behind.
func (p *Poppler) RenderPage(ctx context.Context, pdfPath string, page, dpi int, outPath string) error {
	in, err := os.Open(pdfPath)
	if err != nil {
		return fmt.Errorf("opening PDF: %w", err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("creating raster directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(outPath), ".render-*.png")
	if err != nil {
		return fmt.Errorf("creating temp raster: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := p.runner.run(ctx, pdftoppmArgs(page, dpi), in, tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("rendering page %d of %s: %w", page, pdfPath, err)
	}
	info, err := tmp.Stat()
	if err != nil {
		tmp.Close()
		return fmt.Errorf("checking raster: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("writing raster: %w", err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("rendering page %d of %s: %s produced no output", page, pdfPath, p.runner.describe())
	}

	if err := os.Rename(tmp.Name(), outPath); err != nil {
		return fmt.Errorf("saving raster: %w", err)
	}
	p.logger.Debug("page rendered", "pdf", pdfPath, "page", page, "dpi", dpi, "path", outPath)
	return nil
}

// pdftoppmArgs renders one page from stdin to a PNG on stdout.
//
//	-png          PNG output
//	-r DPI        resolution
//	-f N -l N     first and last page
//	-singlefile   no page-number suffix; with no output root, write stdout
//	-             read the PDF from stdin
func pdftoppmArgs(page, dpi int) []string {
	n := strconv.Itoa(page)
	return []string{"-png", "-r", strconv.Itoa(dpi), "-f", n, "-l", n, "-singlefile", "-"}
}
