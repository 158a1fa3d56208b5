// Package raster converts an uploaded PDF or still image into a sequence of
// page raster images. PDF pages are rendered with pdftoppm (poppler-utils),
// which renders the full page correctly, unlike pdfcpu image extraction
// which only pulls embedded image objects.
package raster

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// PageImage is one rendered page. Immutable once created.
type PageImage struct {
	// Number is the 1-based page number.
	Number int
	// PNG holds the rendered page encoded as PNG.
	PNG []byte
	// Width and Height are the pixel dimensions of the rendered page.
	Width  int
	Height int
}

// DecodeError indicates the input file could not be decoded. It names the
// suspected cause instead of propagating a raw parser error, and is fatal
// for the pipeline run (rasterization failures are deterministic).
type DecodeError struct {
	Cause string
	Err   error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decode failed (%s): %v", e.Cause, e.Err)
	}
	return fmt.Sprintf("decode failed (%s)", e.Cause)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Rasterize converts file data (PDF, PNG, or JPEG; optionally a base64 data
// URL) into page images at the given render scale. Pages are returned in
// order, numbered 1..n with no gaps. Scale 1.0 renders PDFs at 72 DPI.
func Rasterize(ctx context.Context, data []byte, scale float64) ([]PageImage, error) {
	if scale <= 0 {
		scale = 1.0
	}

	data, err := stripDataURL(data)
	if err != nil {
		return nil, err
	}

	switch {
	case bytes.HasPrefix(data, []byte("%PDF-")):
		return rasterizePDF(ctx, data, scale)
	case isStillImage(data):
		page, err := decodeStillImage(data)
		if err != nil {
			return nil, err
		}
		return []PageImage{*page}, nil
	default:
		return nil, &DecodeError{Cause: "unsupported file format"}
	}
}

// stripDataURL decodes a base64 data URL payload when present; raw bytes
// pass through unchanged.
func stripDataURL(data []byte) ([]byte, error) {
	if !bytes.HasPrefix(data, []byte("data:")) {
		return data, nil
	}
	idx := bytes.IndexByte(data, ',')
	if idx < 0 {
		return nil, &DecodeError{Cause: "malformed data URL"}
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(data[idx+1:])))
	if err != nil {
		return nil, &DecodeError{Cause: "malformed base64", Err: err}
	}
	return decoded, nil
}

func isStillImage(data []byte) bool {
	return bytes.HasPrefix(data, []byte("\x89PNG\r\n\x1a\n")) ||
		bytes.HasPrefix(data, []byte("\xff\xd8\xff"))
}

// decodeStillImage returns a single PageImage sized to the image's natural
// dimensions, re-encoded as PNG for uniform downstream handling.
func decodeStillImage(data []byte) (*PageImage, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, &DecodeError{Cause: "corrupt image encoding", Err: err}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, &DecodeError{Cause: "failed to re-encode image", Err: err}
	}

	bounds := img.Bounds()
	return &PageImage{
		Number: 1,
		PNG:    buf.Bytes(),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
	}, nil
}

// rasterizePDF renders every page of a PDF concurrently, bounded by CPU
// count, and returns pages in page order.
func rasterizePDF(ctx context.Context, data []byte, scale float64) ([]PageImage, error) {
	pageCount, err := api.PageCount(bytes.NewReader(data), nil)
	if err != nil {
		return nil, &DecodeError{Cause: "corrupt PDF encoding", Err: err}
	}
	if pageCount == 0 {
		return nil, &DecodeError{Cause: "PDF has no pages"}
	}

	tmpDir, err := os.MkdirTemp("", "qingest-raster-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	pdfPath := filepath.Join(tmpDir, "input.pdf")
	if err := os.WriteFile(pdfPath, data, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write temp PDF: %w", err)
	}

	dpi := int(72 * scale)

	type result struct {
		page PageImage
		err  error
	}

	maxWorkers := runtime.NumCPU()
	results := make(chan result, pageCount)
	sem := make(chan struct{}, maxWorkers)

	for page := 1; page <= pageCount; page++ {
		sem <- struct{}{} // acquire
		go func(pageNum int) {
			defer func() { <-sem }() // release

			img, err := renderPage(ctx, pdfPath, tmpDir, pageNum, dpi)
			if err != nil {
				results <- result{err: fmt.Errorf("failed to render page %d: %w", pageNum, err)}
				return
			}
			results <- result{page: *img}
		}(page)
	}

	pages := make([]PageImage, pageCount)
	for i := 0; i < pageCount; i++ {
		r := <-results
		if r.err != nil {
			return nil, &DecodeError{Cause: "page render failed", Err: r.err}
		}
		pages[r.page.Number-1] = r.page
	}

	return pages, nil
}

// renderPage renders a single PDF page via pdftoppm.
func renderPage(ctx context.Context, pdfPath, tmpDir string, pageNum, dpi int) (*PageImage, error) {
	outputPrefix := filepath.Join(tmpDir, fmt.Sprintf("page_%04d", pageNum))

	pageStr := fmt.Sprintf("%d", pageNum)
	cmd := exec.CommandContext(ctx, "pdftoppm",
		"-png",
		"-f", pageStr,
		"-l", pageStr,
		"-r", fmt.Sprintf("%d", dpi),
		"-singlefile",
		pdfPath,
		outputPrefix,
	)

	output, err := cmd.CombinedOutput()
	if err != nil {
		return nil, fmt.Errorf("pdftoppm failed: %w (output: %s)", err, string(output))
	}

	srcPath := outputPrefix + ".png"
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm did not create expected output: %w", err)
	}

	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read rendered page dimensions: %w", err)
	}

	return &PageImage{
		Number: pageNum,
		PNG:    data,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}
