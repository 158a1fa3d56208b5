package regions

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/png"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"qingest/internal/raster"
)

// cropPadding is the fixed pixel expansion applied on every side of a valid
// bounding box before cropping, so glyphs and lines at the diagram edge are
// not clipped. Clamped to page bounds.
const cropPadding = 8

// CropResult is one cropped diagram, encoded losslessly.
type CropResult struct {
	Region   Region
	PNG      []byte
	Width    int
	Height   int
	Filename string
	// FullPageFallback is true when the detected box was out of bounds and
	// the entire page was substituted so the user can re-crop manually.
	FullPageFallback bool
}

// Crop cuts every region out of its source page. Invalid bounding boxes fall
// back to the full page; individual decode/draw failures are logged and
// skipped without aborting the remaining regions.
func Crop(pages []raster.PageImage, regions []Region, logger *slog.Logger) []CropResult {
	if logger == nil {
		logger = slog.Default()
	}

	byNumber := make(map[int]*raster.PageImage, len(pages))
	for i := range pages {
		byNumber[pages[i].Number] = &pages[i]
	}
	decoded := make(map[int]image.Image, len(pages))

	var results []CropResult
	for _, region := range regions {
		page, ok := byNumber[region.Page]
		if !ok {
			logger.Warn("region references unknown page, skipping", "page", region.Page)
			continue
		}

		src, ok := decoded[region.Page]
		if !ok {
			var err error
			src, _, err = image.Decode(bytes.NewReader(page.PNG))
			if err != nil {
				logger.Warn("failed to decode page image, skipping region",
					"page", region.Page, "error", err)
				continue
			}
			decoded[region.Page] = src
		}

		box, fallback := resolveBox(region, page, logger)

		crop, err := cropBox(src, box)
		if err != nil {
			logger.Warn("failed to crop region, skipping",
				"page", region.Page, "question", region.QuestionIndex, "error", err)
			continue
		}

		var buf bytes.Buffer
		if err := png.Encode(&buf, crop); err != nil {
			logger.Warn("failed to encode crop, skipping",
				"page", region.Page, "question", region.QuestionIndex, "error", err)
			continue
		}

		results = append(results, CropResult{
			Region:           region,
			PNG:              buf.Bytes(),
			Width:            box.Dx(),
			Height:           box.Dy(),
			Filename:         cropFilename(region),
			FullPageFallback: fallback,
		})
	}

	return results
}

// resolveBox validates a region's bounding box against the page dimensions.
// Out-of-bounds boxes are replaced with the full page; valid boxes are
// expanded by cropPadding, clamped to the page.
func resolveBox(region Region, page *raster.PageImage, logger *slog.Logger) (image.Rectangle, bool) {
	if reason := invalidReason(region, page); reason != "" {
		logger.Warn("invalid region bounding box, using full page",
			"page", region.Page, "question", region.QuestionIndex, "reason", reason)
		return image.Rect(0, 0, page.Width, page.Height), true
	}

	x0 := max(0, region.X-cropPadding)
	y0 := max(0, region.Y-cropPadding)
	x1 := min(page.Width, region.X+region.Width+cropPadding)
	y1 := min(page.Height, region.Y+region.Height+cropPadding)
	return image.Rect(x0, y0, x1, y1), false
}

// invalidReason returns a description of why the box is invalid, or "" when
// it lies entirely within the page.
func invalidReason(region Region, page *raster.PageImage) string {
	switch {
	case region.Width <= 0 || region.Height <= 0:
		return "non-positive box dimensions"
	case region.X < 0 || region.Y < 0:
		return "negative origin"
	case region.X >= page.Width:
		return "x exceeds image width"
	case region.Y >= page.Height:
		return "y exceeds image height"
	case region.X+region.Width > page.Width:
		return "box extends past right edge"
	case region.Y+region.Height > page.Height:
		return "box extends past bottom edge"
	default:
		return ""
	}
}

// cropBox copies the box out of src into a fresh RGBA image.
func cropBox(src image.Image, box image.Rectangle) (image.Image, error) {
	if box.Empty() {
		return nil, fmt.Errorf("empty crop box %v", box)
	}
	dst := image.NewRGBA(image.Rect(0, 0, box.Dx(), box.Dy()))
	draw.Draw(dst, dst.Bounds(), src, box.Min, draw.Src)
	return dst, nil
}

// cropFilename encodes page, question index, purpose, a timestamp, and a
// short random suffix so filenames are unique across concurrent runs.
func cropFilename(region Region) string {
	return fmt.Sprintf("p%d_q%d_%s_%d_%s.png",
		region.Page,
		region.QuestionIndex,
		region.Purpose,
		time.Now().Unix(),
		uuid.New().String()[:8],
	)
}
