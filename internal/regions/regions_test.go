package regions

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	"qingest/internal/extract"
	"qingest/internal/providers"
	"qingest/internal/raster"
)

func testPageImage(t *testing.T, num, w, h int) raster.PageImage {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return raster.PageImage{Number: num, PNG: buf.Bytes(), Width: w, Height: h}
}

func TestCropValidRegion(t *testing.T) {
	page := testPageImage(t, 1, 400, 600)
	region := Region{
		Page: 1, X: 100, Y: 100, Width: 50, Height: 40,
		Purpose: extract.PurposeQuestion, QuestionIndex: 0,
	}

	results := Crop([]raster.PageImage{page}, []Region{region}, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 crop, got %d", len(results))
	}

	r := results[0]
	if r.FullPageFallback {
		t.Error("valid region should not fall back to full page")
	}
	// 50x40 box plus 8px padding on each side.
	if r.Width != 66 || r.Height != 56 {
		t.Errorf("crop dimensions = %dx%d, want 66x56", r.Width, r.Height)
	}
	if !strings.HasPrefix(r.Filename, "p1_q0_question_") || !strings.HasSuffix(r.Filename, ".png") {
		t.Errorf("unexpected filename: %s", r.Filename)
	}
}

func TestCropOutOfBoundsFallsBackToFullPage(t *testing.T) {
	page := testPageImage(t, 1, 400, 600)

	tests := []struct {
		name   string
		region Region
	}{
		{"x exceeds width", Region{Page: 1, X: 500, Y: 10, Width: 50, Height: 50}},
		{"y exceeds height", Region{Page: 1, X: 10, Y: 700, Width: 50, Height: 50}},
		{"extends past right edge", Region{Page: 1, X: 380, Y: 10, Width: 50, Height: 50}},
		{"extends past bottom edge", Region{Page: 1, X: 10, Y: 580, Width: 50, Height: 50}},
		{"negative origin", Region{Page: 1, X: -5, Y: 10, Width: 50, Height: 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			results := Crop([]raster.PageImage{page}, []Region{tt.region}, nil)
			if len(results) != 1 {
				t.Fatalf("expected 1 crop, got %d", len(results))
			}
			r := results[0]
			if !r.FullPageFallback {
				t.Error("out-of-bounds region should fall back to full page")
			}
			if r.Width != page.Width || r.Height != page.Height {
				t.Errorf("fallback crop = %dx%d, want full page %dx%d",
					r.Width, r.Height, page.Width, page.Height)
			}
		})
	}
}

func TestCropPaddingClampsAtEdges(t *testing.T) {
	page := testPageImage(t, 1, 400, 600)
	// Box flush against the top-left corner: padding cannot go negative.
	region := Region{Page: 1, X: 0, Y: 0, Width: 50, Height: 50}

	results := Crop([]raster.PageImage{page}, []Region{region}, nil)
	if len(results) != 1 {
		t.Fatalf("expected 1 crop, got %d", len(results))
	}
	r := results[0]
	if r.FullPageFallback {
		t.Error("corner region is valid and should not fall back")
	}
	if r.Width != 58 || r.Height != 58 {
		t.Errorf("crop = %dx%d, want 58x58 (padding clamped at origin)", r.Width, r.Height)
	}
}

func TestCropSkipsUnknownPage(t *testing.T) {
	page := testPageImage(t, 1, 100, 100)
	regions := []Region{
		{Page: 9, X: 0, Y: 0, Width: 10, Height: 10},
		{Page: 1, X: 10, Y: 10, Width: 20, Height: 20},
	}

	results := Crop([]raster.PageImage{page}, regions, nil)
	if len(results) != 1 {
		t.Fatalf("expected bad region skipped and good region cropped, got %d results", len(results))
	}
}

func TestIdentify(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Response = `{"regions": [
		{"page": 1, "x": 10, "y": 20, "width": 100, "height": 80, "purpose": "question", "question_index": 2}
	]}`

	id := NewIdentifier(mock, nil)
	page := testPageImage(t, 1, 400, 600)
	regions, err := id.Identify(context.Background(), []raster.PageImage{page})
	if err != nil {
		t.Fatalf("Identify failed: %v", err)
	}
	if len(regions) != 1 {
		t.Fatalf("expected 1 region, got %d", len(regions))
	}
	r := regions[0]
	if r.Page != 1 || r.QuestionIndex != 2 || r.Purpose != extract.PurposeQuestion {
		t.Errorf("unexpected region: %+v", r)
	}
}

func TestIdentifyParseFailure(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Response = "no json here"

	id := NewIdentifier(mock, nil)
	page := testPageImage(t, 1, 400, 600)
	if _, err := id.Identify(context.Background(), []raster.PageImage{page}); err == nil {
		t.Fatal("expected error on unparseable response")
	}
}
