package storage

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"golang.org/x/image/draw"
)

const jpegQuality = 85

// Optimize downscales an image so its longest side is at most maxDim and
// re-encodes it as JPEG. Used for photographic full-page images before
// upload. Diagram crops go through OptimizeLossless instead, since line
// art survives JPEG badly.
func Optimize(data []byte, maxDim int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return encodeJPEG(src)
	}
	return encodeJPEG(downscale(src, maxDim))
}

// OptimizeLossless bounds an image's longest side at maxDim while keeping
// PNG encoding. Images already within bounds are returned unchanged, so
// the common diagram crop passes through byte for byte.
func OptimizeLossless(data []byte, maxDim int) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}

	b := src.Bounds()
	if b.Dx() <= maxDim && b.Dy() <= maxDim {
		return data, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, downscale(src, maxDim)); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// downscale resamples src so its longest side equals maxDim, preserving
// aspect ratio.
func downscale(src image.Image, maxDim int) image.Image {
	b := src.Bounds()
	w, h := b.Dx(), b.Dy()
	if w >= h {
		h = h * maxDim / w
		w = maxDim
	} else {
		w = w * maxDim / h
		h = maxDim
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, b, draw.Over, nil)
	return dst
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
