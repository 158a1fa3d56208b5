package storage

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

type fakeS3 struct {
	s3iface.S3API
	puts []s3.PutObjectInput
	err  error
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *s3.PutObjectInput, opts ...request.Option) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.puts = append(f.puts, *in)
	return &s3.PutObjectOutput{}, nil
}

func TestUploadBuildsKeyAndURL(t *testing.T) {
	fake := &fakeS3{}
	u := newUploaderWithClient(fake, "papers", "nyc3.digitaloceanspaces.com", "")

	obj, err := u.Upload(context.Background(), []byte("png-bytes"), "questions/batch1", "p1_q0_question_1_abcd1234.png")
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if obj.Key != "questions/batch1/p1_q0_question_1_abcd1234.png" {
		t.Errorf("key = %q", obj.Key)
	}
	want := "https://papers.nyc3.digitaloceanspaces.com/questions/batch1/p1_q0_question_1_abcd1234.png"
	if obj.URL != want {
		t.Errorf("url = %q, want %q", obj.URL, want)
	}

	if len(fake.puts) != 1 {
		t.Fatalf("expected 1 put, got %d", len(fake.puts))
	}
	put := fake.puts[0]
	if aws.StringValue(put.ACL) != "public-read" {
		t.Errorf("ACL = %q, want public-read", aws.StringValue(put.ACL))
	}
	if aws.StringValue(put.ContentType) != "image/png" {
		t.Errorf("content type = %q", aws.StringValue(put.ContentType))
	}
	body, _ := io.ReadAll(put.Body)
	if !bytes.Equal(body, []byte("png-bytes")) {
		t.Error("uploaded body does not match input")
	}
}

func TestUploadPrefersCDNURL(t *testing.T) {
	u := newUploaderWithClient(&fakeS3{}, "papers", "nyc3.digitaloceanspaces.com", "https://cdn.example.com")

	obj, err := u.Upload(context.Background(), []byte("x"), "q", "a.png")
	if err != nil {
		t.Fatalf("Upload() error: %v", err)
	}
	if obj.URL != "https://cdn.example.com/q/a.png" {
		t.Errorf("url = %q", obj.URL)
	}
}

func TestUploadErrorWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	u := newUploaderWithClient(&fakeS3{err: cause}, "papers", "ep", "")

	_, err := u.Upload(context.Background(), []byte("x"), "q", "a.png")
	if err == nil {
		t.Fatal("expected error")
	}
	var ue *UploadError
	if !errors.As(err, &ue) {
		t.Fatalf("expected *UploadError, got %T", err)
	}
	if ue.Key != "q/a.png" {
		t.Errorf("key = %q", ue.Key)
	}
	if !errors.Is(err, cause) {
		t.Error("cause not wrapped")
	}
}

func TestOptimizeDownscalesLongSide(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 400, 200))
	for y := 0; y < 200; y++ {
		for x := 0; x < 400; x++ {
			src.Set(x, y, color.RGBA{R: uint8(x % 255), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	out, err := Optimize(buf.Bytes(), 100)
	if err != nil {
		t.Fatalf("Optimize() error: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decoding optimized image: %v", err)
	}
	if cfg.Width != 100 || cfg.Height != 50 {
		t.Errorf("dims = %dx%d, want 100x50", cfg.Width, cfg.Height)
	}
}

func TestOptimizeKeepsSmallImages(t *testing.T) {
	src := image.NewRGBA(image.Rect(0, 0, 40, 30))
	var buf bytes.Buffer
	if err := png.Encode(&buf, src); err != nil {
		t.Fatal(err)
	}

	out, err := Optimize(buf.Bytes(), 100)
	if err != nil {
		t.Fatalf("Optimize() error: %v", err)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decoding optimized image: %v", err)
	}
	if cfg.Width != 40 || cfg.Height != 30 {
		t.Errorf("dims = %dx%d, want 40x30", cfg.Width, cfg.Height)
	}
}

func TestOptimizeLosslessPassesSmallImagesThrough(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 60, 80))); err != nil {
		t.Fatal(err)
	}

	out, err := OptimizeLossless(buf.Bytes(), 100)
	if err != nil {
		t.Fatalf("OptimizeLossless() error: %v", err)
	}
	if !bytes.Equal(out, buf.Bytes()) {
		t.Error("in-bounds image was re-encoded")
	}
}

func TestOptimizeLosslessDownscalesKeepingPNG(t *testing.T) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 200, 400))); err != nil {
		t.Fatal(err)
	}

	out, err := OptimizeLossless(buf.Bytes(), 100)
	if err != nil {
		t.Fatalf("OptimizeLossless() error: %v", err)
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("decoding downscaled image: %v", err)
	}
	if format != "png" {
		t.Errorf("format = %q, want png", format)
	}
	if cfg.Width != 50 || cfg.Height != 100 {
		t.Errorf("dims = %dx%d, want 50x100", cfg.Width, cfg.Height)
	}
}
