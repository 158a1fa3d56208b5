package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"testing"

	"qingest/internal/assemble"
	"qingest/internal/config"
	"qingest/internal/extract"
	"qingest/internal/hierarchy"
	"qingest/internal/providers"
	"qingest/internal/raster"
	"qingest/internal/regions"
	"qingest/internal/storage"
)

type fakeResolver struct {
	failFor string
	calls   int
}

func (f *fakeResolver) Resolve(ctx context.Context, questionText string, hints hierarchy.Hints) (*hierarchy.Resolved, error) {
	f.calls++
	if f.failFor != "" && strings.Contains(questionText, f.failFor) {
		return nil, &hierarchy.ResolutionError{Level: "chapter", Err: fmt.Errorf("no match")}
	}
	return &hierarchy.Resolved{SubjectID: "sub-1", ChapterID: "ch-1", TopicID: "t-1"}, nil
}

type fakeImageStore struct {
	uploads []string
	data    [][]byte
}

func (f *fakeImageStore) Upload(ctx context.Context, data []byte, folder, filename string) (*storage.StoredObject, error) {
	f.uploads = append(f.uploads, filename)
	f.data = append(f.data, data)
	return &storage.StoredObject{
		URL: "https://cdn.test/" + folder + "/" + filename,
		Key: folder + "/" + filename,
	}, nil
}

func pngDocument(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testPages(t *testing.T, n int) []raster.PageImage {
	t.Helper()
	pages := make([]raster.PageImage, n)
	for i := range pages {
		pages[i] = raster.PageImage{Number: i + 1, PNG: pngDocument(t, 200, 300), Width: 200, Height: 300}
	}
	return pages
}

func newPipeline(mock *providers.MockClient, resolver TaxonomyResolver, images ImageStore, cfg config.PipelineCfg) (*Pipeline, *Store) {
	store := NewStore()
	var identify *regions.Identifier
	if cfg.ExtractDiagrams {
		identify = regions.NewIdentifier(mock, nil)
	}
	p := New(cfg, config.DefaultsCfg{PositiveMarks: 4, NegativeMarks: 1, DurationSeconds: 120},
		extract.NewClient(mock, nil), identify, images, resolver, store, nil)
	return p, store
}

func TestRunSinglePage(t *testing.T) {
	mock := &providers.MockClient{Response: `{
		"questions": [{
			"question": "What is $2+2$?",
			"type": "single_choice",
			"options": [
				{"label": "A", "text": "3", "is_correct": false},
				{"label": "B", "text": "4", "is_correct": true}
			]
		}],
		"incomplete_question": null
	}`}
	resolver := &fakeResolver{}
	p, store := newPipeline(mock, resolver, &fakeImageStore{}, config.PipelineCfg{RenderScale: 1})

	result, err := p.Run(context.Background(), pngDocument(t, 100, 100), RunOptions{ExamID: "jee-2026"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Pages != 1 || result.Questions != 1 {
		t.Errorf("result = %+v", result)
	}

	snap := store.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("store has %d questions", len(snap))
	}
	q := snap[0]
	if q.Status != assemble.StatusPending {
		t.Errorf("status = %s", q.Status)
	}
	if q.Payload.SubjectID != "sub-1" || q.Payload.ChapterID != "ch-1" {
		t.Errorf("taxonomy = %s/%s", q.Payload.SubjectID, q.Payload.ChapterID)
	}
	if q.Payload.ExamID != "jee-2026" {
		t.Errorf("exam id = %q", q.Payload.ExamID)
	}
	if q.Payload.Answer.Key.CorrectOptionID == "" {
		t.Error("answer key missing")
	}
	if q.SourcePage != 1 {
		t.Errorf("source page = %d, want 1", q.SourcePage)
	}
	if resolver.calls != 1 {
		t.Errorf("resolver calls = %d", resolver.calls)
	}
}

func TestExtractPagesThreadsFragment(t *testing.T) {
	mock := &providers.MockClient{Responses: []string{
		`{
			"questions": [],
			"incomplete_question": {
				"question": "A ball is dropped from a height of 20 m. Calculate",
				"options": []
			}
		}`,
		`{
			"questions": [{
				"question": "A ball is dropped from a height of 20 m. Calculate the time to reach the ground.",
				"type": "integer",
				"correct_value": 2,
				"unit": "s",
				"continues_fragment": true
			}],
			"incomplete_question": null
		}`,
	}}
	p, _ := newPipeline(mock, &fakeResolver{}, &fakeImageStore{}, config.PipelineCfg{RenderScale: 1})

	questions, skipped, err := p.extractPages(context.Background(), testPages(t, 2), nil)
	if err != nil {
		t.Fatalf("extractPages() error: %v", err)
	}
	if len(skipped) != 0 {
		t.Errorf("skipped = %v", skipped)
	}
	if len(questions) != 1 {
		t.Fatalf("questions = %d, want the merged one", len(questions))
	}
	q := questions[0].q
	if q.ContinuedFromPage != 1 {
		t.Errorf("ContinuedFromPage = %d, want 1", q.ContinuedFromPage)
	}
	if !strings.Contains(q.Text, "time to reach the ground") {
		t.Errorf("merged text = %q", q.Text)
	}
}

func TestExtractPagesSkipsUnparseablePage(t *testing.T) {
	mock := &providers.MockClient{Responses: []string{
		`this page confused the model entirely`,
		`{
			"questions": [{"question": "Q2", "type": "paragraph"}],
			"incomplete_question": null
		}`,
	}}
	p, _ := newPipeline(mock, &fakeResolver{}, &fakeImageStore{}, config.PipelineCfg{RenderScale: 1})

	questions, skipped, err := p.extractPages(context.Background(), testPages(t, 2), nil)
	if err != nil {
		t.Fatalf("extractPages() error: %v", err)
	}
	if len(skipped) != 1 || skipped[0] != 1 {
		t.Errorf("skipped = %v, want [1]", skipped)
	}
	if len(questions) != 1 {
		t.Errorf("questions = %d", len(questions))
	}
}

func TestRunIsolatesResolutionFailure(t *testing.T) {
	mock := &providers.MockClient{Response: `{
		"questions": [
			{"question": "Solvable question", "type": "paragraph"},
			{"question": "Unmappable question", "type": "paragraph"}
		],
		"incomplete_question": null
	}`}
	resolver := &fakeResolver{failFor: "Unmappable"}
	p, store := newPipeline(mock, resolver, &fakeImageStore{}, config.PipelineCfg{RenderScale: 1})

	result, err := p.Run(context.Background(), pngDocument(t, 100, 100), RunOptions{})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Questions != 1 {
		t.Errorf("questions = %d, want 1", result.Questions)
	}
	if result.FailedResolution != 1 {
		t.Errorf("failed resolution = %d, want 1", result.FailedResolution)
	}

	// The unresolvable question must not enter the store at all; a stored
	// question with empty taxonomy ids would later be uploaded as-is.
	snap := store.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("store has %d questions, want only the resolvable one", len(snap))
	}
	if snap[0].Status != assemble.StatusPending {
		t.Errorf("status = %s", snap[0].Status)
	}
	if !strings.Contains(snap[0].Payload.Content.Question.Raw, "Solvable") {
		t.Errorf("stored question = %q", snap[0].Payload.Content.Question.Raw)
	}

	api := &fakeAPI{}
	summary, err := NewOrchestrator(store, api, nil).UploadAll(context.Background())
	if err != nil {
		t.Fatalf("UploadAll() error: %v", err)
	}
	if summary.Uploaded != 1 || summary.Failed != 0 {
		t.Errorf("summary = %+v", summary)
	}
	for _, payload := range api.sent {
		if payload.SubjectID == "" || payload.ChapterID == "" {
			t.Errorf("uploaded payload with empty taxonomy: %+v", payload)
		}
	}
}

func TestRunWithDiagramExtraction(t *testing.T) {
	// First model call extracts, second identifies regions.
	mock := &providers.MockClient{Responses: []string{
		`{
			"questions": [{
				"question": "Find the current in the circuit shown.",
				"type": "single_choice",
				"options": [{"label": "A", "text": "1 A", "is_correct": true}]
			}],
			"incomplete_question": null
		}`,
		`{
			"regions": [{
				"page": 1, "x": 10, "y": 10, "width": 50, "height": 40,
				"purpose": "question", "question_index": 0, "alt": "circuit"
			}]
		}`,
	}}
	images := &fakeImageStore{}
	p, store := newPipeline(mock, &fakeResolver{}, images, config.PipelineCfg{
		RenderScale:     1,
		ExtractDiagrams: true,
		MaxCropWorkers:  2,
	})

	_, err := p.Run(context.Background(), pngDocument(t, 200, 300), RunOptions{Folder: "batch1"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(images.uploads) != 1 {
		t.Fatalf("uploads = %v", images.uploads)
	}

	q := store.Snapshot()[0]
	qImages := q.Images[extract.PurposeQuestion]
	if len(qImages) != 1 {
		t.Fatalf("question images = %d", len(qImages))
	}
	if !strings.HasPrefix(qImages[0].URL, "https://cdn.test/batch1/") {
		t.Errorf("url = %q", qImages[0].URL)
	}
	if !strings.Contains(q.Payload.Content.Question.Raw, qImages[0].URL) {
		t.Error("image markdown not injected into question text")
	}
}

func TestRunRecompressesFullPageFallback(t *testing.T) {
	// The region extends past the right edge of the 200px-wide page, so the
	// whole page is substituted and recompressed as JPEG before upload.
	mock := &providers.MockClient{Responses: []string{
		`{
			"questions": [{
				"question": "Identify the apparatus shown.",
				"type": "paragraph"
			}],
			"incomplete_question": null
		}`,
		`{
			"regions": [{
				"page": 1, "x": 150, "y": 10, "width": 100, "height": 40,
				"purpose": "question", "question_index": 0, "alt": "apparatus"
			}]
		}`,
	}}
	images := &fakeImageStore{}
	p, _ := newPipeline(mock, &fakeResolver{}, images, config.PipelineCfg{
		RenderScale:     1,
		ExtractDiagrams: true,
		MaxCropWorkers:  1,
	})

	_, err := p.Run(context.Background(), pngDocument(t, 200, 300), RunOptions{Folder: "batch1"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(images.uploads) != 1 {
		t.Fatalf("uploads = %v", images.uploads)
	}
	if !strings.HasSuffix(images.uploads[0], ".jpg") {
		t.Errorf("filename = %q, want .jpg suffix", images.uploads[0])
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(images.data[0]))
	if err != nil {
		t.Fatalf("decoding uploaded image: %v", err)
	}
	if format != "jpeg" {
		t.Errorf("format = %q, want jpeg", format)
	}
}

func TestRunKeepsDiagramCropsPNG(t *testing.T) {
	mock := &providers.MockClient{Responses: []string{
		`{
			"questions": [{
				"question": "Find the current in the circuit shown.",
				"type": "paragraph"
			}],
			"incomplete_question": null
		}`,
		`{
			"regions": [{
				"page": 1, "x": 10, "y": 10, "width": 50, "height": 40,
				"purpose": "question", "question_index": 0, "alt": "circuit"
			}]
		}`,
	}}
	images := &fakeImageStore{}
	p, _ := newPipeline(mock, &fakeResolver{}, images, config.PipelineCfg{
		RenderScale:     1,
		ExtractDiagrams: true,
		MaxCropWorkers:  1,
	})

	_, err := p.Run(context.Background(), pngDocument(t, 200, 300), RunOptions{Folder: "batch1"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if len(images.uploads) != 1 {
		t.Fatalf("uploads = %v", images.uploads)
	}
	if !strings.HasSuffix(images.uploads[0], ".png") {
		t.Errorf("filename = %q, want .png suffix", images.uploads[0])
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(images.data[0]))
	if err != nil {
		t.Fatalf("decoding uploaded image: %v", err)
	}
	if format != "png" {
		t.Errorf("format = %q, want png", format)
	}
}

func TestRunRejectsUnreadableDocument(t *testing.T) {
	p, _ := newPipeline(providers.NewMockClient(), &fakeResolver{}, &fakeImageStore{}, config.PipelineCfg{RenderScale: 1})
	_, err := p.Run(context.Background(), []byte("not an image"), RunOptions{})
	if err == nil {
		t.Fatal("expected error for unreadable document")
	}
}
