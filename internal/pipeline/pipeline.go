package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"qingest/internal/assemble"
	"qingest/internal/config"
	"qingest/internal/extract"
	"qingest/internal/hierarchy"
	"qingest/internal/raster"
	"qingest/internal/regions"
	"qingest/internal/storage"
)

// ImageStore uploads crop images. Satisfied by *storage.Uploader.
type ImageStore interface {
	Upload(ctx context.Context, data []byte, folder, filename string) (*storage.StoredObject, error)
}

// TaxonomyResolver places a question in the subject hierarchy. Satisfied
// by *hierarchy.Resolver.
type TaxonomyResolver interface {
	Resolve(ctx context.Context, questionText string, hints hierarchy.Hints) (*hierarchy.Resolved, error)
}

// RunOptions are per-batch settings.
type RunOptions struct {
	// Solutions is an optional separate solutions document, rasterized and
	// offered to extraction page by page.
	Solutions      []byte
	ExamID         string
	PaperID        string
	IsPreviousYear bool
	// Folder is the object-store prefix for this batch's images.
	Folder string
}

// RunResult summarizes a pipeline run. FailedResolution counts questions
// dropped because taxonomy resolution failed; those never enter the store.
type RunResult struct {
	Pages            int
	Questions        int
	SkippedPages     []int
	NeedsReview      int
	FailedResolution int
}

// Pipeline executes the ingestion flow against a store.
type Pipeline struct {
	cfg       config.PipelineCfg
	defaults  config.DefaultsCfg
	extractor *extract.Client
	identify  *regions.Identifier
	images    ImageStore
	resolver  TaxonomyResolver
	store     *Store
	logger    *slog.Logger
}

// New creates a pipeline. identify may be nil when diagram extraction is
// disabled in config.
func New(cfg config.PipelineCfg, defaults config.DefaultsCfg, extractor *extract.Client, identify *regions.Identifier, images ImageStore, resolver TaxonomyResolver, store *Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:       cfg,
		defaults:  defaults,
		extractor: extractor,
		identify:  identify,
		images:    images,
		resolver:  resolver,
		store:     store,
		logger:    logger,
	}
}

// pageQuestion keys a question by its source page and position on that
// page, which is how the region identifier refers to questions.
type pageQuestion struct {
	page  int
	index int
	q     extract.ExtractedQuestion
}

type cropKey struct {
	page  int
	index int
}

// Upload size bounds. Full-page fallback images are whole page renders and
// get recompressed as JPEG; diagram crops stay PNG and are downscaled only
// past cropMaxDim.
const (
	fallbackPageMaxDim = 1600
	cropMaxDim         = 2000
)

// Run ingests one document into the store. Pages that fail extraction are
// skipped and questions that fail taxonomy resolution are dropped; both are
// counted on the result and the rest of the batch continues.
func (p *Pipeline) Run(ctx context.Context, document []byte, opts RunOptions) (*RunResult, error) {
	pages, err := raster.Rasterize(ctx, document, p.cfg.RenderScale)
	if err != nil {
		return nil, fmt.Errorf("failed to rasterize document: %w", err)
	}
	p.logger.Info("document rasterized", "pages", len(pages))

	var solutionPages []raster.PageImage
	if len(opts.Solutions) > 0 {
		solutionPages, err = raster.Rasterize(ctx, opts.Solutions, p.cfg.RenderScale)
		if err != nil {
			return nil, fmt.Errorf("failed to rasterize solutions document: %w", err)
		}
	}

	questions, skipped, err := p.extractPages(ctx, pages, solutionPages)
	if err != nil {
		return nil, err
	}

	imagesByQuestion := make(map[cropKey]map[extract.ImagePurpose][]assemble.ProcessedImage)
	if p.cfg.ExtractDiagrams && p.identify != nil {
		imagesByQuestion = p.cropAndUpload(ctx, pages, opts.Folder)
	}

	result := &RunResult{Pages: len(pages), SkippedPages: skipped}
	for _, pq := range questions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		processed, err := p.assembleOne(ctx, pq, imagesByQuestion[cropKey{pq.page, pq.index}], opts)
		if err != nil {
			result.FailedResolution++
			continue
		}
		if err := p.store.Apply(QuestionExtracted{Question: processed}); err != nil {
			return nil, err
		}
		result.Questions++
		if processed.NeedsReview {
			result.NeedsReview++
		}
	}
	return result, nil
}

// extractPages walks pages in order, threading the at-most-one incomplete
// fragment from each page into the next call. Extraction is sequential on
// purpose: a fragment cannot be merged until the page that completes it
// has been read.
func (p *Pipeline) extractPages(ctx context.Context, pages, solutionPages []raster.PageImage) ([]pageQuestion, []int, error) {
	var questions []pageQuestion
	var skipped []int
	var carry *extract.Fragment

	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}

		pageOpts := extract.PageOptions{
			WithHints:     p.cfg.RequestHints,
			WithSolutions: p.cfg.RequestSolution,
			Carry:         carry,
			Defaults: extract.MarkingScheme{
				PositiveMarks:   p.defaults.PositiveMarks,
				NegativeMarks:   p.defaults.NegativeMarks,
				DurationSeconds: p.defaults.DurationSeconds,
			},
		}
		if i < len(solutionPages) {
			pageOpts.SolutionPage = &solutionPages[i]
		}

		res, err := p.extractor.ExtractPage(ctx, page, pageOpts)
		if err != nil {
			var parseErr *extract.ParseError
			if errors.As(err, &parseErr) {
				p.logger.Warn("skipping unparseable page", "page", page.Number, "error", err)
				skipped = append(skipped, page.Number)
				continue
			}
			return nil, nil, fmt.Errorf("failed to extract page %d: %w", page.Number, err)
		}

		for idx, q := range res.Questions {
			questions = append(questions, pageQuestion{page: page.Number, index: idx, q: q})
		}
		carry = res.Incomplete
	}

	// A fragment left over after the last page is never silently merged or
	// promoted to a question; it goes to manual review.
	if carry != nil {
		p.logger.Warn("document ended with an incomplete question, flagging for manual review",
			"page", carry.Page,
			"text", carry.Text)
	}
	return questions, skipped, nil
}

// cropAndUpload identifies diagram regions, crops them, and uploads the
// crops with bounded concurrency. A failed identification or upload costs
// only the affected images, never the batch.
func (p *Pipeline) cropAndUpload(ctx context.Context, pages []raster.PageImage, folder string) map[cropKey]map[extract.ImagePurpose][]assemble.ProcessedImage {
	out := make(map[cropKey]map[extract.ImagePurpose][]assemble.ProcessedImage)

	found, err := p.identify.Identify(ctx, pages)
	if err != nil {
		p.logger.Error("diagram identification failed, continuing without images", "error", err)
		return out
	}
	crops := regions.Crop(pages, found, p.logger)
	if len(crops) == 0 {
		return out
	}

	workers := p.cfg.MaxCropWorkers
	if workers < 1 {
		workers = 1
	}
	sem := make(chan struct{}, workers)
	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, crop := range crops {
		wg.Add(1)
		sem <- struct{}{}
		go func(crop regions.CropResult) {
			defer wg.Done()
			defer func() { <-sem }()

			data, filename := p.optimizeCrop(crop)
			obj, err := p.images.Upload(ctx, data, folder, filename)
			if err != nil {
				p.logger.Error("crop upload failed, question will be assembled without this image",
					"filename", filename,
					"page", crop.Region.Page,
					"error", err)
				return
			}

			img := assemble.ProcessedImage{
				URL:      obj.URL,
				Filename: filename,
				Region:   crop.Region,
				Markdown: assemble.ImageMarkdown(obj.URL, crop.Region),
			}
			key := cropKey{crop.Region.Page, crop.Region.QuestionIndex}
			mu.Lock()
			if out[key] == nil {
				out[key] = make(map[extract.ImagePurpose][]assemble.ProcessedImage)
			}
			out[key][crop.Region.Purpose] = append(out[key][crop.Region.Purpose], img)
			mu.Unlock()
		}(crop)
	}
	wg.Wait()
	return out
}

// optimizeCrop bounds a crop's pixel size before upload. Full-page
// fallbacks are whole page renders and get recompressed as JPEG; real
// diagram crops keep their PNG encoding. When optimization fails the
// original bytes are uploaded unchanged.
func (p *Pipeline) optimizeCrop(crop regions.CropResult) ([]byte, string) {
	if crop.FullPageFallback {
		data, err := storage.Optimize(crop.PNG, fallbackPageMaxDim)
		if err != nil {
			p.logger.Warn("failed to optimize full-page image, uploading original",
				"filename", crop.Filename, "error", err)
			return crop.PNG, crop.Filename
		}
		return data, strings.TrimSuffix(crop.Filename, ".png") + ".jpg"
	}

	data, err := storage.OptimizeLossless(crop.PNG, cropMaxDim)
	if err != nil {
		p.logger.Warn("failed to downscale crop, uploading original",
			"filename", crop.Filename, "error", err)
		return crop.PNG, crop.Filename
	}
	return data, crop.Filename
}

// assembleOne resolves taxonomy and builds the payload for a single
// question. A question that cannot be placed in the hierarchy is returned
// as an error; it stays out of the store entirely, so later upload passes
// never see a payload with empty taxonomy ids.
func (p *Pipeline) assembleOne(ctx context.Context, pq pageQuestion, images map[extract.ImagePurpose][]assemble.ProcessedImage, opts RunOptions) (*assemble.ProcessedQuestion, error) {
	resolved, err := p.resolver.Resolve(ctx, pq.q.Text, hierarchy.Hints{
		Subject: pq.q.SubjectHint,
		Chapter: pq.q.ChapterHint,
		Topic:   pq.q.TopicHint,
	})
	if err != nil {
		p.logger.Error("taxonomy resolution failed, dropping question", "page", pq.page, "error", err)
		return nil, fmt.Errorf("failed to resolve taxonomy for question on page %d: %w", pq.page, err)
	}

	assembleOpts := assemble.Options{
		ExamID:         opts.ExamID,
		PaperID:        opts.PaperID,
		IsPreviousYear: opts.IsPreviousYear,
		SourcePage:     pq.page,
		DefaultMarks: extract.MarkingScheme{
			PositiveMarks:   p.defaults.PositiveMarks,
			NegativeMarks:   p.defaults.NegativeMarks,
			DurationSeconds: p.defaults.DurationSeconds,
		},
		DefaultDifficulty: p.defaults.Difficulty,
	}
	return assemble.Assemble(&pq.q, resolved, images, assembleOpts), nil
}
