// Package extract sends page images to a vision model and parses the
// structured question JSON it returns, threading incomplete-question
// fragments across consecutive pages.
package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"qingest/internal/latex"
	"qingest/internal/providers"
	"qingest/internal/raster"
)

// PageOptions configures one page-extraction call.
type PageOptions struct {
	WithHints     bool
	WithSolutions bool
	// SolutionPage is the paired page from a separately supplied solution
	// document, when one exists.
	SolutionPage *raster.PageImage
	// Carry is the prior page's incomplete fragment, if any.
	Carry *Fragment
	// Defaults are caller-supplied marking-scheme values, applied when the
	// page does not state its own.
	Defaults MarkingScheme
}

// Client extracts questions from page images via a vision model.
type Client struct {
	vision providers.VisionClient
	logger *slog.Logger
}

// NewClient creates an extraction client around a vision provider.
func NewClient(vision providers.VisionClient, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{vision: vision, logger: logger}
}

// ExtractPage extracts all questions from one page. Parse failures return a
// *ParseError so the orchestrating loop can skip the page and continue.
func (c *Client) ExtractPage(ctx context.Context, page raster.PageImage, opts PageOptions) (*PageResult, error) {
	images := [][]byte{page.PNG}
	if opts.SolutionPage != nil {
		images = append(images, opts.SolutionPage.PNG)
	}

	result, err := c.vision.Generate(ctx, &providers.Request{
		System: systemPrompt,
		Prompt: buildPrompt(page.Number, opts),
		Images: images,
		Schema: responseSchema,
	})
	if err != nil {
		return nil, fmt.Errorf("page %d: extraction call failed: %w", page.Number, err)
	}

	raw, err := providers.ExtractJSONObject(result.Content)
	if err != nil {
		return nil, &ParseError{Page: page.Number, Err: err}
	}
	if err := providers.ValidateJSON(responseSchema, raw); err != nil {
		c.logger.Warn("extraction output failed schema validation, parsing anyway",
			"page", page.Number, "error", err)
	}

	var wire wireResponse
	if err := json.Unmarshal(raw, &wire); err != nil {
		return nil, &ParseError{Page: page.Number, Err: err}
	}

	return c.convert(page.Number, &wire, opts), nil
}

// convert turns the wire response into typed questions, applying the
// marking-scheme precedence (page -> caller defaults -> hardcoded) and
// normalizing LaTeX delimiters on every text field.
func (c *Client) convert(pageNum int, wire *wireResponse, opts PageOptions) *PageResult {
	fallback := opts.Defaults.Merge(HardcodedDefaults)

	out := &PageResult{}
	for _, wq := range wire.Questions {
		q := ExtractedQuestion{
			Text:        latex.Normalize(wq.Question),
			Type:        QuestionType(wq.Type),
			Difficulty:  deref(wq.Difficulty),
			Hint:        latex.Normalize(deref(wq.Hint)),
			Solution:    latex.Normalize(deref(wq.Solution)),
			Tags:        wq.Tags,
			SubjectHint: deref(wq.Subject),
			ChapterHint: deref(wq.Chapter),
			TopicHint:   deref(wq.Topic),
		}

		pageMarks := MarkingScheme{
			PositiveMarks: derefF(wq.PositiveMarks),
			NegativeMarks: derefF(wq.NegativeMarks),
		}
		if wq.DurationSeconds != nil {
			pageMarks.DurationSeconds = int(*wq.DurationSeconds)
		}
		q.Marks = pageMarks.Merge(fallback)

		for _, wo := range wq.Options {
			q.Options = append(q.Options, Option{
				Label:   wo.Label,
				Text:    latex.Normalize(wo.Text),
				Correct: wo.IsCorrect,
			})
		}

		// Exactly one answer representation is authoritative per type.
		switch q.Type {
		case Integer:
			q.CorrectValue = wq.CorrectValue
			q.Unit = deref(wq.Unit)
			for i := range q.Options {
				q.Options[i].Correct = false
			}
		case SingleChoice:
			// Keep only the first marked option; the model occasionally
			// marks several on noisy answer keys.
			seen := false
			for i := range q.Options {
				if q.Options[i].Correct {
					if seen {
						q.Options[i].Correct = false
					}
					seen = true
				}
			}
			q.CorrectValue = nil
		default:
			q.CorrectValue = nil
		}

		for _, wi := range wq.Images {
			q.Images = append(q.Images, ImageRef{
				Purpose:     ImagePurpose(wi.Purpose),
				OptionLabel: deref(wi.OptionLabel),
				Description: deref(wi.Description),
			})
		}

		if wq.ContinuesFragment && opts.Carry != nil {
			q.ContinuedFromPage = opts.Carry.Page
		}

		out.Questions = append(out.Questions, q)
	}

	if wire.Incomplete != nil && wire.Incomplete.Question != "" {
		frag := &Fragment{
			Text: latex.Normalize(wire.Incomplete.Question),
			Page: pageNum,
		}
		for _, wo := range wire.Incomplete.Options {
			frag.Options = append(frag.Options, Option{
				Label: wo.Label,
				Text:  latex.Normalize(wo.Text),
			})
		}
		out.Incomplete = frag
	}

	return out
}

// Wire types mirror the model's JSON output.

type wireResponse struct {
	Questions  []wireQuestion  `json:"questions"`
	Incomplete *wireIncomplete `json:"incomplete_question"`
}

type wireQuestion struct {
	Question          string       `json:"question"`
	Type              string       `json:"type"`
	Options           []wireOption `json:"options"`
	CorrectValue      *float64     `json:"correct_value"`
	Unit              *string      `json:"unit"`
	Difficulty        *string      `json:"difficulty"`
	PositiveMarks     *float64     `json:"positive_marks"`
	NegativeMarks     *float64     `json:"negative_marks"`
	DurationSeconds   *float64     `json:"duration_seconds"`
	Hint              *string      `json:"hint"`
	Solution          *string      `json:"solution"`
	Tags              []string     `json:"tags"`
	Subject           *string      `json:"subject"`
	Chapter           *string      `json:"chapter"`
	Topic             *string      `json:"topic"`
	Images            []wireImage  `json:"images"`
	ContinuesFragment bool         `json:"continues_fragment"`
}

type wireOption struct {
	Label     string `json:"label"`
	Text      string `json:"text"`
	IsCorrect bool   `json:"is_correct"`
}

type wireImage struct {
	Purpose     string  `json:"purpose"`
	OptionLabel *string `json:"option_label"`
	Description *string `json:"description"`
}

type wireIncomplete struct {
	Question string       `json:"question"`
	Options  []wireOption `json:"options"`
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefF(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
