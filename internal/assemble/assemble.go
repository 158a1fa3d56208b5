// Package assemble composes extracted questions, resolved taxonomy
// placements, and uploaded images into backend question payloads, and
// tracks each question's upload lifecycle.
package assemble

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"qingest/internal/backend"
	"qingest/internal/extract"
	"qingest/internal/hierarchy"
	"qingest/internal/regions"
	"qingest/internal/richtext"
)

// Status is the upload state of a processed question.
type Status string

const (
	StatusPending   Status = "pending"
	StatusUploading Status = "uploading"
	StatusSuccess   Status = "success"
	StatusError     Status = "error"
)

// ProcessedImage is a cropped diagram that has been uploaded and is ready
// to embed.
type ProcessedImage struct {
	URL      string
	Filename string
	Region   regions.Region
	// Markdown is the embed snippet injected into question text.
	Markdown string
}

// ProcessedQuestion is a fully assembled question with its upload state.
// BackendID is set once the backend accepts it; ErrorMessage holds the
// last upload failure, cleared when a retry starts.
type ProcessedQuestion struct {
	LocalID      string
	Status       Status
	BackendID    string
	ErrorMessage string
	NeedsReview  bool
	SourcePage   int

	Images  map[extract.ImagePurpose][]ProcessedImage
	Payload backend.QuestionPayload
}

// Options carries settings applied to a question during assembly. Most
// fields are batch-level and shared by every question; SourcePage is set
// per question by the caller to the page it was extracted from.
type Options struct {
	ExamID            string
	PaperID           string
	IsPreviousYear    bool
	SourcePage        int
	DefaultMarks      extract.MarkingScheme
	DefaultDifficulty string
}

// ImageMarkdown builds the embed snippet for an uploaded crop.
func ImageMarkdown(url string, region regions.Region) string {
	alt := region.Alt
	if alt == "" {
		alt = "figure"
	}
	return fmt.Sprintf("![%s](%s)", alt, url)
}

// Assemble builds the backend payload for one extracted question. Images
// are injected strictly by purpose: question images into the question
// text, hint images into the hint, solution images into the solution, and
// option images into the option whose label matches. An image whose slot
// does not exist on the question is dropped rather than guessed into
// another slot.
func Assemble(q *extract.ExtractedQuestion, resolved *hierarchy.Resolved, images map[extract.ImagePurpose][]ProcessedImage, opts Options) *ProcessedQuestion {
	marks := q.Marks.Merge(opts.DefaultMarks).Merge(extract.HardcodedDefaults)

	difficulty := q.Difficulty
	if difficulty == "" {
		difficulty = opts.DefaultDifficulty
	}

	questionRaw := injectImages(q.Text, images[extract.PurposeQuestion])

	pool := make([]backend.AnswerOption, 0, len(q.Options))
	var correctID string
	var correctIDs []string
	for _, opt := range q.Options {
		id := uuid.New().String()
		raw := opt.Text
		for _, img := range images[extract.PurposeOption] {
			if img.Region.OptionLabel == opt.Label {
				raw = injectImages(raw, []ProcessedImage{img})
			}
		}
		pool = append(pool, backend.AnswerOption{ID: id, Content: richtext.Render(raw)})
		if opt.Correct {
			correctID = id
			correctIDs = append(correctIDs, id)
		}
	}

	key := backend.AnswerKey{}
	switch q.Type {
	case extract.SingleChoice:
		key.CorrectOptionID = correctID
	case extract.MultipleChoice:
		key.CorrectOptionIDs = correctIDs
	case extract.Integer:
		key.CorrectValue = q.CorrectValue
		if q.Tolerance != 0 {
			tol := q.Tolerance
			key.Tolerance = &tol
		}
		key.Unit = q.Unit
	}

	content := backend.QuestionContent{Question: richtext.Render(questionRaw)}
	if q.Hint != "" || len(images[extract.PurposeHint]) > 0 {
		hintRaw := injectImages(q.Hint, images[extract.PurposeHint])
		content.Hints = []richtext.Content{richtext.Render(hintRaw)}
	}

	answer := backend.Answer{Pool: pool, Key: key}
	if q.Solution != "" || len(images[extract.PurposeSolution]) > 0 {
		solRaw := injectImages(q.Solution, images[extract.PurposeSolution])
		sol := richtext.Render(solRaw)
		answer.Solution = &sol
	}

	return &ProcessedQuestion{
		LocalID:     uuid.New().String(),
		Status:      StatusPending,
		NeedsReview: q.NeedsReview(),
		SourcePage:  opts.SourcePage,
		Images:      images,
		Payload: backend.QuestionPayload{
			AnswerType:             string(q.Type),
			Difficulty:             difficulty,
			SubjectID:              resolved.SubjectID,
			ChapterID:              resolved.ChapterID,
			TopicID:                resolved.TopicID,
			Content:                content,
			Answer:                 answer,
			PositiveMarks:          marks.PositiveMarks,
			NegativeMarks:          marks.NegativeMarks,
			DurationSeconds:        marks.DurationSeconds,
			Tags:                   q.Tags,
			ExamID:                 opts.ExamID,
			PaperID:                opts.PaperID,
			IsPreviousYearQuestion: opts.IsPreviousYear,
		},
	}
}

// injectImages appends embed snippets after the text, one per line.
func injectImages(text string, images []ProcessedImage) string {
	if len(images) == 0 {
		return text
	}
	var sb strings.Builder
	sb.WriteString(text)
	for _, img := range images {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(img.Markdown)
	}
	return sb.String()
}

// ReplaceImageURL swaps every occurrence of oldURL for newURL across the
// question's raw text fields and regenerates the rendered forms. Raw,
// HTML, and plain text always change together so the three views never
// disagree. Used after a re-crop uploads a replacement image.
func (p *ProcessedQuestion) ReplaceImageURL(oldURL, newURL string) {
	replace := func(c *richtext.Content) {
		if strings.Contains(c.Raw, oldURL) {
			*c = richtext.Render(strings.ReplaceAll(c.Raw, oldURL, newURL))
		}
	}

	replace(&p.Payload.Content.Question)
	for i := range p.Payload.Content.Hints {
		replace(&p.Payload.Content.Hints[i])
	}
	for i := range p.Payload.Answer.Pool {
		replace(&p.Payload.Answer.Pool[i].Content)
	}
	if p.Payload.Answer.Solution != nil {
		replace(p.Payload.Answer.Solution)
	}

	for purpose, imgs := range p.Images {
		for i, img := range imgs {
			if img.URL == oldURL {
				imgs[i].URL = newURL
				imgs[i].Markdown = strings.ReplaceAll(img.Markdown, oldURL, newURL)
			}
		}
		p.Images[purpose] = imgs
	}
}
