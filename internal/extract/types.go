package extract

import "fmt"

// QuestionType classifies how a question is answered.
type QuestionType string

const (
	SingleChoice   QuestionType = "single_choice"
	MultipleChoice QuestionType = "multiple_choice"
	Integer        QuestionType = "integer"
	Paragraph      QuestionType = "paragraph"
)

// ImagePurpose is the semantic slot an image belongs to.
type ImagePurpose string

const (
	PurposeQuestion ImagePurpose = "question"
	PurposeHint     ImagePurpose = "hint"
	PurposeSolution ImagePurpose = "solution"
	PurposeOption   ImagePurpose = "option"
)

// Option is one answer choice of an MCQ.
type Option struct {
	ID      string `json:"id,omitempty"`
	Label   string `json:"label"`
	Text    string `json:"text"`
	Correct bool   `json:"correct"`
}

// ImageRef is a raw image reference emitted by the extractor: either inline
// base64 data or a region descriptor resolved later by the cropper.
type ImageRef struct {
	Purpose     ImagePurpose `json:"purpose"`
	OptionLabel string       `json:"option_label,omitempty"`
	Base64      string       `json:"base64,omitempty"`
	Description string       `json:"description,omitempty"`
}

// MarkingScheme holds positive/negative marks and duration. Zero values mean
// unset; Merge applies fallback precedence.
type MarkingScheme struct {
	PositiveMarks   float64 `json:"positive_marks,omitempty"`
	NegativeMarks   float64 `json:"negative_marks,omitempty"`
	DurationSeconds int     `json:"duration_seconds,omitempty"`
}

// HardcodedDefaults is the last fallback when neither the page nor the
// caller states a marking scheme.
var HardcodedDefaults = MarkingScheme{
	PositiveMarks:   4,
	NegativeMarks:   1,
	DurationSeconds: 120,
}

// Merge fills unset fields of m from fallback, returning the result.
func (m MarkingScheme) Merge(fallback MarkingScheme) MarkingScheme {
	if m.PositiveMarks == 0 {
		m.PositiveMarks = fallback.PositiveMarks
	}
	if m.NegativeMarks == 0 {
		m.NegativeMarks = fallback.NegativeMarks
	}
	if m.DurationSeconds == 0 {
		m.DurationSeconds = fallback.DurationSeconds
	}
	return m
}

// ExtractedQuestion is one structurally complete question extracted from a
// page. Correct-answer marking follows the question type: single choice has
// exactly one correct option, multiple choice one or more, integer a scalar
// CorrectValue. When no answer key was discoverable, nothing is marked and
// NeedsReview reports true.
type ExtractedQuestion struct {
	Text       string        `json:"text"`
	Type       QuestionType  `json:"type"`
	Options    []Option      `json:"options,omitempty"`
	Difficulty string        `json:"difficulty,omitempty"`
	Marks      MarkingScheme `json:"marks"`

	// CorrectValue is set only for integer-type questions.
	CorrectValue *float64 `json:"correct_value,omitempty"`
	Tolerance    float64  `json:"tolerance,omitempty"`
	Unit         string   `json:"unit,omitempty"`

	Hint     string `json:"hint,omitempty"`
	Solution string `json:"solution,omitempty"`

	Images         []ImageRef `json:"images,omitempty"`
	LatexFragments []string   `json:"latex_fragments,omitempty"`
	Tags           []string   `json:"tags,omitempty"`

	// Hierarchy name hints as read off the page; resolved to ids later.
	SubjectHint string `json:"subject_hint,omitempty"`
	ChapterHint string `json:"chapter_hint,omitempty"`
	TopicHint   string `json:"topic_hint,omitempty"`

	// ContinuedFromPage is non-zero when this question merges a fragment
	// carried over from an earlier page.
	ContinuedFromPage int `json:"continued_from_page,omitempty"`
}

// NeedsReview reports whether the question lacks any correct-answer marking
// and must be flagged for manual review.
func (q *ExtractedQuestion) NeedsReview() bool {
	switch q.Type {
	case Integer:
		return q.CorrectValue == nil
	case Paragraph:
		return false
	default:
		for _, opt := range q.Options {
			if opt.Correct {
				return false
			}
		}
		return true
	}
}

// Fragment is a question cut off at a page boundary, carried forward to the
// next page's extraction call. At most one fragment exists between
// consecutive calls.
type Fragment struct {
	Text    string   `json:"text"`
	Options []Option `json:"options,omitempty"`
	// Page is the page number the question was cut off on.
	Page int `json:"page"`
}

// PageResult is the outcome of extracting one page.
type PageResult struct {
	Questions []ExtractedQuestion
	// Incomplete is the at-most-one fragment cut off at the bottom of this
	// page, to be threaded into the next page's extraction.
	Incomplete *Fragment
}

// ParseError indicates a single page's model response contained no
// recoverable JSON. The orchestrating loop skips the page and continues.
type ParseError struct {
	Page int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("page %d: failed to parse extraction response: %v", e.Page, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
