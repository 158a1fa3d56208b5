package hierarchy

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"qingest/internal/providers"
)

// Hints are extraction-time guesses about where a question belongs.
type Hints struct {
	Subject string
	Chapter string
	Topic   string
}

// Resolved is a fully resolved taxonomy placement.
type Resolved struct {
	SubjectID   string
	SubjectName string
	ChapterID   string
	ChapterName string
	TopicID     string
	TopicName   string
}

// ResolutionError means a question could not be placed in the taxonomy.
// It fails that question loudly rather than guessing a placement.
type ResolutionError struct {
	Level string
	Err   error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("failed to resolve %s: %v", e.Level, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolver places questions into the taxonomy. Levels resolve
// sequentially: the chosen subject constrains the chapter candidates and
// the chosen chapter constrains the topic candidates.
type Resolver struct {
	client *Client
	vision providers.VisionClient
	model  string
	logger *slog.Logger
}

// NewResolver creates a resolver backed by the hierarchy API and a
// language model for candidate matching.
func NewResolver(client *Client, vision providers.VisionClient, model string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{client: client, vision: vision, model: model, logger: logger}
}

// Resolve maps a question onto subject, chapter, and topic IDs.
//
// Subject is matched by model only when a hint exists; with no hint the
// first subject is used, which covers the common case of a single-subject
// deployment. Chapter is always matched against the full question text
// because chapter names carry most of the signal. Topic is matched only
// when a hint exists, since question text alone rarely disambiguates
// topics within a chapter.
func (r *Resolver) Resolve(ctx context.Context, questionText string, hints Hints) (*Resolved, error) {
	subjects, err := r.client.Subjects(ctx)
	if err != nil {
		return nil, &ResolutionError{Level: "subject", Err: err}
	}
	if len(subjects) == 0 {
		return nil, &ResolutionError{Level: "subject", Err: fmt.Errorf("no subjects defined in backend")}
	}

	subject := subjects[0]
	if hints.Subject != "" {
		names := make([]string, len(subjects))
		for i, s := range subjects {
			names[i] = s.Name
		}
		idx, err := r.match(ctx, "subject", names, hints.Subject, "")
		if err != nil {
			return nil, &ResolutionError{Level: "subject", Err: err}
		}
		subject = subjects[idx]
	}

	chapters, err := r.client.Chapters(ctx, subject.ID)
	if err != nil {
		return nil, &ResolutionError{Level: "chapter", Err: err}
	}
	if len(chapters) == 0 {
		return nil, &ResolutionError{Level: "chapter", Err: fmt.Errorf("subject %q has no chapters", subject.Name)}
	}

	chapterNames := make([]string, len(chapters))
	for i, c := range chapters {
		chapterNames[i] = c.Name
	}
	idx, err := r.match(ctx, "chapter", chapterNames, hints.Chapter, questionText)
	if err != nil {
		return nil, &ResolutionError{Level: "chapter", Err: err}
	}
	chapter := chapters[idx]

	topics, err := r.client.Topics(ctx, chapter.ID)
	if err != nil {
		return nil, &ResolutionError{Level: "topic", Err: err}
	}
	if len(topics) == 0 {
		return nil, &ResolutionError{Level: "topic", Err: fmt.Errorf("chapter %q has no topics", chapter.Name)}
	}

	topic := topics[0]
	if hints.Topic != "" {
		names := make([]string, len(topics))
		for i, t := range topics {
			names[i] = t.Name
		}
		idx, err := r.match(ctx, "topic", names, hints.Topic, "")
		if err != nil {
			return nil, &ResolutionError{Level: "topic", Err: err}
		}
		topic = topics[idx]
	}

	return &Resolved{
		SubjectID:   subject.ID,
		SubjectName: subject.Name,
		ChapterID:   chapter.ID,
		ChapterName: chapter.Name,
		TopicID:     topic.ID,
		TopicName:   topic.Name,
	}, nil
}

// match asks the model to pick one candidate by name and maps the answer
// back to an index. The model is told to answer with the candidate name
// verbatim; matching is a case-insensitive substring check so trailing
// punctuation or quoting in the reply is tolerated. An unrecognized reply
// falls back to the first candidate rather than failing the question.
func (r *Resolver) match(ctx context.Context, level string, candidates []string, hint, questionText string) (int, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pick the single best matching %s from this list:\n", level)
	for _, name := range candidates {
		fmt.Fprintf(&sb, "- %s\n", name)
	}
	if hint != "" {
		fmt.Fprintf(&sb, "\nSuggested %s: %s\n", level, hint)
	}
	if questionText != "" {
		fmt.Fprintf(&sb, "\nQuestion:\n%s\n", questionText)
	}
	sb.WriteString("\nAnswer with exactly one name from the list, nothing else.")

	result, err := r.vision.Generate(ctx, &providers.Request{
		System:      "You classify exam questions into a curriculum taxonomy. Answer with a single name copied verbatim from the given list.",
		Prompt:      sb.String(),
		Model:       r.model,
		Temperature: 0,
		MaxTokens:   64,
	})
	if err != nil {
		return 0, fmt.Errorf("%s match request failed: %w", level, err)
	}

	answer := strings.ToLower(strings.TrimSpace(result.Content))
	for i, name := range candidates {
		if strings.Contains(answer, strings.ToLower(name)) {
			return i, nil
		}
	}

	r.logger.Warn("model reply matched no candidate, using first",
		"level", level,
		"reply", result.Content)
	return 0, nil
}
