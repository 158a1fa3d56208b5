package extract

import (
	"context"
	"errors"
	"testing"

	"qingest/internal/providers"
	"qingest/internal/raster"
)

func testPage(num int) raster.PageImage {
	return raster.PageImage{Number: num, PNG: []byte("fake-png"), Width: 800, Height: 1100}
}

func TestExtractPageSingleChoice(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Response = `{
		"questions": [{
			"question": "What is 2+2?",
			"type": "single_choice",
			"options": [
				{"label": "1", "text": "3"},
				{"label": "2", "text": "4", "is_correct": true},
				{"label": "3", "text": "5"},
				{"label": "4", "text": "6"}
			]
		}],
		"incomplete_question": null
	}`

	client := NewClient(mock, nil)
	result, err := client.ExtractPage(context.Background(), testPage(1), PageOptions{})
	if err != nil {
		t.Fatalf("ExtractPage failed: %v", err)
	}

	if len(result.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(result.Questions))
	}
	q := result.Questions[0]
	if len(q.Options) != 4 {
		t.Fatalf("expected 4 options, got %d", len(q.Options))
	}
	if !q.Options[1].Correct {
		t.Error("option 2 should be marked correct")
	}
	if q.Options[0].Correct || q.Options[2].Correct || q.Options[3].Correct {
		t.Error("only option 2 should be marked correct")
	}
	if result.Incomplete != nil {
		t.Error("incomplete question should be nil")
	}
	if q.NeedsReview() {
		t.Error("question with marked answer should not need review")
	}
}

func TestExtractPageMarkingPrecedence(t *testing.T) {
	t.Run("page-level marks win", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.Response = `{"questions": [{"question": "Q", "type": "paragraph", "positive_marks": 5, "negative_marks": 2, "duration_seconds": 180}]}`

		client := NewClient(mock, nil)
		result, err := client.ExtractPage(context.Background(), testPage(1), PageOptions{
			Defaults: MarkingScheme{PositiveMarks: 3, NegativeMarks: 1, DurationSeconds: 60},
		})
		if err != nil {
			t.Fatalf("ExtractPage failed: %v", err)
		}
		m := result.Questions[0].Marks
		if m.PositiveMarks != 5 || m.NegativeMarks != 2 || m.DurationSeconds != 180 {
			t.Errorf("page-level marks not honored: %+v", m)
		}
	})

	t.Run("caller defaults fill gaps", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.Response = `{"questions": [{"question": "Q", "type": "paragraph"}]}`

		client := NewClient(mock, nil)
		result, err := client.ExtractPage(context.Background(), testPage(1), PageOptions{
			Defaults: MarkingScheme{PositiveMarks: 3, NegativeMarks: 1, DurationSeconds: 60},
		})
		if err != nil {
			t.Fatalf("ExtractPage failed: %v", err)
		}
		m := result.Questions[0].Marks
		if m.PositiveMarks != 3 || m.DurationSeconds != 60 {
			t.Errorf("caller defaults not applied: %+v", m)
		}
	})

	t.Run("hardcoded defaults as last resort", func(t *testing.T) {
		mock := providers.NewMockClient()
		mock.Response = `{"questions": [{"question": "Q", "type": "paragraph"}]}`

		client := NewClient(mock, nil)
		result, err := client.ExtractPage(context.Background(), testPage(1), PageOptions{})
		if err != nil {
			t.Fatalf("ExtractPage failed: %v", err)
		}
		m := result.Questions[0].Marks
		if m.PositiveMarks != 4 || m.NegativeMarks != 1 || m.DurationSeconds != 120 {
			t.Errorf("hardcoded defaults not applied: %+v", m)
		}
	})
}

func TestExtractPageFragmentCarry(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Response = `{
		"questions": [{
			"question": "Which of the following is a noble gas?",
			"type": "single_choice",
			"options": [{"label": "1", "text": "Helium", "is_correct": true}],
			"continues_fragment": true
		}]
	}`

	client := NewClient(mock, nil)
	carry := &Fragment{Text: "Which of the following", Page: 1}
	result, err := client.ExtractPage(context.Background(), testPage(2), PageOptions{Carry: carry})
	if err != nil {
		t.Fatalf("ExtractPage failed: %v", err)
	}

	if len(result.Questions) != 1 {
		t.Fatalf("expected 1 merged question, got %d", len(result.Questions))
	}
	if result.Questions[0].ContinuedFromPage != 1 {
		t.Errorf("ContinuedFromPage = %d, want 1", result.Questions[0].ContinuedFromPage)
	}
}

func TestExtractPageFragmentNotContinued(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Response = `{"questions": [{"question": "Unrelated question", "type": "paragraph"}]}`

	client := NewClient(mock, nil)
	carry := &Fragment{Text: "Which of the following", Page: 1}
	result, err := client.ExtractPage(context.Background(), testPage(2), PageOptions{Carry: carry})
	if err != nil {
		t.Fatalf("ExtractPage failed: %v", err)
	}

	// No error, and the unrelated question is not marked as a continuation.
	if result.Questions[0].ContinuedFromPage != 0 {
		t.Error("question should not be marked as continuation")
	}
}

func TestExtractPageIncomplete(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Response = `{
		"questions": [],
		"incomplete_question": {"question": "Which of the following...", "options": [{"label": "1", "text": "First"}]}
	}`

	client := NewClient(mock, nil)
	result, err := client.ExtractPage(context.Background(), testPage(1), PageOptions{})
	if err != nil {
		t.Fatalf("ExtractPage failed: %v", err)
	}

	if len(result.Questions) != 0 {
		t.Errorf("expected no complete questions, got %d", len(result.Questions))
	}
	if result.Incomplete == nil {
		t.Fatal("expected an incomplete fragment")
	}
	if result.Incomplete.Page != 1 {
		t.Errorf("fragment page = %d, want 1", result.Incomplete.Page)
	}
}

func TestExtractPageParseError(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Response = `I could not read this page, sorry.`

	client := NewClient(mock, nil)
	_, err := client.ExtractPage(context.Background(), testPage(3), PageOptions{})

	var parseErr *ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if parseErr.Page != 3 {
		t.Errorf("parse error page = %d, want 3", parseErr.Page)
	}
}

func TestExtractPageToleratesProse(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Response = "Here is the extraction:\n```json\n{\"questions\": [{\"question\": \"Q1\", \"type\": \"paragraph\"}]}\n```\nDone."

	client := NewClient(mock, nil)
	result, err := client.ExtractPage(context.Background(), testPage(1), PageOptions{})
	if err != nil {
		t.Fatalf("ExtractPage failed: %v", err)
	}
	if len(result.Questions) != 1 {
		t.Fatalf("expected 1 question, got %d", len(result.Questions))
	}
}

func TestExtractPageNoFabricatedAnswer(t *testing.T) {
	mock := providers.NewMockClient()
	mock.Response = `{
		"questions": [{
			"question": "Pick one",
			"type": "single_choice",
			"options": [{"label": "1", "text": "A"}, {"label": "2", "text": "B"}]
		}]
	}`

	client := NewClient(mock, nil)
	result, err := client.ExtractPage(context.Background(), testPage(1), PageOptions{})
	if err != nil {
		t.Fatalf("ExtractPage failed: %v", err)
	}
	if !result.Questions[0].NeedsReview() {
		t.Error("question without answer key should need review")
	}
}
