// Package backend is the client for the question management API that
// ingested questions are uploaded to.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"qingest/internal/richtext"
)

// QuestionContent holds the displayed parts of a question.
type QuestionContent struct {
	Question richtext.Content   `json:"question"`
	Hints    []richtext.Content `json:"hints,omitempty"`
}

// AnswerOption is one entry in a choice pool.
type AnswerOption struct {
	ID      string           `json:"id"`
	Content richtext.Content `json:"content"`
}

// AnswerKey identifies the correct answer. Exactly one representation is
// populated depending on answer_type.
type AnswerKey struct {
	CorrectOptionID  string   `json:"correct_option_id,omitempty"`
	CorrectOptionIDs []string `json:"correct_option_ids,omitempty"`
	CorrectValue     *float64 `json:"correct_value,omitempty"`
	Tolerance        *float64 `json:"tolerance,omitempty"`
	Unit             string   `json:"unit,omitempty"`
}

// Answer bundles the option pool, key, and worked solution.
type Answer struct {
	Pool     []AnswerOption    `json:"pool,omitempty"`
	Key      AnswerKey         `json:"key"`
	Solution *richtext.Content `json:"solution,omitempty"`
}

// QuestionPayload is the full create/update body for a question.
type QuestionPayload struct {
	AnswerType             string          `json:"answer_type"`
	Difficulty             string          `json:"difficulty,omitempty"`
	SubjectID              string          `json:"subject_id"`
	ChapterID              string          `json:"chapter_id"`
	TopicID                string          `json:"topic_id"`
	Content                QuestionContent `json:"content"`
	Answer                 Answer          `json:"answer"`
	PositiveMarks          float64         `json:"positive_marks"`
	NegativeMarks          float64         `json:"negative_marks"`
	DurationSeconds        int             `json:"duration_seconds"`
	Tags                   []string        `json:"tags,omitempty"`
	ExamID                 string          `json:"exam_id,omitempty"`
	PaperID                string          `json:"paper_id,omitempty"`
	IsPreviousYearQuestion bool            `json:"is_previous_year_question"`
}

// Question is a stored question as returned by the API.
type Question struct {
	ID string `json:"id"`
	QuestionPayload
}

// SearchRequest filters stored questions.
type SearchRequest struct {
	Query     string   `json:"query,omitempty"`
	SubjectID string   `json:"subject_id,omitempty"`
	ChapterID string   `json:"chapter_id,omitempty"`
	TopicID   string   `json:"topic_id,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	Limit     int      `json:"limit,omitempty"`
	Offset    int      `json:"offset,omitempty"`
}

// SearchResponse is a page of search results.
type SearchResponse struct {
	Questions []Question `json:"questions"`
	Total     int        `json:"total"`
}

// APIError is a non-2xx response from the question API. Writes are not
// retried automatically; the orchestrator exposes retry as an explicit
// per-question action instead.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("question API returned status %d: %s", e.StatusCode, e.Body)
}

// Client talks to the question management API.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
}

// NewClient creates a question API client.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
}

// Create uploads a new question and returns its backend ID.
func (c *Client) Create(ctx context.Context, payload *QuestionPayload) (*Question, error) {
	var out Question
	if err := c.do(ctx, http.MethodPost, "/questions", payload, &out); err != nil {
		return nil, fmt.Errorf("failed to create question: %w", err)
	}
	return &out, nil
}

// Update replaces a stored question.
func (c *Client) Update(ctx context.Context, id string, payload *QuestionPayload) (*Question, error) {
	var out Question
	if err := c.do(ctx, http.MethodPut, "/questions/"+id, payload, &out); err != nil {
		return nil, fmt.Errorf("failed to update question %s: %w", id, err)
	}
	return &out, nil
}

// Get fetches a stored question by ID.
func (c *Client) Get(ctx context.Context, id string) (*Question, error) {
	var out Question
	if err := c.do(ctx, http.MethodGet, "/questions/"+id, nil, &out); err != nil {
		return nil, fmt.Errorf("failed to get question %s: %w", id, err)
	}
	return &out, nil
}

// Search queries stored questions.
func (c *Client) Search(ctx context.Context, req *SearchRequest) (*SearchResponse, error) {
	var out SearchResponse
	if err := c.do(ctx, http.MethodPost, "/questions/search", req, &out); err != nil {
		return nil, fmt.Errorf("failed to search questions: %w", err)
	}
	return &out, nil
}

// Delete removes a stored question.
func (c *Client) Delete(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, "/questions/"+id, nil, nil); err != nil {
		return fmt.Errorf("failed to delete question %s: %w", id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &APIError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
