// Package hierarchy resolves questions into the backend's
// subject/chapter/topic taxonomy.
package hierarchy

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"
)

// Subject is a top-level taxonomy node.
type Subject struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Chapter belongs to a subject.
type Chapter struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	SubjectID string `json:"subject_id"`
}

// Topic belongs to a chapter.
type Topic struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	ChapterID string `json:"chapter_id"`
}

// Client fetches taxonomy nodes from the backend hierarchy API. Reads are
// retried since they are idempotent; the retry budget is small so a dead
// backend fails the question quickly instead of hanging the batch.
type Client struct {
	baseURL    string
	authToken  string
	httpClient *http.Client
	attempts   uint
}

// NewClient creates a hierarchy API client.
func NewClient(baseURL, authToken string) *Client {
	return &Client{
		baseURL:    baseURL,
		authToken:  authToken,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		attempts:   3,
	}
}

// Subjects lists all subjects.
func (c *Client) Subjects(ctx context.Context) ([]Subject, error) {
	var out []Subject
	if err := c.getJSON(ctx, "/hierarchy/subjects", &out); err != nil {
		return nil, fmt.Errorf("failed to list subjects: %w", err)
	}
	return out, nil
}

// Chapters lists the chapters of a subject.
func (c *Client) Chapters(ctx context.Context, subjectID string) ([]Chapter, error) {
	var out []Chapter
	if err := c.getJSON(ctx, fmt.Sprintf("/hierarchy/subjects/%s/chapters", subjectID), &out); err != nil {
		return nil, fmt.Errorf("failed to list chapters for subject %s: %w", subjectID, err)
	}
	return out, nil
}

// Topics lists the topics of a chapter.
func (c *Client) Topics(ctx context.Context, chapterID string) ([]Topic, error) {
	var out []Topic
	if err := c.getJSON(ctx, fmt.Sprintf("/hierarchy/chapters/%s/topics", chapterID), &out); err != nil {
		return nil, fmt.Errorf("failed to list topics for chapter %s: %w", chapterID, err)
	}
	return out, nil
}

func (c *Client) getJSON(ctx context.Context, path string, dest interface{}) error {
	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			if c.authToken != "" {
				req.Header.Set("Authorization", "Bearer "+c.authToken)
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return err
			}
			if resp.StatusCode != http.StatusOK {
				err := fmt.Errorf("GET %s returned status %d: %s", path, resp.StatusCode, string(body))
				if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
					return retry.Unrecoverable(err)
				}
				return err
			}
			return json.Unmarshal(body, dest)
		},
		retry.Attempts(c.attempts),
		retry.Delay(500*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
}
