// Package pipeline orchestrates the full ingestion flow: rasterize,
// extract, crop, upload images, resolve taxonomy, assemble, and upload
// questions with per-question status tracking.
package pipeline

import (
	"fmt"
	"sync"

	"qingest/internal/assemble"
)

// Event is a state transition applied to the Store. State is held only as
// the fold of applied events, so every mutation goes through Apply and is
// visible in the event log.
type Event interface {
	eventName() string
}

// QuestionExtracted adds a newly assembled question in pending state.
type QuestionExtracted struct {
	Question *assemble.ProcessedQuestion
}

func (QuestionExtracted) eventName() string { return "question_extracted" }

// StatusChanged moves a question through the upload lifecycle. Entering
// uploading clears any stale error message; success is terminal.
type StatusChanged struct {
	LocalID      string
	Status       assemble.Status
	BackendID    string
	ErrorMessage string
}

func (StatusChanged) eventName() string { return "status_changed" }

// QuestionRemoved drops a question from the batch.
type QuestionRemoved struct {
	LocalID string
}

func (QuestionRemoved) eventName() string { return "question_removed" }

// URLReplaced swaps an image URL across a question's content after a
// re-crop.
type URLReplaced struct {
	LocalID string
	OldURL  string
	NewURL  string
}

func (URLReplaced) eventName() string { return "url_replaced" }

// Store holds batch state as a fold over events. Questions are always
// addressed by LocalID, never by position, so removals cannot shift which
// question an operation targets.
type Store struct {
	mu     sync.RWMutex
	order  []string
	byID   map[string]*assemble.ProcessedQuestion
	events []Event
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{byID: make(map[string]*assemble.ProcessedQuestion)}
}

// Apply folds an event into the state. Invalid transitions are rejected
// without mutating anything.
func (s *Store) Apply(event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e := event.(type) {
	case QuestionExtracted:
		if e.Question == nil || e.Question.LocalID == "" {
			return fmt.Errorf("question_extracted event missing question")
		}
		if _, ok := s.byID[e.Question.LocalID]; ok {
			return fmt.Errorf("question %s already exists", e.Question.LocalID)
		}
		s.byID[e.Question.LocalID] = e.Question
		s.order = append(s.order, e.Question.LocalID)

	case StatusChanged:
		q, ok := s.byID[e.LocalID]
		if !ok {
			return fmt.Errorf("unknown question %s", e.LocalID)
		}
		if q.Status == assemble.StatusSuccess {
			return fmt.Errorf("question %s already uploaded, status is terminal", e.LocalID)
		}
		q.Status = e.Status
		if e.Status == assemble.StatusUploading {
			q.ErrorMessage = ""
		}
		if e.BackendID != "" {
			q.BackendID = e.BackendID
		}
		if e.ErrorMessage != "" {
			q.ErrorMessage = e.ErrorMessage
		}

	case QuestionRemoved:
		if _, ok := s.byID[e.LocalID]; !ok {
			return fmt.Errorf("unknown question %s", e.LocalID)
		}
		delete(s.byID, e.LocalID)
		for i, id := range s.order {
			if id == e.LocalID {
				s.order = append(s.order[:i], s.order[i+1:]...)
				break
			}
		}

	case URLReplaced:
		q, ok := s.byID[e.LocalID]
		if !ok {
			return fmt.Errorf("unknown question %s", e.LocalID)
		}
		q.ReplaceImageURL(e.OldURL, e.NewURL)

	default:
		return fmt.Errorf("unknown event type %T", event)
	}

	s.events = append(s.events, event)
	return nil
}

// Get returns the question with the given LocalID.
func (s *Store) Get(localID string) (*assemble.ProcessedQuestion, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.byID[localID]
	return q, ok
}

// Snapshot returns the questions in extraction order. Callers mutate
// state only through Apply, never through the returned pointers.
func (s *Store) Snapshot() []*assemble.ProcessedQuestion {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*assemble.ProcessedQuestion, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	return out
}

// Events returns the applied event log.
func (s *Store) Events() []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// Counts summarizes batch progress by status.
func (s *Store) Counts() map[assemble.Status]int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[assemble.Status]int)
	for _, q := range s.byID {
		counts[q.Status]++
	}
	return counts
}
