package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"qingest/internal/assemble"
	"qingest/internal/backend"
)

// QuestionAPI is the subset of the backend client the orchestrator needs.
type QuestionAPI interface {
	Create(ctx context.Context, payload *backend.QuestionPayload) (*backend.Question, error)
	Update(ctx context.Context, id string, payload *backend.QuestionPayload) (*backend.Question, error)
}

// Orchestrator uploads assembled questions to the backend one at a time,
// tracking per-question status in the store. Uploads are sequential so a
// batch failure is easy to reason about and the backend is never hammered.
type Orchestrator struct {
	store   *Store
	backend QuestionAPI
	logger  *slog.Logger
}

// NewOrchestrator creates an upload orchestrator.
func NewOrchestrator(store *Store, api QuestionAPI, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{store: store, backend: api, logger: logger}
}

// UploadSummary reports the outcome of a bulk upload.
type UploadSummary struct {
	Uploaded int
	Failed   int
	Skipped  int
}

// UploadAll uploads every question that has not already succeeded. One
// question failing never stops its siblings; the failure is recorded on
// that question and the loop moves on.
func (o *Orchestrator) UploadAll(ctx context.Context) (*UploadSummary, error) {
	summary := &UploadSummary{}
	for _, q := range o.store.Snapshot() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if q.Status == assemble.StatusSuccess {
			summary.Skipped++
			continue
		}
		if err := o.upload(ctx, q.LocalID); err != nil {
			summary.Failed++
			continue
		}
		summary.Uploaded++
	}
	o.logger.Info("bulk upload finished",
		"uploaded", summary.Uploaded,
		"failed", summary.Failed,
		"skipped", summary.Skipped)
	return summary, nil
}

// Retry re-uploads a single failed question. Entering the uploading state
// clears the stale error message first, so a question never shows an old
// error alongside an in-flight upload.
func (o *Orchestrator) Retry(ctx context.Context, localID string) error {
	q, ok := o.store.Get(localID)
	if !ok {
		return fmt.Errorf("unknown question %s", localID)
	}
	if q.Status == assemble.StatusSuccess {
		return fmt.Errorf("question %s already uploaded", localID)
	}
	return o.upload(ctx, localID)
}

// RetryFailed re-uploads every question currently in the error state.
func (o *Orchestrator) RetryFailed(ctx context.Context) (*UploadSummary, error) {
	summary := &UploadSummary{}
	for _, q := range o.store.Snapshot() {
		if err := ctx.Err(); err != nil {
			return summary, err
		}
		if q.Status != assemble.StatusError {
			summary.Skipped++
			continue
		}
		if err := o.upload(ctx, q.LocalID); err != nil {
			summary.Failed++
			continue
		}
		summary.Uploaded++
	}
	return summary, nil
}

func (o *Orchestrator) upload(ctx context.Context, localID string) error {
	if err := o.store.Apply(StatusChanged{LocalID: localID, Status: assemble.StatusUploading}); err != nil {
		return err
	}
	q, _ := o.store.Get(localID)

	var (
		stored *backend.Question
		err    error
	)
	if q.BackendID != "" {
		stored, err = o.backend.Update(ctx, q.BackendID, &q.Payload)
	} else {
		stored, err = o.backend.Create(ctx, &q.Payload)
	}
	if err != nil {
		o.logger.Error("question upload failed", "local_id", localID, "error", err)
		if applyErr := o.store.Apply(StatusChanged{
			LocalID:      localID,
			Status:       assemble.StatusError,
			ErrorMessage: err.Error(),
		}); applyErr != nil {
			return applyErr
		}
		return err
	}

	o.logger.Info("question uploaded", "local_id", localID, "backend_id", stored.ID)
	return o.store.Apply(StatusChanged{
		LocalID:   localID,
		Status:    assemble.StatusSuccess,
		BackendID: stored.ID,
	})
}
