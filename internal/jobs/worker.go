package jobs

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/repos"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

type Worker struct {
	db       *gorm.DB
	log      *logger.Logger
	repo     repos.JobRunRepo
	registry *Registry
	sink     EventSink

	PollInterval time.Duration
	StaleRunning time.Duration
}

func NewWorker(db *gorm.DB, baseLog *logger.Logger, repo repos.JobRunRepo, registry *Registry, sink EventSink) *Worker {
	return &Worker{
		db:           db,
		log:          baseLog.With("component", "JobWorker"),
		repo:         repo,
		registry:     registry,
		sink:         sink,
		PollInterval: 1 * time.Second,
		StaleRunning: 2 * time.Minute,
	}
}

func (w *Worker) Start(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(w.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				job, err := w.repo.ClaimNextRunnable(ctx, w.db, w.StaleRunning)
				if err != nil {
					w.log.Warn("ClaimNextRunnable failed", "error", err)
					continue
				}
				if job == nil {
					continue
				}
				w.Dispatch(ctx, job)
			}
		}
	}()
}

// Dispatch runs one claimed job to a terminal status and emits exactly one
// completion event for it.
func (w *Worker) Dispatch(ctx context.Context, job *types.JobRun) {
	jc := NewContext(ctx, w.db, job, w.repo)

	// Abort requested while the job was still queued.
	if job.AbortRequested {
		w.finish(ctx, jc, ErrAborted)
		return
	}

	h, ok := w.registry.Get(job.JobType)
	if !ok {
		w.log.Warn("No handler registered for job_type", "job_type", job.JobType, "job_id", job.ID)
		w.finish(ctx, jc, &missingHandlerError{JobType: job.JobType})
		return
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				w.log.Error("Job handler panic", "job_id", job.ID, "job_type", job.JobType, "panic", r)
				runErr = &panicError{Val: r}
			}
		}()
		runErr = h.Run(jc)
	}()
	w.finish(ctx, jc, runErr)
}

func (w *Worker) finish(ctx context.Context, jc *Context, runErr error) {
	job := jc.Job
	now := time.Now()
	status := types.JobStatusSucceeded
	outcome := OutcomeSucceeded
	errText := ""
	switch {
	case errors.Is(runErr, ErrAborted):
		status = types.JobStatusAborted
		outcome = OutcomeAborted
		errText = runErr.Error()
	case runErr != nil:
		status = types.JobStatusFailed
		outcome = OutcomeFailed
		errText = runErr.Error()
	}

	updates := map[string]interface{}{
		"status":     status,
		"error":      errText,
		"locked_at":  nil,
		"updated_at": now,
	}
	if runErr != nil {
		updates["last_error_at"] = now
	} else {
		updates["progress"] = 100
	}
	if err := w.repo.UpdateFields(ctx, nil, job.ID, updates); err != nil {
		w.log.Error("Failed to persist terminal job status", "job_id", job.ID, "status", status, "error", err)
	}
	job.Status = status
	job.Error = errText

	if w.sink != nil {
		w.sink.HandleCompletion(ctx, CompletionEvent{
			JobID:   job.ID,
			JobType: job.JobType,
			ChainID: job.ChainID,
			Outcome: outcome,
			Error:   errText,
		})
	}
}

type missingHandlerError struct{ JobType string }

func (e *missingHandlerError) Error() string { return "no handler registered for job_type=" + e.JobType }

type panicError struct{ Val any }

func (e *panicError) Error() string { return "panic: unexpected error" }
