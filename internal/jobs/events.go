package jobs

import (
	"context"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeFailed    Outcome = "failed"
	OutcomeAborted   Outcome = "aborted"
)

// CompletionEvent is emitted once a job run reaches a terminal status.
// Delivery is at-least-once; consumers dedupe by JobID.
type CompletionEvent struct {
	JobID   uuid.UUID
	JobType string
	ChainID uuid.UUID
	Outcome Outcome
	Error   string
}

// EventSink receives completion events from the worker.
type EventSink interface {
	HandleCompletion(ctx context.Context, evt CompletionEvent)
}
