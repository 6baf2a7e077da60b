package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/jobs"
	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/repos"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// EventRouter consumes job completion events and drives the product and run
// state machines. Events arrive at-least-once; each job row carries a routed
// flag flipped by compare-and-swap, so only one router instance ever applies
// a given event. The conditional state transitions behind it make a stray
// replay a no-op either way.
type EventRouter struct {
	db       *gorm.DB
	log      *logger.Logger
	products repos.ProductRepo
	jobRuns  repos.JobRunRepo
	run      *RunService
	ingest   IngestClient
}

func NewEventRouter(db *gorm.DB, baseLog *logger.Logger, products repos.ProductRepo, jobRuns repos.JobRunRepo, run *RunService, ingest IngestClient) *EventRouter {
	return &EventRouter{
		db:       db,
		log:      baseLog.With("service", "EventRouter"),
		products: products,
		jobRuns:  jobRuns,
		run:      run,
		ingest:   ingest,
	}
}

func (r *EventRouter) HandleCompletion(ctx context.Context, evt jobs.CompletionEvent) {
	if evt.JobID == uuid.Nil {
		return
	}
	won, err := r.jobRuns.MarkRouted(ctx, nil, evt.JobID)
	if err != nil {
		r.log.Error("Failed to claim completion event", "job_id", evt.JobID, "error", err)
		return
	}
	if !won {
		r.log.Debug("Dropping duplicate completion event", "job_id", evt.JobID)
		return
	}

	switch evt.JobType {
	case types.JobTypeSIPGeneration:
		r.handleGeneration(ctx, evt)
	case types.JobTypeProductAcquisition:
		r.handleAcquisition(ctx, evt)
	case types.JobTypeProductDeletion:
		if evt.Outcome == jobs.OutcomeFailed {
			r.log.Error("Product deletion job failed", "job_id", evt.JobID, "chain_id", evt.ChainID, "error", evt.Error)
		}
	default:
		// Unknown job kinds must not break routing.
		r.log.Debug("Ignoring unknown job kind", "job_type", evt.JobType, "job_id", evt.JobID)
	}
}

func (r *EventRouter) handleAcquisition(ctx context.Context, evt jobs.CompletionEvent) {
	switch evt.Outcome {
	case jobs.OutcomeSucceeded:
		r.run.FinishChainRun(ctx, evt.ChainID, "")
	case jobs.OutcomeFailed:
		r.run.FinishChainRun(ctx, evt.ChainID, evt.Error)
	case jobs.OutcomeAborted:
		// An operator stop, not an error: release the lock without blocking
		// future starts.
		r.run.FinishChainRun(ctx, evt.ChainID, "")
	}
}

func (r *EventRouter) handleGeneration(ctx context.Context, evt jobs.CompletionEvent) {
	productID, ok := r.productIDForJob(ctx, evt.JobID)
	if !ok {
		r.log.Warn("Generation event without resolvable product", "job_id", evt.JobID)
		return
	}

	switch evt.Outcome {
	case jobs.OutcomeSucceeded:
		r.submitProduct(ctx, productID)
	case jobs.OutcomeFailed:
		changed, err := r.products.TransitSIPState(ctx, nil, productID, []string{types.SIPStateScheduled}, types.SIPStateGenerationError, map[string]interface{}{
			"error": evt.Error,
		})
		if err != nil {
			r.log.Error("Failed to record generation error", "product_id", productID, "error", err)
		} else if changed {
			r.log.Warn("SIP generation failed", "product_id", productID, "cause", evt.Error)
		}
	case jobs.OutcomeAborted:
		// Interrupted, not broken: eligible for automatic restart.
		if _, err := r.products.TransitSIPState(ctx, nil, productID, []string{types.SIPStateScheduled}, types.SIPStateScheduledInterrupted, nil); err != nil {
			r.log.Error("Failed to mark product interrupted", "product_id", productID, "error", err)
		}
	}
}

// submitProduct hands a freshly generated package to the ingestion boundary
// and advances the product to submitted.
func (r *EventRouter) submitProduct(ctx context.Context, productID uuid.UUID) {
	loaded, err := r.products.GetByIDs(ctx, nil, []uuid.UUID{productID})
	if err != nil || len(loaded) == 0 {
		r.log.Error("Failed to load product for submission", "product_id", productID, "error", err)
		return
	}
	product := loaded[0]
	if product.SIPState != types.SIPStateScheduled && product.SIPState != types.SIPStateGenerationError {
		// Already routed (duplicate delivery) or moved on.
		return
	}

	ingestID, err := r.ingest.Submit(ctx, product.SIP)
	if err != nil {
		if _, tErr := r.products.TransitSIPState(ctx, nil, productID, []string{product.SIPState}, types.SIPStateGenerationError, map[string]interface{}{
			"error": err.Error(),
		}); tErr != nil {
			r.log.Error("Failed to record submission error", "product_id", productID, "error", tErr)
		}
		return
	}

	if _, err := r.products.TransitSIPState(ctx, nil, productID, []string{product.SIPState}, types.SIPStateSubmitted, map[string]interface{}{
		"ingest_id": ingestID,
		"error":     "",
	}); err != nil {
		r.log.Error("Failed to mark product submitted", "product_id", productID, "error", err)
	}
}

// HandleIngestResult finalizes the submission state once the downstream
// system reports the package's fate.
func (r *EventRouter) HandleIngestResult(ctx context.Context, res IngestResult) {
	if res.PackageID == "" {
		return
	}
	product, err := r.products.GetByIngestID(ctx, nil, res.PackageID)
	if err != nil {
		r.log.Error("Failed to resolve ingest result", "package_id", res.PackageID, "error", err)
		return
	}
	if product == nil {
		r.log.Warn("Ingest result for unknown package", "package_id", res.PackageID)
		return
	}

	switch res.Outcome {
	case IngestOutcomeIngested:
		if _, err := r.products.TransitSIPState(ctx, nil, product.ID, []string{types.SIPStateSubmitted}, types.SIPStateIngested, nil); err != nil {
			r.log.Error("Failed to mark product ingested", "product_id", product.ID, "error", err)
		}
	case IngestOutcomeFailed:
		if _, err := r.products.TransitSIPState(ctx, nil, product.ID, []string{types.SIPStateSubmitted}, types.SIPStateIngestionFailed, map[string]interface{}{
			"error": res.Error,
		}); err != nil {
			r.log.Error("Failed to mark product ingestion_failed", "product_id", product.ID, "error", err)
		}
	case IngestOutcomeDeleted:
		// Downstream discarded the package; the product stays for operator
		// review or explicit deletion.
		r.log.Info("Package deleted downstream", "product_id", product.ID, "package_id", res.PackageID)
	default:
		r.log.Debug("Ignoring unknown ingest outcome", "outcome", res.Outcome, "package_id", res.PackageID)
	}
}

// productIDForJob resolves the product a generation job was scheduled for
// from the job's payload.
func (r *EventRouter) productIDForJob(ctx context.Context, jobID uuid.UUID) (uuid.UUID, bool) {
	job, err := r.jobRuns.GetByID(ctx, nil, jobID)
	if err != nil || job == nil || len(job.Payload) == 0 {
		return uuid.Nil, false
	}
	var payload map[string]any
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return uuid.Nil, false
	}
	raw, ok := payload["product_id"].(string)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
