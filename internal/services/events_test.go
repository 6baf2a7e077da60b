package services

import (
	"context"
	"fmt"
	"testing"

	"gorm.io/datatypes"

	"github.com/adam314315/rossbackend-sub000/internal/jobs"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

type routerFixture struct {
	chain    *types.ProcessingChain
	chains   *fakeChainRepo
	products *fakeProductRepo
	jobRuns  *fakeJobRunRepo
	ingest   *fakeIngestClient
	router   *EventRouter
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()
	chain := manualChain("ross-router")
	chains := newFakeChainRepo(chain)
	products := &fakeProductRepo{}
	jobRuns := &fakeJobRunRepo{}
	ingest := &fakeIngestClient{}
	run := NewRunService(nil, testLogger(), chains, products, jobRuns, 100)
	return &routerFixture{
		chain:    chain,
		chains:   chains,
		products: products,
		jobRuns:  jobRuns,
		ingest:   ingest,
		router:   NewEventRouter(nil, testLogger(), products, jobRuns, run, ingest),
	}
}

// seedGeneration creates one scheduled product plus its generation job and
// returns both.
func (f *routerFixture) seedGeneration(t *testing.T, name string) (*types.Product, *types.JobRun) {
	t.Helper()
	ctx := context.Background()
	created, err := f.products.Create(ctx, nil, []*types.Product{{
		ChainID:     f.chain.ID,
		ProductName: name,
		State:       types.ProductStateFinished,
		SIPState:    types.SIPStateScheduled,
		SIP:         datatypes.JSON(`{"files":[]}`),
	}})
	if err != nil {
		t.Fatalf("seed product: %v", err)
	}
	payload := fmt.Sprintf(`{"product_id":%q,"chain_id":%q}`, created[0].ID, f.chain.ID)
	jobsCreated, err := f.jobRuns.Create(ctx, nil, []*types.JobRun{{
		ChainID: f.chain.ID,
		JobType: types.JobTypeSIPGeneration,
		Status:  types.JobStatusSucceeded,
		Payload: datatypes.JSON(payload),
	}})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return created[0], jobsCreated[0]
}

func TestRouterSubmitsOnGenerationSuccess(t *testing.T) {
	f := newRouterFixture(t)
	f.ingest.nextID = "pkg-42"
	product, job := f.seedGeneration(t, "p1")

	f.router.HandleCompletion(context.Background(), jobs.CompletionEvent{
		JobID:   job.ID,
		JobType: types.JobTypeSIPGeneration,
		ChainID: f.chain.ID,
		Outcome: jobs.OutcomeSucceeded,
	})

	if product.SIPState != types.SIPStateSubmitted {
		t.Fatalf("expected submitted, got %q", product.SIPState)
	}
	if product.IngestID != "pkg-42" {
		t.Fatalf("ingest id not stored: %q", product.IngestID)
	}
	if f.ingest.calls != 1 {
		t.Fatalf("expected one submission, got %d", f.ingest.calls)
	}
}

func TestRouterDropsDuplicateCompletionEvents(t *testing.T) {
	f := newRouterFixture(t)
	product, job := f.seedGeneration(t, "p1")
	evt := jobs.CompletionEvent{
		JobID:   job.ID,
		JobType: types.JobTypeSIPGeneration,
		ChainID: f.chain.ID,
		Outcome: jobs.OutcomeSucceeded,
	}
	ctx := context.Background()

	f.router.HandleCompletion(ctx, evt)
	f.router.HandleCompletion(ctx, evt)

	if f.ingest.calls != 1 {
		t.Fatalf("duplicate event re-submitted the package: %d calls", f.ingest.calls)
	}
	if product.SIPState != types.SIPStateSubmitted {
		t.Fatalf("expected submitted, got %q", product.SIPState)
	}
	if !job.Routed {
		t.Fatal("job row not flagged as routed")
	}
}

func TestRouterRecordsGenerationFailure(t *testing.T) {
	f := newRouterFixture(t)
	product, job := f.seedGeneration(t, "p1")

	f.router.HandleCompletion(context.Background(), jobs.CompletionEvent{
		JobID:   job.ID,
		JobType: types.JobTypeSIPGeneration,
		ChainID: f.chain.ID,
		Outcome: jobs.OutcomeFailed,
		Error:   "generation strategy failed",
	})

	if product.SIPState != types.SIPStateGenerationError {
		t.Fatalf("expected generation_error, got %q", product.SIPState)
	}
	if product.Error != "generation strategy failed" {
		t.Fatalf("cause not stored: %q", product.Error)
	}
	if f.ingest.calls != 0 {
		t.Fatal("failed generation must not submit")
	}
}

func TestRouterMarksAbortedGenerationInterrupted(t *testing.T) {
	f := newRouterFixture(t)
	product, job := f.seedGeneration(t, "p1")

	f.router.HandleCompletion(context.Background(), jobs.CompletionEvent{
		JobID:   job.ID,
		JobType: types.JobTypeSIPGeneration,
		ChainID: f.chain.ID,
		Outcome: jobs.OutcomeAborted,
		Error:   "job aborted",
	})

	if product.SIPState != types.SIPStateScheduledInterrupted {
		t.Fatalf("expected scheduled_interrupted, got %q", product.SIPState)
	}
}

func TestRouterRecordsSubmissionFailure(t *testing.T) {
	f := newRouterFixture(t)
	f.ingest.nextErr = fmt.Errorf("ingest endpoint unreachable")
	product, job := f.seedGeneration(t, "p1")

	f.router.HandleCompletion(context.Background(), jobs.CompletionEvent{
		JobID:   job.ID,
		JobType: types.JobTypeSIPGeneration,
		ChainID: f.chain.ID,
		Outcome: jobs.OutcomeSucceeded,
	})

	if product.SIPState != types.SIPStateGenerationError {
		t.Fatalf("expected generation_error after submit failure, got %q", product.SIPState)
	}
	if product.Error != "ingest endpoint unreachable" {
		t.Fatalf("cause not stored: %q", product.Error)
	}
}

// seedJob creates one terminal job row of the given kind so its completion
// event can be routed.
func (f *routerFixture) seedJob(t *testing.T, jobType, status string) *types.JobRun {
	t.Helper()
	created, err := f.jobRuns.Create(context.Background(), nil, []*types.JobRun{{
		ChainID: f.chain.ID,
		JobType: jobType,
		Status:  status,
	}})
	if err != nil {
		t.Fatalf("seed job: %v", err)
	}
	return created[0]
}

func TestRouterFinishesAcquisitionRun(t *testing.T) {
	f := newRouterFixture(t)
	f.chain.Locked = true
	ctx := context.Background()

	okJob := f.seedJob(t, types.JobTypeProductAcquisition, types.JobStatusSucceeded)
	f.router.HandleCompletion(ctx, jobs.CompletionEvent{
		JobID:   okJob.ID,
		JobType: types.JobTypeProductAcquisition,
		ChainID: f.chain.ID,
		Outcome: jobs.OutcomeSucceeded,
	})
	if f.chain.Locked {
		t.Fatal("chain must be unlocked after the acquisition job finished")
	}
	if got := f.chains.blockers(f.chain.ID); len(got) != 0 {
		t.Fatalf("success must not add blockers: %v", got)
	}

	f.chain.Locked = true
	failedJob := f.seedJob(t, types.JobTypeProductAcquisition, types.JobStatusFailed)
	failedEvt := jobs.CompletionEvent{
		JobID:   failedJob.ID,
		JobType: types.JobTypeProductAcquisition,
		ChainID: f.chain.ID,
		Outcome: jobs.OutcomeFailed,
		Error:   "scan blew up",
	}
	f.router.HandleCompletion(ctx, failedEvt)
	if f.chain.Locked {
		t.Fatal("chain must be unlocked even after a failed run")
	}
	blockers := f.chains.blockers(f.chain.ID)
	if len(blockers) != 1 || blockers[0] != "scan blew up" {
		t.Fatalf("failure not recorded: %v", blockers)
	}

	// A replayed failure event must not record the blocker twice.
	f.router.HandleCompletion(ctx, failedEvt)
	if got := f.chains.blockers(f.chain.ID); len(got) != 1 {
		t.Fatalf("replayed failure re-recorded the blocker: %v", got)
	}
}

func TestRouterIgnoresUnknownJobKinds(t *testing.T) {
	f := newRouterFixture(t)
	product, _ := f.seedGeneration(t, "p1")
	strayJob := f.seedJob(t, "warehouse_compaction", types.JobStatusSucceeded)

	f.router.HandleCompletion(context.Background(), jobs.CompletionEvent{
		JobID:   strayJob.ID,
		JobType: "warehouse_compaction",
		ChainID: f.chain.ID,
		Outcome: jobs.OutcomeSucceeded,
	})

	if product.SIPState != types.SIPStateScheduled {
		t.Fatalf("unknown kind must not touch products: %q", product.SIPState)
	}
	if f.ingest.calls != 0 {
		t.Fatal("unknown kind must not submit")
	}
}

func TestRouterHandlesIngestResults(t *testing.T) {
	f := newRouterFixture(t)
	ctx := context.Background()
	created, err := f.products.Create(ctx, nil, []*types.Product{
		{ChainID: f.chain.ID, ProductName: "ok", SIPState: types.SIPStateSubmitted, IngestID: "pkg-ok"},
		{ChainID: f.chain.ID, ProductName: "bad", SIPState: types.SIPStateSubmitted, IngestID: "pkg-bad"},
	})
	if err != nil {
		t.Fatalf("seed products: %v", err)
	}

	f.router.HandleIngestResult(ctx, IngestResult{PackageID: "pkg-ok", Outcome: IngestOutcomeIngested})
	if created[0].SIPState != types.SIPStateIngested {
		t.Fatalf("expected ingested, got %q", created[0].SIPState)
	}

	f.router.HandleIngestResult(ctx, IngestResult{PackageID: "pkg-bad", Outcome: IngestOutcomeFailed, Error: "schema rejected"})
	if created[1].SIPState != types.SIPStateIngestionFailed {
		t.Fatalf("expected ingestion_failed, got %q", created[1].SIPState)
	}
	if created[1].Error != "schema rejected" {
		t.Fatalf("cause not stored: %q", created[1].Error)
	}

	// Unknown package ids are logged and dropped.
	f.router.HandleIngestResult(ctx, IngestResult{PackageID: "pkg-unknown", Outcome: IngestOutcomeIngested})

	// A terminal product never moves again.
	f.router.HandleIngestResult(ctx, IngestResult{PackageID: "pkg-ok", Outcome: IngestOutcomeFailed, Error: "late duplicate"})
	if created[0].SIPState != types.SIPStateIngested {
		t.Fatalf("terminal state regressed: %q", created[0].SIPState)
	}
}
