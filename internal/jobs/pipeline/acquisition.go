package pipeline

import (
	"fmt"

	"github.com/adam314315/rossbackend-sub000/internal/jobs"
	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/repos"
	"github.com/adam314315/rossbackend-sub000/internal/services"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// ProductAcquisitionHandler runs one chain acquisition pass: resume
// interrupted products, scan and register, then assemble page by page.
// The abort flag is honored at page boundaries.
type ProductAcquisitionHandler struct {
	log      *logger.Logger
	chains   repos.ChainRepo
	scan     *services.ScanService
	assembly *services.AssemblyService
	run      *services.RunService
	retry    *services.RetryService
}

func NewProductAcquisitionHandler(baseLog *logger.Logger, chains repos.ChainRepo, scan *services.ScanService, assembly *services.AssemblyService, run *services.RunService, retry *services.RetryService) *ProductAcquisitionHandler {
	return &ProductAcquisitionHandler{
		log:      baseLog.With("handler", types.JobTypeProductAcquisition),
		chains:   chains,
		scan:     scan,
		assembly: assembly,
		run:      run,
		retry:    retry,
	}
}

func (h *ProductAcquisitionHandler) Type() string { return types.JobTypeProductAcquisition }

func (h *ProductAcquisitionHandler) Run(jc *jobs.Context) error {
	chainID, ok := jc.PayloadUUID("chain_id")
	if !ok {
		return fmt.Errorf("payload missing chain_id")
	}
	session := jc.PayloadString("session")
	onlyErrors := jc.PayloadBool("only_errors")

	chain, err := h.chains.GetByID(jc.Ctx, nil, chainID)
	if err != nil {
		return err
	}
	if chain == nil {
		return fmt.Errorf("chain %s not found", chainID)
	}

	if onlyErrors {
		jc.Progress("retry", 10, "retrying failed generations")
		retried, err := h.retry.RetrySIPGeneration(jc.Ctx, chain, session)
		if err != nil {
			return err
		}
		h.log.Info("Retry pass complete", "chain", chain.Label, "retried", retried)
		return nil
	}

	jc.Progress("resume", 5, "resuming interrupted generations")
	if _, err := h.run.RestartInterruptedJobs(jc.Ctx, chain); err != nil {
		return err
	}
	if jc.Aborted() {
		return jobs.ErrAborted
	}

	jc.Progress("scan", 20, "scanning source directories")
	report, err := h.scan.ScanAndRegister(jc.Ctx, chain, session)
	if err != nil {
		return err
	}
	if jc.Aborted() {
		return jobs.ErrAborted
	}

	jc.Progress("assemble", 50, "assembling products")
	processed := 0
	for {
		n, more, err := h.assembly.ManageRegisteredFilesByPage(jc.Ctx, chain, session)
		processed += n
		if err != nil {
			return err
		}
		if jc.Aborted() {
			return jobs.ErrAborted
		}
		if !more {
			break
		}
	}

	jc.Progress("reevaluate", 90, "re-evaluating updated products")
	rescheduled, err := h.assembly.ManageUpdatedProducts(jc.Ctx, chain)
	if err != nil {
		return err
	}

	h.log.Info("Acquisition pass complete",
		"chain", chain.Label,
		"session", session,
		"discovered", report.FilesDiscovered,
		"registered", report.FilesRegistered,
		"assembled", processed,
		"rescheduled", rescheduled,
		"blockers", len(report.Blockers),
	)
	return nil
}
