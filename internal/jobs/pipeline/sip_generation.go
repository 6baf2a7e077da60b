package pipeline

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/adam314315/rossbackend-sub000/internal/jobs"
	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/repos"
	"github.com/adam314315/rossbackend-sub000/internal/strategies"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// SIPGenerationHandler builds the submission package for one scheduled
// product. The scheduled -> submitted transition itself happens in the event
// router once this job's completion event arrives.
type SIPGenerationHandler struct {
	log      *logger.Logger
	chains   repos.ChainRepo
	products repos.ProductRepo
	files    repos.AcquisitionFileRepo
	registry *strategies.Registry
}

func NewSIPGenerationHandler(baseLog *logger.Logger, chains repos.ChainRepo, products repos.ProductRepo, files repos.AcquisitionFileRepo, registry *strategies.Registry) *SIPGenerationHandler {
	return &SIPGenerationHandler{
		log:      baseLog.With("handler", types.JobTypeSIPGeneration),
		chains:   chains,
		products: products,
		files:    files,
		registry: registry,
	}
}

func (h *SIPGenerationHandler) Type() string { return types.JobTypeSIPGeneration }

func (h *SIPGenerationHandler) Run(jc *jobs.Context) error {
	productID, ok := jc.PayloadUUID("product_id")
	if !ok {
		return fmt.Errorf("payload missing product_id")
	}
	chainID, ok := jc.PayloadUUID("chain_id")
	if !ok {
		return fmt.Errorf("payload missing chain_id")
	}

	chain, err := h.chains.GetByID(jc.Ctx, nil, chainID)
	if err != nil {
		return err
	}
	if chain == nil {
		return fmt.Errorf("chain %s not found", chainID)
	}
	loaded, err := h.products.GetByIDs(jc.Ctx, nil, []uuid.UUID{productID})
	if err != nil {
		return err
	}
	if len(loaded) == 0 {
		return fmt.Errorf("product %s not found", productID)
	}
	product := loaded[0]
	if product.SIPState != types.SIPStateScheduled {
		// Stale job for a product that already moved on; nothing to do.
		h.log.Warn("Skipping generation for non-scheduled product", "product_id", productID, "sip_state", product.SIPState)
		return nil
	}
	if jc.Aborted() {
		return jobs.ErrAborted
	}

	generation, ok := h.registry.Generation(chain.GenerationStrategy)
	if !ok {
		return fmt.Errorf("generation strategy %q not registered", chain.GenerationStrategy)
	}

	jc.Progress("generate", 30, "building submission package")
	acquired, err := h.files.GetByProductIDs(jc.Ctx, nil, []uuid.UUID{productID})
	if err != nil {
		return err
	}
	sip, err := generation.Generate(product, acquired)
	if err != nil {
		return fmt.Errorf("generation failed for %s: %w", product.ProductName, err)
	}

	if chain.PostProcessStrategy != "" {
		post, ok := h.registry.PostProcess(chain.PostProcessStrategy)
		if !ok {
			return fmt.Errorf("post-process strategy %q not registered", chain.PostProcessStrategy)
		}
		jc.Progress("post_process", 70, "post-processing package")
		if err := post.PostProcess(product, sip); err != nil {
			return fmt.Errorf("post-processing failed for %s: %w", product.ProductName, err)
		}
		if err := h.products.UpdateFields(jc.Ctx, nil, productID, map[string]interface{}{
			"last_post_process_job_id": jc.Job.ID,
		}); err != nil {
			return err
		}
	}

	jc.Progress("store", 90, "storing submission package")
	if err := h.products.UpdateFields(jc.Ctx, nil, productID, map[string]interface{}{
		"sip": sip,
	}); err != nil {
		return err
	}
	h.log.Info("Generated submission package", "chain", chain.Label, "product", product.ProductName, "files", len(acquired))
	return nil
}
