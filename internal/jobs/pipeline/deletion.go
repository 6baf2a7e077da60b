package pipeline

import (
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/jobs"
	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/repos"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// ProductDeletionHandler deletes a chain's products (and their linked files)
// page by page, optionally removing the chain itself once empty.
type ProductDeletionHandler struct {
	db       *gorm.DB
	log      *logger.Logger
	chains   repos.ChainRepo
	products repos.ProductRepo
	files    repos.AcquisitionFileRepo
	jobRuns  repos.JobRunRepo
	pageSize int
}

func NewProductDeletionHandler(db *gorm.DB, baseLog *logger.Logger, chains repos.ChainRepo, products repos.ProductRepo, files repos.AcquisitionFileRepo, jobRuns repos.JobRunRepo, pageSize int) *ProductDeletionHandler {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &ProductDeletionHandler{
		db:       db,
		log:      baseLog.With("handler", types.JobTypeProductDeletion),
		chains:   chains,
		products: products,
		files:    files,
		jobRuns:  jobRuns,
		pageSize: pageSize,
	}
}

func (h *ProductDeletionHandler) Type() string { return types.JobTypeProductDeletion }

// allSIPStates covers every submission state a product can be in, including
// never-scheduled.
var allSIPStates = []string{
	types.SIPStateNotScheduled,
	types.SIPStateScheduled,
	types.SIPStateGenerationError,
	types.SIPStateSubmitted,
	types.SIPStateIngested,
	types.SIPStateIngestionFailed,
	types.SIPStateScheduledInterrupted,
}

func (h *ProductDeletionHandler) Run(jc *jobs.Context) error {
	chainID, ok := jc.PayloadUUID("chain_id")
	if !ok {
		return fmt.Errorf("payload missing chain_id")
	}
	session := jc.PayloadString("session")
	deleteChain := jc.PayloadBool("delete_chain")

	deleted := 0
	for {
		var page []*types.Product
		err := h.inTx(func(tx *gorm.DB) error {
			var err error
			page, err = h.products.GetPageBySIPStates(jc.Ctx, tx, chainID, session, allSIPStates, h.pageSize, 0)
			if err != nil {
				return err
			}
			if len(page) == 0 {
				return nil
			}
			ids := make([]uuid.UUID, 0, len(page))
			for _, p := range page {
				ids = append(ids, p.ID)
			}
			if err := h.files.DeleteByProductIDs(jc.Ctx, tx, ids); err != nil {
				return err
			}
			return h.products.DeleteByIDs(jc.Ctx, tx, ids)
		})
		if err != nil {
			return err
		}
		deleted += len(page)
		if len(page) < h.pageSize {
			break
		}
		if jc.Aborted() {
			return jobs.ErrAborted
		}
		jc.Progress("delete", 50, fmt.Sprintf("deleted %d products", deleted))
	}

	if deleteChain {
		remaining, err := h.products.CountByChain(jc.Ctx, nil, chainID)
		if err != nil {
			return err
		}
		if remaining > 0 {
			return fmt.Errorf("chain %s still has %d products after deletion", chainID, remaining)
		}
		chain, err := h.chains.GetByID(jc.Ctx, nil, chainID)
		if err != nil {
			return err
		}
		if chain != nil {
			if chain.Active || chain.Locked {
				return fmt.Errorf("chain %s is active or locked, refusing deletion", chain.Label)
			}
			if err := h.chains.Delete(jc.Ctx, nil, chainID); err != nil {
				return err
			}
			h.log.Info("Deleted chain", "chain", chain.Label)
		}
	}

	h.log.Info("Product deletion complete", "chain_id", chainID, "session", session, "deleted", deleted)
	return nil
}

func (h *ProductDeletionHandler) inTx(fn func(tx *gorm.DB) error) error {
	if h.db == nil {
		return fn(nil)
	}
	return h.db.Transaction(fn)
}
