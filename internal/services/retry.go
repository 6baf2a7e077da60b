package services

import (
	"context"
	"encoding/json"
	"fmt"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/repos"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// RetryService resets failed products so the generation path picks them up
// again.
type RetryService struct {
	db       *gorm.DB
	log      *logger.Logger
	products repos.ProductRepo
	jobRuns  repos.JobRunRepo
	pageSize int
}

func NewRetryService(db *gorm.DB, baseLog *logger.Logger, products repos.ProductRepo, jobRuns repos.JobRunRepo, pageSize int) *RetryService {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &RetryService{
		db:       db,
		log:      baseLog.With("service", "RetryService"),
		products: products,
		jobRuns:  jobRuns,
		pageSize: pageSize,
	}
}

// RetrySIPGeneration moves products in generation_error or ingestion_failed
// (optionally scoped to one session) back to scheduled and enqueues a fresh
// generation job for each. Products in any other state are untouched.
func (s *RetryService) RetrySIPGeneration(ctx context.Context, chain *types.ProcessingChain, session string) (int, error) {
	if chain == nil {
		return 0, fmt.Errorf("missing chain")
	}
	retried := 0
	retryable := []string{types.SIPStateGenerationError, types.SIPStateIngestionFailed}
	for {
		var page []*types.Product
		err := withTx(s.db, func(tx *gorm.DB) error {
			var err error
			page, err = s.products.GetPageBySIPStates(ctx, tx, chain.ID, session, retryable, s.pageSize, 0)
			if err != nil {
				return err
			}
			for _, product := range page {
				won, err := s.products.TransitSIPState(ctx, tx, product.ID, []string{product.SIPState}, types.SIPStateScheduled, map[string]interface{}{
					"error": "",
				})
				if err != nil {
					return err
				}
				if !won {
					continue
				}
				payload, err := json.Marshal(map[string]any{
					"product_id": product.ID.String(),
					"chain_id":   chain.ID.String(),
				})
				if err != nil {
					return err
				}
				created, err := s.jobRuns.Create(ctx, tx, []*types.JobRun{{
					ChainID: chain.ID,
					JobType: types.JobTypeSIPGeneration,
					Status:  types.JobStatusQueued,
					Payload: datatypes.JSON(payload),
				}})
				if err != nil {
					return err
				}
				if err := s.products.UpdateFields(ctx, tx, product.ID, map[string]interface{}{
					"last_sip_generation_job_id": created[0].ID,
				}); err != nil {
					return err
				}
				retried++
			}
			return nil
		})
		if err != nil {
			return retried, err
		}
		if len(page) < s.pageSize {
			break
		}
	}
	if retried > 0 {
		s.log.Info("Retried SIP generation", "chain", chain.Label, "session", session, "count", retried)
	}
	return retried, nil
}
