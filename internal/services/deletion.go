package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/repos"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// DeletionService schedules product deletion as a background job; deletion
// volume is unbounded, so it never runs inline.
type DeletionService struct {
	db      *gorm.DB
	log     *logger.Logger
	chains  repos.ChainRepo
	jobRuns repos.JobRunRepo
}

func NewDeletionService(db *gorm.DB, baseLog *logger.Logger, chains repos.ChainRepo, jobRuns repos.JobRunRepo) *DeletionService {
	return &DeletionService{
		db:      db,
		log:     baseLog.With("service", "DeletionService"),
		chains:  chains,
		jobRuns: jobRuns,
	}
}

// ScheduleProductDeletion enqueues deletion of the chain's products,
// optionally scoped to one session and optionally removing the chain itself
// once no products remain. The chain must not be mid-run.
func (s *DeletionService) ScheduleProductDeletion(ctx context.Context, chainID uuid.UUID, session string, deleteChain bool) (*types.JobRun, error) {
	chain, err := s.chains.GetByID(ctx, nil, chainID)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, ErrChainNotFound
	}
	if chain.Locked {
		return nil, ErrChainLocked
	}
	if deleteChain && chain.Active {
		return nil, ErrChainBusy
	}

	payload, err := json.Marshal(map[string]any{
		"chain_id":     chainID.String(),
		"session":      session,
		"delete_chain": deleteChain,
	})
	if err != nil {
		return nil, err
	}
	created, err := s.jobRuns.Create(ctx, nil, []*types.JobRun{{
		ChainID: chainID,
		JobType: types.JobTypeProductDeletion,
		Status:  types.JobStatusQueued,
		Payload: datatypes.JSON(payload),
	}})
	if err != nil {
		return nil, err
	}
	s.log.Info("Scheduled product deletion", "chain", chain.Label, "session", session, "delete_chain", deleteChain, "job_id", created[0].ID)
	return created[0], nil
}

// ScheduleProductDeletionByLabel resolves the chain by label first.
func (s *DeletionService) ScheduleProductDeletionByLabel(ctx context.Context, label, session string, deleteChain bool) (*types.JobRun, error) {
	chain, err := s.chains.GetByLabel(ctx, nil, label)
	if err != nil {
		return nil, err
	}
	if chain == nil {
		return nil, ErrChainNotFound
	}
	return s.ScheduleProductDeletion(ctx, chain.ID, session, deleteChain)
}
