package repos

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

type JobRunRepo interface {
	Create(ctx context.Context, tx *gorm.DB, jobs []*types.JobRun) ([]*types.JobRun, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error)
	ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*types.JobRun, error)
	// MarkRouted flips the job's routed flag from false to true and reports
	// whether this caller won. Completion events are applied only by the
	// winner, so replays and concurrent replicas route each job once.
	MarkRouted(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	MarkAbortRequestedByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (int64, error)
	CountNonTerminalByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (int64, error)
}

type jobRunRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewJobRunRepo(db *gorm.DB, baseLog *logger.Logger) JobRunRepo {
	return &jobRunRepo{
		db:  db,
		log: baseLog.With("repo", "JobRunRepo"),
	}
}

func (r *jobRunRepo) Create(ctx context.Context, tx *gorm.DB, jobs []*types.JobRun) ([]*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(jobs) == 0 {
		return []*types.JobRun{}, nil
	}
	for _, j := range jobs {
		if j.ID == uuid.Nil {
			j.ID = uuid.New()
		}
		if j.Status == "" {
			j.Status = types.JobStatusQueued
		}
	}
	if err := transaction.WithContext(ctx).Create(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}

func (r *jobRunRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var job types.JobRun
	err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&job).Error
	if err != nil {
		return nil, err
	}
	if job.ID == uuid.Nil {
		return nil, nil
	}
	return &job, nil
}

// ClaimNextRunnable hands out queued jobs plus running jobs whose worker
// stopped heartbeating (crash recovery: their completion was never routed).
// Failed jobs are terminal here; their failure already drove the product and
// chain state machines, so re-running one would execute outside the chain
// lock. Retrying is an operator action that enqueues a fresh job.
func (r *jobRunRepo) ClaimNextRunnable(ctx context.Context, tx *gorm.DB, staleRunning time.Duration) (*types.JobRun, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	now := time.Now()
	staleCutoff := now.Add(-staleRunning)
	var claimed *types.JobRun
	err := transaction.WithContext(ctx).Transaction(func(txx *gorm.DB) error {
		var job types.JobRun
		q := txx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where(`
				(
					status = ?
					OR (
						status = ?
						AND heartbeat_at IS NOT NULL
						AND heartbeat_at < ?
					)
				)
			`, types.JobStatusQueued, types.JobStatusRunning, staleCutoff).
			Order("created_at ASC")
		qErr := q.First(&job).Error
		if errors.Is(qErr, gorm.ErrRecordNotFound) {
			return nil
		}
		if qErr != nil {
			return qErr
		}
		uErr := txx.Model(&types.JobRun{}).
			Where("id = ?", job.ID).
			Updates(map[string]interface{}{
				"status":       types.JobStatusRunning,
				"attempts":     gorm.Expr("attempts + 1"),
				"locked_at":    now,
				"heartbeat_at": now,
				"updated_at":   now,
			}).Error
		if uErr != nil {
			return uErr
		}
		claimed = &job
		return nil
	})
	if err != nil {
		return nil, err
	}
	return claimed, nil
}

func (r *jobRunRepo) MarkRouted(ctx context.Context, tx *gorm.DB, id uuid.UUID) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ? AND routed = ?", id, false).
		Updates(map[string]interface{}{
			"routed":     true,
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *jobRunRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = time.Now()
	}
	return transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *jobRunRepo) Heartbeat(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	now := time.Now()
	return transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("id = ? AND status = ?", id, types.JobStatusRunning).
		Updates(map[string]interface{}{
			"heartbeat_at": now,
			"updated_at":   now,
		}).Error
}

// MarkAbortRequestedByChain flags every queued or running job of the chain.
// Running handlers observe the flag between pages; queued jobs are aborted
// before dispatch.
func (r *jobRunRepo) MarkAbortRequestedByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if chainID == uuid.Nil {
		return 0, nil
	}
	res := transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("chain_id = ? AND status IN ?", chainID, []string{types.JobStatusQueued, types.JobStatusRunning}).
		Updates(map[string]interface{}{
			"abort_requested": true,
			"updated_at":      time.Now(),
		})
	return res.RowsAffected, res.Error
}

func (r *jobRunRepo) CountNonTerminalByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if chainID == uuid.Nil {
		return 0, nil
	}
	var total int64
	if err := transaction.WithContext(ctx).
		Model(&types.JobRun{}).
		Where("chain_id = ? AND status IN ?", chainID, []string{types.JobStatusQueued, types.JobStatusRunning}).
		Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}
