package repos

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

type ChainRepo interface {
	Create(ctx context.Context, tx *gorm.DB, chains []*types.ProcessingChain) ([]*types.ProcessingChain, error)
	GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProcessingChain, error)
	GetByLabel(ctx context.Context, tx *gorm.DB, label string) (*types.ProcessingChain, error)
	ListAutoActive(ctx context.Context, tx *gorm.DB) ([]*types.ProcessingChain, error)
	// TryLock is the compare-and-swap guarding exclusive runs: it flips
	// locked from false to true and reports whether this caller won.
	TryLock(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) (bool, error)
	Unlock(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	AppendBlocker(ctx context.Context, tx *gorm.DB, id uuid.UUID, blocker string) error
	ClearBlockers(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
	Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error
}

type chainRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewChainRepo(db *gorm.DB, baseLog *logger.Logger) ChainRepo {
	return &chainRepo{
		db:  db,
		log: baseLog.With("repo", "ChainRepo"),
	}
}

func (r *chainRepo) Create(ctx context.Context, tx *gorm.DB, chains []*types.ProcessingChain) ([]*types.ProcessingChain, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(chains) == 0 {
		return []*types.ProcessingChain{}, nil
	}
	for _, c := range chains {
		if c.ID == uuid.Nil {
			c.ID = uuid.New()
		}
		for _, fi := range c.FileInfos {
			if fi.ID == uuid.Nil {
				fi.ID = uuid.New()
			}
			fi.ChainID = c.ID
		}
	}
	if err := transaction.WithContext(ctx).Create(&chains).Error; err != nil {
		return nil, err
	}
	return chains, nil
}

func (r *chainRepo) GetByID(ctx context.Context, tx *gorm.DB, id uuid.UUID) (*types.ProcessingChain, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil, nil
	}
	var chain types.ProcessingChain
	err := transaction.WithContext(ctx).
		Preload("FileInfos").
		Where("id = ?", id).
		Limit(1).
		Find(&chain).Error
	if err != nil {
		return nil, err
	}
	if chain.ID == uuid.Nil {
		return nil, nil
	}
	return &chain, nil
}

func (r *chainRepo) GetByLabel(ctx context.Context, tx *gorm.DB, label string) (*types.ProcessingChain, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if label == "" {
		return nil, nil
	}
	var chain types.ProcessingChain
	err := transaction.WithContext(ctx).
		Preload("FileInfos").
		Where("label = ?", label).
		Limit(1).
		Find(&chain).Error
	if err != nil {
		return nil, err
	}
	if chain.ID == uuid.Nil {
		return nil, nil
	}
	return &chain, nil
}

func (r *chainRepo) ListAutoActive(ctx context.Context, tx *gorm.DB) ([]*types.ProcessingChain, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var chains []*types.ProcessingChain
	if err := transaction.WithContext(ctx).
		Preload("FileInfos").
		Where("mode = ? AND active = ?", types.ChainModeAuto, true).
		Order("label ASC").
		Find(&chains).Error; err != nil {
		return nil, err
	}
	return chains, nil
}

func (r *chainRepo) TryLock(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return false, nil
	}
	res := transaction.WithContext(ctx).
		Model(&types.ProcessingChain{}).
		Where("id = ? AND locked = ?", id, false).
		Updates(map[string]interface{}{
			"locked":               true,
			"last_activation_date": at,
			"updated_at":           at,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *chainRepo) Unlock(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.ProcessingChain{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"locked":     false,
			"updated_at": time.Now(),
		}).Error
}

func (r *chainRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
		Model(&types.ProcessingChain{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *chainRepo) AppendBlocker(ctx context.Context, tx *gorm.DB, id uuid.UUID, blocker string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || blocker == "" {
		return nil
	}
	var chain types.ProcessingChain
	if err := transaction.WithContext(ctx).
		Where("id = ?", id).
		Limit(1).
		Find(&chain).Error; err != nil {
		return err
	}
	if chain.ID == uuid.Nil {
		return nil
	}
	var blockers []string
	if len(chain.ExecutionBlockers) > 0 {
		if err := json.Unmarshal(chain.ExecutionBlockers, &blockers); err != nil {
			r.log.Warn("Discarding unparseable execution_blockers", "chain_id", id, "error", err)
			blockers = nil
		}
	}
	blockers = append(blockers, blocker)
	raw, err := json.Marshal(blockers)
	if err != nil {
		return err
	}
	return r.UpdateFields(ctx, transaction, id, map[string]interface{}{
		"execution_blockers": datatypes.JSON(raw),
	})
}

func (r *chainRepo) ClearBlockers(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	return r.UpdateFields(ctx, transaction, id, map[string]interface{}{
		"execution_blockers": nil,
	})
}

func (r *chainRepo) Delete(ctx context.Context, tx *gorm.DB, id uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	if err := transaction.WithContext(ctx).
		Where("chain_id = ?", id).
		Delete(&types.FileInfo{}).Error; err != nil {
		return err
	}
	return transaction.WithContext(ctx).
		Where("id = ?", id).
		Delete(&types.ProcessingChain{}).Error
}
