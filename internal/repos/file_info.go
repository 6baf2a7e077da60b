package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

type FileInfoRepo interface {
	GetByChainID(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) ([]*types.FileInfo, error)
	UpdateWatermark(ctx context.Context, tx *gorm.DB, id uuid.UUID, watermark time.Time) error
}

type fileInfoRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewFileInfoRepo(db *gorm.DB, baseLog *logger.Logger) FileInfoRepo {
	return &fileInfoRepo{
		db:  db,
		log: baseLog.With("repo", "FileInfoRepo"),
	}
}

func (r *fileInfoRepo) GetByChainID(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) ([]*types.FileInfo, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.FileInfo
	if chainID == uuid.Nil {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("chain_id = ?", chainID).
		Order("created_at ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateWatermark only ever moves the watermark forward.
func (r *fileInfoRepo) UpdateWatermark(ctx context.Context, tx *gorm.DB, id uuid.UUID, watermark time.Time) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || watermark.IsZero() {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.FileInfo{}).
		Where("id = ? AND (last_modification_date IS NULL OR last_modification_date < ?)", id, watermark).
		Updates(map[string]interface{}{
			"last_modification_date": watermark,
			"updated_at":             time.Now(),
		}).Error
}
