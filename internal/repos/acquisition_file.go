package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// AcquisitionFileRepo is the file registry: every file discovered by a scan
// pass lives here, keyed by (file_info_id, file_path).
type AcquisitionFileRepo interface {
	CreateBatch(ctx context.Context, tx *gorm.DB, files []*types.AcquisitionFile) ([]*types.AcquisitionFile, error)
	GetKnownPaths(ctx context.Context, tx *gorm.DB, fileInfoID uuid.UUID, paths []string) (map[string]bool, error)
	GetPageByStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, states []string, limit int) ([]*types.AcquisitionFile, error)
	GetByProductIDs(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) ([]*types.AcquisitionFile, error)
	UpdateState(ctx context.Context, tx *gorm.DB, id uuid.UUID, state, errText string) error
	// Acquire links the file to a product and moves it to the acquired state.
	Acquire(ctx context.Context, tx *gorm.DB, id, productID uuid.UUID) error
	CountAcquiredByFileInfo(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (map[uuid.UUID]int64, error)
	CountByChainAndState(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (map[string]int64, error)
	DeleteByProductIDs(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) error
}

type acquisitionFileRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewAcquisitionFileRepo(db *gorm.DB, baseLog *logger.Logger) AcquisitionFileRepo {
	return &acquisitionFileRepo{
		db:  db,
		log: baseLog.With("repo", "AcquisitionFileRepo"),
	}
}

func (r *acquisitionFileRepo) CreateBatch(ctx context.Context, tx *gorm.DB, files []*types.AcquisitionFile) ([]*types.AcquisitionFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(files) == 0 {
		return []*types.AcquisitionFile{}, nil
	}
	now := time.Now()
	for _, f := range files {
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		if f.State == "" {
			f.State = types.FileStateInProgress
		}
		if f.AcquisitionDate.IsZero() {
			f.AcquisitionDate = now
		}
	}
	if err := transaction.WithContext(ctx).Create(&files).Error; err != nil {
		return nil, err
	}
	return files, nil
}

func (r *acquisitionFileRepo) GetKnownPaths(ctx context.Context, tx *gorm.DB, fileInfoID uuid.UUID, paths []string) (map[string]bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	known := map[string]bool{}
	if fileInfoID == uuid.Nil || len(paths) == 0 {
		return known, nil
	}
	var existing []string
	if err := transaction.WithContext(ctx).
		Model(&types.AcquisitionFile{}).
		Where("file_info_id = ? AND file_path IN ?", fileInfoID, paths).
		Pluck("file_path", &existing).Error; err != nil {
		return nil, err
	}
	for _, p := range existing {
		known[p] = true
	}
	return known, nil
}

func (r *acquisitionFileRepo) GetPageByStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, states []string, limit int) ([]*types.AcquisitionFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.AcquisitionFile
	if chainID == uuid.Nil || len(states) == 0 || limit <= 0 {
		return results, nil
	}
	// Discovery order within a slot; cross-slot order is unspecified.
	if err := transaction.WithContext(ctx).
		Where("chain_id = ? AND state IN ?", chainID, states).
		Order("acquisition_date ASC, created_at ASC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *acquisitionFileRepo) GetByProductIDs(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) ([]*types.AcquisitionFile, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.AcquisitionFile
	if len(productIDs) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("product_id IN ?", productIDs).
		Order("acquisition_date ASC").
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *acquisitionFileRepo) UpdateState(ctx context.Context, tx *gorm.DB, id uuid.UUID, state, errText string) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.AcquisitionFile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":      state,
			"error":      errText,
			"updated_at": time.Now(),
		}).Error
}

func (r *acquisitionFileRepo) Acquire(ctx context.Context, tx *gorm.DB, id, productID uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || productID == uuid.Nil {
		return nil
	}
	return transaction.WithContext(ctx).
		Model(&types.AcquisitionFile{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"product_id": productID,
			"state":      types.FileStateAcquired,
			"error":      "",
			"updated_at": time.Now(),
		}).Error
}

func (r *acquisitionFileRepo) CountAcquiredByFileInfo(ctx context.Context, tx *gorm.DB, productID uuid.UUID) (map[uuid.UUID]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	counts := map[uuid.UUID]int64{}
	if productID == uuid.Nil {
		return counts, nil
	}
	var rows []struct {
		FileInfoID uuid.UUID
		Total      int64
	}
	if err := transaction.WithContext(ctx).
		Model(&types.AcquisitionFile{}).
		Select("file_info_id, COUNT(*) AS total").
		Where("product_id = ? AND state = ?", productID, types.FileStateAcquired).
		Group("file_info_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.FileInfoID] = row.Total
	}
	return counts, nil
}

func (r *acquisitionFileRepo) CountByChainAndState(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	counts := map[string]int64{}
	if chainID == uuid.Nil {
		return counts, nil
	}
	var rows []struct {
		State string
		Total int64
	}
	if err := transaction.WithContext(ctx).
		Model(&types.AcquisitionFile{}).
		Select("state, COUNT(*) AS total").
		Where("chain_id = ?", chainID).
		Group("state").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.State] = row.Total
	}
	return counts, nil
}

func (r *acquisitionFileRepo) DeleteByProductIDs(ctx context.Context, tx *gorm.DB, productIDs []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(productIDs) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Where("product_id IN ?", productIDs).
		Delete(&types.AcquisitionFile{}).Error
}
