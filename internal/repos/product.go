package repos

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/adam314315/rossbackend-sub000/internal/logger"
	"github.com/adam314315/rossbackend-sub000/internal/types"
)

// ProductRepo is the product registry. Submission state changes go through
// TransitSIPState so the forward-only invariant is enforced in one place.
type ProductRepo interface {
	Create(ctx context.Context, tx *gorm.DB, products []*types.Product) ([]*types.Product, error)
	GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Product, error)
	GetByName(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, name string) (*types.Product, error)
	GetPageBySIPStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, session string, states []string, limit, offset int) ([]*types.Product, error)
	GetPageByStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, states []string, limit int) ([]*types.Product, error)
	GetBySIPStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, session string, states []string) ([]*types.Product, error)
	GetByIngestID(ctx context.Context, tx *gorm.DB, ingestID string) (*types.Product, error)
	UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error
	// TransitSIPState conditionally moves sip_state when the current value is
	// one of from; reports whether a row changed. Re-delivered events that
	// race a transition simply see zero rows affected.
	TransitSIPState(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, to string, updates map[string]interface{}) (bool, error)
	CountBySIPState(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (map[string]int64, error)
	CountBySIPStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, session string, states []string) (int64, error)
	CountByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (int64, error)
	DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error
}

type productRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewProductRepo(db *gorm.DB, baseLog *logger.Logger) ProductRepo {
	return &productRepo{
		db:  db,
		log: baseLog.With("repo", "ProductRepo"),
	}
}

func (r *productRepo) Create(ctx context.Context, tx *gorm.DB, products []*types.Product) ([]*types.Product, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(products) == 0 {
		return []*types.Product{}, nil
	}
	now := time.Now()
	for _, p := range products {
		if p.ID == uuid.Nil {
			p.ID = uuid.New()
		}
		if p.State == "" {
			p.State = types.ProductStateAcquiring
		}
		if p.LastUpdate.IsZero() {
			p.LastUpdate = now
		}
	}
	if err := transaction.WithContext(ctx).Create(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

func (r *productRepo) GetByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) ([]*types.Product, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Product
	if len(ids) == 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("id IN ?", ids).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *productRepo) GetByName(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, name string) (*types.Product, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if chainID == uuid.Nil || name == "" {
		return nil, nil
	}
	var product types.Product
	err := transaction.WithContext(ctx).
		Where("chain_id = ? AND product_name = ?", chainID, name).
		Limit(1).
		Find(&product).Error
	if err != nil {
		return nil, err
	}
	if product.ID == uuid.Nil {
		return nil, nil
	}
	return &product, nil
}

func (r *productRepo) GetPageBySIPStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, session string, states []string, limit, offset int) ([]*types.Product, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Product
	if chainID == uuid.Nil || len(states) == 0 || limit <= 0 {
		return results, nil
	}
	q := transaction.WithContext(ctx).
		Where("chain_id = ? AND sip_state IN ?", chainID, states)
	if session != "" {
		q = q.Where("session = ?", session)
	}
	if err := q.
		Order("last_update ASC, created_at ASC").
		Limit(limit).
		Offset(offset).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *productRepo) GetPageByStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, states []string, limit int) ([]*types.Product, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Product
	if chainID == uuid.Nil || len(states) == 0 || limit <= 0 {
		return results, nil
	}
	if err := transaction.WithContext(ctx).
		Where("chain_id = ? AND state IN ?", chainID, states).
		Order("last_update ASC, created_at ASC").
		Limit(limit).
		Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *productRepo) GetBySIPStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, session string, states []string) ([]*types.Product, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	var results []*types.Product
	if chainID == uuid.Nil || len(states) == 0 {
		return results, nil
	}
	q := transaction.WithContext(ctx).
		Where("chain_id = ? AND sip_state IN ?", chainID, states)
	if session != "" {
		q = q.Where("session = ?", session)
	}
	if err := q.Order("created_at ASC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

func (r *productRepo) GetByIngestID(ctx context.Context, tx *gorm.DB, ingestID string) (*types.Product, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if ingestID == "" {
		return nil, nil
	}
	var product types.Product
	err := transaction.WithContext(ctx).
		Where("ingest_id = ?", ingestID).
		Limit(1).
		Find(&product).Error
	if err != nil {
		return nil, err
	}
	if product.ID == uuid.Nil {
		return nil, nil
	}
	return &product, nil
}

func (r *productRepo) UpdateFields(ctx context.Context, tx *gorm.DB, id uuid.UUID, updates map[string]interface{}) error {
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
	now := time.Now()
	if _, ok := updates["updated_at"]; !ok {
		updates["updated_at"] = now
	}
	if _, ok := updates["last_update"]; !ok {
		updates["last_update"] = now
	}
	return transaction.WithContext(ctx).
		Model(&types.Product{}).
		Where("id = ?", id).
		Updates(updates).Error
}

func (r *productRepo) TransitSIPState(ctx context.Context, tx *gorm.DB, id uuid.UUID, from []string, to string, updates map[string]interface{}) (bool, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if id == uuid.Nil || len(from) == 0 {
		return false, nil
	}
	for _, f := range from {
		if !types.CanTransitSIPState(f, to) {
			r.log.Warn("Refusing illegal sip_state transition", "product_id", id, "from", f, "to", to)
			return false, nil
		}
	}
	if updates == nil {
		updates = map[string]interface{}{}
	}
	now := time.Now()
	updates["sip_state"] = to
	updates["last_update"] = now
	updates["updated_at"] = now
	res := transaction.WithContext(ctx).
		Model(&types.Product{}).
		Where("id = ? AND sip_state IN ?", id, from).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *productRepo) CountBySIPState(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (map[string]int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	counts := map[string]int64{}
	if chainID == uuid.Nil {
		return counts, nil
	}
	var rows []struct {
		SIPState string `gorm:"column:sip_state"`
		Total    int64
	}
	if err := transaction.WithContext(ctx).
		Model(&types.Product{}).
		Select("sip_state, COUNT(*) AS total").
		Where("chain_id = ?", chainID).
		Group("sip_state").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	for _, row := range rows {
		counts[row.SIPState] = row.Total
	}
	return counts, nil
}

func (r *productRepo) CountBySIPStates(ctx context.Context, tx *gorm.DB, chainID uuid.UUID, session string, states []string) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if chainID == uuid.Nil || len(states) == 0 {
		return 0, nil
	}
	q := transaction.WithContext(ctx).
		Model(&types.Product{}).
		Where("chain_id = ? AND sip_state IN ?", chainID, states)
	if session != "" {
		q = q.Where("session = ?", session)
	}
	var total int64
	if err := q.Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *productRepo) CountByChain(ctx context.Context, tx *gorm.DB, chainID uuid.UUID) (int64, error) {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if chainID == uuid.Nil {
		return 0, nil
	}
	var total int64
	if err := transaction.WithContext(ctx).
		Model(&types.Product{}).
		Where("chain_id = ?", chainID).
		Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (r *productRepo) DeleteByIDs(ctx context.Context, tx *gorm.DB, ids []uuid.UUID) error {
	transaction := tx
	if transaction == nil {
		transaction = r.db
	}
	if len(ids) == 0 {
		return nil
	}
	return transaction.WithContext(ctx).
		Unscoped().
		Where("id IN ?", ids).
		Delete(&types.Product{}).Error
}
