package repository

import (
	"context"
	"errors"
	"time"

	"cardpay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ============================================================================
// 投影消费位置
// ============================================================================

type OffsetRepository struct {
	db *gorm.DB
}

func NewOffsetRepository(db *gorm.DB) *OffsetRepository {
	return &OffsetRepository{db: db}
}

func (r *OffsetRepository) GetOffset(ctx context.Context, name string) (int64, error) {
	var offset model.ProjectionOffset
	err := r.db.WithContext(ctx).Where("name = ?", name).First(&offset).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return offset.Position, nil
}

func (r *OffsetRepository) SaveOffset(ctx context.Context, name string, position int64) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"position", "updated_at"}),
		}).
		Create(&model.ProjectionOffset{Name: name, Position: position}).Error
}

// ============================================================================
// 账户 -> 卡 查找表
// ============================================================================

type AccountCardRepository struct {
	db *gorm.DB
}

func NewAccountCardRepository(db *gorm.DB) *AccountCardRepository {
	return &AccountCardRepository{db: db}
}

func (r *AccountCardRepository) Upsert(ctx context.Context, row model.AccountCard) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (r *AccountCardRepository) SetActive(ctx context.Context, accountID string) error {
	result := r.db.WithContext(ctx).
		Model(&model.AccountCard{}).
		Where("account_id = ?", accountID).
		Update("active", true)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		// MySQL 对值未变化的行返回 0，需要区分是否真的不存在
		if _, err := r.Get(ctx, accountID); err != nil {
			return err
		}
	}
	return nil
}

func (r *AccountCardRepository) Get(ctx context.Context, accountID string) (*model.AccountCard, error) {
	var row model.AccountCard
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

// ============================================================================
// 按账户查询的交易视图
// ============================================================================

type TransactionIndexRepository struct {
	db *gorm.DB
}

func NewTransactionIndexRepository(db *gorm.DB) *TransactionIndexRepository {
	return &TransactionIndexRepository{db: db}
}

func (r *TransactionIndexRepository) Upsert(ctx context.Context, row model.TransactionIndexRow) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (r *TransactionIndexRepository) ListByAccount(ctx context.Context, accountID string) ([]model.TransactionIndexRow, error) {
	var rows []model.TransactionIndexRow
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("transaction_id ASC").
		Find(&rows).Error
	return rows, err
}

func (r *TransactionIndexRepository) ListStale(ctx context.Context, steps []model.SagaStep, before time.Time, limit int) ([]model.TransactionIndexRow, error) {
	names := make([]string, 0, len(steps))
	for _, s := range steps {
		names = append(names, string(s))
	}
	var rows []model.TransactionIndexRow
	err := r.db.WithContext(ctx).
		Where("step IN ? AND updated_at < ?", names, before).
		Order("updated_at ASC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// ============================================================================
// 账户列表视图
// ============================================================================

type AccountViewRepository struct {
	db *gorm.DB
}

func NewAccountViewRepository(db *gorm.DB) *AccountViewRepository {
	return &AccountViewRepository{db: db}
}

func (r *AccountViewRepository) Get(ctx context.Context, accountID string) (*model.AccountSummary, error) {
	var row model.AccountSummary
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *AccountViewRepository) Upsert(ctx context.Context, row model.AccountSummary) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (r *AccountViewRepository) List(ctx context.Context) ([]model.AccountSummary, error) {
	var rows []model.AccountSummary
	err := r.db.WithContext(ctx).Order("account_id ASC").Find(&rows).Error
	return rows, err
}

// ============================================================================
// 卡列表视图
// ============================================================================

type CardViewRepository struct {
	db *gorm.DB
}

func NewCardViewRepository(db *gorm.DB) *CardViewRepository {
	return &CardViewRepository{db: db}
}

func (r *CardViewRepository) Upsert(ctx context.Context, row model.CardSummary) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}

func (r *CardViewRepository) Get(ctx context.Context, pan string) (*model.CardSummary, error) {
	var row model.CardSummary
	err := r.db.WithContext(ctx).Where("pan = ?", pan).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *CardViewRepository) List(ctx context.Context) ([]model.CardSummary, error) {
	var rows []model.CardSummary
	err := r.db.WithContext(ctx).Order("pan ASC").Find(&rows).Error
	return rows, err
}

func (r *CardViewRepository) ListByAccount(ctx context.Context, accountID string) ([]model.CardSummary, error) {
	var rows []model.CardSummary
	err := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("pan ASC").
		Find(&rows).Error
	return rows, err
}

// ============================================================================
// 账户收支视图
// ============================================================================

type ExpenditureRepository struct {
	db *gorm.DB
}

func NewExpenditureRepository(db *gorm.DB) *ExpenditureRepository {
	return &ExpenditureRepository{db: db}
}

func (r *ExpenditureRepository) Get(ctx context.Context, accountID string) (*model.AccountExpenditure, error) {
	var row model.AccountExpenditure
	err := r.db.WithContext(ctx).Where("account_id = ?", accountID).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (r *ExpenditureRepository) Upsert(ctx context.Context, row model.AccountExpenditure) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
}
