package repository

import (
	"context"

	"gorm.io/gorm"

	"escrow-backend/internal/models"
)

// AccountRepository defines the interface for user account data access
type AccountRepository interface {
	// GetByAddress returns the account for an address, or nil if none exists.
	GetByAddress(ctx context.Context, address string) (*models.UserAccount, error)
	// Create inserts a new account record.
	Create(ctx context.Context, account *models.UserAccount) error
	// Save persists balance and opt status changes.
	Save(ctx context.Context, account *models.UserAccount) error
	// List returns accounts with pagination.
	List(ctx context.Context, page, limit int) ([]*models.UserAccount, int64, error)
}

// accountRepository implements AccountRepository over GORM
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new AccountRepository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) GetByAddress(ctx context.Context, address string) (*models.UserAccount, error) {
	var account models.UserAccount
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&account).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *accountRepository) Create(ctx context.Context, account *models.UserAccount) error {
	return r.db.WithContext(ctx).Create(account).Error
}

func (r *accountRepository) Save(ctx context.Context, account *models.UserAccount) error {
	return r.db.WithContext(ctx).Save(account).Error
}

func (r *accountRepository) List(ctx context.Context, page, limit int) ([]*models.UserAccount, int64, error) {
	var accounts []*models.UserAccount
	var total int64

	query := r.db.WithContext(ctx).Model(&models.UserAccount{})
	query.Count(&total)

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&accounts).Error
	if err != nil {
		return nil, 0, err
	}

	return accounts, total, nil
}
