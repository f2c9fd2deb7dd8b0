package repository

import (
	"context"

	"gorm.io/gorm"

	"escrow-backend/internal/models"
)

// SettlementRepository defines data access for a settlement node's ledger:
// its obligation book and its processed-message idempotency set.
type SettlementRepository interface {
	// CreatePending inserts a new pending obligation.
	CreatePending(ctx context.Context, obligation *models.Obligation) error
	// PendingByRecipient returns the pending obligation for a recipient on
	// the given node, or nil if none exists.
	PendingByRecipient(ctx context.Context, nodeEid uint32, recipient string) (*models.Obligation, error)
	// GetByMessageID returns the node's obligation keyed by a transfer
	// message id, or nil if none exists.
	GetByMessageID(ctx context.Context, nodeEid uint32, messageID string) (*models.Obligation, error)
	// IsProcessed reports whether the node has already applied a message id.
	IsProcessed(ctx context.Context, nodeEid uint32, messageID string) (bool, error)
	// MarkProcessed records a message id as applied.
	MarkProcessed(ctx context.Context, nodeEid uint32, messageID string) error
	// ApplyResolution atomically clears the obligation for the referenced
	// transfer and records the resolve message id as processed. Both writes
	// commit together or not at all.
	ApplyResolution(ctx context.Context, nodeEid uint32, resolveID, transferID string) error
	// CountPending returns the number of pending obligations on the node.
	CountPending(ctx context.Context, nodeEid uint32) (int64, error)
}

// settlementRepository implements SettlementRepository over GORM
type settlementRepository struct {
	db *gorm.DB
}

// NewSettlementRepository creates a new SettlementRepository instance
func NewSettlementRepository(db *gorm.DB) SettlementRepository {
	return &settlementRepository{db: db}
}

func (r *settlementRepository) CreatePending(ctx context.Context, obligation *models.Obligation) error {
	obligation.Status = models.ObligationStatusPending
	return r.db.WithContext(ctx).Create(obligation).Error
}

func (r *settlementRepository) PendingByRecipient(ctx context.Context, nodeEid uint32, recipient string) (*models.Obligation, error) {
	var obligation models.Obligation
	err := r.db.WithContext(ctx).
		Where("node_eid = ? AND recipient = ? AND status = ?", nodeEid, recipient, models.ObligationStatusPending).
		First(&obligation).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obligation, nil
}

func (r *settlementRepository) GetByMessageID(ctx context.Context, nodeEid uint32, messageID string) (*models.Obligation, error) {
	var obligation models.Obligation
	err := r.db.WithContext(ctx).Where("node_eid = ? AND message_id = ?", nodeEid, messageID).First(&obligation).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &obligation, nil
}

func (r *settlementRepository) IsProcessed(ctx context.Context, nodeEid uint32, messageID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.ProcessedMessage{}).
		Where("node_eid = ? AND message_id = ?", nodeEid, messageID).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *settlementRepository) MarkProcessed(ctx context.Context, nodeEid uint32, messageID string) error {
	return r.db.WithContext(ctx).Create(&models.ProcessedMessage{
		NodeEid:   nodeEid,
		MessageID: messageID,
	}).Error
}

func (r *settlementRepository) ApplyResolution(ctx context.Context, nodeEid uint32, resolveID, transferID string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.Obligation{}).
			Where("node_eid = ? AND message_id = ? AND status = ?", nodeEid, transferID, models.ObligationStatusPending).
			Update("status", models.ObligationStatusResolved).Error; err != nil {
			return err
		}
		return tx.Create(&models.ProcessedMessage{
			NodeEid:   nodeEid,
			MessageID: resolveID,
		}).Error
	})
}

func (r *settlementRepository) CountPending(ctx context.Context, nodeEid uint32) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Obligation{}).
		Where("node_eid = ? AND status = ?", nodeEid, models.ObligationStatusPending).
		Count(&count).Error
	return count, err
}
