package repository

import (
	"context"

	"gorm.io/gorm"

	"escrow-backend/internal/models"
)

// EventRepository defines append-only access to the ledger event log
type EventRepository interface {
	// Append records an emitted event.
	Append(ctx context.Context, event *models.LedgerEvent) error
	// ListByUser returns events for a user address, newest first.
	ListByUser(ctx context.Context, user string, page, limit int) ([]*models.LedgerEvent, int64, error)
	// ListRecent returns the most recent events across all users.
	ListRecent(ctx context.Context, limit int) ([]*models.LedgerEvent, error)
}

// eventRepository implements EventRepository over GORM
type eventRepository struct {
	db *gorm.DB
}

// NewEventRepository creates a new EventRepository instance
func NewEventRepository(db *gorm.DB) EventRepository {
	return &eventRepository{db: db}
}

func (r *eventRepository) Append(ctx context.Context, event *models.LedgerEvent) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *eventRepository) ListByUser(ctx context.Context, user string, page, limit int) ([]*models.LedgerEvent, int64, error) {
	var events []*models.LedgerEvent
	var total int64

	query := r.db.WithContext(ctx).Model(&models.LedgerEvent{}).Where("\"user\" = ?", user)
	query.Count(&total)

	offset := (page - 1) * limit
	err := query.Offset(offset).Limit(limit).Order("created_at DESC").Find(&events).Error
	if err != nil {
		return nil, 0, err
	}

	return events, total, nil
}

func (r *eventRepository) ListRecent(ctx context.Context, limit int) ([]*models.LedgerEvent, error) {
	var events []*models.LedgerEvent
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}
