package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/leadflow/leadflow/pkg/model"
)

// OutboxRepository backs the relay. Rows are written by RecordAction in the
// same transaction as the action-log entry they describe.
type OutboxRepository struct {
	db *gorm.DB
}

func NewOutboxRepository(db *gorm.DB) *OutboxRepository {
	return &OutboxRepository{db: db}
}

func (r *OutboxRepository) ListPending(ctx context.Context, limit int) ([]model.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	var events []model.OutboxEvent
	err := r.db.WithContext(ctx).
		Where("status = ?", model.OutboxStatusPending).
		Order("created_at ASC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, eventID uuid.UUID, publishedAt time.Time) error {
	return r.settle(ctx, eventID, map[string]interface{}{
		"status":       model.OutboxStatusPublished,
		"published_at": publishedAt,
	})
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, eventID uuid.UUID) error {
	return r.settle(ctx, eventID, map[string]interface{}{"status": model.OutboxStatusFailed})
}

// settle only moves pending rows, so a late retry cannot resurrect a
// failed event as published.
func (r *OutboxRepository) settle(ctx context.Context, eventID uuid.UUID, updates map[string]interface{}) error {
	return r.db.WithContext(ctx).
		Model(&model.OutboxEvent{}).
		Where("event_id = ? AND status = ?", eventID, model.OutboxStatusPending).
		Updates(updates).Error
}

func (r *OutboxRepository) PurgePublished(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Where("status = ? AND published_at < ?", model.OutboxStatusPublished, before).
		Delete(&model.OutboxEvent{})
	return result.RowsAffected, result.Error
}
