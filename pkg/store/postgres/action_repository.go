package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/leadflow/leadflow/pkg/model"
)

type ActionRepository struct {
	db *gorm.DB
}

func NewActionRepository(db *gorm.DB) *ActionRepository {
	return &ActionRepository{db: db}
}

func (r *ActionRepository) RecordAction(ctx context.Context, entry *model.ActionLogEntry, delta model.Counters, event *model.OutboxEvent) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("failed to append action log: %w", err)
		}

		if err := incrementProgram(tx, entry.ProgramID, delta); err != nil {
			return fmt.Errorf("failed to increment program counters: %w", err)
		}

		if entry.StepID != nil && entry.IsSend() {
			err := tx.Model(&model.Step{}).
				Where("id = ?", *entry.StepID).
				UpdateColumn("sent_count", gorm.Expr("sent_count + ?", 1)).Error
			if err != nil {
				return fmt.Errorf("failed to increment step counter: %w", err)
			}
		}

		if event != nil {
			if err := tx.Create(event).Error; err != nil {
				return fmt.Errorf("failed to write outbox event: %w", err)
			}
		}
		return nil
	})
}

func (r *ActionRepository) HasOutcome(ctx context.Context, enrollmentID uuid.UUID, outcome model.Outcome) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ActionLogEntry{}).
		Where("enrollment_id = ? AND outcome = ?", enrollmentID, outcome).
		Limit(1).
		Count(&count).Error
	return count > 0, err
}

func (r *ActionRepository) CountSendsSince(ctx context.Context, programID uuid.UUID, since time.Time) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&model.ActionLogEntry{}).
		Where("program_id = ? AND outcome = ? AND action_type IN ? AND created_at >= ?",
			programID, model.OutcomeSuccess, model.SendActionTypes, since).
		Count(&count).Error
	return count, err
}

type SignalRepository struct {
	db *gorm.DB
}

func NewSignalRepository(db *gorm.DB) *SignalRepository {
	return &SignalRepository{db: db}
}

func (r *SignalRepository) RecordSignal(ctx context.Context, signal *model.Signal) error {
	return r.db.WithContext(ctx).Create(signal).Error
}

func (r *SignalRepository) HasReply(ctx context.Context, ownerID, contactID uuid.UUID) (bool, error) {
	return exists(r.db.WithContext(ctx).
		Where("owner_id = ? AND contact_id = ? AND kind = ?", ownerID, contactID, model.SignalReply))
}

func (r *SignalRepository) IsUnsubscribed(ctx context.Context, ownerID uuid.UUID, address string) (bool, error) {
	return exists(r.db.WithContext(ctx).
		Where("owner_id = ? AND LOWER(address) = LOWER(?) AND kind = ?", ownerID, address, model.SignalUnsubscribe))
}

func exists(query *gorm.DB) (bool, error) {
	var count int64
	err := query.Model(&model.Signal{}).Limit(1).Count(&count).Error
	return count > 0, err
}
