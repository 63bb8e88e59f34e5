package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store"
)

type EnrollmentRepository struct {
	db *gorm.DB
}

func NewEnrollmentRepository(db *gorm.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) CreateEnrollments(ctx context.Context, enrollments []*model.Enrollment) (int64, error) {
	if len(enrollments) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "program_id"}, {Name: "contact_id"}},
			DoNothing: true,
		}).
		Omit("Contact").
		CreateInBatches(enrollments, 100)
	return result.RowsAffected, result.Error
}

func (r *EnrollmentRepository) GetEnrollment(ctx context.Context, id uuid.UUID) (*model.Enrollment, error) {
	var enrollment model.Enrollment
	err := r.db.WithContext(ctx).
		Preload("Contact").
		First(&enrollment, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &enrollment, nil
}

func (r *EnrollmentRepository) ListDueEnrollments(ctx context.Context, now time.Time, limit int) ([]model.Enrollment, error) {
	var enrollments []model.Enrollment
	err := r.db.WithContext(ctx).
		Preload("Contact").
		Where("status = ? AND next_action_at <= ?", model.EnrollmentActive, now).
		Order("next_action_at ASC").
		Limit(limit).
		Find(&enrollments).Error
	return enrollments, err
}

func (r *EnrollmentRepository) ListDueRetries(ctx context.Context, now time.Time, limit int) ([]model.Enrollment, error) {
	var enrollments []model.Enrollment
	err := r.db.WithContext(ctx).
		Preload("Contact").
		Where("status = ? AND next_retry_at <= ?", model.EnrollmentRetryScheduled, now).
		Order("next_retry_at ASC").
		Limit(limit).
		Find(&enrollments).Error
	return enrollments, err
}

// SaveEnrollment is a compare-and-swap on the version column. open_count and
// click_count are left to IncrementEnrollmentCounters.
func (r *EnrollmentRepository) SaveEnrollment(ctx context.Context, e *model.Enrollment, expectedVersion int) error {
	updates := map[string]interface{}{
		"current_step":     e.CurrentStep,
		"status":           e.Status,
		"next_action_at":   e.NextActionAt,
		"next_action_type": e.NextActionType,
		"next_retry_at":    e.NextRetryAt,
		"retry_count":      e.RetryCount,
		"last_error":       e.LastError,
		"personalization":  e.Personalization,
		"sent_count":       e.SentCount,
		"completed_at":     e.CompletedAt,
		"stopped_at":       e.StoppedAt,
		"version":          expectedVersion + 1,
		"updated_at":       time.Now(),
	}

	result := r.db.WithContext(ctx).
		Model(&model.Enrollment{}).
		Where("id = ? AND version = ?", e.ID, expectedVersion).
		Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrConflict
	}
	e.Version = expectedVersion + 1
	return nil
}

func (r *EnrollmentRepository) PauseEnrollments(ctx context.Context, programID uuid.UUID) (int64, error) {
	updates := map[string]interface{}{
		"status":        model.EnrollmentPaused,
		"next_retry_at": nil,
		"version":       gorm.Expr("version + 1"),
		"updated_at":    time.Now(),
	}
	result := r.db.WithContext(ctx).
		Model(&model.Enrollment{}).
		Where("program_id = ? AND status IN ?", programID,
			[]model.EnrollmentStatus{model.EnrollmentActive, model.EnrollmentRetryScheduled}).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *EnrollmentRepository) ResumeEnrollments(ctx context.Context, programID uuid.UUID, now time.Time) (int64, error) {
	updates := map[string]interface{}{
		"status":         model.EnrollmentActive,
		"next_action_at": now,
		"version":        gorm.Expr("version + 1"),
		"updated_at":     time.Now(),
	}
	result := r.db.WithContext(ctx).
		Model(&model.Enrollment{}).
		Where("program_id = ? AND status = ?", programID, model.EnrollmentPaused).
		Updates(updates)
	return result.RowsAffected, result.Error
}

func (r *EnrollmentRepository) IncrementEnrollmentCounters(ctx context.Context, id uuid.UUID, opens, clicks int) error {
	result := r.db.WithContext(ctx).
		Model(&model.Enrollment{}).
		Where("id = ?", id).
		UpdateColumns(map[string]interface{}{
			"open_count":  gorm.Expr("open_count + ?", opens),
			"click_count": gorm.Expr("click_count + ?", clicks),
		})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}
