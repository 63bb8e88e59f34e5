package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/leadflow/leadflow/pkg/config"
	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store"
)

// Store implements store.Store on postgres. Each concern lives in its own
// repository; Store embeds them all.
type Store struct {
	db *gorm.DB

	*ProgramRepository
	*ContactRepository
	*EnrollmentRepository
	*ActionRepository
	*SignalRepository
	*OutboxRepository
}

var _ store.Store = (*Store)(nil)

func NewStore(cfg *config.DatabaseConfig) (*Store, error) {
	level := logger.Warn
	if cfg.LogSQL {
		level = logger.Info
	}
	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(level),
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}

	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)

	return newStore(db), nil
}

func newStore(db *gorm.DB) *Store {
	return &Store{
		db:                   db,
		ProgramRepository:    NewProgramRepository(db),
		ContactRepository:    NewContactRepository(db),
		EnrollmentRepository: NewEnrollmentRepository(db),
		ActionRepository:     NewActionRepository(db),
		SignalRepository:     NewSignalRepository(db),
		OutboxRepository:     NewOutboxRepository(db),
	}
}

func (s *Store) DB() *gorm.DB {
	return s.db
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) AutoMigrate() error {
	return s.db.AutoMigrate(
		&model.Program{},
		&model.Step{},
		&model.Contact{},
		&model.Enrollment{},
		&model.ActionLogEntry{},
		&model.Signal{},
		&model.OutboxEvent{},
	)
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return store.ErrNotFound
	}
	return err
}

type ProgramRepository struct {
	db *gorm.DB
}

func NewProgramRepository(db *gorm.DB) *ProgramRepository {
	return &ProgramRepository{db: db}
}

func (r *ProgramRepository) CreateProgram(ctx context.Context, program *model.Program) error {
	return r.db.WithContext(ctx).Create(program).Error
}

func (r *ProgramRepository) GetProgram(ctx context.Context, id uuid.UUID) (*model.Program, error) {
	var program model.Program
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_number ASC")
		}).
		First(&program, "id = ?", id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &program, nil
}

func (r *ProgramRepository) ReplaceSteps(ctx context.Context, programID uuid.UUID, steps []model.Step) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&model.Program{}).Where("id = ?", programID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return store.ErrNotFound
		}
		if err := tx.Where("program_id = ?", programID).Delete(&model.Step{}).Error; err != nil {
			return fmt.Errorf("failed to delete steps: %w", err)
		}
		if len(steps) == 0 {
			return nil
		}
		for i := range steps {
			steps[i].ProgramID = programID
			steps[i].ID = uuid.Nil
		}
		if err := tx.Create(&steps).Error; err != nil {
			return fmt.Errorf("failed to insert steps: %w", err)
		}
		return nil
	})
}

func (r *ProgramRepository) UpdateProgramStatus(ctx context.Context, id uuid.UUID, status model.ProgramStatus) error {
	updates := map[string]interface{}{
		"status":     status,
		"updated_at": time.Now(),
	}
	result := r.db.WithContext(ctx).Model(&model.Program{}).Where("id = ?", id).Updates(updates)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (r *ProgramRepository) IncrementProgramCounters(ctx context.Context, id uuid.UUID, delta model.Counters) error {
	return incrementProgram(r.db.WithContext(ctx), id, delta)
}

func incrementProgram(db *gorm.DB, id uuid.UUID, delta model.Counters) error {
	columns := delta.Columns()
	if len(columns) == 0 {
		return nil
	}
	updates := make(map[string]interface{}, len(columns))
	for column, v := range columns {
		updates[column] = gorm.Expr(column+" + ?", v)
	}
	return db.Model(&model.Program{}).Where("id = ?", id).UpdateColumns(updates).Error
}

type ContactRepository struct {
	db *gorm.DB
}

func NewContactRepository(db *gorm.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

func (r *ContactRepository) ListContacts(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]model.Contact, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var contacts []model.Contact
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND id IN ?", ownerID, ids).
		Find(&contacts).Error
	return contacts, err
}
