package clickhouse

import (
	"context"
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/config"
	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store"
)

// ActionLogStore archives action-log entries in ClickHouse for reporting.
type ActionLogStore struct {
	conn   driver.Conn
	logger *zap.Logger
}

var _ store.ActionArchive = (*ActionLogStore)(nil)

func NewActionLogStore(cfg *config.ClickHouseConfig, logger *zap.Logger) (*ActionLogStore, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.User,
			Password: cfg.Password,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to clickhouse: %w", err)
	}

	if err := conn.Ping(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to ping clickhouse: %w", err)
	}

	return &ActionLogStore{
		conn:   conn,
		logger: logger,
	}, nil
}

func (s *ActionLogStore) AppendBatch(ctx context.Context, entries []*model.ActionLogEntry) error {
	if len(entries) == 0 {
		return nil
	}

	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO action_logs")
	if err != nil {
		return err
	}

	for _, entry := range entries {
		stepID := uuid.Nil
		if entry.StepID != nil {
			stepID = *entry.StepID
		}
		err := batch.Append(
			entry.ID,
			entry.ProgramID,
			entry.EnrollmentID,
			stepID,
			int32(entry.StepNumber),
			entry.ContactID,
			entry.ActionType,
			string(entry.Outcome),
			entry.ExternalRef,
			entry.ErrorMessage,
			entry.CreatedAt,
		)
		if err != nil {
			return err
		}
	}

	return batch.Send()
}

func (s *ActionLogStore) ListByEnrollment(ctx context.Context, enrollmentID uuid.UUID, limit int) ([]model.ActionLogEntry, error) {
	query := `SELECT id, program_id, enrollment_id, step_id, step_number, contact_id,
		action_type, outcome, external_ref, error_message, created_at
		FROM action_logs WHERE enrollment_id = ? ORDER BY created_at ASC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.conn.Query(ctx, query, enrollmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []model.ActionLogEntry
	for rows.Next() {
		var (
			entry      model.ActionLogEntry
			stepID     uuid.UUID
			stepNumber int32
			outcome    string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.ProgramID,
			&entry.EnrollmentID,
			&stepID,
			&stepNumber,
			&entry.ContactID,
			&entry.ActionType,
			&outcome,
			&entry.ExternalRef,
			&entry.ErrorMessage,
			&entry.CreatedAt,
		); err != nil {
			return nil, err
		}
		if stepID != uuid.Nil {
			entry.StepID = &stepID
		}
		entry.StepNumber = int(stepNumber)
		entry.Outcome = model.Outcome(outcome)
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}

func (s *ActionLogStore) Close() error {
	return s.conn.Close()
}

// EnsureSchema creates the table if not exists
func (s *ActionLogStore) EnsureSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS action_logs (
		id UUID,
		program_id UUID,
		enrollment_id UUID,
		step_id UUID,
		step_number Int32,
		contact_id UUID,
		action_type LowCardinality(String),
		outcome LowCardinality(String),
		external_ref String,
		error_message String Codec(ZSTD),
		created_at DateTime64(3)
	)
	ENGINE = MergeTree()
	ORDER BY (program_id, enrollment_id, created_at)
	PARTITION BY toYYYYMM(created_at)
	TTL toDateTime(created_at) + INTERVAL 365 DAY
	`
	return s.conn.Exec(ctx, query)
}
