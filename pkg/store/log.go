package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow/pkg/model"
)

// ActionArchive is a secondary, append-mostly copy of the action log kept in
// an analytics backend.
type ActionArchive interface {
	// AppendBatch inserts a batch of entries efficiently
	AppendBatch(ctx context.Context, entries []*model.ActionLogEntry) error

	// ListByEnrollment returns the archived history of one enrollment, oldest first
	ListByEnrollment(ctx context.Context, enrollmentID uuid.UUID, limit int) ([]model.ActionLogEntry, error)

	Close() error
}
