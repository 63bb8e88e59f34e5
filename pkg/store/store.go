package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow/pkg/model"
)

var (
	ErrNotFound = errors.New("record not found")
	// ErrConflict means a version-checked update matched no row because the
	// enrollment changed since it was read.
	ErrConflict = errors.New("enrollment was modified concurrently")
)

type ProgramStore interface {
	CreateProgram(ctx context.Context, program *model.Program) error
	// GetProgram returns the program with its steps ordered by step number.
	GetProgram(ctx context.Context, id uuid.UUID) (*model.Program, error)
	// ReplaceSteps deletes every step of the program and inserts steps.
	ReplaceSteps(ctx context.Context, programID uuid.UUID, steps []model.Step) error
	UpdateProgramStatus(ctx context.Context, id uuid.UUID, status model.ProgramStatus) error
	IncrementProgramCounters(ctx context.Context, id uuid.UUID, delta model.Counters) error
}

type ContactStore interface {
	ListContacts(ctx context.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]model.Contact, error)
}

type EnrollmentStore interface {
	// CreateEnrollments inserts enrollments, ignoring any (program, contact)
	// pair that already exists. It returns the number inserted.
	CreateEnrollments(ctx context.Context, enrollments []*model.Enrollment) (int64, error)
	GetEnrollment(ctx context.Context, id uuid.UUID) (*model.Enrollment, error)
	// ListDueEnrollments returns active enrollments with next_action_at <= now,
	// oldest first, with their contact loaded.
	ListDueEnrollments(ctx context.Context, now time.Time, limit int) ([]model.Enrollment, error)
	// ListDueRetries returns retry_scheduled enrollments with next_retry_at <= now.
	ListDueRetries(ctx context.Context, now time.Time, limit int) ([]model.Enrollment, error)
	// SaveEnrollment writes every mutable field of e if the stored version
	// equals expectedVersion, and bumps the version. ErrConflict otherwise.
	SaveEnrollment(ctx context.Context, e *model.Enrollment, expectedVersion int) error
	// PauseEnrollments moves live enrollments of a program to paused.
	PauseEnrollments(ctx context.Context, programID uuid.UUID) (int64, error)
	// ResumeEnrollments makes paused enrollments of a program active and due at now.
	ResumeEnrollments(ctx context.Context, programID uuid.UUID, now time.Time) (int64, error)
	IncrementEnrollmentCounters(ctx context.Context, id uuid.UUID, opens, clicks int) error
}

type ActionStore interface {
	// RecordAction appends the entry and applies counters and the optional
	// outbox event atomically. stepID may be nil.
	RecordAction(ctx context.Context, entry *model.ActionLogEntry, delta model.Counters, event *model.OutboxEvent) error
	HasOutcome(ctx context.Context, enrollmentID uuid.UUID, outcome model.Outcome) (bool, error)
	// CountSendsSince counts successful outbound actions of a program.
	CountSendsSince(ctx context.Context, programID uuid.UUID, since time.Time) (int64, error)
}

type SignalStore interface {
	RecordSignal(ctx context.Context, signal *model.Signal) error
	HasReply(ctx context.Context, ownerID, contactID uuid.UUID) (bool, error)
	IsUnsubscribed(ctx context.Context, ownerID uuid.UUID, address string) (bool, error)
}

type OutboxStore interface {
	ListPending(ctx context.Context, limit int) ([]model.OutboxEvent, error)
	MarkPublished(ctx context.Context, eventID uuid.UUID, publishedAt time.Time) error
	MarkFailed(ctx context.Context, eventID uuid.UUID) error
	// PurgePublished deletes published events older than before.
	PurgePublished(ctx context.Context, before time.Time) (int64, error)
}

// Store is the single source of truth for outreach state.
type Store interface {
	ProgramStore
	ContactStore
	EnrollmentStore
	ActionStore
	SignalStore
	OutboxStore
}
