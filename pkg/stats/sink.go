// Package stats records step outcomes: the action log, aggregate counters,
// the outbox event, prometheus metrics and the optional analytics archive.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/metrics"
	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store"
)

type Action struct {
	ProgramID    uuid.UUID
	EnrollmentID uuid.UUID
	ContactID    uuid.UUID
	Step         *model.Step
	Channel      model.Channel
	ActionType   string
	Outcome      model.Outcome
	ExternalRef  string
	Error        string
	// Delta is added to the counters implied by the action type.
	Delta model.Counters
	At    time.Time
}

type Sink struct {
	actions store.ActionStore
	archive store.ActionArchive
	logger  *zap.Logger
}

// NewSink builds a sink. archive may be nil.
func NewSink(actions store.ActionStore, archive store.ActionArchive, logger *zap.Logger) *Sink {
	return &Sink{actions: actions, archive: archive, logger: logger}
}

func (s *Sink) Record(ctx context.Context, a Action) error {
	entry := &model.ActionLogEntry{
		ID:           uuid.New(),
		ProgramID:    a.ProgramID,
		EnrollmentID: a.EnrollmentID,
		ContactID:    a.ContactID,
		ActionType:   a.ActionType,
		Outcome:      a.Outcome,
		ExternalRef:  a.ExternalRef,
		ErrorMessage: a.Error,
		CreatedAt:    a.At,
	}
	if a.Step != nil {
		stepID := a.Step.ID
		entry.StepID = &stepID
		entry.StepNumber = a.Step.StepNumber
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}

	delta := sendCounters(entry)
	delta.Sent += a.Delta.Sent
	delta.Opened += a.Delta.Opened
	delta.Clicked += a.Delta.Clicked
	delta.Replied += a.Delta.Replied
	delta.Bounced += a.Delta.Bounced
	delta.CallsMade += a.Delta.CallsMade
	delta.CallsAnswered += a.Delta.CallsAnswered

	if err := s.actions.RecordAction(ctx, entry, delta, outboxEvent(entry)); err != nil {
		return fmt.Errorf("record %s for enrollment %s: %w", entry.ActionType, entry.EnrollmentID, err)
	}

	metrics.ActionsTotal.WithLabelValues(string(a.Channel), entry.ActionType, string(entry.Outcome)).Inc()

	if s.archive != nil {
		if err := s.archive.AppendBatch(ctx, []*model.ActionLogEntry{entry}); err != nil {
			s.logger.Warn("failed to archive action log entry",
				zap.String("enrollment_id", entry.EnrollmentID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

func sendCounters(entry *model.ActionLogEntry) model.Counters {
	if !entry.IsSend() {
		return model.Counters{}
	}
	if entry.ActionType == model.ActionCallInitiated {
		return model.Counters{CallsMade: 1}
	}
	return model.Counters{Sent: 1}
}

func outboxEvent(entry *model.ActionLogEntry) *model.OutboxEvent {
	payload := model.JSONB{
		"action_id":     entry.ID.String(),
		"program_id":    entry.ProgramID.String(),
		"enrollment_id": entry.EnrollmentID.String(),
		"contact_id":    entry.ContactID.String(),
		"step_number":   entry.StepNumber,
		"outcome":       string(entry.Outcome),
		"occurred_at":   entry.CreatedAt.UTC().Format(time.RFC3339),
	}
	if entry.ExternalRef != "" {
		payload["external_ref"] = entry.ExternalRef
	}
	if entry.ErrorMessage != "" {
		payload["error"] = entry.ErrorMessage
	}
	return model.NewOutboxEvent("action."+entry.ActionType, payload)
}
