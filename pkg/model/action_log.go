package model

import (
	"time"

	"github.com/google/uuid"
)

type Outcome string

const (
	OutcomeSuccess  Outcome = "success"
	OutcomeFailure  Outcome = "failure"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeAnswered Outcome = "answered"
)

const (
	ActionEmailSent     = "email_sent"
	ActionCallInitiated = "call_initiated"
	ActionSMSSent       = "sms_sent"
	ActionSMSSkipped    = "sms_skipped"
	ActionWaitCompleted = "wait_completed"
	ActionStepSkipped   = "step_skipped"
	ActionCallAnswered  = "call_answered"
)

// SendActionTypes are the action types that count as outbound sends.
var SendActionTypes = []string{ActionEmailSent, ActionCallInitiated, ActionSMSSent}

// ActionLogEntry is the append-only audit record of one step attempt or
// outcome.
type ActionLogEntry struct {
	ID           uuid.UUID  `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ProgramID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_action_program_time"`
	EnrollmentID uuid.UUID  `gorm:"type:uuid;not null;index"`
	StepID       *uuid.UUID `gorm:"type:uuid"`
	StepNumber   int
	ContactID    uuid.UUID `gorm:"type:uuid;not null;index"`
	ActionType   string    `gorm:"type:varchar(30);not null"`
	Outcome      Outcome   `gorm:"type:varchar(20);not null"`
	ExternalRef  string
	ErrorMessage string    `gorm:"type:text"`
	CreatedAt    time.Time `gorm:"not null;index:idx_action_program_time"`
}

func (ActionLogEntry) TableName() string {
	return "action_logs"
}

// IsSend reports whether the entry recorded a real outbound action.
func (a *ActionLogEntry) IsSend() bool {
	if a.Outcome != OutcomeSuccess {
		return false
	}
	switch a.ActionType {
	case ActionEmailSent, ActionCallInitiated, ActionSMSSent:
		return true
	}
	return false
}
