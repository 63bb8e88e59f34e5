package model

import (
	"time"

	"github.com/google/uuid"
)

type EnrollmentStatus string

const (
	EnrollmentActive             EnrollmentStatus = "active"
	EnrollmentRetryScheduled     EnrollmentStatus = "retry_scheduled"
	EnrollmentPaused             EnrollmentStatus = "paused"
	EnrollmentCompleted          EnrollmentStatus = "completed"
	EnrollmentFailed             EnrollmentStatus = "failed"
	EnrollmentStoppedReply       EnrollmentStatus = "stopped_reply"
	EnrollmentStoppedClick       EnrollmentStatus = "stopped_click"
	EnrollmentStoppedBounce      EnrollmentStatus = "stopped_bounce"
	EnrollmentStoppedUnsubscribe EnrollmentStatus = "stopped_unsubscribe"
	EnrollmentStoppedCall        EnrollmentStatus = "stopped_call"
)

type StopReason string

const (
	StopReply        StopReason = "reply"
	StopClick        StopReason = "click"
	StopBounce       StopReason = "bounce"
	StopCallAnswered StopReason = "call_answered"
	StopUnsubscribe  StopReason = "unsubscribe"
)

// StoppedStatus maps a stop reason to its terminal status.
func (r StopReason) StoppedStatus() (EnrollmentStatus, bool) {
	switch r {
	case StopReply:
		return EnrollmentStoppedReply, true
	case StopClick:
		return EnrollmentStoppedClick, true
	case StopBounce:
		return EnrollmentStoppedBounce, true
	case StopCallAnswered:
		return EnrollmentStoppedCall, true
	case StopUnsubscribe:
		return EnrollmentStoppedUnsubscribe, true
	}
	return "", false
}

func (s EnrollmentStatus) IsTerminal() bool {
	switch s {
	case EnrollmentCompleted, EnrollmentFailed,
		EnrollmentStoppedReply, EnrollmentStoppedClick, EnrollmentStoppedBounce,
		EnrollmentStoppedUnsubscribe, EnrollmentStoppedCall:
		return true
	}
	return false
}

// IsLive reports whether the scheduler may still act on the enrollment.
func (s EnrollmentStatus) IsLive() bool {
	return s == EnrollmentActive || s == EnrollmentRetryScheduled
}

// Enrollment is one contact's progress through one program. Only the
// scheduler and the event stop handler write it, always through a
// version-checked update.
type Enrollment struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ProgramID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_program_contact"`
	ContactID uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_program_contact"`
	Contact   *Contact  `gorm:"foreignKey:ContactID"`

	// CurrentStep points at the pending step. Zero means not started and
	// resolves to step 1.
	CurrentStep    int              `gorm:"default:0"`
	Status         EnrollmentStatus `gorm:"type:varchar(30);default:'active';index:idx_enrollment_due"`
	NextActionAt   *time.Time       `gorm:"index:idx_enrollment_due"`
	NextActionType Channel          `gorm:"type:varchar(10)"`
	NextRetryAt    *time.Time       `gorm:"index"`
	RetryCount     int              `gorm:"default:0"`
	LastError      string           `gorm:"type:text"`

	Personalization JSONB `gorm:"type:jsonb"`

	SentCount  int `gorm:"default:0"`
	OpenCount  int `gorm:"default:0"`
	ClickCount int `gorm:"default:0"`

	Version     int `gorm:"not null;default:0"`
	CompletedAt *time.Time
	StoppedAt   *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (e *Enrollment) PendingStep() int {
	if e.CurrentStep < 1 {
		return 1
	}
	return e.CurrentStep
}

// Advance moves the pointer past the step that just ran or was skipped.
// A nil next step completes the enrollment.
func (e *Enrollment) Advance(next *Step, now time.Time) bool {
	if e.Status.IsTerminal() {
		return false
	}
	e.RetryCount = 0
	e.LastError = ""
	e.NextRetryAt = nil
	if next == nil {
		e.Status = EnrollmentCompleted
		e.NextActionAt = nil
		e.NextActionType = ""
		e.CompletedAt = &now
		return true
	}
	due := now.Add(next.Delay())
	e.CurrentStep = next.StepNumber
	e.Status = EnrollmentActive
	e.NextActionAt = &due
	e.NextActionType = next.Channel
	return true
}

// Reschedule keeps the enrollment on its current step and moves the due time.
func (e *Enrollment) Reschedule(at time.Time, lastError string) bool {
	if e.Status.IsTerminal() {
		return false
	}
	e.Status = EnrollmentActive
	e.NextActionAt = &at
	e.NextRetryAt = nil
	e.LastError = lastError
	return true
}

// ScheduleRetrySlot parks the enrollment in the dedicated retry slot used by
// call steps. NextActionAt mirrors the retry time so the row never looks
// unscheduled.
func (e *Enrollment) ScheduleRetrySlot(at time.Time, lastError string) bool {
	if e.Status.IsTerminal() {
		return false
	}
	e.Status = EnrollmentRetryScheduled
	e.NextRetryAt = &at
	e.NextActionAt = &at
	e.LastError = lastError
	return true
}

func (e *Enrollment) Fail(lastError string, now time.Time) bool {
	if e.Status.IsTerminal() {
		return false
	}
	e.Status = EnrollmentFailed
	e.LastError = lastError
	e.clearSchedule()
	e.StoppedAt = &now
	return true
}

func (e *Enrollment) Stop(reason StopReason, now time.Time) bool {
	status, ok := reason.StoppedStatus()
	if !ok || !e.Status.IsLive() {
		return false
	}
	e.Status = status
	e.clearSchedule()
	e.StoppedAt = &now
	return true
}

func (e *Enrollment) Pause() bool {
	if !e.Status.IsLive() {
		return false
	}
	e.Status = EnrollmentPaused
	e.NextRetryAt = nil
	return true
}

// Resume makes a paused enrollment due immediately.
func (e *Enrollment) Resume(now time.Time) bool {
	if e.Status != EnrollmentPaused {
		return false
	}
	e.Status = EnrollmentActive
	e.NextActionAt = &now
	return true
}

func (e *Enrollment) clearSchedule() {
	e.NextActionAt = nil
	e.NextActionType = ""
	e.NextRetryAt = nil
}

// Personalized returns the cached personalization, if any.
func (e *Enrollment) Personalized() (Personalization, bool) {
	if len(e.Personalization) == 0 {
		return Personalization{}, false
	}
	return PersonalizationFromJSONB(e.Personalization), true
}
