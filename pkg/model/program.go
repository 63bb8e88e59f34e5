package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type ProgramStatus string

const (
	ProgramDraft  ProgramStatus = "draft"
	ProgramActive ProgramStatus = "active"
	ProgramPaused ProgramStatus = "paused"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelCall  Channel = "call"
	ChannelSMS   Channel = "sms"
	ChannelWait  Channel = "wait"
)

// Condition gates a step. A step whose condition is false is skipped and the
// enrollment advances as if it had run.
type Condition string

const (
	ConditionAlways   Condition = "always"
	ConditionNoReply  Condition = "no_reply"
	ConditionNoOpen   Condition = "no_open"
	ConditionNoAnswer Condition = "no_answer"
)

// Program is an outreach sequence or multi-channel workflow.
type Program struct {
	ID      uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID uuid.UUID `gorm:"type:uuid;not null;index"`
	Name    string    `gorm:"not null" validate:"required"`

	TimeZone          string        `gorm:"default:'UTC'"`
	SendDays          pq.Int64Array `gorm:"type:integer[]" validate:"required,min=1,dive,min=1,max=7"`
	WindowStartMinute int           `gorm:"not null" validate:"min=0,max=1439"`
	WindowEndMinute   int           `gorm:"not null" validate:"min=0,max=1439,gtefield=WindowStartMinute"`

	// Zero values are meaningful here, so none of these carry a column
	// default; callers fill in reply and bounce defaults.
	StopOnReply        bool `gorm:"not null"`
	StopOnClick        bool `gorm:"not null"`
	StopOnBounce       bool `gorm:"not null"`
	StopOnCallAnswered bool `gorm:"not null"`

	SenderName         string
	SenderEmail        string `validate:"omitempty,email"`
	AssistantID        string
	CompanyName        string
	ProductDescription string `gorm:"type:text"`
	DailyActionLimit   int    `gorm:"default:0" validate:"min=0"`

	Status ProgramStatus `gorm:"type:varchar(20);default:'draft';index"`

	TotalSent          int64 `gorm:"default:0"`
	TotalOpened        int64 `gorm:"default:0"`
	TotalClicked       int64 `gorm:"default:0"`
	TotalReplied       int64 `gorm:"default:0"`
	TotalBounced       int64 `gorm:"default:0"`
	TotalCallsMade     int64 `gorm:"default:0"`
	TotalCallsAnswered int64 `gorm:"default:0"`

	Steps     []Step `gorm:"foreignKey:ProgramID" validate:"dive"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Step is one timed action of a program.
type Step struct {
	ID         uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	ProgramID  uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_program_step_number"`
	StepNumber int       `gorm:"not null;uniqueIndex:idx_program_step_number" validate:"min=1"`
	Channel    Channel   `gorm:"type:varchar(10);not null" validate:"oneof=email call sms wait"`
	Condition  Condition `gorm:"type:varchar(20);default:'always'" validate:"omitempty,oneof=always no_reply no_open no_answer"`

	DelayDays    int `gorm:"default:0" validate:"min=0"`
	DelayHours   int `gorm:"default:0" validate:"min=0"`
	DelayMinutes int `gorm:"default:0" validate:"min=0"`

	Subject       string
	Body          string `gorm:"type:text"`
	CallToAction  string
	AssistantID   string
	ScriptContext string `gorm:"type:text"`
	Message       string `gorm:"type:text"`

	SentCount int64 `gorm:"default:0"`
	CreatedAt time.Time
}

// Delay is applied after the previous step finished, not from enrollment start.
func (s *Step) Delay() time.Duration {
	return time.Duration(s.DelayDays)*24*time.Hour +
		time.Duration(s.DelayHours)*time.Hour +
		time.Duration(s.DelayMinutes)*time.Minute
}

func (s *Step) EffectiveCondition() Condition {
	if s.Condition == "" {
		return ConditionAlways
	}
	return s.Condition
}

// StepByNumber returns nil when the program has no such step.
func (p *Program) StepByNumber(number int) *Step {
	for i := range p.Steps {
		if p.Steps[i].StepNumber == number {
			return &p.Steps[i]
		}
	}
	return nil
}

func (p *Program) SortSteps() {
	sort.Slice(p.Steps, func(i, j int) bool {
		return p.Steps[i].StepNumber < p.Steps[j].StepNumber
	})
}

// StopsOn reports whether the program halts enrollments on the given reason.
// Unsubscribes always stop.
func (p *Program) StopsOn(reason StopReason) bool {
	switch reason {
	case StopReply:
		return p.StopOnReply
	case StopClick:
		return p.StopOnClick
	case StopBounce:
		return p.StopOnBounce
	case StopCallAnswered:
		return p.StopOnCallAnswered
	case StopUnsubscribe:
		return true
	}
	return false
}

// Counters is an increment applied to program aggregates.
type Counters struct {
	Sent          int64
	Opened        int64
	Clicked       int64
	Replied       int64
	Bounced       int64
	CallsMade     int64
	CallsAnswered int64
}

func (c Counters) IsZero() bool {
	return c == Counters{}
}

// Columns maps non-zero increments to program column names.
func (c Counters) Columns() map[string]int64 {
	columns := make(map[string]int64)
	add := func(name string, v int64) {
		if v != 0 {
			columns[name] = v
		}
	}
	add("total_sent", c.Sent)
	add("total_opened", c.Opened)
	add("total_clicked", c.Clicked)
	add("total_replied", c.Replied)
	add("total_bounced", c.Bounced)
	add("total_calls_made", c.CallsMade)
	add("total_calls_answered", c.CallsAnswered)
	return columns
}

func (p *Program) Apply(c Counters) {
	p.TotalSent += c.Sent
	p.TotalOpened += c.Opened
	p.TotalClicked += c.Clicked
	p.TotalReplied += c.Replied
	p.TotalBounced += c.Bounced
	p.TotalCallsMade += c.CallsMade
	p.TotalCallsAnswered += c.CallsAnswered
}
