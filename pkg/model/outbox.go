package model

import (
	"time"

	"github.com/google/uuid"
)

const (
	OutboxStatusPending   = "pending"
	OutboxStatusPublished = "published"
	OutboxStatusFailed    = "failed"
)

// OutboxEvent is a pending notification about an enrollment, written in the
// same transaction as the state it describes and relayed to kafka later.
type OutboxEvent struct {
	EventID     uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	EventType   string    `gorm:"not null"`
	Payload     JSONB     `gorm:"type:jsonb;not null"`
	Status      string    `gorm:"not null;default:'pending';index"`
	CreatedAt   time.Time `gorm:"autoCreateTime;not null"`
	PublishedAt *time.Time
}

func (OutboxEvent) TableName() string {
	return "outreach_events"
}

func NewOutboxEvent(eventType string, payload JSONB) *OutboxEvent {
	return &OutboxEvent{
		EventID:   uuid.New(),
		EventType: eventType,
		Payload:   payload,
		Status:    OutboxStatusPending,
	}
}
