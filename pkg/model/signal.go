package model

import (
	"time"

	"github.com/google/uuid"
)

type SignalKind string

const (
	SignalReply       SignalKind = "reply"
	SignalUnsubscribe SignalKind = "unsubscribe"
	SignalBounce      SignalKind = "bounce"
)

// Signal is an inbound fact about a contact, scoped to the owner who
// received it.
type Signal struct {
	ID         uuid.UUID  `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID    uuid.UUID  `gorm:"type:uuid;not null;index:idx_signal_owner_contact"`
	ContactID  *uuid.UUID `gorm:"type:uuid;index:idx_signal_owner_contact"`
	Address    string     `gorm:"index"`
	Kind       SignalKind `gorm:"type:varchar(20);not null"`
	OccurredAt time.Time  `gorm:"not null"`
}
