package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Contact is a lead that can be enrolled into programs.
type Contact struct {
	ID           uuid.UUID `gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	OwnerID      uuid.UUID `gorm:"type:uuid;not null;index"`
	Email        string    `gorm:"index"`
	Phone        string
	FirstName    string
	LastName     string
	Company      string
	Position     string
	Website      string
	DoNotContact bool `gorm:"default:false"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (c *Contact) FullName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

func (c *Contact) Reachable() bool {
	return !c.DoNotContact && (c.Email != "" || c.Phone != "")
}

// Personalization is generated once per enrollment and cached on it.
type Personalization struct {
	FirstName        string `json:"first_name"`
	OpeningLine      string `json:"opening_line"`
	PainPoint        string `json:"pain_point"`
	ValueProposition string `json:"value_proposition"`
	FollowUpHook     string `json:"follow_up_hook"`
}

func (p Personalization) JSONB() JSONB {
	return JSONB{
		"first_name":        p.FirstName,
		"opening_line":      p.OpeningLine,
		"pain_point":        p.PainPoint,
		"value_proposition": p.ValueProposition,
		"follow_up_hook":    p.FollowUpHook,
	}
}

func PersonalizationFromJSONB(j JSONB) Personalization {
	get := func(key string) string {
		if v, ok := j[key].(string); ok {
			return v
		}
		return ""
	}
	return Personalization{
		FirstName:        get("first_name"),
		OpeningLine:      get("opening_line"),
		PainPoint:        get("pain_point"),
		ValueProposition: get("value_proposition"),
		FollowUpHook:     get("follow_up_hook"),
	}
}
