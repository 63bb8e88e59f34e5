// Package executor performs the channel-specific action of a due step.
// Each channel has a StepExecutor; the Registry dispatches by channel and
// throttles outbound sends.
package executor

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow/pkg/model"
)

type Request struct {
	Program         *model.Program
	Enrollment      *model.Enrollment
	Contact         *model.Contact
	Step            *model.Step
	Personalization model.Personalization
	Now             time.Time
}

type Result struct {
	ActionType  string
	ExternalRef string
	// Sent is false for steps that completed without an outbound action.
	Sent bool
}

type StepExecutor interface {
	Execute(ctx context.Context, req *Request) (*Result, error)
}

// SendResult is what a provider reports for one outbound action.
type SendResult struct {
	Success    bool
	ExternalID string
	Error      string
}

type EmailMessage struct {
	EnrollmentID uuid.UUID
	StepNumber   int
	To           string
	ToName       string
	FromName     string
	FromEmail    string
	Subject      string
	Body         string
	CallToAction string
}

type EmailSender interface {
	SendTrackedEmail(ctx context.Context, msg EmailMessage) (SendResult, error)
}

type CallRequest struct {
	EnrollmentID uuid.UUID
	Phone        string
	AssistantID  string
	CustomerName string
	Context      string
}

type CallInitiator interface {
	InitiateCall(ctx context.Context, req CallRequest) (SendResult, error)
}

type SMSMessage struct {
	EnrollmentID uuid.UUID
	To           string
	Body         string
}

type SMSSender interface {
	SendSMS(ctx context.Context, msg SMSMessage) (SendResult, error)
}

type Personalizer interface {
	GeneratePersonalization(ctx context.Context, contact *model.Contact, program *model.Program) (model.Personalization, error)
}

type SuppressionList interface {
	IsUnsubscribed(ctx context.Context, ownerID uuid.UUID, address string) (bool, error)
}

func providerFailure(channel model.Channel, res SendResult, err error) error {
	if err != nil {
		return Transient(channel, "provider call failed", err)
	}
	if !res.Success {
		msg := res.Error
		if msg == "" {
			msg = "provider rejected the request"
		}
		return Transient(channel, msg, nil)
	}
	return nil
}
