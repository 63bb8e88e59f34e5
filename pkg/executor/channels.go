package executor

import (
	"context"
	"strings"

	"github.com/badoux/checkmail"

	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/render"
)

type EmailExecutor struct {
	sender EmailSender
}

func NewEmailExecutor(sender EmailSender) *EmailExecutor {
	return &EmailExecutor{sender: sender}
}

func (e *EmailExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	if e.sender == nil {
		return nil, Configuration(model.ChannelEmail, "email provider not configured", nil)
	}
	if req.Contact == nil || req.Contact.Email == "" {
		return nil, Prerequisite(model.ChannelEmail, "contact has no email address")
	}
	if err := checkmail.ValidateFormat(req.Contact.Email); err != nil {
		return nil, Prerequisite(model.ChannelEmail, "invalid email address "+req.Contact.Email)
	}

	vars := render.NewVars(req.Contact, req.Program, req.Personalization)
	vars.CallToAction = req.Step.CallToAction
	subject, err := render.Render("subject", req.Step.Subject, vars)
	if err != nil {
		return nil, Configuration(model.ChannelEmail, "subject template", err)
	}
	body, err := render.Render("body", req.Step.Body, vars)
	if err != nil {
		return nil, Configuration(model.ChannelEmail, "body template", err)
	}

	res, err := e.sender.SendTrackedEmail(ctx, EmailMessage{
		EnrollmentID: req.Enrollment.ID,
		StepNumber:   req.Step.StepNumber,
		To:           req.Contact.Email,
		ToName:       req.Contact.FullName(),
		FromName:     req.Program.SenderName,
		FromEmail:    req.Program.SenderEmail,
		Subject:      subject,
		Body:         body,
		CallToAction: req.Step.CallToAction,
	})
	if err := providerFailure(model.ChannelEmail, res, err); err != nil {
		return nil, err
	}
	return &Result{ActionType: model.ActionEmailSent, ExternalRef: res.ExternalID, Sent: true}, nil
}

type CallExecutor struct {
	initiator CallInitiator
}

func NewCallExecutor(initiator CallInitiator) *CallExecutor {
	return &CallExecutor{initiator: initiator}
}

func (e *CallExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	if e.initiator == nil {
		return nil, Configuration(model.ChannelCall, "voice provider not configured", nil)
	}
	if req.Contact == nil || req.Contact.Phone == "" {
		return nil, Prerequisite(model.ChannelCall, "contact has no phone number")
	}
	assistantID := req.Step.AssistantID
	if assistantID == "" {
		assistantID = req.Program.AssistantID
	}
	if assistantID == "" {
		return nil, Configuration(model.ChannelCall, "no assistant configured", nil)
	}

	callContext, err := e.callContext(req)
	if err != nil {
		return nil, Configuration(model.ChannelCall, "script context template", err)
	}

	res, err := e.initiator.InitiateCall(ctx, CallRequest{
		EnrollmentID: req.Enrollment.ID,
		Phone:        req.Contact.Phone,
		AssistantID:  assistantID,
		CustomerName: req.Contact.FullName(),
		Context:      callContext,
	})
	if err := providerFailure(model.ChannelCall, res, err); err != nil {
		return nil, err
	}
	return &Result{ActionType: model.ActionCallInitiated, ExternalRef: res.ExternalID, Sent: true}, nil
}

// callContext is the briefing handed to the voice assistant.
func (e *CallExecutor) callContext(req *Request) (string, error) {
	script, err := render.Render("script_context", req.Step.ScriptContext,
		render.NewVars(req.Contact, req.Program, req.Personalization))
	if err != nil {
		return "", err
	}

	var b strings.Builder
	line := func(label, value string) {
		if value != "" {
			b.WriteString(label)
			b.WriteString(": ")
			b.WriteString(value)
			b.WriteString("\n")
		}
	}
	line("Calling on behalf of", req.Program.CompanyName)
	line("Product", req.Program.ProductDescription)
	line("Contact", req.Contact.FullName())
	line("Contact company", req.Contact.Company)
	line("Contact position", req.Contact.Position)
	line("Pain point", req.Personalization.PainPoint)
	line("Value proposition", req.Personalization.ValueProposition)
	line("Notes", script)
	return strings.TrimSpace(b.String()), nil
}

// SMSExecutor treats a missing provider as a successful no-op so SMS steps
// never block a workflow.
type SMSExecutor struct {
	sender SMSSender
}

func NewSMSExecutor(sender SMSSender) *SMSExecutor {
	return &SMSExecutor{sender: sender}
}

func (e *SMSExecutor) Execute(ctx context.Context, req *Request) (*Result, error) {
	if e.sender == nil {
		return &Result{ActionType: model.ActionSMSSkipped}, nil
	}
	if req.Contact == nil || req.Contact.Phone == "" {
		return nil, Prerequisite(model.ChannelSMS, "contact has no phone number")
	}

	body, err := render.Render("message", req.Step.Message,
		render.NewVars(req.Contact, req.Program, req.Personalization))
	if err != nil {
		return nil, Configuration(model.ChannelSMS, "message template", err)
	}

	res, err := e.sender.SendSMS(ctx, SMSMessage{
		EnrollmentID: req.Enrollment.ID,
		To:           req.Contact.Phone,
		Body:         body,
	})
	if err := providerFailure(model.ChannelSMS, res, err); err != nil {
		return nil, err
	}
	return &Result{ActionType: model.ActionSMSSent, ExternalRef: res.ExternalID, Sent: true}, nil
}

type WaitExecutor struct{}

func (WaitExecutor) Execute(context.Context, *Request) (*Result, error) {
	return &Result{ActionType: model.ActionWaitCompleted}, nil
}
