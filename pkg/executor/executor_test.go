package executor

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/model"
)

type fakeEmail struct {
	sent []EmailMessage
	res  SendResult
	err  error
}

func (f *fakeEmail) SendTrackedEmail(_ context.Context, msg EmailMessage) (SendResult, error) {
	f.sent = append(f.sent, msg)
	return f.res, f.err
}

type fakeCalls struct {
	calls []CallRequest
	res   SendResult
	err   error
}

func (f *fakeCalls) InitiateCall(_ context.Context, req CallRequest) (SendResult, error) {
	f.calls = append(f.calls, req)
	return f.res, f.err
}

type fakeSMS struct {
	sent []SMSMessage
}

func (f *fakeSMS) SendSMS(_ context.Context, msg SMSMessage) (SendResult, error) {
	f.sent = append(f.sent, msg)
	return SendResult{Success: true, ExternalID: "sms-1"}, nil
}

type fakePersonalizer struct {
	calls int
	err   error
}

func (f *fakePersonalizer) GeneratePersonalization(context.Context, *model.Contact, *model.Program) (model.Personalization, error) {
	f.calls++
	if f.err != nil {
		return model.Personalization{}, f.err
	}
	return model.Personalization{OpeningLine: "Saw your launch."}, nil
}

func request(channel model.Channel) *Request {
	return &Request{
		Program: &model.Program{
			ID:          uuid.New(),
			SenderName:  "Sam",
			SenderEmail: "sam@leadflow.io",
			CompanyName: "LeadFlow",
			AssistantID: "asst-default",
		},
		Enrollment: &model.Enrollment{ID: uuid.New()},
		Contact: &model.Contact{
			FirstName: "Ada",
			LastName:  "Lovelace",
			Email:     "ada@example.com",
			Phone:     "+15550100",
			Company:   "Engines Ltd",
		},
		Step: &model.Step{
			StepNumber:    1,
			Channel:       channel,
			Subject:       "Hi {{first_name}}",
			Body:          "{{opening_line}} Want to chat, {{first_name}}?",
			ScriptContext: "Ask {{first_name}} about onboarding",
			Message:       "Hi {{first_name}}, it's {{sender_name}}",
		},
		Personalization: model.Personalization{OpeningLine: "Saw your launch."},
	}
}

func TestEmailExecutorSends(t *testing.T) {
	sender := &fakeEmail{res: SendResult{Success: true, ExternalID: "msg-1"}}
	res, err := NewEmailExecutor(sender).Execute(context.Background(), request(model.ChannelEmail))
	require.NoError(t, err)

	assert.Equal(t, model.ActionEmailSent, res.ActionType)
	assert.Equal(t, "msg-1", res.ExternalRef)
	assert.True(t, res.Sent)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Hi Ada", sender.sent[0].Subject)
	assert.Equal(t, "Saw your launch. Want to chat, Ada?", sender.sent[0].Body)
	assert.Equal(t, "sam@leadflow.io", sender.sent[0].FromEmail)
}

func TestEmailExecutorErrorKinds(t *testing.T) {
	ctx := context.Background()

	req := request(model.ChannelEmail)
	req.Contact.Email = ""
	_, err := NewEmailExecutor(&fakeEmail{}).Execute(ctx, req)
	assert.Equal(t, KindPrerequisite, KindOf(err))

	req = request(model.ChannelEmail)
	req.Contact.Email = "not-an-address"
	_, err = NewEmailExecutor(&fakeEmail{}).Execute(ctx, req)
	assert.Equal(t, KindPrerequisite, KindOf(err))

	_, err = NewEmailExecutor(nil).Execute(ctx, request(model.ChannelEmail))
	assert.Equal(t, KindConfiguration, KindOf(err))

	req = request(model.ChannelEmail)
	req.Step.Body = "Hi {{nickname}}"
	_, err = NewEmailExecutor(&fakeEmail{}).Execute(ctx, req)
	assert.Equal(t, KindConfiguration, KindOf(err))

	_, err = NewEmailExecutor(&fakeEmail{err: errors.New("timeout")}).Execute(ctx, request(model.ChannelEmail))
	assert.Equal(t, KindTransient, KindOf(err))

	_, err = NewEmailExecutor(&fakeEmail{res: SendResult{Error: "452 mailbox busy"}}).Execute(ctx, request(model.ChannelEmail))
	require.Error(t, err)
	assert.Equal(t, KindTransient, KindOf(err))
	assert.Contains(t, err.Error(), "452 mailbox busy")
}

func TestCallExecutor(t *testing.T) {
	ctx := context.Background()
	calls := &fakeCalls{res: SendResult{Success: true, ExternalID: "call-9"}}

	req := request(model.ChannelCall)
	res, err := NewCallExecutor(calls).Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, model.ActionCallInitiated, res.ActionType)
	assert.Equal(t, "call-9", res.ExternalRef)
	require.Len(t, calls.calls, 1)
	assert.Equal(t, "asst-default", calls.calls[0].AssistantID)
	assert.Contains(t, calls.calls[0].Context, "Calling on behalf of: LeadFlow")
	assert.Contains(t, calls.calls[0].Context, "Ask Ada about onboarding")

	req = request(model.ChannelCall)
	req.Step.AssistantID = "asst-step"
	_, err = NewCallExecutor(calls).Execute(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "asst-step", calls.calls[1].AssistantID)
}

func TestCallExecutorErrorKinds(t *testing.T) {
	ctx := context.Background()

	req := request(model.ChannelCall)
	req.Contact.Phone = ""
	_, err := NewCallExecutor(&fakeCalls{}).Execute(ctx, req)
	assert.Equal(t, KindPrerequisite, KindOf(err))

	req = request(model.ChannelCall)
	req.Program.AssistantID = ""
	_, err = NewCallExecutor(&fakeCalls{}).Execute(ctx, req)
	assert.Equal(t, KindConfiguration, KindOf(err))

	_, err = NewCallExecutor(nil).Execute(ctx, request(model.ChannelCall))
	assert.Equal(t, KindConfiguration, KindOf(err))

	_, err = NewCallExecutor(&fakeCalls{err: errors.New("503")}).Execute(ctx, request(model.ChannelCall))
	assert.Equal(t, KindTransient, KindOf(err))
}

func TestSMSExecutor(t *testing.T) {
	ctx := context.Background()

	res, err := NewSMSExecutor(nil).Execute(ctx, request(model.ChannelSMS))
	require.NoError(t, err)
	assert.Equal(t, model.ActionSMSSkipped, res.ActionType)
	assert.False(t, res.Sent)

	sender := &fakeSMS{}
	res, err = NewSMSExecutor(sender).Execute(ctx, request(model.ChannelSMS))
	require.NoError(t, err)
	assert.Equal(t, model.ActionSMSSent, res.ActionType)
	assert.True(t, res.Sent)
	require.Len(t, sender.sent, 1)
	assert.Equal(t, "Hi Ada, it's Sam", sender.sent[0].Body)

	req := request(model.ChannelSMS)
	req.Contact.Phone = ""
	_, err = NewSMSExecutor(sender).Execute(ctx, req)
	assert.Equal(t, KindPrerequisite, KindOf(err))
}

func TestRegistryDispatch(t *testing.T) {
	email := &fakeEmail{res: SendResult{Success: true}}
	registry := NewDefaultRegistry(email, nil, nil, 0, 0)
	ctx := context.Background()

	res, err := registry.Execute(ctx, request(model.ChannelWait))
	require.NoError(t, err)
	assert.Equal(t, model.ActionWaitCompleted, res.ActionType)
	assert.False(t, res.Sent)

	_, err = registry.Execute(ctx, request(model.ChannelEmail))
	require.NoError(t, err)
	assert.Len(t, email.sent, 1)

	_, err = registry.Execute(ctx, request("fax"))
	assert.Equal(t, KindConfiguration, KindOf(err))
}

func TestRegistryThrottleHonoursContext(t *testing.T) {
	registry := NewDefaultRegistry(&fakeEmail{res: SendResult{Success: true}}, nil, nil, 0.001, 1)
	ctx := context.Background()

	_, err := registry.Execute(ctx, request(model.ChannelEmail))
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = registry.Execute(cancelled, request(model.ChannelEmail))
	assert.Equal(t, KindTransient, KindOf(err))
}

func TestKindOfDefaultsToTransient(t *testing.T) {
	assert.Equal(t, KindTransient, KindOf(errors.New("boom")))
}

func TestPersonalizationCache(t *testing.T) {
	ctx := context.Background()
	gen := &fakePersonalizer{}
	cache := NewPersonalizationCache(gen, zap.NewNop())
	req := request(model.ChannelEmail)

	p := cache.Ensure(ctx, req.Program, req.Enrollment, req.Contact)
	assert.Equal(t, "Saw your launch.", p.OpeningLine)
	assert.Equal(t, "Ada", p.FirstName)
	assert.NotEmpty(t, req.Enrollment.Personalization)

	cache.Ensure(ctx, req.Program, req.Enrollment, req.Contact)
	assert.Equal(t, 1, gen.calls)
}

func TestPersonalizationCacheFallbackIsNotCached(t *testing.T) {
	ctx := context.Background()
	gen := &fakePersonalizer{err: errors.New("model unavailable")}
	cache := NewPersonalizationCache(gen, zap.NewNop())
	req := request(model.ChannelEmail)

	p := cache.Ensure(ctx, req.Program, req.Enrollment, req.Contact)
	assert.Equal(t, "Ada", p.FirstName)
	assert.Empty(t, p.OpeningLine)
	assert.Empty(t, req.Enrollment.Personalization)

	cache.Ensure(ctx, req.Program, req.Enrollment, req.Contact)
	assert.Equal(t, 2, gen.calls)
}
