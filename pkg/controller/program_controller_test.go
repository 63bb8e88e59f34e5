package controller

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/eventbus"
	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store"
	"github.com/leadflow/leadflow/pkg/store/memory"
)

type recordingBus struct {
	events []eventbus.Event
	err    error
}

func (b *recordingBus) Publish(_ context.Context, channel string, event eventbus.Event) error {
	if channel != eventbus.ChannelProgram {
		return errors.New("unexpected channel " + channel)
	}
	b.events = append(b.events, event)
	return b.err
}

var fixedNow = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func newController(t *testing.T) (*ProgramController, *memory.Store, *recordingBus) {
	t.Helper()
	st := memory.New()
	bus := &recordingBus{}
	c := NewProgramController(st, bus, zap.NewNop())
	c.now = func() time.Time { return fixedNow }
	return c, st, bus
}

func validProgram() *model.Program {
	return &model.Program{
		OwnerID:           uuid.New(),
		Name:              "q2 outbound",
		TimeZone:          "Europe/Berlin",
		SendDays:          pq.Int64Array{1, 2, 3, 4, 5},
		WindowStartMinute: 9 * 60,
		WindowEndMinute:   17 * 60,
		Steps: []model.Step{
			{StepNumber: 1, Channel: model.ChannelEmail, DelayHours: 2, Subject: "Hi", Body: "Hello"},
			{StepNumber: 2, Channel: model.ChannelCall, DelayDays: 1},
		},
	}
}

func TestCreateProgramValidates(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *model.Program)
	}{
		{"missing name", func(p *model.Program) { p.Name = "" }},
		{"no send days", func(p *model.Program) { p.SendDays = nil }},
		{"day out of range", func(p *model.Program) { p.SendDays = pq.Int64Array{0, 8} }},
		{"window inverted", func(p *model.Program) { p.WindowEndMinute = 60 }},
		{"unknown channel", func(p *model.Program) { p.Steps[0].Channel = "fax" }},
		{"unknown condition", func(p *model.Program) { p.Steps[0].Condition = "maybe" }},
		{"gap in steps", func(p *model.Program) { p.Steps[1].StepNumber = 3 }},
		{"duplicate step", func(p *model.Program) { p.Steps[1].StepNumber = 1 }},
		{"bad time zone", func(p *model.Program) { p.TimeZone = "Mars/Olympus" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _, _ := newController(t)
			p := validProgram()
			tt.mutate(p)
			err := c.CreateProgram(context.Background(), p)
			assert.ErrorIs(t, err, ErrInvalidProgram)
		})
	}
}

func TestCreateProgramDefaults(t *testing.T) {
	c, st, _ := newController(t)
	p := validProgram()
	p.TimeZone = ""
	p.Status = model.ProgramActive

	require.NoError(t, c.CreateProgram(context.Background(), p))

	got, err := st.GetProgram(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "UTC", got.TimeZone)
	assert.Equal(t, model.ProgramDraft, got.Status)
	assert.Equal(t, model.ConditionAlways, got.Steps[0].Condition)
}

func TestReplaceSteps(t *testing.T) {
	c, st, _ := newController(t)
	p := validProgram()
	require.NoError(t, c.CreateProgram(context.Background(), p))

	err := c.ReplaceSteps(context.Background(), p.ID, []model.Step{
		{StepNumber: 1, Channel: model.ChannelWait, DelayDays: 1},
		{StepNumber: 2, Channel: model.ChannelSMS, Message: "hi"},
		{StepNumber: 3, Channel: model.ChannelEmail, Subject: "s", Body: "b", Condition: model.ConditionNoOpen},
	})
	require.NoError(t, err)

	got, err := st.GetProgram(context.Background(), p.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 3)
	assert.Equal(t, model.ChannelSMS, got.Steps[1].Channel)

	err = c.ReplaceSteps(context.Background(), p.ID, []model.Step{{StepNumber: 2, Channel: model.ChannelWait}})
	assert.ErrorIs(t, err, ErrInvalidProgram)

	err = c.ReplaceSteps(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestActivateEnrollsEligibleContacts(t *testing.T) {
	c, st, bus := newController(t)
	p := validProgram()
	require.NoError(t, c.CreateProgram(context.Background(), p))

	good := &model.Contact{OwnerID: p.OwnerID, Email: "ok@example.com"}
	phoneOnly := &model.Contact{OwnerID: p.OwnerID, Phone: "+4930123"}
	blocked := &model.Contact{OwnerID: p.OwnerID, Email: "dnc@example.com", DoNotContact: true}
	unsubscribed := &model.Contact{OwnerID: p.OwnerID, Email: "Gone@Example.com"}
	empty := &model.Contact{OwnerID: p.OwnerID}
	foreign := &model.Contact{OwnerID: uuid.New(), Email: "other@example.com"}
	for _, contact := range []*model.Contact{good, phoneOnly, blocked, unsubscribed, empty, foreign} {
		st.AddContact(contact)
	}
	require.NoError(t, st.RecordSignal(context.Background(), &model.Signal{
		OwnerID: p.OwnerID,
		Address: "gone@example.com",
		Kind:    model.SignalUnsubscribe,
	}))

	ids := []uuid.UUID{good.ID, phoneOnly.ID, blocked.ID, unsubscribed.ID, empty.ID, foreign.ID}
	created, err := c.Activate(context.Background(), p.ID, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(2), created)

	due, err := st.ListDueEnrollments(context.Background(), fixedNow.Add(2*time.Hour), 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	for _, e := range due {
		assert.Equal(t, 1, e.CurrentStep)
		assert.Equal(t, model.EnrollmentActive, e.Status)
		assert.Equal(t, fixedNow.Add(2*time.Hour), *e.NextActionAt)
		assert.Equal(t, model.ChannelEmail, e.NextActionType)
	}

	got, err := st.GetProgram(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProgramActive, got.Status)
	require.Len(t, bus.events, 1)

	// activating again with the same contacts adds nothing
	created, err = c.Activate(context.Background(), p.ID, ids)
	require.NoError(t, err)
	assert.Zero(t, created)
}

func TestActivateRequiresSteps(t *testing.T) {
	c, _, _ := newController(t)
	p := validProgram()
	p.Steps = nil
	require.NoError(t, c.CreateProgram(context.Background(), p))

	_, err := c.Activate(context.Background(), p.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestPauseAndResume(t *testing.T) {
	c, st, bus := newController(t)
	bus.err = errors.New("redis down")
	p := validProgram()
	require.NoError(t, c.CreateProgram(context.Background(), p))

	contact := &model.Contact{OwnerID: p.OwnerID, Email: "lead@example.com"}
	st.AddContact(contact)
	_, err := c.Activate(context.Background(), p.ID, []uuid.UUID{contact.ID})
	require.NoError(t, err)

	_, err = c.Resume(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	paused, err := c.Pause(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), paused)

	due, err := st.ListDueEnrollments(context.Background(), fixedNow.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = c.Pause(context.Background(), p.ID)
	assert.ErrorIs(t, err, ErrInvalidState)

	resumed, err := c.Resume(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resumed)

	due, err = st.ListDueEnrollments(context.Background(), fixedNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, fixedNow, *due[0].NextActionAt)

	got, err := st.GetProgram(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProgramActive, got.Status)
}

func TestActivateRejectsPausedProgram(t *testing.T) {
	c, st, _ := newController(t)
	p := validProgram()
	require.NoError(t, c.CreateProgram(context.Background(), p))

	first := &model.Contact{OwnerID: p.OwnerID, Email: "first@example.com"}
	second := &model.Contact{OwnerID: p.OwnerID, Email: "second@example.com"}
	st.AddContact(first)
	st.AddContact(second)

	_, err := c.Activate(context.Background(), p.ID, []uuid.UUID{first.ID})
	require.NoError(t, err)
	_, err = c.Pause(context.Background(), p.ID)
	require.NoError(t, err)

	created, err := c.Activate(context.Background(), p.ID, []uuid.UUID{second.ID})
	assert.ErrorIs(t, err, ErrInvalidState)
	assert.Zero(t, created)

	got, err := st.GetProgram(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ProgramPaused, got.Status)

	resumed, err := c.Resume(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), resumed)

	due, err := st.ListDueEnrollments(context.Background(), fixedNow, 10)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, first.ID, due[0].ContactID)
	assert.Equal(t, model.EnrollmentActive, due[0].Status)
}
