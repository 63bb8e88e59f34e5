package condition

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store/memory"
)

func setup() (*memory.Store, *Evaluator, *model.Program, *model.Enrollment) {
	st := memory.New()
	program := &model.Program{ID: uuid.New(), OwnerID: uuid.New()}
	enrollment := &model.Enrollment{ID: uuid.New(), ProgramID: program.ID, ContactID: uuid.New()}
	return st, NewEvaluator(st, st), program, enrollment
}

func TestAlwaysAndUnknownRun(t *testing.T) {
	_, ev, program, enrollment := setup()
	ctx := context.Background()

	for _, c := range []model.Condition{"", model.ConditionAlways, "on_full_moon"} {
		ok, err := ev.ShouldExecute(ctx, program, enrollment, &model.Step{Condition: c})
		require.NoError(t, err)
		assert.True(t, ok, "condition %q", c)
	}
}

func TestNoReply(t *testing.T) {
	st, ev, program, enrollment := setup()
	ctx := context.Background()
	step := &model.Step{Condition: model.ConditionNoReply}

	ok, err := ev.ShouldExecute(ctx, program, enrollment, step)
	require.NoError(t, err)
	assert.True(t, ok)

	contactID := enrollment.ContactID
	require.NoError(t, st.RecordSignal(ctx, &model.Signal{
		OwnerID:    program.OwnerID,
		ContactID:  &contactID,
		Kind:       model.SignalReply,
		OccurredAt: time.Now(),
	}))

	ok, err = ev.ShouldExecute(ctx, program, enrollment, step)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNoReplyIgnoresOtherOwners(t *testing.T) {
	st, ev, program, enrollment := setup()
	ctx := context.Background()

	contactID := enrollment.ContactID
	require.NoError(t, st.RecordSignal(ctx, &model.Signal{
		OwnerID:   uuid.New(),
		ContactID: &contactID,
		Kind:      model.SignalReply,
	}))

	ok, err := ev.ShouldExecute(ctx, program, enrollment, &model.Step{Condition: model.ConditionNoReply})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNoOpen(t *testing.T) {
	_, ev, program, enrollment := setup()
	step := &model.Step{Condition: model.ConditionNoOpen}

	ok, err := ev.ShouldExecute(context.Background(), program, enrollment, step)
	require.NoError(t, err)
	assert.True(t, ok)

	enrollment.OpenCount = 2
	ok, err = ev.ShouldExecute(context.Background(), program, enrollment, step)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestNoAnswer(t *testing.T) {
	st, ev, program, enrollment := setup()
	ctx := context.Background()
	step := &model.Step{Condition: model.ConditionNoAnswer}

	ok, err := ev.ShouldExecute(ctx, program, enrollment, step)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, st.RecordAction(ctx, &model.ActionLogEntry{
		ProgramID:    program.ID,
		EnrollmentID: enrollment.ID,
		ContactID:    enrollment.ContactID,
		ActionType:   model.ActionCallAnswered,
		Outcome:      model.OutcomeAnswered,
	}, model.Counters{CallsAnswered: 1}, nil))

	ok, err = ev.ShouldExecute(ctx, program, enrollment, step)
	require.NoError(t, err)
	assert.False(t, ok)
}
