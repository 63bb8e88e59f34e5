package stats

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store/memory"
)

type fakeArchive struct {
	entries []*model.ActionLogEntry
	err     error
}

func (f *fakeArchive) AppendBatch(_ context.Context, entries []*model.ActionLogEntry) error {
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, entries...)
	return nil
}

func (f *fakeArchive) ListByEnrollment(context.Context, uuid.UUID, int) ([]model.ActionLogEntry, error) {
	return nil, nil
}

func (f *fakeArchive) Close() error { return nil }

func seedProgram(t *testing.T, st *memory.Store) *model.Program {
	t.Helper()
	program := &model.Program{
		Name:  "welcome",
		Steps: []model.Step{{StepNumber: 1, Channel: model.ChannelEmail}},
	}
	require.NoError(t, st.CreateProgram(context.Background(), program))
	return program
}

func TestRecordSendUpdatesCounters(t *testing.T) {
	st := memory.New()
	program := seedProgram(t, st)
	archive := &fakeArchive{}
	sink := NewSink(st, archive, zap.NewNop())

	step := program.Steps[0]
	err := sink.Record(context.Background(), Action{
		ProgramID:    program.ID,
		EnrollmentID: uuid.New(),
		ContactID:    uuid.New(),
		Step:         &step,
		Channel:      model.ChannelEmail,
		ActionType:   model.ActionEmailSent,
		Outcome:      model.OutcomeSuccess,
		ExternalRef:  "msg-1",
		At:           time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	got, err := st.GetProgram(context.Background(), program.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.TotalSent)
	assert.Equal(t, int64(1), got.Steps[0].SentCount)

	actions := st.Actions()
	require.Len(t, actions, 1)
	assert.Equal(t, model.ActionEmailSent, actions[0].ActionType)
	require.NotNil(t, actions[0].StepID)
	assert.Equal(t, 1, actions[0].StepNumber)

	pending, err := st.ListPending(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "action.email_sent", pending[0].EventType)
	assert.Len(t, archive.entries, 1)
}

func TestRecordCallAndNonSends(t *testing.T) {
	st := memory.New()
	program := seedProgram(t, st)
	sink := NewSink(st, nil, zap.NewNop())
	ctx := context.Background()

	record := func(actionType string, outcome model.Outcome, delta model.Counters) {
		require.NoError(t, sink.Record(ctx, Action{
			ProgramID:    program.ID,
			EnrollmentID: uuid.New(),
			ActionType:   actionType,
			Outcome:      outcome,
			Delta:        delta,
		}))
	}

	record(model.ActionCallInitiated, model.OutcomeSuccess, model.Counters{})
	record(model.ActionEmailSent, model.OutcomeFailure, model.Counters{})
	record(model.ActionStepSkipped, model.OutcomeSkipped, model.Counters{})
	record(model.ActionSMSSkipped, model.OutcomeSuccess, model.Counters{})
	record(model.ActionCallAnswered, model.OutcomeAnswered, model.Counters{CallsAnswered: 1})

	got, err := st.GetProgram(ctx, program.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got.TotalSent)
	assert.Equal(t, int64(1), got.TotalCallsMade)
	assert.Equal(t, int64(1), got.TotalCallsAnswered)
	assert.Len(t, st.Actions(), 5)
}

func TestArchiveFailureDoesNotFailRecord(t *testing.T) {
	st := memory.New()
	program := seedProgram(t, st)
	sink := NewSink(st, &fakeArchive{err: errors.New("clickhouse down")}, zap.NewNop())

	err := sink.Record(context.Background(), Action{
		ProgramID:  program.ID,
		ActionType: model.ActionWaitCompleted,
		Outcome:    model.OutcomeSuccess,
	})
	assert.NoError(t, err)
}
