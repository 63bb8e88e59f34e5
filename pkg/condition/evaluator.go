// Package condition decides whether a due step should run for an enrollment.
package condition

import (
	"context"
	"fmt"

	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store"
)

type Evaluator struct {
	signals store.SignalStore
	actions store.ActionStore
}

func NewEvaluator(signals store.SignalStore, actions store.ActionStore) *Evaluator {
	return &Evaluator{signals: signals, actions: actions}
}

// ShouldExecute returns false when the step must be skipped. Unknown
// conditions behave like always.
func (e *Evaluator) ShouldExecute(ctx context.Context, program *model.Program, enrollment *model.Enrollment, step *model.Step) (bool, error) {
	switch step.EffectiveCondition() {
	case model.ConditionNoReply:
		replied, err := e.signals.HasReply(ctx, program.OwnerID, enrollment.ContactID)
		if err != nil {
			return false, fmt.Errorf("check reply: %w", err)
		}
		return !replied, nil

	case model.ConditionNoOpen:
		return enrollment.OpenCount == 0, nil

	case model.ConditionNoAnswer:
		answered, err := e.actions.HasOutcome(ctx, enrollment.ID, model.OutcomeAnswered)
		if err != nil {
			return false, fmt.Errorf("check answered: %w", err)
		}
		return !answered, nil
	}
	return true, nil
}
