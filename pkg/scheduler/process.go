package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/executor"
	"github.com/leadflow/leadflow/pkg/metrics"
	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/stats"
	"github.com/leadflow/leadflow/pkg/store"
	"github.com/leadflow/leadflow/pkg/window"
)

// safeProcess isolates one enrollment so a panic cannot take down the tick.
func (s *Scheduler) safeProcess(ctx context.Context, programs *programCache, e *model.Enrollment, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic while processing enrollment",
				zap.String("enrollment_id", e.ID.String()),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
			sentry.WithScope(func(scope *sentry.Scope) {
				scope.SetTag("component", "scheduler")
				scope.SetExtra("enrollment_id", e.ID.String())
				sentry.CaptureException(fmt.Errorf("panic processing enrollment %s: %v", e.ID, r))
			})
		}
	}()

	if err := s.process(ctx, programs, e, now); err != nil {
		s.logger.Error("failed to process enrollment",
			zap.String("enrollment_id", e.ID.String()),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) process(ctx context.Context, programs *programCache, e *model.Enrollment, now time.Time) error {
	log := s.logger.With(
		zap.String("enrollment_id", e.ID.String()),
		zap.String("program_id", e.ProgramID.String()),
	)

	program, err := programs.get(ctx, e.ProgramID)
	if err != nil {
		return fmt.Errorf("load program: %w", err)
	}
	if program.Status != model.ProgramActive {
		return nil
	}
	if !window.IsWithinWindow(window.ForProgram(program), now) {
		return nil
	}
	if s.quotas != nil {
		ok, err := s.quotas.Allow(ctx, program, now)
		if err != nil {
			return err
		}
		if !ok {
			log.Debug("daily action limit reached")
			return nil
		}
	}

	version := e.Version
	before := e.Status
	contact := e.Contact

	if contact != nil {
		optedOut, err := s.optedOut(ctx, program, contact)
		if err != nil {
			return err
		}
		if optedOut {
			e.Stop(model.StopUnsubscribe, now)
			return s.save(ctx, e, version, before)
		}
	}

	step := program.StepByNumber(e.PendingStep())
	if step == nil {
		// steps were replaced with a shorter list
		e.Advance(nil, now)
		return s.save(ctx, e, version, before)
	}

	run, err := s.evaluator.ShouldExecute(ctx, program, e, step)
	if err != nil {
		return err
	}
	if !run {
		if err := s.record(ctx, program, e, step, model.ActionStepSkipped, model.OutcomeSkipped, "", "", now); err != nil {
			return err
		}
		e.Advance(nextStep(program, step), now)
		return s.save(ctx, e, version, before)
	}

	req := &executor.Request{
		Program:    program,
		Enrollment: e,
		Contact:    contact,
		Step:       step,
		Now:        now,
	}
	if step.Channel != model.ChannelWait && s.personalizer != nil {
		req.Personalization = s.personalizer.Ensure(ctx, program, e, contact)
	}

	result, execErr := s.executors.Execute(ctx, req)
	if execErr == nil {
		if err := s.record(ctx, program, e, step, result.ActionType, model.OutcomeSuccess, result.ExternalRef, "", now); err != nil {
			return err
		}
		if result.Sent {
			e.SentCount++
		}
		e.Advance(nextStep(program, step), now)
		return s.save(ctx, e, version, before)
	}

	switch executor.KindOf(execErr) {
	case executor.KindConfiguration:
		log.Warn("step blocked by configuration, will recheck",
			zap.Int("step", step.StepNumber),
			zap.Duration("recheck_in", s.cfg.ConfigRecheckDelay),
			zap.Error(execErr),
		)
		e.Reschedule(now.Add(s.cfg.ConfigRecheckDelay), execErr.Error())

	case executor.KindPrerequisite:
		log.Info("contact cannot receive step, skipping",
			zap.Int("step", step.StepNumber),
			zap.Error(execErr),
		)
		if err := s.record(ctx, program, e, step, failedActionType(step.Channel), model.OutcomeFailure, "", execErr.Error(), now); err != nil {
			return err
		}
		e.Advance(nextStep(program, step), now)

	default:
		if err := s.record(ctx, program, e, step, failedActionType(step.Channel), model.OutcomeFailure, "", execErr.Error(), now); err != nil {
			return err
		}
		decision := s.retries.Apply(e, step.Channel, execErr, now)
		metrics.RetriesTotal.WithLabelValues(string(step.Channel), string(decision.Outcome)).Inc()
		log.Warn("step failed",
			zap.Int("step", step.StepNumber),
			zap.Int("attempt", decision.Attempt),
			zap.String("decision", string(decision.Outcome)),
			zap.Error(execErr),
		)
	}
	return s.save(ctx, e, version, before)
}

func (s *Scheduler) optedOut(ctx context.Context, program *model.Program, contact *model.Contact) (bool, error) {
	if contact.DoNotContact {
		return true, nil
	}
	if contact.Email == "" {
		return false, nil
	}
	unsubscribed, err := s.store.IsUnsubscribed(ctx, program.OwnerID, contact.Email)
	if err != nil {
		return false, fmt.Errorf("check suppression list: %w", err)
	}
	return unsubscribed, nil
}

func (s *Scheduler) record(ctx context.Context, program *model.Program, e *model.Enrollment, step *model.Step,
	actionType string, outcome model.Outcome, externalRef, errMsg string, now time.Time) error {
	return s.sink.Record(ctx, stats.Action{
		ProgramID:    program.ID,
		EnrollmentID: e.ID,
		ContactID:    e.ContactID,
		Step:         step,
		Channel:      step.Channel,
		ActionType:   actionType,
		Outcome:      outcome,
		ExternalRef:  externalRef,
		Error:        errMsg,
		At:           now,
	})
}

// save writes e if nobody else changed it since it was read. A lost race is
// not an error; the enrollment is picked up again on a later tick.
func (s *Scheduler) save(ctx context.Context, e *model.Enrollment, version int, before model.EnrollmentStatus) error {
	err := s.store.SaveEnrollment(ctx, e, version)
	if errors.Is(err, store.ErrConflict) {
		metrics.WriteConflicts.Inc()
		s.logger.Info("enrollment changed during processing, leaving it for the next tick",
			zap.String("enrollment_id", e.ID.String()),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("save enrollment: %w", err)
	}
	if e.Status != before {
		metrics.EnrollmentTransitions.WithLabelValues(string(e.Status)).Inc()
	}
	return nil
}

func nextStep(program *model.Program, current *model.Step) *model.Step {
	return program.StepByNumber(current.StepNumber + 1)
}

func failedActionType(channel model.Channel) string {
	switch channel {
	case model.ChannelEmail:
		return model.ActionEmailSent
	case model.ChannelCall:
		return model.ActionCallInitiated
	case model.ChannelSMS:
		return model.ActionSMSSent
	}
	return model.ActionWaitCompleted
}
