package scheduler

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/metrics"
	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store"
)

// HandleEventStop halts an enrollment in reaction to an external event. It
// is idempotent: unknown enrollments, terminal or paused enrollments and
// programs that do not stop on this reason are silent no-ops. It reports
// whether this call performed the transition.
func (s *Scheduler) HandleEventStop(ctx context.Context, enrollmentID uuid.UUID, reason model.StopReason) (bool, error) {
	if _, ok := reason.StoppedStatus(); !ok {
		return false, nil
	}

	for attempt := 0; attempt < s.cfg.StopRetries; attempt++ {
		e, err := s.store.GetEnrollment(ctx, enrollmentID)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("load enrollment: %w", err)
		}
		if !e.Status.IsLive() {
			return false, nil
		}

		program, err := s.store.GetProgram(ctx, e.ProgramID)
		if errors.Is(err, store.ErrNotFound) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("load program: %w", err)
		}
		if !program.StopsOn(reason) {
			return false, nil
		}

		version := e.Version
		e.Stop(reason, s.now())
		err = s.store.SaveEnrollment(ctx, e, version)
		if errors.Is(err, store.ErrConflict) {
			metrics.WriteConflicts.Inc()
			continue
		}
		if err != nil {
			return false, fmt.Errorf("save enrollment: %w", err)
		}

		metrics.EnrollmentTransitions.WithLabelValues(string(e.Status)).Inc()
		s.logger.Info("enrollment stopped",
			zap.String("enrollment_id", enrollmentID.String()),
			zap.String("reason", string(reason)),
		)
		return true, nil
	}

	return false, fmt.Errorf("stop enrollment %s after %d attempts: %w", enrollmentID, s.cfg.StopRetries, store.ErrConflict)
}
