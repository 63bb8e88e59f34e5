package scheduler

import (
	"context"

	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/eventbus"
	"github.com/leadflow/leadflow/pkg/model"
)

type programChange struct {
	ProgramID string `json:"program_id"`
	Status    string `json:"status"`
	Affected  int64  `json:"affected"`
}

// WatchPrograms consumes program lifecycle announcements. When a program
// becomes active with newly due enrollments, a tick runs right away instead
// of waiting for the next interval.
func (s *Scheduler) WatchPrograms(ctx context.Context, events <-chan *eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			var change programChange
			if err := msg.Decode(&change); err != nil {
				s.logger.Warn("failed to decode program change", zap.String("type", msg.Type), zap.Error(err))
				continue
			}
			s.logger.Info("program changed",
				zap.String("program_id", change.ProgramID),
				zap.String("status", change.Status),
				zap.Int64("affected", change.Affected),
			)
			if model.ProgramStatus(change.Status) == model.ProgramActive && change.Affected > 0 {
				s.RunOnce(ctx)
			}
		}
	}
}
