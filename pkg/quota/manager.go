// Package quota enforces the optional per-program daily action cap.
package quota

import (
	"context"
	"fmt"
	"time"

	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store"
	"github.com/leadflow/leadflow/pkg/window"
)

type Manager struct {
	actions store.ActionStore
}

func NewManager(actions store.ActionStore) *Manager {
	return &Manager{actions: actions}
}

// Allow reports whether the program may perform another outbound action
// today. The day starts at local midnight in the program's time zone. A
// zero limit means unlimited.
func (m *Manager) Allow(ctx context.Context, program *model.Program, now time.Time) (bool, error) {
	if program.DailyActionLimit <= 0 {
		return true, nil
	}
	used, err := m.Used(ctx, program, now)
	if err != nil {
		return false, err
	}
	return used < int64(program.DailyActionLimit), nil
}

func (m *Manager) Used(ctx context.Context, program *model.Program, now time.Time) (int64, error) {
	since := window.StartOfDay(program.TimeZone, now)
	used, err := m.actions.CountSendsSince(ctx, program.ID, since)
	if err != nil {
		return 0, fmt.Errorf("count sends for program %s: %w", program.ID, err)
	}
	return used, nil
}
