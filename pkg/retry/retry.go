// Package retry applies the fixed-delay, bounded-attempt retry policy to an
// enrollment whose step failed transiently.
package retry

import (
	"time"

	"github.com/leadflow/leadflow/pkg/config"
	"github.com/leadflow/leadflow/pkg/model"
)

type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	// UseRetrySlot parks the enrollment in retry_scheduled with next_retry_at
	// instead of moving next_action_at.
	UseRetrySlot bool
}

type Outcome string

const (
	OutcomeRescheduled Outcome = "rescheduled"
	OutcomeRetrySlot   Outcome = "retry_scheduled"
	OutcomeFailed      Outcome = "failed"
)

type Decision struct {
	Outcome Outcome
	Attempt int
	At      time.Time
}

type Manager struct {
	defaultPolicy Policy
	policies      map[model.Channel]Policy
}

func NewManager(defaultPolicy Policy) *Manager {
	if defaultPolicy.MaxAttempts <= 0 {
		defaultPolicy.MaxAttempts = 1
	}
	return &Manager{
		defaultPolicy: defaultPolicy,
		policies:      make(map[model.Channel]Policy),
	}
}

// NewManagerFromConfig uses the shared policy for every channel except call,
// which gets its own delay and the retry slot.
func NewManagerFromConfig(cfg *config.RetryConfig) *Manager {
	m := NewManager(Policy{MaxAttempts: cfg.MaxAttempts, Delay: cfg.Delay})
	m.SetPolicy(model.ChannelCall, Policy{
		MaxAttempts:  cfg.CallMaxAttempts,
		Delay:        cfg.CallDelay,
		UseRetrySlot: true,
	})
	return m
}

func (m *Manager) SetPolicy(channel model.Channel, p Policy) {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	m.policies[channel] = p
}

func (m *Manager) Policy(channel model.Channel) Policy {
	if p, ok := m.policies[channel]; ok {
		return p
	}
	return m.defaultPolicy
}

// Apply records one more failed attempt on e. Once the attempt count reaches
// the channel's cap the enrollment fails with cause as its last error;
// otherwise it is rescheduled at now + delay.
func (m *Manager) Apply(e *model.Enrollment, channel model.Channel, cause error, now time.Time) Decision {
	if e.Status.IsTerminal() {
		return Decision{Outcome: OutcomeFailed, Attempt: e.RetryCount}
	}
	p := m.Policy(channel)
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}

	e.RetryCount++
	if e.RetryCount >= p.MaxAttempts {
		e.Fail(msg, now)
		return Decision{Outcome: OutcomeFailed, Attempt: e.RetryCount}
	}

	at := now.Add(p.Delay)
	if p.UseRetrySlot {
		e.ScheduleRetrySlot(at, msg)
		return Decision{Outcome: OutcomeRetrySlot, Attempt: e.RetryCount, At: at}
	}
	e.Reschedule(at, msg)
	return Decision{Outcome: OutcomeRescheduled, Attempt: e.RetryCount, At: at}
}
