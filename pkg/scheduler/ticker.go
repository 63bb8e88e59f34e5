package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Ticker delivers tick times. Tests drive the scheduler with a manual
// implementation.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type cronTicker struct {
	cron *cron.Cron
	ch   chan time.Time
}

// NewCronTicker ticks on a cron schedule such as "@every 1m" or "* * * * *".
// Ticks that fire while the previous one is still unread are dropped.
func NewCronTicker(spec string) (Ticker, error) {
	t := &cronTicker{
		cron: cron.New(),
		ch:   make(chan time.Time, 1),
	}
	if _, err := t.cron.AddFunc(spec, t.fire); err != nil {
		return nil, fmt.Errorf("parse tick spec %q: %w", spec, err)
	}
	t.cron.Start()
	return t, nil
}

func (t *cronTicker) fire() {
	select {
	case t.ch <- time.Now():
	default:
	}
}

func (t *cronTicker) C() <-chan time.Time {
	return t.ch
}

func (t *cronTicker) Stop() {
	<-t.cron.Stop().Done()
}
