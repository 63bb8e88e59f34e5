// Package scheduler drives enrollments through their programs. One tick loads
// the due enrollments, gates them on send window and quota, evaluates the
// step condition, executes the step and writes the resulting transition with
// a version check.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/leadflow/leadflow/pkg/config"
	"github.com/leadflow/leadflow/pkg/executor"
	"github.com/leadflow/leadflow/pkg/metrics"
	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/quota"
	"github.com/leadflow/leadflow/pkg/retry"
	"github.com/leadflow/leadflow/pkg/stats"
	"github.com/leadflow/leadflow/pkg/store"
)

type ConditionEvaluator interface {
	ShouldExecute(ctx context.Context, program *model.Program, enrollment *model.Enrollment, step *model.Step) (bool, error)
}

type Option func(*Scheduler)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// WithTicker replaces the cron ticker built from the tick spec.
func WithTicker(t Ticker) Option {
	return func(s *Scheduler) { s.ticker = t }
}

type Scheduler struct {
	store        store.Store
	executors    executor.StepExecutor
	evaluator    ConditionEvaluator
	retries      *retry.Manager
	sink         *stats.Sink
	quotas       *quota.Manager
	personalizer *executor.PersonalizationCache
	logger       *zap.Logger
	cfg          config.SchedulerConfig

	now    func() time.Time
	ticker Ticker

	running atomic.Bool
	ticks   sync.WaitGroup

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func NewScheduler(
	st store.Store,
	executors executor.StepExecutor,
	evaluator ConditionEvaluator,
	retries *retry.Manager,
	sink *stats.Sink,
	quotas *quota.Manager,
	personalizer *executor.PersonalizationCache,
	logger *zap.Logger,
	cfg config.SchedulerConfig,
	opts ...Option,
) *Scheduler {
	if cfg.TickSpec == "" {
		cfg.TickSpec = "@every 1m"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.ConfigRecheckDelay <= 0 {
		cfg.ConfigRecheckDelay = time.Hour
	}
	if cfg.StopRetries <= 0 {
		cfg.StopRetries = 3
	}

	s := &Scheduler{
		store:        st,
		executors:    executors,
		evaluator:    evaluator,
		retries:      retries,
		sink:         sink,
		quotas:       quotas,
		personalizer: personalizer,
		logger:       logger,
		cfg:          cfg,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the tick loop. It returns an error if already started.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return fmt.Errorf("scheduler already started")
	}

	if s.ticker == nil {
		t, err := NewCronTicker(s.cfg.TickSpec)
		if err != nil {
			return err
		}
		s.ticker = t
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(loopCtx, s.ticker, s.done)
	s.logger.Info("scheduler started",
		zap.String("tick_spec", s.cfg.TickSpec),
		zap.Int("batch_size", s.cfg.BatchSize),
		zap.Int("workers", s.cfg.Workers),
	)
	return nil
}

func (s *Scheduler) loop(ctx context.Context, ticker Ticker, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.ticks.Add(1)
			go func() {
				defer s.ticks.Done()
				s.RunOnce(ctx)
			}()
		}
	}
}

// Stop ends the loop and waits for an in-flight tick to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancel == nil {
		return nil
	}

	s.cancel()
	<-s.done
	s.ticks.Wait()
	s.cancel = nil
	s.done = nil
	s.ticker = nil

	s.logger.Info("scheduler stopped")
	return nil
}

// RunOnce runs a single tick. It returns false without doing anything when
// another tick is still in progress; overlapping ticks are skipped, never
// queued.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	if !s.running.CompareAndSwap(false, true) {
		metrics.TicksSkipped.Inc()
		s.logger.Warn("previous tick still running, skipping")
		return false
	}
	defer s.running.Store(false)

	start := time.Now()
	s.tick(ctx)
	metrics.TickDuration.Observe(time.Since(start).Seconds())
	return true
}

func (s *Scheduler) tick(ctx context.Context) {
	now := s.now()

	due, err := s.store.ListDueEnrollments(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to load due enrollments", zap.Error(err))
		return
	}
	retries, err := s.store.ListDueRetries(ctx, now, s.cfg.BatchSize)
	if err != nil {
		s.logger.Error("failed to load due retries", zap.Error(err))
	}

	batch := dedupe(due, retries)
	metrics.DueEnrollments.Set(float64(len(batch)))
	if len(batch) == 0 {
		return
	}

	programs := newProgramCache(s.store)
	// sends already under way finish even if the scheduler is stopping
	work := context.WithoutCancel(ctx)

	var g errgroup.Group
	g.SetLimit(s.cfg.Workers)
	for i := range batch {
		if ctx.Err() != nil {
			break
		}
		e := batch[i]
		g.Go(func() error {
			s.safeProcess(work, programs, &e, now)
			return nil
		})
	}
	_ = g.Wait()
}

// dedupe merges both due sets so each enrollment id appears once.
func dedupe(sets ...[]model.Enrollment) []model.Enrollment {
	seen := make(map[uuid.UUID]struct{})
	var out []model.Enrollment
	for _, set := range sets {
		for _, e := range set {
			if _, ok := seen[e.ID]; ok {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
		}
	}
	return out
}

type programCache struct {
	store store.ProgramStore
	mu    sync.Mutex
	byID  map[uuid.UUID]*model.Program
}

func newProgramCache(st store.ProgramStore) *programCache {
	return &programCache{store: st, byID: make(map[uuid.UUID]*model.Program)}
}

func (c *programCache) get(ctx context.Context, id uuid.UUID) (*model.Program, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.byID[id]; ok {
		return p, nil
	}
	p, err := c.store.GetProgram(ctx, id)
	if err != nil {
		return nil, err
	}
	c.byID[id] = p
	return p, nil
}
