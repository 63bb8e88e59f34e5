// Package memory is an in-process implementation of store.Store. It keeps the
// same semantics as the postgres store, including version-checked enrollment
// writes, and is used by tests and local runs.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store"
)

type Store struct {
	mu          sync.Mutex
	programs    map[uuid.UUID]*model.Program
	contacts    map[uuid.UUID]*model.Contact
	enrollments map[uuid.UUID]*model.Enrollment
	actions     []model.ActionLogEntry
	signals     []model.Signal
	outbox      []model.OutboxEvent
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		programs:    make(map[uuid.UUID]*model.Program),
		contacts:    make(map[uuid.UUID]*model.Contact),
		enrollments: make(map[uuid.UUID]*model.Enrollment),
	}
}

func (s *Store) CreateProgram(_ context.Context, program *model.Program) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if program.ID == uuid.Nil {
		program.ID = uuid.New()
	}
	for i := range program.Steps {
		program.Steps[i].ProgramID = program.ID
		if program.Steps[i].ID == uuid.Nil {
			program.Steps[i].ID = uuid.New()
		}
	}
	if program.Status == "" {
		program.Status = model.ProgramDraft
	}
	program.CreatedAt = time.Now()
	s.programs[program.ID] = copyProgram(program)
	return nil
}

func (s *Store) GetProgram(_ context.Context, id uuid.UUID) (*model.Program, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.programs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := copyProgram(p)
	cp.SortSteps()
	return cp, nil
}

func (s *Store) ReplaceSteps(_ context.Context, programID uuid.UUID, steps []model.Step) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.programs[programID]
	if !ok {
		return store.ErrNotFound
	}
	replaced := make([]model.Step, len(steps))
	copy(replaced, steps)
	for i := range replaced {
		replaced[i].ProgramID = programID
		if replaced[i].ID == uuid.Nil {
			replaced[i].ID = uuid.New()
		}
	}
	p.Steps = replaced
	return nil
}

func (s *Store) UpdateProgramStatus(_ context.Context, id uuid.UUID, status model.ProgramStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.programs[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Status = status
	return nil
}

func (s *Store) IncrementProgramCounters(_ context.Context, id uuid.UUID, delta model.Counters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.programs[id]
	if !ok {
		return store.ErrNotFound
	}
	p.Apply(delta)
	return nil
}

// AddContact seeds a contact.
func (s *Store) AddContact(contact *model.Contact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if contact.ID == uuid.Nil {
		contact.ID = uuid.New()
	}
	cp := *contact
	s.contacts[contact.ID] = &cp
}

func (s *Store) ListContacts(_ context.Context, ownerID uuid.UUID, ids []uuid.UUID) ([]model.Contact, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []model.Contact
	for _, id := range ids {
		c, ok := s.contacts[id]
		if !ok || c.OwnerID != ownerID {
			continue
		}
		result = append(result, *c)
	}
	return result, nil
}

func (s *Store) CreateEnrollments(_ context.Context, enrollments []*model.Enrollment) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var inserted int64
	for _, e := range enrollments {
		if s.hasPairLocked(e.ProgramID, e.ContactID) {
			continue
		}
		if e.ID == uuid.Nil {
			e.ID = uuid.New()
		}
		e.CreatedAt = time.Now()
		cp := *e
		cp.Contact = nil
		s.enrollments[e.ID] = &cp
		inserted++
	}
	return inserted, nil
}

func (s *Store) hasPairLocked(programID, contactID uuid.UUID) bool {
	for _, e := range s.enrollments {
		if e.ProgramID == programID && e.ContactID == contactID {
			return true
		}
	}
	return false
}

func (s *Store) GetEnrollment(_ context.Context, id uuid.UUID) (*model.Enrollment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return s.withContactLocked(e), nil
}

func (s *Store) ListDueEnrollments(_ context.Context, now time.Time, limit int) ([]model.Enrollment, error) {
	return s.listDue(limit, func(e *model.Enrollment) (*time.Time, bool) {
		return e.NextActionAt, e.Status == model.EnrollmentActive
	}, now), nil
}

func (s *Store) ListDueRetries(_ context.Context, now time.Time, limit int) ([]model.Enrollment, error) {
	return s.listDue(limit, func(e *model.Enrollment) (*time.Time, bool) {
		return e.NextRetryAt, e.Status == model.EnrollmentRetryScheduled
	}, now), nil
}

func (s *Store) listDue(limit int, pick func(*model.Enrollment) (*time.Time, bool), now time.Time) []model.Enrollment {
	s.mu.Lock()
	defer s.mu.Unlock()

	type due struct {
		at time.Time
		e  *model.Enrollment
	}
	var candidates []due
	for _, e := range s.enrollments {
		at, ok := pick(e)
		if !ok || at == nil || at.After(now) {
			continue
		}
		candidates = append(candidates, due{at: *at, e: e})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].at.Before(candidates[j].at)
	})
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	result := make([]model.Enrollment, 0, len(candidates))
	for _, c := range candidates {
		result = append(result, *s.withContactLocked(c.e))
	}
	return result
}

func (s *Store) SaveEnrollment(_ context.Context, e *model.Enrollment, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.enrollments[e.ID]
	if !ok || current.Version != expectedVersion {
		return store.ErrConflict
	}
	cp := *e
	cp.Contact = nil
	// open/click counters are owned by IncrementEnrollmentCounters
	cp.OpenCount = current.OpenCount
	cp.ClickCount = current.ClickCount
	cp.Version = expectedVersion + 1
	cp.UpdatedAt = time.Now()
	s.enrollments[e.ID] = &cp
	e.Version = cp.Version
	return nil
}

func (s *Store) PauseEnrollments(_ context.Context, programID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.enrollments {
		if e.ProgramID == programID && e.Pause() {
			e.Version++
			n++
		}
	}
	return n, nil
}

func (s *Store) ResumeEnrollments(_ context.Context, programID uuid.UUID, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, e := range s.enrollments {
		if e.ProgramID == programID && e.Resume(now) {
			e.Version++
			n++
		}
	}
	return n, nil
}

func (s *Store) IncrementEnrollmentCounters(_ context.Context, id uuid.UUID, opens, clicks int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.enrollments[id]
	if !ok {
		return store.ErrNotFound
	}
	e.OpenCount += opens
	e.ClickCount += clicks
	return nil
}

func (s *Store) RecordAction(_ context.Context, entry *model.ActionLogEntry, delta model.Counters, event *model.OutboxEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.actions = append(s.actions, *entry)

	if p, ok := s.programs[entry.ProgramID]; ok {
		p.Apply(delta)
		if entry.StepID != nil && entry.IsSend() {
			for i := range p.Steps {
				if p.Steps[i].ID == *entry.StepID {
					p.Steps[i].SentCount++
				}
			}
		}
	}
	if event != nil {
		event.CreatedAt = entry.CreatedAt
		s.outbox = append(s.outbox, *event)
	}
	return nil
}

func (s *Store) HasOutcome(_ context.Context, enrollmentID uuid.UUID, outcome model.Outcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.actions {
		if a.EnrollmentID == enrollmentID && a.Outcome == outcome {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) CountSendsSince(_ context.Context, programID uuid.UUID, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for i := range s.actions {
		a := &s.actions[i]
		if a.ProgramID == programID && a.IsSend() && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

// Actions returns a copy of the action log.
func (s *Store) Actions() []model.ActionLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.ActionLogEntry, len(s.actions))
	copy(out, s.actions)
	return out
}

// OutboxEvents returns a copy of every outbox row.
func (s *Store) OutboxEvents() []model.OutboxEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.OutboxEvent, len(s.outbox))
	copy(out, s.outbox)
	return out
}

func (s *Store) RecordSignal(_ context.Context, signal *model.Signal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if signal.ID == uuid.Nil {
		signal.ID = uuid.New()
	}
	s.signals = append(s.signals, *signal)
	return nil
}

func (s *Store) HasReply(_ context.Context, ownerID, contactID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range s.signals {
		if sig.Kind == model.SignalReply && sig.OwnerID == ownerID && sig.ContactID != nil && *sig.ContactID == contactID {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) IsUnsubscribed(_ context.Context, ownerID uuid.UUID, address string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sig := range s.signals {
		if sig.Kind == model.SignalUnsubscribe && sig.OwnerID == ownerID && strings.EqualFold(sig.Address, address) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) ListPending(_ context.Context, limit int) ([]model.OutboxEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var result []model.OutboxEvent
	for _, ev := range s.outbox {
		if ev.Status != model.OutboxStatusPending {
			continue
		}
		result = append(result, ev)
		if limit > 0 && len(result) == limit {
			break
		}
	}
	return result, nil
}

func (s *Store) MarkPublished(_ context.Context, eventID uuid.UUID, publishedAt time.Time) error {
	return s.setOutboxStatus(eventID, model.OutboxStatusPublished, &publishedAt)
}

func (s *Store) MarkFailed(_ context.Context, eventID uuid.UUID) error {
	return s.setOutboxStatus(eventID, model.OutboxStatusFailed, nil)
}

func (s *Store) setOutboxStatus(eventID uuid.UUID, status string, publishedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].EventID == eventID {
			if s.outbox[i].Status != model.OutboxStatusPending {
				return nil
			}
			s.outbox[i].Status = status
			s.outbox[i].PublishedAt = publishedAt
			return nil
		}
	}
	return store.ErrNotFound
}

func (s *Store) PurgePublished(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.outbox[:0]
	var purged int64
	for _, ev := range s.outbox {
		if ev.Status == model.OutboxStatusPublished && ev.PublishedAt != nil && ev.PublishedAt.Before(before) {
			purged++
			continue
		}
		kept = append(kept, ev)
	}
	s.outbox = kept
	return purged, nil
}

func (s *Store) withContactLocked(e *model.Enrollment) *model.Enrollment {
	cp := *e
	if c, ok := s.contacts[e.ContactID]; ok {
		contact := *c
		cp.Contact = &contact
	}
	return &cp
}

func copyProgram(p *model.Program) *model.Program {
	cp := *p
	cp.SendDays = append([]int64(nil), p.SendDays...)
	cp.Steps = append([]model.Step(nil), p.Steps...)
	return &cp
}
