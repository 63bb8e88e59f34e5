// Package events applies inbound webhook events (opens, clicks, replies,
// bounces, answered calls, unsubscribes) to enrollments and programs.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/eventbus"
	"github.com/leadflow/leadflow/pkg/metrics"
	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/stats"
	"github.com/leadflow/leadflow/pkg/store"
)

var ErrUnsupportedEvent = errors.New("unsupported event type")

const (
	TypeOpen         = "open"
	TypeClick        = "click"
	TypeReply        = "reply"
	TypeBounce       = "bounce"
	TypeCallAnswered = "call_answered"
	TypeUnsubscribe  = "unsubscribe"
)

// Event is one inbound fact. EnrollmentID is set for tracked events; reply,
// bounce and unsubscribe may instead identify the contact by owner and
// address.
type Event struct {
	Type         string    `json:"type" binding:"required"`
	EnrollmentID uuid.UUID `json:"enrollment_id"`
	OwnerID      uuid.UUID `json:"owner_id"`
	ContactID    uuid.UUID `json:"contact_id"`
	Address      string    `json:"address"`
	ExternalRef  string    `json:"external_ref"`
	OccurredAt   time.Time `json:"occurred_at"`
}

func Supported(eventType string) bool {
	switch eventType {
	case TypeOpen, TypeClick, TypeReply, TypeBounce, TypeCallAnswered, TypeUnsubscribe:
		return true
	}
	return false
}

type Stopper interface {
	HandleEventStop(ctx context.Context, enrollmentID uuid.UUID, reason model.StopReason) (bool, error)
}

type Store interface {
	store.ProgramStore
	store.EnrollmentStore
	store.SignalStore
}

type Handler struct {
	store   Store
	sink    *stats.Sink
	stopper Stopper
	logger  *zap.Logger
}

func NewHandler(st Store, sink *stats.Sink, stopper Stopper, logger *zap.Logger) *Handler {
	return &Handler{store: st, sink: sink, stopper: stopper, logger: logger}
}

// Consume handles events from the bus until ctx is done or the channel closes.
func (h *Handler) Consume(ctx context.Context, events <-chan *eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-events:
			if !ok {
				return
			}
			var event Event
			if err := msg.Decode(&event); err != nil {
				h.logger.Error("failed to decode inbound event", zap.String("type", msg.Type), zap.Error(err))
				continue
			}
			if err := h.Handle(ctx, event); err != nil {
				h.logger.Error("failed to handle inbound event",
					zap.String("type", event.Type),
					zap.String("enrollment_id", event.EnrollmentID.String()),
					zap.Error(err),
				)
			}
		}
	}
}

// HandleRaw decodes a JSON event, as delivered by provider topics, and
// applies it. Malformed and unsupported events are marked permanent.
func (h *Handler) HandleRaw(ctx context.Context, raw []byte) error {
	var event Event
	if err := json.Unmarshal(raw, &event); err != nil {
		return fmt.Errorf("decode event: %w: %w", err, eventbus.ErrPermanent)
	}
	if err := h.Handle(ctx, event); err != nil {
		if errors.Is(err, ErrUnsupportedEvent) {
			return fmt.Errorf("%w: %w", err, eventbus.ErrPermanent)
		}
		return err
	}
	return nil
}

// Handle applies one event. Events for unknown enrollments are ignored.
func (h *Handler) Handle(ctx context.Context, event Event) error {
	if !Supported(event.Type) {
		metrics.InboundEvents.WithLabelValues(event.Type, "unsupported").Inc()
		return fmt.Errorf("%w: %q", ErrUnsupportedEvent, event.Type)
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}

	target, err := h.resolve(ctx, event)
	if err != nil {
		metrics.InboundEvents.WithLabelValues(event.Type, "error").Inc()
		return err
	}
	if event.OwnerID != uuid.Nil && target.program != nil && target.program.OwnerID != event.OwnerID {
		// enrollment belongs to another owner; treat it as unknown
		target.enrollment, target.program = nil, nil
	}
	if target.enrollment == nil && !isSignal(event.Type) {
		metrics.InboundEvents.WithLabelValues(event.Type, "ignored").Inc()
		return nil
	}

	if err := h.apply(ctx, event, target); err != nil {
		metrics.InboundEvents.WithLabelValues(event.Type, "error").Inc()
		return err
	}
	metrics.InboundEvents.WithLabelValues(event.Type, "applied").Inc()
	return nil
}

type target struct {
	enrollment *model.Enrollment
	program    *model.Program
}

func (h *Handler) resolve(ctx context.Context, event Event) (target, error) {
	if event.EnrollmentID == uuid.Nil {
		return target{}, nil
	}
	e, err := h.store.GetEnrollment(ctx, event.EnrollmentID)
	if errors.Is(err, store.ErrNotFound) {
		return target{}, nil
	}
	if err != nil {
		return target{}, fmt.Errorf("load enrollment: %w", err)
	}
	program, err := h.store.GetProgram(ctx, e.ProgramID)
	if errors.Is(err, store.ErrNotFound) {
		return target{}, nil
	}
	if err != nil {
		return target{}, fmt.Errorf("load program: %w", err)
	}
	return target{enrollment: e, program: program}, nil
}

func (h *Handler) apply(ctx context.Context, event Event, t target) error {
	switch event.Type {
	case TypeOpen:
		if err := h.store.IncrementEnrollmentCounters(ctx, t.enrollment.ID, 1, 0); err != nil {
			return err
		}
		return h.store.IncrementProgramCounters(ctx, t.program.ID, model.Counters{Opened: 1})

	case TypeClick:
		if err := h.store.IncrementEnrollmentCounters(ctx, t.enrollment.ID, 0, 1); err != nil {
			return err
		}
		if err := h.store.IncrementProgramCounters(ctx, t.program.ID, model.Counters{Clicked: 1}); err != nil {
			return err
		}
		return h.stop(ctx, t, model.StopClick)

	case TypeReply:
		return h.signalAndStop(ctx, event, t, model.SignalReply, model.Counters{Replied: 1}, model.StopReply)

	case TypeBounce:
		return h.signalAndStop(ctx, event, t, model.SignalBounce, model.Counters{Bounced: 1}, model.StopBounce)

	case TypeUnsubscribe:
		return h.signalAndStop(ctx, event, t, model.SignalUnsubscribe, model.Counters{}, model.StopUnsubscribe)

	case TypeCallAnswered:
		err := h.sink.Record(ctx, stats.Action{
			ProgramID:    t.program.ID,
			EnrollmentID: t.enrollment.ID,
			ContactID:    t.enrollment.ContactID,
			Channel:      model.ChannelCall,
			ActionType:   model.ActionCallAnswered,
			Outcome:      model.OutcomeAnswered,
			ExternalRef:  event.ExternalRef,
			Delta:        model.Counters{CallsAnswered: 1},
			At:           event.OccurredAt,
		})
		if err != nil {
			return err
		}
		return h.stop(ctx, t, model.StopCallAnswered)
	}
	return nil
}

func (h *Handler) signalAndStop(ctx context.Context, event Event, t target, kind model.SignalKind, delta model.Counters, reason model.StopReason) error {
	signal := &model.Signal{
		OwnerID:    event.OwnerID,
		Address:    event.Address,
		Kind:       kind,
		OccurredAt: event.OccurredAt,
	}
	if event.ContactID != uuid.Nil {
		contactID := event.ContactID
		signal.ContactID = &contactID
	}
	if t.enrollment != nil {
		signal.OwnerID = t.program.OwnerID
		contactID := t.enrollment.ContactID
		signal.ContactID = &contactID
		if signal.Address == "" && t.enrollment.Contact != nil {
			signal.Address = t.enrollment.Contact.Email
		}
	}

	if signal.OwnerID == uuid.Nil || (signal.ContactID == nil && signal.Address == "") {
		h.logger.Debug("inbound event does not identify a contact", zap.String("type", event.Type))
		return nil
	}
	if err := h.store.RecordSignal(ctx, signal); err != nil {
		return fmt.Errorf("record %s signal: %w", kind, err)
	}

	if t.enrollment == nil {
		return nil
	}
	if !delta.IsZero() {
		if err := h.store.IncrementProgramCounters(ctx, t.program.ID, delta); err != nil {
			return err
		}
	}
	return h.stop(ctx, t, reason)
}

func (h *Handler) stop(ctx context.Context, t target, reason model.StopReason) error {
	if h.stopper == nil {
		return nil
	}
	_, err := h.stopper.HandleEventStop(ctx, t.enrollment.ID, reason)
	return err
}

func isSignal(eventType string) bool {
	return eventType == TypeReply || eventType == TypeBounce || eventType == TypeUnsubscribe
}
