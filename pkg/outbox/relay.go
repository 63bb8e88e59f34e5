package outbox

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/leadflow/leadflow/pkg/metrics"
	"github.com/leadflow/leadflow/pkg/model"
	"github.com/leadflow/leadflow/pkg/store"
)

const (
	headerEventID   = "lf-event-id"
	headerEventType = "lf-event-type"
)

// Writer is the subset of *kafka.Writer the relay needs.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaWriter builds a writer for one topic.
func NewKafkaWriter(brokers []string, topic, clientID string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Transport: &kafka.Transport{
			ClientID: clientID,
		},
	}
}

type Relay struct {
	repo         store.OutboxStore
	writer       Writer
	dlqWriter    Writer
	logger       *zap.Logger
	pollInterval time.Duration
	batchSize    int

	retention time.Duration
	lastPurge time.Time
	now       func() time.Time
}

type RelayOption func(*Relay)

// WithRetention deletes published events older than d, at most once an
// hour. Zero keeps them forever.
func WithRetention(d time.Duration) RelayOption {
	return func(r *Relay) { r.retention = d }
}

type Message struct {
	EventID   string      `json:"event_id"`
	EventType string      `json:"event_type"`
	Payload   model.JSONB `json:"payload"`
	CreatedAt time.Time   `json:"created_at"`
}

type DLQMessage struct {
	Event    Message   `json:"event"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

func NewRelay(repo store.OutboxStore, writer, dlqWriter Writer, logger *zap.Logger, pollInterval time.Duration, batchSize int, opts ...RelayOption) *Relay {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	r := &Relay{
		repo:         repo,
		writer:       writer,
		dlqWriter:    dlqWriter,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Relay) Run(ctx context.Context) error {
	r.logger.Info("outbox relay starting",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
	)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	r.ProcessPending(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("outbox relay shutting down")
			return ctx.Err()
		case <-ticker.C:
			r.ProcessPending(ctx)
			r.purge(ctx)
		}
	}
}

// ProcessPending publishes one batch and returns how many events were
// published to the main topic.
func (r *Relay) ProcessPending(ctx context.Context) int {
	events, err := r.repo.ListPending(ctx, r.batchSize)
	if err != nil {
		r.logger.Warn("failed to list pending outbox events", zap.Error(err))
		return 0
	}

	published := 0
	for _, event := range events {
		ok, err := r.publishEvent(ctx, event)
		if err != nil {
			r.logger.Warn("failed to publish outbox event", zap.Error(err), zap.String("event_id", event.EventID.String()))
		}
		if ok {
			published++
		}
	}
	return published
}

func (r *Relay) purge(ctx context.Context) {
	now := r.now()
	if r.retention <= 0 || now.Sub(r.lastPurge) < time.Hour {
		return
	}
	r.lastPurge = now
	n, err := r.repo.PurgePublished(ctx, now.Add(-r.retention))
	if err != nil {
		r.logger.Warn("failed to purge published outbox events", zap.Error(err))
		return
	}
	if n > 0 {
		r.logger.Info("purged published outbox events", zap.Int64("count", n))
	}
}

func (r *Relay) publishEvent(ctx context.Context, event model.OutboxEvent) (bool, error) {
	message := Message{
		EventID:   event.EventID.String(),
		EventType: event.EventType,
		Payload:   event.Payload,
		CreatedAt: event.CreatedAt,
	}

	payload, err := json.Marshal(message)
	if err != nil {
		return false, err
	}

	kafkaMessage := kafka.Message{
		Key:   enrollmentKey(event),
		Value: payload,
		Headers: []kafka.Header{
			{Key: headerEventID, Value: []byte(message.EventID)},
			{Key: headerEventType, Value: []byte(event.EventType)},
		},
		Time: time.Now(),
	}

	if err := r.writer.WriteMessages(ctx, kafkaMessage); err != nil {
		r.logger.Warn("failed to publish to kafka, sending to DLQ", zap.Error(err), zap.String("event_id", message.EventID))
		metrics.OutboxEvents.WithLabelValues("dlq").Inc()
		return false, r.publishDLQ(ctx, message, err, event.EventID)
	}
	metrics.OutboxEvents.WithLabelValues("published").Inc()

	if err := r.repo.MarkPublished(ctx, event.EventID, time.Now()); err != nil {
		return true, err
	}

	return true, nil
}

// enrollmentKey keeps every event of one enrollment on the same partition.
func enrollmentKey(event model.OutboxEvent) []byte {
	if id, ok := event.Payload["enrollment_id"].(string); ok && id != "" {
		return []byte(id)
	}
	return []byte(event.EventID.String())
}

func (r *Relay) publishDLQ(ctx context.Context, message Message, publishErr error, eventID uuid.UUID) error {
	if r.dlqWriter == nil {
		return publishErr
	}

	dlq := DLQMessage{
		Event:    message,
		Error:    publishErr.Error(),
		FailedAt: time.Now(),
	}

	payload, err := json.Marshal(dlq)
	if err != nil {
		return err
	}

	kafkaMessage := kafka.Message{
		Key:   []byte(message.EventID),
		Value: payload,
		Time:  time.Now(),
	}

	if err := r.dlqWriter.WriteMessages(ctx, kafkaMessage); err != nil {
		return err
	}

	if err := r.repo.MarkFailed(ctx, eventID); err != nil {
		r.logger.Warn("failed to mark event failed", zap.Error(err), zap.String("event_id", eventID.String()))
		return err
	}

	return nil
}
