package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const (
	headerEventID     = "lf-event-id"
	headerRetryCount  = "lf-retry-count"
	headerOriginTopic = "lf-origin-topic"
	headerDLQError    = "lf-dlq-error"
)

// ErrPermanent marks a message that must not be retried.
var ErrPermanent = errors.New("permanent failure")

type KafkaSourceConfig struct {
	Brokers    []string
	ClientID   string
	GroupID    string
	Topic      string
	RetryTopic string
	DLQTopic   string
	MaxRetries int
}

// KafkaHandler processes the value of one message.
type KafkaHandler func(ctx context.Context, value []byte) error

type Deduper interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	MarkSeen(ctx context.Context, eventID string) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// KafkaSource consumes provider events from a topic and its retry topic.
// Failed messages go to the retry topic until MaxRetries, then to the DLQ.
type KafkaSource struct {
	config  KafkaSourceConfig
	handler KafkaHandler
	deduper Deduper
	writer  messageWriter
	logger  *zap.Logger

	mu        sync.Mutex
	readers   []*kafka.Reader
	closeOnce sync.Once
}

func NewKafkaSource(cfg KafkaSourceConfig, handler KafkaHandler, deduper Deduper, logger *zap.Logger) *KafkaSource {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &KafkaSource{
		config:  cfg,
		handler: handler,
		deduper: deduper,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Transport:    &kafka.Transport{ClientID: cfg.ClientID},
		},
		logger: logger,
	}
}

// Run blocks until ctx is done or a reader fails.
func (s *KafkaSource) Run(ctx context.Context) error {
	readers := s.buildReaders()
	s.mu.Lock()
	s.readers = readers
	s.mu.Unlock()

	errCh := make(chan error, len(readers))
	for _, reader := range readers {
		go func(r *kafka.Reader) {
			errCh <- s.consumeLoop(ctx, r)
		}(reader)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
}

func (s *KafkaSource) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for _, reader := range s.readers {
			if err := reader.Close(); err != nil && closeErr == nil {
				closeErr = err
			}
		}
		if w, ok := s.writer.(*kafka.Writer); ok {
			if err := w.Close(); err != nil && closeErr == nil {
				closeErr = err
			}
		}
	})
	return closeErr
}

func (s *KafkaSource) buildReaders() []*kafka.Reader {
	base := kafka.ReaderConfig{
		Brokers:  s.config.Brokers,
		GroupID:  s.config.GroupID,
		MinBytes: 1,
		MaxBytes: 10e6,
		Dialer:   &kafka.Dialer{ClientID: s.config.ClientID},
	}

	var readers []*kafka.Reader
	for _, topic := range []string{s.config.Topic, s.config.RetryTopic} {
		if topic == "" {
			continue
		}
		cfg := base
		cfg.Topic = topic
		readers = append(readers, kafka.NewReader(cfg))
	}
	return readers
}

func (s *KafkaSource) consumeLoop(ctx context.Context, reader *kafka.Reader) error {
	for {
		message, err := reader.FetchMessage(ctx)
		if err != nil {
			return err
		}
		if err := s.process(ctx, message); err != nil {
			return err
		}
		if err := reader.CommitMessages(ctx, message); err != nil {
			return err
		}
	}
}

// process handles one message. A non-nil return means the message could
// not be handled nor forwarded and must not be committed.
func (s *KafkaSource) process(ctx context.Context, message kafka.Message) error {
	eventID := extractEventID(message)
	if s.deduper != nil && eventID != "" {
		seen, err := s.deduper.Seen(ctx, eventID)
		if err == nil && seen {
			return nil
		}
	}

	handlerErr := s.handler(ctx, message.Value)
	if handlerErr == nil {
		if s.deduper != nil && eventID != "" {
			if err := s.deduper.MarkSeen(ctx, eventID); err != nil {
				s.logger.Warn("failed to mark event seen", zap.String("event_id", eventID), zap.Error(err))
			}
		}
		return nil
	}

	s.logger.Warn("inbound event failed",
		zap.String("topic", message.Topic),
		zap.String("event_id", eventID),
		zap.Error(handlerErr),
	)
	return s.handleFailure(ctx, message, handlerErr)
}

func (s *KafkaSource) handleFailure(ctx context.Context, message kafka.Message, handlerErr error) error {
	retryCount := retryAttempt(message)
	if !errors.Is(handlerErr, ErrPermanent) && retryCount < s.config.MaxRetries && s.config.RetryTopic != "" {
		return s.writer.WriteMessages(ctx, kafka.Message{
			Topic: s.config.RetryTopic,
			Key:   message.Key,
			Value: message.Value,
			Headers: appendHeaders(message.Headers,
				kafka.Header{Key: headerRetryCount, Value: []byte(strconv.Itoa(retryCount + 1))},
				kafka.Header{Key: headerOriginTopic, Value: []byte(message.Topic)},
			),
		})
	}

	if s.config.DLQTopic == "" {
		// nowhere to park it; drop rather than block the partition
		return nil
	}
	return s.writer.WriteMessages(ctx, kafka.Message{
		Topic: s.config.DLQTopic,
		Key:   message.Key,
		Value: message.Value,
		Headers: appendHeaders(message.Headers,
			kafka.Header{Key: headerOriginTopic, Value: []byte(message.Topic)},
			kafka.Header{Key: headerDLQError, Value: []byte(handlerErr.Error())},
		),
	})
}

func retryAttempt(message kafka.Message) int {
	for _, header := range message.Headers {
		if header.Key == headerRetryCount {
			count, err := strconv.Atoi(string(header.Value))
			if err == nil {
				return count
			}
			return 0
		}
	}
	return 0
}

func extractEventID(message kafka.Message) string {
	for _, header := range message.Headers {
		if header.Key == headerEventID {
			return string(header.Value)
		}
	}

	if len(message.Key) > 0 {
		return string(message.Key)
	}

	var payload struct {
		EventID string `json:"event_id"`
	}
	if err := json.Unmarshal(message.Value, &payload); err == nil {
		return payload.EventID
	}

	return ""
}

func appendHeaders(existing []kafka.Header, headers ...kafka.Header) []kafka.Header {
	merged := make([]kafka.Header, 0, len(existing)+len(headers))
	merged = append(merged, existing...)
	merged = append(merged, headers...)
	return merged
}
