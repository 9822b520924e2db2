// Package outbox delivers committed roster events to Kafka.
package outbox

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"example.com/mergington/internal/domain"
	"example.com/mergington/internal/events"
)

// ErrQueueFull is returned by Publish when the in-memory queue is at capacity.
var ErrQueueFull = errors.New("roster event queue is full")

type messageWriter interface {
	WriteMessages(context.Context, string, ...kafka.Message) error
}

type schemaRegistrar interface {
	EnsureSchema(context.Context, string, string) (int, error)
}

// Option configures optional behaviour for the Publisher.
type Option func(*Publisher)

// WithSchemaRegistry frames payloads with schema ids from the registry.
func WithSchemaRegistry(registry schemaRegistrar) Option {
	return func(p *Publisher) {
		p.registry = registry
	}
}

// WithLogger overrides the logger used to report delivery failures.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithBufferSize sets how many events may wait for delivery.
func WithBufferSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.bufferSize = n
		}
	}
}

// WithBatchSize sets the number of events that triggers an immediate flush.
func WithBatchSize(n int) Option {
	return func(p *Publisher) {
		if n > 0 {
			p.batchSize = n
		}
	}
}

// WithFlushInterval sets the longest an event waits in a partial batch.
func WithFlushInterval(d time.Duration) Option {
	return func(p *Publisher) {
		if d > 0 {
			p.flushInterval = d
		}
	}
}

// Publisher queues roster events and delivers them to Kafka in batches from
// a single background loop.
type Publisher struct {
	producer      messageWriter
	registry      schemaRegistrar
	logger        *slog.Logger
	bufferSize    int
	batchSize     int
	flushInterval time.Duration
	writeTimeout  time.Duration

	queue            chan domain.RosterEvent
	shutdownComplete chan struct{}
}

// NewPublisher constructs a Publisher writing through producer.
func NewPublisher(producer messageWriter, opts ...Option) *Publisher {
	p := &Publisher{
		producer:         producer,
		logger:           slog.Default(),
		bufferSize:       256,
		batchSize:        25,
		flushInterval:    time.Second,
		writeTimeout:     10 * time.Second,
		shutdownComplete: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.queue = make(chan domain.RosterEvent, p.bufferSize)
	return p
}

// Publish implements domain.Publisher. It never blocks.
func (p *Publisher) Publish(_ context.Context, event domain.RosterEvent) error {
	select {
	case p.queue <- event:
		queuedCounter.Inc()
		return nil
	default:
		droppedCounter.Inc()
		return ErrQueueFull
	}
}

// Start runs the delivery loop until ctx is cancelled, then flushes whatever
// is still queued. It should be called in a goroutine.
func (p *Publisher) Start(ctx context.Context) {
	ticker := time.NewTicker(p.flushInterval)
	defer func() {
		ticker.Stop()
		close(p.shutdownComplete)
	}()

	batch := make([]domain.RosterEvent, 0, p.batchSize)
	for {
		select {
		case <-ctx.Done():
			batch = p.drain(batch)
			p.flush(ctx, batch)
			return
		case event := <-p.queue:
			batch = append(batch, event)
			if len(batch) >= p.batchSize {
				p.flush(ctx, batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				p.flush(ctx, batch)
				batch = batch[:0]
			}
		}
	}
}

// Wait blocks until Start has returned.
func (p *Publisher) Wait() {
	<-p.shutdownComplete
}

func (p *Publisher) drain(batch []domain.RosterEvent) []domain.RosterEvent {
	for {
		select {
		case event := <-p.queue:
			batch = append(batch, event)
		default:
			return batch
		}
	}
}

// flush delivers batch; cancellation of ctx does not abort an in-flight write.
func (p *Publisher) flush(ctx context.Context, batch []domain.RosterEvent) {
	if len(batch) == 0 {
		return
	}
	start := time.Now()
	defer func() { batchDuration.Observe(time.Since(start).Seconds()) }()

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.writeTimeout)
	defer cancel()

	byTopic := make(map[string][]kafka.Message)
	for _, event := range batch {
		entry, ok := eventCatalog[event.Type]
		if !ok {
			p.logger.Error("no topic for roster event", slog.String("event_type", string(event.Type)))
			failedCounter.WithLabelValues("unknown").Inc()
			continue
		}
		msg, err := p.encode(writeCtx, entry, event)
		if err != nil {
			p.logger.Error("encode roster event failed",
				slog.String("event_type", string(event.Type)),
				slog.String("event_id", event.ID),
				slog.Any("error", err),
			)
			failedCounter.WithLabelValues(entry.Topic).Inc()
			continue
		}
		byTopic[entry.Topic] = append(byTopic[entry.Topic], msg)
	}

	for topic, msgs := range byTopic {
		if err := p.producer.WriteMessages(writeCtx, topic, msgs...); err != nil {
			p.logger.Error("deliver roster events failed",
				slog.String("topic", topic),
				slog.Int("count", len(msgs)),
				slog.Any("error", err),
			)
			failedCounter.WithLabelValues(topic).Add(float64(len(msgs)))
			continue
		}
		deliveredCounter.WithLabelValues(topic).Add(float64(len(msgs)))
	}
}

func (p *Publisher) encode(ctx context.Context, entry catalogEntry, event domain.RosterEvent) (kafka.Message, error) {
	body, err := json.Marshal(payloadFor(event))
	if err != nil {
		return kafka.Message{}, err
	}

	value := body
	if p.registry != nil {
		schemaID, err := p.registry.EnsureSchema(ctx, entry.SchemaSubject, entry.Schema)
		if err != nil {
			return kafka.Message{}, fmt.Errorf("ensure schema %s: %w", entry.SchemaSubject, err)
		}
		value = encodeWireFormat(schemaID, body)
	}

	return kafka.Message{
		Key:   []byte(event.Activity),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "event_id", Value: []byte(event.ID)},
			{Key: "schema_subject", Value: []byte(entry.SchemaSubject)},
		},
	}, nil
}

func payloadFor(event domain.RosterEvent) any {
	switch event.Type {
	case domain.EventParticipantUnregistered:
		return events.ParticipantUnregistered{
			EventID:          event.ID,
			Activity:         event.Activity,
			Email:            event.Email,
			ParticipantCount: event.ParticipantCount,
			OccurredAt:       event.OccurredAt,
		}
	default:
		return events.ParticipantSignedUp{
			EventID:          event.ID,
			Activity:         event.Activity,
			Email:            event.Email,
			ParticipantCount: event.ParticipantCount,
			OccurredAt:       event.OccurredAt,
		}
	}
}

// encodeWireFormat applies Confluent framing: magic byte, 4-byte schema id, payload.
func encodeWireFormat(schemaID int, payload []byte) []byte {
	frame := make([]byte, 5+len(payload))
	frame[0] = 0
	binary.BigEndian.PutUint32(frame[1:5], uint32(schemaID))
	copy(frame[5:], payload)
	return frame
}

type catalogEntry struct {
	Topic         string
	SchemaSubject string
	Schema        string
}

var eventCatalog = map[domain.EventType]catalogEntry{
	domain.EventParticipantSignedUp: {
		Topic:         "activity_signups",
		SchemaSubject: "activity_signups-value",
		Schema:        participantSignedUpSchema,
	},
	domain.EventParticipantUnregistered: {
		Topic:         "activity_unregistrations",
		SchemaSubject: "activity_unregistrations-value",
		Schema:        participantUnregisteredSchema,
	},
}
