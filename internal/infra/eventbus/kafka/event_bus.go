// Package kafka provides a Kafka-based implementation of the event bus for
// asynchronous messaging.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/campusops/batchline/internal/domain/events"
	"github.com/campusops/batchline/pkg/common/logger"
)

// Config contains settings for connecting to and interacting with Kafka
// brokers.
type Config struct {
	// Brokers is a list of Kafka broker addresses to connect to.
	Brokers []string

	// LifecycleTopic is the topic name for job lifecycle events.
	LifecycleTopic string

	// GroupID identifies the consumer group for this bus instance.
	GroupID string
	// ClientID uniquely identifies this client to the Kafka cluster.
	ClientID string
}

var _ events.EventBus = (*EventBus)(nil)

// EventBus implements the events.EventBus interface using Kafka as the
// underlying message broker. Job lifecycle events are published to a single
// topic keyed by job ID so all events for one job land on the same partition
// in order.
type EventBus struct {
	producer      sarama.SyncProducer
	consumerGroup sarama.ConsumerGroup

	lifecycleTopic string

	logger *logger.Logger
	tracer trace.Tracer
}

// NewEventBus creates a new Kafka-based event bus from the provided
// configuration. It establishes connections to Kafka brokers and configures
// producer and consumer components for reliable message delivery.
func NewEventBus(cfg *Config, log *logger.Logger, tracer trace.Tracer) (*EventBus, error) {
	producerConfig := sarama.NewConfig()
	producerConfig.Producer.RequiredAcks = sarama.WaitForAll
	producerConfig.Producer.Return.Successes = true
	producerConfig.Producer.Partitioner = sarama.NewHashPartitioner
	producerConfig.ClientID = cfg.ClientID

	producer, err := sarama.NewSyncProducer(cfg.Brokers, producerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create kafka producer: %w", err)
	}

	consumerConfig := sarama.NewConfig()
	consumerConfig.ClientID = cfg.ClientID
	consumerConfig.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	consumerConfig.Consumer.Offsets.Initial = sarama.OffsetOldest
	consumerConfig.Consumer.Group.Session.Timeout = 20 * time.Second
	consumerConfig.Consumer.Group.Heartbeat.Interval = 6 * time.Second
	consumerConfig.Consumer.Offsets.AutoCommit.Enable = true
	consumerConfig.Consumer.Offsets.AutoCommit.Interval = 1 * time.Second
	consumerConfig.Version = sarama.V2_8_0_0

	consumerGroup, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, consumerConfig)
	if err != nil {
		producer.Close()
		return nil, fmt.Errorf("failed to create kafka consumer group: %w", err)
	}

	return &EventBus{
		producer:       producer,
		consumerGroup:  consumerGroup,
		lifecycleTopic: cfg.LifecycleTopic,
		logger:         log.With("component", "kafka_event_bus"),
		tracer:         tracer,
	}, nil
}

// envelopeMessage is the wire form of an event envelope.
type envelopeMessage struct {
	Type      events.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Payload   json.RawMessage  `json:"payload"`
}

// Publish sends the envelope to the lifecycle topic.
func (b *EventBus) Publish(ctx context.Context, event events.EventEnvelope, opts ...events.PublishOption) error {
	params := events.PublishParams{}
	for _, opt := range opts {
		opt(&params)
	}

	ctx, span := b.tracer.Start(ctx, "kafka_event_bus.publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			attribute.String("event_type", string(event.Type)),
			attribute.String("topic", b.lifecycleTopic),
			attribute.String("key", params.Key),
		),
	)
	defer span.End()

	payload, err := json.Marshal(event.Payload)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal payload")
		return fmt.Errorf("marshal event payload: %w", err)
	}

	value, err := json.Marshal(envelopeMessage{
		Type:      event.Type,
		Timestamp: event.Timestamp,
		Payload:   payload,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "marshal envelope")
		return fmt.Errorf("marshal event envelope: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: b.lifecycleTopic,
		Value: sarama.ByteEncoder(value),
	}
	if params.Key != "" {
		msg.Key = sarama.StringEncoder(params.Key)
	}
	for k, v := range params.Headers {
		msg.Headers = append(msg.Headers, sarama.RecordHeader{
			Key:   []byte(k),
			Value: []byte(v),
		})
	}

	partition, offset, err := b.producer.SendMessage(msg)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "send message")
		return fmt.Errorf("send kafka message: %w", err)
	}

	span.SetAttributes(
		attribute.Int64("partition", int64(partition)),
		attribute.Int64("offset", offset),
	)
	return nil
}

// Subscribe consumes the lifecycle topic and dispatches envelopes of the
// requested types to the handler. It blocks in a background goroutine until
// the context is cancelled.
func (b *EventBus) Subscribe(ctx context.Context, eventTypes []events.EventType, handler events.HandlerFunc) error {
	wanted := make(map[events.EventType]struct{}, len(eventTypes))
	for _, t := range eventTypes {
		wanted[t] = struct{}{}
	}

	h := &consumerGroupHandler{
		wanted:  wanted,
		handler: handler,
		logger:  b.logger,
		tracer:  b.tracer,
	}

	go func() {
		for {
			if err := b.consumerGroup.Consume(ctx, []string{b.lifecycleTopic}, h); err != nil {
				b.logger.Error(ctx, "consumer group session ended", "error", err)
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	return nil
}

// Close shuts down the producer and consumer group.
func (b *EventBus) Close() error {
	var firstErr error
	if err := b.producer.Close(); err != nil {
		firstErr = err
	}
	if err := b.consumerGroup.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// consumerGroupHandler adapts sarama's consumer group callbacks to the
// events.HandlerFunc contract.
type consumerGroupHandler struct {
	wanted  map[events.EventType]struct{}
	handler events.HandlerFunc
	logger  *logger.Logger
	tracer  trace.Tracer
}

func (h *consumerGroupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *consumerGroupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *consumerGroupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for msg := range claim.Messages() {
		ctx, span := h.tracer.Start(session.Context(), "kafka_event_bus.consume",
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(
				attribute.String("topic", msg.Topic),
				attribute.Int64("partition", int64(msg.Partition)),
				attribute.Int64("offset", msg.Offset),
			),
		)

		var wire envelopeMessage
		if err := json.Unmarshal(msg.Value, &wire); err != nil {
			h.logger.Error(ctx, "dropping undecodable event", "error", err, "offset", msg.Offset)
			span.RecordError(err)
			span.End()
			session.MarkMessage(msg, "")
			continue
		}

		if _, ok := h.wanted[wire.Type]; ok {
			envelope := events.EventEnvelope{
				Type:      wire.Type,
				Key:       string(msg.Key),
				Timestamp: wire.Timestamp,
				Payload:   wire.Payload,
			}
			if err := h.handler(ctx, envelope); err != nil {
				h.logger.Error(ctx, "event handler failed", "error", err, "event_type", string(wire.Type))
				span.RecordError(err)
			}
		}

		span.End()
		session.MarkMessage(msg, "")
	}
	return nil
}
