package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
)

// KafkaPublisher writes order lifecycle events to a single topic, keyed
// by order id so one order's events stay in partition order.
type KafkaPublisher struct {
	w        *kafka.Writer
	producer string
}

func NewKafkaPublisher(brokers []string, topic, producer string) *KafkaPublisher {
	return &KafkaPublisher{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			Completion: func(messages []kafka.Message, err error) {
				if err != nil {
					log.Error().Err(err).Int("messages", len(messages)).Msg("events: async publish failed")
				}
			},
		},
		producer: producer,
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, eventType string, orderID uuid.UUID, payload any) {
	eventID, err := uuid.NewV4()
	if err != nil {
		log.Error().Err(err).Msg("events: failed to generate event id")
		return
	}

	var raw json.RawMessage
	if payload != nil {
		raw, err = json.Marshal(payload)
		if err != nil {
			log.Error().Err(err).Str("event_type", eventType).Msg("events: failed to marshal payload")
			return
		}
	}

	env := Envelope{
		EventID:    eventID.String(),
		EventType:  eventType,
		OccurredAt: time.Now().UTC(),
		Producer:   p.producer,
		OrderID:    orderID.String(),
		Payload:    raw,
	}

	value, err := json.Marshal(env)
	if err != nil {
		log.Error().Err(err).Str("event_type", eventType).Msg("events: failed to marshal envelope")
		return
	}

	if err := p.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(orderID.String()),
		Value: value,
		Time:  env.OccurredAt,
	}); err != nil {
		// Async writer only errors here on a full buffer or closed writer.
		log.Error().Err(err).Str("event_type", eventType).Stringer("order_id", orderID).Msg("events: publish failed")
	}
}

func (p *KafkaPublisher) Close() error {
	return p.w.Close()
}
