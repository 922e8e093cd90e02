package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeInstanceCreated MessageType = "instance.created"
	MessageTypeTimerDue        MessageType = "timer.due"
	MessageTypeSignalRaised    MessageType = "signal.raised"
	MessageTypeEventOccurred   MessageType = "event.occurred"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// InstanceCreatedPayload — payload для созданного экземпляра,
// ожидающего запуска.
type InstanceCreatedPayload struct {
	InstanceID uuid.UUID `json:"instance_id"`
}

// TimerDuePayload — payload для сработавшего таймера.
type TimerDuePayload struct {
	TimerID      uuid.UUID `json:"timer_id"`
	InstanceID   uuid.UUID `json:"instance_id"`
	BookmarkName string    `json:"bookmark_name"`
}

// SignalRaisedPayload — payload для широковещательного сигнала.
type SignalRaisedPayload struct {
	Signal string         `json:"signal"`
	Input  map[string]any `json:"input,omitempty"`
}

// EventOccurredPayload — payload для внешнего события, запускающего
// подписанные определения.
type EventOccurredPayload struct {
	Event string         `json:"event"`
	Input map[string]any `json:"input,omitempty"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishInstanceCreated публикует событие о созданном экземпляре,
// ожидающем запуска. Потребитель: Engine.
func (p *Publisher) PublishInstanceCreated(ctx context.Context, instanceID uuid.UUID) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeInstanceCreated,
		Payload:   InstanceCreatedPayload{InstanceID: instanceID},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeInstances, RoutingKeyPending, msg)
}

// PublishTimerDue публикует событие о сработавшем таймере.
// Потребитель: Engine.
func (p *Publisher) PublishTimerDue(ctx context.Context, payload TimerDuePayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTimerDue,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeInstances, RoutingKeyTimer, msg)
}

// PublishSignal публикует широковещательный сигнал для приостановленных
// экземпляров. Потребитель: Engine.
func (p *Publisher) PublishSignal(ctx context.Context, signal string, input map[string]any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeSignalRaised,
		Payload:   SignalRaisedPayload{Signal: signal, Input: input},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeSignals, RoutingKeySignal, msg)
}

// PublishEvent публикует внешнее событие, запускающее подписанные
// определения. Потребитель: Engine.
func (p *Publisher) PublishEvent(ctx context.Context, event string, input map[string]any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeEventOccurred,
		Payload:   EventOccurredPayload{Event: event, Input: input},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeSignals, RoutingKeyEvent, msg)
}

// PublishJSON публикует произвольный JSON payload.
func (p *Publisher) PublishJSON(ctx context.Context, exchange Exchange, routingKey RoutingKey, msgType MessageType, payload any) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      msgType,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, exchange, routingKey, msg)
}
