package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/smolenkov/conveyor/internal/events"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeRunRequested MessageType = "run.requested"
	MessageTypeEngineEvent  MessageType = "engine.event"
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

// RunRequestedPayload — payload запроса на запуск workflow.
//
// Scheduler публикует запрос, conveyor-server запускает run.
type RunRequestedPayload struct {
	WorkflowID uuid.UUID `json:"workflow_id"`

	// ScheduleID — расписание, породившее запрос (для обновления
	// last_run_id после старта).
	ScheduleID uuid.UUID `json:"schedule_id,omitempty"`

	// Version — версия workflow (0 — последняя).
	Version int `json:"version,omitempty"`

	// IdempotencyKey защищает от двойного запуска при redelivery.
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

// DecodePayload десериализует Payload сообщения в v.
//
// После json.Unmarshal всего сообщения Payload содержит map[string]any;
// потребителю нужен типизированный payload.
func (m *Message) DecodePayload(v any) error {
	data, err := json.Marshal(m.Payload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("unmarshal payload: %w", err)
	}
	return nil
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

// PublishRunRequested публикует запрос на запуск workflow.
// Потребитель: conveyor-server.
func (p *Publisher) PublishRunRequested(ctx context.Context, payload RunRequestedPayload) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeRunRequested,
		Payload:   payload,
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeRuns, RoutingKeyRequested, msg)
}

// PublishEvent публикует событие engine в topic-обменник.
//
// Ключ маршрутизации "<run_id>.<kind>" позволяет потребителям
// подписываться на конкретный run или на тип события.
func (p *Publisher) PublishEvent(ctx context.Context, ev events.Event) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeEngineEvent,
		Payload:   ev,
		Timestamp: ev.Timestamp,
	}

	routingKey := RoutingKey(ev.RunID.String() + "." + string(ev.Kind))
	return p.Publish(ctx, ExchangeEvents, routingKey, msg)
}
