package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Handler — функция обработки сообщения.
//
// Контракт подтверждения: nil — ack, обычная ошибка — nack с возвратом
// в очередь (временный сбой), PermanentError — nack в DLQ (повтор
// не поможет). Handler не работает с ack/nack напрямую.
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	// Message — распарсенное сообщение.
	Message Message

	// Raw — сырое AMQP сообщение.
	Raw amqp.Delivery
}

// PermanentError помечает ошибку обработки как неустранимую:
// сообщение уходит в DLQ вместо возврата в очередь.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent оборачивает ошибку как неустранимую.
func Permanent(err error) error {
	return &PermanentError{Err: err}
}

// Consumer потребляет сообщения из очереди RabbitMQ.
//
// Переживает разрывы соединения: при закрытии канала доставки ждёт
// ReconnectNotify от Connection и продолжает с того же места.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
	done       chan struct{}
}

// ConsumerConfig — конфигурация consumer.
type ConsumerConfig struct {
	// Queue — имя очереди.
	Queue Queue

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — количество сообщений для предварительной загрузки.
	Prefetch int
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Consumer{
		conn:     conn,
		logger:   logger,
		queue:    cfg.Queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
		done:     make(chan struct{}),
	}
}

// Start подписывается на очередь и запускает цикл потребления в фоне.
// Ошибка возвращается только если первая подписка не удалась.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	deliveries, err := c.subscribe()
	if err != nil {
		cancel()
		return err
	}

	c.logger.Info("consumer started", "queue", c.queue)

	go c.consume(ctx, deliveries)

	return nil
}

// consume — основной цикл: обрабатывает доставки и пересоздаёт
// подписку после разрывов.
func (c *Consumer) consume(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer close(c.done)

	for {
		if deliveries != nil {
			if err := c.drain(ctx, deliveries); err != nil {
				if ctx.Err() != nil {
					return
				}
				c.logger.Warn("deliveries channel closed, waiting for reconnect", "queue", c.queue)
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-c.conn.ReconnectNotify():
		}

		var err error
		deliveries, err = c.subscribe()
		if err != nil {
			c.logger.Error("failed to resubscribe", "queue", c.queue, "error", err)
			deliveries = nil
			continue
		}
		c.logger.Info("consumer resubscribed", "queue", c.queue)
	}
}

// subscribe настраивает prefetch и начинает потребление.
func (c *Consumer) subscribe() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	deliveries, err := ch.Consume(
		string(c.queue), // queue
		"",      // consumer tag (auto-generated)
		false,   // auto-ack (подтверждаем вручную)
		false,   // exclusive
		false,   // no-local
		false,   // no-wait
		nil,     // args
	)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

// drain обрабатывает сообщения до закрытия канала доставки.
func (c *Consumer) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}
			c.handleDelivery(ctx, raw)
		}
	}
}

// handleDelivery обрабатывает одно сообщение и подтверждает его
// согласно контракту Handler.
func (c *Consumer) handleDelivery(ctx context.Context, raw amqp.Delivery) {
	var msg Message
	if err := json.Unmarshal(raw.Body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message",
			"queue", c.queue,
			"error", err,
			"body", string(raw.Body),
		)
		// Некорректное сообщение — сразу в DLQ
		raw.Nack(false, false)
		return
	}

	c.logger.Debug("received message",
		"queue", c.queue,
		"message_id", msg.ID,
		"type", msg.Type,
	)

	err := c.handler(ctx, &Delivery{Message: msg, Raw: raw})
	if err == nil {
		raw.Ack(false)
		return
	}

	var perm *PermanentError
	if errors.As(err, &perm) {
		c.logger.Error("message rejected",
			"queue", c.queue,
			"message_id", msg.ID,
			"type", msg.Type,
			"error", err,
		)
		raw.Nack(false, false)
		return
	}

	c.logger.Warn("handler failed, requeueing",
		"queue", c.queue,
		"message_id", msg.ID,
		"type", msg.Type,
		"error", err,
	)
	raw.Nack(false, true)
}

// Stop останавливает consumer и ждёт завершения цикла.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
		<-c.done
	}
}
