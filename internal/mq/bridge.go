package mq

import (
	"context"
	"log/slog"

	"github.com/smolenkov/conveyor/internal/events"
)

// EventBridge транслирует события внутренней шины engine в RabbitMQ.
//
// Мост — обычный подписчик шины: он не влияет на выполнение runs,
// а при отставании получает Backpressure-события как любой другой
// потребитель. Ошибки публикации логируются и не останавливают мост.
type EventBridge struct {
	publisher   *Publisher
	logger      *slog.Logger
	unsubscribe func()
}

// NewEventBridge создаёт мост без подписки.
func NewEventBridge(publisher *Publisher, logger *slog.Logger) *EventBridge {
	return &EventBridge{
		publisher: publisher,
		logger:    logger,
	}
}

// Start подписывает мост на шину.
func (b *EventBridge) Start(ctx context.Context, bus *events.Bus) {
	b.unsubscribe = bus.Subscribe(func(ev events.Event) {
		if ctx.Err() != nil {
			return
		}
		if err := b.publisher.PublishEvent(ctx, ev); err != nil {
			b.logger.Warn("failed to publish engine event",
				"run_id", ev.RunID,
				"kind", ev.Kind,
				"error", err,
			)
		}
	})

	b.logger.Info("event bridge started", "exchange", ExchangeEvents)
}

// Stop отписывает мост от шины.
func (b *EventBridge) Stop() {
	if b.unsubscribe != nil {
		b.unsubscribe()
		b.unsubscribe = nil
	}
	b.logger.Info("event bridge stopped")
}
