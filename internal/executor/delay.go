package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/smolenkov/conveyor/internal/domain"
)

// DelayConfig — типизированная схема конфигурации узла "delay".
type DelayConfig struct {
	// DurationMs — длительность паузы в миллисекундах.
	DurationMs int `json:"duration_ms" validate:"required,min=1,max=3600000"`
}

// DelayExecutor — executor узла типа "delay": пауза заданной длительности.
//
// Тип недетерминированный: смысл узла — в самом ожидании,
// кэшировать его нельзя.
type DelayExecutor struct{}

// Execute ждёт duration_ms миллисекунд, уважая отмену контекста.
func (e *DelayExecutor) Execute(ctx context.Context, req *Request) (*domain.Output, error) {
	durationMs := getNumber(req.Config, "duration_ms", 0)
	if durationMs <= 0 {
		return nil, fmt.Errorf("%w: duration_ms must be positive", ErrInvalidConfig)
	}

	duration := time.Duration(durationMs) * time.Millisecond
	req.Log(domain.LogLevelInfo, fmt.Sprintf("sleeping for %s", duration))

	select {
	case <-time.After(duration):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	return &domain.Output{
		Payload: map[string]any{"slept_ms": durationMs},
		Schema:  "delay",
	}, nil
}

// getNumber извлекает число из map (JSON-числа приходят как float64).
func getNumber(m map[string]any, key string, defaultVal int) int {
	val, ok := m[key]
	if !ok {
		return defaultVal
	}
	switch v := val.(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return defaultVal
	}
}
