package cache

import (
	"context"
	"time"

	"github.com/smolenkov/conveyor/internal/domain"
)

// Cache — хранилище результатов узлов по fingerprint.
//
// Реализации обязаны быть безопасными для конкурентного доступа:
// lookup/store вызываются из воркеров engine параллельно.
// Просроченные записи трактуются как отсутствующие.
type Cache interface {
	// Lookup возвращает результат по fingerprint.
	// Второе значение — false при промахе или истёкшем TTL.
	Lookup(ctx context.Context, fingerprint string) (*domain.Output, bool, error)

	// Store сохраняет результат с заданным TTL.
	Store(ctx context.Context, fingerprint string, output *domain.Output, ttl time.Duration) error
}

// Disabled — заглушка для выключенного кэша: всегда промах, store — no-op.
type Disabled struct{}

// Lookup всегда возвращает промах.
func (Disabled) Lookup(context.Context, string) (*domain.Output, bool, error) {
	return nil, false, nil
}

// Store ничего не сохраняет.
func (Disabled) Store(context.Context, string, *domain.Output, time.Duration) error {
	return nil
}
