package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smolenkov/conveyor/internal/domain"
)

// keyPrefix — префикс ключей Conveyor в Redis.
const keyPrefix = "conveyor:cache:"

// Redis — реализация Cache поверх Redis.
//
// TTL обеспечивается самим Redis (SET с expiration), размер —
// политикой eviction сервера. Используется, когда несколько
// экземпляров сервера должны разделять кэш.
type Redis struct {
	client redis.Cmdable
}

// NewRedis создаёт кэш поверх существующего клиента.
func NewRedis(client redis.Cmdable) *Redis {
	return &Redis{client: client}
}

// Lookup возвращает результат по fingerprint.
func (r *Redis) Lookup(ctx context.Context, fingerprint string) (*domain.Output, bool, error) {
	data, err := r.client.Get(ctx, keyPrefix+fingerprint).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var output domain.Output
	if err := json.Unmarshal(data, &output); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached output: %w", err)
	}
	return &output, true, nil
}

// Store сохраняет результат с TTL.
func (r *Redis) Store(ctx context.Context, fingerprint string, output *domain.Output, ttl time.Duration) error {
	data, err := json.Marshal(output)
	if err != nil {
		return fmt.Errorf("marshal output: %w", err)
	}

	if err := r.client.Set(ctx, keyPrefix+fingerprint, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}
