package domain

import "time"

// Значения по умолчанию для RunOptions.
const (
	DefaultMaxConcurrentNodes   = 4
	DefaultTimeoutSeconds       = 60
	DefaultRetryCount           = 2
	DefaultCacheExpirationMin   = 30
	DefaultInitialBackoff       = 500 * time.Millisecond
	DefaultMaxBackoff           = 30 * time.Second
)

// RunOptions — параметры выполнения run, задаваемые в настройках workflow.
type RunOptions struct {
	// MaxConcurrentNodes — размер пула воркеров (default: 4).
	MaxConcurrentNodes int `json:"max_concurrent_nodes,omitempty" validate:"omitempty,min=1,max=64"`

	// TimeoutSeconds — потолок длительности одной попытки узла (default: 60).
	TimeoutSeconds int `json:"timeout_seconds,omitempty" validate:"omitempty,min=1"`

	// RetryCount — количество повторов после первой попытки (default: 2).
	// Максимум попыток = RetryCount + 1.
	RetryCount int `json:"retry_count,omitempty" validate:"omitempty,min=0,max=10"`

	// EnableCaching — включить Result Cache для детерминированных узлов.
	EnableCaching bool `json:"enable_caching,omitempty"`

	// CacheExpirationMinutes — TTL записей кэша в минутах (default: 30).
	CacheExpirationMinutes int `json:"cache_expiration_minutes,omitempty" validate:"omitempty,min=1"`
}

// Normalized возвращает копию опций с заполненными значениями по умолчанию.
func (o RunOptions) Normalized() RunOptions {
	if o.MaxConcurrentNodes <= 0 {
		o.MaxConcurrentNodes = DefaultMaxConcurrentNodes
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = DefaultTimeoutSeconds
	}
	if o.RetryCount < 0 {
		o.RetryCount = 0
	}
	if o.CacheExpirationMinutes <= 0 {
		o.CacheExpirationMinutes = DefaultCacheExpirationMin
	}
	return o
}

// MaxAttempts возвращает полный бюджет попыток узла.
func (o RunOptions) MaxAttempts() int {
	return o.RetryCount + 1
}

// AttemptTimeout возвращает таймаут одной попытки.
func (o RunOptions) AttemptTimeout() time.Duration {
	return time.Duration(o.TimeoutSeconds) * time.Second
}

// CacheTTL возвращает TTL записей кэша.
func (o RunOptions) CacheTTL() time.Duration {
	return time.Duration(o.CacheExpirationMinutes) * time.Minute
}
