// Package cache реализует Result Cache — мемоизацию результатов узлов.
//
// Структура:
//   - fingerprint.go — стабильный хэш (тип узла, конфигурация, входы)
//   - cache.go       — интерфейс Cache и заглушка Disabled
//   - memory.go      — in-memory LRU с TTL (по умолчанию)
//   - redis.go       — разделяемый кэш поверх Redis
//
// Попадание в кэш переводит узел сразу в COMPLETED с attempt = 0.
// Узлы недетерминированных типов не кэшируются.
package cache
