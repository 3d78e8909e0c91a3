// Package events реализует шину событий engine.
//
// Структура:
//   - event.go — типы событий (status changed, log, progress, finished)
//   - bus.go   — publish/subscribe с ограниченными очередями и
//     явной политикой backpressure для медленных подписчиков
//
// Подписчики — UI-коллабораторы (SSE-стрим в api), мост в RabbitMQ (mq)
// и метрики (telemetry).
package events
