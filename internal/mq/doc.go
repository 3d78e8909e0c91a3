// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений
//   - consumer.go   — потребление сообщений из очередей
//   - bridge.go     — трансляция событий engine в topic-обменник
//
// Потоки сообщений:
//   - run.requested — scheduler просит запустить workflow;
//     потребляет conveyor-server
//   - engine.event  — события engine (статусы узлов, логи, прогресс)
//     для внешних потребителей
package mq
