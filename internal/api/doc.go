// Package api содержит HTTP API сервер.
//
// Структура:
//   - handler.go          — Handler с DI (engine, репозитории, logger)
//   - routes.go           — регистрация маршрутов
//   - middleware.go       — middleware (logging, recovery)
//   - response.go         — унифицированные JSON-ответы и обработка ошибок
//   - dto.go              — Data Transfer Objects (request/response)
//   - workflow_handler.go — обработчики для /workflows
//   - run_handler.go      — обработчики для /runs, /preview и /node-types
//   - schedule_handler.go — обработчики для /schedules
//   - events_handler.go   — SSE-поток событий run
//
// API предоставляет REST endpoints для управления workflows, runs
// и schedules, а также live-поток событий выполнения для редактора.
//
// Репозитории опциональны: без базы данных сервер работает в ad-hoc
// режиме — принимает графы напрямую в POST /runs и POST /preview.
package api
