// Package scheduler реализует планировщик запусков по расписанию.
//
// Scheduler периодически проверяет schedules с истекшим next_due_at
// и публикует run.requested в RabbitMQ; запуском занимается
// conveyor-server.
//
// Структура:
//   - scheduler.go — основная логика (Tick, processSchedule)
//   - cron.go      — парсинг cron-выражений и вычисление next_due_at
//
// Leader Election:
//
// Scheduler не реализует leader election самостоятельно.
// Это делается в main.go через pg_try_advisory_lock.
// Метод Tick() вызывается только лидером.
package scheduler
