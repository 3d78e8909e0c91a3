// Package repo — слой доступа к PostgreSQL через pgx.
//
// Репозитории:
//   - RunRepo — снимки workflow runs (таблица NodeRuns как JSONB);
//     реализует engine.Store
//   - WorkflowRepo — workflows и их версии
//   - ScheduleRepo — расписания автозапуска
//
// Все репозитории возвращают ErrNotFound для отсутствующих записей.
package repo
