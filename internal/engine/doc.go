// Package engine — ядро выполнения workflow-графов.
//
// # Модель выполнения
//
// Каждый run обслуживает собственная координирующая горутина. Она
// единолично владеет ready-очередью и терминальными переходами таблицы
// NodeRun; пул воркеров ограниченного размера (MaxConcurrentNodes)
// забирает готовые узлы и возвращает результаты по каналу.
//
// Машина состояний узла:
//
//	PENDING → READY → RUNNING → COMPLETED
//	                          ↘ RETRYING → RUNNING (пока есть бюджет попыток)
//	                          ↘ FAILED
//	PENDING/READY → SKIPPED    (транзитивный предок упал)
//	любой нетерминальный → CANCELLED
//
// Гарантии:
//   - узел не стартует раньше, чем все его предки достигли COMPLETED
//     (попадание в кэш считается COMPLETED);
//   - терминальный отказ узла жадно помечает SKIPPED всех его
//     транзитивных потомков, не трогая независимые ветки;
//   - run завершается COMPLETED только при отсутствии FAILED-узлов;
//   - порядок выполнения узлов одного тира недетерминирован, но
//     множество выполненных узлов и их финальные статусы — детерминированы.
package engine
