// Package domain содержит доменные типы Conveyor.
//
// Основные сущности:
//   - Node, Edge, Graph   — граф workflow с канвы редактора
//   - Variable, Variables — переменные workflow и их снимок на run
//   - NodeRun             — запись выполнения одного узла (state machine)
//   - WorkflowRun         — одно выполнение графа целиком
//   - Workflow, WorkflowVersion, Schedule — сохранённые определения
//
// Domain не зависит от других пакетов системы (кроме uuid) —
// это общий язык между engine, repo, api и cli.
package domain
