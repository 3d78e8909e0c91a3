// Package graph строит и валидирует топологию workflow-графа.
//
// Включает:
//   - graph.go  — Topology: списки смежности, Kahn-сортировка, ярусы
//   - errors.go — ошибки валидации (циклы, висячие рёбра)
//
// Topology неизменяема после построения и безопасна для конкурентного
// чтения из воркеров engine.
package graph
