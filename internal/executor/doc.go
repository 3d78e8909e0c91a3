// Package executor определяет адаптер выполнения узлов.
//
// # Обзор
//
// Executor — чёрный ящик, который engine вызывает для фактического
// выполнения узла. Хост-приложение регистрирует свои типы узлов в
// Registry вместе с capabilities (детерминизм, схема конфигурации);
// встроенные http/delay/transform служат базовым набором и образцом.
//
// Гарантии engine перед executor'ом:
//   - отменяемый контекст с таймаутом попытки
//   - монотонный счётчик попыток (Request.Attempt)
//   - read-only доступ к результатам завершённых входов (Request.Inputs)
package executor
