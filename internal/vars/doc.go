// Package vars подставляет переменные workflow в конфигурацию узлов.
//
// Синтаксис ссылки: ${VARIABLE_NAME}. Подстановка возвращает две формы
// конфигурации: реальную (для executor'а) и отображаемую (для логов),
// в которой секретные значения заменены маской.
package vars
