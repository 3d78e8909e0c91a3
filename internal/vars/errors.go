package vars

import "errors"

// ErrUnknownVariable — конфигурация ссылается на несуществующую переменную.
var ErrUnknownVariable = errors.New("unknown variable")

// UnknownVariableError — ошибка с именем отсутствующей переменной.
type UnknownVariableError struct {
	Name string
}

// Error реализует интерфейс error.
func (e *UnknownVariableError) Error() string {
	return "unknown variable ${" + e.Name + "}"
}

// Unwrap возвращает базовую ошибку.
func (e *UnknownVariableError) Unwrap() error {
	return ErrUnknownVariable
}
