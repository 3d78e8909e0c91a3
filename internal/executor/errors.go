package executor

import "errors"

// Ошибки пакета executor.
var (
	// ErrUnknownNodeType — тип узла не зарегистрирован в реестре.
	ErrUnknownNodeType = errors.New("unknown node type")

	// ErrInvalidConfig — конфигурация узла не прошла схему типа.
	ErrInvalidConfig = errors.New("invalid node config")

	// ErrHTTPRequest — ошибка выполнения HTTP-запроса.
	ErrHTTPRequest = errors.New("http request failed")
)
