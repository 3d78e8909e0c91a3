package engine

import "errors"

// Ошибки engine.
var (
	// ErrRunNotFound — run с таким ID не известен engine.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunFinished — run уже в терминальном статусе.
	ErrRunFinished = errors.New("run already finished")

	// ErrNodeNotFound — узел не найден в графе.
	ErrNodeNotFound = errors.New("node not found in graph")

	// ErrInvalidGraph — граф не прошёл валидацию при приёме.
	ErrInvalidGraph = errors.New("invalid graph")

	// ErrInvalidOptions — параметры запуска не прошли валидацию.
	ErrInvalidOptions = errors.New("invalid run options")

	// ErrEngineClosed — engine остановлен и новые runs не принимает.
	ErrEngineClosed = errors.New("engine closed")

	// ErrPreviewFailed — целевой узел preview не завершился успешно.
	ErrPreviewFailed = errors.New("preview target did not complete")
)
