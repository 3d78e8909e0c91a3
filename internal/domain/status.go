package domain

// RunStatus — статус выполнения workflow run.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → COMPLETED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
type RunStatus string

const (
	// RunStatusPending — run создан, но ещё не начал выполняться.
	RunStatusPending RunStatus = "PENDING"

	// RunStatusRunning — run в процессе выполнения.
	RunStatusRunning RunStatus = "RUNNING"

	// RunStatusCompleted — все узлы завершились без ошибок.
	RunStatusCompleted RunStatus = "COMPLETED"

	// RunStatusFailed — хотя бы один узел в статусе FAILED.
	// Результаты успешных узлов при этом остаются доступны.
	RunStatusFailed RunStatus = "FAILED"

	// RunStatusCancelled — run отменён пользователем.
	RunStatusCancelled RunStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (run завершён).
func (s RunStatus) IsTerminal() bool {
	switch s {
	case RunStatusCompleted, RunStatusFailed, RunStatusCancelled:
		return true
	default:
		return false
	}
}

// NodeStatus — статус выполнения отдельного узла внутри run.
//
// Жизненный цикл:
//
//	PENDING → READY → RUNNING → COMPLETED
//	                          ↘ RETRYING → READY (пока есть бюджет попыток)
//	                          ↘ FAILED
//	PENDING/READY → SKIPPED    (упал или отменён транзитивный предок)
//	любой нетерминальный → CANCELLED (запрошена отмена run)
type NodeStatus string

const (
	// NodeStatusPending — узел ожидает завершения зависимостей.
	NodeStatusPending NodeStatus = "PENDING"

	// NodeStatusReady — зависимости выполнены, узел в очереди на выполнение.
	NodeStatusReady NodeStatus = "READY"

	// NodeStatusRunning — узел выполняется воркером.
	NodeStatusRunning NodeStatus = "RUNNING"

	// NodeStatusRetrying — попытка упала, узел ждёт backoff перед повтором.
	NodeStatusRetrying NodeStatus = "RETRYING"

	// NodeStatusCompleted — узел успешно завершён (или взят из кэша).
	NodeStatusCompleted NodeStatus = "COMPLETED"

	// NodeStatusFailed — узел упал после исчерпания всех попыток.
	NodeStatusFailed NodeStatus = "FAILED"

	// NodeStatusSkipped — узел пропущен, потому что упал транзитивный предок.
	NodeStatusSkipped NodeStatus = "SKIPPED"

	// NodeStatusCancelled — узел отменён вместе с run.
	NodeStatusCancelled NodeStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный.
func (s NodeStatus) IsTerminal() bool {
	switch s {
	case NodeStatusCompleted, NodeStatusFailed, NodeStatusSkipped, NodeStatusCancelled:
		return true
	default:
		return false
	}
}
