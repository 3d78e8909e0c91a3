package domain

import (
	"time"

	"github.com/google/uuid"
)

// ErrorKind — классификация ошибки узла.
type ErrorKind string

const (
	// ErrorKindExecution — ошибка, возвращённая executor'ом.
	ErrorKindExecution ErrorKind = "EXECUTION"

	// ErrorKindTimeout — попытка превысила timeout.
	ErrorKindTimeout ErrorKind = "TIMEOUT"

	// ErrorKindVariable — в конфигурации узла неизвестная переменная.
	ErrorKindVariable ErrorKind = "VARIABLE"

	// ErrorKindCancelled — выполнение прервано отменой run.
	ErrorKindCancelled ErrorKind = "CANCELLED"
)

// NodeError — ошибка выполнения узла: вид + сообщение.
type NodeError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// LogLevel — уровень записи лога узла.
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry — одна запись лога узла.
//
// Message уже замаскирован: секретные значения в него не попадают.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     LogLevel  `json:"level"`
	Message   string    `json:"message"`
}

// Output — результат выполнения узла: непрозрачный payload плюс
// объявленная схема (имя формата, которое декларирует тип узла).
type Output struct {
	// Payload — данные результата. Engine их не интерпретирует,
	// только передаёт потомкам и кэширует.
	Payload map[string]any `json:"payload,omitempty"`

	// Schema — объявленный формат payload ("json", "table", "dataset", ...).
	Schema string `json:"schema,omitempty"`
}

// NodeRun — запись о выполнении одного узла внутри run.
type NodeRun struct {
	// NodeID — ID узла из графа.
	NodeID string `json:"node_id"`

	// Status — текущий статус узла.
	Status NodeStatus `json:"status"`

	// Attempt — номер попытки (1, 2, ...). 0 — узел взят из кэша
	// или не выполнялся.
	Attempt int `json:"attempt"`

	// CacheHit — результат взят из кэша без вызова executor'а.
	CacheHit bool `json:"cache_hit,omitempty"`

	// Output — результат выполнения (для COMPLETED).
	Output *Output `json:"output,omitempty"`

	// Error — ошибка выполнения (для FAILED/SKIPPED/CANCELLED).
	Error *NodeError `json:"error,omitempty"`

	// Logs — упорядоченные записи лога узла.
	Logs []LogEntry `json:"logs,omitempty"`

	// StartedAt — время первого перехода в RUNNING.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// EndedAt — время перехода в терминальный статус.
	EndedAt *time.Time `json:"ended_at,omitempty"`
}

// Duration возвращает продолжительность выполнения узла.
func (nr *NodeRun) Duration() time.Duration {
	if nr.StartedAt == nil || nr.EndedAt == nil {
		return 0
	}
	return nr.EndedAt.Sub(*nr.StartedAt)
}

// MarkRunning переводит узел в RUNNING и увеличивает счётчик попыток.
func (nr *NodeRun) MarkRunning() {
	if nr.StartedAt == nil {
		now := time.Now()
		nr.StartedAt = &now
	}
	nr.Status = NodeStatusRunning
	nr.Attempt++
}

// MarkCompleted переводит узел в COMPLETED с результатом.
func (nr *NodeRun) MarkCompleted(output *Output) {
	now := time.Now()
	nr.Status = NodeStatusCompleted
	nr.Output = output
	nr.EndedAt = &now
}

// MarkCachedCompleted переводит узел в COMPLETED по попаданию в кэш.
// Attempt остаётся 0 — executor не вызывался.
func (nr *NodeRun) MarkCachedCompleted(output *Output) {
	now := time.Now()
	nr.Status = NodeStatusCompleted
	nr.Output = output
	nr.CacheHit = true
	nr.StartedAt = &now
	nr.EndedAt = &now
}

// MarkFailed переводит узел в FAILED с ошибкой.
func (nr *NodeRun) MarkFailed(kind ErrorKind, message string) {
	now := time.Now()
	nr.Status = NodeStatusFailed
	nr.Error = &NodeError{Kind: kind, Message: message}
	nr.EndedAt = &now
}

// MarkSkipped переводит узел в SKIPPED с указанием упавшего предка.
func (nr *NodeRun) MarkSkipped(ancestorID string) {
	now := time.Now()
	nr.Status = NodeStatusSkipped
	nr.Error = &NodeError{
		Kind:    ErrorKindExecution,
		Message: "skipped: upstream node " + ancestorID + " did not complete",
	}
	nr.EndedAt = &now
}

// MarkCancelled переводит узел в CANCELLED.
func (nr *NodeRun) MarkCancelled() {
	now := time.Now()
	nr.Status = NodeStatusCancelled
	nr.Error = &NodeError{Kind: ErrorKindCancelled, Message: "run cancelled"}
	nr.EndedAt = &now
}

// AppendLog добавляет запись в лог узла.
func (nr *NodeRun) AppendLog(level LogLevel, message string) {
	nr.Logs = append(nr.Logs, LogEntry{
		Timestamp: time.Now(),
		Level:     level,
		Message:   message,
	})
}

// WorkflowRun — одно выполнение графа.
//
// WorkflowRun создаётся при старте и становится неизменяемым после
// перехода в терминальный статус. Это единица, которая персистится
// и отдаётся UI.
type WorkflowRun struct {
	// ID — уникальный идентификатор run.
	ID uuid.UUID `json:"id"`

	// WorkflowID — ссылка на сохранённый workflow (uuid.Nil для
	// ad-hoc запусков прямо с канвы).
	WorkflowID uuid.UUID `json:"workflow_id,omitempty"`

	// Status — агрегатный статус run.
	Status RunStatus `json:"status"`

	// NodeRuns — записи выполнения всех узлов (node id → NodeRun).
	NodeRuns map[string]*NodeRun `json:"node_runs"`

	// Variables — снимок переменных, использованный в run
	// (секреты замаскированы).
	Variables Variables `json:"variables,omitempty"`

	// Options — параметры запуска.
	Options RunOptions `json:"options"`

	// Error — агрегатное сообщение об ошибке для FAILED.
	Error string `json:"error,omitempty"`

	// IdempotencyKey — ключ идемпотентности (для scheduled runs).
	IdempotencyKey string `json:"idempotency_key,omitempty"`

	// StartedAt — время старта выполнения.
	StartedAt *time.Time `json:"started_at,omitempty"`

	// EndedAt — время завершения.
	EndedAt *time.Time `json:"ended_at,omitempty"`

	// CreatedAt — время создания run.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения run.
func (r *WorkflowRun) Duration() time.Duration {
	if r.StartedAt == nil || r.EndedAt == nil {
		return 0
	}
	return r.EndedAt.Sub(*r.StartedAt)
}

// IsFinished возвращает true, если run в терминальном статусе.
func (r *WorkflowRun) IsFinished() bool {
	return r.Status.IsTerminal()
}

// MarkRunning переводит run в RUNNING.
func (r *WorkflowRun) MarkRunning() {
	now := time.Now()
	r.Status = RunStatusRunning
	r.StartedAt = &now
}

// MarkCompleted переводит run в COMPLETED.
func (r *WorkflowRun) MarkCompleted() {
	now := time.Now()
	r.Status = RunStatusCompleted
	r.EndedAt = &now
}

// MarkFailed переводит run в FAILED с ошибкой.
func (r *WorkflowRun) MarkFailed(errMsg string) {
	now := time.Now()
	r.Status = RunStatusFailed
	r.Error = errMsg
	r.EndedAt = &now
}

// MarkCancelled переводит run в CANCELLED.
func (r *WorkflowRun) MarkCancelled() {
	now := time.Now()
	r.Status = RunStatusCancelled
	r.EndedAt = &now
}

// CountByStatus возвращает количество узлов в заданном статусе.
func (r *WorkflowRun) CountByStatus(status NodeStatus) int {
	n := 0
	for _, nr := range r.NodeRuns {
		if nr.Status == status {
			n++
		}
	}
	return n
}
