package events

import (
	"time"

	"github.com/google/uuid"

	"github.com/smolenkov/conveyor/internal/domain"
)

// Kind — тип события engine.
type Kind string

const (
	// KindNodeStatusChanged — узел перешёл в новый статус.
	KindNodeStatusChanged Kind = "node.status_changed"

	// KindNodeLog — запись лога узла.
	KindNodeLog Kind = "node.log"

	// KindRunProgress — прогресс run (completed из total).
	KindRunProgress Kind = "run.progress"

	// KindRunFinished — run перешёл в терминальный статус.
	KindRunFinished Kind = "run.finished"

	// KindBackpressure — подписчик не успевал, часть событий отброшена.
	// Это явная политика backpressure, а не случайная потеря.
	KindBackpressure Kind = "bus.backpressure"
)

// Event — событие, публикуемое engine в шину.
//
// Поля payload заполняются в зависимости от Kind. События одного узла
// доставляются подписчику в порядке публикации; глобальный порядок
// между узлами не гарантируется.
type Event struct {
	// Kind — тип события.
	Kind Kind `json:"kind"`

	// RunID — run, к которому относится событие.
	RunID uuid.UUID `json:"run_id"`

	// Timestamp — время публикации.
	Timestamp time.Time `json:"timestamp"`

	// NodeID — узел (для node.* событий).
	NodeID string `json:"node_id,omitempty"`

	// From, To — переход статуса (для node.status_changed).
	From domain.NodeStatus `json:"from,omitempty"`
	To   domain.NodeStatus `json:"to,omitempty"`

	// Attempt — номер попытки на момент события.
	Attempt int `json:"attempt,omitempty"`

	// Level, Message — запись лога (для node.log).
	// Message всегда в замаскированной форме.
	Level   domain.LogLevel `json:"level,omitempty"`
	Message string          `json:"message,omitempty"`

	// Completed, Total — прогресс (для run.progress).
	Completed int `json:"completed,omitempty"`
	Total     int `json:"total,omitempty"`

	// Status — финальный статус run (для run.finished).
	Status domain.RunStatus `json:"status,omitempty"`

	// Dropped — количество отброшенных событий (для bus.backpressure).
	Dropped int `json:"dropped,omitempty"`
}
