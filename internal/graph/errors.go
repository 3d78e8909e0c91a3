package graph

import (
	"errors"
	"fmt"
	"strings"
)

// Ошибки валидации графа.
var (
	// ErrEmptyGraph — граф не содержит узлов.
	ErrEmptyGraph = errors.New("graph has no nodes")

	// ErrEmptyNodeID — узел не имеет ID.
	ErrEmptyNodeID = errors.New("node has empty ID")

	// ErrDuplicateNodeID — несколько узлов с одинаковым ID.
	ErrDuplicateNodeID = errors.New("duplicate node ID")

	// ErrDanglingEdge — ребро ссылается на несуществующий узел.
	ErrDanglingEdge = errors.New("edge references unknown node")

	// ErrCycleDetected — обнаружен цикл в графе.
	ErrCycleDetected = errors.New("cycle detected")

	// ErrNodeNotFound — узел с таким ID в топологии отсутствует.
	ErrNodeNotFound = errors.New("node not found in topology")
)

// CycleError — ошибка с перечислением узлов, образующих цикл.
type CycleError struct {
	// NodeIDs — узлы, оставшиеся с ненулевой входящей степенью
	// после Kahn-обхода (участники цикла или зависимые от него).
	NodeIDs []string
}

// Error реализует интерфейс error.
func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle detected involving nodes: %s", strings.Join(e.NodeIDs, ", "))
}

// Unwrap возвращает базовую ошибку.
func (e *CycleError) Unwrap() error {
	return ErrCycleDetected
}

// DanglingEdgeError — ошибка ребра, указывающего на несуществующий узел.
type DanglingEdgeError struct {
	EdgeID string
	NodeID string // отсутствующий узел
}

// Error реализует интерфейс error.
func (e *DanglingEdgeError) Error() string {
	return fmt.Sprintf("edge %s references unknown node %s", e.EdgeID, e.NodeID)
}

// Unwrap возвращает базовую ошибку.
func (e *DanglingEdgeError) Unwrap() error {
	return ErrDanglingEdge
}
