package domain

// Node — типизированный узел графа workflow.
//
// Узлы создаются визуальным редактором. Type определяет, какой executor
// выполнит узел; Config — произвольная конфигурация, значения которой
// могут ссылаться на переменные через ${NAME}.
type Node struct {
	// ID — уникальный идентификатор узла внутри графа.
	ID string `json:"id"`

	// Type — тип узла ("http", "delay", "transform", ...).
	// Определяет executor и набор capabilities (детерминизм, порты).
	Type string `json:"type"`

	// Name — человекочитаемое имя узла (опционально, для логов и UI).
	Name string `json:"name,omitempty"`

	// Config — конфигурация узла. Строковые значения могут содержать
	// плейсхолдеры переменных ${NAME}.
	Config map[string]any `json:"config,omitempty"`
}

// Edge — направленное ребро графа: выход source → вход target.
type Edge struct {
	// ID — уникальный идентификатор ребра.
	ID string `json:"id"`

	// Source — ID узла-источника.
	Source string `json:"source"`

	// Target — ID узла-приёмника.
	Target string `json:"target"`

	// SourceHandle — имя выходного порта source (для многопортовых узлов).
	SourceHandle string `json:"source_handle,omitempty"`

	// TargetHandle — имя входного порта target.
	TargetHandle string `json:"target_handle,omitempty"`
}

// Graph — набор узлов и рёбер, отправляемый на выполнение.
//
// Graph — read-only вход для engine: после старта run редактор не может
// менять граф внутри выполняющегося run, только в следующих запусках.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// NodeByID возвращает узел по ID (nil, если не найден).
func (g *Graph) NodeByID(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}
