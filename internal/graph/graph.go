package graph

import (
	"fmt"
	"sort"

	"github.com/smolenkov/conveyor/internal/domain"
)

// Topology — неизменяемое представление провалидированного графа на один run.
//
// Строится один раз при старте run и далее используется только на чтение:
// прямые и обратные списки смежности, входящие степени, топологический
// порядок и ярусы (tiers) для параллельного выполнения.
type Topology struct {
	// nodes — узлы графа (node id → Node).
	nodes map[string]*domain.Node

	// dependents — прямые зависимые узлы (source → targets).
	dependents map[string][]string

	// dependsOn — прямые зависимости (target → sources).
	dependsOn map[string][]string

	// inEdges — входящие рёбра узла в порядке объявления
	// (для доступа к upstream-результатам по портам).
	inEdges map[string][]domain.Edge

	// inDegree — количество входящих рёбер узла.
	inDegree map[string]int

	// order — топологически отсортированные node ids.
	order []string

	// tiers — ярусы: tiers[0] — корни, tiers[i] — узлы, все зависимости
	// которых лежат в ярусах < i. Узлы одного яруса могут выполняться
	// конкурентно.
	tiers [][]string
}

// Validate строит Topology из узлов и рёбер.
//
// Ошибки: пустой граф, пустые/дублирующиеся ID узлов, висячие рёбра
// (DanglingEdgeError), циклы (CycleError). Узлы без входов — валидные корни.
func Validate(nodes []domain.Node, edges []domain.Edge) (*Topology, error) {
	if len(nodes) == 0 {
		return nil, ErrEmptyGraph
	}

	t := &Topology{
		nodes:      make(map[string]*domain.Node, len(nodes)),
		dependents: make(map[string][]string),
		dependsOn:  make(map[string][]string),
		inEdges:    make(map[string][]domain.Edge),
		inDegree:   make(map[string]int, len(nodes)),
	}

	// Первый проход: регистрируем узлы
	for i := range nodes {
		node := &nodes[i]
		if node.ID == "" {
			return nil, ErrEmptyNodeID
		}
		if _, exists := t.nodes[node.ID]; exists {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateNodeID, node.ID)
		}
		t.nodes[node.ID] = node
		t.inDegree[node.ID] = 0
	}

	// Второй проход: связываем рёбра
	for i := range edges {
		edge := edges[i]
		if _, ok := t.nodes[edge.Source]; !ok {
			return nil, &DanglingEdgeError{EdgeID: edge.ID, NodeID: edge.Source}
		}
		if _, ok := t.nodes[edge.Target]; !ok {
			return nil, &DanglingEdgeError{EdgeID: edge.ID, NodeID: edge.Target}
		}
		t.addEdge(edge)
	}

	// Kahn: топологический порядок + ярусы, заодно проверка на циклы
	if err := t.sortTopologically(); err != nil {
		return nil, err
	}

	return t, nil
}

// addEdge добавляет ребро. Дубликаты (та же пара source→target) не
// увеличивают inDegree повторно, но сохраняются в inEdges для портов.
func (t *Topology) addEdge(edge domain.Edge) {
	t.inEdges[edge.Target] = append(t.inEdges[edge.Target], edge)

	for _, dep := range t.dependsOn[edge.Target] {
		if dep == edge.Source {
			return // уже связаны
		}
	}
	t.dependents[edge.Source] = append(t.dependents[edge.Source], edge.Target)
	t.dependsOn[edge.Target] = append(t.dependsOn[edge.Target], edge.Source)
	t.inDegree[edge.Target]++
}

// sortTopologically выполняет топологическую сортировку (алгоритм Кана),
// попутно раскладывая узлы по ярусам.
func (t *Topology) sortTopologically() error {
	inDegree := make(map[string]int, len(t.inDegree))
	for id, d := range t.inDegree {
		inDegree[id] = d
	}

	// Стартовый ярус: узлы без зависимостей, отсортированы для
	// стабильности порядка между запусками.
	var tier []string
	for id, d := range inDegree {
		if d == 0 {
			tier = append(tier, id)
		}
	}
	sort.Strings(tier)

	order := make([]string, 0, len(t.nodes))
	var tiers [][]string

	for len(tier) > 0 {
		tiers = append(tiers, tier)
		order = append(order, tier...)

		var next []string
		for _, id := range tier {
			for _, dep := range t.dependents[id] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		sort.Strings(next)
		tier = next
	}

	// Если не все узлы обработаны — есть цикл
	if len(order) != len(t.nodes) {
		var cycle []string
		for id, d := range inDegree {
			if d > 0 {
				cycle = append(cycle, id)
			}
		}
		sort.Strings(cycle)
		return &CycleError{NodeIDs: cycle}
	}

	t.order = order
	t.tiers = tiers
	return nil
}

// Node возвращает узел по ID.
func (t *Topology) Node(id string) (*domain.Node, bool) {
	node, ok := t.nodes[id]
	return node, ok
}

// Size возвращает количество узлов.
func (t *Topology) Size() int {
	return len(t.nodes)
}

// Order возвращает топологический порядок node ids.
func (t *Topology) Order() []string {
	return t.order
}

// Tiers возвращает ярусы конкурентного выполнения.
func (t *Topology) Tiers() [][]string {
	return t.tiers
}

// InDegree возвращает входящую степень узла.
func (t *Topology) InDegree(id string) int {
	return t.inDegree[id]
}

// Dependents возвращает прямых зависимых узла.
func (t *Topology) Dependents(id string) []string {
	return t.dependents[id]
}

// DependsOn возвращает прямые зависимости узла.
func (t *Topology) DependsOn(id string) []string {
	return t.dependsOn[id]
}

// InEdges возвращает входящие рёбра узла в порядке объявления.
func (t *Topology) InEdges(id string) []domain.Edge {
	return t.inEdges[id]
}

// ReadyWhen возвращает true, если все прямые зависимости узла
// присутствуют в completed.
func (t *Topology) ReadyWhen(id string, completed map[string]bool) bool {
	for _, dep := range t.dependsOn[id] {
		if !completed[dep] {
			return false
		}
	}
	return true
}

// Descendants возвращает всех транзитивных потомков узла.
// Используется для eager-пропагации SKIPPED при падении предка.
func (t *Topology) Descendants(id string) []string {
	visited := make(map[string]bool)
	var result []string

	var walk func(string)
	walk = func(cur string) {
		for _, dep := range t.dependents[cur] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			result = append(result, dep)
			walk(dep)
		}
	}
	walk(id)

	sort.Strings(result)
	return result
}

// Ancestors возвращает транзитивное замыкание предков узла (без самого узла).
// Используется для preview: выполняется только замыкание + сам узел.
func (t *Topology) Ancestors(id string) []string {
	visited := make(map[string]bool)
	var result []string

	var walk func(string)
	walk = func(cur string) {
		for _, dep := range t.dependsOn[cur] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			result = append(result, dep)
			walk(dep)
		}
	}
	walk(id)

	sort.Strings(result)
	return result
}

// Subgraph возвращает узлы и рёбра подграфа, ограниченного заданным
// множеством узлов. Рёбра, выходящие за множество, отбрасываются.
func (t *Topology) Subgraph(ids []string) ([]domain.Node, []domain.Edge) {
	keep := make(map[string]bool, len(ids))
	for _, id := range ids {
		keep[id] = true
	}

	var nodes []domain.Node
	for _, id := range t.order {
		if keep[id] {
			nodes = append(nodes, *t.nodes[id])
		}
	}

	var edges []domain.Edge
	for _, id := range ids {
		for _, edge := range t.inEdges[id] {
			if keep[edge.Source] {
				edges = append(edges, edge)
			}
		}
	}

	return nodes, edges
}
