package domain

import "strings"

// VariableType — тип значения переменной workflow.
type VariableType string

const (
	VariableTypeString  VariableType = "string"
	VariableTypeNumber  VariableType = "number"
	VariableTypeBoolean VariableType = "boolean"
	VariableTypeDate    VariableType = "date"
	VariableTypeArray   VariableType = "array"
	VariableTypeObject  VariableType = "object"
	VariableTypeSecret  VariableType = "secret"
)

// MaskedValue — отображение секретного значения в логах и UI.
const MaskedValue = "••••"

// Variable — именованная переменная workflow.
//
// Имена нормализуются к верхнему регистру и уникальны внутри workflow.
// Секретные переменные участвуют в выполнении с реальным значением,
// но никогда не попадают в логи и отображаемые формы в открытом виде.
type Variable struct {
	// Name — имя переменной (всегда в верхнем регистре).
	Name string `json:"name"`

	// Value — текущее значение.
	Value any `json:"value"`

	// Type — тип значения.
	Type VariableType `json:"type"`

	// IsSecret — секретная переменная: в логах только маска.
	IsSecret bool `json:"is_secret"`

	// IsLocked — заблокированная переменная: неизменяема во время run,
	// даже если узел пытается её перезаписать.
	IsLocked bool `json:"is_locked"`
}

// NormalizeVariableName приводит имя переменной к каноническому виду.
func NormalizeVariableName(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Variables — снимок набора переменных на момент старта run.
//
// Снимок read-only: правки переменных в редакторе во время выполнения
// не влияют на уже запущенный run. Get отдаёт копию, записи в снимок
// у узлов нет, поэтому заблокированные (IsLocked) переменные сохраняют
// стартовое значение до конца run.
type Variables map[string]Variable

// NewVariables строит снимок из списка, нормализуя имена.
// При дубликатах имён выигрывает последнее вхождение.
func NewVariables(vars []Variable) Variables {
	snapshot := make(Variables, len(vars))
	for _, v := range vars {
		v.Name = NormalizeVariableName(v.Name)
		if v.IsSecret {
			v.Type = VariableTypeSecret
		}
		snapshot[v.Name] = v
	}
	return snapshot
}

// Get возвращает переменную по имени (с нормализацией).
func (vs Variables) Get(name string) (Variable, bool) {
	v, ok := vs[NormalizeVariableName(name)]
	return v, ok
}

// Masked возвращает копию снимка с замаскированными секретами.
// Используется для сохранения снимка в WorkflowRun и отдачи в UI.
func (vs Variables) Masked() Variables {
	masked := make(Variables, len(vs))
	for name, v := range vs {
		if v.IsSecret {
			v.Value = MaskedValue
		}
		masked[name] = v
	}
	return masked
}
