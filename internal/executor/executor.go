package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/smolenkov/conveyor/internal/domain"
)

// Upstream — результат одного входа узла.
type Upstream struct {
	// SourceID — узел, породивший результат.
	SourceID string

	// SourceHandle, TargetHandle — порты ребра (для многопортовых узлов).
	SourceHandle string
	TargetHandle string

	// Output — завершённый результат источника (read-only).
	Output *domain.Output
}

// Request — вход executor'а для одной попытки выполнения узла.
//
// Config уже разрешён (переменные подставлены реальными значениями).
// Log — сток для логов узла; сообщения попадают в NodeRun.Logs и в шину
// событий как есть, поэтому значения из Config в них писать нельзя —
// только из Display.
type Request struct {
	// NodeID — ID узла в графе.
	NodeID string

	// NodeType — тип узла.
	NodeType string

	// Config — разрешённая конфигурация узла.
	Config map[string]any

	// Display — та же конфигурация в отображаемой форме: значения,
	// в которые попала секретная переменная, замаскированы. Всё, что
	// executor пишет в Log из конфигурации, берётся отсюда, не из Config.
	Display map[string]any

	// Inputs — результаты завершённых входов в порядке объявления рёбер.
	Inputs []Upstream

	// Attempt — номер текущей попытки (1, 2, ...). Монотонно растёт
	// между повторами одного узла.
	Attempt int

	// Log пишет запись в лог узла.
	Log func(level domain.LogLevel, message string)
}

// Input возвращает вход по имени порта (пустое имя — первый вход).
func (r *Request) Input(targetHandle string) *domain.Output {
	for i := range r.Inputs {
		if targetHandle == "" || r.Inputs[i].TargetHandle == targetHandle {
			return r.Inputs[i].Output
		}
	}
	return nil
}

// Executor — интерфейс выполнения узла конкретного типа.
//
// Executor может быть долгоиграющим; engine не предполагает синхронного
// завершения и ограничивает попытку только таймаутом контекста.
// Реализация обязана уважать отмену ctx.
type Executor interface {
	Execute(ctx context.Context, req *Request) (*domain.Output, error)
}

// Capabilities — декларируемые свойства типа узла.
type Capabilities struct {
	// Deterministic — результат зависит только от входов и конфигурации.
	// Недетерминированные типы (случайная выборка, внешний I/O)
	// не кэшируются независимо от настроек run.
	Deterministic bool

	// MaxInputs — максимум входов (0 — без ограничения).
	MaxInputs int

	// ConfigPrototype возвращает новый экземпляр типизированной схемы
	// конфигурации с validate-тегами; nil — конфигурация свободной формы.
	ConfigPrototype func() any
}

// registration — executor вместе с capabilities.
type registration struct {
	executor     Executor
	capabilities Capabilities
}

// validatorUtil — общий валидатор схем конфигураций.
var validatorUtil = validator.New()

// Registry — реестр executor'ов по типу узла.
//
// Хост-приложение регистрирует собственные типы; встроенные
// http/delay/transform регистрирует NewRegistry.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]registration
}

// NewRegistry создаёт реестр со встроенными executor'ами.
func NewRegistry() *Registry {
	r := &Registry{executors: make(map[string]registration)}
	r.Register("http", &HTTPExecutor{}, Capabilities{
		Deterministic:   false,
		ConfigPrototype: func() any { return &HTTPConfig{} },
	})
	r.Register("delay", &DelayExecutor{}, Capabilities{
		Deterministic:   false,
		ConfigPrototype: func() any { return &DelayConfig{} },
	})
	r.Register("transform", &TransformExecutor{}, Capabilities{
		Deterministic: true,
	})
	return r
}

// Register добавляет executor для типа узла.
func (r *Registry) Register(nodeType string, exec Executor, caps Capabilities) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[nodeType] = registration{executor: exec, capabilities: caps}
}

// Get возвращает executor для типа узла.
func (r *Registry) Get(nodeType string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.executors[nodeType]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	return reg.executor, nil
}

// Capabilities возвращает capabilities типа узла.
func (r *Registry) Capabilities(nodeType string) (Capabilities, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	reg, ok := r.executors[nodeType]
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: %s", ErrUnknownNodeType, nodeType)
	}
	return reg.capabilities, nil
}

// Types возвращает отсортированный список зарегистрированных типов узлов.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.executors))
	for nodeType := range r.executors {
		types = append(types, nodeType)
	}
	sort.Strings(types)
	return types
}

// Known возвращает true, если тип узла зарегистрирован.
func (r *Registry) Known(nodeType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.executors[nodeType]
	return ok
}

// ValidateConfig проверяет сырую конфигурацию узла против типизированной
// схемы его типа. Вызывается при приёме графа, до начала выполнения —
// переменные на этом этапе ещё не подставлены, поэтому строковые поля
// с плейсхолдерами проверяются только структурно.
func (r *Registry) ValidateConfig(nodeType string, config map[string]any) error {
	caps, err := r.Capabilities(nodeType)
	if err != nil {
		return err
	}
	if caps.ConfigPrototype == nil {
		return nil // свободная форма
	}

	prototype := caps.ConfigPrototype()

	data, err := json.Marshal(config)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := json.Unmarshal(data, prototype); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := validatorUtil.Struct(prototype); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}
