package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/smolenkov/conveyor/internal/cache"
	"github.com/smolenkov/conveyor/internal/domain"
	"github.com/smolenkov/conveyor/internal/events"
	"github.com/smolenkov/conveyor/internal/executor"
	"github.com/smolenkov/conveyor/internal/graph"
	"github.com/smolenkov/conveyor/internal/telemetry"
	"github.com/smolenkov/conveyor/internal/vars"
)

// Store — персистентное хранилище runs.
//
// Engine пишет снимок run на старте и после завершения; между ними
// актуальное состояние живёт в памяти и отдаётся через GetRun.
type Store interface {
	// SaveRun сохраняет полный снимок run.
	SaveRun(ctx context.Context, run *domain.WorkflowRun) error

	// LoadRun загружает run по ID.
	LoadRun(ctx context.Context, id uuid.UUID) (*domain.WorkflowRun, error)
}

// optionsValidator — валидатор RunOptions.
var optionsValidator = validator.New()

// defaultRetainedRuns — сколько завершённых runs остаётся в памяти.
// Более старые вытесняются вместе со своими ключами идемпотентности;
// при настроенном Store GetRun продолжает отдавать их из него.
const defaultRetainedRuns = 256

// Engine выполняет workflow-графы.
//
// Каждый run обслуживается собственной координирующей горутиной,
// которая единолично владеет таблицей NodeRun и ready-очередью;
// воркеры возвращают результаты по каналу, а не мутируют общее
// состояние напрямую.
type Engine struct {
	registry *executor.Registry
	cache    cache.Cache
	bus      *events.Bus
	store    Store
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	ownBus   bool

	mu          sync.RWMutex
	runs        map[uuid.UUID]*runState
	idempotency map[string]uuid.UUID
	finished    []uuid.UUID
	retainLimit int
	closed      bool

	wg sync.WaitGroup
}

// Config — конфигурация Engine.
type Config struct {
	// Registry — реестр executor'ов (default: NewRegistry со встроенными).
	Registry *executor.Registry

	// Cache — result cache (default: выключен).
	Cache cache.Cache

	// Bus — шина событий (default: собственная шина engine).
	Bus *events.Bus

	// Store — персистентное хранилище runs (nil — только память).
	Store Store

	// Metrics — метрики Prometheus (nil — не регистрируются).
	Metrics *telemetry.Metrics

	// Logger — логгер (default: slog.Default).
	Logger *slog.Logger
}

// New создаёт Engine.
func New(cfg Config) *Engine {
	registry := cfg.Registry
	if registry == nil {
		registry = executor.NewRegistry()
	}

	resultCache := cfg.Cache
	if resultCache == nil {
		resultCache = cache.Disabled{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	bus := cfg.Bus
	ownBus := false
	if bus == nil {
		bus = events.NewBus(0)
		ownBus = true
	}

	return &Engine{
		registry:    registry,
		cache:       resultCache,
		bus:         bus,
		store:       cfg.Store,
		metrics:     cfg.Metrics,
		logger:      logger,
		ownBus:      ownBus,
		runs:        make(map[uuid.UUID]*runState),
		idempotency: make(map[string]uuid.UUID),
		retainLimit: defaultRetainedRuns,
	}
}

// retire помещает завершённый run в ограниченную историю и вытесняет
// из памяти самые старые терминальные состояния вместе с их ключами
// идемпотентности. Активные runs не вытесняются никогда.
func (e *Engine) retire(st *runState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.finished = append(e.finished, st.run.ID)
	for len(e.finished) > e.retainLimit {
		oldest := e.finished[0]
		e.finished = e.finished[1:]

		old, ok := e.runs[oldest]
		if !ok {
			continue
		}
		delete(e.runs, oldest)
		if key := old.run.IdempotencyKey; key != "" && e.idempotency[key] == oldest {
			delete(e.idempotency, key)
		}
	}
}

// Bus возвращает шину событий engine.
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Registry возвращает реестр executor'ов.
func (e *Engine) Registry() *executor.Registry {
	return e.registry
}

// StartParams — параметры запуска run.
type StartParams struct {
	// WorkflowID — сохранённый workflow (uuid.Nil для ad-hoc запуска).
	WorkflowID uuid.UUID

	// Spec — граф, переменные и опции.
	Spec *domain.GraphSpec

	// IdempotencyKey — непустой ключ дедуплицирует повторные запуски:
	// второй StartRun с тем же ключом возвращает существующий run.
	IdempotencyKey string
}

// StartRun валидирует граф и запускает его выполнение асинхронно.
//
// Возвращённый WorkflowRun — снимок на момент старта; актуальное
// состояние отдаёт GetRun, живые события — шина.
func (e *Engine) StartRun(ctx context.Context, p StartParams) (*domain.WorkflowRun, error) {
	topo, options, variables, err := e.prepare(p.Spec)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, ErrEngineClosed
	}

	if p.IdempotencyKey != "" {
		if existingID, ok := e.idempotency[p.IdempotencyKey]; ok {
			existing := e.runs[existingID]
			e.mu.Unlock()
			return existing.snapshot(), nil
		}
	}

	run := newRun(p.WorkflowID, topo, options, variables, p.IdempotencyKey)

	// Run-контекст независим от контекста вызова: HTTP-запрос,
	// стартовавший run, может завершиться раньше самого run.
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	st := &runState{
		run:          run,
		topo:         topo,
		variables:    variables,
		options:      options,
		bus:          e.bus,
		outputs:      make(map[string]*domain.Output, topo.Size()),
		fingerprints: make(map[string]string, topo.Size()),
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	e.runs[run.ID] = st
	if p.IdempotencyKey != "" {
		e.idempotency[p.IdempotencyKey] = run.ID
	}
	e.wg.Add(1)
	e.mu.Unlock()

	e.metrics.RunStarted()
	e.logger.Info("run started",
		"run_id", run.ID,
		"workflow_id", p.WorkflowID,
		"nodes", topo.Size(),
		"max_workers", options.MaxConcurrentNodes,
	)

	go func() {
		defer e.wg.Done()
		e.coordinate(runCtx, st)
	}()

	return st.snapshot(), nil
}

// Execute запускает run и синхронно ждёт его завершения.
//
// Отмена ctx отменяет run.
func (e *Engine) Execute(ctx context.Context, p StartParams) (*domain.WorkflowRun, error) {
	run, err := e.StartRun(ctx, p)
	if err != nil {
		return nil, err
	}

	e.mu.RLock()
	st := e.runs[run.ID]
	e.mu.RUnlock()
	if st == nil {
		// Run успел завершиться и вытесниться из памяти
		return e.GetRun(ctx, run.ID)
	}

	select {
	case <-st.done:
	case <-ctx.Done():
		st.cancel()
		<-st.done
	}

	return st.snapshot(), nil
}

// CancelRun запрашивает отмену run.
//
// Все Pending/Ready узлы немедленно переходят в CANCELLED; Running
// узлы получают отмену контекста и либо успевают завершиться, либо
// тоже отменяются. Уже завершённые узлы сохраняют результаты.
func (e *Engine) CancelRun(runID uuid.UUID) error {
	e.mu.RLock()
	st, ok := e.runs[runID]
	e.mu.RUnlock()

	if !ok {
		return ErrRunNotFound
	}
	if st.finished() {
		return ErrRunFinished
	}

	e.logger.Info("run cancellation requested", "run_id", runID)
	st.cancel()
	return nil
}

// GetRun возвращает снимок run по ID.
//
// Активные и недавно завершённые runs отдаются из памяти; вытесненные
// из ограниченной истории — из Store, если он настроен.
func (e *Engine) GetRun(ctx context.Context, runID uuid.UUID) (*domain.WorkflowRun, error) {
	e.mu.RLock()
	st, ok := e.runs[runID]
	e.mu.RUnlock()

	if ok {
		return st.snapshot(), nil
	}

	if e.store != nil {
		run, err := e.store.LoadRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		return run, nil
	}

	return nil, ErrRunNotFound
}

// PreviewNode выполняет транзитивное замыкание предков узла и
// возвращает его результат.
//
// Preview не является run'ом: не публикует события, не персистится
// и не попадает в историю; кэш при этом используется как обычно.
func (e *Engine) PreviewNode(ctx context.Context, spec *domain.GraphSpec, nodeID string) (*domain.Output, error) {
	topo, options, variables, err := e.prepare(spec)
	if err != nil {
		return nil, err
	}

	if _, ok := topo.Node(nodeID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, nodeID)
	}

	closure := append(topo.Ancestors(nodeID), nodeID)
	nodes, edges := topo.Subgraph(closure)

	subTopo, err := graph.Validate(nodes, edges)
	if err != nil {
		return nil, err
	}

	run := newRun(uuid.Nil, subTopo, options, variables, "")
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	st := &runState{
		run:          run,
		topo:         subTopo,
		variables:    variables,
		options:      options,
		quiet:        true,
		outputs:      make(map[string]*domain.Output, subTopo.Size()),
		fingerprints: make(map[string]string, subTopo.Size()),
		cancel:       cancel,
		done:         make(chan struct{}),
	}

	e.coordinate(runCtx, st)

	nr := run.NodeRuns[nodeID]
	if nr.Status != domain.NodeStatusCompleted {
		if nr.Error != nil {
			return nil, fmt.Errorf("%w: node %s: %s", ErrPreviewFailed, nodeID, nr.Error.Message)
		}
		return nil, fmt.Errorf("%w: node %s: %s", ErrPreviewFailed, nodeID, nr.Status)
	}
	return nr.Output, nil
}

// Close останавливает engine: отменяет активные runs и ждёт
// завершения координаторов.
func (e *Engine) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	states := make([]*runState, 0, len(e.runs))
	for _, st := range e.runs {
		states = append(states, st)
	}
	e.mu.Unlock()

	for _, st := range states {
		if !st.finished() {
			st.cancel()
		}
	}
	e.wg.Wait()

	if e.ownBus {
		e.bus.Close()
	}
	e.logger.Info("engine stopped")
}

// prepare валидирует спецификацию и возвращает топологию, опции
// и снимок переменных.
//
// Все ошибки графа (цикл, висячее ребро, неизвестный тип узла,
// невалидная конфигурация) фатальны и отклоняют запуск до начала
// выполнения.
func (e *Engine) prepare(spec *domain.GraphSpec) (*graph.Topology, domain.RunOptions, domain.Variables, error) {
	if spec == nil {
		return nil, domain.RunOptions{}, nil, fmt.Errorf("%w: nil spec", ErrInvalidGraph)
	}

	topo, err := graph.Validate(spec.Nodes, spec.Edges)
	if err != nil {
		return nil, domain.RunOptions{}, nil, err
	}

	for i := range spec.Nodes {
		node := &spec.Nodes[i]
		if !e.registry.Known(node.Type) {
			return nil, domain.RunOptions{}, nil,
				fmt.Errorf("%w: node %s: %s", executor.ErrUnknownNodeType, node.ID, node.Type)
		}
		// Конфигурации с плейсхолдерами получают типизированную
		// проверку после подстановки переменных, на этапе выполнения
		if configHasPlaceholders(node.Config) {
			continue
		}
		if err := e.registry.ValidateConfig(node.Type, node.Config); err != nil {
			return nil, domain.RunOptions{}, nil,
				fmt.Errorf("node %s: %w", node.ID, err)
		}
	}

	if err := optionsValidator.Struct(spec.Options); err != nil {
		return nil, domain.RunOptions{}, nil, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}

	return topo, spec.Options.Normalized(), domain.NewVariables(spec.Variables), nil
}

// configHasPlaceholders возвращает true, если в конфигурации есть
// хотя бы одна ссылка на переменную.
func configHasPlaceholders(config map[string]any) bool {
	if len(config) == 0 {
		return false
	}
	data, err := json.Marshal(config)
	if err != nil {
		return false
	}
	return len(vars.References(string(data))) > 0
}

// newRun создаёт WorkflowRun с PENDING-записями для всех узлов.
func newRun(workflowID uuid.UUID, topo *graph.Topology, options domain.RunOptions, variables domain.Variables, idempotencyKey string) *domain.WorkflowRun {
	nodeRuns := make(map[string]*domain.NodeRun, topo.Size())
	for _, id := range topo.Order() {
		nodeRuns[id] = &domain.NodeRun{
			NodeID: id,
			Status: domain.NodeStatusPending,
		}
	}

	return &domain.WorkflowRun{
		ID:             uuid.New(),
		WorkflowID:     workflowID,
		Status:         domain.RunStatusPending,
		NodeRuns:       nodeRuns,
		Variables:      variables.Masked(),
		Options:        options,
		IdempotencyKey: idempotencyKey,
		CreatedAt:      timeNow(),
	}
}
