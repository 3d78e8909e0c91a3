package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/smolenkov/conveyor/internal/cache"
	"github.com/smolenkov/conveyor/internal/domain"
	"github.com/smolenkov/conveyor/internal/events"
	"github.com/smolenkov/conveyor/internal/executor"
	"github.com/smolenkov/conveyor/internal/graph"
	"github.com/smolenkov/conveyor/internal/telemetry"
	"github.com/smolenkov/conveyor/internal/vars"
)

// timeNow вынесено для подмены в тестах.
var timeNow = time.Now

// runState — состояние выполнения одного run в памяти.
//
// Мутации run и outputs защищены mu: координатор применяет терминальные
// переходы, воркер узла ведёт попытки и логи собственной NodeRun-записи.
type runState struct {
	run       *domain.WorkflowRun
	topo      *graph.Topology
	variables domain.Variables
	options   domain.RunOptions
	bus       *events.Bus

	// quiet — режим preview: без событий и персистенции.
	quiet bool

	mu           sync.RWMutex
	outputs      map[string]*domain.Output
	fingerprints map[string]string

	cancel context.CancelFunc
	done   chan struct{}
}

// publish отправляет событие run в шину.
func (st *runState) publish(ev events.Event) {
	if st.quiet || st.bus == nil {
		return
	}
	ev.RunID = st.run.ID
	st.bus.Publish(ev)
}

// finished возвращает true, если run завершён.
func (st *runState) finished() bool {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.run.Status.IsTerminal()
}

// snapshot возвращает глубокую копию run для внешних читателей.
func (st *runState) snapshot() *domain.WorkflowRun {
	st.mu.RLock()
	defer st.mu.RUnlock()

	clone := *st.run
	clone.NodeRuns = make(map[string]*domain.NodeRun, len(st.run.NodeRuns))
	for id, nr := range st.run.NodeRuns {
		nrClone := *nr
		if len(nr.Logs) > 0 {
			nrClone.Logs = append([]domain.LogEntry(nil), nr.Logs...)
		}
		clone.NodeRuns[id] = &nrClone
	}
	return &clone
}

// collectInputs собирает результаты входов узла в порядке объявления рёбер.
func (st *runState) collectInputs(nodeID string) []executor.Upstream {
	st.mu.RLock()
	defer st.mu.RUnlock()

	edges := st.topo.InEdges(nodeID)
	inputs := make([]executor.Upstream, 0, len(edges))
	for _, edge := range edges {
		inputs = append(inputs, executor.Upstream{
			SourceID:     edge.Source,
			SourceHandle: edge.SourceHandle,
			TargetHandle: edge.TargetHandle,
			Output:       st.outputs[edge.Source],
		})
	}
	return inputs
}

// upstreamFingerprints возвращает fingerprints фактически потребляемых входов.
func (st *runState) upstreamFingerprints(nodeID string) []string {
	st.mu.RLock()
	defer st.mu.RUnlock()

	edges := st.topo.InEdges(nodeID)
	fps := make([]string, 0, len(edges))
	for _, edge := range edges {
		if fp, ok := st.fingerprints[edge.Source]; ok {
			fps = append(fps, fp)
		}
	}
	return fps
}

// nodeResult — результат выполнения узла, возвращаемый воркером.
type nodeResult struct {
	nodeID   string
	status   domain.NodeStatus
	from     domain.NodeStatus
	output   *domain.Output
	cacheHit bool
	errKind  domain.ErrorKind
	errMsg   string
	attempt  int
}

// coordinate — координирующий цикл одного run.
//
// Единственный владелец ready-очереди и терминальных переходов:
// воркеры сообщают результаты по каналу results, координатор применяет
// их к таблице NodeRun, продвигает зависимых и следит за отменой.
func (e *Engine) coordinate(ctx context.Context, st *runState) {
	defer close(st.done)

	logger := telemetry.WithRunID(e.logger, st.run.ID.String())

	// Preview-запуски в метрики не попадают (методы Metrics nil-safe)
	metrics := e.metrics
	if st.quiet {
		metrics = nil
	}

	st.mu.Lock()
	st.run.MarkRunning()
	st.mu.Unlock()
	e.persist(ctx, st)

	total := st.topo.Size()
	settled := 0
	inFlight := 0
	cancelled := false

	completed := make(map[string]bool, total)
	running := make(map[string]bool)
	results := make(chan nodeResult)

	var ready []string

	enqueueReady := func(id string) {
		st.mu.Lock()
		nr := st.run.NodeRuns[id]
		from := nr.Status
		nr.Status = domain.NodeStatusReady
		st.mu.Unlock()

		st.publish(events.Event{
			Kind:   events.KindNodeStatusChanged,
			NodeID: id,
			From:   from,
			To:     domain.NodeStatusReady,
		})
		ready = append(ready, id)
	}

	// Затравка: узлы без зависимостей
	for _, id := range st.topo.Order() {
		if st.topo.InDegree(id) == 0 {
			enqueueReady(id)
		}
	}

	dispatch := func() {
		for !cancelled && inFlight < st.options.MaxConcurrentNodes && len(ready) > 0 {
			id := ready[0]
			ready = ready[1:]
			running[id] = true
			inFlight++
			go e.executeNode(ctx, st, id, results)
		}
	}

	progress := func() {
		st.publish(events.Event{
			Kind:      events.KindRunProgress,
			Completed: settled,
			Total:     total,
		})
	}

	// settle помечает узел завершённым для целей терминации run.
	settle := func() {
		settled++
		progress()
	}

	// skipDescendants каскадно помечает SKIPPED всех транзитивных
	// потомков узла. Распространение жадное: потомки упавшего узла
	// не ждут своей очереди, чтобы узнать, что выполняться не будут.
	skipDescendants := func(failedID string) {
		for _, id := range st.topo.Descendants(failedID) {
			st.mu.Lock()
			nr := st.run.NodeRuns[id]
			if nr.Status.IsTerminal() || running[id] {
				st.mu.Unlock()
				continue
			}
			from := nr.Status
			nr.MarkSkipped(failedID)
			st.mu.Unlock()

			if from == domain.NodeStatusReady {
				ready = removeFromQueue(ready, id)
			}
			st.publish(events.Event{
				Kind:   events.KindNodeStatusChanged,
				NodeID: id,
				From:   from,
				To:     domain.NodeStatusSkipped,
			})
			node, _ := st.topo.Node(id)
			metrics.NodeFinished(node.Type, string(domain.NodeStatusSkipped), 0)
			settle()
		}
	}

	// cancelPending отменяет все не начавшие выполняться узлы.
	cancelPending := func() {
		for _, id := range st.topo.Order() {
			st.mu.Lock()
			nr := st.run.NodeRuns[id]
			if nr.Status.IsTerminal() || running[id] {
				st.mu.Unlock()
				continue
			}
			from := nr.Status
			nr.MarkCancelled()
			st.mu.Unlock()

			st.publish(events.Event{
				Kind:   events.KindNodeStatusChanged,
				NodeID: id,
				From:   from,
				To:     domain.NodeStatusCancelled,
			})
			settle()
		}
		ready = nil
	}

	apply := func(res nodeResult) {
		delete(running, res.nodeID)
		node, _ := st.topo.Node(res.nodeID)
		nr := st.run.NodeRuns[res.nodeID]

		switch res.status {
		case domain.NodeStatusCompleted:
			st.mu.Lock()
			if res.cacheHit {
				nr.MarkCachedCompleted(res.output)
			} else {
				nr.MarkCompleted(res.output)
			}
			st.outputs[res.nodeID] = res.output
			if fp, err := outputFingerprint(res.output); err == nil {
				st.fingerprints[res.nodeID] = fp
			}
			duration := nr.Duration()
			st.mu.Unlock()

			st.publish(events.Event{
				Kind:    events.KindNodeStatusChanged,
				NodeID:  res.nodeID,
				From:    res.from,
				To:      domain.NodeStatusCompleted,
				Attempt: res.attempt,
			})
			metrics.NodeFinished(node.Type, string(domain.NodeStatusCompleted), duration)
			settle()

			// Продвигаем зависимых, у которых выполнены все входы
			completed[res.nodeID] = true
			if !cancelled {
				for _, dep := range st.topo.Dependents(res.nodeID) {
					st.mu.RLock()
					pending := st.run.NodeRuns[dep].Status == domain.NodeStatusPending
					st.mu.RUnlock()
					if pending && st.topo.ReadyWhen(dep, completed) {
						enqueueReady(dep)
					}
				}
			}

		case domain.NodeStatusFailed:
			st.mu.Lock()
			nr.MarkFailed(res.errKind, res.errMsg)
			duration := nr.Duration()
			st.mu.Unlock()

			st.publish(events.Event{
				Kind:    events.KindNodeStatusChanged,
				NodeID:  res.nodeID,
				From:    res.from,
				To:      domain.NodeStatusFailed,
				Attempt: res.attempt,
			})
			metrics.NodeFinished(node.Type, string(domain.NodeStatusFailed), duration)
			telemetry.WithNodeID(logger, res.nodeID).Warn("node failed",
				"kind", res.errKind,
				"attempts", res.attempt,
				"error", res.errMsg,
			)
			settle()
			skipDescendants(res.nodeID)

		case domain.NodeStatusCancelled:
			st.mu.Lock()
			nr.MarkCancelled()
			st.mu.Unlock()

			st.publish(events.Event{
				Kind:    events.KindNodeStatusChanged,
				NodeID:  res.nodeID,
				From:    res.from,
				To:      domain.NodeStatusCancelled,
				Attempt: res.attempt,
			})
			settle()
		}
	}

	ctxDone := ctx.Done()
	dispatch()

	for settled < total {
		select {
		case res := <-results:
			inFlight--
			apply(res)
			dispatch()

		case <-ctxDone:
			ctxDone = nil
			cancelled = true
			cancelPending()
		}
	}

	// Финализация
	st.mu.Lock()
	switch {
	case cancelled:
		st.run.MarkCancelled()
	case st.run.CountByStatus(domain.NodeStatusFailed) > 0:
		failed := st.run.CountByStatus(domain.NodeStatusFailed)
		skipped := st.run.CountByStatus(domain.NodeStatusSkipped)
		st.run.MarkFailed(fmt.Sprintf("%d node(s) failed, %d skipped", failed, skipped))
	default:
		st.run.MarkCompleted()
	}
	finalStatus := st.run.Status
	duration := st.run.Duration()
	st.mu.Unlock()

	st.publish(events.Event{
		Kind:   events.KindRunFinished,
		Status: finalStatus,
	})
	e.persist(context.WithoutCancel(ctx), st)

	if !st.quiet {
		e.retire(st)
		metrics.RunFinished(string(finalStatus))
		logger.Info("run finished",
			"status", finalStatus,
			"duration", duration,
		)
	}
}

// executeNode — воркер одного узла: подстановка переменных, кэш,
// попытки с backoff, классификация ошибок. Результат уходит
// координатору по каналу results.
func (e *Engine) executeNode(ctx context.Context, st *runState, nodeID string, results chan<- nodeResult) {
	node, _ := st.topo.Node(nodeID)

	metrics := e.metrics
	if st.quiet {
		metrics = nil
	}

	st.mu.RLock()
	nr := st.run.NodeRuns[nodeID]
	st.mu.RUnlock()

	log := func(level domain.LogLevel, message string) {
		st.mu.Lock()
		nr.AppendLog(level, message)
		st.mu.Unlock()
		st.publish(events.Event{
			Kind:    events.KindNodeLog,
			NodeID:  nodeID,
			Level:   level,
			Message: message,
		})
	}

	// Подстановка переменных. Ошибка относится только к этому узлу
	// и не прерывает независимые ветки.
	resolution, err := vars.Resolve(node.Config, st.variables)
	if err != nil {
		log(domain.LogLevelError, err.Error())
		results <- nodeResult{
			nodeID:  nodeID,
			status:  domain.NodeStatusFailed,
			from:    domain.NodeStatusReady,
			errKind: domain.ErrorKindVariable,
			errMsg:  err.Error(),
		}
		return
	}

	exec, err := e.registry.Get(node.Type)
	if err != nil {
		results <- nodeResult{
			nodeID:  nodeID,
			status:  domain.NodeStatusFailed,
			from:    domain.NodeStatusReady,
			errKind: domain.ErrorKindExecution,
			errMsg:  err.Error(),
		}
		return
	}
	caps, _ := e.registry.Capabilities(node.Type)

	inputs := st.collectInputs(nodeID)

	// Кэш: только детерминированные типы при включённом кэшировании
	cacheable := st.options.EnableCaching && caps.Deterministic
	var fingerprint string
	if cacheable {
		fingerprint, err = cache.Fingerprint(node.Type, resolution, st.upstreamFingerprints(nodeID))
		if err != nil {
			log(domain.LogLevelWarn, "cache fingerprint failed: "+err.Error())
			cacheable = false
		}
	}
	if cacheable {
		output, hit, lookupErr := e.cache.Lookup(ctx, fingerprint)
		switch {
		case lookupErr != nil:
			// Кэш деградирует в промах, run продолжается
			metrics.CacheLookup("error")
			log(domain.LogLevelWarn, "cache lookup failed: "+lookupErr.Error())
		case hit:
			metrics.CacheLookup("hit")
			log(domain.LogLevelDebug, "result served from cache")
			results <- nodeResult{
				nodeID:   nodeID,
				status:   domain.NodeStatusCompleted,
				from:     domain.NodeStatusReady,
				output:   output,
				cacheHit: true,
			}
			return
		default:
			metrics.CacheLookup("miss")
		}
	}

	maxAttempts := st.options.MaxAttempts()
	var lastKind domain.ErrorKind
	var lastMsg string

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		st.mu.Lock()
		from := nr.Status // READY на первой попытке, RETRYING на повторах
		nr.MarkRunning()
		st.mu.Unlock()

		st.publish(events.Event{
			Kind:    events.KindNodeStatusChanged,
			NodeID:  nodeID,
			From:    from,
			To:      domain.NodeStatusRunning,
			Attempt: attempt,
		})

		attemptCtx, cancelAttempt := context.WithTimeout(ctx, st.options.AttemptTimeout())
		output, execErr := exec.Execute(attemptCtx, &executor.Request{
			NodeID:   nodeID,
			NodeType: node.Type,
			Config:   resolution.Values,
			Display:  resolution.Display,
			Inputs:   inputs,
			Attempt:  attempt,
			Log:      log,
		})
		cancelAttempt()

		if execErr == nil {
			if cacheable {
				if storeErr := e.cache.Store(ctx, fingerprint, output, st.options.CacheTTL()); storeErr != nil {
					log(domain.LogLevelWarn, "cache store failed: "+storeErr.Error())
				}
			}
			results <- nodeResult{
				nodeID:  nodeID,
				status:  domain.NodeStatusCompleted,
				from:    domain.NodeStatusRunning,
				output:  output,
				attempt: attempt,
			}
			return
		}

		// Отмена run — не ошибка узла
		if ctx.Err() != nil {
			results <- nodeResult{
				nodeID:  nodeID,
				status:  domain.NodeStatusCancelled,
				from:    domain.NodeStatusRunning,
				attempt: attempt,
			}
			return
		}

		if errors.Is(execErr, context.DeadlineExceeded) {
			lastKind = domain.ErrorKindTimeout
			lastMsg = fmt.Sprintf("attempt exceeded timeout %s", st.options.AttemptTimeout())
		} else {
			lastKind = domain.ErrorKindExecution
			lastMsg = execErr.Error()
		}
		log(domain.LogLevelError, fmt.Sprintf("attempt %d/%d failed: %s", attempt, maxAttempts, lastMsg))

		if attempt == maxAttempts {
			break
		}

		st.mu.Lock()
		nr.Status = domain.NodeStatusRetrying
		st.mu.Unlock()
		st.publish(events.Event{
			Kind:    events.KindNodeStatusChanged,
			NodeID:  nodeID,
			From:    domain.NodeStatusRunning,
			To:      domain.NodeStatusRetrying,
			Attempt: attempt,
		})
		metrics.NodeRetried()

		select {
		case <-time.After(backoffDelay(attempt)):
		case <-ctx.Done():
			results <- nodeResult{
				nodeID:  nodeID,
				status:  domain.NodeStatusCancelled,
				from:    domain.NodeStatusRetrying,
				attempt: attempt,
			}
			return
		}
	}

	results <- nodeResult{
		nodeID:  nodeID,
		status:  domain.NodeStatusFailed,
		from:    domain.NodeStatusRunning,
		errKind: lastKind,
		errMsg:  lastMsg,
		attempt: maxAttempts,
	}
}

// persist сохраняет снимок run в Store.
func (e *Engine) persist(ctx context.Context, st *runState) {
	if e.store == nil || st.quiet {
		return
	}
	if err := e.store.SaveRun(ctx, st.snapshot()); err != nil {
		e.logger.Error("failed to persist run",
			"run_id", st.run.ID,
			"error", err,
		)
	}
}

// outputFingerprint считает fingerprint результата узла для кэш-ключей
// потомков.
func outputFingerprint(output *domain.Output) (string, error) {
	if output == nil {
		return cache.OutputFingerprint(nil, "")
	}
	return cache.OutputFingerprint(output.Payload, output.Schema)
}

// removeFromQueue удаляет узел из ready-очереди.
func removeFromQueue(queue []string, id string) []string {
	for i, queued := range queue {
		if queued == id {
			return append(queue[:i], queue[i+1:]...)
		}
	}
	return queue
}
