package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/smolenkov/conveyor/internal/cache"
	"github.com/smolenkov/conveyor/internal/domain"
	"github.com/smolenkov/conveyor/internal/events"
	"github.com/smolenkov/conveyor/internal/executor"
	"github.com/smolenkov/conveyor/internal/graph"
	"github.com/smolenkov/conveyor/internal/telemetry"
)

// fakeExecutor — управляемый executor для тестов.
type fakeExecutor struct {
	calls int64
	fn    func(ctx context.Context, req *executor.Request) (*domain.Output, error)
}

func (f *fakeExecutor) Execute(ctx context.Context, req *executor.Request) (*domain.Output, error) {
	atomic.AddInt64(&f.calls, 1)
	if f.fn == nil {
		return &domain.Output{Payload: map[string]any{"node": req.NodeID}, Schema: "json"}, nil
	}
	return f.fn(ctx, req)
}

func (f *fakeExecutor) callCount() int64 {
	return atomic.LoadInt64(&f.calls)
}

func node(id, nodeType string, config map[string]any) domain.Node {
	return domain.Node{ID: id, Type: nodeType, Name: id, Config: config}
}

func edge(source, target string) domain.Edge {
	return domain.Edge{ID: source + "->" + target, Source: source, Target: target}
}

// newTestEngine создаёт engine с одним фейковым типом узла "work".
func newTestEngine(t *testing.T, fake *fakeExecutor, deterministic bool, c cache.Cache) *Engine {
	t.Helper()

	registry := executor.NewRegistry()
	registry.Register("work", fake, executor.Capabilities{Deterministic: deterministic})

	e := New(Config{Registry: registry, Cache: c})
	t.Cleanup(e.Close)
	return e
}

func specOf(options domain.RunOptions, edges []domain.Edge, nodes ...domain.Node) *domain.GraphSpec {
	return &domain.GraphSpec{Nodes: nodes, Edges: edges, Options: options}
}

func TestExecuteLinearChain(t *testing.T) {
	fake := &fakeExecutor{}
	e := newTestEngine(t, fake, false, nil)

	spec := specOf(domain.RunOptions{},
		[]domain.Edge{edge("a", "b"), edge("b", "c")},
		node("a", "work", nil), node("b", "work", nil), node("c", "work", nil),
	)

	run, err := e.Execute(context.Background(), StartParams{Spec: spec})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != domain.RunStatusCompleted {
		t.Fatalf("run status = %s, want COMPLETED", run.Status)
	}
	if fake.callCount() != 3 {
		t.Errorf("executor calls = %d, want 3", fake.callCount())
	}
	for _, id := range []string{"a", "b", "c"} {
		nr := run.NodeRuns[id]
		if nr.Status != domain.NodeStatusCompleted {
			t.Errorf("node %s status = %s", id, nr.Status)
		}
		if nr.Attempt != 1 {
			t.Errorf("node %s attempt = %d, want 1", id, nr.Attempt)
		}
	}
}

func TestStartRunRejectsCyclicGraph(t *testing.T) {
	e := newTestEngine(t, &fakeExecutor{}, false, nil)

	spec := specOf(domain.RunOptions{},
		[]domain.Edge{edge("a", "b"), edge("b", "a")},
		node("a", "work", nil), node("b", "work", nil),
	)

	_, err := e.StartRun(context.Background(), StartParams{Spec: spec})
	if !errors.Is(err, graph.ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestStartRunRejectsUnknownNodeType(t *testing.T) {
	e := newTestEngine(t, &fakeExecutor{}, false, nil)

	spec := specOf(domain.RunOptions{}, nil, node("a", "nonexistent", nil))

	_, err := e.StartRun(context.Background(), StartParams{Spec: spec})
	if !errors.Is(err, executor.ErrUnknownNodeType) {
		t.Fatalf("expected ErrUnknownNodeType, got %v", err)
	}
}

// Ромб a→b→d, a→c→d: b и c выполняются одновременно, d ждёт обоих.
func TestDiamondRunsSiblingsConcurrently(t *testing.T) {
	var barrier sync.WaitGroup
	barrier.Add(2)

	fake := &fakeExecutor{fn: func(ctx context.Context, req *executor.Request) (*domain.Output, error) {
		if req.NodeID == "b" || req.NodeID == "c" {
			// Оба брата должны оказаться внутри executor'а одновременно;
			// при последовательном выполнении тест упадёт по таймауту попытки
			barrier.Done()
			waitDone := make(chan struct{})
			go func() { barrier.Wait(); close(waitDone) }()
			select {
			case <-waitDone:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return &domain.Output{Payload: map[string]any{"node": req.NodeID}}, nil
	}}
	e := newTestEngine(t, fake, false, nil)

	spec := specOf(domain.RunOptions{MaxConcurrentNodes: 2, TimeoutSeconds: 5},
		[]domain.Edge{edge("a", "b"), edge("a", "c"), edge("b", "d"), edge("c", "d")},
		node("a", "work", nil), node("b", "work", nil),
		node("c", "work", nil), node("d", "work", nil),
	)

	run, err := e.Execute(context.Background(), StartParams{Spec: spec})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != domain.RunStatusCompleted {
		t.Fatalf("run status = %s: %s", run.Status, run.Error)
	}

	// Узел никогда не стартует раньше завершения любого из прямых предков
	d := run.NodeRuns["d"]
	for _, pred := range []string{"b", "c"} {
		if d.StartedAt.Before(*run.NodeRuns[pred].EndedAt) {
			t.Errorf("d started at %v before %s ended at %v",
				d.StartedAt, pred, run.NodeRuns[pred].EndedAt)
		}
	}
}

// RetryCount — количество повторов после первой попытки:
// retry_count=2 даёт бюджет в 3 попытки.
func TestRetryBudgetConvention(t *testing.T) {
	fake := &fakeExecutor{fn: func(_ context.Context, req *executor.Request) (*domain.Output, error) {
		if req.Attempt < 3 {
			return nil, fmt.Errorf("transient failure on attempt %d", req.Attempt)
		}
		return &domain.Output{Payload: map[string]any{"ok": true}}, nil
	}}
	e := newTestEngine(t, fake, false, nil)

	spec := specOf(domain.RunOptions{RetryCount: 2}, nil, node("a", "work", nil))

	run, err := e.Execute(context.Background(), StartParams{Spec: spec})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	nr := run.NodeRuns["a"]
	if nr.Status != domain.NodeStatusCompleted {
		t.Fatalf("node status = %s, want COMPLETED", nr.Status)
	}
	if nr.Attempt != 3 {
		t.Errorf("attempt = %d, want 3", nr.Attempt)
	}
	if fake.callCount() != 3 {
		t.Errorf("executor calls = %d, want 3", fake.callCount())
	}
}

func TestRetryBudgetExhausted(t *testing.T) {
	fake := &fakeExecutor{fn: func(context.Context, *executor.Request) (*domain.Output, error) {
		return nil, errors.New("permanent failure")
	}}
	e := newTestEngine(t, fake, false, nil)

	spec := specOf(domain.RunOptions{RetryCount: 1}, nil, node("a", "work", nil))

	run, err := e.Execute(context.Background(), StartParams{Spec: spec})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	nr := run.NodeRuns["a"]
	if nr.Status != domain.NodeStatusFailed {
		t.Fatalf("node status = %s, want FAILED", nr.Status)
	}
	if nr.Attempt != 2 {
		t.Errorf("attempt = %d, want 2 (1 + 1 retry)", nr.Attempt)
	}
	if nr.Error == nil || nr.Error.Kind != domain.ErrorKindExecution {
		t.Errorf("error = %+v, want EXECUTION", nr.Error)
	}
	if run.Status != domain.RunStatusFailed {
		t.Errorf("run status = %s, want FAILED", run.Status)
	}
}

// Упавший узел жадно пропускает всех транзитивных потомков,
// не трогая независимую ветку.
func TestFailurePropagatesSkipToDescendants(t *testing.T) {
	fake := &fakeExecutor{fn: func(_ context.Context, req *executor.Request) (*domain.Output, error) {
		if req.NodeID == "b" {
			return nil, errors.New("boom")
		}
		return &domain.Output{Payload: map[string]any{"node": req.NodeID}}, nil
	}}
	e := newTestEngine(t, fake, false, nil)

	// a → b → c → d, a → e (независимая ветка)
	spec := specOf(domain.RunOptions{RetryCount: 0},
		[]domain.Edge{edge("a", "b"), edge("b", "c"), edge("c", "d"), edge("a", "e")},
		node("a", "work", nil), node("b", "work", nil), node("c", "work", nil),
		node("d", "work", nil), node("e", "work", nil),
	)

	run, err := e.Execute(context.Background(), StartParams{Spec: spec})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if run.Status != domain.RunStatusFailed {
		t.Fatalf("run status = %s, want FAILED", run.Status)
	}
	if got := run.NodeRuns["b"].Status; got != domain.NodeStatusFailed {
		t.Errorf("b = %s, want FAILED", got)
	}
	for _, id := range []string{"c", "d"} {
		nr := run.NodeRuns[id]
		if nr.Status != domain.NodeStatusSkipped {
			t.Errorf("%s = %s, want SKIPPED", id, nr.Status)
		}
		if nr.Error == nil || !strings.Contains(nr.Error.Message, "b") {
			t.Errorf("%s error should name failed ancestor, got %+v", id, nr.Error)
		}
	}
	// Независимая ветка доводится до конца
	if got := run.NodeRuns["e"].Status; got != domain.NodeStatusCompleted {
		t.Errorf("e = %s, want COMPLETED", got)
	}
}

// Ошибка переменной относится только к узлу-нарушителю.
func TestUnknownVariableFailsOnlyOffendingNode(t *testing.T) {
	fake := &fakeExecutor{}
	e := newTestEngine(t, fake, false, nil)

	spec := specOf(domain.RunOptions{RetryCount: 2}, nil,
		node("good", "work", map[string]any{"value": "${KNOWN}"}),
		node("bad", "work", map[string]any{"value": "${MISSING}"}),
	)
	spec.Variables = []domain.Variable{{Name: "KNOWN", Value: "v", Type: domain.VariableTypeString}}

	run, err := e.Execute(context.Background(), StartParams{Spec: spec})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	bad := run.NodeRuns["bad"]
	if bad.Status != domain.NodeStatusFailed {
		t.Fatalf("bad = %s, want FAILED", bad.Status)
	}
	if bad.Error == nil || bad.Error.Kind != domain.ErrorKindVariable {
		t.Errorf("bad error = %+v, want VARIABLE", bad.Error)
	}
	// Ошибка переменной детерминирована — повторы не тратятся
	if bad.Attempt != 0 {
		t.Errorf("bad attempt = %d, want 0", bad.Attempt)
	}
	if got := run.NodeRuns["good"].Status; got != domain.NodeStatusCompleted {
		t.Errorf("good = %s, want COMPLETED", got)
	}
}

func TestAttemptTimeout(t *testing.T) {
	fake := &fakeExecutor{fn: func(ctx context.Context, _ *executor.Request) (*domain.Output, error) {
		select {
		case <-time.After(10 * time.Second):
			return &domain.Output{}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}}
	e := newTestEngine(t, fake, false, nil)

	spec := specOf(domain.RunOptions{TimeoutSeconds: 1, RetryCount: 0}, nil, node("a", "work", nil))

	run, err := e.Execute(context.Background(), StartParams{Spec: spec})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	nr := run.NodeRuns["a"]
	if nr.Status != domain.NodeStatusFailed {
		t.Fatalf("node status = %s, want FAILED", nr.Status)
	}
	if nr.Error == nil || nr.Error.Kind != domain.ErrorKindTimeout {
		t.Errorf("error = %+v, want TIMEOUT", nr.Error)
	}
}

func TestCancelRun(t *testing.T) {
	started := make(chan struct{})
	fake := &fakeExecutor{fn: func(ctx context.Context, req *executor.Request) (*domain.Output, error) {
		if req.NodeID == "a" {
			close(started)
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &domain.Output{}, nil
	}}
	e := newTestEngine(t, fake, false, nil)

	spec := specOf(domain.RunOptions{TimeoutSeconds: 30},
		[]domain.Edge{edge("a", "b")},
		node("a", "work", nil), node("b", "work", nil),
	)

	run, err := e.StartRun(context.Background(), StartParams{Spec: spec})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	<-started
	if err := e.CancelRun(run.ID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	final := waitForRun(t, e, run.ID)
	if final.Status != domain.RunStatusCancelled {
		t.Fatalf("run status = %s, want CANCELLED", final.Status)
	}
	if got := final.NodeRuns["a"].Status; got != domain.NodeStatusCancelled {
		t.Errorf("a = %s, want CANCELLED", got)
	}
	// Узел, не начавший выполняться, никогда не переходит в RUNNING
	b := final.NodeRuns["b"]
	if b.Status != domain.NodeStatusCancelled {
		t.Errorf("b = %s, want CANCELLED", b.Status)
	}
	if b.StartedAt != nil {
		t.Errorf("b must never start, started at %v", b.StartedAt)
	}

	if err := e.CancelRun(run.ID); !errors.Is(err, ErrRunFinished) {
		t.Errorf("second cancel: expected ErrRunFinished, got %v", err)
	}
	if err := e.CancelRun(uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("unknown run: expected ErrRunNotFound, got %v", err)
	}
}

// Завершившийся до отмены узел сохраняет результат.
func TestCancelKeepsCompletedResults(t *testing.T) {
	aDone := make(chan struct{})
	fake := &fakeExecutor{fn: func(ctx context.Context, req *executor.Request) (*domain.Output, error) {
		if req.NodeID == "b" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		defer close(aDone)
		return &domain.Output{Payload: map[string]any{"kept": true}}, nil
	}}
	e := newTestEngine(t, fake, false, nil)

	spec := specOf(domain.RunOptions{TimeoutSeconds: 30},
		[]domain.Edge{edge("a", "b")},
		node("a", "work", nil), node("b", "work", nil),
	)

	run, err := e.StartRun(context.Background(), StartParams{Spec: spec})
	if err != nil {
		t.Fatalf("StartRun: %v", err)
	}

	<-aDone
	// Даём координатору применить результат узла a
	waitForNodeStatus(t, e, run.ID, "a", domain.NodeStatusCompleted)

	if err := e.CancelRun(run.ID); err != nil {
		t.Fatalf("CancelRun: %v", err)
	}

	final := waitForRun(t, e, run.ID)
	a := final.NodeRuns["a"]
	if a.Status != domain.NodeStatusCompleted {
		t.Fatalf("a = %s, want COMPLETED", a.Status)
	}
	if a.Output == nil || a.Output.Payload["kept"] != true {
		t.Errorf("a output lost: %+v", a.Output)
	}
}

// Повторный run того же графа с кэшем не вызывает executor
// для детерминированных узлов.
func TestCacheMakesSecondRunIdempotent(t *testing.T) {
	fake := &fakeExecutor{}
	e := newTestEngine(t, fake, true, cache.NewMemory(0))

	spec := specOf(domain.RunOptions{EnableCaching: true},
		[]domain.Edge{edge("a", "b")},
		node("a", "work", map[string]any{"x": 1}),
		node("b", "work", map[string]any{"y": 2}),
	)

	first, err := e.Execute(context.Background(), StartParams{Spec: spec})
	if err != nil {
		t.Fatalf("first Execute: %v", err)
	}
	if first.Status != domain.RunStatusCompleted {
		t.Fatalf("first run status = %s", first.Status)
	}
	if fake.callCount() != 2 {
		t.Fatalf("first run calls = %d, want 2", fake.callCount())
	}

	second, err := e.Execute(context.Background(), StartParams{Spec: spec})
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if second.Status != domain.RunStatusCompleted {
		t.Fatalf("second run status = %s", second.Status)
	}
	if fake.callCount() != 2 {
		t.Errorf("second run must not invoke executor, calls = %d", fake.callCount())
	}

	for _, id := range []string{"a", "b"} {
		nr := second.NodeRuns[id]
		if !nr.CacheHit {
			t.Errorf("%s: expected cache hit", id)
		}
		if nr.Attempt != 0 {
			t.Errorf("%s: attempt = %d, want 0 on cache hit", id, nr.Attempt)
		}
		if firstOut, secondOut := fmt.Sprint(first.NodeRuns[id].Output), fmt.Sprint(nr.Output); firstOut != secondOut {
			t.Errorf("%s: outputs differ: %s vs %s", id, firstOut, secondOut)
		}
	}
}

// Изменение конфигурации инвалидирует кэш только изменившегося узла
// и его потомков.
func TestCacheMissOnConfigChange(t *testing.T) {
	fake := &fakeExecutor{}
	e := newTestEngine(t, fake, true, cache.NewMemory(0))

	run1 := specOf(domain.RunOptions{EnableCaching: true},
		[]domain.Edge{edge("a", "b")},
		node("a", "work", map[string]any{"x": 1}),
		node("b", "work", map[string]any{"y": 2}),
	)
	if _, err := e.Execute(context.Background(), StartParams{Spec: run1}); err != nil {
		t.Fatalf("first Execute: %v", err)
	}

	run2 := specOf(domain.RunOptions{EnableCaching: true},
		[]domain.Edge{edge("a", "b")},
		node("a", "work", map[string]any{"x": 1}),
		node("b", "work", map[string]any{"y": 99}),
	)
	second, err := e.Execute(context.Background(), StartParams{Spec: run2})
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}

	if !second.NodeRuns["a"].CacheHit {
		t.Errorf("a: expected cache hit, config unchanged")
	}
	if second.NodeRuns["b"].CacheHit {
		t.Errorf("b: expected cache miss after config change")
	}
	if fake.callCount() != 3 {
		t.Errorf("calls = %d, want 3 (a, b, изменённый b)", fake.callCount())
	}
}

// Секретное значение не появляется ни в одном NodeLog-событии и ни в
// одной записи лога узла. Встроенный узел "http" логирует адрес запроса,
// поэтому секрет, интерполированный в URL, — самый прямой путь утечки.
func TestSecretNeverAppearsInLogs(t *testing.T) {
	const secret = "super-secret-token-value"

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("key") != secret {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	var mu sync.Mutex
	var logMessages []string
	bus := events.NewBus(0)
	unsubscribe := bus.Subscribe(func(ev events.Event) {
		if ev.Kind == events.KindNodeLog {
			mu.Lock()
			logMessages = append(logMessages, ev.Message)
			mu.Unlock()
		}
	})
	defer unsubscribe()

	e := New(Config{Bus: bus})
	defer e.Close()

	spec := specOf(domain.RunOptions{}, nil,
		node("a", "http", map[string]any{"url": srv.URL + "/?key=${API_KEY}"}))
	spec.Variables = []domain.Variable{{
		Name:     "API_KEY",
		Value:    secret,
		Type:     domain.VariableTypeSecret,
		IsSecret: true,
	}}

	run, err := e.Execute(context.Background(), StartParams{Spec: spec})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if run.Status != domain.RunStatusCompleted {
		t.Fatalf("run status = %s, node error: %+v", run.Status, run.NodeRuns["a"].Error)
	}

	var sawMasked bool
	for _, entry := range run.NodeRuns["a"].Logs {
		if strings.Contains(entry.Message, secret) {
			t.Errorf("secret leaked into node log: %q", entry.Message)
		}
		if strings.Contains(entry.Message, domain.MaskedValue) {
			sawMasked = true
		}
	}
	// Реальный запрос ушёл с секретом, а строка запроса в логе — с маской
	if !sawMasked {
		t.Errorf("expected the request log to carry the masked URL, logs: %+v", run.NodeRuns["a"].Logs)
	}
	mu.Lock()
	defer mu.Unlock()
	for _, msg := range logMessages {
		if strings.Contains(msg, secret) {
			t.Errorf("secret leaked into event: %q", msg)
		}
	}
	// Снимок переменных в run хранится замаскированным
	if v, ok := run.Variables["API_KEY"]; !ok || v.Value == secret {
		t.Errorf("run variable snapshot must be masked, got %v", v.Value)
	}
}

func TestIdempotencyKeyDeduplicates(t *testing.T) {
	fake := &fakeExecutor{}
	e := newTestEngine(t, fake, false, nil)

	spec := specOf(domain.RunOptions{}, nil, node("a", "work", nil))

	first, err := e.StartRun(context.Background(), StartParams{Spec: spec, IdempotencyKey: "daily-2026-08-26"})
	if err != nil {
		t.Fatalf("first StartRun: %v", err)
	}
	second, err := e.StartRun(context.Background(), StartParams{Spec: spec, IdempotencyKey: "daily-2026-08-26"})
	if err != nil {
		t.Fatalf("second StartRun: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("expected same run, got %s and %s", first.ID, second.ID)
	}
	waitForRun(t, e, first.ID)
	if fake.callCount() != 1 {
		t.Errorf("executor calls = %d, want 1", fake.callCount())
	}
}

// Завершённые runs не живут в памяти вечно: история ограничена,
// самые старые терминальные состояния вытесняются вместе со своими
// ключами идемпотентности.
func TestFinishedRunsEvictedFromMemory(t *testing.T) {
	fake := &fakeExecutor{}
	e := newTestEngine(t, fake, false, nil)
	e.retainLimit = 2

	spec := specOf(domain.RunOptions{}, nil, node("a", "work", nil))

	first, err := e.Execute(context.Background(), StartParams{Spec: spec, IdempotencyKey: "tick-1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}

	var last *domain.WorkflowRun
	for i := 2; i <= 4; i++ {
		last, err = e.Execute(context.Background(), StartParams{Spec: spec, IdempotencyKey: fmt.Sprintf("tick-%d", i)})
		if err != nil {
			t.Fatalf("Execute %d: %v", i, err)
		}
	}

	// Недавние runs остаются доступными из памяти
	if _, err := e.GetRun(context.Background(), last.ID); err != nil {
		t.Fatalf("GetRun(last): %v", err)
	}

	// Первый run вытеснен; Store не настроен, искать больше негде
	if _, err := e.GetRun(context.Background(), first.ID); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("GetRun(first) = %v, want ErrRunNotFound", err)
	}

	// Вытеснение освобождает и ключ идемпотентности
	again, err := e.Execute(context.Background(), StartParams{Spec: spec, IdempotencyKey: "tick-1"})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if again.ID == first.ID {
		t.Error("expected a fresh run after eviction, got the evicted one")
	}
}

// Preview не попадает в метрики: ни один счётчик не двигается.
func TestPreviewEmitsNoMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()

	registry := executor.NewRegistry()
	registry.Register("work", &fakeExecutor{}, executor.Capabilities{Deterministic: true})

	e := New(Config{
		Registry: registry,
		Cache:    cache.NewMemory(0),
		Metrics:  telemetry.NewMetrics(reg),
	})
	defer e.Close()

	spec := specOf(domain.RunOptions{EnableCaching: true}, []domain.Edge{edge("a", "b")},
		node("a", "work", nil), node("b", "work", nil))

	if _, err := e.PreviewNode(context.Background(), spec, "b"); err != nil {
		t.Fatalf("PreviewNode: %v", err)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if v := m.GetCounter().GetValue() + m.GetGauge().GetValue(); v != 0 {
				t.Errorf("metric %s = %v after preview, want 0", mf.GetName(), v)
			}
			if h := m.GetHistogram(); h != nil && h.GetSampleCount() != 0 {
				t.Errorf("histogram %s observed %d samples after preview", mf.GetName(), h.GetSampleCount())
			}
		}
	}
}

func TestGetRunUnknown(t *testing.T) {
	e := newTestEngine(t, &fakeExecutor{}, false, nil)

	if _, err := e.GetRun(context.Background(), uuid.New()); !errors.Is(err, ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

// PreviewNode выполняет только замыкание предков целевого узла
// и не оставляет следа в истории runs.
func TestPreviewNodeExecutesAncestorClosureOnly(t *testing.T) {
	var mu sync.Mutex
	executed := map[string]bool{}
	fake := &fakeExecutor{fn: func(_ context.Context, req *executor.Request) (*domain.Output, error) {
		mu.Lock()
		executed[req.NodeID] = true
		mu.Unlock()
		return &domain.Output{Payload: map[string]any{"node": req.NodeID}}, nil
	}}
	e := newTestEngine(t, fake, false, nil)

	// a → b → target, a → unrelated
	spec := specOf(domain.RunOptions{},
		[]domain.Edge{edge("a", "b"), edge("b", "target"), edge("a", "unrelated")},
		node("a", "work", nil), node("b", "work", nil),
		node("target", "work", nil), node("unrelated", "work", nil),
	)

	output, err := e.PreviewNode(context.Background(), spec, "target")
	if err != nil {
		t.Fatalf("PreviewNode: %v", err)
	}
	if output == nil || output.Payload["node"] != "target" {
		t.Fatalf("output = %+v", output)
	}

	mu.Lock()
	if executed["unrelated"] {
		t.Error("preview must not execute nodes outside the ancestor closure")
	}
	for _, id := range []string{"a", "b", "target"} {
		if !executed[id] {
			t.Errorf("preview must execute %s", id)
		}
	}
	mu.Unlock()
}

func TestPreviewNodeUnknownNode(t *testing.T) {
	e := newTestEngine(t, &fakeExecutor{}, false, nil)

	spec := specOf(domain.RunOptions{}, nil, node("a", "work", nil))

	if _, err := e.PreviewNode(context.Background(), spec, "ghost"); !errors.Is(err, ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
}

func TestPreviewNodeFailureSurfacesError(t *testing.T) {
	fake := &fakeExecutor{fn: func(context.Context, *executor.Request) (*domain.Output, error) {
		return nil, errors.New("broken upstream")
	}}
	e := newTestEngine(t, fake, false, nil)

	spec := specOf(domain.RunOptions{RetryCount: 0},
		[]domain.Edge{edge("a", "target")},
		node("a", "work", nil), node("target", "work", nil),
	)

	_, err := e.PreviewNode(context.Background(), spec, "target")
	if !errors.Is(err, ErrPreviewFailed) {
		t.Fatalf("expected ErrPreviewFailed, got %v", err)
	}
}

// События одного узла приходят подписчику в порядке жизненного цикла.
func TestEventsPerNodeOrdering(t *testing.T) {
	fake := &fakeExecutor{}
	registry := executor.NewRegistry()
	registry.Register("work", fake, executor.Capabilities{})

	bus := events.NewBus(0)
	var mu sync.Mutex
	var transitions []domain.NodeStatus
	finished := make(chan struct{})
	bus.Subscribe(func(ev events.Event) {
		switch ev.Kind {
		case events.KindNodeStatusChanged:
			if ev.NodeID == "a" {
				mu.Lock()
				transitions = append(transitions, ev.To)
				mu.Unlock()
			}
		case events.KindRunFinished:
			close(finished)
		}
	})

	e := New(Config{Registry: registry, Bus: bus})
	defer e.Close()

	spec := specOf(domain.RunOptions{}, nil, node("a", "work", nil))
	if _, err := e.Execute(context.Background(), StartParams{Spec: spec}); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	select {
	case <-finished:
	case <-time.After(5 * time.Second):
		t.Fatal("run.finished event not delivered")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []domain.NodeStatus{
		domain.NodeStatusReady,
		domain.NodeStatusRunning,
		domain.NodeStatusCompleted,
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transitions = %v, want %v", transitions, want)
		}
	}
}

func TestBackoffDelayBounds(t *testing.T) {
	for attempt := 1; attempt <= 12; attempt++ {
		delay := backoffDelay(attempt)
		if delay < domain.DefaultInitialBackoff/2 {
			t.Errorf("attempt %d: delay %s below floor", attempt, delay)
		}
		if delay > domain.DefaultMaxBackoff {
			t.Errorf("attempt %d: delay %s above cap", attempt, delay)
		}
	}
}

// waitForRun ждёт терминального статуса run.
func waitForRun(t *testing.T, e *Engine, runID uuid.UUID) *domain.WorkflowRun {
	t.Helper()

	deadline := time.After(10 * time.Second)
	for {
		run, err := e.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.IsFinished() {
			return run
		}
		select {
		case <-deadline:
			t.Fatalf("run %s did not finish, status %s", runID, run.Status)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

// waitForNodeStatus ждёт перехода узла в заданный статус.
func waitForNodeStatus(t *testing.T, e *Engine, runID uuid.UUID, nodeID string, status domain.NodeStatus) {
	t.Helper()

	deadline := time.After(10 * time.Second)
	for {
		run, err := e.GetRun(context.Background(), runID)
		if err != nil {
			t.Fatalf("GetRun: %v", err)
		}
		if run.NodeRuns[nodeID].Status == status {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("node %s did not reach %s, status %s", nodeID, status, run.NodeRuns[nodeID].Status)
		case <-time.After(5 * time.Millisecond):
		}
	}
}
