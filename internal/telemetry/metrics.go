package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics — метрики engine для Prometheus.
//
// Все методы безопасны при nil-получателе: компоненты, которым метрики
// не выданы, просто ничего не регистрируют.
type Metrics struct {
	runsStarted    prometheus.Counter
	runsFinished   *prometheus.CounterVec
	activeRuns     prometheus.Gauge
	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	nodeRetries    prometheus.Counter
	cacheLookups   *prometheus.CounterVec
}

// NewMetrics создаёт и регистрирует метрики в заданном Registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_runs_started_total",
			Help: "Количество запущенных runs.",
		}),
		runsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_runs_finished_total",
			Help: "Количество завершённых runs по финальному статусу.",
		}, []string{"status"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "conveyor_active_runs",
			Help: "Количество runs в процессе выполнения.",
		}),
		nodeExecutions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_node_executions_total",
			Help: "Количество завершённых узлов по типу и статусу.",
		}, []string{"node_type", "status"}),
		nodeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "conveyor_node_duration_seconds",
			Help:    "Длительность выполнения узла по типу.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
		}, []string{"node_type"}),
		nodeRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "conveyor_node_retries_total",
			Help: "Количество повторных попыток узлов.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "conveyor_cache_lookups_total",
			Help: "Обращения к result cache по исходу (hit/miss/error).",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.activeRuns,
		m.nodeExecutions,
		m.nodeDuration,
		m.nodeRetries,
		m.cacheLookups,
	)

	return m
}

// RunStarted регистрирует старт run.
func (m *Metrics) RunStarted() {
	if m == nil {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RunFinished регистрирует завершение run.
func (m *Metrics) RunFinished(status string) {
	if m == nil {
		return
	}
	m.runsFinished.WithLabelValues(status).Inc()
	m.activeRuns.Dec()
}

// NodeFinished регистрирует терминальный статус узла.
func (m *Metrics) NodeFinished(nodeType, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.nodeExecutions.WithLabelValues(nodeType, status).Inc()
	if duration > 0 {
		m.nodeDuration.WithLabelValues(nodeType).Observe(duration.Seconds())
	}
}

// NodeRetried регистрирует повторную попытку узла.
func (m *Metrics) NodeRetried() {
	if m == nil {
		return
	}
	m.nodeRetries.Inc()
}

// CacheLookup регистрирует обращение к кэшу с исходом.
func (m *Metrics) CacheLookup(outcome string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(outcome).Inc()
}
