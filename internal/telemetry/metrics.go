package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics — Prometheus-метрики движка.
//
// Создаются один раз на процесс (NewMetrics); nil-приёмник безопасен —
// все методы записи молча выходят, что позволяет не прокидывать метрики
// в тестах.
type Metrics struct {
	instancesStarted   prometheus.Counter
	instancesCompleted *prometheus.CounterVec
	activitiesExecuted *prometheus.CounterVec
	compensations      prometheus.Counter
	activityDuration   prometheus.Histogram
}

// NewMetrics регистрирует метрики в registerer.
// nil registerer — prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		instancesStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "dirigent_instances_started_total",
			Help: "Количество запущенных экземпляров процессов.",
		}),
		instancesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dirigent_instances_finished_total",
			Help: "Количество завершённых экземпляров по итоговому статусу.",
		}, []string{"status"}),
		activitiesExecuted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "dirigent_activities_executed_total",
			Help: "Количество выполненных activities по типу и результату.",
		}, []string{"kind", "result"}),
		compensations: factory.NewCounter(prometheus.CounterOpts{
			Name: "dirigent_compensations_total",
			Help: "Количество запусков saga-компенсации.",
		}),
		activityDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "dirigent_activity_duration_seconds",
			Help:    "Длительность выполнения activity.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// InstanceStarted инкрементирует счётчик запусков.
func (m *Metrics) InstanceStarted() {
	if m == nil {
		return
	}
	m.instancesStarted.Inc()
}

// InstanceFinished инкрементирует счётчик завершений по статусу.
func (m *Metrics) InstanceFinished(status string) {
	if m == nil {
		return
	}
	m.instancesCompleted.WithLabelValues(status).Inc()
}

// ActivityExecuted инкрементирует счётчик выполнений activity.
func (m *Metrics) ActivityExecuted(kind string, success bool) {
	if m == nil {
		return
	}
	result := "success"
	if !success {
		result = "failure"
	}
	m.activitiesExecuted.WithLabelValues(kind, result).Inc()
}

// CompensationStarted инкрементирует счётчик компенсаций.
func (m *Metrics) CompensationStarted() {
	if m == nil {
		return
	}
	m.compensations.Inc()
}

// ObserveActivityDuration записывает длительность activity в секундах.
func (m *Metrics) ObserveActivityDuration(seconds float64) {
	if m == nil {
		return
	}
	m.activityDuration.Observe(seconds)
}
