// Package metrics экспорт показателей движка синхронизации в Prometheus.
// Каждый экземпляр несет собственный Registry, коллекторы не пересекаются
// между инстансами и тестами.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"fieldsync/internal/domain/sync"
)

type Metrics struct {
	registry *prometheus.Registry

	syncDuration  *prometheus.HistogramVec
	batchDuration *prometheus.HistogramVec
	circuitOpen   prometheus.Counter
}

var _ sync.Metrics = (*Metrics)(nil)

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		syncDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fieldsync",
			Name:      "sync_duration_seconds",
			Help:      "Duration of single record synchronization by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		batchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fieldsync",
			Name:      "batch_duration_seconds",
			Help:      "Duration of batch synchronization by outcome.",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),
		circuitOpen: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fieldsync",
			Name:      "circuit_rejections_total",
			Help:      "Sync attempts rejected by the open circuit breaker.",
		}),
	}

	m.registry.MustRegister(
		m.syncDuration,
		m.batchDuration,
		m.circuitOpen,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveSync(outcome string, d time.Duration) {
	m.syncDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveBatch(outcome string, d time.Duration) {
	m.batchDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) CircuitRejected() {
	m.circuitOpen.Inc()
}

// Handler отдает /metrics для отдельного служебного порта
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
