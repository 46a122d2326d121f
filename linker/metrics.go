package linker

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// instanceMetrics tracks instantiation outcomes and latency for a Linker.
// Registered lazily so a Linker never requires a host to care about metrics
// unless it asks for them via Linker.Metrics().
type instanceMetrics struct {
	total    *prometheus.CounterVec
	duration prometheus.Histogram
}

func newInstanceMetrics(namespace string) *instanceMetrics {
	if namespace == "" {
		namespace = "wasm_component"
	}
	return &instanceMetrics{
		total: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "instantiate_total",
			Help:      "Count of component instantiation attempts by outcome.",
		}, []string{"result"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "instantiate_duration_seconds",
			Help:      "Time spent in Instance Builder instantiation, start to finish.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
}

func (m *instanceMetrics) observe(start time.Time, err error) {
	if m == nil {
		return
	}
	m.duration.Observe(time.Since(start).Seconds())
	if err != nil {
		m.total.WithLabelValues("error").Inc()
		return
	}
	m.total.WithLabelValues("ok").Inc()
}

// Collectors returns the Prometheus collectors a host should register into
// its own registry. Safe to call even if metrics were never otherwise used.
func (m *instanceMetrics) collectors() []prometheus.Collector {
	if m == nil {
		return nil
	}
	return []prometheus.Collector{m.total, m.duration}
}

// metricsFor returns the Linker's lazily-initialized metrics, creating them
// under lock on first use regardless of which namespace was requested first.
func (l *Linker) metricsFor(namespace string) *instanceMetrics {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.metrics == nil {
		l.metrics = newInstanceMetrics(namespace)
	}
	return l.metrics
}

// Metrics returns the Prometheus collectors backing this Linker's
// instantiation counters and latency histogram. A host wires these into its
// own registry with registry.MustRegister(linker.Metrics()...); the engine
// itself never creates a global registry, matching its "never logs, caller
// decides" stance on observability (§6/§7 of the instantiation spec).
func (l *Linker) Metrics() []prometheus.Collector {
	return l.metricsFor(l.options.MetricsNamespace).collectors()
}
