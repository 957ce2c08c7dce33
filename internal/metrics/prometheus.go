package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "rule_proxy"

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	reg.MustRegister(collectors.NewGoCollector())
	return reg
}

type promMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	dropped  prometheus.Counter
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	factory := promauto.With(reg)

	return &promMetrics{
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Proxied requests by rule and response status.",
		}, []string{"rule", "code"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Failed proxied requests by rule and error kind.",
		}, []string{"rule", "kind"}),
		duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from receiving a request to finishing its response.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"rule"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outcomes_dropped_total",
			Help:      "Outcomes dropped because the collector buffer was full.",
		}),
	}
}

func (p *promMetrics) observe(key string, status int, kind string, seconds float64) {
	p.requests.WithLabelValues(key, strconv.Itoa(status)).Inc()
	p.duration.WithLabelValues(key).Observe(seconds)
	if kind != "" {
		p.errors.WithLabelValues(key, kind).Inc()
	}
}

func (p *promMetrics) forget(key string) {
	p.requests.DeletePartialMatch(prometheus.Labels{"rule": key})
	p.errors.DeletePartialMatch(prometheus.Labels{"rule": key})
	p.duration.DeleteLabelValues(key)
}

// GaugeFunc registers a gauge whose value is read from fn at scrape time.
func GaugeFunc(reg prometheus.Registerer, name, help string, fn func() float64) error {
	return reg.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, fn))
}
