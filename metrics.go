package lnunify

import (
	"github.com/prometheus/client_golang/prometheus"
)

// CacheMetrics holds the prometheus collectors shared by the request caches
// of all adapters. Series are labelled by backend kind.
type CacheMetrics struct {
	requests *prometheus.CounterVec
	inflight *prometheus.GaugeVec
}

// NewCacheMetrics creates and registers the collectors. A nil registerer
// leaves them unregistered.
func NewCacheMetrics(reg prometheus.Registerer) (*CacheMetrics, error) {
	m := &CacheMetrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lnunify",
			Subsystem: "request_cache",
			Name:      "requests_total",
			Help:      "Requests seen by the in-flight cache by outcome.",
		}, []string{"backend", "outcome"}),
		inflight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "lnunify",
			Subsystem: "request_cache",
			Name:      "inflight",
			Help:      "Executions currently in flight.",
		}, []string{"backend"}),
	}
	if reg != nil {
		for _, c := range []prometheus.Collector{m.requests, m.inflight} {
			if err := reg.Register(c); err != nil {
				return nil, err
			}
		}
	}
	return m, nil
}

func (m *CacheMetrics) observer(backend string) *cacheObserver {
	return &cacheObserver{
		executed: m.requests.WithLabelValues(backend, "executed"),
		dedupe:   m.requests.WithLabelValues(backend, "shared"),
		timeouts: m.requests.WithLabelValues(backend, "timeout"),
		cancels:  m.requests.WithLabelValues(backend, "cancelled"),
		inflight: m.inflight.WithLabelValues(backend),
	}
}

// cacheObserver is nil safe so caches without metrics need no checks.
type cacheObserver struct {
	executed prometheus.Counter
	dedupe   prometheus.Counter
	timeouts prometheus.Counter
	cancels  prometheus.Counter
	inflight prometheus.Gauge
}

func (o *cacheObserver) started() {
	if o == nil {
		return
	}
	o.executed.Inc()
	o.inflight.Inc()
}

func (o *cacheObserver) finished() {
	if o == nil {
		return
	}
	o.inflight.Dec()
}

func (o *cacheObserver) shared() {
	if o == nil {
		return
	}
	o.dedupe.Inc()
}

func (o *cacheObserver) timeout() {
	if o == nil {
		return
	}
	o.timeouts.Inc()
}

func (o *cacheObserver) cancelled() {
	if o == nil {
		return
	}
	o.cancels.Inc()
}
