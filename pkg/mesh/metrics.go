package mesh

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/go-mesh/mesh/pkg/mesh/types"
)

// Metrics exports per-connection quality, offline queue depth and
// gateway request latency. It takes an injectable prometheus.Registerer
// rather than registering against the global default so that several
// Cores can run in one process (e.g. in tests) without colliding on
// metric names.
type Metrics struct {
	connectionQuality *prometheus.GaugeVec
	queueDepth        prometheus.Gauge
	queueDropped      prometheus.Counter
	gatewayRTT        prometheus.Histogram
	pendingInternet    prometheus.Gauge
}

// NewMetrics registers the mesh's gauges/counters/histogram against reg.
// Passing prometheus.NewRegistry() keeps tests isolated from the global
// default registry.
func NewMetrics(reg prometheus.Registerer, self types.NodeID) *Metrics {
	m := &Metrics{
		connectionQuality: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mesh",
			Subsystem: "connection",
			Name:      "quality",
			Help:      "Connection quality score in [0,100] per peer.",
			ConstLabels: prometheus.Labels{"self": self.String()},
		}, []string{"peer"}),
		queueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mesh",
			Subsystem:   "offline_queue",
			Name:        "depth",
			Help:        "Current number of entries held in the offline queue.",
			ConstLabels: prometheus.Labels{"self": self.String()},
		}),
		queueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "mesh",
			Subsystem:   "offline_queue",
			Name:        "dropped_total",
			Help:        "Total entries rejected by the offline queue.",
			ConstLabels: prometheus.Labels{"self": self.String()},
		}),
		gatewayRTT: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   "mesh",
			Subsystem:   "gateway",
			Name:        "request_duration_seconds",
			Help:        "Time from sendToInternet to a terminal callback.",
			ConstLabels: prometheus.Labels{"self": self.String()},
			Buckets:     prometheus.DefBuckets,
		}),
		pendingInternet: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   "mesh",
			Subsystem:   "gateway",
			Name:        "pending_requests",
			Help:        "Currently outstanding sendToInternet requests.",
			ConstLabels: prometheus.Labels{"self": self.String()},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.connectionQuality, m.queueDepth, m.queueDropped, m.gatewayRTT, m.pendingInternet)
	}
	return m
}

func (m *Metrics) observeQuality(peer types.NodeID, quality int) {
	if m == nil {
		return
	}
	m.connectionQuality.WithLabelValues(peer.String()).Set(float64(quality))
}

func (m *Metrics) dropConnectionQuality(peer types.NodeID) {
	if m == nil {
		return
	}
	m.connectionQuality.DeleteLabelValues(peer.String())
}

func (m *Metrics) observeQueueDepth(size int) {
	if m == nil {
		return
	}
	m.queueDepth.Set(float64(size))
}

func (m *Metrics) addQueueDrop() {
	if m == nil {
		return
	}
	m.queueDropped.Inc()
}

func (m *Metrics) observeGatewayRTT(seconds float64) {
	if m == nil {
		return
	}
	m.gatewayRTT.Observe(seconds)
}

func (m *Metrics) setPendingInternet(n int) {
	if m == nil {
		return
	}
	m.pendingInternet.Set(float64(n))
}
