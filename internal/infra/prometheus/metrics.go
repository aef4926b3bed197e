package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "shortlinks"

// Metrics holds the link lifecycle counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	LinksCreated       prometheus.Counter
	Redirects          *prometheus.CounterVec
	SweepAffected      *prometheus.CounterVec
	SweepFailures      *prometheus.CounterVec
	CacheInvalidations *prometheus.CounterVec
	CodeCollisions     prometheus.Counter
}

// NewMetrics registers the lifecycle counters on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LinksCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "links_created_total",
			Help:      "Short links created.",
		}),
		Redirects: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "redirects_total",
			Help:      "Redirect resolutions by result.",
		}, []string{"result"}),
		SweepAffected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_affected_links_total",
			Help:      "Links expired or purged by periodic sweeps.",
		}, []string{"sweep"}),
		SweepFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_failures_total",
			Help:      "Sweep runs aborted by a store error.",
		}, []string{"sweep"}),
		CacheInvalidations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_invalidations_total",
			Help:      "Cache invalidation calls by namespace and result.",
		}, []string{"namespace", "result"}),
		CodeCollisions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "short_code_collisions_total",
			Help:      "Randomly drawn short codes that were already taken.",
		}),
	}
}

func (m *Metrics) LinkCreated() {
	if m != nil {
		m.LinksCreated.Inc()
	}
}

func (m *Metrics) Redirect(result string) {
	if m != nil {
		m.Redirects.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) Swept(sweep string, affected int) {
	if m != nil && affected > 0 {
		m.SweepAffected.WithLabelValues(sweep).Add(float64(affected))
	}
}

func (m *Metrics) SweepFailed(sweep string) {
	if m != nil {
		m.SweepFailures.WithLabelValues(sweep).Inc()
	}
}

func (m *Metrics) Invalidation(namespace, result string) {
	if m != nil {
		m.CacheInvalidations.WithLabelValues(namespace, result).Inc()
	}
}

func (m *Metrics) Collision() {
	if m != nil {
		m.CodeCollisions.Inc()
	}
}
