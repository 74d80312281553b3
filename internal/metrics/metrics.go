// Package metrics holds the Prometheus collectors for ownership accounting.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Purchase outcomes recorded by subx_purchases_total.
const (
	OutcomeInitiated   = "initiated"
	OutcomeRejected    = "rejected"
	OutcomeConfirmed   = "confirmed"
	OutcomeFailed      = "failed"
	OutcomeCancelled   = "cancelled"
	OutcomeExpired     = "expired"
	OutcomeUnavailable = "payment_unavailable"
)

// Fallback sources recorded by subx_fallback_used_total.
const (
	SourceInventory = "inventory"
	SourcePortfolio = "portfolio"
)

// Metrics groups the collectors.  A nil *Metrics is valid and records nothing.
type Metrics struct {
	purchases        *prometheus.CounterVec
	oversell         prometheus.Counter
	fallbackUsed     *prometheus.CounterVec
	identityMismatch prometheus.Counter
	cacheHits        prometheus.Counter
}

// New creates the collectors and registers them with registerer, or with
// the default registerer when nil.
func New(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		purchases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subx_purchases_total",
			Help: "Purchase state transitions by outcome.",
		}, []string{"outcome"}),
		oversell: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subx_oversell_detected_total",
			Help: "Paid purchases honored after their plot ran out of inventory.",
		}),
		fallbackUsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subx_fallback_used_total",
			Help: "Reads answered with the historical purchase table.",
		}, []string{"source"}),
		identityMismatch: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subx_identity_mismatch_total",
			Help: "Ownership records found under only one of user id and email.",
		}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subx_availability_cache_hits_total",
			Help: "Availability reads served from the last-known cache after a store failure.",
		}),
	}
	registerer.MustRegister(m.purchases, m.oversell, m.fallbackUsed, m.identityMismatch, m.cacheHits)
	return m
}

func (m *Metrics) Purchase(outcome string) {
	if m == nil {
		return
	}
	m.purchases.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Oversell() {
	if m == nil {
		return
	}
	m.oversell.Inc()
}

func (m *Metrics) FallbackUsed(source string) {
	if m == nil {
		return
	}
	m.fallbackUsed.WithLabelValues(source).Inc()
}

func (m *Metrics) IdentityMismatch() {
	if m == nil {
		return
	}
	m.identityMismatch.Inc()
}

func (m *Metrics) CacheHit() {
	if m == nil {
		return
	}
	m.cacheHits.Inc()
}
