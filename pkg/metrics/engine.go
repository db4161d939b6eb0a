package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics records reconciliation and checkout activity.
type EngineMetrics struct {
	quoteRefresh    *prometheus.CounterVec
	staleDiscards   prometheus.Counter
	gatewayDuration *prometheus.HistogramVec
	checkoutResult  *prometheus.CounterVec
	cartMutations   *prometheus.CounterVec
}

// NewEngineMetrics registers engine metrics on the provided registerer.
func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	if reg == nil {
		return &EngineMetrics{}
	}
	quoteRefresh := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quote_refresh_total",
		Help: "Quote refresh attempts by outcome.",
	}, []string{"outcome"})
	staleDiscards := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quote_stale_discard_total",
		Help: "Authoritative quotes discarded because the cart moved on.",
	})
	gatewayDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "gateway_request_duration_seconds",
		Help:    "Duration of backend gateway calls in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
	checkoutResult := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "checkout_total",
		Help: "Checkout attempts by terminal result.",
	}, []string{"result"})
	cartMutations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cart_mutation_total",
		Help: "Cart store mutations by operation.",
	}, []string{"op"})
	reg.MustRegister(quoteRefresh, staleDiscards, gatewayDuration, checkoutResult, cartMutations)
	return &EngineMetrics{
		quoteRefresh:    quoteRefresh,
		staleDiscards:   staleDiscards,
		gatewayDuration: gatewayDuration,
		checkoutResult:  checkoutResult,
		cartMutations:   cartMutations,
	}
}

// IncQuoteRefresh counts a refresh attempt outcome ("installed", "discarded", "failed").
func (m *EngineMetrics) IncQuoteRefresh(outcome string) {
	if m == nil || m.quoteRefresh == nil {
		return
	}
	m.quoteRefresh.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncStaleDiscard counts a quote dropped on the version-stamp check.
func (m *EngineMetrics) IncStaleDiscard() {
	if m == nil || m.staleDiscards == nil {
		return
	}
	m.staleDiscards.Inc()
}

// ObserveGatewayDuration records latency for the named endpoint.
func (m *EngineMetrics) ObserveGatewayDuration(endpoint string, duration time.Duration) {
	if m == nil || m.gatewayDuration == nil {
		return
	}
	m.gatewayDuration.WithLabelValues(normalizeLabel(endpoint)).Observe(duration.Seconds())
}

// IncCheckoutResult counts a checkout terminal result ("committed", "failed", "expired").
func (m *EngineMetrics) IncCheckoutResult(result string) {
	if m == nil || m.checkoutResult == nil {
		return
	}
	m.checkoutResult.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncCartMutation counts a cart store operation.
func (m *EngineMetrics) IncCartMutation(op string) {
	if m == nil || m.cartMutations == nil {
		return
	}
	m.cartMutations.WithLabelValues(normalizeLabel(op)).Inc()
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
