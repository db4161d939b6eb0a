package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestEngineMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewEngineMetrics(reg)

	m.IncQuoteRefresh("installed")
	m.IncQuoteRefresh("installed")
	m.IncQuoteRefresh("failed")
	m.IncStaleDiscard()
	m.IncCheckoutResult("committed")
	m.IncCartMutation("add_item")
	m.ObserveGatewayDuration("checkout_calculate", 120*time.Millisecond)

	if got := testutil.ToFloat64(m.quoteRefresh.WithLabelValues("installed")); got != 2 {
		t.Fatalf("expected 2 installed refreshes, got %f", got)
	}
	if got := testutil.ToFloat64(m.staleDiscards); got != 1 {
		t.Fatalf("expected 1 stale discard, got %f", got)
	}
	if got := testutil.ToFloat64(m.checkoutResult.WithLabelValues("committed")); got != 1 {
		t.Fatalf("expected 1 committed checkout, got %f", got)
	}
}

func TestEngineMetricsNilRegistererIsNoop(t *testing.T) {
	m := NewEngineMetrics(nil)
	m.IncQuoteRefresh("installed")
	m.IncStaleDiscard()
	m.IncCheckoutResult("failed")
	m.IncCartMutation("remove_item")
	m.ObserveGatewayDuration("cart_fetch", time.Second)

	var nilMetrics *EngineMetrics
	nilMetrics.IncStaleDiscard()
}
