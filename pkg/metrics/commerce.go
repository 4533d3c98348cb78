package metrics

import "github.com/prometheus/client_golang/prometheus"

const (
	QuoteAuthoritative = "authoritative"
	QuoteOffline       = "offline"
	QuoteStale         = "stale"
)

// CommerceMetrics records pricing and checkout outcomes.
type CommerceMetrics struct {
	quotes      *prometheus.CounterVec
	submissions *prometheus.CounterVec
	activeOrder prometheus.Gauge
}

// NewCommerceMetrics registers the commerce metrics on the provided registerer.
func NewCommerceMetrics(reg prometheus.Registerer, namespace string) *CommerceMetrics {
	if reg == nil {
		return &CommerceMetrics{}
	}
	quotes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "price_quotes_total",
		Help:      "Price quotes by source, including discarded stale responses.",
	}, []string{"source"})
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "order_submissions_total",
		Help:      "Order submissions by error code, or ok.",
	}, []string{"outcome"})
	activeOrder := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_orders",
		Help:      "Orders in the local ledger that are not yet delivered or cancelled.",
	})
	reg.MustRegister(quotes, submissions, activeOrder)
	return &CommerceMetrics{
		quotes:      quotes,
		submissions: submissions,
		activeOrder: activeOrder,
	}
}

func (c *CommerceMetrics) IncQuote(source string) {
	if c == nil || c.quotes == nil {
		return
	}
	c.quotes.WithLabelValues(normalizeLabel(source)).Inc()
}

func (c *CommerceMetrics) IncSubmission(outcome string) {
	if c == nil || c.submissions == nil {
		return
	}
	c.submissions.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// SetActiveOrders mirrors the ledger badge count.
func (c *CommerceMetrics) SetActiveOrders(count int) {
	if c == nil || c.activeOrder == nil {
		return
	}
	c.activeOrder.Set(float64(count))
}
