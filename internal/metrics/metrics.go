// Package metrics exports store events as prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"virtual-store/internal/events"
)

const namespace = "store"

// Purchase outcomes.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeCancelled = "cancelled"
	OutcomeRefunded  = "refunded"
)

// Collector is a bus subscriber maintaining the store metrics.
type Collector struct {
	eventsTotal    *prometheus.CounterVec
	purchasesTotal *prometheus.CounterVec
	errorsTotal    prometheus.Counter
	balance        *prometheus.GaugeVec
	billingUp      prometheus.Gauge
}

// NewCollector registers the store metrics with reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		eventsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total events posted on the store bus",
			},
			[]string{"event"},
		),
		purchasesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "purchases_total",
				Help:      "Market purchase outcomes",
			},
			[]string{"outcome"}, // succeeded, cancelled, refunded
		),
		errorsTotal: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "unexpected_errors_total",
				Help:      "Failures reported through the bus",
			},
		),
		balance: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "item_balance",
				Help:      "Last reported balance per item",
			},
			[]string{"item_id"},
		),
		billingUp: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "billing_supported",
				Help:      "1 when the last billing setup succeeded",
			},
		),
	}
}

// Handle is the bus handler.
func (c *Collector) Handle(e events.Event) {
	c.eventsTotal.WithLabelValues(e.EventName()).Inc()

	switch v := e.(type) {
	case events.PurchaseSucceeded:
		c.purchasesTotal.WithLabelValues(OutcomeSucceeded).Inc()
	case events.PurchaseCancelled:
		c.purchasesTotal.WithLabelValues(OutcomeCancelled).Inc()
	case events.Refund:
		c.purchasesTotal.WithLabelValues(OutcomeRefunded).Inc()
	case events.UnexpectedError:
		c.errorsTotal.Inc()
	case events.BalanceChanged:
		c.balance.WithLabelValues(v.ItemID).Set(float64(v.Balance))
	case events.BillingSupported:
		c.billingUp.Set(1)
	case events.BillingNotSupported:
		c.billingUp.Set(0)
	}
}
