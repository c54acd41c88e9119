package metrics

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"virtual-store/internal/events"
)

func TestCollector_CountsEvents(t *testing.T) {
	c := NewCollector(prometheus.NewRegistry())
	bus := events.NewBus()
	bus.Register(c.Handle)

	bus.Post(events.BillingSupported{})
	bus.Post(events.PurchaseStarted{ItemID: "gold_100"})
	bus.Post(events.PurchaseSucceeded{ItemID: "gold_100"})
	bus.Post(events.BalanceChanged{ItemID: "gold_100", Balance: 3, AmountAdded: 1})
	bus.Post(events.PurchaseCancelled{ItemID: "gold_100"})
	bus.Post(events.Refund{ItemID: "gold_100"})
	bus.Post(events.UnexpectedError{Err: errors.New("boom")})
	bus.Post(events.UnexpectedError{Message: "again"})

	assert.Equal(t, 1.0, testutil.ToFloat64(c.eventsTotal.WithLabelValues(events.NamePurchaseStarted)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsTotal.WithLabelValues(events.NameUnexpectedError)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.purchasesTotal.WithLabelValues(OutcomeSucceeded)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.purchasesTotal.WithLabelValues(OutcomeCancelled)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.purchasesTotal.WithLabelValues(OutcomeRefunded)))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.errorsTotal))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.balance.WithLabelValues("gold_100")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.billingUp))

	bus.Post(events.BillingNotSupported{})
	assert.Equal(t, 0.0, testutil.ToFloat64(c.billingUp))
}

func TestNewCollector_RegistersOnGivenRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg)

	// A second collector on the same registry collides.
	assert.Panics(t, func() { NewCollector(reg) })
}
