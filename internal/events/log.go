package events

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogSubscriber writes every event to the global zerolog logger.
// Failures are logged at error level, everything else at debug.
func LogSubscriber() Handler {
	return func(e Event) {
		var ev *zerolog.Event
		switch v := e.(type) {
		case UnexpectedError:
			ev = log.Error().Err(v.Err).Str("message", v.Message)
		case BillingNotSupported:
			ev = log.Warn().Str("reason", v.Reason)
		case BalanceChanged:
			ev = log.Debug().Str("item_id", v.ItemID).Int("balance", v.Balance).Int("amount_added", v.AmountAdded)
		case PurchaseStarted:
			ev = log.Info().Str("item_id", v.ItemID).Str("sku", v.SKU)
		case PurchaseSucceeded:
			ev = log.Info().Str("item_id", v.ItemID).Str("sku", v.SKU).Str("order_id", v.OrderID)
		case PurchaseCancelled:
			ev = log.Info().Str("item_id", v.ItemID).Str("sku", v.SKU)
		case Refund:
			ev = log.Info().Str("item_id", v.ItemID).Str("sku", v.SKU).Str("order_id", v.OrderID)
		case ItemPurchased:
			ev = log.Info().Str("item_id", v.ItemID)
		default:
			ev = log.Debug()
		}
		ev.Str("event", e.EventName()).Msg("Store event")
	}
}
