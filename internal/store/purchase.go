package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"virtual-store/internal/billing"
	"virtual-store/internal/events"
	"virtual-store/internal/model"
)

// handleFlowResult dispatches the outcome of a purchase flow.
func (c *Controller) handleFlowResult(ctx context.Context, sku string, res billing.Result, p *billing.Purchase) {
	switch res.Code {
	case billing.OK:
		if p == nil {
			c.setState(StatePurchaseFailed)
			c.report(ErrUnexpected, "Billing reported success without a purchase for "+sku)
			return
		}
		c.setState(StatePurchaseSucceeded)
		c.handlePurchase(ctx, *p)
	case billing.UserCanceled:
		c.setState(StatePurchaseCancelled)
		c.handleCancelled(sku)
	case billing.ItemAlreadyOwned:
		c.setState(StatePurchaseFailed)
		log.Debug().Str("sku", sku).Msg("Tried to buy an item that was not consumed, consuming it if consumable")
		owned := billing.Purchase{SKU: sku}
		if p != nil {
			owned = *p
		}
		c.consumeIfConsumable(ctx, owned)
	default:
		c.setState(StatePurchaseFailed)
		msg := res.Message
		if msg == "" {
			msg = res.Code.String()
		}
		log.Error().Str("sku", sku).Str("result", res.String()).Msg("Purchase failed")
		c.bus.Post(events.UnexpectedError{Message: msg})
	}
}

// handlePurchase applies a purchase reported by a flow or an inventory query.
func (c *Controller) handlePurchase(ctx context.Context, p billing.Purchase) {
	item, err := c.catalog.PurchasableBySKU(p.SKU)
	if err != nil {
		c.report(err, "Couldn't find the sku of a product after purchase or query-inventory")
		return
	}

	switch p.State {
	case billing.Purchased:
		log.Info().Str("item_id", item.ItemID).Str("sku", p.SKU).Str("order_id", p.OrderID).Msg("Purchase successful")
		c.bus.Post(events.PurchaseSucceeded{
			ItemID:  item.ItemID,
			SKU:     p.SKU,
			OrderID: p.OrderID,
			Payload: p.DeveloperPayload,
			Token:   p.Token,
		})
		if _, err := c.inventory.give(ctx, item, 1, true); err != nil {
			c.report(err, "Failed to credit "+item.ItemID)
			return
		}
		c.bus.Post(events.ItemPurchased{ItemID: item.ItemID, Payload: p.DeveloperPayload})
		c.consumeItem(ctx, item, p)

	case billing.Canceled, billing.Refunded:
		log.Info().Str("item_id", item.ItemID).Str("sku", p.SKU).Msg("Purchase refunded")
		if !c.opts.FriendlyRefunds {
			if _, err := c.inventory.take(ctx, item, 1, true); err != nil {
				c.report(err, "Failed to debit refunded "+item.ItemID)
			}
		}
		c.bus.Post(events.Refund{
			ItemID:  item.ItemID,
			SKU:     p.SKU,
			OrderID: p.OrderID,
			Payload: p.DeveloperPayload,
		})

	default:
		c.report(ErrUnexpected, fmt.Sprintf("Unknown purchase state %d for %s", p.State, p.SKU))
	}
}

func (c *Controller) handleCancelled(sku string) {
	item, err := c.catalog.PurchasableBySKU(sku)
	if err != nil {
		c.report(err, "Couldn't find the sku of a cancelled purchase")
		return
	}
	log.Info().Str("item_id", item.ItemID).Str("sku", sku).Msg("Purchase cancelled")
	c.bus.Post(events.PurchaseCancelled{ItemID: item.ItemID, SKU: sku})
}

func (c *Controller) consumeIfConsumable(ctx context.Context, p billing.Purchase) {
	item, err := c.catalog.PurchasableBySKU(p.SKU)
	if err != nil {
		c.report(err, "Couldn't find the sku of a purchase to consume")
		return
	}
	c.consumeItem(ctx, item, p)
}

// consumeItem consumes p unless item is non-consumable.
func (c *Controller) consumeItem(ctx context.Context, item *model.VirtualItem, p billing.Purchase) {
	if item.Kind == model.KindNonConsumable {
		return
	}
	if err := c.billing.Consume(ctx, p); err != nil {
		c.report(fmt.Errorf("%w: %w", ErrConsumeFailed, err), "Error while consuming "+p.SKU)
	}
}
