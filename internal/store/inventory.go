package store

import (
	"context"
	"fmt"
	"math"

	"github.com/rs/zerolog/log"

	"virtual-store/internal/catalog"
	"virtual-store/internal/events"
	"virtual-store/internal/model"
	"virtual-store/internal/storage"
)

// marketBuyer starts market purchase flows.
type marketBuyer interface {
	BuyWithMarket(ctx context.Context, market *model.MarketItem, payload string) error
}

// Inventory applies the per-kind give/take/canBuy policies on top of the ledger.
type Inventory struct {
	catalog *catalog.Catalog
	ledger  *storage.Ledger
	bus     events.Poster
	market  marketBuyer
}

// policy is the behaviour of one item kind. give and take return the
// balance they changed.
type policy struct {
	give   func(ctx context.Context, inv *Inventory, it *model.VirtualItem, amount int, notify bool) (int, error)
	take   func(ctx context.Context, inv *Inventory, it *model.VirtualItem, amount int, notify bool) (int, error)
	canBuy func(ctx context.Context, inv *Inventory, it *model.VirtualItem) (bool, error)
}

var policies = map[model.ItemKind]policy{
	model.KindCurrency:      {give: giveUnbounded, take: takeUnbounded, canBuy: alwaysBuyable},
	model.KindSingleUse:     {give: giveUnbounded, take: takeUnbounded, canBuy: alwaysBuyable},
	model.KindCurrencyPack:  {give: givePack, take: takePack, canBuy: alwaysBuyable},
	model.KindLifetime:      {give: giveSingle, take: takeSingle, canBuy: buyableWhenNotOwned},
	model.KindNonConsumable: {give: giveSingle, take: takeSingle, canBuy: buyableWhenNotOwned},
	model.KindEquippable:    {give: giveSingle, take: takeEquippable, canBuy: buyableWhenNotOwned},
	model.KindUpgrade:       {give: giveUpgrade, take: takeUpgrade, canBuy: upgradeBuyable},
}

func policyOf(it *model.VirtualItem) (policy, error) {
	p, ok := policies[it.Kind]
	if !ok {
		return policy{}, fmt.Errorf("%w: %s has unknown kind %q", model.ErrInvalidItem, it.ItemID, it.Kind)
	}
	return p, nil
}

func giveUnbounded(ctx context.Context, inv *Inventory, it *model.VirtualItem, amount int, notify bool) (int, error) {
	return inv.ledger.Add(ctx, it.ItemID, amount, notify)
}

func takeUnbounded(ctx context.Context, inv *Inventory, it *model.VirtualItem, amount int, notify bool) (int, error) {
	return inv.ledger.Remove(ctx, it.ItemID, amount, notify)
}

func givePack(ctx context.Context, inv *Inventory, it *model.VirtualItem, amount int, notify bool) (int, error) {
	total, err := packTotal(it, amount)
	if err != nil {
		return 0, err
	}
	return inv.ledger.Add(ctx, it.CurrencyItemID, total, notify)
}

func takePack(ctx context.Context, inv *Inventory, it *model.VirtualItem, amount int, notify bool) (int, error) {
	total, err := packTotal(it, amount)
	if err != nil {
		return 0, err
	}
	return inv.ledger.Remove(ctx, it.CurrencyItemID, total, notify)
}

// packTotal is the currency held by amount packs.
func packTotal(it *model.VirtualItem, amount int) (int, error) {
	if it.CurrencyAmount > 0 && amount > math.MaxInt/it.CurrencyAmount {
		return 0, fmt.Errorf("%w: %d packs of %d %s", ErrBalanceOverflow, amount, it.CurrencyAmount, it.CurrencyItemID)
	}
	return it.CurrencyAmount * amount, nil
}

// giveSingle sets the balance to 1; giving an owned item is a no-op.
func giveSingle(ctx context.Context, inv *Inventory, it *model.VirtualItem, amount int, notify bool) (int, error) {
	return inv.ledger.Update(ctx, it.ItemID, func(cur int) int {
		if amount > 0 {
			return 1
		}
		return cur
	}, notify)
}

// takeSingle sets the balance to 0.
func takeSingle(ctx context.Context, inv *Inventory, it *model.VirtualItem, amount int, notify bool) (int, error) {
	return inv.ledger.Update(ctx, it.ItemID, func(cur int) int {
		if amount > 0 {
			return 0
		}
		return cur
	}, notify)
}

func takeEquippable(ctx context.Context, inv *Inventory, it *model.VirtualItem, amount int, notify bool) (int, error) {
	balance, err := takeSingle(ctx, inv, it, amount, notify)
	if err != nil {
		return balance, err
	}
	if balance == 0 {
		if err := inv.ledger.Unequip(ctx, it.ItemID, notify); err != nil {
			return balance, err
		}
	}
	return balance, nil
}

// giveUpgrade makes it the current upgrade of its good, which must be owned.
func giveUpgrade(ctx context.Context, inv *Inventory, it *model.VirtualItem, amount int, notify bool) (int, error) {
	if amount <= 0 {
		return inv.ledger.Balance(ctx, it.ItemID)
	}
	owned, err := inv.ledger.Balance(ctx, it.GoodItemID)
	if err != nil {
		return 0, err
	}
	if owned <= 0 {
		return 0, fmt.Errorf("%w: %s is an upgrade of %s", ErrNotOwned, it.ItemID, it.GoodItemID)
	}
	if err := inv.ledger.SetUpgrade(ctx, it.GoodItemID, it.ItemID, notify); err != nil {
		return 0, err
	}
	return inv.ledger.SetBalance(ctx, it.ItemID, 1, notify)
}

// takeUpgrade reverts the good to the previous upgrade, or to none.
func takeUpgrade(ctx context.Context, inv *Inventory, it *model.VirtualItem, amount int, notify bool) (int, error) {
	if amount <= 0 {
		return inv.ledger.Balance(ctx, it.ItemID)
	}
	cur, err := inv.ledger.CurrentUpgrade(ctx, it.GoodItemID)
	if err != nil {
		return 0, err
	}
	if cur != it.ItemID {
		log.Debug().Str("item_id", it.ItemID).Str("current", cur).Msg("Upgrade is not current, nothing to take")
		return inv.ledger.Balance(ctx, it.ItemID)
	}
	if it.PrevItemID == "" {
		err = inv.ledger.RemoveUpgrades(ctx, it.GoodItemID, notify)
	} else {
		err = inv.ledger.SetUpgrade(ctx, it.GoodItemID, it.PrevItemID, notify)
	}
	if err != nil {
		return 0, err
	}
	return inv.ledger.SetBalance(ctx, it.ItemID, 0, notify)
}

func alwaysBuyable(context.Context, *Inventory, *model.VirtualItem) (bool, error) {
	return true, nil
}

func buyableWhenNotOwned(ctx context.Context, inv *Inventory, it *model.VirtualItem) (bool, error) {
	b, err := inv.ledger.Balance(ctx, it.ItemID)
	if err != nil {
		return false, err
	}
	return b < 1, nil
}

// upgradeBuyable requires the good to be owned and currently at the
// upgrade preceding it.
func upgradeBuyable(ctx context.Context, inv *Inventory, it *model.VirtualItem) (bool, error) {
	owned, err := inv.ledger.Balance(ctx, it.GoodItemID)
	if err != nil {
		return false, err
	}
	if owned <= 0 {
		return false, nil
	}
	cur, err := inv.ledger.CurrentUpgrade(ctx, it.GoodItemID)
	if err != nil {
		return false, err
	}
	return cur == it.PrevItemID, nil
}

func (inv *Inventory) give(ctx context.Context, it *model.VirtualItem, amount int, notify bool) (int, error) {
	p, err := policyOf(it)
	if err != nil {
		return 0, err
	}
	return p.give(ctx, inv, it, amount, notify)
}

func (inv *Inventory) take(ctx context.Context, it *model.VirtualItem, amount int, notify bool) (int, error) {
	p, err := policyOf(it)
	if err != nil {
		return 0, err
	}
	return p.take(ctx, inv, it, amount, notify)
}

// Balance returns the balance of itemID.
func (inv *Inventory) Balance(ctx context.Context, itemID string) (int, error) {
	if _, err := inv.catalog.Item(itemID); err != nil {
		return 0, err
	}
	return inv.ledger.Balance(ctx, itemID)
}

// Give credits amount of itemID according to its kind. Negative amounts fail
// with ErrInvalidAmount.
func (inv *Inventory) Give(ctx context.Context, itemID string, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: give %d of %s", ErrInvalidAmount, amount, itemID)
	}
	it, err := inv.catalog.Item(itemID)
	if err != nil {
		return 0, err
	}
	return inv.give(ctx, it, amount, true)
}

// Take debits amount of itemID according to its kind. Negative amounts fail
// with ErrInvalidAmount.
func (inv *Inventory) Take(ctx context.Context, itemID string, amount int) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: take %d of %s", ErrInvalidAmount, amount, itemID)
	}
	it, err := inv.catalog.Item(itemID)
	if err != nil {
		return 0, err
	}
	return inv.take(ctx, it, amount, true)
}

// CanBuy reports whether itemID may be bought now.
func (inv *Inventory) CanBuy(ctx context.Context, itemID string) (bool, error) {
	it, err := inv.catalog.Item(itemID)
	if err != nil {
		return false, err
	}
	if !it.IsPurchasable() {
		return false, nil
	}
	p, err := policyOf(it)
	if err != nil {
		return false, err
	}
	return p.canBuy(ctx, inv, it)
}

// Buy purchases itemID. Market items go through the market purchase flow;
// items priced in another item debit the price and credit the item.
func (inv *Inventory) Buy(ctx context.Context, itemID, payload string) error {
	it, err := inv.catalog.Item(itemID)
	if err != nil {
		return err
	}
	ok, err := inv.CanBuy(ctx, itemID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrCannotBuy, itemID)
	}

	switch it.Purchase.Kind {
	case model.PurchaseWithMarket:
		return inv.market.BuyWithMarket(ctx, it.Purchase.Market, payload)
	case model.PurchaseWithVirtualItem:
		return inv.buyWithItem(ctx, it, payload)
	}
	return fmt.Errorf("%w: %s has purchase kind %q", ErrCannotBuy, itemID, it.Purchase.Kind)
}

func (inv *Inventory) buyWithItem(ctx context.Context, it *model.VirtualItem, payload string) error {
	price := it.Purchase
	short := false
	_, err := inv.ledger.Update(ctx, price.ItemID, func(cur int) int {
		if cur < price.Amount {
			short = true
			return cur
		}
		return cur - price.Amount
	}, true)
	if err != nil {
		return err
	}
	if short {
		return fmt.Errorf("%w: %s costs %d %s", ErrInsufficientFunds, it.ItemID, price.Amount, price.ItemID)
	}

	if _, err := inv.give(ctx, it, 1, true); err != nil {
		if _, rerr := inv.ledger.Add(ctx, price.ItemID, price.Amount, true); rerr != nil {
			log.Error().Err(rerr).Str("item_id", price.ItemID).Msg("Failed to return price after failed purchase")
		}
		return err
	}

	log.Info().Str("item_id", it.ItemID).Str("price_item", price.ItemID).Int("amount", price.Amount).Msg("Item bought")
	inv.bus.Post(events.ItemPurchased{ItemID: it.ItemID, Payload: payload})
	return nil
}

// Equip equips an owned equippable, unequipping others according to its
// equipping model.
func (inv *Inventory) Equip(ctx context.Context, itemID string) error {
	it, err := inv.equippable(itemID)
	if err != nil {
		return err
	}
	b, err := inv.ledger.Balance(ctx, itemID)
	if err != nil {
		return err
	}
	if b <= 0 {
		return fmt.Errorf("%w: %s", ErrNotOwned, itemID)
	}

	var others []string
	switch it.Equipping {
	case model.EquipCategory:
		if cat, ok := inv.catalog.CategoryOf(itemID); ok {
			others = cat.GoodItemIDs
		}
	case model.EquipGlobal:
		for _, g := range inv.catalog.Goods() {
			others = append(others, g.ItemID)
		}
	}
	for _, id := range others {
		if id == itemID {
			continue
		}
		other, err := inv.catalog.Item(id)
		if err != nil || other.Kind != model.KindEquippable {
			continue
		}
		if err := inv.ledger.Unequip(ctx, id, true); err != nil {
			return err
		}
	}
	return inv.ledger.Equip(ctx, itemID, true)
}

// Unequip unequips an equippable.
func (inv *Inventory) Unequip(ctx context.Context, itemID string) error {
	if _, err := inv.equippable(itemID); err != nil {
		return err
	}
	return inv.ledger.Unequip(ctx, itemID, true)
}

// IsEquipped reports whether itemID is equipped.
func (inv *Inventory) IsEquipped(ctx context.Context, itemID string) (bool, error) {
	if _, err := inv.equippable(itemID); err != nil {
		return false, err
	}
	return inv.ledger.IsEquipped(ctx, itemID)
}

// CurrentUpgrade returns the upgrade applied to goodID, or "" when none.
func (inv *Inventory) CurrentUpgrade(ctx context.Context, goodID string) (string, error) {
	if _, err := inv.catalog.Item(goodID); err != nil {
		return "", err
	}
	return inv.ledger.CurrentUpgrade(ctx, goodID)
}

func (inv *Inventory) equippable(itemID string) (*model.VirtualItem, error) {
	it, err := inv.catalog.Item(itemID)
	if err != nil {
		return nil, err
	}
	if it.Kind != model.KindEquippable {
		return nil, fmt.Errorf("%w: %s", ErrNotEquippable, itemID)
	}
	return it, nil
}
