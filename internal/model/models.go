// Package model defines the virtual items sold and tracked by the store.
package model

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ItemKind tags the variant of a virtual item.
type ItemKind string

// Item kinds. The set is closed: give/take/canBuy policies are dispatched on it.
const (
	KindCurrency      ItemKind = "currency"       // Virtual currency (coins, gems)
	KindCurrencyPack  ItemKind = "currency_pack"  // Bundle that credits a currency
	KindSingleUse     ItemKind = "single_use"     // Consumed on use, unbounded balance
	KindLifetime      ItemKind = "lifetime"       // Bought once, kept forever
	KindEquippable    ItemKind = "equippable"     // Lifetime good that can be equipped
	KindUpgrade       ItemKind = "upgrade"        // Upgrade level of another good
	KindNonConsumable ItemKind = "non_consumable" // Market item that is never consumed
)

// Valid reports whether k is one of the known kinds.
func (k ItemKind) Valid() bool {
	switch k {
	case KindCurrency, KindCurrencyPack, KindSingleUse, KindLifetime,
		KindEquippable, KindUpgrade, KindNonConsumable:
		return true
	}
	return false
}

// IsGood reports whether items of this kind are virtual goods.
func (k ItemKind) IsGood() bool {
	switch k {
	case KindSingleUse, KindLifetime, KindEquippable, KindUpgrade:
		return true
	}
	return false
}

// IsSingleUnit reports whether the balance of this kind is limited to 0 or 1.
func (k ItemKind) IsSingleUnit() bool {
	switch k {
	case KindLifetime, KindEquippable, KindUpgrade, KindNonConsumable:
		return true
	}
	return false
}

// PurchaseKind tells how an item is paid for.
type PurchaseKind string

const (
	PurchaseWithMarket      PurchaseKind = "market"       // Real money through the billing provider
	PurchaseWithVirtualItem PurchaseKind = "virtual_item" // Paid with another virtual item
)

// EquippingModel controls which other goods are unequipped when a good is equipped.
type EquippingModel string

const (
	EquipLocal    EquippingModel = "local"    // Only this good changes
	EquipCategory EquippingModel = "category" // Other goods of the same category are unequipped
	EquipGlobal   EquippingModel = "global"   // Every other equippable is unequipped
)

// MarketItem is the external market's product referenced by a purchasable item.
type MarketItem struct {
	ProductID string          `json:"product_id"`
	Price     decimal.Decimal `json:"price"`

	// Overrides reported by the market through item-details queries.
	MarketPrice       string `json:"market_price,omitempty"`
	MarketTitle       string `json:"market_title,omitempty"`
	MarketDescription string `json:"market_description,omitempty"`
}

// PurchaseType describes the price of a purchasable item.
type PurchaseType struct {
	Kind   PurchaseKind `json:"kind"`
	Market *MarketItem  `json:"market,omitempty"`
	ItemID string       `json:"item_id,omitempty"` // Price item for PurchaseWithVirtualItem
	Amount int          `json:"amount,omitempty"`  // Price amount for PurchaseWithVirtualItem
}

// VirtualItem is a catalog entry. Variant-specific fields are only meaningful for their kind.
type VirtualItem struct {
	ItemID      string        `json:"item_id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Kind        ItemKind      `json:"kind"`
	Purchase    *PurchaseType `json:"purchase,omitempty"`

	// Currency packs
	CurrencyItemID string `json:"currency_item_id,omitempty"`
	CurrencyAmount int    `json:"currency_amount,omitempty"`

	// Equippable goods
	Equipping EquippingModel `json:"equipping,omitempty"`

	// Upgrades
	GoodItemID string `json:"good_item_id,omitempty"`
	PrevItemID string `json:"prev_item_id,omitempty"`
	NextItemID string `json:"next_item_id,omitempty"`
}

// Validation errors.
var (
	ErrInvalidItem = errors.New("invalid virtual item")
)

// IsPurchasable reports whether the item carries a purchase type.
func (v *VirtualItem) IsPurchasable() bool {
	return v.Purchase != nil
}

// MarketProductID returns the market SKU of the item, or "" when it is not sold on the market.
func (v *VirtualItem) MarketProductID() string {
	if v.Purchase == nil || v.Purchase.Kind != PurchaseWithMarket || v.Purchase.Market == nil {
		return ""
	}
	return v.Purchase.Market.ProductID
}

// Validate checks the fields required by the item's kind.
func (v *VirtualItem) Validate() error {
	if v.ItemID == "" {
		return fmt.Errorf("%w: empty item id", ErrInvalidItem)
	}
	if !v.Kind.Valid() {
		return fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidItem, v.ItemID, v.Kind)
	}

	switch v.Kind {
	case KindCurrency:
		if v.Purchase != nil {
			return fmt.Errorf("%w: currency %s cannot be purchased directly", ErrInvalidItem, v.ItemID)
		}
		return nil
	case KindCurrencyPack:
		if v.CurrencyItemID == "" || v.CurrencyAmount <= 0 {
			return fmt.Errorf("%w: pack %s needs a currency and a positive amount", ErrInvalidItem, v.ItemID)
		}
	case KindEquippable:
		switch v.Equipping {
		case EquipLocal, EquipCategory, EquipGlobal:
		default:
			return fmt.Errorf("%w: %s has unknown equipping model %q", ErrInvalidItem, v.ItemID, v.Equipping)
		}
	case KindUpgrade:
		if v.GoodItemID == "" {
			return fmt.Errorf("%w: upgrade %s has no good", ErrInvalidItem, v.ItemID)
		}
	case KindNonConsumable:
		if v.MarketProductID() == "" {
			return fmt.Errorf("%w: non-consumable %s must be sold on the market", ErrInvalidItem, v.ItemID)
		}
	}

	return v.validatePurchase()
}

func (v *VirtualItem) validatePurchase() error {
	p := v.Purchase
	if p == nil {
		return fmt.Errorf("%w: %s has no purchase type", ErrInvalidItem, v.ItemID)
	}
	switch p.Kind {
	case PurchaseWithMarket:
		if p.Market == nil || p.Market.ProductID == "" {
			return fmt.Errorf("%w: %s has no market product id", ErrInvalidItem, v.ItemID)
		}
		if p.Market.Price.IsNegative() {
			return fmt.Errorf("%w: %s has negative market price %s", ErrInvalidItem, v.ItemID, p.Market.Price)
		}
	case PurchaseWithVirtualItem:
		if p.ItemID == "" || p.Amount <= 0 {
			return fmt.Errorf("%w: %s needs a price item and a positive amount", ErrInvalidItem, v.ItemID)
		}
	default:
		return fmt.Errorf("%w: %s has unknown purchase kind %q", ErrInvalidItem, v.ItemID, p.Kind)
	}
	return nil
}

// Clone returns a deep copy of the item.
func (v *VirtualItem) Clone() *VirtualItem {
	c := *v
	if v.Purchase != nil {
		p := *v.Purchase
		if p.Market != nil {
			m := *p.Market
			p.Market = &m
		}
		c.Purchase = &p
	}
	return &c
}

// Category groups goods for category-exclusive equipping.
type Category struct {
	Name        string   `json:"name"`
	GoodItemIDs []string `json:"goods_item_ids"`
}
