package catalog

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"virtual-store/internal/model"
)

// ErrInvalidAssets is returned when an asset descriptor fails validation.
var ErrInvalidAssets = errors.New("invalid store assets")

// Assets describes the catalog supplied by the host application.
// Version gates reseeding of the persisted catalog.
type Assets struct {
	Version        int                  `json:"version"`
	Currencies     []*model.VirtualItem `json:"currencies"`
	CurrencyPacks  []*model.VirtualItem `json:"currency_packs"`
	Goods          []*model.VirtualItem `json:"goods"`
	NonConsumables []*model.VirtualItem `json:"non_consumables"`
	Categories     []model.Category     `json:"categories"`
}

// LoadAssetsFile reads and validates a JSON asset descriptor.
func LoadAssetsFile(path string) (*Assets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read assets: %w", err)
	}
	var a Assets
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse assets: %w", err)
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return &a, nil
}

// Items returns every item in section order: currencies, packs, goods, non-consumables.
func (a *Assets) Items() []*model.VirtualItem {
	n := len(a.Currencies) + len(a.CurrencyPacks) + len(a.Goods) + len(a.NonConsumables)
	items := make([]*model.VirtualItem, 0, n)
	items = append(items, a.Currencies...)
	items = append(items, a.CurrencyPacks...)
	items = append(items, a.Goods...)
	items = append(items, a.NonConsumables...)
	return items
}

// Validate checks each item and the references between them.
func (a *Assets) Validate() error {
	sections := []struct {
		name  string
		items []*model.VirtualItem
		allow func(model.ItemKind) bool
	}{
		{"currencies", a.Currencies, func(k model.ItemKind) bool { return k == model.KindCurrency }},
		{"currency_packs", a.CurrencyPacks, func(k model.ItemKind) bool { return k == model.KindCurrencyPack }},
		{"goods", a.Goods, model.ItemKind.IsGood},
		{"non_consumables", a.NonConsumables, func(k model.ItemKind) bool { return k == model.KindNonConsumable }},
	}

	byID := make(map[string]*model.VirtualItem)
	skus := make(map[string]string)
	for _, s := range sections {
		for _, it := range s.items {
			if it == nil {
				return fmt.Errorf("%w: nil item in %s", ErrInvalidAssets, s.name)
			}
			if err := it.Validate(); err != nil {
				return fmt.Errorf("%w: %w", ErrInvalidAssets, err)
			}
			if !s.allow(it.Kind) {
				return fmt.Errorf("%w: %s of kind %s does not belong in %s", ErrInvalidAssets, it.ItemID, it.Kind, s.name)
			}
			if _, dup := byID[it.ItemID]; dup {
				return fmt.Errorf("%w: duplicate item id %s", ErrInvalidAssets, it.ItemID)
			}
			byID[it.ItemID] = it

			if sku := it.MarketProductID(); sku != "" {
				if other, dup := skus[sku]; dup {
					return fmt.Errorf("%w: sku %s used by %s and %s", ErrInvalidAssets, sku, other, it.ItemID)
				}
				skus[sku] = it.ItemID
			}
		}
	}

	for _, it := range byID {
		if err := validateRefs(it, byID); err != nil {
			return err
		}
	}

	inCategory := make(map[string]string)
	for _, cat := range a.Categories {
		if cat.Name == "" {
			return fmt.Errorf("%w: category without name", ErrInvalidAssets)
		}
		for _, id := range cat.GoodItemIDs {
			g, ok := byID[id]
			if !ok || !g.Kind.IsGood() {
				return fmt.Errorf("%w: category %s references unknown good %s", ErrInvalidAssets, cat.Name, id)
			}
			if other, dup := inCategory[id]; dup {
				return fmt.Errorf("%w: good %s is in categories %s and %s", ErrInvalidAssets, id, other, cat.Name)
			}
			inCategory[id] = cat.Name
		}
	}
	return nil
}

func validateRefs(it *model.VirtualItem, byID map[string]*model.VirtualItem) error {
	if p := it.Purchase; p != nil && p.Kind == model.PurchaseWithVirtualItem {
		if _, ok := byID[p.ItemID]; !ok {
			return fmt.Errorf("%w: %s is priced in unknown item %s", ErrInvalidAssets, it.ItemID, p.ItemID)
		}
		if p.ItemID == it.ItemID {
			return fmt.Errorf("%w: %s is priced in itself", ErrInvalidAssets, it.ItemID)
		}
	}

	switch it.Kind {
	case model.KindCurrencyPack:
		c, ok := byID[it.CurrencyItemID]
		if !ok || c.Kind != model.KindCurrency {
			return fmt.Errorf("%w: pack %s references unknown currency %s", ErrInvalidAssets, it.ItemID, it.CurrencyItemID)
		}
	case model.KindUpgrade:
		g, ok := byID[it.GoodItemID]
		if !ok || !g.Kind.IsGood() || g.Kind == model.KindUpgrade {
			return fmt.Errorf("%w: upgrade %s references unknown good %s", ErrInvalidAssets, it.ItemID, it.GoodItemID)
		}
		for _, ref := range []string{it.PrevItemID, it.NextItemID} {
			if ref == "" {
				continue
			}
			u, ok := byID[ref]
			if !ok || u.Kind != model.KindUpgrade || u.GoodItemID != it.GoodItemID {
				return fmt.Errorf("%w: upgrade %s links to %s which is not an upgrade of %s", ErrInvalidAssets, it.ItemID, ref, it.GoodItemID)
			}
		}
	}
	return nil
}

func (a *Assets) clone() *Assets {
	cloneAll := func(in []*model.VirtualItem) []*model.VirtualItem {
		out := make([]*model.VirtualItem, len(in))
		for i, it := range in {
			out[i] = it.Clone()
		}
		return out
	}
	c := &Assets{
		Version:        a.Version,
		Currencies:     cloneAll(a.Currencies),
		CurrencyPacks:  cloneAll(a.CurrencyPacks),
		Goods:          cloneAll(a.Goods),
		NonConsumables: cloneAll(a.NonConsumables),
		Categories:     make([]model.Category, len(a.Categories)),
	}
	for i, cat := range a.Categories {
		c.Categories[i] = model.Category{
			Name:        cat.Name,
			GoodItemIDs: append([]string(nil), cat.GoodItemIDs...),
		}
	}
	return c
}
