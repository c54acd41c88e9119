// Package catalog holds the virtual items offered by the store, resolves them
// by id or market SKU and persists them together with a version marker.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"virtual-store/internal/model"
	"virtual-store/internal/pkg/obscured"
)

// Persisted keys.
const (
	KeyVersion = "catalog.version"
	KeyCatalog = "catalog.json"
)

var (
	ErrItemNotFound   = errors.New("item not found")
	ErrNoAssets       = errors.New("no assets supplied and none persisted")
	ErrNotInitialized = errors.New("catalog not initialized")
)

// Catalog is the in-memory item registry. Lookups return copies.
type Catalog struct {
	prefs *obscured.Preferences

	mu         sync.RWMutex
	assets     *Assets
	items      map[string]*model.VirtualItem
	bySKU      map[string]*model.VirtualItem
	categoryOf map[string]string
	upgrades   map[string][]*model.VirtualItem
}

// New creates an empty catalog persisting through p.
func New(p *obscured.Preferences) *Catalog {
	return &Catalog{prefs: p}
}

// Initialize loads the catalog. When the persisted version is missing or
// differs from assets.Version the catalog is reseeded from assets; otherwise
// the persisted catalog, including market overrides, is kept. A nil assets
// loads whatever was persisted.
func (c *Catalog) Initialize(ctx context.Context, assets *Assets) error {
	if assets != nil {
		if err := assets.Validate(); err != nil {
			return err
		}
	}

	persisted, err := c.loadPersisted(ctx)
	if err != nil {
		return err
	}

	switch {
	case assets == nil && persisted == nil:
		return ErrNoAssets
	case assets == nil:
		log.Info().Int("version", persisted.Version).Msg("Catalog loaded from storage")
		c.install(persisted)
		return nil
	case persisted != nil && persisted.Version == assets.Version:
		log.Info().Int("version", persisted.Version).Msg("Catalog version unchanged, keeping stored catalog")
		c.install(persisted)
		return nil
	}

	seeded := assets.clone()
	if err := c.persist(ctx, seeded); err != nil {
		return err
	}
	prev := -1
	if persisted != nil {
		prev = persisted.Version
	}
	log.Info().Int("version", seeded.Version).Int("previous", prev).Msg("Catalog reseeded from assets")
	c.install(seeded)
	return nil
}

// loadPersisted returns nil when no complete catalog is stored.
func (c *Catalog) loadPersisted(ctx context.Context) (*Assets, error) {
	hasVersion, err := c.prefs.Contains(ctx, KeyVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog version: %w", err)
	}
	if !hasVersion {
		return nil, nil
	}
	version, err := c.prefs.GetInt(ctx, KeyVersion, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog version: %w", err)
	}
	raw, err := c.prefs.GetString(ctx, KeyCatalog, "")
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	if raw == "" {
		return nil, nil
	}

	var a Assets
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return nil, fmt.Errorf("failed to decode stored catalog: %w: %v", obscured.ErrCorrupted, err)
	}
	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("stored catalog: %w", err)
	}
	a.Version = version
	return &a, nil
}

func (c *Catalog) persist(ctx context.Context, a *Assets) error {
	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	err = c.prefs.Edit().
		PutInt(KeyVersion, a.Version).
		PutString(KeyCatalog, string(data)).
		Commit(ctx)
	if err != nil {
		return fmt.Errorf("failed to store catalog: %w", err)
	}
	return nil
}

func (c *Catalog) install(a *Assets) {
	items := make(map[string]*model.VirtualItem)
	bySKU := make(map[string]*model.VirtualItem)
	upgrades := make(map[string][]*model.VirtualItem)
	for _, it := range a.Items() {
		items[it.ItemID] = it
		if sku := it.MarketProductID(); sku != "" {
			bySKU[sku] = it
		}
		if it.Kind == model.KindUpgrade {
			upgrades[it.GoodItemID] = append(upgrades[it.GoodItemID], it)
		}
	}
	categoryOf := make(map[string]string)
	for _, cat := range a.Categories {
		for _, id := range cat.GoodItemIDs {
			categoryOf[id] = cat.Name
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.assets = a
	c.items = items
	c.bySKU = bySKU
	c.categoryOf = categoryOf
	c.upgrades = upgrades
}

// Version returns the version of the installed catalog, or -1 before Initialize.
func (c *Catalog) Version() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.assets == nil {
		return -1
	}
	return c.assets.Version
}

// Item returns the item with the given id.
func (c *Catalog) Item(itemID string) (*model.VirtualItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.items[itemID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrItemNotFound, itemID)
	}
	return it.Clone(), nil
}

// PurchasableBySKU returns the item sold under a market SKU.
func (c *Catalog) PurchasableBySKU(sku string) (*model.VirtualItem, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	it, ok := c.bySKU[sku]
	if !ok {
		return nil, fmt.Errorf("%w: sku %s", ErrItemNotFound, sku)
	}
	return it.Clone(), nil
}

// Items returns every item in catalog order.
func (c *Catalog) Items() []*model.VirtualItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.assets == nil {
		return nil
	}
	return cloneList(c.assets.Items())
}

func (c *Catalog) Currencies() []*model.VirtualItem {
	return c.section(func(a *Assets) []*model.VirtualItem { return a.Currencies })
}

func (c *Catalog) CurrencyPacks() []*model.VirtualItem {
	return c.section(func(a *Assets) []*model.VirtualItem { return a.CurrencyPacks })
}

func (c *Catalog) Goods() []*model.VirtualItem {
	return c.section(func(a *Assets) []*model.VirtualItem { return a.Goods })
}

func (c *Catalog) NonConsumables() []*model.VirtualItem {
	return c.section(func(a *Assets) []*model.VirtualItem { return a.NonConsumables })
}

func (c *Catalog) section(pick func(*Assets) []*model.VirtualItem) []*model.VirtualItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.assets == nil {
		return nil
	}
	return cloneList(pick(c.assets))
}

// CategoryOf returns the category holding goodID and false when it has none.
func (c *Catalog) CategoryOf(goodID string) (model.Category, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	name, ok := c.categoryOf[goodID]
	if !ok {
		return model.Category{}, false
	}
	for _, cat := range c.assets.Categories {
		if cat.Name == name {
			return model.Category{Name: cat.Name, GoodItemIDs: append([]string(nil), cat.GoodItemIDs...)}, true
		}
	}
	return model.Category{}, false
}

// UpgradesOf returns the upgrades of goodID in catalog order.
func (c *Catalog) UpgradesOf(goodID string) []*model.VirtualItem {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return cloneList(c.upgrades[goodID])
}

// ProductIDs returns every market SKU in catalog order.
func (c *Catalog) ProductIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.assets == nil {
		return nil
	}
	var ids []string
	for _, it := range c.assets.Items() {
		if sku := it.MarketProductID(); sku != "" {
			ids = append(ids, sku)
		}
	}
	return ids
}

// UpdateMarketDetails records details reported by the market for a SKU and
// persists them. The version marker is left unchanged.
func (c *Catalog) UpdateMarketDetails(ctx context.Context, sku, price, title, description string) (*model.VirtualItem, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.assets == nil {
		return nil, ErrNotInitialized
	}
	it, ok := c.bySKU[sku]
	if !ok {
		return nil, fmt.Errorf("%w: sku %s", ErrItemNotFound, sku)
	}

	m := it.Purchase.Market
	prev := *m
	m.MarketPrice = price
	m.MarketTitle = title
	m.MarketDescription = description

	if err := c.persist(ctx, c.assets); err != nil {
		*m = prev
		return nil, err
	}
	return it.Clone(), nil
}

func cloneList(in []*model.VirtualItem) []*model.VirtualItem {
	out := make([]*model.VirtualItem, len(in))
	for i, it := range in {
		out[i] = it.Clone()
	}
	return out
}
