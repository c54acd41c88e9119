package catalog

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"virtual-store/internal/model"
	"virtual-store/internal/pkg/obscured"
	"virtual-store/internal/pkg/prefs"
)

func market(sku, price string) *model.PurchaseType {
	return &model.PurchaseType{
		Kind:   model.PurchaseWithMarket,
		Market: &model.MarketItem{ProductID: sku, Price: decimal.RequireFromString(price)},
	}
}

func virtualPrice(itemID string, amount int) *model.PurchaseType {
	return &model.PurchaseType{Kind: model.PurchaseWithVirtualItem, ItemID: itemID, Amount: amount}
}

func testAssets(version int) *Assets {
	return &Assets{
		Version: version,
		Currencies: []*model.VirtualItem{
			{ItemID: "coin", Name: "Coin", Kind: model.KindCurrency},
		},
		CurrencyPacks: []*model.VirtualItem{
			{ItemID: "coin_pack_10", Name: "10 coins", Kind: model.KindCurrencyPack,
				CurrencyItemID: "coin", CurrencyAmount: 10, Purchase: market("com.app.coins10", "0.99")},
		},
		Goods: []*model.VirtualItem{
			{ItemID: "gold_100", Name: "Gold", Kind: model.KindSingleUse, Purchase: market("com.app.gold100", "1.99")},
			{ItemID: "sword", Name: "Sword", Kind: model.KindEquippable, Equipping: model.EquipCategory,
				Purchase: virtualPrice("coin", 50)},
			{ItemID: "axe", Name: "Axe", Kind: model.KindEquippable, Equipping: model.EquipCategory,
				Purchase: virtualPrice("coin", 40)},
			{ItemID: "sword_1", Name: "Sword +1", Kind: model.KindUpgrade, GoodItemID: "sword",
				NextItemID: "sword_2", Purchase: virtualPrice("coin", 10)},
			{ItemID: "sword_2", Name: "Sword +2", Kind: model.KindUpgrade, GoodItemID: "sword",
				PrevItemID: "sword_1", Purchase: virtualPrice("coin", 20)},
		},
		NonConsumables: []*model.VirtualItem{
			{ItemID: "no_ads", Name: "No Ads", Kind: model.KindNonConsumable, Purchase: market("com.app.noads", "2.99")},
		},
		Categories: []model.Category{
			{Name: "weapons", GoodItemIDs: []string{"sword", "axe"}},
		},
	}
}

func newTestCatalog(t *testing.T) (*Catalog, *obscured.Preferences) {
	t.Helper()
	c, err := obscured.NewCipher("secret", "pkg", "device", 16)
	require.NoError(t, err)
	p := obscured.New(prefs.NewMemory(), c)
	return New(p), p
}

func TestInitialize_SeedsAndPersists(t *testing.T) {
	cat, p := newTestCatalog(t)
	ctx := context.Background()

	assert.Equal(t, -1, cat.Version())
	require.NoError(t, cat.Initialize(ctx, testAssets(1)))
	assert.Equal(t, 1, cat.Version())

	v, err := p.GetInt(ctx, KeyVersion, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	raw, err := p.GetString(ctx, KeyCatalog, "")
	require.NoError(t, err)
	var stored Assets
	require.NoError(t, json.Unmarshal([]byte(raw), &stored))
	assert.Len(t, stored.Goods, 5)
}

func TestLookups(t *testing.T) {
	cat, _ := newTestCatalog(t)
	require.NoError(t, cat.Initialize(context.Background(), testAssets(1)))

	it, err := cat.Item("gold_100")
	require.NoError(t, err)
	assert.Equal(t, model.KindSingleUse, it.Kind)

	it, err = cat.PurchasableBySKU("com.app.gold100")
	require.NoError(t, err)
	assert.Equal(t, "gold_100", it.ItemID)
	assert.True(t, decimal.RequireFromString("1.99").Equal(it.Purchase.Market.Price))

	_, err = cat.Item("missing")
	assert.ErrorIs(t, err, ErrItemNotFound)
	_, err = cat.PurchasableBySKU("com.app.missing")
	assert.ErrorIs(t, err, ErrItemNotFound)

	assert.Len(t, cat.Currencies(), 1)
	assert.Len(t, cat.CurrencyPacks(), 1)
	assert.Len(t, cat.Goods(), 5)
	assert.Len(t, cat.NonConsumables(), 1)
	assert.Len(t, cat.Items(), 8)
	assert.Equal(t, []string{"com.app.coins10", "com.app.gold100", "com.app.noads"}, cat.ProductIDs())

	category, ok := cat.CategoryOf("axe")
	require.True(t, ok)
	assert.Equal(t, "weapons", category.Name)
	_, ok = cat.CategoryOf("gold_100")
	assert.False(t, ok)

	ups := cat.UpgradesOf("sword")
	require.Len(t, ups, 2)
	assert.Equal(t, "sword_1", ups[0].ItemID)
	assert.Equal(t, "sword_2", ups[1].ItemID)
	assert.Empty(t, cat.UpgradesOf("axe"))
}

func TestLookupsReturnCopies(t *testing.T) {
	cat, _ := newTestCatalog(t)
	require.NoError(t, cat.Initialize(context.Background(), testAssets(1)))

	it, err := cat.PurchasableBySKU("com.app.gold100")
	require.NoError(t, err)
	it.Name = "changed"
	it.Purchase.Market.ProductID = "changed"

	again, err := cat.Item("gold_100")
	require.NoError(t, err)
	assert.Equal(t, "Gold", again.Name)
	assert.Equal(t, "com.app.gold100", again.MarketProductID())
}

func TestInitialize_SameVersionKeepsOverrides(t *testing.T) {
	cat, p := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.Initialize(ctx, testAssets(1)))

	_, err := cat.UpdateMarketDetails(ctx, "com.app.gold100", "$1.99", "Gold (market)", "A pile of gold")
	require.NoError(t, err)

	restarted := New(p)
	require.NoError(t, restarted.Initialize(ctx, testAssets(1)))

	it, err := restarted.Item("gold_100")
	require.NoError(t, err)
	assert.Equal(t, "Gold (market)", it.Purchase.Market.MarketTitle)
	assert.Equal(t, "$1.99", it.Purchase.Market.MarketPrice)
}

func TestInitialize_NewVersionReseeds(t *testing.T) {
	cat, p := newTestCatalog(t)
	ctx := context.Background()
	require.NoError(t, cat.Initialize(ctx, testAssets(1)))
	_, err := cat.UpdateMarketDetails(ctx, "com.app.gold100", "$1.99", "Gold (market)", "")
	require.NoError(t, err)

	v2 := testAssets(2)
	v2.Goods = append(v2.Goods, &model.VirtualItem{
		ItemID: "potion", Name: "Potion", Kind: model.KindSingleUse, Purchase: virtualPrice("coin", 5),
	})

	restarted := New(p)
	require.NoError(t, restarted.Initialize(ctx, v2))
	assert.Equal(t, 2, restarted.Version())

	_, err = restarted.Item("potion")
	assert.NoError(t, err)
	it, err := restarted.Item("gold_100")
	require.NoError(t, err)
	assert.Empty(t, it.Purchase.Market.MarketTitle)

	stored, err := p.GetInt(ctx, KeyVersion, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, stored)
}

func TestInitialize_NilAssets(t *testing.T) {
	cat, p := newTestCatalog(t)
	ctx := context.Background()

	assert.ErrorIs(t, cat.Initialize(ctx, nil), ErrNoAssets)

	require.NoError(t, cat.Initialize(ctx, testAssets(3)))
	restarted := New(p)
	require.NoError(t, restarted.Initialize(ctx, nil))
	assert.Equal(t, 3, restarted.Version())
	assert.Len(t, restarted.Items(), 8)
}

func TestInitialize_RejectsInvalidAssets(t *testing.T) {
	cat, _ := newTestCatalog(t)
	a := testAssets(1)
	a.Goods[0].Kind = model.KindCurrency

	assert.ErrorIs(t, cat.Initialize(context.Background(), a), ErrInvalidAssets)
	assert.Equal(t, -1, cat.Version())
}

func TestUpdateMarketDetails(t *testing.T) {
	cat, _ := newTestCatalog(t)
	ctx := context.Background()

	_, err := cat.UpdateMarketDetails(ctx, "com.app.gold100", "", "", "")
	assert.ErrorIs(t, err, ErrNotInitialized)

	require.NoError(t, cat.Initialize(ctx, testAssets(1)))
	_, err = cat.UpdateMarketDetails(ctx, "com.app.unknown", "", "", "")
	assert.ErrorIs(t, err, ErrItemNotFound)

	it, err := cat.UpdateMarketDetails(ctx, "com.app.noads", "€2.99", "No Ads", "Removes ads")
	require.NoError(t, err)
	assert.Equal(t, "no_ads", it.ItemID)
	assert.Equal(t, "Removes ads", it.Purchase.Market.MarketDescription)
}

func TestAssetsValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(a *Assets)
	}{
		{"duplicate id", func(a *Assets) {
			a.Goods = append(a.Goods, &model.VirtualItem{ItemID: "coin", Kind: model.KindSingleUse, Purchase: virtualPrice("coin", 1)})
		}},
		{"duplicate sku", func(a *Assets) {
			a.Goods[1].Purchase = market("com.app.gold100", "1")
		}},
		{"good in currencies", func(a *Assets) {
			a.Currencies = append(a.Currencies, a.Goods[0])
			a.Goods = a.Goods[1:]
		}},
		{"pack of unknown currency", func(a *Assets) { a.CurrencyPacks[0].CurrencyItemID = "gem" }},
		{"priced in unknown item", func(a *Assets) { a.Goods[1].Purchase.ItemID = "gem" }},
		{"upgrade of unknown good", func(a *Assets) { a.Goods[3].GoodItemID = "bow" }},
		{"upgrade linked to other good", func(a *Assets) { a.Goods[3].NextItemID = "axe" }},
		{"category with unknown good", func(a *Assets) { a.Categories[0].GoodItemIDs = append(a.Categories[0].GoodItemIDs, "bow") }},
		{"good in two categories", func(a *Assets) {
			a.Categories = append(a.Categories, model.Category{Name: "other", GoodItemIDs: []string{"axe"}})
		}},
		{"nil item", func(a *Assets) { a.Goods = append(a.Goods, nil) }},
	}

	assert.NoError(t, testAssets(1).Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := testAssets(1)
			tt.mutate(a)
			assert.ErrorIs(t, a.Validate(), ErrInvalidAssets)
		})
	}
}

func TestLoadAssetsFile(t *testing.T) {
	data, err := json.Marshal(testAssets(7))
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "assets.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	a, err := LoadAssetsFile(path)
	require.NoError(t, err)
	assert.Equal(t, 7, a.Version)
	assert.Equal(t, "com.app.gold100", a.Goods[0].MarketProductID())

	_, err = LoadAssetsFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}
