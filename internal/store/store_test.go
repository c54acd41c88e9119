package store

import (
	"context"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"virtual-store/internal/billing"
	"virtual-store/internal/billing/sandbox"
	"virtual-store/internal/catalog"
	"virtual-store/internal/events"
	"virtual-store/internal/model"
	"virtual-store/internal/pkg/obscured"
	"virtual-store/internal/pkg/prefs"
	"virtual-store/internal/storage"
)

const (
	testPublicKey = "MIIBIjANBgkq"
	testSecret    = "s3cr3t"

	skuGold  = "com.app.gold100"
	skuNoAds = "com.app.noads"
	skuCoins = "com.app.coins10"
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

func testAssets() *catalog.Assets {
	return &catalog.Assets{
		Version: 1,
		Currencies: []*model.VirtualItem{
			{ItemID: "coin", Name: "Coin", Kind: model.KindCurrency},
		},
		CurrencyPacks: []*model.VirtualItem{
			{ItemID: "coin_pack_10", Name: "10 coins", Kind: model.KindCurrencyPack,
				CurrencyItemID: "coin", CurrencyAmount: 10, Purchase: market(skuCoins, "0.99")},
		},
		Goods: []*model.VirtualItem{
			{ItemID: "gold_100", Name: "Gold", Kind: model.KindSingleUse, Purchase: market(skuGold, "1.99")},
			{ItemID: "vip", Name: "VIP", Kind: model.KindLifetime, Purchase: virtualPrice("coin", 100)},
			{ItemID: "sword", Name: "Sword", Kind: model.KindEquippable, Equipping: model.EquipCategory,
				Purchase: virtualPrice("coin", 50)},
			{ItemID: "axe", Name: "Axe", Kind: model.KindEquippable, Equipping: model.EquipCategory,
				Purchase: virtualPrice("coin", 40)},
			{ItemID: "hat", Name: "Hat", Kind: model.KindEquippable, Equipping: model.EquipLocal,
				Purchase: virtualPrice("coin", 5)},
			{ItemID: "cape", Name: "Cape", Kind: model.KindEquippable, Equipping: model.EquipGlobal,
				Purchase: virtualPrice("coin", 5)},
			{ItemID: "sword_1", Name: "Sword +1", Kind: model.KindUpgrade, GoodItemID: "sword",
				NextItemID: "sword_2", Purchase: virtualPrice("coin", 10)},
			{ItemID: "sword_2", Name: "Sword +2", Kind: model.KindUpgrade, GoodItemID: "sword",
				PrevItemID: "sword_1", Purchase: virtualPrice("coin", 20)},
		},
		NonConsumables: []*model.VirtualItem{
			{ItemID: "no_ads", Name: "No Ads", Kind: model.KindNonConsumable, Purchase: market(skuNoAds, "2.99")},
		},
		Categories: []model.Category{
			{Name: "weapons", GoodItemIDs: []string{"sword", "axe"}},
		},
	}
}

// recorder collects every event posted on a bus.
type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) handle(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

// names returns the names of the recorded events, skipping billing
// connection and balance events.
func (r *recorder) names() []string {
	var out []string
	for _, e := range r.all() {
		switch e.(type) {
		case events.BillingSupported, events.BillingServiceStarted, events.BalanceChanged:
			continue
		}
		out = append(out, e.EventName())
	}
	return out
}

func (r *recorder) unexpected() []events.UnexpectedError {
	var out []events.UnexpectedError
	for _, e := range r.all() {
		if u, ok := e.(events.UnexpectedError); ok {
			out = append(out, u)
		}
	}
	return out
}

type harness struct {
	ctrl   *Controller
	client *sandbox.Client
	rec    *recorder
	prefs  *obscured.Preferences
	memory *prefs.Memory
}

func newHarness(t require.TestingT, opts Options) *harness {
	return newHarnessWith(t, prefs.NewMemory(), sandbox.New(), opts)
}

func newHarnessWith(t require.TestingT, mem *prefs.Memory, client billing.Client, opts Options) *harness {
	c, err := obscured.NewCipher("secret", "com.app", "device", 16)
	require.NoError(t, err)
	p := obscured.New(mem, c)

	bus := events.NewBus()
	rec := &recorder{}
	bus.Register(rec.handle)

	h := &harness{rec: rec, prefs: p, memory: mem}
	if sb, ok := client.(*sandbox.Client); ok {
		h.client = sb
	}
	h.ctrl = New(Dependencies{
		Prefs:   p,
		Catalog: catalog.New(p),
		Ledger:  storage.NewLedger(p, bus),
		Billing: billing.NewService(client),
		Bus:     bus,
	}, opts)
	return h
}

// initialized returns a harness whose controller is initialized with the
// test catalog and no recorded events.
func initialized(t require.TestingT, opts Options) *harness {
	h := newHarness(t, opts)
	require.NoError(t, h.ctrl.Initialize(context.Background(), testAssets(), testPublicKey, testSecret))
	h.rec.reset()
	return h
}

func (h *harness) marketOf(t require.TestingT, itemID string) *model.MarketItem {
	it, err := h.ctrl.Catalog().Item(itemID)
	require.NoError(t, err)
	require.NotNil(t, it.Purchase)
	return it.Purchase.Market
}

func (h *harness) balance(t require.TestingT, itemID string) int {
	b, err := h.ctrl.Inventory().Balance(context.Background(), itemID)
	require.NoError(t, err)
	return b
}
