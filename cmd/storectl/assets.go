package main

import (
	"github.com/shopspring/decimal"

	"virtual-store/internal/catalog"
	"virtual-store/internal/model"
)

// demoAssets is the catalog used when app.assets_file is not set.
func demoAssets() *catalog.Assets {
	marketPrice := func(sku, price string) *model.PurchaseType {
		return &model.PurchaseType{
			Kind:   model.PurchaseWithMarket,
			Market: &model.MarketItem{ProductID: sku, Price: decimal.RequireFromString(price)},
		}
	}
	coins := func(amount int) *model.PurchaseType {
		return &model.PurchaseType{Kind: model.PurchaseWithVirtualItem, ItemID: "muffin", Amount: amount}
	}

	return &catalog.Assets{
		Version: 1,
		Currencies: []*model.VirtualItem{
			{ItemID: "muffin", Name: "Muffins", Description: "Muffin currency", Kind: model.KindCurrency},
		},
		CurrencyPacks: []*model.VirtualItem{
			{ItemID: "muffins_10", Name: "10 Muffins", Kind: model.KindCurrencyPack,
				CurrencyItemID: "muffin", CurrencyAmount: 10, Purchase: marketPrice("android.test.purchased", "0.99")},
			{ItemID: "muffins_50", Name: "50 Muffins", Kind: model.KindCurrencyPack,
				CurrencyItemID: "muffin", CurrencyAmount: 50, Purchase: marketPrice("muffins_50", "1.99")},
		},
		Goods: []*model.VirtualItem{
			{ItemID: "chocolate_cake", Name: "Chocolate Cake", Kind: model.KindSingleUse, Purchase: coins(225)},
			{ItemID: "pavlova", Name: "Pavlova", Kind: model.KindSingleUse, Purchase: coins(175)},
			{ItemID: "show_room", Name: "Show Room", Kind: model.KindLifetime, Purchase: coins(100)},
			{ItemID: "kitchen_apron", Name: "Apron", Kind: model.KindEquippable, Equipping: model.EquipCategory,
				Purchase: coins(40)},
			{ItemID: "chef_hat", Name: "Chef Hat", Kind: model.KindEquippable, Equipping: model.EquipCategory,
				Purchase: coins(60)},
			{ItemID: "oven_1", Name: "Oven level 1", Kind: model.KindUpgrade, GoodItemID: "show_room",
				NextItemID: "oven_2", Purchase: coins(50)},
			{ItemID: "oven_2", Name: "Oven level 2", Kind: model.KindUpgrade, GoodItemID: "show_room",
				PrevItemID: "oven_1", Purchase: coins(80)},
		},
		NonConsumables: []*model.VirtualItem{
			{ItemID: "no_ads", Name: "No Ads", Kind: model.KindNonConsumable, Purchase: marketPrice("no_ads", "2.99")},
		},
		Categories: []model.Category{
			{Name: "outfits", GoodItemIDs: []string{"kitchen_apron", "chef_hat"}},
		},
	}
}
