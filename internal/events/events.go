package events

import "encoding/json"

// Event names, also used as the event_type of forwarded envelopes.
const (
	NameStoreInitialized            = "StoreInitialized"
	NameBillingSupported            = "BillingSupported"
	NameBillingNotSupported         = "BillingNotSupported"
	NameBillingServiceStarted       = "BillingServiceStarted"
	NameRestoreTransactionsStarted  = "RestoreTransactionsStarted"
	NameRestoreTransactionsFinished = "RestoreTransactionsFinished"
	NamePurchaseStarted             = "PurchaseStarted"
	NamePurchaseSucceeded           = "PurchaseSucceeded"
	NamePurchaseCancelled           = "PurchaseCancelled"
	NameRefund                      = "Refund"
	NameItemPurchased               = "ItemPurchased"
	NameBalanceChanged              = "BalanceChanged"
	NameGoodEquipped                = "GoodEquipped"
	NameGoodUnequipped              = "GoodUnequipped"
	NameGoodUpgraded                = "GoodUpgraded"
	NameItemDetailsRetrieved        = "ItemDetailsRetrieved"
	NameUnexpectedError             = "UnexpectedError"
)

// StoreInitialized is posted once the catalog is loaded and credentials are stored.
type StoreInitialized struct{}

// BillingSupported is posted when a billing connection was opened.
type BillingSupported struct{}

// BillingNotSupported is posted when the billing connection could not be opened.
type BillingNotSupported struct {
	Reason string `json:"reason,omitempty"`
}

// BillingServiceStarted follows BillingSupported once the service is usable.
type BillingServiceStarted struct{}

// RestoreTransactionsStarted is posted before owned purchases are replayed.
type RestoreTransactionsStarted struct{}

// RestoreTransactionsFinished closes a restore; Success is false when the
// inventory could not be read.
type RestoreTransactionsFinished struct {
	Success bool `json:"success"`
}

// PurchaseStarted is posted before the market purchase flow is launched.
type PurchaseStarted struct {
	ItemID string `json:"item_id"`
	SKU    string `json:"sku"`
}

// PurchaseSucceeded is posted when the market reports a completed purchase,
// before the ledger is credited.
type PurchaseSucceeded struct {
	ItemID  string `json:"item_id"`
	SKU     string `json:"sku"`
	OrderID string `json:"order_id"`
	Payload string `json:"payload,omitempty"`
	Token   string `json:"token,omitempty"`
}

// PurchaseCancelled is posted when the user dismissed the purchase flow.
type PurchaseCancelled struct {
	ItemID string `json:"item_id"`
	SKU    string `json:"sku"`
}

// Refund is posted for purchases the market reports canceled or refunded.
type Refund struct {
	ItemID  string `json:"item_id"`
	SKU     string `json:"sku"`
	OrderID string `json:"order_id"`
	Payload string `json:"payload,omitempty"`
}

// ItemPurchased is posted once the ledger holds the acquired item.
type ItemPurchased struct {
	ItemID  string `json:"item_id"`
	Payload string `json:"payload,omitempty"`
}

// BalanceChanged carries the new balance and the signed change.
type BalanceChanged struct {
	ItemID      string `json:"item_id"`
	Balance     int    `json:"balance"`
	AmountAdded int    `json:"amount_added"`
}

// GoodEquipped is posted when an equippable becomes equipped.
type GoodEquipped struct {
	ItemID string `json:"item_id"`
}

// GoodUnequipped is posted when an equippable stops being equipped.
type GoodUnequipped struct {
	ItemID string `json:"item_id"`
}

// GoodUpgraded reports the good's new upgrade; UpgradeID is empty when all
// upgrades were removed.
type GoodUpgraded struct {
	GoodID    string `json:"good_id"`
	UpgradeID string `json:"upgrade_id,omitempty"`
}

// ItemDetailsRetrieved is posted once per product of a details query;
// Finished is set on the last one.
type ItemDetailsRetrieved struct {
	ItemID      string `json:"item_id"`
	SKU         string `json:"sku"`
	Price       string `json:"price"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Finished    bool   `json:"finished"`
}

// UnexpectedError reports any failure not returned to the caller.
type UnexpectedError struct {
	Err     error
	Message string
}

func (StoreInitialized) EventName() string            { return NameStoreInitialized }
func (BillingSupported) EventName() string            { return NameBillingSupported }
func (BillingNotSupported) EventName() string         { return NameBillingNotSupported }
func (BillingServiceStarted) EventName() string       { return NameBillingServiceStarted }
func (RestoreTransactionsStarted) EventName() string  { return NameRestoreTransactionsStarted }
func (RestoreTransactionsFinished) EventName() string { return NameRestoreTransactionsFinished }
func (PurchaseStarted) EventName() string             { return NamePurchaseStarted }
func (PurchaseSucceeded) EventName() string           { return NamePurchaseSucceeded }
func (PurchaseCancelled) EventName() string           { return NamePurchaseCancelled }
func (Refund) EventName() string                      { return NameRefund }
func (ItemPurchased) EventName() string               { return NameItemPurchased }
func (BalanceChanged) EventName() string              { return NameBalanceChanged }
func (GoodEquipped) EventName() string                { return NameGoodEquipped }
func (GoodUnequipped) EventName() string              { return NameGoodUnequipped }
func (GoodUpgraded) EventName() string                { return NameGoodUpgraded }
func (ItemDetailsRetrieved) EventName() string        { return NameItemDetailsRetrieved }
func (UnexpectedError) EventName() string             { return NameUnexpectedError }

// Error returns the message, falling back to the wrapped error.
func (e UnexpectedError) Error() string {
	switch {
	case e.Message != "" && e.Err != nil:
		return e.Message + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Message
	}
}

func (e UnexpectedError) Unwrap() error { return e.Err }

// MarshalJSON flattens the wrapped error to text.
func (e UnexpectedError) MarshalJSON() ([]byte, error) {
	out := struct {
		Error   string `json:"error,omitempty"`
		Message string `json:"message,omitempty"`
	}{Message: e.Message}
	if e.Err != nil {
		out.Error = e.Err.Error()
	}
	return json.Marshal(out)
}
