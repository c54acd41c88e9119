// Package billing drives an external in-app billing client through its
// connection lifecycle: setup, inventory queries, purchase flows, consumption
// and teardown.
package billing

import (
	"context"
	"fmt"
	"time"
)

// ResponseCode is a billing response code.
type ResponseCode int

// Response codes, numbered as the Play Billing v3 API numbers them.
const (
	OK                 ResponseCode = 0
	UserCanceled       ResponseCode = 1
	BillingUnavailable ResponseCode = 3
	ItemUnavailable    ResponseCode = 4
	DeveloperError     ResponseCode = 5
	Error              ResponseCode = 6
	ItemAlreadyOwned   ResponseCode = 7
	ItemNotOwned       ResponseCode = 8
)

func (c ResponseCode) String() string {
	switch c {
	case OK:
		return "ok"
	case UserCanceled:
		return "user_canceled"
	case BillingUnavailable:
		return "billing_unavailable"
	case ItemUnavailable:
		return "item_unavailable"
	case DeveloperError:
		return "developer_error"
	case Error:
		return "error"
	case ItemAlreadyOwned:
		return "item_already_owned"
	case ItemNotOwned:
		return "item_not_owned"
	}
	return fmt.Sprintf("response_%d", int(c))
}

// Result is the outcome reported by the client for a request.
type Result struct {
	Code    ResponseCode
	Message string
}

// Success reports whether the request succeeded.
func (r Result) Success() bool { return r.Code == OK }

func (r Result) String() string {
	if r.Message == "" {
		return r.Code.String()
	}
	return r.Code.String() + ": " + r.Message
}

// PurchaseState is the market state of a purchase.
type PurchaseState int

const (
	Purchased PurchaseState = 0
	Canceled  PurchaseState = 1
	Refunded  PurchaseState = 2
)

// Purchase is a purchase record owned by the market.
type Purchase struct {
	OrderID          string
	SKU              string
	DeveloperPayload string
	Token            string
	State            PurchaseState
	PurchaseTime     time.Time
}

// SkuDetails is the market listing of a product.
type SkuDetails struct {
	SKU         string
	Price       string
	Title       string
	Description string
}

// Client is the external billing collaborator. Setup and Dispose bracket a
// connection; every other call requires an open connection.
type Client interface {
	Setup(ctx context.Context) error
	QueryInventory(ctx context.Context) ([]Purchase, error)
	QuerySkuDetails(ctx context.Context, skus []string) ([]SkuDetails, error)
	// LaunchPurchaseFlow blocks until the user completes or dismisses the
	// purchase. The purchase is nil unless the result carries one.
	LaunchPurchaseFlow(ctx context.Context, sku, payload string) (Result, *Purchase)
	Consume(ctx context.Context, p Purchase) error
	Dispose() error
}
