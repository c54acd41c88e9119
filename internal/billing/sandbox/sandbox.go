// Package sandbox is an in-memory billing client with scripted outcomes, for
// tests and for running the store without a real market.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"virtual-store/internal/billing"
)

// ErrNotConnected is returned by calls made outside Setup/Dispose.
var ErrNotConnected = errors.New("sandbox: not connected")

// Outcome scripts the result of one purchase flow.
type Outcome struct {
	Code    billing.ResponseCode
	Message string
	// State of the purchase returned with an OK result.
	State billing.PurchaseState
}

// Client implements billing.Client. Purchase flows succeed unless an outcome
// was queued; buying a SKU that is still owned reports ItemAlreadyOwned.
type Client struct {
	mu           sync.Mutex
	connected    bool
	setupErrs    []error
	outcomes     []Outcome
	owned        []billing.Purchase
	details      map[string]billing.SkuDetails
	consumed     []billing.Purchase
	consumeErr   error
	inventoryErr error
	launched     []string
	setups       int
	disposes     int
}

// New creates a disconnected sandbox client.
func New() *Client {
	return &Client{details: make(map[string]billing.SkuDetails)}
}

// FailNextSetup makes the next Setup fail with err.
func (c *Client) FailNextSetup(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setupErrs = append(c.setupErrs, err)
}

// QueueOutcome scripts the next purchase flow.
func (c *Client) QueueOutcome(o Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.outcomes = append(c.outcomes, o)
}

// AddOwned records a purchase the market reports as owned and unconsumed.
func (c *Client) AddOwned(p billing.Purchase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.owned = append(c.owned, p)
}

// SetDetails sets the market listing returned for d.SKU.
func (c *Client) SetDetails(d billing.SkuDetails) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.details[d.SKU] = d
}

// FailConsume makes every Consume fail with err until cleared with nil.
func (c *Client) FailConsume(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consumeErr = err
}

// FailInventory makes every QueryInventory fail with err until cleared with nil.
func (c *Client) FailInventory(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inventoryErr = err
}

func (c *Client) Setup(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	c.setups++
	if len(c.setupErrs) > 0 {
		err := c.setupErrs[0]
		c.setupErrs = c.setupErrs[1:]
		return err
	}
	c.connected = true
	return nil
}

func (c *Client) Dispose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	c.disposes++
	c.connected = false
	return nil
}

func (c *Client) QueryInventory(ctx context.Context) ([]billing.Purchase, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, ErrNotConnected
	}
	if c.inventoryErr != nil {
		return nil, c.inventoryErr
	}
	return append([]billing.Purchase(nil), c.owned...), nil
}

func (c *Client) QuerySkuDetails(ctx context.Context, skus []string) ([]billing.SkuDetails, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return nil, ErrNotConnected
	}
	var out []billing.SkuDetails
	for _, sku := range skus {
		if d, ok := c.details[sku]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (c *Client) LaunchPurchaseFlow(ctx context.Context, sku, payload string) (billing.Result, *billing.Purchase) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return billing.Result{Code: billing.BillingUnavailable, Message: ErrNotConnected.Error()}, nil
	}
	if err := ctx.Err(); err != nil {
		return billing.Result{Code: billing.Error, Message: err.Error()}, nil
	}
	c.launched = append(c.launched, sku)

	o := Outcome{Code: billing.OK}
	if len(c.outcomes) > 0 {
		o = c.outcomes[0]
		c.outcomes = c.outcomes[1:]
	}

	if i := c.ownedIndex(sku); i >= 0 && (o.Code == billing.OK || o.Code == billing.ItemAlreadyOwned) {
		p := c.owned[i]
		return billing.Result{Code: billing.ItemAlreadyOwned, Message: "item already owned"}, &p
	}

	switch o.Code {
	case billing.OK:
		p := billing.Purchase{
			OrderID:          "sandbox." + uuid.NewString(),
			SKU:              sku,
			DeveloperPayload: payload,
			Token:            uuid.NewString(),
			State:            o.State,
			PurchaseTime:     time.Now().UTC(),
		}
		if p.State == billing.Purchased {
			c.owned = append(c.owned, p)
		}
		return billing.Result{Code: billing.OK, Message: o.Message}, &p
	case billing.UserCanceled:
		return billing.Result{Code: o.Code, Message: o.Message}, &billing.Purchase{SKU: sku, DeveloperPayload: payload}
	case billing.ItemAlreadyOwned:
		return billing.Result{Code: o.Code, Message: o.Message}, &billing.Purchase{SKU: sku, DeveloperPayload: payload}
	default:
		return billing.Result{Code: o.Code, Message: o.Message}, nil
	}
}

func (c *Client) Consume(ctx context.Context, p billing.Purchase) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return ErrNotConnected
	}
	if c.consumeErr != nil {
		return c.consumeErr
	}
	i := c.ownedIndex(p.SKU)
	if i < 0 {
		return fmt.Errorf("sandbox: %s: %s", billing.ItemNotOwned, p.SKU)
	}
	c.consumed = append(c.consumed, c.owned[i])
	c.owned = append(c.owned[:i], c.owned[i+1:]...)
	return nil
}

func (c *Client) ownedIndex(sku string) int {
	for i, p := range c.owned {
		if p.SKU == sku {
			return i
		}
	}
	return -1
}

// Consumed returns the purchases consumed so far.
func (c *Client) Consumed() []billing.Purchase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]billing.Purchase(nil), c.consumed...)
}

// Owned returns the purchases currently owned and unconsumed.
func (c *Client) Owned() []billing.Purchase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]billing.Purchase(nil), c.owned...)
}

// Launched returns the SKUs of every purchase flow launched.
func (c *Client) Launched() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.launched...)
}

// Connected reports whether a connection is open.
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Setups returns how many times Setup was called.
func (c *Client) Setups() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.setups
}

// Disposes returns how many connections were disposed.
func (c *Client) Disposes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposes
}
