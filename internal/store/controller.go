// Package store is the purchase orchestrator: it initializes the catalog,
// drives the billing service through purchases and restores, and turns
// billing outcomes into ledger updates and bus events.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"virtual-store/internal/billing"
	"virtual-store/internal/catalog"
	"virtual-store/internal/events"
	"virtual-store/internal/model"
	"virtual-store/internal/pkg/obscured"
	"virtual-store/internal/storage"
)

// Persisted credential keys.
const (
	KeyPublicKey    = "store.publicKey"
	KeyCustomSecret = "store.customSecret"
)

// placeholderPublicKey is the value shipped in sample configurations.
const placeholderPublicKey = "[YOUR PUBLIC KEY FROM GOOGLE PLAY]"

// Dependencies are the collaborators a Controller drives.
type Dependencies struct {
	Prefs   *obscured.Preferences
	Catalog *catalog.Catalog
	Ledger  *storage.Ledger
	Billing *billing.Service
	Bus     events.Poster
}

// Options are purchase policies.
type Options struct {
	// FriendlyRefunds keeps refunded items in the ledger.
	FriendlyRefunds bool
}

// Controller is the purchase orchestrator. It is owned by the host
// application; one Controller per preferences namespace.
type Controller struct {
	prefs     *obscured.Preferences
	catalog   *catalog.Catalog
	ledger    *storage.Ledger
	billing   *billing.Service
	bus       events.Poster
	opts      Options
	inventory *Inventory

	mu         sync.Mutex
	state      State
	purchasing bool
}

// New creates an uninitialized controller.
func New(deps Dependencies, opts Options) *Controller {
	c := &Controller{
		prefs:   deps.Prefs,
		catalog: deps.Catalog,
		ledger:  deps.Ledger,
		billing: deps.Billing,
		bus:     deps.Bus,
		opts:    opts,
	}
	c.inventory = &Inventory{catalog: deps.Catalog, ledger: deps.Ledger, bus: deps.Bus, market: c}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Inventory returns the give/take/buy/equip front of the ledger.
func (c *Controller) Inventory() *Inventory {
	return c.inventory
}

// Catalog returns the item catalog.
func (c *Controller) Catalog() *catalog.Catalog {
	return c.catalog
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setStateLocked(s)
}

func (c *Controller) setStateLocked(s State) {
	if c.state != s {
		log.Debug().Str("from", c.state.String()).Str("state", s.String()).Msg("Store state changed")
		c.state = s
	}
}

// setIdleState moves between Ready, BillingConnecting and BillingReady; it
// leaves purchase and initialization states alone.
func (c *Controller) setIdleState(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.idle() && !c.purchasing {
		c.setStateLocked(s)
	}
}

// settle returns an idle controller to BillingReady or Ready depending on
// whether the billing connection survived.
func (c *Controller) settle() {
	if c.billing.IsStarted() {
		c.setIdleState(StateBillingReady)
	} else {
		c.setIdleState(StateReady)
	}
}

func (c *Controller) initialized() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state != StateUninitialized && c.state != StateInitializing
}

// report posts an UnexpectedError.
func (c *Controller) report(err error, msg string) {
	log.Error().Err(err).Msg(msg)
	c.bus.Post(events.UnexpectedError{Err: err, Message: msg})
}

// Initialize persists the credentials, loads the catalog, connects billing
// and replays unconsumed purchases. It runs once: later calls post
// ErrAlreadyInitialized and return nil. Empty credentials reuse the persisted
// ones; with nothing persisted Initialize fails with ErrMissingCredentials.
// A billing connection failure is posted as BillingNotSupported and leaves
// the controller Ready.
func (c *Controller) Initialize(ctx context.Context, assets *catalog.Assets, publicKey, customSecret string) error {
	c.mu.Lock()
	if c.state != StateUninitialized {
		c.mu.Unlock()
		c.report(ErrAlreadyInitialized, "Store is already initialized, it cannot be initialized twice")
		return nil
	}
	c.setStateLocked(StateInitializing)
	c.mu.Unlock()

	if err := c.initialize(ctx, assets, publicKey, customSecret); err != nil {
		c.setState(StateUninitialized)
		return err
	}

	c.setState(StateReady)
	log.Info().Int("catalog_version", c.catalog.Version()).Msg("Store initialized")
	c.bus.Post(events.StoreInitialized{})

	c.reconcile(ctx)
	return nil
}

func (c *Controller) initialize(ctx context.Context, assets *catalog.Assets, publicKey, customSecret string) error {
	ed := c.prefs.Edit()
	for _, cred := range []struct{ key, value, name string }{
		{KeyPublicKey, publicKey, "public key"},
		{KeyCustomSecret, customSecret, "custom secret"},
	} {
		if cred.value != "" {
			ed.PutString(cred.key, cred.value)
			continue
		}
		stored, err := c.prefs.GetString(ctx, cred.key, "")
		if err != nil {
			err = fmt.Errorf("%w: reading %s: %w", ErrUnexpected, cred.name, err)
			c.report(err, "Failed to read stored credentials")
			return err
		}
		if stored == "" {
			err := fmt.Errorf("%w: %s is empty", ErrMissingCredentials, cred.name)
			c.report(err, "Can't initialize store without credentials")
			return err
		}
	}
	if err := ed.Commit(ctx); err != nil {
		err = fmt.Errorf("%w: storing credentials: %w", ErrUnexpected, err)
		c.report(err, "Failed to store credentials")
		return err
	}

	if err := c.catalog.Initialize(ctx, assets); err != nil {
		c.report(err, "Failed to initialize catalog")
		return err
	}
	return nil
}

// connect opens the billing connection, posting BillingSupported and
// BillingServiceStarted when it was not open, BillingNotSupported on failure.
func (c *Controller) connect(ctx context.Context, background bool) error {
	c.setIdleState(StateBillingConnecting)

	var (
		already bool
		err     error
	)
	if background {
		already, err = c.billing.StartInBackground(ctx)
	} else {
		already, err = c.billing.Start(ctx)
	}
	if err != nil {
		log.Warn().Err(err).Msg("There's no connectivity with the billing service")
		c.bus.Post(events.BillingNotSupported{Reason: err.Error()})
		c.setIdleState(StateReady)
		return fmt.Errorf("%w: %w", ErrBillingUnavailable, err)
	}
	if !already {
		c.bus.Post(events.BillingSupported{})
		c.bus.Post(events.BillingServiceStarted{})
	}
	c.setIdleState(StateBillingReady)
	return nil
}

// reconcile replays every owned purchase as a successful one.
func (c *Controller) reconcile(ctx context.Context) bool {
	defer c.settle()

	if err := c.connect(ctx, false); err != nil {
		return false
	}
	log.Debug().Msg("Billing connected, replaying unconsumed purchases")
	err := c.billing.QueryInventory(ctx, func(p billing.Purchase) {
		c.handlePurchase(ctx, p)
	})
	if err != nil {
		c.report(err, "Failed to query inventory")
		return false
	}
	return true
}

// StartBillingInBackground opens the billing connection and keeps it open
// across purchases until StopBillingInBackground.
func (c *Controller) StartBillingInBackground(ctx context.Context) error {
	if !c.initialized() {
		return ErrNotInitialized
	}
	defer c.settle()
	if err := c.connect(ctx, true); err != nil {
		log.Error().Err(err).Msg("Couldn't start billing service in background")
	}
	return nil
}

// StopBillingInBackground clears the keep-open flag and closes the billing
// connection, deferring the close while an operation runs.
func (c *Controller) StopBillingInBackground() error {
	if !c.initialized() {
		return ErrNotInitialized
	}
	defer c.settle()
	switch err := c.billing.StopInBackground(); {
	case err == nil:
		log.Debug().Msg("Stopped billing service in background")
	case errors.Is(err, billing.ErrBusy):
		log.Debug().Msg("Billing operation running, stop deferred until it finishes")
	default:
		log.Debug().Err(err).Msg("Couldn't stop billing service in background")
	}
	return nil
}

// Close releases the billing connection, including one kept open in
// background. A connection held by a running operation closes when the
// operation returns.
func (c *Controller) Close() error {
	if !c.initialized() {
		return nil
	}
	defer c.settle()
	stop := c.billing.Stop
	if c.billing.KeepOpen() {
		stop = c.billing.StopInBackground
	}
	switch err := stop(); {
	case err == nil:
		log.Debug().Msg("Billing connection closed")
	case errors.Is(err, billing.ErrNotStarted):
	case errors.Is(err, billing.ErrBusy), errors.Is(err, billing.ErrKeepOpen):
		log.Debug().Err(err).Msg("Billing connection left to close after the running operation")
	default:
		return err
	}
	return nil
}

// RestoreTransactions replays every purchase the market reports as owned.
func (c *Controller) RestoreTransactions(ctx context.Context) error {
	if !c.initialized() {
		return ErrNotInitialized
	}
	c.bus.Post(events.RestoreTransactionsStarted{})
	ok := c.reconcile(ctx)
	c.bus.Post(events.RestoreTransactionsFinished{Success: ok})
	return nil
}

// BuyWithMarket runs the market purchase flow for the item sold as market
// and blocks until the flow completes. It fails without contacting the
// market when the store is not initialized, no public key is configured,
// the SKU is unknown, another purchase is running or billing cannot connect.
// Every outcome of the flow itself is reported on the bus.
func (c *Controller) BuyWithMarket(ctx context.Context, market *model.MarketItem, payload string) error {
	if !c.initialized() {
		return ErrNotInitialized
	}

	publicKey, err := c.prefs.GetString(ctx, KeyPublicKey, "")
	if err != nil {
		err = fmt.Errorf("%w: reading public key: %w", ErrUnexpected, err)
		c.report(err, "Failed to read public key")
		return err
	}
	if publicKey == "" || publicKey == placeholderPublicKey {
		err := fmt.Errorf("%w: no public key configured", ErrMissingCredentials)
		c.report(err, "You didn't provide a public key, you can't make purchases")
		return err
	}

	if market == nil {
		err := fmt.Errorf("%w: no market item", ErrItemNotFound)
		c.report(err, "Nothing to purchase")
		return err
	}
	item, err := c.catalog.PurchasableBySKU(market.ProductID)
	if err != nil {
		c.report(err, "Couldn't find a purchasable item associated with "+market.ProductID)
		return err
	}

	c.mu.Lock()
	if c.purchasing {
		c.mu.Unlock()
		err := fmt.Errorf("%w: cannot buy %s", ErrPurchaseInProgress, item.ItemID)
		c.report(err, "A purchase flow is already running")
		return err
	}
	c.setStateLocked(StateBillingConnecting)
	c.purchasing = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.purchasing = false
		c.setStateLocked(StateReady)
		c.mu.Unlock()
		c.settle()
	}()

	sku := market.ProductID
	err = c.billing.Purchase(ctx, sku, payload, func(already bool) {
		if !already {
			c.bus.Post(events.BillingSupported{})
			c.bus.Post(events.BillingServiceStarted{})
		}
		c.setState(StatePurchaseInFlight)
		log.Info().Str("item_id", item.ItemID).Str("sku", sku).Msg("Launching purchase flow")
		c.bus.Post(events.PurchaseStarted{ItemID: item.ItemID, SKU: sku})
	}, func(res billing.Result, p *billing.Purchase) {
		c.handleFlowResult(ctx, sku, res, p)
	})
	if err != nil {
		log.Warn().Err(err).Msg("There's no connectivity with the billing service")
		c.bus.Post(events.BillingNotSupported{Reason: err.Error()})
		err = fmt.Errorf("%w: %w", ErrBillingUnavailable, err)
		c.report(err, "Can't purchase without a billing connection")
		return err
	}
	return nil
}

// Buy purchases itemID through the inventory: market items run the market
// purchase flow, items priced in another item are paid from the ledger.
func (c *Controller) Buy(ctx context.Context, itemID, payload string) error {
	if !c.initialized() {
		return ErrNotInitialized
	}
	return c.inventory.Buy(ctx, itemID, payload)
}

// QueryItemDetails fetches market listings for productIDs (every catalog SKU
// when empty), stores them as catalog overrides and posts one
// ItemDetailsRetrieved per listing.
func (c *Controller) QueryItemDetails(ctx context.Context, productIDs ...string) error {
	if !c.initialized() {
		return ErrNotInitialized
	}
	if len(productIDs) == 0 {
		productIDs = c.catalog.ProductIDs()
	}
	if len(productIDs) == 0 {
		return nil
	}

	defer c.settle()
	if err := c.connect(ctx, false); err != nil {
		return nil
	}

	details, err := c.billing.QuerySkuDetails(ctx, productIDs)
	if err != nil {
		c.report(err, "Failed to query item details")
		return nil
	}
	for i, d := range details {
		item, err := c.catalog.UpdateMarketDetails(ctx, d.SKU, d.Price, d.Title, d.Description)
		if err != nil {
			c.report(err, "Failed to record item details for "+d.SKU)
			continue
		}
		c.bus.Post(events.ItemDetailsRetrieved{
			ItemID:      item.ItemID,
			SKU:         d.SKU,
			Price:       d.Price,
			Title:       d.Title,
			Description: d.Description,
			Finished:    i == len(details)-1,
		})
	}
	return nil
}
