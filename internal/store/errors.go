package store

import (
	"errors"

	"virtual-store/internal/catalog"
	"virtual-store/internal/storage"
)

var (
	ErrAlreadyInitialized = errors.New("store already initialized")
	ErrMissingCredentials = errors.New("public key or custom secret missing")
	ErrNotInitialized     = errors.New("store not initialized")
	ErrItemNotFound       = catalog.ErrItemNotFound
	ErrBillingUnavailable = errors.New("billing service unavailable")
	ErrConsumeFailed      = errors.New("failed to consume purchase")
	ErrUnexpected         = errors.New("unexpected store error")
	ErrPurchaseInProgress = errors.New("purchase already in progress")
)

// Inventory errors.
var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrCannotBuy         = errors.New("item cannot be bought")
	ErrNotOwned          = errors.New("item not owned")
	ErrNotEquippable     = errors.New("item is not equippable")
	ErrInvalidAmount     = storage.ErrInvalidAmount
	ErrBalanceOverflow   = storage.ErrBalanceOverflow
)
