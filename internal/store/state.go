package store

// State is the lifecycle state of a Controller.
type State int

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateBillingConnecting
	StateBillingReady
	StatePurchaseInFlight
	StatePurchaseSucceeded
	StatePurchaseCancelled
	StatePurchaseFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateBillingConnecting:
		return "billing_connecting"
	case StateBillingReady:
		return "billing_ready"
	case StatePurchaseInFlight:
		return "purchase_in_flight"
	case StatePurchaseSucceeded:
		return "purchase_succeeded"
	case StatePurchaseCancelled:
		return "purchase_cancelled"
	case StatePurchaseFailed:
		return "purchase_failed"
	}
	return "unknown"
}

// idle reports whether no initialization or purchase is running.
func (s State) idle() bool {
	return s == StateReady || s == StateBillingConnecting || s == StateBillingReady
}
