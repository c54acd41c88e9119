package billing

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

var (
	ErrNotStarted = errors.New("billing service not started")
	ErrKeepOpen   = errors.New("billing service kept open in background")
	ErrBusy       = errors.New("billing operation in progress, stop deferred")
)

// Service owns the connection to a Client.
//
// After each inventory query, purchase flow, details query or consume the
// connection is torn down, unless it was started in background. The
// keep-open flag, the in-flight count and the connection share one mutex, so
// a stop never closes the connection under a running operation: it is
// deferred until the last one returns.
type Service struct {
	client Client

	mu       sync.Mutex
	started  bool
	keepOpen bool
	inFlight int
}

// NewService creates a service over c. Nothing is connected yet.
func NewService(c Client) *Service {
	return &Service{client: c}
}

// Start opens the connection. alreadyStarted is true when it was open.
func (s *Service) Start(ctx context.Context) (alreadyStarted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startLocked(ctx)
}

// StartInBackground opens the connection and keeps it open across
// operations until StopInBackground.
func (s *Service) StartInBackground(ctx context.Context) (alreadyStarted bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepOpen = true
	return s.startLocked(ctx)
}

func (s *Service) startLocked(ctx context.Context) (bool, error) {
	if s.started {
		log.Debug().Msg("Billing connection already open")
		return true, nil
	}
	log.Debug().Msg("Setting up billing connection")
	if err := s.client.Setup(ctx); err != nil {
		return false, fmt.Errorf("billing setup failed: %w", err)
	}
	s.started = true
	return false, nil
}

// Stop closes the connection. It fails with ErrKeepOpen when the service was
// started in background, ErrNotStarted when nothing is open and ErrBusy when
// an operation is running; in the last case the connection closes when the
// operation returns.
func (s *Service) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keepOpen {
		return ErrKeepOpen
	}
	return s.stopLocked()
}

// StopInBackground clears the keep-open flag and closes the connection.
func (s *Service) StopInBackground() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keepOpen = false
	return s.stopLocked()
}

func (s *Service) stopLocked() error {
	if !s.started {
		return ErrNotStarted
	}
	if s.inFlight > 0 {
		return ErrBusy
	}
	s.disposeLocked()
	return nil
}

func (s *Service) disposeLocked() {
	log.Debug().Msg("Disposing billing connection")
	if err := s.client.Dispose(); err != nil {
		log.Warn().Err(err).Msg("Failed to dispose billing client")
	}
	s.started = false
}

// IsStarted reports whether the connection is open.
func (s *Service) IsStarted() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}

// KeepOpen reports whether the service was started in background.
func (s *Service) KeepOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.keepOpen
}

func (s *Service) acquire() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		return ErrNotStarted
	}
	s.inFlight++
	return nil
}

func (s *Service) release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight--
	if s.inFlight == 0 && !s.keepOpen && s.started {
		s.disposeLocked()
	}
}

// QueryInventory calls fn for each owned purchase while the connection is held.
func (s *Service) QueryInventory(ctx context.Context, fn func(Purchase)) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	purchases, err := s.client.QueryInventory(ctx)
	if err != nil {
		return fmt.Errorf("query inventory: %w", err)
	}
	for _, p := range purchases {
		fn(p)
	}
	return nil
}

// Purchase opens the connection when it is not open and runs the purchase
// flow for sku, holding the connection from setup until fn returns, so a
// concurrent release or stop cannot close it in between. onStart runs once
// the connection is held, before the flow is launched. The returned error is
// always a setup failure; every flow outcome goes to fn.
func (s *Service) Purchase(ctx context.Context, sku, payload string, onStart func(alreadyStarted bool), fn func(Result, *Purchase)) error {
	s.mu.Lock()
	already, err := s.startLocked(ctx)
	if err != nil {
		s.mu.Unlock()
		return err
	}
	s.inFlight++
	s.mu.Unlock()
	defer s.release()

	if onStart != nil {
		onStart(already)
	}
	res, p := s.client.LaunchPurchaseFlow(ctx, sku, payload)
	log.Debug().Str("sku", sku).Str("result", res.String()).Msg("Purchase flow finished")
	fn(res, p)
	return nil
}

// QuerySkuDetails returns the market listings of skus.
func (s *Service) QuerySkuDetails(ctx context.Context, skus []string) ([]SkuDetails, error) {
	if err := s.acquire(); err != nil {
		return nil, err
	}
	defer s.release()

	details, err := s.client.QuerySkuDetails(ctx, skus)
	if err != nil {
		return nil, fmt.Errorf("query sku details: %w", err)
	}
	return details, nil
}

// Consume marks p consumed with the market.
func (s *Service) Consume(ctx context.Context, p Purchase) error {
	if err := s.acquire(); err != nil {
		return err
	}
	defer s.release()

	if err := s.client.Consume(ctx, p); err != nil {
		return fmt.Errorf("consume %s: %w", p.SKU, err)
	}
	return nil
}
