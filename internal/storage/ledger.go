// Package storage keeps per-item balances, equipped flags and upgrade levels
// in the encrypted preferences.
package storage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"virtual-store/internal/events"
	"virtual-store/internal/pkg/lock"
	"virtual-store/internal/pkg/obscured"
)

// lockTimeout bounds the wait for an item's balance lock.
const lockTimeout = 5 * time.Second

var (
	// ErrInvalidAmount is returned for negative credit and debit amounts.
	ErrInvalidAmount = errors.New("amount must not be negative")
	// ErrBalanceOverflow is returned when a credit would exceed math.MaxInt.
	ErrBalanceOverflow = errors.New("balance overflow")
)

// Key prefixes.
const (
	balancePrefix  = "balance."
	equippedPrefix = "equipped."
	upgradePrefix  = "upgrade."
)

// BalanceKey returns the preferences key holding the balance of itemID.
func BalanceKey(itemID string) string { return balancePrefix + itemID }

// EquippedKey returns the preferences key holding the equipped flag of itemID.
func EquippedKey(itemID string) string { return equippedPrefix + itemID }

// UpgradeKey returns the preferences key holding the current upgrade of goodID.
func UpgradeKey(goodID string) string { return upgradePrefix + goodID }

// Ledger is the only writer of balances. Every read-modify-write holds the
// item's key lock, so concurrent updates of one item never interleave.
type Ledger struct {
	prefs *obscured.Preferences
	bus   events.Poster
	locks *lock.KeyLock
}

// NewLedger creates a ledger over p that posts changes on bus.
func NewLedger(p *obscured.Preferences, bus events.Poster) *Ledger {
	return &Ledger{prefs: p, bus: bus, locks: lock.NewKeyLock()}
}

// Balance returns the balance of itemID; 0 when never written.
func (l *Ledger) Balance(ctx context.Context, itemID string) (int, error) {
	b, err := l.prefs.GetInt(ctx, BalanceKey(itemID), 0)
	if err != nil {
		return 0, fmt.Errorf("failed to read balance of %s: %w", itemID, err)
	}
	return b, nil
}

// Update replaces the balance of itemID with fn(current), clamped at 0, and
// returns the new balance. BalanceChanged is posted when notify is set and the
// balance changed. Update gives up with lock.ErrLockTimeout when another
// update of the item holds the lock longer than lockTimeout.
func (l *Ledger) Update(ctx context.Context, itemID string, fn func(current int) int, notify bool) (int, error) {
	return l.update(ctx, itemID, func(cur int) (int, error) { return fn(cur), nil }, notify)
}

// update is Update with a fallible fn; an error from fn leaves the balance
// untouched.
func (l *Ledger) update(ctx context.Context, itemID string, fn func(current int) (int, error), notify bool) (int, error) {
	key := BalanceKey(itemID)
	var cur, next int
	err := l.locks.WithLockContext(ctx, key, lockTimeout, func() error {
		var err error
		cur, err = l.Balance(ctx, itemID)
		if err != nil {
			return err
		}
		next, err = fn(cur)
		if err != nil {
			next = cur
			return err
		}
		next = max(next, 0)
		if next == cur {
			return nil
		}
		if err := l.prefs.Edit().PutInt(key, next).Commit(ctx); err != nil {
			next = cur
			return fmt.Errorf("failed to write balance of %s: %w", itemID, err)
		}
		return nil
	})
	if err != nil {
		return cur, err
	}

	if notify && next != cur {
		l.bus.Post(events.BalanceChanged{ItemID: itemID, Balance: next, AmountAdded: next - cur})
	}
	return next, nil
}

// Add credits amount to itemID. A credit that would overflow the balance
// fails with ErrBalanceOverflow and leaves it unchanged.
func (l *Ledger) Add(ctx context.Context, itemID string, amount int, notify bool) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: add %d to %s", ErrInvalidAmount, amount, itemID)
	}
	return l.update(ctx, itemID, func(cur int) (int, error) {
		if amount > math.MaxInt-cur {
			return cur, fmt.Errorf("%w: %s holds %d, adding %d", ErrBalanceOverflow, itemID, cur, amount)
		}
		return cur + amount, nil
	}, notify)
}

// Remove debits amount from itemID; the balance never drops below 0.
func (l *Ledger) Remove(ctx context.Context, itemID string, amount int, notify bool) (int, error) {
	if amount < 0 {
		return 0, fmt.Errorf("%w: remove %d from %s", ErrInvalidAmount, amount, itemID)
	}
	return l.Update(ctx, itemID, func(cur int) int { return cur - amount }, notify)
}

// SetBalance overwrites the balance of itemID.
func (l *Ledger) SetBalance(ctx context.Context, itemID string, balance int, notify bool) (int, error) {
	return l.Update(ctx, itemID, func(int) int { return balance }, notify)
}

// IsEquipped reports whether itemID is equipped.
func (l *Ledger) IsEquipped(ctx context.Context, itemID string) (bool, error) {
	ok, err := l.prefs.GetBool(ctx, EquippedKey(itemID), false)
	if err != nil {
		return false, fmt.Errorf("failed to read equipped state of %s: %w", itemID, err)
	}
	return ok, nil
}

// Equip marks itemID equipped and posts GoodEquipped when it was not.
func (l *Ledger) Equip(ctx context.Context, itemID string, notify bool) error {
	return l.setEquipped(ctx, itemID, true, notify)
}

// Unequip clears the equipped mark and posts GoodUnequipped when it was set.
func (l *Ledger) Unequip(ctx context.Context, itemID string, notify bool) error {
	return l.setEquipped(ctx, itemID, false, notify)
}

func (l *Ledger) setEquipped(ctx context.Context, itemID string, equipped, notify bool) error {
	key := EquippedKey(itemID)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	cur, err := l.IsEquipped(ctx, itemID)
	if err != nil {
		return err
	}
	if cur == equipped {
		return nil
	}

	ed := l.prefs.Edit()
	if equipped {
		ed.PutBool(key, true)
	} else {
		ed.Remove(key)
	}
	if err := ed.Commit(ctx); err != nil {
		return fmt.Errorf("failed to write equipped state of %s: %w", itemID, err)
	}

	if notify {
		if equipped {
			l.bus.Post(events.GoodEquipped{ItemID: itemID})
		} else {
			l.bus.Post(events.GoodUnequipped{ItemID: itemID})
		}
	}
	return nil
}

// CurrentUpgrade returns the upgrade applied to goodID, or "" when none.
func (l *Ledger) CurrentUpgrade(ctx context.Context, goodID string) (string, error) {
	id, err := l.prefs.GetString(ctx, UpgradeKey(goodID), "")
	if err != nil {
		return "", fmt.Errorf("failed to read upgrade of %s: %w", goodID, err)
	}
	return id, nil
}

// SetUpgrade records upgradeID as the current upgrade of goodID. An empty
// upgradeID removes every upgrade.
func (l *Ledger) SetUpgrade(ctx context.Context, goodID, upgradeID string, notify bool) error {
	key := UpgradeKey(goodID)
	l.locks.Lock(key)
	defer l.locks.Unlock(key)

	cur, err := l.CurrentUpgrade(ctx, goodID)
	if err != nil {
		return err
	}
	if cur == upgradeID {
		return nil
	}

	ed := l.prefs.Edit()
	if upgradeID == "" {
		ed.Remove(key)
	} else {
		ed.PutString(key, upgradeID)
	}
	if err := ed.Commit(ctx); err != nil {
		return fmt.Errorf("failed to write upgrade of %s: %w", goodID, err)
	}
	if notify {
		l.bus.Post(events.GoodUpgraded{GoodID: goodID, UpgradeID: upgradeID})
	}
	return nil
}

// RemoveUpgrades clears the upgrade of goodID.
func (l *Ledger) RemoveUpgrades(ctx context.Context, goodID string, notify bool) error {
	return l.SetUpgrade(ctx, goodID, "", notify)
}
