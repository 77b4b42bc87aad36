// Package token provides a minimal fungible-token ledger standing in for
// the host chain's native token module. Escrow custody and solver
// payouts move through it, which is what makes the conservation
// properties of the escrow and outflow state machines observable.
package token

import (
	"errors"
	"fmt"
	"sync"

	"github.com/intentwire/gmp-relay/pkg/gmp"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrZeroAmount          = errors.New("zero amount")
)

type balanceKey struct {
	token  gmp.Address
	holder gmp.Address
}

// Bank tracks balances per (token, holder). All methods are safe for
// concurrent use.
type Bank struct {
	mu       sync.Mutex
	balances map[balanceKey]uint64
}

// NewBank creates an empty bank.
func NewBank() *Bank {
	return &Bank{balances: make(map[balanceKey]uint64)}
}

// Mint credits newly issued tokens to a holder. Test and genesis helper.
func (b *Bank) Mint(token, holder gmp.Address, amount uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances[balanceKey{token, holder}] += amount
}

// Balance returns the holder's balance of the token.
func (b *Bank) Balance(token, holder gmp.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[balanceKey{token, holder}]
}

// Transfer moves amount of token from one holder to another atomically.
func (b *Bank) Transfer(token, from, to gmp.Address, amount uint64) error {
	if amount == 0 {
		return ErrZeroAmount
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	fromKey := balanceKey{token, from}
	if b.balances[fromKey] < amount {
		return fmt.Errorf("%w: %s has %d of %s, need %d",
			ErrInsufficientBalance, from.Short(), b.balances[fromKey], token.Short(), amount)
	}
	b.balances[fromKey] -= amount
	b.balances[balanceKey{token, to}] += amount
	return nil
}
