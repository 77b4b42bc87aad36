package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentwire/gmp-relay/pkg/gmp"
)

func addrOf(b byte) gmp.Address {
	var a gmp.Address
	a[31] = b
	return a
}

func TestBankMintAndBalance(t *testing.T) {
	b := NewBank()
	tok := addrOf(0x01)
	alice := addrOf(0x0A)

	assert.Equal(t, uint64(0), b.Balance(tok, alice))
	b.Mint(tok, alice, 100)
	b.Mint(tok, alice, 50)
	assert.Equal(t, uint64(150), b.Balance(tok, alice))

	// Same holder, different token.
	assert.Equal(t, uint64(0), b.Balance(addrOf(0x02), alice))
}

func TestBankTransfer(t *testing.T) {
	b := NewBank()
	tok := addrOf(0x01)
	alice := addrOf(0x0A)
	bob := addrOf(0x0B)
	b.Mint(tok, alice, 100)

	t.Run("moves funds", func(t *testing.T) {
		require.NoError(t, b.Transfer(tok, alice, bob, 60))
		assert.Equal(t, uint64(40), b.Balance(tok, alice))
		assert.Equal(t, uint64(60), b.Balance(tok, bob))
	})

	t.Run("insufficient balance", func(t *testing.T) {
		err := b.Transfer(tok, alice, bob, 41)
		assert.ErrorIs(t, err, ErrInsufficientBalance)
		assert.Equal(t, uint64(40), b.Balance(tok, alice))
		assert.Equal(t, uint64(60), b.Balance(tok, bob))
	})

	t.Run("zero amount", func(t *testing.T) {
		err := b.Transfer(tok, alice, bob, 0)
		assert.ErrorIs(t, err, ErrZeroAmount)
	})
}
