package gmp

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
)

// Address is a 32-byte canonical address. Native addresses narrower than
// 32 bytes occupy the low-order bytes; high-order bytes are zero.
type Address [32]byte

// ZeroAddress doubles as the "any solver" sentinel on the outflow side.
var ZeroAddress Address

// AddressFromBytes canonicalizes a native address of up to 32 bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) > 32 {
		return a, fmt.Errorf("address too long: %d bytes", len(b))
	}
	copy(a[32-len(b):], b)
	return a, nil
}

// ParseAddress parses a hex address, with or without the 0x prefix.
// Leading zeros stripped by the native chain are restored.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimPrefix(s, "0x")
	if len(s)%2 != 0 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Address{}, fmt.Errorf("invalid hex address %q: %v", s, err)
	}
	return AddressFromBytes(b)
}

// Native recovers the low-order n bytes of the canonical address.
func (a Address) Native(n int) []byte {
	if n > 32 {
		n = 32
	}
	return a[32-n:]
}

// IsZero reports whether the address is the zero sentinel.
func (a Address) IsZero() bool { return a == ZeroAddress }

// Hex returns the 0x-prefixed full 32-byte hex form.
func (a Address) Hex() string { return "0x" + hex.EncodeToString(a[:]) }

// Short returns an abbreviated form for logs.
func (a Address) Short() string {
	h := hex.EncodeToString(a[:])
	return "0x" + h[:8] + ".." + h[56:]
}

// Hex returns the 0x-prefixed hex form of the intent id.
func (id IntentID) Hex() string { return "0x" + hex.EncodeToString(id[:]) }

// Short returns an abbreviated form for logs.
func (id IntentID) Short() string { return "0x" + hex.EncodeToString(id[:4]) }

// DedupeKey is the delivery ledger key: hash(intent_id || message_type).
// Keyed off intent identity rather than sequence numbers so the ledger
// survives endpoint redeployment.
type DedupeKey [32]byte

// NewDedupeKey derives the ledger key for an (intent, type) pair.
func NewDedupeKey(id IntentID, t MessageType) DedupeKey {
	var k DedupeKey
	copy(k[:], crypto.Keccak256(id[:], []byte{byte(t)}))
	return k
}
