package endpoint

import (
	"sync"

	"github.com/intentwire/gmp-relay/pkg/gmp"
)

// OutboundMessage is one entry in a chain's outbound log. Entries are
// immutable once appended and may be read any number of times by the
// relay.
type OutboundMessage struct {
	Nonce      uint64
	SrcAddr    gmp.Address
	DstChainID uint32
	DstAddr    gmp.Address
	Payload    []byte
}

// OutboundMailbox is the append-only, per-chain log of outbound messages.
// Nonces start at 1 and increase by 1 per append.
type OutboundMailbox struct {
	mu      sync.Mutex
	entries []OutboundMessage
}

// NewOutboundMailbox creates an empty mailbox.
func NewOutboundMailbox() *OutboundMailbox {
	return &OutboundMailbox{}
}

// Append assigns the next nonce and stores the entry, returning the nonce.
func (m *OutboundMailbox) Append(srcAddr gmp.Address, dstChainID uint32, dstAddr gmp.Address, payload []byte) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	nonce := uint64(len(m.entries)) + 1
	// Copy the payload so callers cannot mutate a stored entry.
	p := make([]byte, len(payload))
	copy(p, payload)
	m.entries = append(m.entries, OutboundMessage{
		Nonce:      nonce,
		SrcAddr:    srcAddr,
		DstChainID: dstChainID,
		DstAddr:    dstAddr,
		Payload:    p,
	})
	return nonce
}

// After returns all entries with nonce strictly greater than the cursor,
// in nonce order.
func (m *OutboundMailbox) After(cursor uint64) []OutboundMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cursor >= uint64(len(m.entries)) {
		return nil
	}
	out := make([]OutboundMessage, len(m.entries)-int(cursor))
	copy(out, m.entries[cursor:])
	return out
}

// LatestNonce returns the highest assigned nonce, 0 if none.
func (m *OutboundMailbox) LatestNonce() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return uint64(len(m.entries))
}
