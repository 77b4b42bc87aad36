package endpoint

import (
	"sync"

	"github.com/intentwire/gmp-relay/pkg/gmp"
)

// DeliveryLedger is the per-chain idempotent-delivery record: the sole
// exactly-once mechanism for fund-moving effects. A key stays marked for
// as long as its handler effect stands; a failed handler gives the mark
// back so the message remains deliverable.
type DeliveryLedger struct {
	mu        sync.Mutex
	delivered map[gmp.DedupeKey]bool
}

// NewDeliveryLedger creates an empty ledger.
func NewDeliveryLedger() *DeliveryLedger {
	return &DeliveryLedger{delivered: make(map[gmp.DedupeKey]bool)}
}

// IsDelivered reports whether the key has been marked.
func (l *DeliveryLedger) IsDelivered(key gmp.DedupeKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.delivered[key]
}

// MarkDelivered marks the key and reports whether this call was the first
// to do so.
func (l *DeliveryLedger) MarkDelivered(key gmp.DedupeKey) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.delivered[key] {
		return false
	}
	l.delivered[key] = true
	return true
}

// Unmark clears the key so the message can be delivered again. Used only
// to undo a mark whose handler produced no effect.
func (l *DeliveryLedger) Unmark(key gmp.DedupeKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.delivered, key)
}

// Size returns the number of recorded deliveries.
func (l *DeliveryLedger) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.delivered)
}
