// Package endpoint implements the per-chain gatekeeper for inbound and
// outbound cross-chain messages: relay authorization, trusted remote
// endpoints, the idempotent delivery ledger, handler routing, and the
// outbound mailbox the relay polls.
//
// One Registry exists per logical chain and is passed explicitly into
// every operation; there is no process-wide state.
package endpoint

import (
	"fmt"
	"sync"

	"github.com/intentwire/gmp-relay/pkg/gmp"
	"github.com/intentwire/gmp-relay/pkg/logger"
)

// Handler is a local module that receives routed inbound messages and may
// send outbound ones. The payload passed to HandleMessage has a validated
// routing prefix; full decoding is the handler's responsibility.
type Handler interface {
	Address() gmp.Address
	HandleMessage(srcChainID uint32, srcAddr gmp.Address, payload []byte) error
}

// Registry is the endpoint configuration and gatekeeper for one chain.
type Registry struct {
	chainID   uint32
	localAddr gmp.Address
	log       logger.Logger

	mu       sync.Mutex
	relays   map[gmp.Address]bool
	remotes  map[uint32]map[gmp.Address]bool
	local    map[Handler]bool
	bindings map[gmp.MessageType][]Handler

	ledger  *DeliveryLedger
	mailbox *OutboundMailbox
}

// NewRegistry creates the endpoint for one chain. localAddr is the
// address this endpoint presents as src_addr on outbound messages.
func NewRegistry(chainID uint32, localAddr gmp.Address, log logger.Logger) *Registry {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Registry{
		chainID:   chainID,
		localAddr: localAddr,
		log:       log,
		relays:    make(map[gmp.Address]bool),
		remotes:   make(map[uint32]map[gmp.Address]bool),
		local:     make(map[Handler]bool),
		bindings:  make(map[gmp.MessageType][]Handler),
		ledger:    NewDeliveryLedger(),
		mailbox:   NewOutboundMailbox(),
	}
}

// ChainID returns the chain this endpoint serves.
func (r *Registry) ChainID() uint32 { return r.chainID }

// LocalAddr returns the address presented as src_addr on outbound traffic.
func (r *Registry) LocalAddr() gmp.Address { return r.localAddr }

// Ledger exposes the delivery ledger, primarily for inspection in tests
// and the status endpoint.
func (r *Registry) Ledger() *DeliveryLedger { return r.ledger }

// Mailbox exposes the outbound log the relay polls.
func (r *Registry) Mailbox() *OutboundMailbox { return r.mailbox }

// AddRelay authorizes a relay identity. Privileged.
func (r *Registry) AddRelay(relay gmp.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.relays[relay] = true
}

// RemoveRelay revokes a relay identity. Privileged.
func (r *Registry) RemoveRelay(relay gmp.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.relays, relay)
}

// IsRelayAuthorized reports whether the identity may call Deliver.
func (r *Registry) IsRelayAuthorized(relay gmp.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.relays[relay]
}

// SetRemoteEndpoint replaces the trusted sender set for a source chain
// with the single given address.
func (r *Registry) SetRemoteEndpoint(srcChainID uint32, addr gmp.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.remotes[srcChainID] = map[gmp.Address]bool{addr: true}
}

// AddRemoteEndpoint appends a trusted sender for a source chain. Multiple
// trusted senders per chain are supported, e.g. during a migration.
func (r *Registry) AddRemoteEndpoint(srcChainID uint32, addr gmp.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.remotes[srcChainID] == nil {
		r.remotes[srcChainID] = make(map[gmp.Address]bool)
	}
	r.remotes[srcChainID][addr] = true
}

// Register records a local handler so it may call Send.
func (r *Registry) Register(h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[h] = true
}

// Bind routes inbound messages of the given type to the handler. The
// handler is registered as a local sender as a side effect.
func (r *Registry) Bind(t gmp.MessageType, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local[h] = true
	r.bindings[t] = append(r.bindings[t], h)
}

// Deliver authenticates, deduplicates and routes one inbound message.
//
// Rejections for misconfiguration (unauthorized relay, untrusted remote,
// unbound handler, malformed payload) happen before the delivery ledger
// is touched, so a corrected retry can still succeed. The ledger is
// marked before any handler runs, which is what makes a re-entrant or
// concurrent duplicate a no-op; a handler failure gives the mark back,
// so the dedup slot is only ever consumed by a delivery whose effect
// actually stands.
func (r *Registry) Deliver(relay gmp.Address, srcChainID uint32, srcAddr gmp.Address, payload []byte) error {
	r.mu.Lock()

	if !r.relays[relay] {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s on chain %d", ErrUnauthorizedRelay, relay.Short(), r.chainID)
	}
	trusted := r.remotes[srcChainID]
	if len(trusted) == 0 {
		r.mu.Unlock()
		return fmt.Errorf("%w: chain %d", ErrNoRemoteEndpoint, srcChainID)
	}
	if !trusted[srcAddr] {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s for chain %d", ErrUnregisteredRemoteEndpoint, srcAddr.Short(), srcChainID)
	}

	msgType, intentID, err := gmp.RoutingPrefix(payload)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	// A valid prefix is not enough: a truncated or padded payload would
	// fail its handler's decode after consuming the dedup slot, making
	// the intent permanently undeliverable. Check the full frame here.
	size, err := msgType.EncodedSize()
	if err != nil || len(payload) != size {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s payload must be %d bytes, got %d",
			ErrInvalidPayload, msgType, size, len(payload))
	}

	handlers := r.bindings[msgType]
	if len(handlers) == 0 {
		// A silent drop would desynchronize the two chains' views of the
		// intent, so an unbound tag is a hard, retriable failure.
		r.mu.Unlock()
		return fmt.Errorf("%w: %s on chain %d", ErrNoBoundHandler, msgType, r.chainID)
	}

	key := gmp.NewDedupeKey(intentID, msgType)
	if !r.ledger.MarkDelivered(key) {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s intent %s", ErrAlreadyDelivered, msgType, intentID.Short())
	}
	r.mu.Unlock()

	r.log.DebugWithChain(int(r.chainID), "delivering %s for intent %s from chain %d",
		msgType, intentID.Short(), srcChainID)

	for _, h := range handlers {
		if err := h.HandleMessage(srcChainID, srcAddr, payload); err != nil {
			// The effect did not happen; give the mark back so the relay
			// can retry once the destination state allows it. Handlers
			// that already ran are idempotent on redelivery.
			r.ledger.Unmark(key)
			return fmt.Errorf("handler for %s failed: %w", msgType, err)
		}
	}
	return nil
}

// Send appends an outbound message to the mailbox and returns its nonce.
// Only registered local handlers may send; this is the sole mechanism by
// which outbound traffic becomes visible to the relay.
func (r *Registry) Send(from Handler, dstChainID uint32, dstAddr gmp.Address, payload []byte) (uint64, error) {
	r.mu.Lock()
	ok := r.local[from]
	r.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnregisteredSender, from.Address().Short())
	}

	nonce := r.mailbox.Append(r.localAddr, dstChainID, dstAddr, payload)
	r.log.DebugWithChain(int(r.chainID), "queued outbound message nonce=%d dst_chain=%d len=%d",
		nonce, dstChainID, len(payload))
	return nonce, nil
}
