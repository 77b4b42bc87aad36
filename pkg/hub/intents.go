// Package hub tracks intents on the hub chain: requirements sent outward
// to connected chains, and confirmations and proofs received inward.
package hub

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/intentwire/gmp-relay/pkg/endpoint"
	"github.com/intentwire/gmp-relay/pkg/gmp"
	"github.com/intentwire/gmp-relay/pkg/logger"
)

var ErrIntentExists = errors.New("intent already exists")

// Status is the hub-side view of an intent's progress.
type Status uint8

const (
	StatusPending Status = iota
	StatusEscrowConfirmed
	StatusFulfilled
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "Pending"
	case StatusEscrowConfirmed:
		return "EscrowConfirmed"
	case StatusFulfilled:
		return "Fulfilled"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// Intent is the hub's local record of one intent.
type Intent struct {
	ID             gmp.IntentID
	Requester      gmp.Address
	AmountRequired uint64
	Token          gmp.Address
	Solver         gmp.Address
	Expiry         uint64
	DstChainID     uint32
	Status         Status

	// Filled in from inbound messages.
	EscrowID        [32]byte
	AmountEscrowed  uint64
	FulfilledBy     gmp.Address
	AmountFulfilled uint64
	FulfilledAt     uint64
}

// Config wires the hub module into its chain.
type Config struct {
	ChainID  uint32
	Addr     gmp.Address
	Registry *endpoint.Registry
	Logger   logger.Logger
	Now      func() time.Time
}

// Module is the hub-side intent registry.
type Module struct {
	mu      sync.Mutex
	cfg     Config
	intents map[gmp.IntentID]*Intent
	log     logger.Logger
}

// NewModule creates the hub module and binds it to inbound escrow
// confirmations and fulfillment proofs.
func NewModule(cfg Config) *Module {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = &logger.EmptyLogger{}
	}
	m := &Module{
		cfg:     cfg,
		intents: make(map[gmp.IntentID]*Intent),
		log:     cfg.Logger,
	}
	cfg.Registry.Bind(gmp.TypeEscrowConfirmation, m)
	cfg.Registry.Bind(gmp.TypeFulfillmentProof, m)
	return m
}

// Address implements endpoint.Handler.
func (m *Module) Address() gmp.Address { return m.cfg.Addr }

// CreateIntent records a new intent and queues its requirements toward
// the connected chain that will fulfill it.
func (m *Module) CreateIntent(id gmp.IntentID, requester gmp.Address, amount uint64,
	tokenAddr, solver gmp.Address, expiry uint64, dstChainID uint32, dstAddr gmp.Address,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.intents[id]; ok {
		return fmt.Errorf("%w: %s", ErrIntentExists, id.Short())
	}

	m.intents[id] = &Intent{
		ID:             id,
		Requester:      requester,
		AmountRequired: amount,
		Token:          tokenAddr,
		Solver:         solver,
		Expiry:         expiry,
		DstChainID:     dstChainID,
		Status:         StatusPending,
	}

	req := &gmp.IntentRequirements{
		Intent:         id,
		RequesterAddr:  requester,
		AmountRequired: amount,
		TokenAddr:      tokenAddr,
		SolverAddr:     solver,
		Expiry:         expiry,
	}
	if _, err := m.cfg.Registry.Send(m, dstChainID, dstAddr, req.Encode()); err != nil {
		delete(m.intents, id)
		return fmt.Errorf("failed to queue intent requirements: %w", err)
	}

	m.log.InfoWithChain(int(m.cfg.ChainID), "intent created: id=%s amount=%d dst_chain=%d",
		id.Short(), amount, dstChainID)
	return nil
}

// HandleMessage implements endpoint.Handler.
func (m *Module) HandleMessage(srcChainID uint32, srcAddr gmp.Address, payload []byte) error {
	t, err := gmp.PeekType(payload)
	if err != nil {
		return err
	}
	switch t {
	case gmp.TypeEscrowConfirmation:
		conf, err := gmp.DecodeEscrowConfirmation(payload)
		if err != nil {
			return err
		}
		return m.onEscrowConfirmation(conf, srcChainID)
	case gmp.TypeFulfillmentProof:
		proof, err := gmp.DecodeFulfillmentProof(payload)
		if err != nil {
			return err
		}
		return m.onFulfillmentProof(proof, srcChainID)
	default:
		return fmt.Errorf("hub module cannot handle %s", t)
	}
}

// onEscrowConfirmation marks the local record escrow-confirmed,
// unblocking downstream fulfillment for the inflow direction.
func (m *Module) onEscrowConfirmation(conf *gmp.EscrowConfirmation, srcChainID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[conf.Intent]
	if !ok {
		m.log.NoticeWithChain(int(m.cfg.ChainID), "escrow confirmation for untracked intent %s from chain %d",
			conf.Intent.Short(), srcChainID)
		return nil
	}
	if intent.Status == StatusPending {
		intent.Status = StatusEscrowConfirmed
	}
	intent.EscrowID = conf.EscrowID
	intent.AmountEscrowed = conf.AmountEscrowed

	m.log.InfoWithChain(int(m.cfg.ChainID), "escrow confirmed for intent %s: amount=%d",
		conf.Intent.Short(), conf.AmountEscrowed)
	return nil
}

// onFulfillmentProof records fulfillment for a tracked intent. Untracked
// intents no-op: the hub may be relaying a proof onward to a third chain
// in a multi-hop flow without tracking the intent itself.
func (m *Module) onFulfillmentProof(proof *gmp.FulfillmentProof, srcChainID uint32) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	intent, ok := m.intents[proof.Intent]
	if !ok {
		m.log.DebugWithChain(int(m.cfg.ChainID), "fulfillment proof for untracked intent %s from chain %d, ignoring",
			proof.Intent.Short(), srcChainID)
		return nil
	}

	intent.Status = StatusFulfilled
	intent.FulfilledBy = proof.SolverAddr
	intent.AmountFulfilled = proof.AmountFulfilled
	intent.FulfilledAt = proof.Timestamp

	m.log.NoticeWithChain(int(m.cfg.ChainID), "intent fulfilled: id=%s solver=%s amount=%d",
		proof.Intent.Short(), proof.SolverAddr.Short(), proof.AmountFulfilled)
	return nil
}

// Get returns a copy of the tracked intent, if any.
func (m *Module) Get(id gmp.IntentID) (Intent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return Intent{}, false
	}
	return *intent, true
}
