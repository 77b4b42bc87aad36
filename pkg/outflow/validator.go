// Package outflow implements the connected-chain side for value flowing
// out of the hub: it stores requirements delivered from the hub and lets
// a solver satisfy them, emitting a fulfillment proof back.
package outflow

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/intentwire/gmp-relay/pkg/endpoint"
	"github.com/intentwire/gmp-relay/pkg/gmp"
	"github.com/intentwire/gmp-relay/pkg/logger"
	"github.com/intentwire/gmp-relay/pkg/token"
)

var (
	ErrRequirementsNotFound = errors.New("intent requirements not found")
	ErrAlreadyFulfilled     = errors.New("intent already fulfilled")
	ErrExpired              = errors.New("intent expired")
	ErrUnauthorizedSolver   = errors.New("caller is not the pinned solver")
	ErrTokenMismatch        = errors.New("token does not match requirements")
)

// Requirements is one stored outflow record. Fulfilled flips false->true
// exactly once; terminal records are retained.
type Requirements struct {
	IntentID       gmp.IntentID
	RequesterAddr  gmp.Address
	AmountRequired uint64
	TokenAddr      gmp.Address
	// SolverAddr pins fulfillment to one solver; the zero address means
	// any solver may fulfill.
	SolverAddr gmp.Address
	Expiry     uint64
	Fulfilled  bool
}

// Config wires a Validator into its chain.
type Config struct {
	ChainID    uint32
	Addr       gmp.Address
	Bank       *token.Bank
	Registry   *endpoint.Registry
	HubChainID uint32
	HubAddr    gmp.Address
	Logger     logger.Logger
	Now        func() time.Time
}

// Validator is the outflow requirements store and fulfillment gate for
// one chain.
type Validator struct {
	mu           sync.Mutex
	cfg          Config
	requirements map[gmp.IntentID]*Requirements
	now          func() time.Time
	log          logger.Logger
}

// NewValidator creates the validator and binds it to inbound
// IntentRequirements on the chain's endpoint.
func NewValidator(cfg Config) *Validator {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = &logger.EmptyLogger{}
	}
	v := &Validator{
		cfg:          cfg,
		requirements: make(map[gmp.IntentID]*Requirements),
		now:          cfg.Now,
		log:          cfg.Logger,
	}
	cfg.Registry.Bind(gmp.TypeIntentRequirements, v)
	return v
}

// Address implements endpoint.Handler.
func (v *Validator) Address() gmp.Address { return v.cfg.Addr }

// HandleMessage implements endpoint.Handler. Stores requirements
// idempotently: the delivery ledger should already have filtered true
// duplicates, so a duplicate here is logged and leaves state unchanged.
func (v *Validator) HandleMessage(srcChainID uint32, srcAddr gmp.Address, payload []byte) error {
	req, err := gmp.DecodeIntentRequirements(payload)
	if err != nil {
		return err
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.requirements[req.Intent]; ok {
		v.log.NoticeWithChain(int(v.cfg.ChainID), "duplicate requirements for intent %s from chain %d, ignoring",
			req.Intent.Short(), srcChainID)
		return nil
	}
	v.requirements[req.Intent] = &Requirements{
		IntentID:       req.Intent,
		RequesterAddr:  req.RequesterAddr,
		AmountRequired: req.AmountRequired,
		TokenAddr:      req.TokenAddr,
		SolverAddr:     req.SolverAddr,
		Expiry:         req.Expiry,
	}
	v.log.InfoWithChain(int(v.cfg.ChainID), "stored outflow requirements: intent=%s amount=%d token=%s",
		req.Intent.Short(), req.AmountRequired, req.TokenAddr.Short())
	return nil
}

// FulfillIntent pulls the required amount from the solver, forwards it to
// the requester, marks the requirements fulfilled, and queues a
// FulfillmentProof toward the hub. Callable by any solver unless the
// requirements pin one.
func (v *Validator) FulfillIntent(solver gmp.Address, intentID gmp.IntentID, tokenAddr gmp.Address) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	req, ok := v.requirements[intentID]
	if !ok {
		return fmt.Errorf("%w: intent %s", ErrRequirementsNotFound, intentID.Short())
	}
	if req.Fulfilled {
		return fmt.Errorf("%w: intent %s", ErrAlreadyFulfilled, intentID.Short())
	}
	if uint64(v.now().Unix()) > req.Expiry {
		return fmt.Errorf("%w: intent %s expired at %d", ErrExpired, intentID.Short(), req.Expiry)
	}
	if !req.SolverAddr.IsZero() && req.SolverAddr != solver {
		return fmt.Errorf("%w: pinned to %s", ErrUnauthorizedSolver, req.SolverAddr.Short())
	}
	if tokenAddr != req.TokenAddr {
		return fmt.Errorf("%w: got %s, require %s", ErrTokenMismatch,
			tokenAddr.Short(), req.TokenAddr.Short())
	}

	if err := v.cfg.Bank.Transfer(tokenAddr, solver, req.RequesterAddr, req.AmountRequired); err != nil {
		return fmt.Errorf("fulfillment transfer failed: %w", err)
	}
	req.Fulfilled = true

	proof := &gmp.FulfillmentProof{
		Intent:          intentID,
		SolverAddr:      solver,
		AmountFulfilled: req.AmountRequired,
		Timestamp:       uint64(v.now().Unix()),
	}
	if _, err := v.cfg.Registry.Send(v, v.cfg.HubChainID, v.cfg.HubAddr, proof.Encode()); err != nil {
		v.log.ErrorWithChain(int(v.cfg.ChainID), "failed to queue fulfillment proof for intent %s: %v",
			intentID.Short(), err)
	}

	v.log.NoticeWithChain(int(v.cfg.ChainID), "intent fulfilled: intent=%s solver=%s amount=%d",
		intentID.Short(), solver.Short(), req.AmountRequired)
	return nil
}

// Get returns a copy of the stored requirements, if any.
func (v *Validator) Get(intentID gmp.IntentID) (Requirements, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	req, ok := v.requirements[intentID]
	if !ok {
		return Requirements{}, false
	}
	return *req, true
}
