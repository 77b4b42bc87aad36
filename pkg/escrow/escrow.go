// Package escrow implements the connected-chain state machine for value
// flowing into the hub's counterpart: deposits are held in custody until
// a fulfillment proof releases them to the solver reserved at creation
// time, or until expiry lets the requester cancel.
package escrow

import (
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/intentwire/gmp-relay/pkg/endpoint"
	"github.com/intentwire/gmp-relay/pkg/gmp"
	"github.com/intentwire/gmp-relay/pkg/logger"
	"github.com/intentwire/gmp-relay/pkg/token"
)

// State is the escrow lifecycle state. Open is the only non-terminal
// state; exactly one of Released or Cancelled is ever reached.
type State uint8

const (
	Open State = iota
	Released
	Cancelled
)

func (s State) String() string {
	switch s {
	case Open:
		return "Open"
	case Released:
		return "Released"
	case Cancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// ReleaseMode selects how funds leave an open escrow. The two paths are
// mutually exclusive within one deployment.
type ReleaseMode uint8

const (
	// ReleaseModeGMP releases on an inbound FulfillmentProof message.
	ReleaseModeGMP ReleaseMode = iota
	// ReleaseModeClaim releases on a native signature from a trusted
	// off-chain approver, with no message-passing involved.
	ReleaseModeClaim
)

// DefaultExpiryDuration applies when Create is called without an explicit
// expiry duration.
const DefaultExpiryDuration = 24 * time.Hour

// Escrow is one custody record. Amount is zero exactly when the state has
// left Open. Terminal records are retained for idempotency and audit.
type Escrow struct {
	IntentID       gmp.IntentID
	Requester      gmp.Address
	Token          gmp.Address
	Amount         uint64
	ReservedSolver gmp.Address
	Expiry         time.Time
	State          State
}

// storedRequirements mirrors an IntentRequirements message delivered from
// the hub, used to cross-check deposits at creation time.
type storedRequirements struct {
	requester      gmp.Address
	amountRequired uint64
	tokenAddr      gmp.Address
	solverAddr     gmp.Address
	expiry         uint64
	escrowCreated  bool
}

// Config wires a Module into its chain.
type Config struct {
	ChainID    uint32
	Addr       gmp.Address // module address; doubles as the custody account
	Bank       *token.Bank
	Registry   *endpoint.Registry
	HubChainID uint32
	HubAddr    gmp.Address
	Mode       ReleaseMode
	// Approver is the secp256k1 signer trusted by the claim path.
	// Required in claim mode, ignored otherwise.
	Approver      gmp.Address
	DefaultExpiry time.Duration
	Logger        logger.Logger
	Now           func() time.Time
}

// Module is the escrow state machine for one chain.
type Module struct {
	mu           sync.Mutex
	cfg          Config
	escrows      map[gmp.IntentID]*Escrow
	requirements map[gmp.IntentID]*storedRequirements
	now          func() time.Time
	log          logger.Logger
}

// NewModule creates the escrow module and registers it with the chain's
// endpoint. In GMP mode it binds the fulfillment proof handler; it always
// binds intent requirements so deposits can be validated against them.
func NewModule(cfg Config) *Module {
	if cfg.DefaultExpiry <= 0 {
		cfg.DefaultExpiry = DefaultExpiryDuration
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = &logger.EmptyLogger{}
	}
	m := &Module{
		cfg:          cfg,
		escrows:      make(map[gmp.IntentID]*Escrow),
		requirements: make(map[gmp.IntentID]*storedRequirements),
		now:          cfg.Now,
		log:          cfg.Logger,
	}
	cfg.Registry.Register(m)
	cfg.Registry.Bind(gmp.TypeIntentRequirements, m)
	if cfg.Mode == ReleaseModeGMP {
		cfg.Registry.Bind(gmp.TypeFulfillmentProof, m)
	}
	return m
}

// Address implements endpoint.Handler.
func (m *Module) Address() gmp.Address { return m.cfg.Addr }

// HandleMessage implements endpoint.Handler. Invoked only via the
// endpoint's Deliver routing, never directly by users.
func (m *Module) HandleMessage(srcChainID uint32, srcAddr gmp.Address, payload []byte) error {
	t, err := gmp.PeekType(payload)
	if err != nil {
		return err
	}
	switch t {
	case gmp.TypeIntentRequirements:
		req, err := gmp.DecodeIntentRequirements(payload)
		if err != nil {
			return err
		}
		return m.onIntentRequirements(req)
	case gmp.TypeFulfillmentProof:
		proof, err := gmp.DecodeFulfillmentProof(payload)
		if err != nil {
			return err
		}
		return m.onFulfillmentProof(proof)
	default:
		return fmt.Errorf("escrow module cannot handle %s", t)
	}
}

// onIntentRequirements stores hub-authored requirements for later
// cross-checking at Create. Idempotent: the delivery ledger filters true
// duplicates; anything that still arrives twice is logged and ignored.
func (m *Module) onIntentRequirements(req *gmp.IntentRequirements) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requirements[req.Intent]; ok {
		m.log.NoticeWithChain(int(m.cfg.ChainID), "duplicate requirements for intent %s, ignoring",
			req.Intent.Short())
		return nil
	}
	m.requirements[req.Intent] = &storedRequirements{
		requester:      req.RequesterAddr,
		amountRequired: req.AmountRequired,
		tokenAddr:      req.TokenAddr,
		solverAddr:     req.SolverAddr,
		expiry:         req.Expiry,
	}
	m.log.InfoWithChain(int(m.cfg.ChainID), "stored requirements for intent %s: amount=%d token=%s",
		req.Intent.Short(), req.AmountRequired, req.TokenAddr.Short())
	return nil
}

// Create debits the requester into custody and opens the escrow. If
// requirements delivered from the hub exist for the intent, the deposit
// is validated against them. An EscrowConfirmation is queued toward the
// hub on success. expiryDuration <= 0 selects the deployment default.
func (m *Module) Create(intentID gmp.IntentID, requester gmp.Address, amount uint64,
	tokenAddr, reservedSolver gmp.Address, expiryDuration time.Duration,
) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.escrows[intentID]; ok {
		return fmt.Errorf("%w: intent %s", ErrAlreadyExists, intentID.Short())
	}
	if amount == 0 {
		return ErrZeroAmount
	}
	if reservedSolver.IsZero() {
		return ErrInvalidSolver
	}

	req := m.requirements[intentID]
	if req != nil {
		if req.escrowCreated {
			return fmt.Errorf("%w: intent %s", ErrEscrowAlreadyCreated, intentID.Short())
		}
		if amount < req.amountRequired {
			return fmt.Errorf("%w: deposit %d, required %d", ErrAmountMismatch, amount, req.amountRequired)
		}
		if tokenAddr != req.tokenAddr {
			return fmt.Errorf("%w: deposit %s, required %s", ErrTokenMismatch,
				tokenAddr.Short(), req.tokenAddr.Short())
		}
	}

	if expiryDuration <= 0 {
		expiryDuration = m.cfg.DefaultExpiry
	}

	// Debit into custody and record the escrow as one unit under the lock.
	if err := m.cfg.Bank.Transfer(tokenAddr, requester, m.cfg.Addr, amount); err != nil {
		return fmt.Errorf("escrow deposit failed: %w", err)
	}

	esc := &Escrow{
		IntentID:       intentID,
		Requester:      requester,
		Token:          tokenAddr,
		Amount:         amount,
		ReservedSolver: reservedSolver,
		Expiry:         m.now().Add(expiryDuration),
		State:          Open,
	}
	m.escrows[intentID] = esc
	if req != nil {
		req.escrowCreated = true
	}

	confirmation := &gmp.EscrowConfirmation{
		Intent:         intentID,
		EscrowID:       escrowID(intentID),
		AmountEscrowed: amount,
		TokenAddr:      tokenAddr,
		CreatorAddr:    requester,
	}
	if _, err := m.cfg.Registry.Send(m, m.cfg.HubChainID, m.cfg.HubAddr, confirmation.Encode()); err != nil {
		m.log.ErrorWithChain(int(m.cfg.ChainID), "failed to queue escrow confirmation for intent %s: %v",
			intentID.Short(), err)
	}

	m.log.InfoWithChain(int(m.cfg.ChainID), "escrow created: intent=%s amount=%d expiry=%s",
		intentID.Short(), amount, esc.Expiry.Format(time.RFC3339))
	return nil
}

// onFulfillmentProof releases an open escrow to the solver reserved at
// creation time. The proof's solver field is deliberately ignored here:
// binding the payee at creation removes that field from this chain's
// trust boundary, so a compromised relay cannot redirect funds.
func (m *Module) onFulfillmentProof(proof *gmp.FulfillmentProof) error {
	if m.cfg.Mode != ReleaseModeGMP {
		return ErrProofDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	esc, ok := m.escrows[proof.Intent]
	if !ok {
		return fmt.Errorf("%w: intent %s", ErrDoesNotExist, proof.Intent.Short())
	}
	if esc.State != Open {
		return fmt.Errorf("%w: intent %s is %s", ErrAlreadyReleased, proof.Intent.Short(), esc.State)
	}

	if err := m.release(esc); err != nil {
		return err
	}
	m.log.NoticeWithChain(int(m.cfg.ChainID), "escrow released via fulfillment proof: intent=%s solver=%s",
		proof.Intent.Short(), esc.ReservedSolver.Short())
	return nil
}

// Cancel refunds an expired open escrow to its requester. Only the
// original requester may cancel, and only strictly after expiry.
func (m *Module) Cancel(caller gmp.Address, intentID gmp.IntentID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	esc, ok := m.escrows[intentID]
	if !ok {
		return fmt.Errorf("%w: intent %s", ErrDoesNotExist, intentID.Short())
	}
	if esc.State != Open {
		return fmt.Errorf("%w: intent %s is %s", ErrAlreadyReleased, intentID.Short(), esc.State)
	}
	if esc.Requester != caller {
		return ErrUnauthorizedRequester
	}
	if !m.now().After(esc.Expiry) {
		return fmt.Errorf("%w: expires at %s", ErrNotExpiredYet, esc.Expiry.Format(time.RFC3339))
	}

	amount := esc.Amount
	if err := m.cfg.Bank.Transfer(esc.Token, m.cfg.Addr, esc.Requester, amount); err != nil {
		return fmt.Errorf("escrow refund failed: %w", err)
	}
	esc.Amount = 0
	esc.State = Cancelled

	m.log.InfoWithChain(int(m.cfg.ChainID), "escrow cancelled: intent=%s refund=%d",
		intentID.Short(), amount)
	return nil
}

// Claim releases an open escrow on a native secp256k1 signature over
// keccak256(intent_id) by the configured approver. This is the non-GMP
// fallback for deployments that trust a single off-chain signer; it is
// rejected outright when the deployment uses the proof-message path.
func (m *Module) Claim(intentID gmp.IntentID, signature []byte) error {
	if m.cfg.Mode != ReleaseModeClaim {
		return ErrClaimDisabled
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	esc, ok := m.escrows[intentID]
	if !ok {
		return fmt.Errorf("%w: intent %s", ErrDoesNotExist, intentID.Short())
	}
	if esc.State != Open {
		return fmt.Errorf("%w: intent %s is %s", ErrAlreadyReleased, intentID.Short(), esc.State)
	}
	if m.now().After(esc.Expiry) {
		return fmt.Errorf("%w: expired at %s", ErrExpired, esc.Expiry.Format(time.RFC3339))
	}

	digest := crypto.Keccak256(intentID[:])
	pub, err := crypto.SigToPub(digest, signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	signer, err := gmp.AddressFromBytes(crypto.PubkeyToAddress(*pub).Bytes())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if signer != m.cfg.Approver {
		return fmt.Errorf("%w: signed by %s", ErrInvalidSignature, signer.Short())
	}

	if err := m.release(esc); err != nil {
		return err
	}
	m.log.NoticeWithChain(int(m.cfg.ChainID), "escrow claimed via approver signature: intent=%s",
		intentID.Short())
	return nil
}

// release pays out to the reserved solver and moves to Released. Caller
// must hold m.mu and have verified the escrow is Open.
func (m *Module) release(esc *Escrow) error {
	amount := esc.Amount
	if err := m.cfg.Bank.Transfer(esc.Token, m.cfg.Addr, esc.ReservedSolver, amount); err != nil {
		return fmt.Errorf("escrow payout failed: %w", err)
	}
	esc.Amount = 0
	esc.State = Released
	return nil
}

// Get returns a copy of the escrow record, if any.
func (m *Module) Get(intentID gmp.IntentID) (Escrow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	esc, ok := m.escrows[intentID]
	if !ok {
		return Escrow{}, false
	}
	return *esc, true
}

// escrowID derives the deterministic escrow identifier reported in
// confirmations toward the hub.
func escrowID(intentID gmp.IntentID) [32]byte {
	var id [32]byte
	copy(id[:], crypto.Keccak256([]byte("escrow"), intentID[:]))
	return id
}
