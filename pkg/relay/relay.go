// Package relay moves messages between chains: it polls each source
// chain's outbound mailbox and submits entries to the matching
// destination endpoint, retrying until accepted. The relay guarantees
// at-least-once delivery only; the exactly-once end effect is entirely
// the destination's delivery ledger's responsibility.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/intentwire/gmp-relay/pkg/circuitbreaker"
	"github.com/intentwire/gmp-relay/pkg/endpoint"
	"github.com/intentwire/gmp-relay/pkg/gmp"
	"github.com/intentwire/gmp-relay/pkg/logger"
	"github.com/intentwire/gmp-relay/pkg/metrics"
)

// Source is the read side of a chain's outbound mailbox.
type Source interface {
	ChainID() uint32
	MessagesAfter(ctx context.Context, cursor uint64) ([]endpoint.OutboundMessage, error)
}

// Destination accepts inbound deliveries for a chain.
type Destination interface {
	ChainID() uint32
	Deliver(ctx context.Context, srcChainID uint32, srcAddr gmp.Address, payload []byte) error
}

// Pair is one directed (source, destination) polling assignment. A
// single relay instance must be the only writer for a pair; concurrent
// relays targeting the same pair are only safe because the destination
// ledger is idempotent.
type Pair struct {
	Source      Source
	Destination Destination
}

// EndpointChain adapts an in-process endpoint.Registry to the Source and
// Destination interfaces, presenting the given relay identity on
// Deliver.
type EndpointChain struct {
	Registry *endpoint.Registry
	RelayID  gmp.Address
}

func (c *EndpointChain) ChainID() uint32 { return c.Registry.ChainID() }

func (c *EndpointChain) MessagesAfter(_ context.Context, cursor uint64) ([]endpoint.OutboundMessage, error) {
	return c.Registry.Mailbox().After(cursor), nil
}

func (c *EndpointChain) Deliver(_ context.Context, srcChainID uint32, srcAddr gmp.Address, payload []byte) error {
	return c.Registry.Deliver(c.RelayID, srcChainID, srcAddr, payload)
}

// Config holds the relay service settings.
type Config struct {
	PollInterval   time.Duration
	DeliverTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	Cursors        CursorStore
	Breakers       map[uint32]*circuitbreaker.CircuitBreaker // keyed by destination chain
	Logger         logger.Logger
}

// Service runs one polling task per configured pair. Tasks share no
// mutable state beyond their own cursor.
type Service struct {
	cfg   Config
	pairs []Pair
	wg    sync.WaitGroup
	log   logger.Logger

	mu      sync.Mutex
	cursors map[[2]uint32]uint64 // live view for the status endpoint
}

// NewService validates the configuration and creates the service.
func NewService(cfg Config, pairs []Pair) (*Service, error) {
	if len(pairs) == 0 {
		return nil, fmt.Errorf("at least one chain pair is required")
	}
	if cfg.Cursors == nil {
		return nil, fmt.Errorf("cursor store is required")
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.DeliverTimeout <= 0 {
		cfg.DeliverTimeout = 30 * time.Second
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = time.Second
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = &logger.EmptyLogger{}
	}
	return &Service{
		cfg:     cfg,
		pairs:   pairs,
		log:     cfg.Logger,
		cursors: make(map[[2]uint32]uint64),
	}, nil
}

// Start launches one poller per pair and blocks until the context is
// cancelled and all pollers have drained.
func (s *Service) Start(ctx context.Context) {
	s.log.Info("Starting relay service with %d chain pairs, polling every %v",
		len(s.pairs), s.cfg.PollInterval)
	for _, pair := range s.pairs {
		s.wg.Add(1)
		go s.runPair(ctx, pair)
	}
	s.wg.Wait()
	s.log.Info("Relay service stopped")
}

// Cursor returns the live cursor for a pair, for the status endpoint.
func (s *Service) Cursor(src, dst uint32) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[[2]uint32{src, dst}]
}

// Pairs returns the configured (source, destination) chain id pairs.
func (s *Service) Pairs() [][2]uint32 {
	out := make([][2]uint32, 0, len(s.pairs))
	for _, p := range s.pairs {
		out = append(out, [2]uint32{p.Source.ChainID(), p.Destination.ChainID()})
	}
	return out
}

func (s *Service) runPair(ctx context.Context, pair Pair) {
	defer s.wg.Done()

	src := pair.Source.ChainID()
	dst := pair.Destination.ChainID()
	srcLabel := strconv.FormatUint(uint64(src), 10)
	dstLabel := strconv.FormatUint(uint64(dst), 10)

	cursor, err := s.cfg.Cursors.Load(src, dst)
	if err != nil {
		s.log.Error("Failed to load cursor for pair %d->%d, starting from zero: %v", src, dst, err)
		cursor = 0
	}
	s.setCursor(src, dst, cursor)
	s.log.InfoWithChain(int(src), "poller started for pair %d->%d, cursor=%d", src, dst, cursor)

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.InfoWithChain(int(src), "poller for pair %d->%d shutting down", src, dst)
			return
		case <-ticker.C:
			entries, err := pair.Source.MessagesAfter(ctx, cursor)
			if err != nil {
				s.log.ErrorWithChain(int(src), "failed to read mailbox for pair %d->%d: %v", src, dst, err)
				continue
			}

			pending := 0
			for _, entry := range entries {
				if entry.DstChainID == dst {
					pending++
				}
			}
			metrics.PendingMessages.WithLabelValues(srcLabel, dstLabel).Set(float64(pending))

			for _, entry := range entries {
				if entry.DstChainID != dst {
					// Another pair's poller owns this entry. Persist the
					// skip immediately: a later entry may block in its
					// retry loop until shutdown, and a restart must not
					// re-scan past progress.
					cursor = entry.Nonce
					s.persistCursor(src, dst, cursor, srcLabel, dstLabel)
					continue
				}
				if err := s.deliverUntilAccepted(ctx, pair, entry, dstLabel, srcLabel); err != nil {
					// Only context cancellation escapes the retry loop.
					return
				}
				cursor = entry.Nonce
				s.persistCursor(src, dst, cursor, srcLabel, dstLabel)
			}
		}
	}
}

// deliverUntilAccepted retries one mailbox entry with exponential backoff
// and no attempt cap until the destination accepts it or reports a
// success-equivalent condition. Returns an error only on context
// cancellation.
func (s *Service) deliverUntilAccepted(ctx context.Context, pair Pair, entry endpoint.OutboundMessage, dstLabel, srcLabel string) error {
	src := pair.Source.ChainID()
	dst := pair.Destination.ChainID()
	breaker := s.cfg.Breakers[dst]

	msgType := "unknown"
	if t, err := gmp.PeekType(entry.Payload); err == nil {
		msgType = t.String()
	}

	start := time.Now()
	for attempt := 0; ; attempt++ {
		if breaker != nil && breaker.IsEnabled() && breaker.IsOpen() {
			metrics.CircuitOpen.WithLabelValues(dstLabel).Set(1)
			s.log.NoticeWithChain(int(dst), "circuit open for chain %d, delaying nonce %d", dst, entry.Nonce)
			if err := sleepCtx(ctx, s.cfg.MaxBackoff); err != nil {
				return err
			}
			continue
		}
		if breaker != nil {
			metrics.CircuitOpen.WithLabelValues(dstLabel).Set(0)
		}

		attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.DeliverTimeout)
		err := pair.Destination.Deliver(attemptCtx, src, entry.SrcAddr, entry.Payload)
		cancel()

		if err == nil {
			metrics.MessagesRelayed.WithLabelValues(srcLabel, dstLabel, msgType).Inc()
			metrics.DeliveryLatency.WithLabelValues(dstLabel).Observe(time.Since(start).Seconds())
			s.log.InfoWithChain(int(dst), "delivered %s nonce=%d from chain %d after %d attempts",
				msgType, entry.Nonce, src, attempt+1)
			return nil
		}

		settled, errorType := classifyError(err)
		if settled {
			// AlreadyDelivered or a terminal intent state: the end effect
			// exists, so the message is done.
			metrics.AlreadyDelivered.WithLabelValues(srcLabel, dstLabel).Inc()
			s.log.DebugWithChain(int(dst), "nonce %d already settled on chain %d (%s)",
				entry.Nonce, dst, errorType)
			return nil
		}

		metrics.DeliveryErrors.WithLabelValues(dstLabel, errorType).Inc()
		metrics.DeliveryRetries.WithLabelValues(dstLabel).Inc()
		if breaker != nil {
			breaker.RecordFailure()
		}

		backoff := s.backoff(attempt)
		s.log.ErrorWithChain(int(dst), "delivery of nonce %d to chain %d failed (%s), retrying in %v: %v",
			entry.Nonce, dst, errorType, backoff, err)
		if err := sleepCtx(ctx, backoff); err != nil {
			return err
		}
	}
}

func (s *Service) backoff(attempt int) time.Duration {
	d := time.Duration(math.Pow(2, float64(attempt))) * s.cfg.BaseBackoff
	if d > s.cfg.MaxBackoff || d <= 0 {
		d = s.cfg.MaxBackoff
	}
	return d
}

// persistCursor saves a pair's cursor and updates the live view and
// gauge. Persistence failures are logged, not fatal: the worst case on
// restart is re-scanning entries the destination ledger will filter.
func (s *Service) persistCursor(src, dst uint32, nonce uint64, srcLabel, dstLabel string) {
	if err := s.cfg.Cursors.Save(src, dst, nonce); err != nil {
		s.log.Error("Failed to persist cursor %d for pair %d->%d: %v", nonce, src, dst, err)
	}
	s.setCursor(src, dst, nonce)
	metrics.CursorNonce.WithLabelValues(srcLabel, dstLabel).Set(float64(nonce))
}

func (s *Service) setCursor(src, dst uint32, nonce uint64) {
	s.mu.Lock()
	s.cursors[[2]uint32{src, dst}] = nonce
	s.mu.Unlock()
}

// classifyError decides whether a delivery error is success-equivalent
// and labels it for metrics. Everything that is not success-equivalent is
// retriable: a misconfiguration (relay not yet authorized, remote not yet
// trusted, handler not yet bound) never marks the destination ledger, so
// a corrected retry can still succeed.
func classifyError(err error) (settled bool, errorType string) {
	if errors.Is(err, endpoint.ErrAlreadyDelivered) {
		return true, "already_delivered"
	}

	errStr := err.Error()

	// Terminal intent state on the destination: the fund-moving effect
	// already happened through some path.
	if strings.Contains(errStr, "already released") ||
		strings.Contains(errStr, "already fulfilled") ||
		strings.Contains(errStr, "already cancelled") {
		return true, "terminal_state"
	}

	switch {
	case errors.Is(err, endpoint.ErrUnauthorizedRelay):
		return false, "unauthorized_relay"
	case errors.Is(err, endpoint.ErrNoRemoteEndpoint),
		errors.Is(err, endpoint.ErrUnregisteredRemoteEndpoint):
		return false, "untrusted_remote"
	case errors.Is(err, endpoint.ErrNoBoundHandler):
		return false, "no_bound_handler"
	case errors.Is(err, endpoint.ErrInvalidPayload):
		return false, "invalid_payload"
	case errors.Is(err, context.DeadlineExceeded),
		strings.Contains(errStr, "timeout"),
		strings.Contains(errStr, "connection refused"),
		strings.Contains(errStr, "EOF"):
		return false, "network_error"
	default:
		return false, "unknown_error"
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
