package relay

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/intentwire/gmp-relay/pkg/endpoint"
	"github.com/intentwire/gmp-relay/pkg/gmp"
	"github.com/intentwire/gmp-relay/pkg/metrics"
)

var relayID = addrOf(0x99)

func addrOf(b byte) gmp.Address {
	var a gmp.Address
	a[31] = b
	return a
}

func intentOf(b byte) gmp.IntentID {
	var id gmp.IntentID
	id[31] = b
	return id
}

func proofPayload(b byte) []byte {
	return (&gmp.FulfillmentProof{Intent: intentOf(b), AmountFulfilled: 1}).Encode()
}

// countingHandler records deliveries on the destination chain.
type countingHandler struct {
	addr  gmp.Address
	calls chan gmp.IntentID
}

func newCountingHandler(addr gmp.Address) *countingHandler {
	return &countingHandler{addr: addr, calls: make(chan gmp.IntentID, 64)}
}

func (h *countingHandler) Address() gmp.Address { return h.addr }

func (h *countingHandler) HandleMessage(srcChainID uint32, srcAddr gmp.Address, payload []byte) error {
	_, id, err := gmp.RoutingPrefix(payload)
	if err != nil {
		return err
	}
	h.calls <- id
	return nil
}

type testNet struct {
	src     *endpoint.Registry
	dst     *endpoint.Registry
	sender  *countingHandler
	handler *countingHandler
}

// newTestNet wires two chains: a sender handler on chain 1 and a proof
// handler on chain 2, with the relay authorized on the destination.
func newTestNet(t *testing.T) *testNet {
	t.Helper()
	src := endpoint.NewRegistry(1, addrOf(0x01), nil)
	dst := endpoint.NewRegistry(2, addrOf(0x02), nil)
	dst.AddRelay(relayID)
	dst.SetRemoteEndpoint(1, src.LocalAddr())

	sender := newCountingHandler(addrOf(0x0A))
	src.Register(sender)
	handler := newCountingHandler(addrOf(0x0B))
	dst.Bind(gmp.TypeFulfillmentProof, handler)

	return &testNet{src: src, dst: dst, sender: sender, handler: handler}
}

func (n *testNet) pair() Pair {
	return Pair{
		Source:      &EndpointChain{Registry: n.src, RelayID: relayID},
		Destination: &EndpointChain{Registry: n.dst, RelayID: relayID},
	}
}

func fastConfig(cursors CursorStore) Config {
	return Config{
		PollInterval:   5 * time.Millisecond,
		DeliverTimeout: time.Second,
		BaseBackoff:    time.Millisecond,
		MaxBackoff:     10 * time.Millisecond,
		Cursors:        cursors,
	}
}

func startService(t *testing.T, svc *Service) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()
	return func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("relay service did not stop")
		}
	}
}

func waitDelivery(t *testing.T, h *countingHandler, want gmp.IntentID) {
	t.Helper()
	select {
	case got := <-h.calls:
		assert.Equal(t, want, got)
	case <-time.After(5 * time.Second):
		t.Fatalf("timed out waiting for delivery of intent %s", want.Short())
	}
}

func TestServiceDeliversAcrossChains(t *testing.T) {
	net := newTestNet(t)
	svc, err := NewService(fastConfig(NewMemoryCursorStore()), []Pair{net.pair()})
	require.NoError(t, err)
	stop := startService(t, svc)
	defer stop()

	for i := byte(1); i <= 3; i++ {
		_, err := net.src.Send(net.sender, 2, addrOf(0x0B), proofPayload(i))
		require.NoError(t, err)
	}
	for i := byte(1); i <= 3; i++ {
		waitDelivery(t, net.handler, intentOf(i))
	}

	assert.Eventually(t, func() bool {
		return svc.Cursor(1, 2) == 3
	}, 5*time.Second, 10*time.Millisecond)
}

// A delivery rejected for missing trust is retried until an operator
// fixes the configuration; the message is never lost or skipped.
func TestServiceRetriesUntilAccepted(t *testing.T) {
	net := newTestNet(t)
	// Break the destination's trust in the source endpoint.
	net.dst.SetRemoteEndpoint(1, addrOf(0x7F))

	svc, err := NewService(fastConfig(NewMemoryCursorStore()), []Pair{net.pair()})
	require.NoError(t, err)
	stop := startService(t, svc)
	defer stop()

	_, err = net.src.Send(net.sender, 2, addrOf(0x0B), proofPayload(1))
	require.NoError(t, err)

	select {
	case <-net.handler.calls:
		t.Fatal("delivered despite untrusted remote")
	case <-time.After(50 * time.Millisecond):
	}

	net.dst.AddRemoteEndpoint(1, net.src.LocalAddr())
	waitDelivery(t, net.handler, intentOf(1))
}

// A destination that already holds the message settles the delivery
// instead of wedging the poller.
func TestServiceTreatsAlreadyDeliveredAsSettled(t *testing.T) {
	net := newTestNet(t)
	// Deliver nonce 1's payload out of band before the relay runs.
	payload := proofPayload(1)
	require.NoError(t, net.dst.Deliver(relayID, 1, net.src.LocalAddr(), payload))
	<-net.handler.calls

	svc, err := NewService(fastConfig(NewMemoryCursorStore()), []Pair{net.pair()})
	require.NoError(t, err)
	stop := startService(t, svc)
	defer stop()

	_, err = net.src.Send(net.sender, 2, addrOf(0x0B), payload)
	require.NoError(t, err)
	_, err = net.src.Send(net.sender, 2, addrOf(0x0B), proofPayload(2))
	require.NoError(t, err)

	// The duplicate settles and the poller moves on to nonce 2.
	waitDelivery(t, net.handler, intentOf(2))
	assert.Eventually(t, func() bool {
		return svc.Cursor(1, 2) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

// Entries destined for other chains advance the cursor without being
// delivered by this pair's poller.
func TestServiceSkipsOtherDestinations(t *testing.T) {
	net := newTestNet(t)
	svc, err := NewService(fastConfig(NewMemoryCursorStore()), []Pair{net.pair()})
	require.NoError(t, err)
	stop := startService(t, svc)
	defer stop()

	_, err = net.src.Send(net.sender, 3, addrOf(0x0C), proofPayload(1))
	require.NoError(t, err)
	_, err = net.src.Send(net.sender, 2, addrOf(0x0B), proofPayload(2))
	require.NoError(t, err)

	waitDelivery(t, net.handler, intentOf(2))
	assert.Eventually(t, func() bool {
		return svc.Cursor(1, 2) == 2
	}, 5*time.Second, 10*time.Millisecond)
}

// A restarted relay resumes from the persisted cursor instead of
// re-scanning the mailbox from zero.
func TestServiceResumesFromPersistedCursor(t *testing.T) {
	net := newTestNet(t)
	cursors, err := NewFileCursorStore(t.TempDir())
	require.NoError(t, err)

	svc, err := NewService(fastConfig(cursors), []Pair{net.pair()})
	require.NoError(t, err)
	stop := startService(t, svc)

	for i := byte(1); i <= 2; i++ {
		_, err := net.src.Send(net.sender, 2, addrOf(0x0B), proofPayload(i))
		require.NoError(t, err)
		waitDelivery(t, net.handler, intentOf(i))
	}
	assert.Eventually(t, func() bool {
		nonce, err := cursors.Load(1, 2)
		return err == nil && nonce == 2
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	// Second incarnation with the same store picks up where we left off.
	svc2, err := NewService(fastConfig(cursors), []Pair{net.pair()})
	require.NoError(t, err)
	stop2 := startService(t, svc2)
	defer stop2()

	_, err = net.src.Send(net.sender, 2, addrOf(0x0B), proofPayload(3))
	require.NoError(t, err)
	waitDelivery(t, net.handler, intentOf(3))

	// Nonces 1 and 2 were not redelivered to the handler.
	select {
	case id := <-net.handler.calls:
		t.Fatalf("unexpected redelivery of intent %s", id.Short())
	case <-time.After(50 * time.Millisecond):
	}
}

// Skip progress over another destination's entries is persisted even
// while a later entry is stuck retrying, so a restart resumes past the
// skipped entries instead of re-scanning them.
func TestServicePersistsSkipsWhileBlocked(t *testing.T) {
	net := newTestNet(t)
	cursors, err := NewFileCursorStore(t.TempDir())
	require.NoError(t, err)

	// Entry 1 belongs to chain 3; entry 2 is ours but wedged behind a
	// broken trust configuration.
	net.dst.SetRemoteEndpoint(1, addrOf(0x7F))
	_, err = net.src.Send(net.sender, 3, addrOf(0x0C), proofPayload(1))
	require.NoError(t, err)
	_, err = net.src.Send(net.sender, 2, addrOf(0x0B), proofPayload(2))
	require.NoError(t, err)

	svc, err := NewService(fastConfig(cursors), []Pair{net.pair()})
	require.NoError(t, err)
	stop := startService(t, svc)

	assert.Eventually(t, func() bool {
		nonce, err := cursors.Load(1, 2)
		return err == nil && nonce == 1
	}, 5*time.Second, 10*time.Millisecond)

	// The backlog gauge counts only this pair's entries, not chain 3's.
	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(metrics.PendingMessages.WithLabelValues("1", "2")) == 1
	}, 5*time.Second, 10*time.Millisecond)
	stop()

	net.dst.SetRemoteEndpoint(1, net.src.LocalAddr())
	svc2, err := NewService(fastConfig(cursors), []Pair{net.pair()})
	require.NoError(t, err)
	stop2 := startService(t, svc2)
	defer stop2()

	waitDelivery(t, net.handler, intentOf(2))
	assert.Eventually(t, func() bool {
		nonce, err := cursors.Load(1, 2)
		return err == nil && nonce == 2
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewServiceValidation(t *testing.T) {
	net := newTestNet(t)

	t.Run("no pairs", func(t *testing.T) {
		_, err := NewService(fastConfig(NewMemoryCursorStore()), nil)
		assert.Error(t, err)
	})

	t.Run("no cursor store", func(t *testing.T) {
		_, err := NewService(Config{}, []Pair{net.pair()})
		assert.Error(t, err)
	})

	t.Run("defaults applied", func(t *testing.T) {
		svc, err := NewService(Config{Cursors: NewMemoryCursorStore()}, []Pair{net.pair()})
		require.NoError(t, err)
		assert.Equal(t, 5*time.Second, svc.cfg.PollInterval)
		assert.Equal(t, 30*time.Second, svc.cfg.DeliverTimeout)
		assert.Equal(t, [][2]uint32{{1, 2}}, svc.Pairs())
	})
}

func TestBackoffGrowsAndClamps(t *testing.T) {
	svc, err := NewService(Config{
		Cursors:     NewMemoryCursorStore(),
		BaseBackoff: time.Second,
		MaxBackoff:  time.Minute,
	}, []Pair{newTestNet(t).pair()})
	require.NoError(t, err)

	assert.Equal(t, time.Second, svc.backoff(0))
	assert.Equal(t, 2*time.Second, svc.backoff(1))
	assert.Equal(t, 4*time.Second, svc.backoff(2))
	assert.Equal(t, 32*time.Second, svc.backoff(5))
	assert.Equal(t, time.Minute, svc.backoff(6))
	assert.Equal(t, time.Minute, svc.backoff(50))
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		settled   bool
		errorType string
	}{
		{"already delivered", fmt.Errorf("wrap: %w", endpoint.ErrAlreadyDelivered), true, "already_delivered"},
		{"already released", errors.New("escrow already released: intent 0x01"), true, "terminal_state"},
		{"already fulfilled", errors.New("intent already fulfilled"), true, "terminal_state"},
		{"already cancelled", errors.New("escrow already cancelled"), true, "terminal_state"},
		{"unauthorized relay", fmt.Errorf("wrap: %w", endpoint.ErrUnauthorizedRelay), false, "unauthorized_relay"},
		{"no remote endpoint", fmt.Errorf("wrap: %w", endpoint.ErrNoRemoteEndpoint), false, "untrusted_remote"},
		{"unregistered remote", fmt.Errorf("wrap: %w", endpoint.ErrUnregisteredRemoteEndpoint), false, "untrusted_remote"},
		{"no bound handler", fmt.Errorf("wrap: %w", endpoint.ErrNoBoundHandler), false, "no_bound_handler"},
		{"invalid payload", fmt.Errorf("wrap: %w", endpoint.ErrInvalidPayload), false, "invalid_payload"},
		{"deadline exceeded", context.DeadlineExceeded, false, "network_error"},
		{"connection refused", errors.New("dial tcp: connection refused"), false, "network_error"},
		{"unknown", errors.New("something else"), false, "unknown_error"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			settled, errorType := classifyError(tc.err)
			assert.Equal(t, tc.settled, settled)
			assert.Equal(t, tc.errorType, errorType)
		})
	}
}
