package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/intentwire/gmp-relay/pkg/circuitbreaker"
	"github.com/intentwire/gmp-relay/pkg/config"
	"github.com/intentwire/gmp-relay/pkg/endpoint"
	"github.com/intentwire/gmp-relay/pkg/escrow"
	"github.com/intentwire/gmp-relay/pkg/gmp"
	"github.com/intentwire/gmp-relay/pkg/health"
	"github.com/intentwire/gmp-relay/pkg/hub"
	"github.com/intentwire/gmp-relay/pkg/logger"
	"github.com/intentwire/gmp-relay/pkg/outflow"
	"github.com/intentwire/gmp-relay/pkg/relay"
	"github.com/intentwire/gmp-relay/pkg/token"
)

// The daemon runs the canonical in-process deployment: one endpoint per
// configured chain, the hub module on the hub chain, escrow and outflow
// modules on every connected chain, and the relay polling between them.
func main() {
	// Load configuration from environment variables
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	lg := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)
	for chainID, name := range cfg.ChainNames {
		logger.RegisterChain(int(chainID), name)
	}

	// Set up context with cancellation on SIGINT/SIGTERM
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	service, breakers, err := buildService(cfg, lg)
	if err != nil {
		log.Fatalf("Failed to create relay service: %v", err)
	}

	// Start health monitoring server
	healthServer := health.NewServer(cfg.MetricsPort, service, breakers, lg)
	go healthServer.Start()

	// Set up signal handling for graceful shutdown
	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-signalCh
		lg.Notice("Received termination signal, shutting down gracefully...")
		cancel()
	}()

	// Start the service
	lg.Info("Starting the relay service...")
	service.Start(ctx)
}

// buildService wires the endpoints, modules and relay for the configured
// chain topology. The lowest chain id acting as a source is the hub.
func buildService(cfg *config.Config, lg logger.Logger) (*relay.Service, map[uint32]*circuitbreaker.CircuitBreaker, error) {
	hubChainID := cfg.ChainPairs[0].SrcChainID
	for _, pair := range cfg.ChainPairs {
		if pair.SrcChainID < hubChainID {
			hubChainID = pair.SrcChainID
		}
	}

	// One endpoint per chain appearing in any pair.
	registries := make(map[uint32]*endpoint.Registry)
	for _, pair := range cfg.ChainPairs {
		for _, id := range []uint32{pair.SrcChainID, pair.DstChainID} {
			if _, ok := registries[id]; ok {
				continue
			}
			reg := endpoint.NewRegistry(id, moduleAddr("endpoint", id), lg)
			reg.AddRelay(cfg.RelayIdentity)
			registries[id] = reg
		}
	}

	// Every chain trusts every other configured chain's endpoint.
	for id, reg := range registries {
		for otherID, other := range registries {
			if otherID != id {
				reg.AddRemoteEndpoint(otherID, other.LocalAddr())
			}
		}
	}

	bank := token.NewBank()
	hubReg := registries[hubChainID]
	hub.NewModule(hub.Config{
		ChainID:  hubChainID,
		Addr:     moduleAddr("hub", hubChainID),
		Registry: hubReg,
		Logger:   lg,
	})
	for id, reg := range registries {
		if id == hubChainID {
			continue
		}
		escrow.NewModule(escrow.Config{
			ChainID:    id,
			Addr:       moduleAddr("escrow", id),
			Bank:       bank,
			Registry:   reg,
			HubChainID: hubChainID,
			HubAddr:    hubReg.LocalAddr(),
			Mode:       escrow.ReleaseModeGMP,
			Logger:     lg,
		})
		outflow.NewValidator(outflow.Config{
			ChainID:    id,
			Addr:       moduleAddr("outflow", id),
			Bank:       bank,
			Registry:   reg,
			HubChainID: hubChainID,
			HubAddr:    hubReg.LocalAddr(),
			Logger:     lg,
		})
	}

	breakers := make(map[uint32]*circuitbreaker.CircuitBreaker)
	pairs := make([]relay.Pair, 0, len(cfg.ChainPairs))
	for _, pc := range cfg.ChainPairs {
		if _, ok := breakers[pc.DstChainID]; !ok {
			breakers[pc.DstChainID] = circuitbreaker.NewCircuitBreaker(
				cfg.CircuitBreaker.Enabled,
				cfg.CircuitBreaker.Threshold,
				cfg.CircuitBreaker.WindowDuration,
				cfg.CircuitBreaker.ResetTimeout,
				lg,
			)
		}
		pairs = append(pairs, relay.Pair{
			Source:      &relay.EndpointChain{Registry: registries[pc.SrcChainID], RelayID: cfg.RelayIdentity},
			Destination: &relay.EndpointChain{Registry: registries[pc.DstChainID], RelayID: cfg.RelayIdentity},
		})
	}

	cursors, err := relay.NewFileCursorStore(cfg.CursorDir)
	if err != nil {
		return nil, nil, err
	}

	service, err := relay.NewService(relay.Config{
		PollInterval:   cfg.PollInterval,
		DeliverTimeout: cfg.DeliverTimeout,
		BaseBackoff:    cfg.BaseBackoff,
		MaxBackoff:     cfg.MaxBackoff,
		Cursors:        cursors,
		Breakers:       breakers,
		Logger:         lg,
	}, pairs)
	if err != nil {
		return nil, nil, err
	}
	return service, breakers, nil
}

// moduleAddr derives a stable 32-byte address for an in-process module.
func moduleAddr(label string, chainID uint32) gmp.Address {
	var a gmp.Address
	copy(a[:], crypto.Keccak256([]byte(label), []byte{
		byte(chainID >> 24), byte(chainID >> 16), byte(chainID >> 8), byte(chainID),
	}))
	return a
}
