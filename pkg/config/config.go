package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"

	"github.com/intentwire/gmp-relay/pkg/gmp"
	"github.com/intentwire/gmp-relay/pkg/logger"
)

// Config holds the configuration for the relay service
type Config struct {
	RelayIdentity  gmp.Address
	ChainPairs     []ChainPair
	ChainNames     map[uint32]string
	PollInterval   time.Duration
	DeliverTimeout time.Duration
	BaseBackoff    time.Duration
	MaxBackoff     time.Duration
	CursorDir      string
	MetricsPort    string
	CircuitBreaker CircuitBreakerConfig
	LoggerConfig   LoggerConfig
}

// ChainPair is one directed (source, destination) polling assignment
type ChainPair struct {
	SrcChainID uint32
	DstChainID uint32
}

// CircuitBreakerConfig holds circuit breaker configuration
type CircuitBreakerConfig struct {
	Enabled        bool
	Threshold      int
	WindowDuration time.Duration
	ResetTimeout   time.Duration
}

// LoggerConfig holds the configuration for logging
type LoggerConfig struct {
	Level    logger.Level
	Coloring bool
}

// LoadConfig loads the configuration from environment variables
func LoadConfig() (*Config, error) {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		log.Printf("Warning: .env file not found, using environment variables")
	}

	relayIdentity, err := GetEnvRelayIdentity()
	if err != nil {
		return nil, err
	}

	chainPairs, err := GetEnvChainPairs()
	if err != nil {
		return nil, err
	}

	pollInterval, err := GetEnvPollInterval()
	if err != nil {
		return nil, err
	}

	deliverTimeout, err := GetEnvDeliverTimeout()
	if err != nil {
		return nil, err
	}

	baseBackoff, err := GetEnvBaseBackoff()
	if err != nil {
		return nil, err
	}

	maxBackoff, err := GetEnvMaxBackoff()
	if err != nil {
		return nil, err
	}

	cursorDir, err := GetEnvCursorDir()
	if err != nil {
		return nil, err
	}

	metricsPort, err := GetEnvMetricsPort()
	if err != nil {
		return nil, err
	}

	cbEnabled, err := GetEnvCircuitBreakerEnabled()
	if err != nil {
		return nil, err
	}

	cbThreshold, err := GetEnvCircuitBreakerThreshold()
	if err != nil {
		return nil, err
	}

	cbWindow, err := GetEnvCircuitBreakerWindow()
	if err != nil {
		return nil, err
	}

	cbReset, err := GetEnvCircuitBreakerReset()
	if err != nil {
		return nil, err
	}

	logLevel, err := GetEnvLogLevel()
	if err != nil {
		return nil, err
	}

	logColoring, err := GetEnvLogColoring()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		RelayIdentity:  relayIdentity,
		ChainPairs:     chainPairs,
		ChainNames:     GetEnvChainNames(chainPairs),
		PollInterval:   pollInterval,
		DeliverTimeout: deliverTimeout,
		BaseBackoff:    baseBackoff,
		MaxBackoff:     maxBackoff,
		CursorDir:      cursorDir,
		MetricsPort:    metricsPort,
		CircuitBreaker: CircuitBreakerConfig{
			Enabled:        cbEnabled,
			Threshold:      cbThreshold,
			WindowDuration: cbWindow,
			ResetTimeout:   cbReset,
		},
		LoggerConfig: LoggerConfig{
			Level:    logLevel,
			Coloring: logColoring,
		},
	}

	// Validate required environment variables
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if cfg.RelayIdentity.IsZero() {
		return fmt.Errorf("RELAY_IDENTITY environment variable is required")
	}
	if len(cfg.ChainPairs) == 0 {
		return fmt.Errorf("at least one chain pair is required")
	}
	for _, pair := range cfg.ChainPairs {
		if pair.SrcChainID == pair.DstChainID {
			return fmt.Errorf("chain pair %d->%d has identical source and destination",
				pair.SrcChainID, pair.DstChainID)
		}
	}
	return nil
}
