package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/intentwire/gmp-relay/pkg/gmp"
	"github.com/intentwire/gmp-relay/pkg/logger"
)

const (
	// DefaultPollInterval defines the default mailbox polling interval in seconds
	DefaultPollInterval = 5

	// DefaultDeliverTimeout defines the default per-attempt delivery timeout in seconds
	DefaultDeliverTimeout = 30

	// DefaultBaseBackoff defines the default initial retry backoff in seconds
	DefaultBaseBackoff = 1

	// DefaultMaxBackoff defines the default retry backoff ceiling in seconds
	DefaultMaxBackoff = 120

	// DefaultCursorDir defines the default directory for persisted cursors
	DefaultCursorDir = "cursors"

	// DefaultMetricsPort defines the default port for the metrics server
	DefaultMetricsPort = "8080"

	// DefaultCircuitBreakerEnabled defines whether the circuit breaker is enabled
	DefaultCircuitBreakerEnabled = true

	// DefaultCircuitBreakerThreshold defines the number of failures before the circuit breaker trips
	DefaultCircuitBreakerThreshold = 5

	// DefaultCircuitBreakerWindow defines the time window for the circuit breaker in minutes
	DefaultCircuitBreakerWindow = 5

	// DefaultCircuitBreakerReset defines the reset timeout for the circuit breaker in minutes
	DefaultCircuitBreakerReset = 15
)

// GetEnvRelayIdentity returns the identity this relay presents to destination endpoints
func GetEnvRelayIdentity() (gmp.Address, error) {
	identity := os.Getenv("RELAY_IDENTITY")
	if identity == "" {
		return gmp.Address{}, nil
	}
	addr, err := gmp.ParseAddress(identity)
	if err != nil {
		return gmp.Address{}, fmt.Errorf("invalid RELAY_IDENTITY value: %v", err)
	}
	return addr, nil
}

// GetEnvChainPairs parses CHAIN_PAIRS, a comma-separated list of
// src:dst chain id pairs, e.g. "1:30325,30325:1"
func GetEnvChainPairs() ([]ChainPair, error) {
	raw := os.Getenv("CHAIN_PAIRS")
	if raw == "" {
		return nil, nil
	}

	var pairs []ChainPair
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		if len(fields) != 2 {
			return nil, fmt.Errorf("invalid CHAIN_PAIRS entry %q, expected src:dst", part)
		}
		src, err := strconv.ParseUint(fields[0], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid source chain id in %q: %v", part, err)
		}
		dst, err := strconv.ParseUint(fields[1], 10, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid destination chain id in %q: %v", part, err)
		}
		pairs = append(pairs, ChainPair{SrcChainID: uint32(src), DstChainID: uint32(dst)})
	}
	return pairs, nil
}

// GetEnvChainNames collects CHAIN_<id>_NAME log prefixes for every chain
// that appears in a configured pair
func GetEnvChainNames(pairs []ChainPair) map[uint32]string {
	names := make(map[uint32]string)
	for _, pair := range pairs {
		for _, id := range []uint32{pair.SrcChainID, pair.DstChainID} {
			if _, ok := names[id]; ok {
				continue
			}
			if name := os.Getenv(fmt.Sprintf("CHAIN_%d_NAME", id)); name != "" {
				names[id] = name
			}
		}
	}
	return names
}

// GetEnvPollInterval returns the mailbox polling interval from environment variables
func GetEnvPollInterval() (time.Duration, error) {
	return getEnvSeconds("POLL_INTERVAL", DefaultPollInterval)
}

// GetEnvDeliverTimeout returns the per-attempt delivery timeout from environment variables
func GetEnvDeliverTimeout() (time.Duration, error) {
	return getEnvSeconds("DELIVER_TIMEOUT", DefaultDeliverTimeout)
}

// GetEnvBaseBackoff returns the initial retry backoff from environment variables
func GetEnvBaseBackoff() (time.Duration, error) {
	return getEnvSeconds("BASE_BACKOFF", DefaultBaseBackoff)
}

// GetEnvMaxBackoff returns the retry backoff ceiling from environment variables
func GetEnvMaxBackoff() (time.Duration, error) {
	return getEnvSeconds("MAX_BACKOFF", DefaultMaxBackoff)
}

// GetEnvCursorDir returns the cursor persistence directory from environment variables
func GetEnvCursorDir() (string, error) {
	dir := os.Getenv("CURSOR_DIR")
	if dir == "" {
		return DefaultCursorDir, nil
	}
	return dir, nil
}

// GetEnvMetricsPort returns the metrics server port from environment variables
func GetEnvMetricsPort() (string, error) {
	port := os.Getenv("METRICS_PORT")
	if port == "" {
		return DefaultMetricsPort, nil
	}
	if _, err := strconv.Atoi(port); err != nil {
		return "", fmt.Errorf("invalid METRICS_PORT value: %s, must be an integer", port)
	}
	return port, nil
}

// GetEnvCircuitBreakerEnabled returns whether the circuit breaker is enabled
func GetEnvCircuitBreakerEnabled() (bool, error) {
	raw := os.Getenv("CIRCUIT_BREAKER_ENABLED")
	if raw == "" {
		return DefaultCircuitBreakerEnabled, nil
	}
	enabled, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid CIRCUIT_BREAKER_ENABLED value: %s, must be a boolean", raw)
	}
	return enabled, nil
}

// GetEnvCircuitBreakerThreshold returns the circuit breaker failure threshold
func GetEnvCircuitBreakerThreshold() (int, error) {
	raw := os.Getenv("CIRCUIT_BREAKER_THRESHOLD")
	if raw == "" {
		return DefaultCircuitBreakerThreshold, nil
	}
	threshold, err := strconv.Atoi(raw)
	if err != nil || threshold <= 0 {
		return 0, fmt.Errorf("invalid CIRCUIT_BREAKER_THRESHOLD value: %s, must be a positive integer", raw)
	}
	return threshold, nil
}

// GetEnvCircuitBreakerWindow returns the circuit breaker failure window
func GetEnvCircuitBreakerWindow() (time.Duration, error) {
	return getEnvMinutes("CIRCUIT_BREAKER_WINDOW", DefaultCircuitBreakerWindow)
}

// GetEnvCircuitBreakerReset returns the circuit breaker reset timeout
func GetEnvCircuitBreakerReset() (time.Duration, error) {
	return getEnvMinutes("CIRCUIT_BREAKER_RESET", DefaultCircuitBreakerReset)
}

// GetEnvLogLevel returns the log level from environment variables
func GetEnvLogLevel() (logger.Level, error) {
	raw := os.Getenv("LOG_LEVEL")
	switch strings.ToLower(raw) {
	case "":
		return logger.InfoLevel, nil
	case "debug":
		return logger.DebugLevel, nil
	case "info":
		return logger.InfoLevel, nil
	case "notice":
		return logger.NoticeLevel, nil
	case "error":
		return logger.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("invalid LOG_LEVEL value: %s, must be debug, info, notice or error", raw)
	}
}

// GetEnvLogColoring returns whether log coloring is enabled
func GetEnvLogColoring() (bool, error) {
	raw := os.Getenv("LOG_COLORING")
	if raw == "" {
		return true, nil
	}
	coloring, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid LOG_COLORING value: %s, must be a boolean", raw)
	}
	return coloring, nil
}

func getEnvSeconds(key string, def int) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(def) * time.Second, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, raw)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return time.Duration(v) * time.Second, nil
}

func getEnvMinutes(key string, def int) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return time.Duration(def) * time.Minute, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %s, must be an integer", key, raw)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than 0", key)
	}
	return time.Duration(v) * time.Minute, nil
}
