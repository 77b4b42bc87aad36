package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetEnvChainPairs(t *testing.T) {
	t.Run("unset", func(t *testing.T) {
		t.Setenv("CHAIN_PAIRS", "")
		pairs, err := GetEnvChainPairs()
		require.NoError(t, err)
		assert.Nil(t, pairs)
	})

	t.Run("single pair", func(t *testing.T) {
		t.Setenv("CHAIN_PAIRS", "1:30325")
		pairs, err := GetEnvChainPairs()
		require.NoError(t, err)
		assert.Equal(t, []ChainPair{{SrcChainID: 1, DstChainID: 30325}}, pairs)
	})

	t.Run("multiple pairs with spaces", func(t *testing.T) {
		t.Setenv("CHAIN_PAIRS", "1:2, 2:1")
		pairs, err := GetEnvChainPairs()
		require.NoError(t, err)
		assert.Equal(t, []ChainPair{
			{SrcChainID: 1, DstChainID: 2},
			{SrcChainID: 2, DstChainID: 1},
		}, pairs)
	})

	t.Run("malformed entry", func(t *testing.T) {
		t.Setenv("CHAIN_PAIRS", "1-2")
		_, err := GetEnvChainPairs()
		assert.Error(t, err)
	})

	t.Run("non-numeric chain id", func(t *testing.T) {
		t.Setenv("CHAIN_PAIRS", "base:arbitrum")
		_, err := GetEnvChainPairs()
		assert.Error(t, err)
	})
}

func TestGetEnvChainNames(t *testing.T) {
	t.Setenv("CHAIN_1_NAME", "HUB")
	t.Setenv("CHAIN_2_NAME", "SPOKE")

	names := GetEnvChainNames([]ChainPair{{SrcChainID: 1, DstChainID: 2}, {SrcChainID: 2, DstChainID: 1}})
	assert.Equal(t, map[uint32]string{1: "HUB", 2: "SPOKE"}, names)
}

func TestGetEnvRelayIdentity(t *testing.T) {
	t.Run("unset yields zero address", func(t *testing.T) {
		t.Setenv("RELAY_IDENTITY", "")
		addr, err := GetEnvRelayIdentity()
		require.NoError(t, err)
		assert.True(t, addr.IsZero())
	})

	t.Run("hex value", func(t *testing.T) {
		t.Setenv("RELAY_IDENTITY", "0x1234567890123456789012345678901234567890")
		addr, err := GetEnvRelayIdentity()
		require.NoError(t, err)
		assert.False(t, addr.IsZero())
		assert.Equal(t, byte(0x12), addr[12])
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Setenv("RELAY_IDENTITY", "not-an-address")
		_, err := GetEnvRelayIdentity()
		assert.Error(t, err)
	})
}

func TestDurationEnvHelpers(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		interval, err := GetEnvPollInterval()
		require.NoError(t, err)
		assert.Equal(t, DefaultPollInterval*time.Second, interval)

		backoff, err := GetEnvMaxBackoff()
		require.NoError(t, err)
		assert.Equal(t, DefaultMaxBackoff*time.Second, backoff)
	})

	t.Run("override", func(t *testing.T) {
		t.Setenv("POLL_INTERVAL", "2")
		interval, err := GetEnvPollInterval()
		require.NoError(t, err)
		assert.Equal(t, 2*time.Second, interval)
	})

	t.Run("non-positive rejected", func(t *testing.T) {
		t.Setenv("POLL_INTERVAL", "0")
		_, err := GetEnvPollInterval()
		assert.Error(t, err)
	})

	t.Run("non-numeric rejected", func(t *testing.T) {
		t.Setenv("DELIVER_TIMEOUT", "fast")
		_, err := GetEnvDeliverTimeout()
		assert.Error(t, err)
	})
}

func TestGetEnvMetricsPort(t *testing.T) {
	t.Run("default", func(t *testing.T) {
		port, err := GetEnvMetricsPort()
		require.NoError(t, err)
		assert.Equal(t, DefaultMetricsPort, port)
	})

	t.Run("override", func(t *testing.T) {
		t.Setenv("METRICS_PORT", "9090")
		port, err := GetEnvMetricsPort()
		require.NoError(t, err)
		assert.Equal(t, "9090", port)
	})

	t.Run("non-numeric rejected", func(t *testing.T) {
		t.Setenv("METRICS_PORT", "http")
		_, err := GetEnvMetricsPort()
		assert.Error(t, err)
	})
}

func TestGetEnvCircuitBreaker(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		enabled, err := GetEnvCircuitBreakerEnabled()
		require.NoError(t, err)
		assert.Equal(t, DefaultCircuitBreakerEnabled, enabled)

		threshold, err := GetEnvCircuitBreakerThreshold()
		require.NoError(t, err)
		assert.Equal(t, DefaultCircuitBreakerThreshold, threshold)

		window, err := GetEnvCircuitBreakerWindow()
		require.NoError(t, err)
		assert.Equal(t, DefaultCircuitBreakerWindow*time.Minute, window)
	})

	t.Run("overrides", func(t *testing.T) {
		t.Setenv("CIRCUIT_BREAKER_ENABLED", "false")
		t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "9")

		enabled, err := GetEnvCircuitBreakerEnabled()
		require.NoError(t, err)
		assert.False(t, enabled)

		threshold, err := GetEnvCircuitBreakerThreshold()
		require.NoError(t, err)
		assert.Equal(t, 9, threshold)
	})

	t.Run("invalid threshold", func(t *testing.T) {
		t.Setenv("CIRCUIT_BREAKER_THRESHOLD", "-1")
		_, err := GetEnvCircuitBreakerThreshold()
		assert.Error(t, err)
	})
}
