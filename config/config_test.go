package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	require.Equal(t, "talos", cfg.Service)
	require.Equal(t, ":7001", cfg.Gateway.Listen)
	require.Equal(t, 8, cfg.Engine.Instruments)
	require.Equal(t, uint64(1<<16), cfg.Engine.RingSize)
	require.Equal(t, "udp", cfg.MarketData.Transport)
	require.Equal(t, time.Minute, cfg.MarketData.SnapshotInterval)
	require.False(t, cfg.DropCopy.Enabled)
}

func TestFileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "talos.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log_level: debug
engine:
  instruments: 2
  ring_size: 4096
market_data:
  transport: kafka
  kafka_topic: md.test
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.LogLevel)
	require.Equal(t, 2, cfg.Engine.Instruments)
	require.Equal(t, uint64(4096), cfg.Engine.RingSize)
	require.Equal(t, "kafka", cfg.MarketData.Transport)
	require.Equal(t, "md.test", cfg.MarketData.KafkaTopic)
	// Untouched keys keep their defaults.
	require.Equal(t, ":7001", cfg.Gateway.Listen)
}

func TestValidation(t *testing.T) {
	write := func(body string) string {
		path := filepath.Join(t.TempDir(), "talos.yaml")
		require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
		return path
	}

	_, err := Load(write("engine:\n  ring_size: 1000\n"))
	require.ErrorContains(t, err, "power of two")

	_, err = Load(write("engine:\n  instruments: 0\n"))
	require.ErrorContains(t, err, "instruments")

	_, err = Load(write("market_data:\n  transport: carrier-pigeon\n"))
	require.ErrorContains(t, err, "transport")

	_, err = Load(write("gateway:\n  flush_every: 0\n"))
	require.ErrorContains(t, err, "flush_every")
}
