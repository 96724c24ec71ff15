// Package config loads venue configuration from an optional YAML file
// with TALOS_-prefixed environment overrides.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Service  string `mapstructure:"service"`
	LogLevel string `mapstructure:"log_level"`

	Gateway struct {
		Listen       string `mapstructure:"listen"`
		ConnRingSize uint64 `mapstructure:"conn_ring_size"`
		PendingCap   int    `mapstructure:"pending_cap"`
		FlushEvery   int    `mapstructure:"flush_every"`
	} `mapstructure:"gateway"`

	Engine struct {
		Instruments int    `mapstructure:"instruments"`
		RingSize    uint64 `mapstructure:"ring_size"`
		PoolSize    int    `mapstructure:"pool_size"`
	} `mapstructure:"engine"`

	MarketData struct {
		Transport        string        `mapstructure:"transport"` // "udp" or "kafka"
		MulticastAddr    string        `mapstructure:"multicast_addr"`
		Interface        string        `mapstructure:"interface"`
		KafkaBrokers     []string      `mapstructure:"kafka_brokers"`
		KafkaTopic       string        `mapstructure:"kafka_topic"`
		SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
	} `mapstructure:"market_data"`

	Journal struct {
		Dir         string `mapstructure:"dir"`
		SegmentSize int64  `mapstructure:"segment_size"`
	} `mapstructure:"journal"`

	DropCopy struct {
		Enabled  bool          `mapstructure:"enabled"`
		Dir      string        `mapstructure:"dir"`
		Brokers  []string      `mapstructure:"brokers"`
		Topic    string        `mapstructure:"topic"`
		Interval time.Duration `mapstructure:"interval"`
	} `mapstructure:"drop_copy"`

	Admin struct {
		GRPCListen string `mapstructure:"grpc_listen"`
		HTTPListen string `mapstructure:"http_listen"`
	} `mapstructure:"admin"`
}

// Load reads path (optional; "" means defaults + env only) and returns
// the effective configuration.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("service", "talos")
	v.SetDefault("log_level", "info")

	v.SetDefault("gateway.listen", ":7001")
	v.SetDefault("gateway.conn_ring_size", 1024)
	v.SetDefault("gateway.pending_cap", 1024)
	v.SetDefault("gateway.flush_every", 1)

	v.SetDefault("engine.instruments", 8)
	v.SetDefault("engine.ring_size", 1<<16)
	v.SetDefault("engine.pool_size", 1<<20)

	v.SetDefault("market_data.transport", "udp")
	v.SetDefault("market_data.multicast_addr", "239.12.13.14:7002")
	v.SetDefault("market_data.interface", "")
	v.SetDefault("market_data.kafka_brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("market_data.kafka_topic", "talos.marketdata")
	v.SetDefault("market_data.snapshot_interval", time.Minute)

	v.SetDefault("journal.dir", "./data/journal")
	v.SetDefault("journal.segment_size", int64(64<<20))

	v.SetDefault("drop_copy.enabled", false)
	v.SetDefault("drop_copy.dir", "./data/outbox")
	v.SetDefault("drop_copy.brokers", []string{"127.0.0.1:9092"})
	v.SetDefault("drop_copy.topic", "talos.executions")
	v.SetDefault("drop_copy.interval", 250*time.Millisecond)

	v.SetDefault("admin.grpc_listen", ":7003")
	v.SetDefault("admin.http_listen", ":7004")

	v.SetEnvPrefix("TALOS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Engine.Instruments <= 0 {
		return fmt.Errorf("config: instruments must be positive, got %d", c.Engine.Instruments)
	}
	if c.Engine.RingSize == 0 || c.Engine.RingSize&(c.Engine.RingSize-1) != 0 {
		return fmt.Errorf("config: ring_size must be a power of two, got %d", c.Engine.RingSize)
	}
	if c.Gateway.ConnRingSize == 0 || c.Gateway.ConnRingSize&(c.Gateway.ConnRingSize-1) != 0 {
		return fmt.Errorf("config: conn_ring_size must be a power of two, got %d", c.Gateway.ConnRingSize)
	}
	if c.Gateway.FlushEvery < 1 {
		return fmt.Errorf("config: flush_every must be at least 1, got %d", c.Gateway.FlushEvery)
	}
	switch c.MarketData.Transport {
	case "udp", "kafka":
	default:
		return fmt.Errorf("config: unknown market data transport %q", c.MarketData.Transport)
	}
	return nil
}
