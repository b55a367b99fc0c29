// Package config loads the factory configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	// DefaultFeeProtocol gives the protocol 1/10 of every swap fee.
	DefaultFeeProtocol = uint8(10)

	maxFee         = uint32(1_000_000)
	maxTickSpacing = int32(16384)
)

var errDuplicateFeeTier = errors.New("fee tier listed more than once")

// DefaultFeeTiers are enabled when the file lists none.
var DefaultFeeTiers = []FeeTier{
	{Fee: 500, TickSpacing: 10},
	{Fee: 3000, TickSpacing: 60},
	{Fee: 10000, TickSpacing: 200},
}

// FeeTier pairs a swap fee, in hundredths of a bip, with the tick spacing
// every pool of that fee must use.
type FeeTier struct {
	Fee         uint32 `yaml:"fee"`
	TickSpacing int32  `yaml:"tick_spacing"`
}

// Config is the on-disk factory configuration.
type Config struct {
	// FeeProtocol is the denominator of the protocol's share of swap fees.
	FeeProtocol uint8     `yaml:"fee_protocol"`
	FeeTiers    []FeeTier `yaml:"fee_tiers"`
}

// LoadConfig reads, defaults and validates the configuration at path.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if cfg.FeeProtocol == 0 {
		cfg.FeeProtocol = DefaultFeeProtocol
	}
	if len(cfg.FeeTiers) == 0 {
		cfg.FeeTiers = append([]FeeTier(nil), DefaultFeeTiers...)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.FeeProtocol < 2 || c.FeeProtocol > 10 {
		return fmt.Errorf("fee_protocol must be between 2 and 10, got %d", c.FeeProtocol)
	}

	seen := make(map[uint32]struct{}, len(c.FeeTiers))
	for _, tier := range c.FeeTiers {
		if tier.Fee >= maxFee {
			return fmt.Errorf("fee tier %d: fee must be below %d", tier.Fee, maxFee)
		}
		if tier.TickSpacing <= 0 || tier.TickSpacing >= maxTickSpacing {
			return fmt.Errorf("fee tier %d: tick_spacing must be between 1 and %d, got %d", tier.Fee, maxTickSpacing-1, tier.TickSpacing)
		}
		if _, ok := seen[tier.Fee]; ok {
			return fmt.Errorf("fee tier %d: %w", tier.Fee, errDuplicateFeeTier)
		}
		seen[tier.Fee] = struct{}{}
	}
	return nil
}
