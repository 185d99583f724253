package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// Load builds a Config by layering sources, low to high precedence:
//  1. Default()
//  2. YAML file named by DROPTALLY_CONFIG, if set
//  3. environment variables with the DROPTALLY_ prefix, where double
//     underscores separate nesting: DROPTALLY_RECONCILE__REFRESH_URL maps to
//     reconcile.refresh_url.
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path := os.Getenv("DROPTALLY_CONFIG"); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	envProvider := env.Provider("DROPTALLY_", ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, "DROPTALLY_"))
		return strings.ReplaceAll(s, "__", ".")
	})
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Addr == "" {
		return errors.New("addr must not be empty")
	}
	if c.Aggregate.RecentCap <= 0 {
		return errors.New("aggregate.recent_cap must be positive")
	}
	if c.Reconcile.BreakerThreshold <= 0 {
		return errors.New("reconcile.breaker_threshold must be positive")
	}
	if c.Reconcile.RefreshTimeout <= 0 {
		return errors.New("reconcile.refresh_timeout must be positive")
	}
	if c.Ranks.RefreshInterval <= 0 {
		return errors.New("ranks.refresh_interval must be positive")
	}
	return nil
}
