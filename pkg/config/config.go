// Package config defines the process configuration and its layered loading:
// defaults, then an optional YAML file, then DROPTALLY_* environment
// variables.
package config

import "time"

// Config carries every tunable of the engine. The zero value is not usable;
// build one through Default or Load.
type Config struct {
	// Addr is the ops HTTP listen address (health, readiness, metrics).
	Addr string `koanf:"addr"`

	Redis     RedisConfig     `koanf:"redis"`
	Aggregate AggregateConfig `koanf:"aggregate"`
	Ranks     RanksConfig     `koanf:"ranks"`
	Reconcile ReconcileConfig `koanf:"reconcile"`
}

// RedisConfig locates the aggregation store.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	// FlushEvery bounds the number of pipelined commands per flush.
	FlushEvery int `koanf:"flush_every"`
}

// AggregateConfig tunes the write path.
type AggregateConfig struct {
	// GuardCapacity bounds the idempotency guard's recency window.
	GuardCapacity int `koanf:"guard_capacity"`
	// SignificantAmount is the minimum contribution that lands on the
	// recent-drops lists.
	SignificantAmount int64 `koanf:"significant_amount"`
	// RecentCap caps the recent-drops lists.
	RecentCap int64 `koanf:"recent_cap"`
	// Workers sizes the catch-up ingestion pool.
	Workers int `koanf:"workers"`
}

// RanksConfig tunes the snapshot cache and simulator.
type RanksConfig struct {
	// RefreshInterval is how long a snapshot stays fresh.
	RefreshInterval time.Duration `koanf:"refresh_interval"`
	// ReservedGroupID is the catch-all group excluded from every ranking.
	ReservedGroupID string `koanf:"reserved_group_id"`
}

// ReconcileConfig tunes the background repair loop.
type ReconcileConfig struct {
	// CronSpec schedules ticks; seconds field enabled.
	CronSpec string `koanf:"cron_spec"`
	// StaleAfter is how old an entity's last sync may get before repair.
	StaleAfter time.Duration `koanf:"stale_after"`
	// RefreshURL is the downstream recompute endpoint (POST /update).
	RefreshURL string `koanf:"refresh_url"`
	// RefreshTimeout bounds each downstream call.
	RefreshTimeout time.Duration `koanf:"refresh_timeout"`
	// BreakerThreshold is the consecutive-failure count that opens the breaker.
	BreakerThreshold int `koanf:"breaker_threshold"`
	// BreakerCooldown is how long the breaker stays open.
	BreakerCooldown time.Duration `koanf:"breaker_cooldown"`
}

// Default returns the production defaults.
func Default() *Config {
	return &Config{
		Addr: ":3004",
		Redis: RedisConfig{
			FlushEvery: 200,
		},
		Aggregate: AggregateConfig{
			GuardCapacity:     250,
			SignificantAmount: 1_000_000,
			RecentCap:         10,
			Workers:           8,
		},
		Ranks: RanksConfig{
			RefreshInterval: 5 * time.Minute,
			ReservedGroupID: "0",
		},
		Reconcile: ReconcileConfig{
			CronSpec:         "0 * * * * *", // every minute
			StaleAfter:       24 * time.Hour,
			RefreshURL:       "http://localhost:8080",
			RefreshTimeout:   30 * time.Second,
			BreakerThreshold: 5,
			BreakerCooldown:  300 * time.Second,
		},
	}
}
