// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/openusage/meterd/internal/meter"
)

// allowed auto-update intervals, in minutes.
var allowedIntervals = map[int]bool{5: true, 10: true, 15: true, 30: true, 60: true}

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Update    UpdateConfig    `mapstructure:"update"`
	Display   DisplayConfig   `mapstructure:"display"`
	Aggregate AggregateConfig `mapstructure:"aggregate"`
	Dispatch  DispatchConfig  `mapstructure:"dispatch"`
	Store     StoreConfig     `mapstructure:"store"`
	Sources   []SourceConfig  `mapstructure:"sources"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// UpdateConfig governs the auto-update schedule.
type UpdateConfig struct {
	IntervalMinutes int `mapstructure:"interval_minutes"`
}

// DisplayConfig selects how progress fractions are presented.
type DisplayConfig struct {
	Mode string `mapstructure:"mode"`
}

// AggregateConfig tunes the multi-source progress aggregate.
type AggregateConfig struct {
	MaxEntries int                 `mapstructure:"max_entries"`
	Composite  map[string][]string `mapstructure:"composite"`
}

// DispatchConfig bounds probe fan-out.
type DispatchConfig struct {
	MaxParallel         int `mapstructure:"max_parallel"`
	ProbeTimeoutSeconds int `mapstructure:"probe_timeout_seconds"`
}

// StoreConfig enables the optional Postgres sample history.
type StoreConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// SourceConfig declares one usage source. List order defines display and
// scan order.
type SourceConfig struct {
	ID                string   `mapstructure:"id"`
	Name              string   `mapstructure:"name"`
	IconURL           string   `mapstructure:"icon_url"`
	PrimaryCandidates []string `mapstructure:"primary_candidates"`
	Endpoint          string   `mapstructure:"endpoint"`
	BearerToken       string   `mapstructure:"bearer_token"`
	TimeoutSeconds    int      `mapstructure:"timeout_seconds"`
	Disabled          bool     `mapstructure:"disabled"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("METERD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("logging.development", true)
	v.SetDefault("update.interval_minutes", 15)
	v.SetDefault("display.mode", string(meter.DisplayUsed))
	v.SetDefault("aggregate.max_entries", 4)
	v.SetDefault("dispatch.max_parallel", 4)
	v.SetDefault("dispatch.probe_timeout_seconds", 30)
	v.SetDefault("store.table", "usage_samples")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if !allowedIntervals[c.Update.IntervalMinutes] {
		return fmt.Errorf("update.interval_minutes must be one of 5, 10, 15, 30, 60")
	}
	switch meter.DisplayMode(c.Display.Mode) {
	case meter.DisplayUsed, meter.DisplayLeft:
	default:
		return fmt.Errorf("display.mode must be %q or %q", meter.DisplayUsed, meter.DisplayLeft)
	}
	if c.Aggregate.MaxEntries <= 0 {
		return fmt.Errorf("aggregate.max_entries must be > 0")
	}
	if c.Dispatch.MaxParallel <= 0 {
		return fmt.Errorf("dispatch.max_parallel must be > 0")
	}
	seen := map[string]bool{}
	for i, src := range c.Sources {
		if src.ID == "" {
			return fmt.Errorf("sources[%d].id is required", i)
		}
		if seen[src.ID] {
			return fmt.Errorf("duplicate source id %q", src.ID)
		}
		seen[src.ID] = true
		if src.Endpoint == "" {
			return fmt.Errorf("sources[%d].endpoint is required", i)
		}
	}
	return nil
}

// Interval converts the configured minutes into a duration.
func (c Config) Interval() time.Duration {
	return time.Duration(c.Update.IntervalMinutes) * time.Minute
}

// DisplayMode returns the typed display mode.
func (c Config) DisplayMode() meter.DisplayMode {
	return meter.DisplayMode(c.Display.Mode)
}

// Settings derives the scheduling settings from the source list.
func (c Config) Settings() meter.Settings {
	s := meter.Settings{Disabled: map[meter.SourceID]bool{}}
	for _, src := range c.Sources {
		id := meter.SourceID(src.ID)
		s.Order = append(s.Order, id)
		if src.Disabled {
			s.Disabled[id] = true
		}
	}
	return s
}

// CompositeSources converts the composite map to typed source ids.
func (c Config) CompositeSources() map[meter.SourceID][]string {
	out := make(map[meter.SourceID][]string, len(c.Aggregate.Composite))
	for id, buckets := range c.Aggregate.Composite {
		out[meter.SourceID(id)] = buckets
	}
	return out
}
