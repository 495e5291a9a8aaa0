// Package config loads the merged engine configuration document.
//
// One YAML file configures everything: persistence, timing thresholds,
// feature toggles, pit receiver routing, ingest limits and the race mode
// catalog. Defaults are layered underneath so a sparse file works.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// ErrConfigMissing marks required configuration that was not provided.
// It is fatal at boot.
var ErrConfigMissing = errors.New("required config value missing")

// Config is the merged configuration document.
type Config struct {
	App   App             `mapstructure:"app"`
	Modes map[string]Mode `mapstructure:"modes"`
}

// App groups the engine-wide sections.
type App struct {
	Engine   Engine   `mapstructure:"engine"`
	Timing   Timing   `mapstructure:"timing"`
	Features Features `mapstructure:"features"`
	Pits     Pits     `mapstructure:"pits"`
	Event    Event    `mapstructure:"event"`
	Ingest   Ingest   `mapstructure:"ingest"`
}

// Engine holds engine-internal sections.
type Engine struct {
	Persistence Persistence `mapstructure:"persistence"`
}

// Persistence configures the journal store.
type Persistence struct {
	SQLitePath     string `mapstructure:"sqlite_path"`
	RecreateOnBoot bool   `mapstructure:"recreate_on_boot"`
	Enabled        bool   `mapstructure:"enabled"`
	BatchMs        int    `mapstructure:"batch_ms"`
	BatchMax       int    `mapstructure:"batch_max"`
	Fsync          bool   `mapstructure:"fsync"`
	CheckpointS    int    `mapstructure:"checkpoint_s"`
}

// Timing holds the global lap-time thresholds, in seconds.
type Timing struct {
	MinLapS    float64 `mapstructure:"min_lap_s"`
	MinLapSDup float64 `mapstructure:"min_lap_s_dup"`
}

// Features toggles optional engine behavior.
type Features struct {
	PitTiming       bool `mapstructure:"pit_timing"`
	AutoProvisional bool `mapstructure:"auto_provisional"`
}

// Pits maps receiver hardware to pit roles.
type Pits struct {
	Receivers Receivers `mapstructure:"receivers"`
}

// Receivers lists device ids per pit loop. A device in neither list
// routes to the track loop.
type Receivers struct {
	PitIn  []string `mapstructure:"pit_in"`
	PitOut []string `mapstructure:"pit_out"`
}

// Event carries display metadata stamped onto snapshots and results.
type Event struct {
	Label   string `mapstructure:"label"`
	Session string `mapstructure:"session"`
}

// Ingest configures the pass normalizer and the detection feeds.
type Ingest struct {
	MinTagLen     int       `mapstructure:"min_tag_len"`
	DedupWindowS  float64   `mapstructure:"dedup_window_s"`
	MaxPassesPerS int       `mapstructure:"max_passes_per_s"`
	Listeners     Listeners `mapstructure:"listeners"`
}

// Listeners holds bind addresses for the detection feeds. Empty
// disables a feed.
type Listeners struct {
	TCP string `mapstructure:"tcp"`
	UDP string `mapstructure:"udp"`
}

func newViper() *viper.Viper {
	vp := viper.New()
	vp.SetDefault("app.engine.persistence.sqlite_path", "")
	vp.SetDefault("app.engine.persistence.recreate_on_boot", false)
	vp.SetDefault("app.engine.persistence.enabled", true)
	vp.SetDefault("app.engine.persistence.batch_ms", 200)
	vp.SetDefault("app.engine.persistence.batch_max", 50)
	vp.SetDefault("app.engine.persistence.fsync", false)
	vp.SetDefault("app.engine.persistence.checkpoint_s", 15)
	vp.SetDefault("app.timing.min_lap_s", 5.0)
	vp.SetDefault("app.timing.min_lap_s_dup", 1.0)
	vp.SetDefault("app.features.pit_timing", false)
	vp.SetDefault("app.features.auto_provisional", true)
	vp.SetDefault("app.pits.receivers.pit_in", []string{})
	vp.SetDefault("app.pits.receivers.pit_out", []string{})
	vp.SetDefault("app.event.label", "")
	vp.SetDefault("app.event.session", "")
	vp.SetDefault("app.ingest.min_tag_len", 7)
	vp.SetDefault("app.ingest.dedup_window_s", 3.0)
	vp.SetDefault("app.ingest.max_passes_per_s", 200)
	vp.SetDefault("app.ingest.listeners.tcp", "")
	vp.SetDefault("app.ingest.listeners.udp", "")
	return vp
}

// Default returns the built-in configuration. It has no modes and no
// SQLite path, so it can drive tests but not a persistent deployment.
func Default() *Config {
	cfg, err := fromViper(newViper())
	if err != nil {
		// Defaults always unmarshal.
		panic(err)
	}
	return cfg
}

// Path returns the conventional config location,
// ~/.config/chronocore/config.yaml (or XDG_CONFIG_HOME). Empty when the
// home directory cannot be determined.
func Path() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "chronocore", "config.yaml")
}

// Load reads one YAML document and merges it over the defaults. The
// result is validated.
func Load(path string) (*Config, error) {
	vp := newViper()
	vp.SetConfigFile(path)
	vp.SetConfigType("yaml")
	if err := vp.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg, err := fromViper(vp)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromViper(vp *viper.Viper) (*Config, error) {
	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	if cfg.Modes == nil {
		cfg.Modes = map[string]Mode{}
	}
	return &cfg, nil
}

// Validate checks cross-field constraints. Persistence that is enabled
// without a SQLite path is ErrConfigMissing.
func (c *Config) Validate() error {
	p := c.App.Engine.Persistence
	if p.Enabled && p.SQLitePath == "" {
		return fmt.Errorf("config: %w: app.engine.persistence.sqlite_path", ErrConfigMissing)
	}
	if p.BatchMs <= 0 {
		return fmt.Errorf("config: app.engine.persistence.batch_ms must be positive, got %d", p.BatchMs)
	}
	if p.BatchMax <= 0 {
		return fmt.Errorf("config: app.engine.persistence.batch_max must be positive, got %d", p.BatchMax)
	}
	if p.CheckpointS <= 0 {
		return fmt.Errorf("config: app.engine.persistence.checkpoint_s must be positive, got %d", p.CheckpointS)
	}
	if c.App.Timing.MinLapS <= 0 {
		return fmt.Errorf("config: app.timing.min_lap_s must be positive, got %v", c.App.Timing.MinLapS)
	}
	if c.App.Timing.MinLapSDup <= 0 {
		return fmt.Errorf("config: app.timing.min_lap_s_dup must be positive, got %v", c.App.Timing.MinLapSDup)
	}
	if c.App.Ingest.MinTagLen <= 0 {
		return fmt.Errorf("config: app.ingest.min_tag_len must be positive, got %d", c.App.Ingest.MinTagLen)
	}
	if c.App.Ingest.DedupWindowS <= 0 {
		return fmt.Errorf("config: app.ingest.dedup_window_s must be positive, got %v", c.App.Ingest.DedupWindowS)
	}

	seen := make(map[string]string)
	for _, id := range c.App.Pits.Receivers.PitIn {
		seen[id] = "pit_in"
	}
	for _, id := range c.App.Pits.Receivers.PitOut {
		if _, dup := seen[id]; dup {
			return fmt.Errorf("config: device %q assigned to both pit_in and pit_out", id)
		}
	}

	for name, m := range c.Modes {
		if m.Limit.TimeS > 0 && m.Limit.Laps > 0 {
			return fmt.Errorf("config: mode %q sets both time_s and laps limits", name)
		}
		if m.Limit.TimeS < 0 || m.Limit.Laps < 0 {
			return fmt.Errorf("config: mode %q has a negative limit", name)
		}
		if m.MinLapS < 0 {
			return fmt.Errorf("config: mode %q has a negative min_lap_s", name)
		}
	}
	return nil
}
