package config

import "github.com/hybridsix/chronocore/model"

// Mode is one entry of the race mode catalog. Viper lowercases map
// keys, so mode names match case-insensitively.
type Mode struct {
	Limit           LimitSpec `mapstructure:"limit"`
	MinLapS         float64   `mapstructure:"min_lap_s"`
	SoftEnd         bool      `mapstructure:"soft_end"`
	SoftEndTimeoutS float64   `mapstructure:"soft_end_timeout_s"`
}

// LimitSpec is the configured end condition of a mode. At most one of
// TimeS and Laps may be set; neither means a free-running session.
type LimitSpec struct {
	TimeS float64 `mapstructure:"time_s"`
	Laps  int     `mapstructure:"laps"`
}

// ToLimit converts the configured spec to the engine's limit value.
func (l LimitSpec) ToLimit() model.Limit {
	switch {
	case l.TimeS > 0:
		return model.Limit{Type: model.LimitTime, TimeS: l.TimeS}
	case l.Laps > 0:
		return model.Limit{Type: model.LimitLaps, Laps: l.Laps}
	}
	return model.Limit{Type: model.LimitNone}
}

// ToMode converts the configured mode to the engine's representation.
func (m Mode) ToMode() model.Mode {
	return model.Mode{
		Limit:           m.Limit.ToLimit(),
		MinLapS:         m.MinLapS,
		SoftEnd:         m.SoftEnd,
		SoftEndTimeoutS: m.SoftEndTimeoutS,
	}
}

// Mode looks up a race mode by name.
func (c *Config) Mode(name string) (Mode, bool) {
	m, ok := c.Modes[name]
	return m, ok
}

// EngineModes converts the whole mode catalog for Engine options.
func (c *Config) EngineModes() map[string]model.Mode {
	modes := make(map[string]model.Mode, len(c.Modes))
	for name, m := range c.Modes {
		modes[name] = m.ToMode()
	}
	return modes
}
