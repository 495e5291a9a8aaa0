package model

import (
	"strings"
	"time"
)

// Flag is the race control flag state.
type Flag string

const (
	FlagPre       Flag = "pre"
	FlagGreen     Flag = "green"
	FlagYellow    Flag = "yellow"
	FlagRed       Flag = "red"
	FlagBlue      Flag = "blue"
	FlagWhite     Flag = "white"
	FlagCheckered Flag = "checkered"
)

// ParseFlag maps a flag name (case-insensitive) to its Flag value.
func ParseFlag(name string) (Flag, bool) {
	f := Flag(strings.ToLower(strings.TrimSpace(name)))
	switch f {
	case FlagPre, FlagGreen, FlagYellow, FlagRed, FlagBlue, FlagWhite, FlagCheckered:
		return f, true
	}
	return "", false
}

// LimitType says how a race session ends.
type LimitType string

const (
	LimitNone LimitType = "none"
	LimitTime LimitType = "time"
	LimitLaps LimitType = "laps"
)

// Limit is a session end condition. TimeS is used for LimitTime,
// Laps for LimitLaps.
type Limit struct {
	Type  LimitType `json:"type"`
	TimeS float64   `json:"time_s,omitempty"`
	Laps  int       `json:"laps,omitempty"`
}

// Mode is one entry of the race mode catalog as the engine consumes it.
// MinLapS zero inherits the global timing threshold. SoftEnd is honored
// for time limits only.
type Mode struct {
	Limit           Limit   `json:"limit"`
	MinLapS         float64 `json:"min_lap_s,omitempty"`
	SoftEnd         bool    `json:"soft_end,omitempty"`
	SoftEndTimeoutS float64 `json:"soft_end_timeout_s,omitempty"`
}

// SessionConfig carries per-session overrides applied on top of the race
// mode. Nil fields inherit the mode's values.
type SessionConfig struct {
	Limit           *Limit   `json:"limit,omitempty"`
	SoftEnd         *bool    `json:"soft_end,omitempty"`
	SoftEndTimeoutS *float64 `json:"soft_end_timeout_s,omitempty"`
}

// StandingRow is one live standings line. LastMs/BestMs are the exact
// engine values; LastS/BestS are their seconds rendering for views.
type StandingRow struct {
	Position    int     `json:"position"`
	EntrantID   int64   `json:"entrant_id"`
	Number      string  `json:"number,omitempty"`
	Name        string  `json:"name"`
	Tag         string  `json:"-"`
	Laps        int     `json:"laps"`
	LastS       float64 `json:"last_s,omitempty"`
	BestS       float64 `json:"best_s,omitempty"`
	LastMs      int64   `json:"-"`
	BestMs      int64   `json:"-"`
	GapMs       int64   `json:"gap_ms"`
	LapDeficit  int     `json:"lap_deficit"`
	PitCount    int     `json:"pit_count"`
	InPit       bool    `json:"in_pit"`
	Status      Status  `json:"status"`
	FinishOrder int     `json:"finish_order,omitempty"`
}

// LimitInfo is the limit section of a snapshot. RemainingMs is meaningful
// for time limits only.
type LimitInfo struct {
	Type        LimitType `json:"type"`
	TimeS       float64   `json:"time_s,omitempty"`
	Laps        int       `json:"laps,omitempty"`
	RemainingMs int64     `json:"remaining_ms,omitempty"`
}

// Snapshot is a point-in-time view of the race engine. All fields are
// copies; callers may retain them.
type Snapshot struct {
	RaceID       string        `json:"race_id"`
	RaceCode     string        `json:"race_code,omitempty"`
	RaceType     string        `json:"race_type"`
	Flag         Flag          `json:"flag"`
	Running      bool          `json:"running"`
	InSoftEnd    bool          `json:"in_soft_end,omitempty"`
	ClockMs      int64         `json:"clock_ms"`
	Limit        LimitInfo     `json:"limit"`
	Standings    []StandingRow `json:"standings"`
	SimActive    bool          `json:"sim_active,omitempty"`
	SimLabel     string        `json:"sim_label,omitempty"`
	EventLabel   string        `json:"event_label,omitempty"`
	SessionLabel string        `json:"session_label,omitempty"`
	TakenAt      time.Time     `json:"taken_at"`
}

// FinalState is what the engine hands to the results freezer at the
// moment a race becomes final.
type FinalState struct {
	Snapshot         Snapshot
	Laps             map[int64][]int64 // entrant id -> credited lap ms, in credit order
	CheckeredStartMs int64             // race clock when checkered flew, -1 if never
	FrozenAt         time.Time
}
