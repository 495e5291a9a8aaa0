package model

import (
	"strings"
	"time"
)

// ResultMeta is one frozen race header row. DurationMs is the official
// race duration, the clock value at the final freeze; it equals
// ClockMsFrozen, which soft-end races push past the checkered edge.
type ResultMeta struct {
	RaceID        string
	RaceType      string
	FrozenUTC     time.Time
	DurationMs    int64
	ClockMsFrozen int64
	EventLabel    string
	SessionLabel  string
	RaceMode      string
}

// FrozenStanding is one immutable classification row.
type FrozenStanding struct {
	Position   int
	EntrantID  int64
	Number     string
	Name       string
	Tag        string
	Laps       int
	LastMs     int64 // 0 when the entrant never completed a lap
	BestMs     int64
	GapMs      int64
	LapDeficit int
	PitCount   int
	Status     Status
	GridIndex  int   // 0 when the race did not start from a stored grid
	BrakeValid *bool // nil when no verdict was recorded
}

// LapRecord is one frozen lap time. LapNo is 1-based, in credit order.
type LapRecord struct {
	EntrantID int64
	LapNo     int
	LapMs     int64
}

// GridPolicy says how brake-check failures reorder a qualifying grid.
type GridPolicy string

const (
	PolicyDemote       GridPolicy = "demote"
	PolicyUseNextValid GridPolicy = "use_next_valid"
	PolicyExclude      GridPolicy = "exclude"
)

// ParseGridPolicy maps a policy name to its GridPolicy value.
func ParseGridPolicy(s string) (GridPolicy, bool) {
	p := GridPolicy(strings.ToLower(strings.TrimSpace(s)))
	switch p {
	case PolicyDemote, PolicyUseNextValid, PolicyExclude:
		return p, true
	}
	return "", false
}

// BrakeVerdict is a post-session brake check outcome.
type BrakeVerdict string

const (
	BrakePass    BrakeVerdict = "pass"
	BrakeFail    BrakeVerdict = "fail"
	BrakeUnknown BrakeVerdict = "unknown"
)

// ParseBrakeVerdict maps a verdict name to its BrakeVerdict value.
func ParseBrakeVerdict(s string) (BrakeVerdict, bool) {
	v := BrakeVerdict(strings.ToLower(strings.TrimSpace(s)))
	switch v {
	case BrakePass, BrakeFail, BrakeUnknown:
		return v, true
	}
	return "", false
}

// GridEntry is one starting slot of a computed qualifying grid.
type GridEntry struct {
	EntrantID int64 `json:"entrant_id"`
	BestMs    int64 `json:"best_ms"`
	BrakeOK   bool  `json:"brake_ok"`
	Order     int   `json:"order"`
}

// QualifyingGrid is the persisted output of the grid builder.
type QualifyingGrid struct {
	SourceHeatID string      `json:"source_heat_id"`
	Policy       GridPolicy  `json:"policy"`
	Grid         []GridEntry `json:"grid"`
}
