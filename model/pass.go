package model

import "time"

// Source identifies the timing loop that produced a detection.
type Source string

const (
	SourceTrack  Source = "track"
	SourcePitIn  Source = "pit_in"
	SourcePitOut Source = "pit_out"
)

// Pass is one normalized transponder detection, ready for the race engine.
// DeviceSecs carries the decoder-local seconds counter when the hardware
// reports one; the engine never uses it for lap math (the race clock is
// canonical) but it is kept for diagnostics.
type Pass struct {
	Tag        string    `json:"tag"`
	TsRecv     time.Time `json:"ts_recv"`
	Source     Source    `json:"source"`
	DeviceID   string    `json:"device_id,omitempty"`
	DeviceSecs float64   `json:"device_secs,omitempty"`
}
