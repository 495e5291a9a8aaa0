package model

// RecordType classifies a journal record.
type RecordType string

const (
	RecordPass          RecordType = "pass"
	RecordFlagChange    RecordType = "flag_change"
	RecordEntrantEnable RecordType = "entrant_enable"
	RecordEntrantStatus RecordType = "entrant_status"
	RecordAssignTag     RecordType = "assign_tag"
)

// Record is one durable race journal entry. Payload must be
// JSON-marshalable; records read back from storage carry
// json.RawMessage payloads.
type Record struct {
	RaceID  string     `json:"race_id"`
	WallMs  int64      `json:"wall_ms"`
	ClockMs int64      `json:"clock_ms"`
	Type    RecordType `json:"type"`
	Payload any        `json:"payload,omitempty"`
}

// PassPayload is the payload of a RecordPass record.
type PassPayload struct {
	Tag      string `json:"tag"`
	Source   Source `json:"source"`
	DeviceID string `json:"device_id,omitempty"`
}

// FlagChangePayload is the payload of a RecordFlagChange record. Auto
// marks transitions the engine made on its own (auto-white, limit
// checkered) rather than operator calls.
type FlagChangePayload struct {
	From Flag `json:"from"`
	To   Flag `json:"to"`
	Auto bool `json:"auto,omitempty"`
}

// EntrantEnablePayload is the payload of a RecordEntrantEnable record.
type EntrantEnablePayload struct {
	EntrantID int64 `json:"entrant_id"`
	Enabled   bool  `json:"enabled"`
}

// EntrantStatusPayload is the payload of a RecordEntrantStatus record.
type EntrantStatusPayload struct {
	EntrantID int64  `json:"entrant_id"`
	Status    Status `json:"status"`
}

// AssignTagPayload is the payload of a RecordAssignTag record. An empty
// Tag clears the assignment.
type AssignTagPayload struct {
	EntrantID int64  `json:"entrant_id"`
	Tag       string `json:"tag"`
}

// Checkpoint is a full engine state snapshot written alongside the
// journal so recovery never replays more than one checkpoint interval.
type Checkpoint struct {
	RaceID  string
	WallMs  int64
	ClockMs int64
	State   []byte // opaque engine dump, JSON
}
