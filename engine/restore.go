package engine

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/hybridsix/chronocore/model"
	"github.com/hybridsix/chronocore/util"
)

// stateDump is the checkpoint wire format: everything needed to pick a
// race back up mid-flight. Sentinel -1 values survive the roundtrip
// explicitly so omitempty cannot turn "closed" into "open at zero".
type stateDump struct {
	RaceID   string     `json:"race_id"`
	RaceType string     `json:"race_type"`
	Flag     model.Flag `json:"flag"`
	ClockMs  int64      `json:"clock_ms"`
	Running  bool       `json:"running"`

	Limit           model.Limit `json:"limit"`
	SoftEnd         bool        `json:"soft_end,omitempty"`
	SoftEndTimeoutS float64     `json:"soft_end_timeout_s,omitempty"`
	MinLapMs        int64       `json:"min_lap_ms"`
	MinLapDupMs     int64       `json:"min_lap_dup_ms"`

	WhiteWindowBegun bool `json:"white_window_begun,omitempty"`
	WhiteSet         bool `json:"white_set,omitempty"`
	LimitReached     bool `json:"limit_reached,omitempty"`

	CheckeredStartMs int64 `json:"checkered_start_ms"`
	ClockMsFrozen    int64 `json:"clock_ms_frozen"`
	Frozen           bool  `json:"frozen,omitempty"`
	FinishSeq        int   `json:"finish_seq,omitempty"`

	Entrants []entrantDump `json:"entrants"`
}

type entrantDump struct {
	ID      int64        `json:"entrant_id"`
	Number  string       `json:"number,omitempty"`
	Name    string       `json:"name"`
	Tag     string       `json:"tag,omitempty"`
	Enabled bool         `json:"enabled"`
	Status  model.Status `json:"status"`

	Laps    int     `json:"laps"`
	LastMs  int64   `json:"last_ms,omitempty"`
	BestMs  int64   `json:"best_ms,omitempty"`
	LapHist []int64 `json:"lap_hist,omitempty"`

	PitCount    int   `json:"pit_count,omitempty"`
	LastPitMs   int64 `json:"last_pit_ms,omitempty"`
	PitOpenAtMs int64 `json:"pit_open_at_ms"`

	LastHitMs   int64 `json:"last_hit_ms"`
	FinishOrder int   `json:"finish_order,omitempty"`
	SoftEndDone bool  `json:"soft_end_completed,omitempty"`
	Provisional bool  `json:"provisional,omitempty"`
}

// dumpState serializes the owned race state for a checkpoint.
func (e *Engine) dumpState() ([]byte, error) {
	s := e.st
	dump := stateDump{
		RaceID:           s.raceID,
		RaceType:         s.raceType,
		Flag:             s.flag,
		ClockMs:          s.clockMs,
		Running:          s.running,
		Limit:            s.limit,
		SoftEnd:          s.softEnd,
		SoftEndTimeoutS:  s.softEndTimeoutS,
		MinLapMs:         s.minLapMs,
		MinLapDupMs:      s.minLapDupMs,
		WhiteWindowBegun: s.whiteWindowBegun,
		WhiteSet:         s.whiteSet,
		LimitReached:     s.limitReached,
		CheckeredStartMs: s.checkeredStartMs,
		ClockMsFrozen:    s.clockMsFrozen,
		Frozen:           s.frozen,
		FinishSeq:        s.finishSeq,
	}
	ids := make([]int64, 0, len(s.entrants))
	for id := range s.entrants {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	dump.Entrants = make([]entrantDump, 0, len(ids))
	for _, id := range ids {
		en := s.entrants[id]
		dump.Entrants = append(dump.Entrants, entrantDump{
			ID:          en.id,
			Number:      en.number,
			Name:        en.name,
			Tag:         en.tag,
			Enabled:     en.enabled,
			Status:      en.status,
			Laps:        en.laps,
			LastMs:      en.lastMs,
			BestMs:      en.bestMs,
			LapHist:     en.lapHist,
			PitCount:    en.pitCount,
			LastPitMs:   en.lastPitMs,
			PitOpenAtMs: en.pitOpenAtMs,
			LastHitMs:   en.lastHitMs,
			FinishOrder: en.finishOrder,
			SoftEndDone: en.softEndDone,
			Provisional: en.provisional,
		})
	}
	return json.Marshal(dump)
}

// restore rebuilds race state from a checkpoint blob and replays the
// journal records written after it. Replayed records apply at their
// recorded clock values; the monotonic clock never advances here.
func (e *Engine) restore(state []byte, recs []model.Record) error {
	if len(state) == 0 {
		return fmt.Errorf("%w: restore needs a checkpoint", ErrStateViolation)
	}
	var dump stateDump
	if err := json.Unmarshal(state, &dump); err != nil {
		return fmt.Errorf("engine: decode checkpoint: %w", err)
	}
	if dump.RaceID == "" {
		return fmt.Errorf("engine: checkpoint has no race id")
	}

	s := newRaceState()
	s.raceID = dump.RaceID
	s.raceCode = e.raceCode(dump.RaceID)
	s.raceType = dump.RaceType
	s.flag = dump.Flag
	s.clockMs = dump.ClockMs
	s.limit = dump.Limit
	s.softEnd = dump.SoftEnd
	s.softEndTimeoutS = dump.SoftEndTimeoutS
	s.minLapMs = dump.MinLapMs
	s.minLapDupMs = dump.MinLapDupMs
	s.whiteWindowBegun = dump.WhiteWindowBegun
	s.whiteSet = dump.WhiteSet
	s.limitReached = dump.LimitReached
	s.checkeredStartMs = dump.CheckeredStartMs
	s.clockMsFrozen = dump.ClockMsFrozen
	s.frozen = dump.Frozen
	s.finishSeq = dump.FinishSeq
	for _, d := range dump.Entrants {
		en := newEntrant(d.ID)
		en.number = d.Number
		en.name = d.Name
		en.tag = d.Tag
		en.enabled = d.Enabled
		en.status = d.Status
		en.laps = d.Laps
		en.lastMs = d.LastMs
		en.bestMs = d.BestMs
		en.lapHist = d.LapHist
		if n := len(d.LapHist); n > 0 {
			tail := d.LapHist
			if n > paceDepth {
				tail = d.LapHist[n-paceDepth:]
			}
			en.pace = append([]int64(nil), tail...)
		}
		en.pitCount = d.PitCount
		en.lastPitMs = d.LastPitMs
		en.pitOpenAtMs = d.PitOpenAtMs
		en.lastHitMs = d.LastHitMs
		en.finishOrder = d.FinishOrder
		en.softEndDone = d.SoftEndDone
		en.provisional = d.Provisional
		s.entrants[en.id] = en
	}
	s.rebuildTagIndex()
	s.lastCheckpointWall = e.opts.NowWall()
	e.st = s

	s.replaying = true
	replayed := 0
	for _, rec := range recs {
		if rec.RaceID != s.raceID {
			continue
		}
		// Journal clock values are non-decreasing within a race; pin
		// forward only so a stale record cannot rewind the clock.
		if rec.ClockMs > s.clockMs {
			s.clockMs = rec.ClockMs
		}
		e.replayRecord(rec)
		replayed++
	}
	s.replaying = false

	// Resume posture: final races stay final, an open soft-end window
	// keeps ticking in real time, everything else waits for an operator
	// green.
	switch {
	case !s.frozen && s.flag == model.FlagCheckered &&
		s.softEnd && s.clockMs-s.checkeredStartMs < util.RoundSecondsToMs(s.softEndTimeoutS):
		s.running = true
		s.clockStartMono = e.opts.NowMono()
	case !s.frozen && s.flag == model.FlagCheckered:
		e.freeze()
	default:
		s.running = false
	}

	e.log.Info().
		Str("race_id", s.raceID).
		Int64("clock_ms", s.clockMs).
		Str("flag", string(s.flag)).
		Int("entrants", len(s.entrants)).
		Int("replayed", replayed).
		Bool("frozen", s.frozen).
		Msg("race restored")
	return nil
}

func (e *Engine) replayRecord(rec model.Record) {
	switch rec.Type {
	case model.RecordPass:
		var p model.PassPayload
		if decodePayload(rec.Payload, &p) != nil {
			return
		}
		e.ingestAt(model.Pass{Tag: p.Tag, Source: p.Source, DeviceID: p.DeviceID})
	case model.RecordFlagChange:
		var p model.FlagChangePayload
		if decodePayload(rec.Payload, &p) != nil {
			return
		}
		e.replayFlag(p)
	case model.RecordEntrantEnable:
		var p model.EntrantEnablePayload
		if decodePayload(rec.Payload, &p) != nil {
			return
		}
		if en, ok := e.st.entrants[p.EntrantID]; ok {
			en.enabled = p.Enabled
			e.st.rebuildTagIndex()
		}
	case model.RecordEntrantStatus:
		var p model.EntrantStatusPayload
		if decodePayload(rec.Payload, &p) != nil {
			return
		}
		if en, ok := e.st.entrants[p.EntrantID]; ok && model.ValidStatus(p.Status) {
			en.status = p.Status
		}
	case model.RecordAssignTag:
		var p model.AssignTagPayload
		if decodePayload(rec.Payload, &p) != nil {
			return
		}
		if en, ok := e.st.entrants[p.EntrantID]; ok {
			en.tag = p.Tag
			e.st.rebuildTagIndex()
		}
	}
}

// replayFlag re-applies a recorded flag transition. Same semantics as
// the live path except the monotonic clock is never consulted; the
// resume posture at the end of restore decides running.
func (e *Engine) replayFlag(p model.FlagChangePayload) {
	s := e.st
	switch p.To {
	case model.FlagPre:
		s.flag = model.FlagPre
	case model.FlagGreen:
		s.flag = model.FlagGreen
		s.running = true
	case model.FlagYellow, model.FlagBlue:
		e.noteLeaveGreen(s.flag)
		s.flag = p.To
	case model.FlagWhite:
		e.noteLeaveGreen(s.flag)
		s.whiteSet = true
		s.flag = model.FlagWhite
	case model.FlagRed:
		e.noteLeaveGreen(s.flag)
		s.flag = model.FlagRed
		s.running = false
	case model.FlagCheckered:
		e.applyCheckered(p.Auto)
	}
}

// decodePayload converts a journal payload (raw JSON from the store, or
// a typed struct in-process) into dst.
func decodePayload(payload any, dst any) error {
	var raw []byte
	switch v := payload.(type) {
	case json.RawMessage:
		raw = v
	case []byte:
		raw = v
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return err
		}
		raw = b
	}
	return json.Unmarshal(raw, dst)
}
