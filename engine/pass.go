package engine

import (
	"github.com/hybridsix/chronocore/model"
	"github.com/hybridsix/chronocore/util"
)

// Reason labels why an accepted detection did not credit a lap (or, for
// pit events, what it did instead).
type Reason string

const (
	ReasonNoRace          Reason = "no_race"
	ReasonUnknownTag      Reason = "unknown_tag"
	ReasonProvisionalCap  Reason = "provisional_cap"
	ReasonDisabled        Reason = "disabled"
	ReasonPitEvent        Reason = "pit_event"
	ReasonCheckeredFreeze Reason = "checkered_freeze"
	ReasonSoftEndDone     Reason = "soft_end_completed"
	ReasonBaseline        Reason = "baseline"
	ReasonDup             Reason = "dup"
	ReasonMinLap          Reason = "min_lap"
)

// IngestResult is the outcome envelope of one pass. When LapAdded is
// false, Reason says why; counters hold the entrant's state after the
// pass either way.
type IngestResult struct {
	EntrantID   int64  `json:"entrant_id,omitempty"`
	LapAdded    bool   `json:"lap_added"`
	Reason      Reason `json:"reason,omitempty"`
	Laps        int    `json:"laps,omitempty"`
	LastMs      int64  `json:"last_ms,omitempty"`
	BestMs      int64  `json:"best_ms,omitempty"`
	FinishOrder int    `json:"finish_order,omitempty"`
}

// ingest runs one pass through the pipeline: clock advance, pit
// routing, tag resolution, journaling, pit handling, checkered gates,
// dup and min-lap thresholds, lap credit, then limit checks.
func (e *Engine) ingest(p model.Pass) IngestResult {
	s := e.st
	if s.raceID == "" {
		return IngestResult{Reason: ReasonNoRace}
	}

	e.tick()
	return e.ingestAt(p)
}

// ingestAt is the pipeline body after the clock is current. Restore
// replay calls it directly with the clock pinned to the recorded value.
func (e *Engine) ingestAt(p model.Pass) IngestResult {
	s := e.st

	src := p.Source
	if src == "" {
		src = model.SourceTrack
	}
	// Defense in depth: when pit timing is on, the device map decides
	// even if the feed did not classify the receiver.
	if src == model.SourceTrack && e.opts.PitTiming && e.opts.Route != nil && p.DeviceID != "" {
		src = e.opts.Route(p.DeviceID)
	}

	id, ok := s.tagIndex[p.Tag]
	if !ok {
		if !e.opts.AutoProvisional || p.Tag == "" {
			e.log.Debug().Str("tag", p.Tag).Msg("unknown tag")
			return IngestResult{Reason: ReasonUnknownTag}
		}
		pid, created := e.provisionEntrant(p.Tag)
		if !created {
			e.log.Debug().Str("tag", p.Tag).Msg("provisional cap reached")
			return IngestResult{Reason: ReasonProvisionalCap}
		}
		id = pid
	}
	en := s.entrants[id]

	if !en.enabled {
		return IngestResult{EntrantID: id, Reason: ReasonDisabled}
	}

	// The pass is attributable from here on: journal it and let the
	// record drive the checkpoint cadence.
	e.journalPut(model.RecordPass, model.PassPayload{Tag: p.Tag, Source: src, DeviceID: p.DeviceID})
	defer e.maybeCheckpoint()

	switch src {
	case model.SourcePitIn:
		en.pitOpenAtMs = s.clockMs
		return IngestResult{EntrantID: id, Reason: ReasonPitEvent, Laps: en.laps}
	case model.SourcePitOut:
		if en.pitOpenAtMs >= 0 {
			en.lastPitMs = s.clockMs - en.pitOpenAtMs
			en.pitCount++
			en.pitOpenAtMs = -1
		}
		// pit_out without a matching pit_in is ignored rather than
		// guessed at; the stint counter only moves on complete pairs.
		return IngestResult{EntrantID: id, Reason: ReasonPitEvent, Laps: en.laps}
	}

	if s.flag == model.FlagCheckered {
		if !s.inSoftEndWindow() {
			return IngestResult{EntrantID: id, Reason: ReasonCheckeredFreeze, Laps: en.laps}
		}
		if en.softEndDone {
			return IngestResult{EntrantID: id, Reason: ReasonSoftEndDone, Laps: en.laps, FinishOrder: en.finishOrder}
		}
	}

	// Every counted crossing slides the baseline forward, including
	// ones rejected as dup or min-lap, so a cluster of bounces cannot
	// assemble into a credited lap.
	prev := en.lastHitMs
	en.lastHitMs = s.clockMs
	if prev < 0 {
		return IngestResult{EntrantID: id, Reason: ReasonBaseline, Laps: en.laps}
	}
	deltaMs := s.clockMs - prev
	if deltaMs < s.minLapDupMs {
		return IngestResult{EntrantID: id, Reason: ReasonDup, Laps: en.laps, LastMs: en.lastMs, BestMs: en.bestMs}
	}
	if deltaMs < s.minLapMs {
		return IngestResult{EntrantID: id, Reason: ReasonMinLap, Laps: en.laps, LastMs: en.lastMs, BestMs: en.bestMs}
	}

	en.creditLap(deltaMs)
	res := IngestResult{
		EntrantID: id,
		LapAdded:  true,
		Laps:      en.laps,
		LastMs:    en.lastMs,
		BestMs:    en.bestMs,
	}
	if s.inSoftEndWindow() {
		s.finishSeq++
		en.finishOrder = s.finishSeq
		en.softEndDone = true
		res.FinishOrder = en.finishOrder
	}

	// Lap limits close the race on the crediting pass itself.
	if s.limit.Type == model.LimitLaps && en.laps >= s.limit.Laps && s.flag != model.FlagCheckered {
		s.limitReached = true
		e.applyCheckered(true)
	}
	e.checkAutoWhite()

	return res
}

// provisionEntrant synthesizes an entrant for an unknown tag, subject
// to the per-race cap. Returns the new id and whether one was created.
func (e *Engine) provisionEntrant(tag string) (int64, bool) {
	s := e.st
	if s.provisionalCount() >= e.opts.ProvisionalCap {
		return 0, false
	}
	en := newEntrant(s.nextFreeID())
	en.name = "Unknown " + util.TailDigits(tag, 4)
	en.tag = tag
	en.enabled = true
	en.provisional = true
	s.entrants[en.id] = en
	s.tagIndex[tag] = en.id
	e.log.Info().Int64("entrant_id", en.id).Str("tag", tag).Msg("provisional entrant created")
	return en.id, true
}
