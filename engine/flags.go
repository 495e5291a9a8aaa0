package engine

import (
	"fmt"
	"time"

	"github.com/hybridsix/chronocore/model"
	"github.com/hybridsix/chronocore/util"
)

// setFlag applies an operator flag change. Transitions among the armed
// flags (green, yellow, red, blue, white) are free; pre is entered only
// through Reset or Load, and checkered is terminal.
func (e *Engine) setFlag(name string) error {
	f, ok := model.ParseFlag(name)
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidFlag, name)
	}
	s := e.st
	if s.raceID == "" {
		return fmt.Errorf("%w: no race loaded", ErrStateViolation)
	}
	if f == model.FlagPre {
		return fmt.Errorf("%w: pre is entered via load or reset, not set_flag", ErrStateViolation)
	}

	// Land the transition on a current clock, with any due automatic
	// transition applied first so the operator cannot race them.
	e.tick()

	if s.flag == model.FlagCheckered {
		if f == model.FlagCheckered {
			return nil
		}
		return fmt.Errorf("%w: checkered is terminal", ErrStateViolation)
	}
	if s.flag == model.FlagPre && f != model.FlagGreen {
		return fmt.Errorf("%w: race starts with green", ErrStateViolation)
	}

	from := s.flag
	switch f {
	case model.FlagGreen:
		// The green edge arms (or re-arms after red) the race clock.
		if !s.running {
			s.clockStartMono = e.opts.NowMono()
			s.running = true
		}
		s.flag = model.FlagGreen
	case model.FlagYellow, model.FlagBlue:
		e.noteLeaveGreen(from)
		s.flag = f
	case model.FlagWhite:
		e.noteLeaveGreen(from)
		s.whiteSet = true
		s.flag = model.FlagWhite
	case model.FlagRed:
		e.noteLeaveGreen(from)
		s.flag = model.FlagRed
		// Red pauses the clock; the next green rebases it.
		s.running = false
	case model.FlagCheckered:
		e.applyCheckered(false)
		return nil
	}

	if from != s.flag {
		e.journalFlagChange(from, s.flag, false)
	}
	return nil
}

// noteLeaveGreen latches the white flag as spent if the green stint
// being left had already entered the final-minute window. Without this
// a caution inside the window would replay the white on re-green.
func (e *Engine) noteLeaveGreen(from model.Flag) {
	s := e.st
	if from == model.FlagGreen && s.whiteWindowBegun && !s.whiteSet {
		s.whiteSet = true
	}
}

// applyCheckered throws the checkered flag and either freezes the race
// immediately or opens the soft-end finishing window. Safe to call when
// checkered is already flying.
func (e *Engine) applyCheckered(auto bool) {
	s := e.st
	if s.flag != model.FlagCheckered {
		from := s.flag
		e.noteLeaveGreen(from)
		s.flag = model.FlagCheckered
		if s.checkeredStartMs < 0 {
			s.checkeredStartMs = s.clockMs
		}
		e.journalFlagChange(from, model.FlagCheckered, auto)
	}
	if s.softEnd && s.running && !s.frozen {
		// Finishing window: the clock keeps running until each entrant
		// completes the current lap or the timeout closes the window.
		e.log.Info().
			Str("race_id", s.raceID).
			Int64("clock_ms", s.clockMs).
			Float64("window_s", s.softEndTimeoutS).
			Msg("checkered with soft end window open")
		return
	}
	e.freeze()
}

// journalFlagChange emits one flag_change record. No-op while replaying
// or without a journal.
func (e *Engine) journalFlagChange(from, to model.Flag, auto bool) {
	e.journalPut(model.RecordFlagChange, model.FlagChangePayload{From: from, To: to, Auto: auto})
	e.log.Info().
		Str("race_id", e.st.raceID).
		Str("from", string(from)).
		Str("to", string(to)).
		Bool("auto", auto).
		Int64("clock_ms", e.st.clockMs).
		Msg("flag change")
}

// journalPut stamps and emits one journal record at the current clock.
func (e *Engine) journalPut(typ model.RecordType, payload any) {
	if e.opts.Journal == nil || e.st.replaying || e.st.raceID == "" {
		return
	}
	e.opts.Journal.Put(model.Record{
		RaceID:  e.st.raceID,
		WallMs:  e.opts.NowWall().UnixMilli(),
		ClockMs: e.st.clockMs,
		Type:    typ,
		Payload: payload,
	})
}

// maybeCheckpoint writes a full-state checkpoint when the cadence for
// this race has elapsed. Driven off journaled pass traffic, so an idle
// race does not pile up identical checkpoints.
func (e *Engine) maybeCheckpoint() {
	if e.opts.Journal == nil || e.st.replaying || e.st.raceID == "" {
		return
	}
	now := e.opts.NowWall()
	if now.Sub(e.st.lastCheckpointWall) < e.opts.CheckpointEvery {
		return
	}
	e.checkpointNow(now)
}

// checkpointNow serializes the full race state and hands it to the
// journal. The cadence reference resets even on a serialization error
// so a poisoned state cannot hot-loop the writer.
func (e *Engine) checkpointNow(now time.Time) {
	e.st.lastCheckpointWall = now
	blob, err := e.dumpState()
	if err != nil {
		e.log.Error().Err(err).Str("race_id", e.st.raceID).Msg("checkpoint state dump failed")
		return
	}
	e.opts.Journal.Checkpoint(model.Checkpoint{
		RaceID:  e.st.raceID,
		WallMs:  now.UnixMilli(),
		ClockMs: e.st.clockMs,
		State:   blob,
	})
}

// remainingMs reports clock left under a time limit, clamped at zero.
func (s *raceState) remainingMs() int64 {
	if s.limit.Type != model.LimitTime {
		return 0
	}
	rem := util.RoundSecondsToMs(s.limit.TimeS) - s.clockMs
	if rem < 0 {
		return 0
	}
	return rem
}
