package engine

import (
	"github.com/hybridsix/chronocore/model"
	"github.com/hybridsix/chronocore/util"
)

// autoWhiteWindowMs is how long before a time limit the white flag
// flies. Time limits shorter than this skip the white flag entirely.
const autoWhiteWindowMs = 60_000

// advanceClock folds elapsed monotonic time into the race clock and
// rebases the reference. No-op unless the clock is running. Negative
// deltas (clock source hiccups) are clamped to zero so clock_ms never
// moves backwards.
func (e *Engine) advanceClock() {
	s := e.st
	if !s.running {
		return
	}
	now := e.opts.NowMono()
	if delta := now - s.clockStartMono; delta > 0 {
		s.clockMs += delta
	}
	s.clockStartMono = now
}

// tick advances the clock and applies every automatic transition due at
// the new clock value. Every state-reading or state-mutating command
// runs it first, so automation never needs its own timer.
func (e *Engine) tick() {
	e.advanceClock()
	e.checkSoftEndExpiry()
	e.checkAutoCheckered()
	e.checkAutoWhite()
}

// checkSoftEndExpiry closes the soft-end finishing window once the
// timeout has elapsed past the checkered clock. Entrants that have not
// crossed by then keep their counts as-is.
func (e *Engine) checkSoftEndExpiry() {
	s := e.st
	if !s.inSoftEndWindow() {
		return
	}
	timeoutMs := util.RoundSecondsToMs(s.softEndTimeoutS)
	if s.clockMs-s.checkeredStartMs >= timeoutMs {
		e.freeze()
	}
}

// checkAutoCheckered throws checkered when a time limit is reached. Lap
// limits are handled on the crediting pass instead.
func (e *Engine) checkAutoCheckered() {
	s := e.st
	if !s.running || s.flag == model.FlagCheckered || s.flag == model.FlagPre {
		return
	}
	if s.limit.Type != model.LimitTime {
		return
	}
	if s.clockMs >= util.RoundSecondsToMs(s.limit.TimeS) {
		s.limitReached = true
		e.applyCheckered(true)
	}
}

// checkAutoWhite promotes green to white when the final phase begins:
// the last minute of a time limit, or the leader starting the final
// lap of a lap limit. The window latch persists across cautions so the
// promotion is not re-attempted after the moment has passed.
func (e *Engine) checkAutoWhite() {
	s := e.st
	if s.whiteSet || s.flag == model.FlagPre || s.flag == model.FlagCheckered {
		return
	}
	switch s.limit.Type {
	case model.LimitTime:
		if s.softEnd {
			return
		}
		limitMs := util.RoundSecondsToMs(s.limit.TimeS)
		if limitMs < autoWhiteWindowMs {
			return
		}
		if s.clockMs >= limitMs-autoWhiteWindowMs {
			s.whiteWindowBegun = true
			if s.flag == model.FlagGreen {
				s.whiteSet = true
				from := s.flag
				s.flag = model.FlagWhite
				e.journalFlagChange(from, model.FlagWhite, true)
			}
		}
	case model.LimitLaps:
		if s.flag != model.FlagGreen {
			return
		}
		leader := 0
		for _, en := range s.entrants {
			if en.enabled && en.laps > leader {
				leader = en.laps
			}
		}
		if leader >= s.limit.Laps-1 {
			s.whiteSet = true
			from := s.flag
			s.flag = model.FlagWhite
			e.journalFlagChange(from, model.FlagWhite, true)
		}
	}
}

// freeze makes the race final: the clock stops for good and the frozen
// clock value becomes the official duration. Idempotent.
func (e *Engine) freeze() {
	s := e.st
	if s.frozen {
		return
	}
	s.running = false
	s.frozen = true
	s.clockMsFrozen = s.clockMs
	e.log.Info().
		Str("race_id", s.raceID).
		Int64("clock_ms", s.clockMs).
		Bool("limit_reached", s.limitReached).
		Msg("race frozen")
	if e.opts.OnFreeze != nil {
		e.opts.OnFreeze(e.finalState())
	}
}
