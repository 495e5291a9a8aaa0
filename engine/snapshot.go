package engine

import "github.com/hybridsix/chronocore/model"

// buildSnapshot copies the current race view. Callers must have run
// tick first so the clock and automatic flags are current.
func (e *Engine) buildSnapshot() model.Snapshot {
	s := e.st
	return model.Snapshot{
		RaceID:       s.raceID,
		RaceCode:     s.raceCode,
		RaceType:     s.raceType,
		Flag:         s.flag,
		Running:      s.running,
		InSoftEnd:    s.inSoftEndWindow(),
		ClockMs:      s.clockMs,
		Limit:        e.limitInfo(),
		Standings:    e.standings(),
		SimActive:    s.simActive,
		SimLabel:     s.simLabel,
		EventLabel:   e.opts.EventLabel,
		SessionLabel: e.opts.SessionLabel,
		TakenAt:      e.opts.NowWall(),
	}
}

func (e *Engine) limitInfo() model.LimitInfo {
	s := e.st
	info := model.LimitInfo{Type: s.limit.Type}
	switch s.limit.Type {
	case model.LimitTime:
		info.TimeS = s.limit.TimeS
		info.RemainingMs = s.remainingMs()
	case model.LimitLaps:
		info.Laps = s.limit.Laps
	}
	return info
}

// finalState assembles the freeze handoff: the last snapshot plus the
// full lap history the live standings do not carry.
func (e *Engine) finalState() model.FinalState {
	s := e.st
	laps := make(map[int64][]int64, len(s.entrants))
	for id, en := range s.entrants {
		if len(en.lapHist) == 0 {
			continue
		}
		hist := make([]int64, len(en.lapHist))
		copy(hist, en.lapHist)
		laps[id] = hist
	}
	return model.FinalState{
		Snapshot:         e.buildSnapshot(),
		Laps:             laps,
		CheckeredStartMs: s.checkeredStartMs,
		FrozenAt:         e.opts.NowWall(),
	}
}
