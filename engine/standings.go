package engine

import (
	"math"
	"sort"

	"github.com/hybridsix/chronocore/model"
)

// standings builds the ranked live standings: laps descending, then
// soft-end finish order, then best lap, last lap, entrant id. Disabled
// entrants are excluded entirely.
func (e *Engine) standings() []model.StandingRow {
	s := e.st
	rows := make([]model.StandingRow, 0, len(s.entrants))
	for _, en := range s.entrants {
		if !en.enabled {
			continue
		}
		rows = append(rows, model.StandingRow{
			EntrantID:   en.id,
			Number:      en.number,
			Name:        en.name,
			Tag:         en.tag,
			Laps:        en.laps,
			LastMs:      en.lastMs,
			BestMs:      en.bestMs,
			LastS:       float64(en.lastMs) / 1000,
			BestS:       float64(en.bestMs) / 1000,
			PitCount:    en.pitCount,
			InPit:       en.pitOpenAtMs >= 0,
			Status:      en.status,
			FinishOrder: en.finishOrder,
		})
	}
	sort.Slice(rows, func(i, j int) bool { return standingLess(rows[i], rows[j]) })

	for i := range rows {
		rows[i].Position = i + 1
	}
	if len(rows) > 0 {
		leader := rows[0]
		for i := 1; i < len(rows); i++ {
			r := &rows[i]
			if r.Laps == leader.Laps {
				// Same-lap gap is best-vs-best; unset bests show no gap
				// rather than a fabricated number.
				if r.BestMs > 0 && leader.BestMs > 0 && r.BestMs > leader.BestMs {
					r.GapMs = r.BestMs - leader.BestMs
				}
			} else {
				r.LapDeficit = leader.Laps - r.Laps
			}
		}
	}
	return rows
}

func standingLess(a, b model.StandingRow) bool {
	if a.Laps != b.Laps {
		return a.Laps > b.Laps
	}
	if a.FinishOrder > 0 && b.FinishOrder > 0 && a.FinishOrder != b.FinishOrder {
		return a.FinishOrder < b.FinishOrder
	}
	if am, bm := sortMs(a.BestMs), sortMs(b.BestMs); am != bm {
		return am < bm
	}
	if am, bm := sortMs(a.LastMs), sortMs(b.LastMs); am != bm {
		return am < bm
	}
	return a.EntrantID < b.EntrantID
}

// sortMs maps "no time yet" (zero) past every real time so timed
// entrants rank first.
func sortMs(ms int64) int64 {
	if ms <= 0 {
		return math.MaxInt64
	}
	return ms
}
