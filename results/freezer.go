// Package results freezes finished races into immutable classification
// rows and builds qualifying grids from the frozen lap times.
package results

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/hybridsix/chronocore/model"
	"github.com/hybridsix/chronocore/store"
)

// QualifyingKey is the event config key holding the persisted grid.
const QualifyingKey = "qualifying"

// Freezer turns a final engine state into the result_meta,
// result_standings and result_laps rows.
type Freezer struct {
	db  *store.DB
	log zerolog.Logger
}

// NewFreezer builds a Freezer over the given store.
func NewFreezer(db *store.DB, log zerolog.Logger) *Freezer {
	return &Freezer{db: db, log: log.With().Str("comp", "results").Logger()}
}

// Freeze persists the final state of a race. Idempotent: once
// result_meta exists for the race every later call is a no-op, so the
// engine's freeze hook and an operator-driven re-freeze cannot stack
// rows.
func (f *Freezer) Freeze(ctx context.Context, final model.FinalState) error {
	snap := final.Snapshot
	if snap.RaceID == "" {
		return fmt.Errorf("results: freeze without a loaded race")
	}

	exists, err := f.db.HasResult(ctx, snap.RaceID)
	if err != nil {
		return err
	}
	if exists {
		f.log.Debug().Str("race_id", snap.RaceID).Msg("already frozen")
		return nil
	}

	meta := model.ResultMeta{
		RaceID:        snap.RaceID,
		RaceType:      snap.RaceType,
		FrozenUTC:     final.FrozenAt.UTC(),
		DurationMs:    snap.ClockMs,
		ClockMsFrozen: snap.ClockMs,
		EventLabel:    snap.EventLabel,
		SessionLabel:  snap.SessionLabel,
		RaceMode:      raceMode(snap.Limit),
	}

	grid := f.gridLookup(ctx, snap.RaceID)
	standings := make([]model.FrozenStanding, 0, len(snap.Standings))
	for _, row := range snap.Standings {
		fs := model.FrozenStanding{
			Position:   row.Position,
			EntrantID:  row.EntrantID,
			Number:     row.Number,
			Name:       row.Name,
			Tag:        row.Tag,
			Laps:       row.Laps,
			LastMs:     row.LastMs,
			BestMs:     row.BestMs,
			GapMs:      row.GapMs,
			LapDeficit: row.LapDeficit,
			PitCount:   row.PitCount,
			Status:     row.Status,
		}
		if slot, ok := grid[row.EntrantID]; ok {
			fs.GridIndex = slot.Order
			brake := slot.BrakeOK
			fs.BrakeValid = &brake
		}
		standings = append(standings, fs)
	}

	laps := lapRecords(final.Laps)

	if err := f.db.WriteResult(ctx, meta, standings, laps); err != nil {
		return err
	}
	f.log.Info().
		Str("race_id", snap.RaceID).
		Str("race_type", snap.RaceType).
		Int64("duration_ms", meta.DurationMs).
		Int("standings", len(standings)).
		Int("laps", len(laps)).
		Msg("results frozen")
	return nil
}

// gridLookup loads the persisted qualifying grid and indexes it by
// entrant. A grid sourced from the race being frozen is ignored; the
// starting slots belong to the races that ran FROM the grid, not to the
// session that produced it.
func (f *Freezer) gridLookup(ctx context.Context, raceID string) map[int64]model.GridEntry {
	var qg model.QualifyingGrid
	ok, err := f.db.GetEventConfig(ctx, QualifyingKey, &qg)
	if err != nil {
		f.log.Warn().Err(err).Msg("qualifying grid unreadable, freezing without grid columns")
		return nil
	}
	if !ok || qg.SourceHeatID == raceID {
		return nil
	}
	byID := make(map[int64]model.GridEntry, len(qg.Grid))
	for _, e := range qg.Grid {
		byID[e.EntrantID] = e
	}
	return byID
}

// lapRecords flattens the per-entrant lap history into 1-based rows,
// ordered by entrant then credit order.
func lapRecords(laps map[int64][]int64) []model.LapRecord {
	ids := make([]int64, 0, len(laps))
	for id := range laps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var recs []model.LapRecord
	for _, id := range ids {
		for i, ms := range laps[id] {
			recs = append(recs, model.LapRecord{EntrantID: id, LapNo: i + 1, LapMs: ms})
		}
	}
	return recs
}

// raceMode renders the limit as the result_meta race_mode column.
func raceMode(l model.LimitInfo) string {
	switch l.Type {
	case model.LimitTime:
		return fmt.Sprintf("time_%ds", int64(l.TimeS))
	case model.LimitLaps:
		return fmt.Sprintf("laps_%d", l.Laps)
	default:
		return "open"
	}
}
