package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/hybridsix/chronocore/model"
)

func nullablePositive(v int64) any {
	if v > 0 {
		return v
	}
	return nil
}

// HasResult reports whether a frozen result exists for the race.
func (d *DB) HasResult(ctx context.Context, raceID string) (bool, error) {
	var one int
	err := d.sql.QueryRowContext(ctx,
		`SELECT 1 FROM result_meta WHERE race_id = ?`, raceID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("store: query result_meta: %w", err)
	}
	return true, nil
}

// WriteResult freezes a race into result_meta, result_standings and
// result_laps in one transaction. Callers are expected to have checked
// HasResult first; a duplicate write fails on the primary key.
func (d *DB) WriteResult(ctx context.Context, meta model.ResultMeta,
	standings []model.FrozenStanding, laps []model.LapRecord) error {

	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin result tx: %w", err)
	}
	defer tx.Rollback()

	frozen := meta.FrozenUTC.UTC()
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO result_meta (race_id, race_type, frozen_utc, duration_ms,
		                         clock_ms_frozen, event_label, session_label, race_mode,
		                         frozen_iso_utc, frozen_iso_local)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		meta.RaceID, meta.RaceType, frozen.UnixMilli(), meta.DurationMs,
		meta.ClockMsFrozen, meta.EventLabel, meta.SessionLabel, meta.RaceMode,
		frozen.Format(time.RFC3339), meta.FrozenUTC.Local().Format(time.RFC3339)); err != nil {
		return fmt.Errorf("store: insert result_meta: %w", err)
	}

	standingStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO result_standings (race_id, position, entrant_id, number, name, tag,
		                              laps, last_ms, best_ms, gap_ms, lap_deficit,
		                              pit_count, status, grid_index, brake_valid)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare standings insert: %w", err)
	}
	defer standingStmt.Close()

	for _, s := range standings {
		var brake any
		if s.BrakeValid != nil {
			if *s.BrakeValid {
				brake = 1
			} else {
				brake = 0
			}
		}
		if _, err := standingStmt.ExecContext(ctx,
			meta.RaceID, s.Position, s.EntrantID, s.Number, s.Name, s.Tag,
			s.Laps, nullablePositive(s.LastMs), nullablePositive(s.BestMs),
			s.GapMs, s.LapDeficit, s.PitCount, string(s.Status),
			nullablePositive(int64(s.GridIndex)), brake); err != nil {
			return fmt.Errorf("store: insert standing %d: %w", s.Position, err)
		}
	}

	lapStmt, err := tx.PrepareContext(ctx, `
		INSERT INTO result_laps (race_id, entrant_id, lap_no, lap_ms)
		VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare laps insert: %w", err)
	}
	defer lapStmt.Close()

	for _, l := range laps {
		if _, err := lapStmt.ExecContext(ctx, meta.RaceID, l.EntrantID, l.LapNo, l.LapMs); err != nil {
			return fmt.Errorf("store: insert lap %d/%d: %w", l.EntrantID, l.LapNo, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit result: %w", err)
	}
	return nil
}

// ResultMeta returns the frozen header of a race, if any.
func (d *DB) ResultMeta(ctx context.Context, raceID string) (model.ResultMeta, bool, error) {
	var (
		meta     model.ResultMeta
		frozenMs int64
		clockMs  sql.NullInt64
	)
	err := d.sql.QueryRowContext(ctx, `
		SELECT race_type, frozen_utc, duration_ms, clock_ms_frozen,
		       event_label, session_label, race_mode
		FROM result_meta WHERE race_id = ?`, raceID).Scan(
		&meta.RaceType, &frozenMs, &meta.DurationMs, &clockMs,
		&meta.EventLabel, &meta.SessionLabel, &meta.RaceMode)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ResultMeta{}, false, nil
		}
		return model.ResultMeta{}, false, fmt.Errorf("store: query result_meta: %w", err)
	}
	meta.RaceID = raceID
	meta.FrozenUTC = time.UnixMilli(frozenMs).UTC()
	meta.ClockMsFrozen = clockMs.Int64
	return meta, true, nil
}

// ResultStandings returns the frozen classification of a race in
// position order.
func (d *DB) ResultStandings(ctx context.Context, raceID string) ([]model.FrozenStanding, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT position, entrant_id, number, name, tag, laps, last_ms, best_ms,
		       gap_ms, lap_deficit, pit_count, status, grid_index, brake_valid
		FROM result_standings
		WHERE race_id = ?
		ORDER BY position ASC`, raceID)
	if err != nil {
		return nil, fmt.Errorf("store: query result_standings: %w", err)
	}
	defer rows.Close()

	var standings []model.FrozenStanding
	for rows.Next() {
		var (
			s         model.FrozenStanding
			lastMs    sql.NullInt64
			bestMs    sql.NullInt64
			gridIndex sql.NullInt64
			brake     sql.NullInt64
			status    string
		)
		if err := rows.Scan(&s.Position, &s.EntrantID, &s.Number, &s.Name, &s.Tag,
			&s.Laps, &lastMs, &bestMs, &s.GapMs, &s.LapDeficit, &s.PitCount,
			&status, &gridIndex, &brake); err != nil {
			return nil, fmt.Errorf("store: scan standing: %w", err)
		}
		s.LastMs = lastMs.Int64
		s.BestMs = bestMs.Int64
		s.GridIndex = int(gridIndex.Int64)
		s.Status = model.Status(status)
		if brake.Valid {
			v := brake.Int64 != 0
			s.BrakeValid = &v
		}
		standings = append(standings, s)
	}
	return standings, rows.Err()
}

// ResultLaps returns the frozen lap times of a race keyed by entrant,
// in lap order.
func (d *DB) ResultLaps(ctx context.Context, raceID string) (map[int64][]int64, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT entrant_id, lap_ms
		FROM result_laps
		WHERE race_id = ?
		ORDER BY entrant_id ASC, lap_no ASC`, raceID)
	if err != nil {
		return nil, fmt.Errorf("store: query result_laps: %w", err)
	}
	defer rows.Close()

	laps := make(map[int64][]int64)
	for rows.Next() {
		var (
			id    int64
			lapMs int64
		)
		if err := rows.Scan(&id, &lapMs); err != nil {
			return nil, fmt.Errorf("store: scan lap: %w", err)
		}
		laps[id] = append(laps[id], lapMs)
	}
	return laps, rows.Err()
}
