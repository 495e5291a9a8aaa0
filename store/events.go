package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hybridsix/chronocore/model"
)

func payloadJSON(p any) (string, error) {
	if p == nil {
		return "null", nil
	}
	if raw, ok := p.(json.RawMessage); ok {
		return string(raw), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// AppendEvents writes a batch of journal records in one transaction,
// preserving order.
func (d *DB) AppendEvents(ctx context.Context, recs []*model.Record) error {
	if len(recs) == 0 {
		return nil
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin events tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO race_events (race_id, wall_ms, clock_ms, type, payload_json)
		VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("store: prepare event insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range recs {
		payload, err := payloadJSON(r.Payload)
		if err != nil {
			return fmt.Errorf("store: marshal %s payload: %w", r.Type, err)
		}
		if _, err := stmt.ExecContext(ctx, r.RaceID, r.WallMs, r.ClockMs, string(r.Type), payload); err != nil {
			return fmt.Errorf("store: insert event: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit events: %w", err)
	}
	return nil
}

// EventsSince returns the journal records of a race with
// wall_ms >= sinceWallMs, in write order. Payloads come back as
// json.RawMessage.
func (d *DB) EventsSince(ctx context.Context, raceID string, sinceWallMs int64) ([]model.Record, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT wall_ms, clock_ms, type, payload_json
		FROM race_events
		WHERE race_id = ? AND wall_ms >= ?
		ORDER BY id ASC`, raceID, sinceWallMs)
	if err != nil {
		return nil, fmt.Errorf("store: query events: %w", err)
	}
	defer rows.Close()

	var recs []model.Record
	for rows.Next() {
		var (
			rec     model.Record
			typ     string
			payload string
		)
		if err := rows.Scan(&rec.WallMs, &rec.ClockMs, &typ, &payload); err != nil {
			return nil, fmt.Errorf("store: scan event: %w", err)
		}
		rec.RaceID = raceID
		rec.Type = model.RecordType(typ)
		rec.Payload = json.RawMessage(payload)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// WriteCheckpoint appends a full engine state snapshot.
func (d *DB) WriteCheckpoint(ctx context.Context, cp model.Checkpoint) error {
	_, err := d.sql.ExecContext(ctx, `
		INSERT INTO race_checkpoints (race_id, wall_ms, clock_ms, snapshot_json)
		VALUES (?, ?, ?, ?)`,
		cp.RaceID, cp.WallMs, cp.ClockMs, string(cp.State))
	if err != nil {
		return fmt.Errorf("store: insert checkpoint: %w", err)
	}
	return nil
}

// LatestCheckpoint returns the newest checkpoint of a race, if any.
func (d *DB) LatestCheckpoint(ctx context.Context, raceID string) (model.Checkpoint, bool, error) {
	var (
		cp    model.Checkpoint
		state string
	)
	err := d.sql.QueryRowContext(ctx, `
		SELECT wall_ms, clock_ms, snapshot_json
		FROM race_checkpoints
		WHERE race_id = ?
		ORDER BY id DESC LIMIT 1`, raceID).Scan(&cp.WallMs, &cp.ClockMs, &state)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, fmt.Errorf("store: query checkpoint: %w", err)
	}
	cp.RaceID = raceID
	cp.State = []byte(state)
	return cp, true, nil
}

// LatestCheckpointRace returns the race id of the newest checkpoint in
// the store, for resume boots that do not name a race.
func (d *DB) LatestCheckpointRace(ctx context.Context) (string, bool, error) {
	var raceID string
	err := d.sql.QueryRowContext(ctx, `
		SELECT race_id FROM race_checkpoints ORDER BY id DESC LIMIT 1`).Scan(&raceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("store: query latest checkpoint race: %w", err)
	}
	return raceID, true, nil
}

// CheckpointAgeMs reports milliseconds between nowWallMs and the newest
// checkpoint of any race, or -1 when none exist.
func (d *DB) CheckpointAgeMs(ctx context.Context, nowWallMs int64) (int64, error) {
	var wallMs int64
	err := d.sql.QueryRowContext(ctx, `
		SELECT wall_ms FROM race_checkpoints ORDER BY id DESC LIMIT 1`).Scan(&wallMs)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return -1, nil
		}
		return 0, fmt.Errorf("store: query checkpoint age: %w", err)
	}
	return nowWallMs - wallMs, nil
}
