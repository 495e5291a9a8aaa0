package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hybridsix/chronocore/model"
)

// Entrants returns the stored roster ordered by entrant id.
func (d *DB) Entrants(ctx context.Context) ([]model.EntrantSpec, error) {
	rows, err := d.sql.QueryContext(ctx, `
		SELECT entrant_id, number, name, tag, enabled, status,
		       organization, spoken_name, color, logo
		FROM entrants
		ORDER BY entrant_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("store: query entrants: %w", err)
	}
	defer rows.Close()

	var specs []model.EntrantSpec
	for rows.Next() {
		var (
			e       model.EntrantSpec
			tag     sql.NullString
			enabled int64
			status  string
		)
		if err := rows.Scan(&e.ID, &e.Number, &e.Name, &tag, &enabled, &status,
			&e.Organization, &e.SpokenName, &e.Color, &e.Logo); err != nil {
			return nil, fmt.Errorf("store: scan entrant: %w", err)
		}
		e.Tag = tag.String
		on := enabled != 0
		e.Enabled = &on
		e.Status = model.Status(status)
		specs = append(specs, e)
	}
	return specs, rows.Err()
}

// UpsertEntrants inserts or updates roster rows in one transaction.
func (d *DB) UpsertEntrants(ctx context.Context, specs []model.EntrantSpec) error {
	if len(specs) == 0 {
		return nil
	}
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin entrants tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO entrants (entrant_id, number, name, tag, enabled, status,
		                      organization, spoken_name, color, logo, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (entrant_id) DO UPDATE SET
			number = excluded.number,
			name = excluded.name,
			tag = excluded.tag,
			enabled = excluded.enabled,
			status = excluded.status,
			organization = excluded.organization,
			spoken_name = excluded.spoken_name,
			color = excluded.color,
			logo = excluded.logo,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("store: prepare entrant upsert: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UnixMilli()
	for i := range specs {
		e := &specs[i]
		enabled := 0
		if e.IsEnabled() {
			enabled = 1
		}
		var tag any
		if e.Tag != "" {
			tag = e.Tag
		}
		if _, err := stmt.ExecContext(ctx, e.ID, e.Number, e.Name, tag, enabled,
			string(e.EffectiveStatus()), e.Organization, e.SpokenName, e.Color, e.Logo, now); err != nil {
			return fmt.Errorf("store: upsert entrant %d: %w", e.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit entrants: %w", err)
	}
	return nil
}
