package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// PutEventConfig upserts one key of the event configuration blob. The
// value is stored as JSON.
func (d *DB) PutEventConfig(ctx context.Context, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: marshal event config %q: %w", key, err)
	}
	_, err = d.sql.ExecContext(ctx, `
		INSERT INTO event_config (key, value_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET
			value_json = excluded.value_json,
			updated_at = excluded.updated_at`,
		key, string(b), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("store: upsert event config %q: %w", key, err)
	}
	return nil
}

// GetEventConfig unmarshals one key of the event configuration blob
// into out. The second return is false when the key does not exist.
func (d *DB) GetEventConfig(ctx context.Context, key string, out any) (bool, error) {
	var raw string
	err := d.sql.QueryRowContext(ctx,
		`SELECT value_json FROM event_config WHERE key = ?`, key).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("store: query event config %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return false, fmt.Errorf("store: unmarshal event config %q: %w", key, err)
	}
	return true, nil
}
