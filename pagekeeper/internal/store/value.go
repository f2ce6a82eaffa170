package store

import (
	"context"
	"database/sql"
	"time"
)

// ScrapedValue is one numeric reading of an element.
type ScrapedValue struct {
	ID        string  `json:"id"`
	ElementID string  `json:"element_id"`
	Value     float64 `json:"value"`
	CreatedAt int64   `json:"created_at"`
}

// InsertValues appends a batch of readings in a single transaction.
func (s *Store) InsertValues(ctx context.Context, values []ScrapedValue) error {
	if len(values) == 0 {
		return nil
	}
	now := time.Now().UnixMilli()
	return s.runTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO element_data (id, element_id, value, created_at) VALUES (?,?,?,?)`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for i := range values {
			v := &values[i]
			if v.ID == "" {
				v.ID = NewID()
			}
			if v.CreatedAt == 0 {
				v.CreatedAt = now
			}
			if _, err := stmt.ExecContext(ctx, v.ID, v.ElementID, v.Value, v.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// ListValues returns the newest readings of an element first. limit <= 0 means 100.
func (s *Store) ListValues(ctx context.Context, elementID string, limit int) ([]*ScrapedValue, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, element_id, value, created_at FROM element_data
		WHERE element_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?`, elementID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*ScrapedValue, 0)
	for rows.Next() {
		v := &ScrapedValue{}
		var val sql.NullFloat64
		if err := rows.Scan(&v.ID, &v.ElementID, &val, &v.CreatedAt); err != nil {
			return nil, err
		}
		v.Value = val.Float64
		out = append(out, v)
	}
	return out, rows.Err()
}
