package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	flightvars "github.com/eugener/flightvars/internal"
	"github.com/eugener/flightvars/internal/storage"
)

// GetVar returns the stored value of v, or ErrNotFound.
func (s *Store) GetVar(ctx context.Context, v flightvars.Var) (flightvars.Value, error) {
	var typ, raw string
	err := s.read.QueryRowContext(ctx,
		`SELECT value_type, value FROM vars WHERE key = ?`, v.Key(),
	).Scan(&typ, &raw)
	if errors.Is(err, sql.ErrNoRows) {
		return flightvars.Value{}, flightvars.ErrNotFound
	}
	if err != nil {
		return flightvars.Value{}, err
	}
	return decodeValue(typ, raw)
}

// PutVar inserts or replaces the value of v.
func (s *Store) PutVar(ctx context.Context, v flightvars.Var, val flightvars.Value) error {
	if val.IsZero() {
		return fmt.Errorf("%w: empty value for %s", flightvars.ErrBadRequest, v)
	}
	typ, raw, err := encodeValue(val)
	if err != nil {
		return err
	}
	_, err = s.write.ExecContext(ctx,
		`INSERT INTO vars (key, kind, name, size, value_type, value, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET
		 value_type = excluded.value_type,
		 value = excluded.value,
		 updated_at = excluded.updated_at`,
		v.Key(), string(v.Kind), v.Name, v.Size, typ, raw, formatTime(time.Now()),
	)
	return err
}

// ListVars returns every stored variable ordered by key.
func (s *Store) ListVars(ctx context.Context) ([]storage.VarRecord, error) {
	rows, err := s.read.QueryContext(ctx,
		`SELECT kind, name, size, value_type, value, updated_at FROM vars ORDER BY key`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []storage.VarRecord
	for rows.Next() {
		var (
			r              storage.VarRecord
			kind, typ, raw string
			updatedAt      string
		)
		if err := rows.Scan(&kind, &r.Var.Name, &r.Var.Size, &typ, &raw, &updatedAt); err != nil {
			return nil, err
		}
		r.Var.Kind = flightvars.VarKind(kind)
		if r.Value, err = decodeValue(typ, raw); err != nil {
			return nil, fmt.Errorf("var %s: %w", r.Var, err)
		}
		if t, e := parseTime(updatedAt); e == nil {
			r.UpdatedAt = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
