package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	flightvars "github.com/eugener/flightvars/internal"
)

// InsertEvents batch-inserts journal entries.
func (s *Store) InsertEvents(ctx context.Context, events []flightvars.Event) error {
	if len(events) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	const cols = 8
	placeholders := make([]string, len(events))
	args := make([]any, 0, len(events)*cols)

	for i, e := range events {
		typ, raw, err := encodeValue(e.Value)
		if err != nil {
			return fmt.Errorf("event %s: %w", e.ID, err)
		}
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			e.ID, e.Var.Key(), string(e.Var.Kind), e.Var.Name, e.Var.Size,
			typ, raw, formatTime(e.At),
		)
	}

	query := `INSERT INTO var_events
		(id, var_key, kind, name, size, value_type, value, created_at)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// QueryEvents returns journal entries matching the filter, newest first.
func (s *Store) QueryEvents(ctx context.Context, f flightvars.EventFilter) ([]flightvars.Event, error) {
	where, args := eventWhere(f)
	query := `SELECT id, kind, name, size, value_type, value, created_at
		FROM var_events` + where + ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []flightvars.Event
	for rows.Next() {
		var (
			e                  flightvars.Event
			kind, typ, raw, at string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Var.Name, &e.Var.Size, &typ, &raw, &at); err != nil {
			return nil, err
		}
		e.Var.Kind = flightvars.VarKind(kind)
		if e.Value, err = decodeValue(typ, raw); err != nil {
			return nil, fmt.Errorf("event %s: %w", e.ID, err)
		}
		if t, perr := parseTime(at); perr == nil {
			e.At = t
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// PruneEvents deletes journal entries created before the cutoff and returns
// the number removed.
func (s *Store) PruneEvents(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.write.ExecContext(ctx,
		`DELETE FROM var_events WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func eventWhere(f flightvars.EventFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.VarKey != "" {
		clauses = append(clauses, "var_key = ?")
		args = append(args, f.VarKey)
	}
	if !f.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, formatTime(f.Since))
	}
	if !f.Until.IsZero() {
		clauses = append(clauses, "created_at < ?")
		args = append(args, formatTime(f.Until))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
