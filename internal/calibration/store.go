package calibration

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Record is a persisted calibration with bookkeeping fields.
type Record struct {
	Gas       string    `json:"gas"`
	Points    []Point   `json:"points"`
	Source    string    `json:"source,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Calibration validates the record and builds a Calibration from it.
func (r Record) Calibration() (*Calibration, error) {
	return FromPoints(r.Gas, r.Points)
}

// Store persists measured calibration tables in the calibrations table.
type Store struct {
	db *sql.DB
}

// NewStore creates a store backed by an open SQLite connection. The schema
// is created by the database migrations.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// List returns every stored calibration ordered by gas.
func (s *Store) List(ctx context.Context) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT display_name, points, source, updated_at FROM calibrations ORDER BY gas`)
	if err != nil {
		return nil, fmt.Errorf("querying calibrations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating calibrations: %w", err)
	}
	return out, nil
}

// Get returns the stored calibration for gas.
func (s *Store) Get(ctx context.Context, gas string) (Record, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT display_name, points, source, updated_at FROM calibrations WHERE gas = ?`, key(gas))
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, fmt.Errorf("%w: %s", ErrNotFound, gas)
		}
		return Record{}, err
	}
	return rec, nil
}

// Save validates and upserts a calibration.
func (s *Store) Save(ctx context.Context, c *Calibration, source string) error {
	if c == nil {
		return fmt.Errorf("%w: nil calibration", ErrInvalid)
	}
	points, err := json.Marshal(c.Points())
	if err != nil {
		return fmt.Errorf("encoding points: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO calibrations (gas, display_name, points, source, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(gas) DO UPDATE SET
			display_name = excluded.display_name,
			points = excluded.points,
			source = excluded.source,
			updated_at = excluded.updated_at`,
		key(c.Gas()), c.Gas(), string(points), source, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("saving calibration %s: %w", c.Gas(), err)
	}
	return nil
}

// Delete removes the calibration for gas.
func (s *Store) Delete(ctx context.Context, gas string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM calibrations WHERE gas = ?`, key(gas))
	if err != nil {
		return fmt.Errorf("deleting calibration %s: %w", gas, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, gas)
	}
	return nil
}

// LoadInto adds every valid stored calibration to t, replacing entries for
// the same gas. Invalid records are skipped and reported in the returned
// error; valid ones are still loaded.
func (s *Store) LoadInto(ctx context.Context, t *Table) (int, error) {
	recs, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	var errs []error
	loaded := 0
	for _, rec := range recs {
		c, err := rec.Calibration()
		if err != nil {
			errs = append(errs, fmt.Errorf("calibration %s: %w", rec.Gas, err))
			continue
		}
		t.Set(c)
		loaded++
	}
	return loaded, errors.Join(errs...)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var (
		rec       Record
		gas       string
		points    string
		source    sql.NullString
		updatedAt string
	)
	if err := row.Scan(&gas, &points, &source, &updatedAt); err != nil {
		return Record{}, err
	}
	rec.Gas = gas
	if err := json.Unmarshal([]byte(points), &rec.Points); err != nil {
		return Record{}, fmt.Errorf("decoding points for %s: %w", gas, err)
	}
	rec.Source = source.String
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt) //nolint:errcheck // Format is controlled
	return rec, nil
}
