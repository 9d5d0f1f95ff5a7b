package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hefazi/PANTOhealth/internal/db"
	"github.com/hefazi/PANTOhealth/internal/models"
)

// Postgres manages the signals table.
// It is safe for concurrent use; each statement touches a single row so the
// database's per-row atomicity is all the coordination needed.
type Postgres struct {
	db *sql.DB
}

// NewPostgres wraps an existing *sql.DB connection pool.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// ---------------------------------------------------------------------------
// Writes
// ---------------------------------------------------------------------------

// Create inserts a new record with a freshly generated id.
func (s *Postgres) Create(ctx context.Context, f models.Fields) (models.Record, error) {
	return s.CreateWithID(ctx, uuid.NewString(), f)
}

// CreateWithID inserts a record under id. An existing record with the same id
// is returned as is.
func (s *Postgres) CreateWithID(ctx context.Context, id string, f models.Fields) (models.Record, error) {
	if err := validate(f); err != nil {
		return models.Record{}, err
	}
	id, err := canonicalID(id)
	if err != nil {
		return models.Record{}, err
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	row := s.db.QueryRowContext(ctx, queryInsertRecord,
		id, f.DeviceID, f.Time, f.DataLength, f.DataVolume, f.RawData, now,
	)
	rec, err := scanRecord(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		// An earlier attempt already committed this id.
		return s.FindByID(ctx, id)
	case err != nil:
		return models.Record{}, unavailable("insert record", err)
	}
	return rec, nil
}

// Update overwrites every mutable field of the record. It returns
// ErrNotFound, and writes nothing, when the id does not exist.
func (s *Postgres) Update(ctx context.Context, id string, f models.Fields) (models.Record, error) {
	if err := validate(f); err != nil {
		return models.Record{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return models.Record{}, ErrNotFound
	}

	now := time.Now().UTC().Truncate(time.Microsecond)
	row := s.db.QueryRowContext(ctx, queryUpdateRecord,
		id, f.DeviceID, f.Time, f.DataLength, f.DataVolume, f.RawData, now,
	)
	rec, err := scanRecord(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.Record{}, ErrNotFound
	case err != nil:
		return models.Record{}, unavailable("update record", err)
	}
	return rec, nil
}

// DeleteByID removes at most one record and reports how many were removed.
func (s *Postgres) DeleteByID(ctx context.Context, id string) (int64, error) {
	if _, err := uuid.Parse(id); err != nil {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, queryDeleteByID, id)
	if err != nil {
		return 0, unavailable("delete record", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("delete record", err)
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Reads
// ---------------------------------------------------------------------------

// FindByID returns the record or ErrNotFound.
func (s *Postgres) FindByID(ctx context.Context, id string) (models.Record, error) {
	if _, err := uuid.Parse(id); err != nil {
		return models.Record{}, ErrNotFound
	}

	rec, err := scanRecord(s.db.QueryRowContext(ctx, querySelectByID, id))
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return models.Record{}, ErrNotFound
	case err != nil:
		return models.Record{}, unavailable("select record", err)
	}
	return rec, nil
}

// FindAll returns every record in no particular order.
func (s *Postgres) FindAll(ctx context.Context) ([]models.Record, error) {
	return s.query(ctx, "select all", querySelectAll)
}

// FindByFilter returns every record matching f.
func (s *Postgres) FindByFilter(ctx context.Context, f Filter) ([]models.Record, error) {
	where, args := f.where()
	return s.query(ctx, "select filtered", querySelectAll+where, args...)
}

// Healthy returns nil when the database is reachable.
func (s *Postgres) Healthy(ctx context.Context) error {
	return db.Healthy(ctx, s.db)
}

func (s *Postgres) query(ctx context.Context, op, q string, args ...any) ([]models.Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, unavailable(op, err)
	}
	defer rows.Close()

	recs := []models.Record{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable(op, fmt.Errorf("scan: %w", err))
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable(op, fmt.Errorf("rows: %w", err))
	}
	return recs, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (models.Record, error) {
	var (
		rec    models.Record
		length sql.NullInt64
		volume sql.NullInt64
	)
	err := sc.Scan(
		&rec.ID,
		&rec.DeviceID,
		&rec.Time,
		&length,
		&volume,
		&rec.RawData,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return models.Record{}, err
	}
	if length.Valid {
		rec.DataLength = &length.Int64
	}
	if volume.Valid {
		rec.DataVolume = &volume.Int64
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

// ---------------------------------------------------------------------------
// Dead letters
// ---------------------------------------------------------------------------

// DeadLetters records messages the ingestion consumer gave up on.
type DeadLetters struct {
	db *sql.DB
}

// NewDeadLetters wraps an existing *sql.DB connection pool.
func NewDeadLetters(db *sql.DB) *DeadLetters {
	return &DeadLetters{db: db}
}

// Record inserts one dead-letter row.
func (d *DeadLetters) Record(ctx context.Context, dl models.DeadLetter) error {
	_, err := d.db.ExecContext(ctx, queryInsertDeadLetter,
		dl.Queue, dl.DeviceID, dl.Body, dl.Error, dl.Attempts,
	)
	if err != nil {
		return unavailable("insert dead letter", err)
	}
	return nil
}

var _ Store = (*Postgres)(nil)
