package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hefazi/PANTOhealth/internal/models"
)

// Memory keeps records in a map and satisfies the Store contract.
// RawData is copied on every write and read so callers never share buffers
// with the stored document.
type Memory struct {
	mu      sync.RWMutex
	records map[string]models.Record
	now     func() time.Time
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		records: make(map[string]models.Record),
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// Create stores a new record under a freshly generated id.
func (m *Memory) Create(ctx context.Context, f models.Fields) (models.Record, error) {
	return m.CreateWithID(ctx, uuid.NewString(), f)
}

// CreateWithID stores a record under id, or returns the record already
// stored there.
func (m *Memory) CreateWithID(_ context.Context, id string, f models.Fields) (models.Record, error) {
	if err := validate(f); err != nil {
		return models.Record{}, err
	}
	id, err := canonicalID(id)
	if err != nil {
		return models.Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.records[id]; ok {
		return clone(existing), nil
	}
	now := m.now()
	rec := fromFields(id, f, now, now)
	m.records[rec.ID] = rec
	return clone(rec), nil
}

// FindByID returns the record or ErrNotFound.
func (m *Memory) FindByID(_ context.Context, id string) (models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[id]
	if !ok {
		return models.Record{}, ErrNotFound
	}
	return clone(rec), nil
}

// FindAll returns every record. Map iteration makes the order unspecified.
func (m *Memory) FindAll(ctx context.Context) ([]models.Record, error) {
	return m.FindByFilter(ctx, Filter{})
}

// Update replaces the mutable fields of an existing record, keeping its id
// and creation time.
func (m *Memory) Update(_ context.Context, id string, f models.Fields) (models.Record, error) {
	if err := validate(f); err != nil {
		return models.Record{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.records[id]
	if !ok {
		return models.Record{}, ErrNotFound
	}

	rec := fromFields(id, f, existing.CreatedAt, m.now())
	m.records[id] = rec
	return clone(rec), nil
}

// DeleteByID removes the record if present and reports how many were removed.
func (m *Memory) DeleteByID(_ context.Context, id string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[id]; !ok {
		return 0, nil
	}
	delete(m.records, id)
	return 1, nil
}

// FindByFilter returns every record matching f.
func (m *Memory) FindByFilter(_ context.Context, f Filter) ([]models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Record, 0, len(m.records))
	for _, rec := range m.records {
		if f.Match(rec) {
			out = append(out, clone(rec))
		}
	}
	return out, nil
}

// Healthy always succeeds.
func (m *Memory) Healthy(context.Context) error {
	return nil
}

// Len returns the number of stored records.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.records)
}

func fromFields(id string, f models.Fields, created, updated time.Time) models.Record {
	return models.Record{
		ID:         id,
		DeviceID:   f.DeviceID,
		Time:       f.Time,
		DataLength: copyInt(f.DataLength),
		DataVolume: copyInt(f.DataVolume),
		RawData:    f.RawData.Clone(),
		CreatedAt:  created,
		UpdatedAt:  updated,
	}
}

func clone(rec models.Record) models.Record {
	rec.DataLength = copyInt(rec.DataLength)
	rec.DataVolume = copyInt(rec.DataVolume)
	rec.RawData = rec.RawData.Clone()
	return rec
}

func copyInt(p *int64) *int64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

var _ Store = (*Memory)(nil)
