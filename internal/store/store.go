// Package store persists x-ray signal records. Two implementations share the
// Store contract: Postgres for production and Memory for tests and
// single-process runs.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/hefazi/PANTOhealth/internal/models"
)

var (
	// ErrNotFound is returned when the requested record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrStorageUnavailable wraps every failure of the underlying storage.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrInvalidRecord is returned when fields violate record invariants.
	ErrInvalidRecord = errors.New("invalid record")
)

// Store is the persistence contract for signal records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Create inserts f under a freshly generated id.
	Create(ctx context.Context, f models.Fields) (models.Record, error)
	// CreateWithID inserts f under a caller-chosen UUID. When a record with
	// that id already exists it is returned unchanged, so repeating the call
	// never creates a second record.
	CreateWithID(ctx context.Context, id string, f models.Fields) (models.Record, error)
	FindByID(ctx context.Context, id string) (models.Record, error)
	FindAll(ctx context.Context) ([]models.Record, error)
	Update(ctx context.Context, id string, f models.Fields) (models.Record, error)
	DeleteByID(ctx context.Context, id string) (int64, error)
	FindByFilter(ctx context.Context, f Filter) ([]models.Record, error)
	Healthy(ctx context.Context) error
}

// validate enforces the invariants every persisted record must hold.
func validate(f models.Fields) error {
	if f.DeviceID == "" {
		return fmt.Errorf("%w: deviceId is required", ErrInvalidRecord)
	}
	if f.DataLength != nil && *f.DataLength < 0 {
		return fmt.Errorf("%w: dataLength must be >= 0", ErrInvalidRecord)
	}
	if f.DataVolume != nil && *f.DataVolume < 0 {
		return fmt.Errorf("%w: dataVolume must be >= 0", ErrInvalidRecord)
	}
	return nil
}

// canonicalID parses id as a UUID and returns its canonical form.
func canonicalID(id string) (string, error) {
	u, err := uuid.Parse(id)
	if err != nil {
		return "", fmt.Errorf("%w: id %q is not a UUID", ErrInvalidRecord, id)
	}
	return u.String(), nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
