// Package query answers filtered lookups over stored signal records.
package query

import (
	"context"
	"fmt"

	"github.com/hefazi/PANTOhealth/internal/models"
	"github.com/hefazi/PANTOhealth/internal/store"
)

// Reader is the subset of store.Store the query service needs.
type Reader interface {
	FindAll(ctx context.Context) ([]models.Record, error)
	FindByFilter(ctx context.Context, f store.Filter) ([]models.Record, error)
}

// Service evaluates device and time-range filters.
type Service struct {
	store Reader
}

// NewService creates a Service over st.
func NewService(st Reader) *Service {
	return &Service{store: st}
}

// Filter returns the records matching every supplied criterion. An empty
// deviceID and nil bounds are treated as not supplied; bounds are inclusive.
// Inverted bounds match nothing. With no criteria at all every record is
// returned. The result is never nil.
func (s *Service) Filter(ctx context.Context, deviceID string, startTime, endTime *int64) ([]models.Record, error) {
	f := store.Filter{DeviceID: deviceID, StartTime: startTime, EndTime: endTime}

	var (
		recs []models.Record
		err  error
	)
	if f.IsEmpty() {
		recs, err = s.store.FindAll(ctx)
	} else {
		recs, err = s.store.FindByFilter(ctx, f)
	}
	if err != nil {
		return nil, fmt.Errorf("filter records: %w", err)
	}
	if recs == nil {
		recs = []models.Record{}
	}
	return recs, nil
}
