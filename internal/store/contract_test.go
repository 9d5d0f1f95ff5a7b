package store_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/hefazi/PANTOhealth/internal/models"
	"github.com/hefazi/PANTOhealth/internal/store"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func int64p(v int64) *int64 { return &v }

func sampleFields(deviceID string, ts int64) models.Fields {
	return models.Fields{
		DeviceID:   deviceID,
		Time:       ts,
		DataLength: int64p(2),
		DataVolume: int64p(27),
		RawData:    models.RawData(fmt.Sprintf(`{"time":%d,"data":[{"value":10},{"value":20}]}`, ts)),
	}
}

func mustCreate(t *testing.T, s store.Store, f models.Fields) models.Record {
	t.Helper()
	rec, err := s.Create(context.Background(), f)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	return rec
}

func times(recs []models.Record) []int64 {
	out := make([]int64, len(recs))
	for i, r := range recs {
		out[i] = r.Time
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func ids(recs []models.Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.ID
	}
	sort.Strings(out)
	return out
}

// ---------------------------------------------------------------------------
// Contract
// ---------------------------------------------------------------------------

// runContract exercises the Store contract against any implementation.
// newStore must return an empty store.
func runContract(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("CreateAndFindRoundTrip", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		in := sampleFields("device-123", 1700000000000)
		created := mustCreate(t, s, in)
		if created.ID == "" {
			t.Fatal("created record has empty id")
		}
		if created.CreatedAt.IsZero() || created.UpdatedAt.IsZero() {
			t.Error("timestamps should be set on create")
		}

		got, err := s.FindByID(ctx, created.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.DeviceID != in.DeviceID || got.Time != in.Time {
			t.Errorf("got %s/%d, want %s/%d", got.DeviceID, got.Time, in.DeviceID, in.Time)
		}
		if got.DataLength == nil || *got.DataLength != 2 {
			t.Errorf("dataLength = %v, want 2", got.DataLength)
		}
		if got.DataVolume == nil || *got.DataVolume != 27 {
			t.Errorf("dataVolume = %v, want 27", got.DataVolume)
		}
		if !bytes.Equal(got.RawData, in.RawData) {
			t.Errorf("raw data = %s, want %s", got.RawData, in.RawData)
		}
		if !got.CreatedAt.Equal(created.CreatedAt) {
			t.Errorf("createdAt = %v, want %v", got.CreatedAt, created.CreatedAt)
		}
	})

	t.Run("CreateWithIDIsIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		const id = "6f1c2a3b-4d5e-4f60-8a7b-9c0d1e2f3a4b"

		first, err := s.CreateWithID(ctx, id, sampleFields("device-1", 10))
		if err != nil {
			t.Fatalf("first CreateWithID: %v", err)
		}
		if first.ID != id {
			t.Errorf("id = %s, want %s", first.ID, id)
		}

		again, err := s.CreateWithID(ctx, id, sampleFields("device-2", 20))
		if err != nil {
			t.Fatalf("second CreateWithID: %v", err)
		}
		if again.DeviceID != "device-1" || again.Time != 10 {
			t.Errorf("repeat overwrote the record: %+v", again)
		}

		all, err := s.FindAll(ctx)
		if err != nil {
			t.Fatalf("FindAll: %v", err)
		}
		if len(all) != 1 {
			t.Errorf("records = %d, want 1", len(all))
		}
	})

	t.Run("CreateWithIDRejectsMalformedID", func(t *testing.T) {
		s := newStore(t)

		_, err := s.CreateWithID(context.Background(), "not-a-uuid", sampleFields("d", 1))
		if !errors.Is(err, store.ErrInvalidRecord) {
			t.Errorf("err = %v, want ErrInvalidRecord", err)
		}
	})

	t.Run("RawDataKeptVerbatim", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		// Unsorted keys, a duplicate key and irregular whitespace must all
		// survive a round trip unchanged.
		raw := models.RawData("{\"b\": 1,  \"a\":2, \"a\" : 3,\n \"data\": [ {\"value\":1.50} ]}")
		rec := mustCreate(t, s, models.Fields{DeviceID: "d", Time: 1, RawData: raw})

		got, err := s.FindByID(ctx, rec.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if !bytes.Equal(got.RawData, raw) {
			t.Errorf("raw data = %q, want %q", got.RawData, raw)
		}

		updated, err := s.Update(ctx, rec.ID, models.Fields{DeviceID: "d", Time: 2, RawData: raw})
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if !bytes.Equal(updated.RawData, raw) {
			t.Errorf("updated raw data = %q, want %q", updated.RawData, raw)
		}
	})

	t.Run("OptionalMetricsStayAbsent", func(t *testing.T) {
		s := newStore(t)

		rec := mustCreate(t, s, models.Fields{DeviceID: "d", Time: 1})
		got, err := s.FindByID(context.Background(), rec.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.DataLength != nil || got.DataVolume != nil {
			t.Errorf("metrics = %v/%v, want nil", got.DataLength, got.DataVolume)
		}
		if !got.RawData.IsNull() {
			t.Errorf("raw data = %s, want null", got.RawData)
		}
	})

	t.Run("CreateRejectsEmptyDevice", func(t *testing.T) {
		s := newStore(t)

		_, err := s.Create(context.Background(), models.Fields{Time: 1})
		if !errors.Is(err, store.ErrInvalidRecord) {
			t.Fatalf("err = %v, want ErrInvalidRecord", err)
		}
	})

	t.Run("FindByIDMissing", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, id := range []string{"00000000-0000-4000-8000-000000000000", "not-a-uuid"} {
			if _, err := s.FindByID(ctx, id); !errors.Is(err, store.ErrNotFound) {
				t.Errorf("FindByID(%q) err = %v, want ErrNotFound", id, err)
			}
		}
	})

	t.Run("FindAll", func(t *testing.T) {
		s := newStore(t)

		all, err := s.FindAll(context.Background())
		if err != nil {
			t.Fatalf("FindAll on empty store: %v", err)
		}
		if all == nil || len(all) != 0 {
			t.Errorf("FindAll on empty store = %v, want empty non-nil slice", all)
		}

		mustCreate(t, s, sampleFields("a", 1))
		mustCreate(t, s, sampleFields("b", 2))

		all, err = s.FindAll(context.Background())
		if err != nil {
			t.Fatalf("FindAll: %v", err)
		}
		if len(all) != 2 {
			t.Errorf("FindAll = %d records, want 2", len(all))
		}
	})

	t.Run("UpdateReplacesFields", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		orig := mustCreate(t, s, sampleFields("device-1", 100))

		next := models.Fields{
			DeviceID: "device-2",
			Time:     200,
			RawData:  models.RawData(`{"time":200,"data":[]}`),
		}
		updated, err := s.Update(ctx, orig.ID, next)
		if err != nil {
			t.Fatalf("Update: %v", err)
		}
		if updated.ID != orig.ID {
			t.Errorf("id changed: %s -> %s", orig.ID, updated.ID)
		}
		if !updated.CreatedAt.Equal(orig.CreatedAt) {
			t.Errorf("createdAt changed: %v -> %v", orig.CreatedAt, updated.CreatedAt)
		}
		if updated.UpdatedAt.Before(orig.UpdatedAt) {
			t.Errorf("updatedAt went backwards: %v -> %v", orig.UpdatedAt, updated.UpdatedAt)
		}

		got, err := s.FindByID(ctx, orig.ID)
		if err != nil {
			t.Fatalf("FindByID: %v", err)
		}
		if got.DeviceID != "device-2" || got.Time != 200 {
			t.Errorf("got %s/%d, want device-2/200", got.DeviceID, got.Time)
		}
		// Full overwrite: omitted metrics are cleared, not merged.
		if got.DataLength != nil || got.DataVolume != nil {
			t.Errorf("metrics = %v/%v, want cleared", got.DataLength, got.DataVolume)
		}
	})

	t.Run("UpdateMissingLeavesStoreUnchanged", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		mustCreate(t, s, sampleFields("device-1", 1))
		before, err := s.FindAll(ctx)
		if err != nil {
			t.Fatalf("FindAll: %v", err)
		}

		_, err = s.Update(ctx, "00000000-0000-4000-8000-000000000000", sampleFields("device-9", 9))
		if !errors.Is(err, store.ErrNotFound) {
			t.Fatalf("Update err = %v, want ErrNotFound", err)
		}

		after, err := s.FindAll(ctx)
		if err != nil {
			t.Fatalf("FindAll: %v", err)
		}
		if len(after) != len(before) {
			t.Errorf("record count changed: %d -> %d", len(before), len(after))
		}
		if after[0].DeviceID != "device-1" {
			t.Errorf("existing record modified: %+v", after[0])
		}
	})

	t.Run("DeleteSemantics", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		n, err := s.DeleteByID(ctx, "00000000-0000-4000-8000-000000000000")
		if err != nil {
			t.Fatalf("delete missing: %v", err)
		}
		if n != 0 {
			t.Errorf("deleted = %d, want 0 for missing id", n)
		}

		rec := mustCreate(t, s, sampleFields("device-1", 1))
		n, err = s.DeleteByID(ctx, rec.ID)
		if err != nil {
			t.Fatalf("delete: %v", err)
		}
		if n != 1 {
			t.Errorf("deleted = %d, want 1", n)
		}

		if _, err := s.FindByID(ctx, rec.ID); !errors.Is(err, store.ErrNotFound) {
			t.Errorf("FindByID after delete err = %v, want ErrNotFound", err)
		}

		n, err = s.DeleteByID(ctx, rec.ID)
		if err != nil {
			t.Fatalf("second delete: %v", err)
		}
		if n != 0 {
			t.Errorf("second delete = %d, want 0", n)
		}
	})

	t.Run("FindByFilter", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, ts := range []int64{100, 200, 300} {
			mustCreate(t, s, sampleFields("X", ts))
		}
		mustCreate(t, s, sampleFields("Y", 200))

		tests := []struct {
			name   string
			filter store.Filter
			want   []int64
		}{
			{"empty filter matches all", store.Filter{}, []int64{100, 200, 200, 300}},
			{"device only", store.Filter{DeviceID: "X"}, []int64{100, 200, 300}},
			{"device and range", store.Filter{DeviceID: "X", StartTime: int64p(150), EndTime: int64p(250)}, []int64{200}},
			{"start only is inclusive", store.Filter{DeviceID: "X", StartTime: int64p(200)}, []int64{200, 300}},
			{"end only is inclusive", store.Filter{DeviceID: "X", EndTime: int64p(200)}, []int64{100, 200}},
			{"range across devices", store.Filter{StartTime: int64p(200), EndTime: int64p(200)}, []int64{200, 200}},
			{"inverted bounds", store.Filter{StartTime: int64p(500), EndTime: int64p(100)}, []int64{}},
			{"unknown device", store.Filter{DeviceID: "Z"}, []int64{}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				got, err := s.FindByFilter(ctx, tt.filter)
				if err != nil {
					t.Fatalf("FindByFilter: %v", err)
				}
				if got == nil {
					t.Fatal("FindByFilter returned nil slice")
				}
				gotTimes := times(got)
				if fmt.Sprint(gotTimes) != fmt.Sprint(tt.want) {
					t.Errorf("times = %v, want %v", gotTimes, tt.want)
				}
			})
		}
	})

	t.Run("FilterIdempotent", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		for _, ts := range []int64{1, 2, 3} {
			mustCreate(t, s, sampleFields("D", ts))
		}

		first, err := s.FindByFilter(ctx, store.Filter{DeviceID: "D"})
		if err != nil {
			t.Fatalf("first filter: %v", err)
		}
		second, err := s.FindByFilter(ctx, store.Filter{DeviceID: "D"})
		if err != nil {
			t.Fatalf("second filter: %v", err)
		}
		if fmt.Sprint(ids(first)) != fmt.Sprint(ids(second)) {
			t.Errorf("filter results differ: %v vs %v", ids(first), ids(second))
		}
	})

	t.Run("ConcurrentCreates", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()

		const n = 50
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			seen = make(map[string]bool, n)
			errs = make(chan error, n)
		)
		for i := range n {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				rec, err := s.Create(ctx, sampleFields("concurrent", int64(i)))
				if err != nil {
					errs <- err
					return
				}
				mu.Lock()
				seen[rec.ID] = true
				mu.Unlock()
			}(i)
		}
		wg.Wait()
		close(errs)

		for err := range errs {
			t.Fatalf("concurrent create: %v", err)
		}
		if len(seen) != n {
			t.Errorf("distinct ids = %d, want %d", len(seen), n)
		}

		all, err := s.FindByFilter(ctx, store.Filter{DeviceID: "concurrent"})
		if err != nil {
			t.Fatalf("FindByFilter: %v", err)
		}
		if len(all) != n {
			t.Errorf("stored records = %d, want %d (lost writes)", len(all), n)
		}
	})
}
