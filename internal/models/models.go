// Package models contains shared domain structs used across services.
package models

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// HealthResponse is returned by /healthz and /readyz endpoints.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// Record is a persisted x-ray signal.
type Record struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"deviceId"`
	Time       int64     `json:"time"`
	DataLength *int64    `json:"dataLength,omitempty"`
	DataVolume *int64    `json:"dataVolume,omitempty"`
	RawData    RawData   `json:"raw_data"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}

// Fields holds the mutable part of a Record: everything except the id and
// the store-maintained timestamps.
type Fields struct {
	DeviceID   string  `json:"deviceId"`
	Time       int64   `json:"time"`
	DataLength *int64  `json:"dataLength,omitempty"`
	DataVolume *int64  `json:"dataVolume,omitempty"`
	RawData    RawData `json:"raw_data"`
}

// RawData is an opaque JSON document stored verbatim alongside a record.
// The zero value encodes as JSON null.
type RawData json.RawMessage

// MarshalJSON implements json.Marshaler.
func (d RawData) MarshalJSON() ([]byte, error) {
	if len(d) == 0 {
		return []byte("null"), nil
	}
	return d, nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *RawData) UnmarshalJSON(b []byte) error {
	if d == nil {
		return fmt.Errorf("models.RawData: UnmarshalJSON on nil pointer")
	}
	*d = append((*d)[:0], b...)
	return nil
}

// Value implements driver.Valuer so RawData can be written to a JSON column.
func (d RawData) Value() (driver.Value, error) {
	if d.IsNull() {
		return nil, nil
	}
	return string(d), nil
}

// Scan implements sql.Scanner.
func (d *RawData) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*d = nil
	case []byte:
		*d = append(RawData(nil), v...)
	case string:
		*d = RawData(v)
	default:
		return fmt.Errorf("models.RawData: cannot scan %T", src)
	}
	return nil
}

// IsNull reports whether d is empty or the JSON literal null.
func (d RawData) IsNull() bool {
	trimmed := bytes.TrimSpace(d)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

// Clone returns a copy that shares no memory with d.
func (d RawData) Clone() RawData {
	if d == nil {
		return nil
	}
	return append(RawData(nil), d...)
}

// DeadLetter describes a queue message the consumer could not persist.
type DeadLetter struct {
	Queue    string
	DeviceID string
	Body     []byte
	Error    string
	Attempts int
}
