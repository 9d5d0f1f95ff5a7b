// Package normalizer turns a raw x-ray payload into the fields of a record.
package normalizer

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hefazi/PANTOhealth/internal/models"
)

var (
	// ErrMissingPayload is returned when the device key carries no payload.
	ErrMissingPayload = errors.New("missing device data")
	// ErrMalformedPayload is returned when the payload lacks the expected shape.
	ErrMalformedPayload = errors.New("malformed payload")
	// ErrMissingDevice is returned for an empty device id.
	ErrMissingDevice = errors.New("missing device id")
)

// payload mirrors the wire shape. Entries are kept raw; their inner shape is
// never inspected.
type payload struct {
	Time *json.Number      `json:"time"`
	Data []json.RawMessage `json:"data"`
}

// Normalize derives record fields from one device's payload.
//
// dataLength is the number of entries and dataVolume is the byte length of
// the compact JSON encoding of the entries. The payload itself is kept
// verbatim as the record's raw data.
func Normalize(deviceID string, raw json.RawMessage) (models.Fields, error) {
	if deviceID == "" {
		return models.Fields{}, ErrMissingDevice
	}
	if models.RawData(raw).IsNull() {
		return models.Fields{}, ErrMissingPayload
	}

	trimmed := bytes.TrimSpace(raw)
	if trimmed[0] != '{' {
		return models.Fields{}, fmt.Errorf("%w: payload is not an object", ErrMalformedPayload)
	}

	var p payload
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&p); err != nil {
		return models.Fields{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}

	if p.Time == nil {
		return models.Fields{}, fmt.Errorf("%w: missing time", ErrMalformedPayload)
	}
	ts, err := p.Time.Int64()
	if err != nil {
		return models.Fields{}, fmt.Errorf("%w: time %q is not an integer", ErrMalformedPayload, p.Time.String())
	}

	if p.Data == nil {
		return models.Fields{}, fmt.Errorf("%w: missing data array", ErrMalformedPayload)
	}
	for i, entry := range p.Data {
		if models.RawData(entry).IsNull() {
			return models.Fields{}, fmt.Errorf("%w: data[%d] is null", ErrMalformedPayload, i)
		}
	}

	volume, err := Volume(p.Data)
	if err != nil {
		return models.Fields{}, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	length := int64(len(p.Data))

	return models.Fields{
		DeviceID:   deviceID,
		Time:       ts,
		DataLength: &length,
		DataVolume: &volume,
		RawData:    models.RawData(trimmed).Clone(),
	}, nil
}

// Volume returns the byte length of the compact JSON encoding of entries.
// Adding an entry never shrinks the result.
func Volume(entries []json.RawMessage) (int64, error) {
	if entries == nil {
		entries = []json.RawMessage{}
	}
	b, err := json.Marshal(entries)
	if err != nil {
		return 0, err
	}
	return int64(len(b)), nil
}
