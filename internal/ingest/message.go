package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	errNotObject = errors.New("message is not a JSON object")
	errNoDevice  = errors.New("message has no device key")
)

// message is a queue body split into its device key and payload.
type message struct {
	DeviceID string
	Payload  json.RawMessage
	// Extra lists keys after the first; they are ignored.
	Extra []string
}

// splitMessage reads the first key of body in document order. Its value is
// the device payload; later keys are reported in Extra.
func splitMessage(body []byte) (message, error) {
	dec := json.NewDecoder(bytes.NewReader(body))

	tok, err := dec.Token()
	if err != nil {
		return message{}, fmt.Errorf("%w: %w", errNotObject, err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return message{}, errNotObject
	}

	var msg message
	first := true
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return message{}, fmt.Errorf("read key: %w", err)
		}
		key, ok := tok.(string)
		if !ok {
			return message{}, fmt.Errorf("unexpected token %v", tok)
		}

		var value json.RawMessage
		if err := dec.Decode(&value); err != nil {
			return message{}, fmt.Errorf("read value of %q: %w", key, err)
		}

		if first {
			msg.DeviceID = key
			msg.Payload = value
			first = false
			continue
		}
		msg.Extra = append(msg.Extra, key)
	}

	if _, err := dec.Token(); err != nil {
		return message{}, fmt.Errorf("%w: %w", errNotObject, err)
	}
	if first {
		return message{}, errNoDevice
	}
	return msg, nil
}
