package ingest

import (
	"errors"
	"testing"
)

func TestSplitMessage(t *testing.T) {
	msg, err := splitMessage([]byte(`{"dev-1": {"time": 1, "data": []}, "dev-2": {}, "x": null}`))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if msg.DeviceID != "dev-1" {
		t.Errorf("DeviceID = %q, want dev-1", msg.DeviceID)
	}
	if string(msg.Payload) != `{"time": 1, "data": []}` {
		t.Errorf("Payload = %s", msg.Payload)
	}
	if len(msg.Extra) != 2 || msg.Extra[0] != "dev-2" || msg.Extra[1] != "x" {
		t.Errorf("Extra = %v, want [dev-2 x]", msg.Extra)
	}
}

func TestSplitMessageUsesDocumentOrder(t *testing.T) {
	// "zzz" sorts after "aaa" but appears first.
	msg, err := splitMessage([]byte(`{"zzz": 1, "aaa": 2}`))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if msg.DeviceID != "zzz" {
		t.Errorf("DeviceID = %q, want zzz", msg.DeviceID)
	}
}

func TestSplitMessageNullPayload(t *testing.T) {
	msg, err := splitMessage([]byte(`{"dev-1": null}`))
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if string(msg.Payload) != "null" {
		t.Errorf("Payload = %s, want null", msg.Payload)
	}
}

func TestSplitMessageErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want error
	}{
		{"empty object", `{}`, errNoDevice},
		{"array", `[1]`, errNotObject},
		{"number", `42`, errNotObject},
		{"empty body", ``, errNotObject},
		{"truncated", `{"dev": {"time": 1`, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := splitMessage([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}
