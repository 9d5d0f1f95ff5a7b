package ingest

import (
	"context"
	"errors"

	"github.com/hefazi/PANTOhealth/internal/models"
)

// ErrEmpty is returned by Source.Receive when nothing arrived within its poll
// window. It is not a failure.
var ErrEmpty = errors.New("no message available")

// Delivery is one message handed out by a Source. Token is opaque to the
// consumer and only passed back to Ack.
type Delivery struct {
	Body  []byte
	Token string
}

// Source abstracts the queue so the consumer loop can be tested with a mock.
type Source interface {
	Receive(ctx context.Context) (Delivery, error)
	Ack(ctx context.Context, d Delivery) error
}

// DeadLetterSink records messages that could not be persisted.
type DeadLetterSink interface {
	Record(ctx context.Context, dl models.DeadLetter) error
}
