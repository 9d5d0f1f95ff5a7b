// Package ingest consumes x-ray messages from a queue and persists them as
// signal records.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hefazi/PANTOhealth/internal/config"
	"github.com/hefazi/PANTOhealth/internal/metrics"
	"github.com/hefazi/PANTOhealth/internal/models"
	"github.com/hefazi/PANTOhealth/internal/normalizer"
	"github.com/hefazi/PANTOhealth/internal/store"
)

// Outcome classifies how one message was handled.
type Outcome int

const (
	// OutcomeStored means a record was created from the message.
	OutcomeStored Outcome = iota
	// OutcomeMalformed means the message was unusable and was dropped.
	OutcomeMalformed
	// OutcomeFailed means persistence failed after every attempt, or the
	// handler panicked.
	OutcomeFailed
)

// String returns the outcome's metric label.
func (o Outcome) String() string {
	switch o {
	case OutcomeStored:
		return metrics.OutcomeStored
	case OutcomeMalformed:
		return metrics.OutcomeMalformed
	default:
		return metrics.OutcomeFailed
	}
}

// Consumer turns queue deliveries into stored records, one at a time.
type Consumer struct {
	source     Source
	store      store.Store
	deadLetter DeadLetterSink
	metrics    *metrics.Metrics
	log        *slog.Logger

	queue          string
	maxAttempts    int
	retryBackoff   time.Duration
	persistTimeout time.Duration
	receiveBackoff time.Duration
	pollInterval   time.Duration
}

// defaultPollInterval paces Receive calls on an idle queue when no interval
// is configured.
const defaultPollInterval = 100 * time.Millisecond

// Option customises a Consumer.
type Option func(*Consumer)

// WithDeadLetter sets the sink for messages that exhaust their attempts.
func WithDeadLetter(sink DeadLetterSink) Option {
	return func(c *Consumer) { c.deadLetter = sink }
}

// WithMetrics sets the metrics bundle.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Consumer) { c.metrics = m }
}

// WithPollInterval sets how long Run waits after a Receive that found the
// queue empty. Sources that block until a message arrives may pass zero.
func WithPollInterval(d time.Duration) Option {
	return func(c *Consumer) { c.pollInterval = d }
}

// WithLogger sets the logger; the default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *Consumer) { c.log = l }
}

// NewConsumer creates a Consumer reading from src and writing to st.
func NewConsumer(src Source, st store.Store, queue string, cfg config.Ingest, opts ...Option) *Consumer {
	c := &Consumer{
		source:         src,
		store:          st,
		log:            slog.Default(),
		queue:          queue,
		maxAttempts:    max(cfg.MaxAttempts, 1),
		retryBackoff:   cfg.RetryBackoff,
		persistTimeout: cfg.PersistTimeout,
		receiveBackoff: cfg.ReceiveBackoff,
		pollInterval:   defaultPollInterval,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run receives and handles deliveries until ctx is cancelled. Every delivery
// is acked once Handle returns, whatever the outcome; nothing is requeued.
func (c *Consumer) Run(ctx context.Context) {
	c.log.Info("consumer started",
		"queue", c.queue,
		"max_attempts", c.maxAttempts,
		"dead_letter", c.deadLetter != nil,
	)

	for {
		if ctx.Err() != nil {
			c.log.Info("consumer loop stopped")
			return
		}

		d, err := c.source.Receive(ctx)
		switch {
		case errors.Is(err, ErrEmpty):
			sleep(ctx, c.pollInterval)
			continue
		case err != nil:
			if ctx.Err() != nil {
				continue
			}
			c.log.Error("receive failed", "error", err)
			sleep(ctx, c.receiveBackoff)
			continue
		}

		// A received message is finished even if ctx is cancelled meanwhile;
		// each persist attempt is still bounded by the persist timeout.
		detached := context.WithoutCancel(ctx)
		c.Handle(detached, d.Body)

		ackCtx, cancel := context.WithTimeout(detached, 5*time.Second)
		if err := c.source.Ack(ackCtx, d); err != nil {
			c.log.Error("ack failed", "error", err)
		}
		cancel()
	}
}

// Handle processes one message body. It never panics and never returns an
// error; failures are logged and reported through the Outcome.
func (c *Consumer) Handle(ctx context.Context, body []byte) (outcome Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("panic while handling message", "panic", fmt.Sprint(r))
			outcome = OutcomeFailed
		}
		c.metrics.ObserveIngest(outcome.String(), time.Since(start))
	}()

	msg, err := splitMessage(body)
	if err != nil {
		c.log.Error("invalid message received", "error", err)
		return OutcomeMalformed
	}
	if len(msg.Extra) > 0 {
		c.log.Warn("ignoring extra keys in message",
			"device_id", msg.DeviceID,
			"extra_keys", msg.Extra,
		)
	}

	fields, err := normalizer.Normalize(msg.DeviceID, msg.Payload)
	if err != nil {
		if errors.Is(err, normalizer.ErrMissingPayload) {
			c.log.Error("invalid data format received, missing device data", "device_id", msg.DeviceID)
		} else {
			c.log.Error("invalid data format received", "device_id", msg.DeviceID, "error", err)
		}
		return OutcomeMalformed
	}

	rec, attempts, err := c.persist(ctx, uuid.NewString(), fields)
	if err != nil {
		c.log.Error("persist failed",
			"device_id", msg.DeviceID,
			"attempts", attempts,
			"error", err,
		)
		c.recordDeadLetter(ctx, msg.DeviceID, body, err, attempts)
		return OutcomeFailed
	}

	c.log.Info("signal stored",
		"id", rec.ID,
		"device_id", rec.DeviceID,
		"data_length", *fields.DataLength,
		"data_volume", *fields.DataVolume,
		"latency_ms", time.Since(start).Milliseconds(),
	)
	return OutcomeStored
}

// persist creates the record, retrying storage failures with doubling
// back-off. Any other error is returned at once. Every attempt uses the same
// id, so an attempt that committed but reported a failure is not duplicated
// by the retry.
func (c *Consumer) persist(ctx context.Context, id string, f models.Fields) (models.Record, int, error) {
	backoff := c.retryBackoff

	for attempt := 1; ; attempt++ {
		rec, err := c.createOnce(ctx, id, f)
		if err == nil {
			return rec, attempt, nil
		}
		if !errors.Is(err, store.ErrStorageUnavailable) || attempt >= c.maxAttempts {
			return models.Record{}, attempt, err
		}

		c.log.Warn("persist attempt failed, retrying",
			"attempt", attempt,
			"backoff_ms", backoff.Milliseconds(),
			"error", err,
		)
		c.metrics.IncRetry()
		if !sleep(ctx, backoff) {
			return models.Record{}, attempt, errors.Join(err, ctx.Err())
		}
		backoff *= 2
	}
}

func (c *Consumer) createOnce(ctx context.Context, id string, f models.Fields) (models.Record, error) {
	if c.persistTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.persistTimeout)
		defer cancel()
	}
	return c.store.CreateWithID(ctx, id, f)
}

func (c *Consumer) recordDeadLetter(ctx context.Context, deviceID string, body []byte, cause error, attempts int) {
	if c.deadLetter == nil || !errors.Is(cause, store.ErrStorageUnavailable) {
		return
	}

	dlCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	err := c.deadLetter.Record(dlCtx, models.DeadLetter{
		Queue:    c.queue,
		DeviceID: deviceID,
		Body:     body,
		Error:    cause.Error(),
		Attempts: attempts,
	})
	if err != nil {
		c.log.Error("dead letter write failed", "device_id", deviceID, "error", err)
		return
	}
	c.metrics.IncDeadLetter()
	c.log.Warn("message dead-lettered", "device_id", deviceID, "attempts", attempts)
}

// sleep waits for d or until ctx is done. It reports whether the full
// duration elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
