package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/hefazi/PANTOhealth/internal/httpx"
	"github.com/hefazi/PANTOhealth/internal/ingest"
)

// ---------------------------------------------------------------------------
// Lease API types
// ---------------------------------------------------------------------------

type leaseRequest struct {
	Topic        string `json:"topic"`
	ConsumerID   string `json:"consumer_id"`
	Max          int    `json:"max"`
	LeaseSeconds int    `json:"lease_seconds"`
}

type leaseMessage struct {
	MsgUUID string          `json:"msg_uuid"`
	Payload json.RawMessage `json:"payload"`
}

type leaseResponse struct {
	LeaseID  string         `json:"lease_id"`
	Messages []leaseMessage `json:"messages"`
}

type ackRequest struct {
	Topic      string `json:"topic"`
	ConsumerID string `json:"consumer_id"`
	LeaseID    string `json:"lease_id"`
}

// ---------------------------------------------------------------------------
// HTTPLease
// ---------------------------------------------------------------------------

// HTTPLease reads from a lease-based message queue over HTTP. Each Receive
// leases a single message; Ack releases the lease. An un-acked lease expires
// on the broker and the message is handed out again.
type HTTPLease struct {
	client       *httpx.Client
	base         string
	topic        string
	consumerID   string
	leaseSeconds int
}

// NewHTTPLease creates an HTTPLease against the broker at baseURL.
func NewHTTPLease(client *httpx.Client, baseURL, topic, consumerID string, leaseSeconds int) *HTTPLease {
	return &HTTPLease{
		client:       client,
		base:         baseURL,
		topic:        topic,
		consumerID:   consumerID,
		leaseSeconds: leaseSeconds,
	}
}

// Receive leases at most one message. It returns ingest.ErrEmpty when the
// topic has nothing ready.
func (q *HTTPLease) Receive(ctx context.Context) (ingest.Delivery, error) {
	var lease leaseResponse
	err := q.post(ctx, "/v1/lease", leaseRequest{
		Topic:        q.topic,
		ConsumerID:   q.consumerID,
		Max:          1,
		LeaseSeconds: q.leaseSeconds,
	}, &lease)
	if err != nil {
		return ingest.Delivery{}, fmt.Errorf("lease: %w", err)
	}
	if len(lease.Messages) == 0 {
		return ingest.Delivery{}, ingest.ErrEmpty
	}
	return ingest.Delivery{Body: lease.Messages[0].Payload, Token: lease.LeaseID}, nil
}

// Ack releases the lease that carried d.
func (q *HTTPLease) Ack(ctx context.Context, d ingest.Delivery) error {
	err := q.post(ctx, "/v1/ack", ackRequest{
		Topic:      q.topic,
		ConsumerID: q.consumerID,
		LeaseID:    d.Token,
	}, nil)
	if err != nil {
		return fmt.Errorf("ack lease %s: %w", d.Token, err)
	}
	return nil
}

// Healthy returns nil when the broker is reachable.
func (q *HTTPLease) Healthy(ctx context.Context) error {
	resp, err := q.client.Get(ctx, q.base+"/healthz")
	if err != nil {
		return fmt.Errorf("mq healthz: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("mq healthz: status %d", resp.StatusCode)
	}
	return nil
}

func (q *HTTPLease) post(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, q.base+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := q.client.Do(ctx, req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

var _ ingest.Source = (*HTTPLease)(nil)
