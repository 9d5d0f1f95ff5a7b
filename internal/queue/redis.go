// Package queue provides the broker adapters the ingestion consumer reads from.
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hefazi/PANTOhealth/internal/ingest"
)

// RedisList is a reliable queue on a Redis list. Producers LPUSH onto the
// queue key; Receive atomically moves the oldest element onto a per-consumer
// processing list and Ack removes it from there.
type RedisList struct {
	client       *redis.Client
	queue        string
	processing   string
	blockTimeout time.Duration
}

// NewRedisList creates a RedisList over an existing client. consumerID keeps
// the processing list private to one consumer so Recover is safe to run.
func NewRedisList(client *redis.Client, queue, consumerID string, blockTimeout time.Duration) *RedisList {
	if blockTimeout <= 0 {
		blockTimeout = time.Second
	}
	return &RedisList{
		client:       client,
		queue:        queue,
		processing:   queue + ":processing:" + consumerID,
		blockTimeout: blockTimeout,
	}
}

// Receive blocks for up to the block timeout. It returns ingest.ErrEmpty when
// nothing arrived.
func (q *RedisList) Receive(ctx context.Context) (ingest.Delivery, error) {
	body, err := q.client.BLMove(ctx, q.queue, q.processing, "RIGHT", "LEFT", q.blockTimeout).Result()
	if errors.Is(err, redis.Nil) {
		return ingest.Delivery{}, ingest.ErrEmpty
	}
	if err != nil {
		return ingest.Delivery{}, fmt.Errorf("blmove %s: %w", q.queue, err)
	}
	return ingest.Delivery{Body: []byte(body), Token: body}, nil
}

// Ack removes the delivery from the processing list.
func (q *RedisList) Ack(ctx context.Context, d ingest.Delivery) error {
	if err := q.client.LRem(ctx, q.processing, 1, d.Token).Err(); err != nil {
		return fmt.Errorf("lrem %s: %w", q.processing, err)
	}
	return nil
}

// Publish appends a message to the queue.
func (q *RedisList) Publish(ctx context.Context, body []byte) error {
	if err := q.client.LPush(ctx, q.queue, body).Err(); err != nil {
		return fmt.Errorf("lpush %s: %w", q.queue, err)
	}
	return nil
}

// Recover moves messages left on this consumer's processing list by an
// earlier run back onto the queue. It returns how many were moved.
func (q *RedisList) Recover(ctx context.Context) (int, error) {
	n := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.queue, "LEFT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover %s: %w", q.processing, err)
		}
		n++
	}
}

// Healthy pings the Redis server.
func (q *RedisList) Healthy(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

var _ ingest.Source = (*RedisList)(nil)
