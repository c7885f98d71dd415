package queue

import (
	"context"
	"errors"

	"github.com/example/outreachbot/internal/models"
)

var (
	// ErrNoMessage is returned by Receive when the bounded wait elapses empty.
	ErrNoMessage = errors.New("no message available")
	// ErrInvalidJob wraps every decode or validation failure of a payload.
	ErrInvalidJob = errors.New("invalid outreach job")
)

// Delivery is one received job. It stays pending on the backend until acked.
type Delivery struct {
	ID  string
	Job models.OutreachJob
	// Redelivered is set when the message was reclaimed from a consumer that
	// never acknowledged it.
	Redelivered bool
}

// Producer publishes jobs for the worker pool.
type Producer interface {
	Enqueue(ctx context.Context, job models.OutreachJob) error
}

// Consumer hands out one job at a time. Receive blocks for at most the
// backend's configured wait and returns ErrNoMessage when nothing arrived.
type Consumer interface {
	Receive(ctx context.Context) (*Delivery, error)
	Ack(ctx context.Context, d *Delivery) error
	Close() error
}
