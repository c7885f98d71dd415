package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/example/outreachbot/internal/models"
)

type localMessage struct {
	id      string
	payload []byte
}

type inflight struct {
	msg       localMessage
	delivered time.Time
}

// LocalQueue is the in-process fallback used when Redis is not configured.
// Workers of one process share it. Unacknowledged deliveries are handed out
// again once they have been pending longer than claimIdle.
type LocalQueue struct {
	ch            chan localMessage
	block         time.Duration
	claimIdle     time.Duration
	dryRunDefault bool
	log           *slog.Logger
	seq           atomic.Uint64
	now           func() time.Time

	mu      sync.Mutex
	pending map[string]inflight
	dlq     []localMessage
}

func NewLocalQueue(bufferSize int, block, claimIdle time.Duration, dryRunDefault bool, log *slog.Logger) *LocalQueue {
	if bufferSize <= 0 {
		bufferSize = 512
	}
	if block <= 0 {
		block = 5 * time.Second
	}
	return &LocalQueue{
		ch:            make(chan localMessage, bufferSize),
		block:         block,
		claimIdle:     claimIdle,
		dryRunDefault: dryRunDefault,
		log:           log.With("module", "queue", "backend", "local"),
		now:           time.Now,
		pending:       make(map[string]inflight),
	}
}

func (q *LocalQueue) Enqueue(ctx context.Context, job models.OutreachJob) error {
	payload, err := EncodeJob(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	return q.publish(ctx, payload)
}

func (q *LocalQueue) publish(ctx context.Context, payload []byte) error {
	msg := localMessage{id: "local-" + strconv.FormatUint(q.seq.Add(1), 10), payload: payload}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case q.ch <- msg:
		return nil
	}
}

func (q *LocalQueue) Receive(ctx context.Context) (*Delivery, error) {
	if d := q.reclaim(); d != nil {
		return d, nil
	}

	timer := time.NewTimer(q.block)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, ErrNoMessage
		case msg := <-q.ch:
			job, err := DecodeJob(msg.payload, msg.id, q.dryRunDefault)
			if err != nil {
				q.log.Warn("dead-lettering malformed job", "id", msg.id, "err", err)
				q.mu.Lock()
				q.dlq = append(q.dlq, msg)
				q.mu.Unlock()
				continue
			}
			q.mu.Lock()
			q.pending[msg.id] = inflight{msg: msg, delivered: q.now()}
			q.mu.Unlock()
			return &Delivery{ID: msg.id, Job: job}, nil
		}
	}
}

func (q *LocalQueue) reclaim() *Delivery {
	if q.claimIdle <= 0 {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	for id, p := range q.pending {
		if now.Sub(p.delivered) < q.claimIdle {
			continue
		}
		job, err := DecodeJob(p.msg.payload, id, q.dryRunDefault)
		if err != nil {
			delete(q.pending, id)
			continue
		}
		p.delivered = now
		q.pending[id] = p
		q.log.Warn("reclaimed unacknowledged job", "job_id", job.JobID)
		return &Delivery{ID: id, Job: job, Redelivered: true}
	}
	return nil
}

func (q *LocalQueue) Ack(_ context.Context, d *Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.pending, d.ID)
	return nil
}

// Pending is the number of delivered but unacknowledged messages.
func (q *LocalQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Queued is the number of messages not yet delivered to any worker.
func (q *LocalQueue) Queued() int { return len(q.ch) }

func (q *LocalQueue) DLQSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.dlq)
}

// Close is a no-op; the queue lives as long as the process.
func (q *LocalQueue) Close() error { return nil }
