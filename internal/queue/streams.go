package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/outreachbot/internal/models"
)

type StreamsConfig struct {
	Addr      string
	Password  string
	DB        int
	Stream    string
	DLQStream string
	Group     string
	Consumer  string
	// Block bounds each Receive.
	Block time.Duration
	// ClaimIdle is how long a delivered message may stay unacknowledged
	// before another consumer reclaims it. Zero disables reclaiming.
	ClaimIdle     time.Duration
	DryRunDefault bool
}

// StreamsQueue implements Producer and Consumer on a Redis Streams consumer
// group. Each worker owns one StreamsQueue with its own consumer name.
type StreamsQueue struct {
	client *redis.Client
	cfg    StreamsConfig
	log    *slog.Logger
}

func NewStreamsQueue(ctx context.Context, cfg StreamsConfig, log *slog.Logger) (*StreamsQueue, error) {
	if cfg.Addr == "" {
		return nil, errors.New("redis address is required")
	}
	if cfg.Stream == "" {
		cfg.Stream = "outreach_queue"
	}
	if cfg.DLQStream == "" {
		cfg.DLQStream = cfg.Stream + "_dlq"
	}
	if cfg.Group == "" {
		cfg.Group = "outreach_workers"
	}
	if cfg.Consumer == "" {
		cfg.Consumer = "outreachd"
	}
	if cfg.Block <= 0 {
		cfg.Block = 5 * time.Second
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	q := &StreamsQueue{
		client: client,
		cfg:    cfg,
		log:    log.With("module", "queue", "stream", cfg.Stream, "consumer", cfg.Consumer),
	}
	if err := q.ensureGroup(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return q, nil
}

// Client exposes the connection so the submission ledger can share it.
func (q *StreamsQueue) Client() *redis.Client { return q.client }

func (q *StreamsQueue) Close() error { return q.client.Close() }

func (q *StreamsQueue) Enqueue(ctx context.Context, job models.OutreachJob) error {
	payload, err := EncodeJob(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	_, err = q.client.XAdd(ctx, &redis.XAddArgs{
		Stream: q.cfg.Stream,
		Values: map[string]any{
			"job_id":  job.JobID,
			"payload": string(payload),
		},
	}).Result()
	if err != nil {
		return fmt.Errorf("enqueue to stream: %w", err)
	}
	return nil
}

// Receive returns the next job for this consumer. Stale messages abandoned by
// another consumer are reclaimed before new ones are read. Malformed messages
// are moved to the dead-letter stream and never returned.
func (q *StreamsQueue) Receive(ctx context.Context) (*Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if q.cfg.ClaimIdle > 0 {
			d, err := q.reclaim(ctx)
			if err != nil {
				return nil, err
			}
			if d != nil {
				return d, nil
			}
		}

		streams, err := q.client.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    q.cfg.Group,
			Consumer: q.cfg.Consumer,
			Streams:  []string{q.cfg.Stream, ">"},
			Count:    1,
			Block:    q.cfg.Block,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return nil, ErrNoMessage
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil, err
			}
			return nil, fmt.Errorf("xreadgroup: %w", err)
		}

		for _, stream := range streams {
			for _, item := range stream.Messages {
				if d := q.accept(ctx, item, false); d != nil {
					return d, nil
				}
			}
		}
	}
}

func (q *StreamsQueue) reclaim(ctx context.Context) (*Delivery, error) {
	items, _, err := q.client.XAutoClaim(ctx, &redis.XAutoClaimArgs{
		Stream:   q.cfg.Stream,
		Group:    q.cfg.Group,
		Consumer: q.cfg.Consumer,
		MinIdle:  q.cfg.ClaimIdle,
		Start:    "0-0",
		Count:    1,
	}).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("xautoclaim: %w", err)
	}
	for _, item := range items {
		if d := q.accept(ctx, item, true); d != nil {
			q.log.Warn("reclaimed unacknowledged job", "job_id", d.Job.JobID, "stream_id", item.ID)
			return d, nil
		}
	}
	return nil, nil
}

// accept decodes item or dead-letters it.
func (q *StreamsQueue) accept(ctx context.Context, item redis.XMessage, redelivered bool) *Delivery {
	if len(item.Values) == 0 {
		// Entry was deleted while still pending.
		_ = q.ack(ctx, item.ID)
		return nil
	}
	job, err := DecodeJob([]byte(field(item, "payload")), item.ID, q.cfg.DryRunDefault)
	if err != nil {
		q.log.Warn("dead-lettering malformed job", "stream_id", item.ID, "err", err)
		if dlqErr := q.sendToDLQ(ctx, item, err.Error()); dlqErr != nil {
			q.log.Error("dead-letter failed", "stream_id", item.ID, "err", dlqErr)
			return nil
		}
		_ = q.ack(ctx, item.ID)
		return nil
	}
	return &Delivery{ID: item.ID, Job: job, Redelivered: redelivered}
}

func (q *StreamsQueue) Ack(ctx context.Context, d *Delivery) error {
	return q.ack(ctx, d.ID)
}

func (q *StreamsQueue) ack(ctx context.Context, streamID string) error {
	if err := q.client.XAck(ctx, q.cfg.Stream, q.cfg.Group, streamID).Err(); err != nil {
		return fmt.Errorf("xack: %w", err)
	}
	if err := q.client.XDel(ctx, q.cfg.Stream, streamID).Err(); err != nil {
		return fmt.Errorf("xdel: %w", err)
	}
	return nil
}

func (q *StreamsQueue) ensureGroup(ctx context.Context) error {
	// "0" so jobs published before the first worker started are not skipped.
	err := q.client.XGroupCreateMkStream(ctx, q.cfg.Stream, q.cfg.Group, "0").Err()
	if err == nil || strings.Contains(err.Error(), "BUSYGROUP") {
		return nil
	}
	return fmt.Errorf("ensure stream group: %w", err)
}

func (q *StreamsQueue) sendToDLQ(ctx context.Context, item redis.XMessage, reason string) error {
	values := map[string]any{
		"stream_id": item.ID,
		"job_id":    field(item, "job_id"),
		"payload":   field(item, "payload"),
		"error":     reason,
		"moved_at":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	if _, err := q.client.XAdd(ctx, &redis.XAddArgs{Stream: q.cfg.DLQStream, Values: values}).Result(); err != nil {
		return fmt.Errorf("send to dlq: %w", err)
	}
	return nil
}

func field(item redis.XMessage, key string) string {
	switch v := item.Values[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return string(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
