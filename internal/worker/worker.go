// Package worker runs outreach jobs from the queue, one at a time per browser
// session, and records their outcomes.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/example/outreachbot/internal/humanize"
	"github.com/example/outreachbot/internal/models"
	"github.com/example/outreachbot/internal/outreach"
	"github.com/example/outreachbot/internal/queue"
	"github.com/example/outreachbot/internal/store"
)

// AckTimeout bounds the acknowledgement after a job's outcome is recorded.
const AckTimeout = 10 * time.Second

// Executor runs one job against a page. *outreach.Executor implements it.
type Executor interface {
	Execute(ctx context.Context, job models.OutreachJob, p outreach.Page) models.Outcome
}

type Options struct {
	// Delay is the pause after every job.
	Delay          time.Duration
	JobTimeout     time.Duration
	PersistRetries int
	PersistBackoff time.Duration
	// DailyCap bounds live submissions per rolling day; SentToday seeds it.
	// A worker with no send budget left receives nothing until it refills.
	DailyCap  int
	SentToday int
	// ActiveStart and ActiveEnd ("15:04") limit when jobs are taken.
	ActiveStart string
	ActiveEnd   string
	// IdleWait is the pause after a receive error or outside the active window.
	IdleWait time.Duration
	Now      func() time.Time
}

type Worker struct {
	id       int
	consumer queue.Consumer
	exec     Executor
	page     outreach.Page
	store    store.LeadStore
	limiter  *rate.Limiter
	opts     Options
	log      *slog.Logger
}

func New(id int, consumer queue.Consumer, exec Executor, page outreach.Page, st store.LeadStore, opts Options, log *slog.Logger) *Worker {
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = 5 * time.Minute
	}
	if opts.PersistRetries <= 0 {
		opts.PersistRetries = 3
	}
	if opts.IdleWait <= 0 {
		opts.IdleWait = 2 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	var limiter *rate.Limiter
	if opts.DailyCap > 0 {
		limiter = rate.NewLimiter(rate.Every(24*time.Hour/time.Duration(opts.DailyCap)), opts.DailyCap)
		if used := min(opts.SentToday, opts.DailyCap); used > 0 {
			limiter.ReserveN(opts.Now(), used)
		}
	}
	return &Worker{
		id:       id,
		consumer: consumer,
		exec:     exec,
		page:     page,
		store:    st,
		limiter:  limiter,
		opts:     opts,
		log:      log.With("module", "worker", "worker", id),
	}
}

// Run processes jobs until stop is done. Stop is only observed between jobs:
// a job already received runs to completion, including persistence and ack.
func (w *Worker) Run(stop context.Context) error {
	w.log.Info("worker started")
	defer w.log.Info("worker stopped")

	outside, exhausted := false, false
	for {
		if stop.Err() != nil {
			return nil
		}

		if !humanize.InActiveWindow(w.opts.Now(), w.opts.ActiveStart, w.opts.ActiveEnd) {
			if !outside {
				w.log.Info("outside active window, pausing", "start", w.opts.ActiveStart, "end", w.opts.ActiveEnd)
				outside = true
			}
			if w.wait(stop, w.opts.IdleWait) != nil {
				return nil
			}
			continue
		}
		outside = false

		// The budget is checked before receiving so a held message is never
		// reclaimed by another worker while this one waits for a token.
		if wait := w.budgetWait(); wait > 0 {
			if !exhausted {
				w.log.Info("daily send budget exhausted, pausing", "refill_in", wait.Round(time.Second).String())
				exhausted = true
			}
			if w.wait(stop, min(wait, w.opts.IdleWait)) != nil {
				return nil
			}
			continue
		}
		exhausted = false

		d, err := w.consumer.Receive(stop)
		if err != nil {
			switch {
			case errors.Is(err, queue.ErrNoMessage):
				continue
			case stop.Err() != nil:
				return nil
			}
			w.log.Error("receive failed", "err", err)
			if w.wait(stop, w.opts.IdleWait) != nil {
				return nil
			}
			continue
		}

		w.handle(stop, d)
		if w.wait(stop, w.opts.Delay) != nil {
			return nil
		}
	}
}

// handle runs one delivery to completion, including persistence and ack,
// even if stop fires while it runs.
func (w *Worker) handle(stop context.Context, d *queue.Delivery) {
	job := d.Job
	log := w.log.With("job_id", job.JobID, "lead_id", job.LeadID, "dry_run", job.DryRun)
	if d.Redelivered {
		log.Warn("processing redelivered job")
	}

	ctx := context.WithoutCancel(stop)
	jobCtx, cancel := context.WithTimeout(ctx, w.opts.JobTimeout)
	out := w.exec.Execute(jobCtx, job, w.page)
	cancel()
	if spendsBudget(job, out) && w.limiter != nil {
		w.limiter.ReserveN(w.opts.Now(), 1)
	}

	attrs := []any{"status", out.Status, "state", out.State.String(), "note", out.Note, "screenshot", out.ScreenshotRef}
	if out.Failed() {
		log.Warn("job failed", attrs...)
	} else {
		log.Info("job finished", attrs...)
	}

	if u, ok := models.NewLeadUpdate(job, out); ok {
		if err := w.persist(ctx, u, log); err != nil {
			log.Error("outcome not persisted, leaving message unacknowledged", "err", err)
			return
		}
	}

	ackCtx, cancelAck := context.WithTimeout(ctx, AckTimeout)
	defer cancelAck()
	if err := w.consumer.Ack(ackCtx, d); err != nil {
		log.Error("ack failed", "err", err)
	}
}

// budgetWait is how long until one send token is available; zero when the
// cap is disabled or a token is ready.
func (w *Worker) budgetWait() time.Duration {
	if w.limiter == nil {
		return 0
	}
	tokens := w.limiter.TokensAt(w.opts.Now())
	if tokens >= 1 {
		return 0
	}
	wait := time.Duration((1 - tokens) / float64(w.limiter.Limit()) * float64(time.Second))
	return max(wait, time.Millisecond)
}

// spendsBudget reports whether a live attempt may have reached the site's
// invitation flow. Pending, already-connected and not-found leads, and
// failures before a connect control was found, leave the budget alone.
func spendsBudget(job models.OutreachJob, out models.Outcome) bool {
	if job.DryRun {
		return false
	}
	switch out.Status {
	case models.StatusSent:
		return true
	case models.StatusFailed:
		return out.State == models.StateConnectAvailable
	default:
		return false
	}
}

func (w *Worker) persist(ctx context.Context, u models.LeadUpdate, log *slog.Logger) error {
	var err error
	for attempt := 1; attempt <= w.opts.PersistRetries; attempt++ {
		var applied bool
		applied, err = w.store.ApplyOutcome(ctx, u)
		if err == nil {
			if !applied {
				log.Info("outcome already recorded for job")
			}
			return nil
		}
		log.Warn("persist outcome failed", "attempt", attempt, "err", err)
		if attempt < w.opts.PersistRetries {
			_ = w.wait(ctx, time.Duration(attempt)*w.opts.PersistBackoff)
		}
	}
	return err
}

func (w *Worker) wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
