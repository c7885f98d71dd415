// Package outreach drives one job through a browser page: open the profile,
// detect the relationship, and compose (and optionally send) a connection
// request with a personalized note.
package outreach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/example/outreachbot/internal/detect"
	"github.com/example/outreachbot/internal/humanize"
	"github.com/example/outreachbot/internal/ledger"
	"github.com/example/outreachbot/internal/models"
)

const (
	// MaxNoteLength is the site's limit for an invitation note.
	MaxNoteLength = 300
	namePlaceholder = "{lead_name}"
)

// Page is the browser capability a single job runs against.
type Page interface {
	detect.Page
	Navigate(ctx context.Context, url string) error
	WaitMainContent(ctx context.Context, timeout time.Duration) error
	ScrollToTop(ctx context.Context) error
	// OpenNoteComposer waits for the invitation dialog, chooses "Add a note"
	// when offered, and waits for the note field.
	OpenNoteComposer(ctx context.Context, timeout time.Duration) error
	TypeNote(ctx context.Context, text string) error
	SubmitInvitation(ctx context.Context, timeout time.Duration) error
	DismissComposer(ctx context.Context) error
	Screenshot(ctx context.Context) ([]byte, error)
	HTML(ctx context.Context) (string, error)
}

// Sink receives audit artifacts.
type Sink interface {
	SaveScreenshot(ctx context.Context, jobID string, status models.OutcomeStatus, png []byte) (string, error)
	SaveSnapshot(ctx context.Context, jobID string, status models.OutcomeStatus, html string) (string, error)
}

type Options struct {
	PageTimeout     time.Duration
	ComposerTimeout time.Duration
	// Pause is called between interactions; nil uses humanize.Sleep.
	Pause func(ctx context.Context, minMs, maxMs int) error
	Now   func() time.Time
}

type Executor struct {
	detector *detect.Detector
	sink     Sink
	ledger   ledger.Ledger
	opts     Options
	log      *slog.Logger
}

func New(detector *detect.Detector, sink Sink, l ledger.Ledger, opts Options, log *slog.Logger) *Executor {
	if opts.PageTimeout <= 0 {
		opts.PageTimeout = 20 * time.Second
	}
	if opts.ComposerTimeout <= 0 {
		opts.ComposerTimeout = 10 * time.Second
	}
	if opts.Pause == nil {
		opts.Pause = humanize.Sleep
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Executor{detector: detector, sink: sink, ledger: l, opts: opts, log: log.With("module", "outreach")}
}

// Execute never retries and never returns an error: every failure becomes a
// failed outcome. One screenshot is saved per call.
func (e *Executor) Execute(ctx context.Context, job models.OutreachJob, p Page) (out models.Outcome) {
	log := e.log.With("job_id", job.JobID, "lead_id", job.LeadID, "dry_run", job.DryRun)
	out = models.Outcome{JobID: job.JobID, Status: models.StatusFailed, State: models.StateNotFound}

	var (
		composed []byte
		snapshot bool
	)
	defer func() {
		if r := recover(); r != nil {
			log.Error("panic during outreach", "panic", r)
			out.Status = models.StatusFailed
			out.Note = fmt.Sprintf("unexpected error: %v", r)
		}
		out.ProcessedAt = e.opts.Now()
		e.capture(ctx, p, &out, composed, snapshot, log)
	}()

	fail := func(step string, err error) models.Outcome {
		log.Warn("outreach step failed", "step", step, "err", err)
		out.Status = models.StatusFailed
		out.Note = fmt.Sprintf("%s: %v", step, err)
		return out
	}

	log.Info("opening profile", "url", job.ProfileURL)
	if err := p.Navigate(ctx, job.ProfileURL); err != nil {
		return fail("navigate", err)
	}
	if err := p.WaitMainContent(ctx, e.opts.PageTimeout); err != nil {
		return fail("wait for profile", err)
	}
	if err := p.ScrollToTop(ctx); err != nil {
		return fail("scroll to top", err)
	}
	if err := e.opts.Pause(ctx, 1000, 2000); err != nil {
		return fail("pause", err)
	}

	res, err := e.detector.Detect(ctx, p)
	if err != nil {
		return fail("detect", err)
	}
	out.State = res.State
	out.DetectionPath = res.Path
	log.Info("relationship detected", "state", res.State.String(), "path", res.Path)

	switch res.State {
	case models.StatePending:
		out.Status = models.StatusPending
		out.Note = "connection request already pending"
		return out
	case models.StateAlreadyConnected:
		out.Status = models.StatusAlreadyConnected
		out.Note = "already connected"
		return out
	case models.StateNotFound:
		snapshot = true
		out.Status = models.StatusFailed
		out.Note = "no safe connect control found"
		return out
	case models.StateConnectAvailable:
	default:
		return fail("detect", fmt.Errorf("unknown state %s", res.State))
	}

	if !job.DryRun {
		if err := e.ledger.MarkAttempted(ctx, job.JobID); err != nil {
			if errors.Is(err, ledger.ErrAlreadyAttempted) {
				log.Warn("refusing to resubmit redelivered job")
				out.Status = models.StatusFailed
				out.Note = "submission already attempted for this job"
				return out
			}
			return fail("record submission attempt", err)
		}
	}

	note := Personalize(job.MessageTemplate, job.Name)
	if err := res.Control.Click(ctx); err != nil {
		return fail("click connect", err)
	}
	if err := p.OpenNoteComposer(ctx, e.opts.ComposerTimeout); err != nil {
		return fail("open note composer", err)
	}
	if err := p.TypeNote(ctx, note); err != nil {
		return fail("type note", err)
	}
	if shot, err := p.Screenshot(ctx); err != nil {
		log.Warn("composed screenshot failed", "err", err)
	} else {
		composed = shot
	}

	if job.DryRun {
		if err := p.DismissComposer(ctx); err != nil {
			log.Warn("could not close composer", "err", err)
		}
		out.Status = models.StatusDryRunSuccess
		out.Note = note
		return out
	}

	if err := e.opts.Pause(ctx, 300, 700); err != nil {
		return fail("pause", err)
	}
	if err := p.SubmitInvitation(ctx, e.opts.ComposerTimeout); err != nil {
		return fail("submit", err)
	}
	out.Status = models.StatusSent
	out.Note = note
	return out
}

// capture saves the single screenshot for the attempt, plus a page snapshot
// when detection found nothing. Audit failures never change the outcome.
func (e *Executor) capture(ctx context.Context, p Page, out *models.Outcome, composed []byte, snapshot bool, log *slog.Logger) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	shot := composed
	if out.Failed() || shot == nil {
		if fresh, err := safeScreenshot(actx, p); err == nil {
			shot = fresh
		} else {
			log.Warn("screenshot failed", "err", err)
		}
	}
	if shot != nil {
		ref, err := e.sink.SaveScreenshot(actx, out.JobID, out.Status, shot)
		if err != nil {
			log.Warn("save screenshot failed", "err", err)
		}
		out.ScreenshotRef = ref
	}

	if !snapshot {
		return
	}
	html, err := safeHTML(actx, p)
	if err != nil {
		log.Warn("page snapshot failed", "err", err)
		return
	}
	ref, err := e.sink.SaveSnapshot(actx, out.JobID, out.Status, html)
	if err != nil {
		log.Warn("save snapshot failed", "err", err)
	}
	out.SnapshotRef = ref
}

func safeScreenshot(ctx context.Context, p Page) (b []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("screenshot panic: %v", r)
		}
	}()
	return p.Screenshot(ctx)
}

func safeHTML(ctx context.Context, p Page) (s string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("snapshot panic: %v", r)
		}
	}()
	return p.HTML(ctx)
}

// Personalize fills {lead_name} and caps the note at MaxNoteLength runes.
func Personalize(template, name string) string {
	note := strings.ReplaceAll(template, namePlaceholder, strings.TrimSpace(name))
	if utf8.RuneCountInString(note) <= MaxNoteLength {
		return note
	}
	runes := []rune(note)
	return string(runes[:MaxNoteLength-3]) + "..."
}
