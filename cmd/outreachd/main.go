package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/example/outreachbot/internal/audit"
	"github.com/example/outreachbot/internal/auth"
	"github.com/example/outreachbot/internal/browser"
	"github.com/example/outreachbot/internal/config"
	"github.com/example/outreachbot/internal/detect"
	"github.com/example/outreachbot/internal/ledger"
	"github.com/example/outreachbot/internal/logging"
	"github.com/example/outreachbot/internal/outreach"
	"github.com/example/outreachbot/internal/queue"
	"github.com/example/outreachbot/internal/store"
	"github.com/example/outreachbot/internal/worker"
)

// localQueueCapacity bounds how many jobs run --jobs can seed without Redis.
const localQueueCapacity = 10000

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "config.yaml", "Path to config file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `outreachd - connection request worker pool

Usage:
  outreachd [--config config.yaml] [command] [options]

Commands:
  run [--jobs FILE]            Start the worker pool (default). FILE holds one JSON job per line
                               and is queued before the workers start.
  login                        Refresh the saved browser session
  enqueue [--jobs FILE | --lead ID --name N --url U --message M] [--batch B] [--live]
                               Publish jobs to the Redis queue

Examples:
  outreachd --config config.yaml run
  OUTREACH_WORKERS=3 outreachd run --jobs leads.jsonl
  outreachd enqueue --lead 42 --name "Jane Doe" --url https://www.linkedin.com/in/jane --message "Hi {lead_name}"
`)
	}
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(cfg.Logging.Level)

	cmd, args := "run", []string(nil)
	if flag.NArg() > 0 {
		cmd, args = flag.Arg(0), flag.Args()[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	log.Info("outreachd starting", "command", cmd, "workers", cfg.Workers.Count, "dry_run_default", cfg.Workers.DryRunDefault)

	switch cmd {
	case "run":
		err = runDaemon(ctx, cfg, log, args)
	case "login":
		err = runLogin(ctx, cfg, log)
	case "enqueue":
		err = runEnqueue(ctx, cfg, log, args)
	default:
		flag.Usage()
		err = fmt.Errorf("unknown command: %s", cmd)
	}
	stop()

	if err != nil {
		log.Error("command failed", "command", cmd, "err", err)
		os.Exit(1)
	}
	log.Info("command completed", "command", cmd)
}

func runDaemon(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	jobsPath := fs.String("jobs", "", "JSON lines file of jobs to queue before starting")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, closeStore, err := setupStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStore()

	sink, err := audit.NewFileSink(cfg.Audit.Dir)
	if err != nil {
		return err
	}

	sentToday, err := st.CountSentSince(ctx, startOfDay(time.Now()))
	if err != nil {
		return fmt.Errorf("count today's sends: %w", err)
	}

	// Without Redis every worker shares one in-process queue and ledger.
	var (
		local     *queue.LocalQueue
		memLedger *ledger.MemoryLedger
	)
	if cfg.Queue.RedisAddr == "" {
		log.Warn("OUTREACH_REDIS_ADDR not set, using in-process queue")
		local = queue.NewLocalQueue(localQueueCapacity, cfg.QueueBlock(), cfg.ClaimIdle(), cfg.Workers.DryRunDefault, log)
		memLedger = ledger.NewMemoryLedger()
		defer func() {
			log.Info("in-process queue at shutdown", "queued", local.Queued(), "unacknowledged", local.Pending(), "dead_lettered", local.DLQSize())
		}()
	}

	if *jobsPath != "" {
		if err := seedJobs(ctx, cfg, local, *jobsPath, log); err != nil {
			return err
		}
	}

	creds := auth.CredentialsFromEnv()
	factory := func(ctx context.Context, id int) (*worker.Worker, func() error, error) {
		wlog := log.With("worker", id)

		consumer, l, err := setupQueue(ctx, cfg, id, local, memLedger, wlog)
		if err != nil {
			return nil, nil, err
		}
		br, err := browser.New(ctx, cfg, wlog)
		if err != nil {
			_ = consumer.Close()
			return nil, nil, err
		}
		release := func() error {
			return errors.Join(br.Close(), consumer.Close())
		}
		if err := auth.New(cfg.Site.BaseURL, cfg.Browser.CookiesPath, creds, wlog).EnsureLoggedIn(ctx, br); err != nil {
			_ = release()
			return nil, nil, fmt.Errorf("login: %w", err)
		}
		page, err := br.NewPage()
		if err != nil {
			_ = release()
			return nil, nil, err
		}

		exec := outreach.New(detect.New(cfg.MenuTimeout(), wlog), sink, l, outreach.Options{
			PageTimeout:     cfg.PageTimeout(),
			ComposerTimeout: cfg.ComposerTimeout(),
		}, wlog)
		w := worker.New(id, consumer, exec, page, st, worker.Options{
			Delay:          cfg.JobDelay(),
			JobTimeout:     cfg.JobTimeout(),
			PersistRetries: cfg.Workers.PersistRetries,
			PersistBackoff: cfg.PersistBackoff(),
			DailyCap:       cfg.Limits.MaxConnectionsPerDay,
			SentToday:      sentShare(sentToday, cfg.Workers.Count, id),
			ActiveStart:    cfg.Limits.ActiveStart,
			ActiveEnd:      cfg.Limits.ActiveEnd,
		}, wlog)
		return w, func() error { return errors.Join(page.Close(), release()) }, nil
	}

	return worker.NewPool(cfg.Workers.Count, factory, log).Run(ctx)
}

func runLogin(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()
	br, err := browser.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer br.Close()
	return auth.New(cfg.Site.BaseURL, cfg.Browser.CookiesPath, auth.CredentialsFromEnv(), log).EnsureLoggedIn(ctx, br)
}

func runEnqueue(ctx context.Context, cfg *config.Config, log *slog.Logger, args []string) error {
	fs := flag.NewFlagSet("enqueue", flag.ContinueOnError)
	var (
		jobsPath, leadID, name, url, message, batch string
		live                                        bool
	)
	fs.StringVar(&jobsPath, "jobs", "", "JSON lines file of jobs")
	fs.StringVar(&leadID, "lead", "", "Lead id")
	fs.StringVar(&name, "name", "", "Lead display name")
	fs.StringVar(&url, "url", "", "Profile URL")
	fs.StringVar(&message, "message", "", "Note template with {lead_name}")
	fs.StringVar(&batch, "batch", "", "Batch id (default: current time)")
	fs.BoolVar(&live, "live", !cfg.Workers.DryRunDefault, "Submit for real instead of a dry run")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if cfg.Queue.RedisAddr == "" {
		return errors.New("enqueue needs OUTREACH_REDIS_ADDR; the in-process queue is only reachable via run --jobs")
	}

	q, err := newStreams(ctx, cfg, "producer", log)
	if err != nil {
		return err
	}
	defer q.Close()

	if jobsPath != "" {
		return enqueueFile(ctx, q, jobsPath, batch, !live, log)
	}

	job := queue.NewJob(leadID, name, url, message, batch, !live)
	payload, err := queue.EncodeJob(job)
	if err != nil {
		return err
	}
	// Same validation the workers apply on receipt.
	if _, err := queue.DecodeJob(payload, job.JobID, !live); err != nil {
		return err
	}
	if err := q.Enqueue(ctx, job); err != nil {
		return err
	}
	log.Info("job enqueued", "job_id", job.JobID, "lead_id", job.LeadID, "dry_run", job.DryRun)
	return nil
}

func seedJobs(ctx context.Context, cfg *config.Config, local *queue.LocalQueue, path string, log *slog.Logger) error {
	if local != nil {
		return enqueueFile(ctx, local, path, "", cfg.Workers.DryRunDefault, log)
	}
	q, err := newStreams(ctx, cfg, "producer", log)
	if err != nil {
		return err
	}
	defer q.Close()
	return enqueueFile(ctx, q, path, "", cfg.Workers.DryRunDefault, log)
}

func enqueueFile(ctx context.Context, p queue.Producer, path, batch string, dryRunDefault bool, log *slog.Logger) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open jobs file: %w", err)
	}
	defer f.Close()
	jobs, err := queue.ReadJobs(f, batch, dryRunDefault)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		if err := p.Enqueue(ctx, job); err != nil {
			return fmt.Errorf("enqueue %s: %w", job.JobID, err)
		}
	}
	log.Info("jobs enqueued", "count", len(jobs), "file", path)
	return nil
}

func setupStore(ctx context.Context, cfg *config.Config, log *slog.Logger) (store.LeadStore, func(), error) {
	if cfg.Store.DatabaseURL != "" {
		pg, err := store.NewPostgresStore(ctx, cfg.Store.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("lead store: %w", err)
		}
		log.Info("lead store", "backend", "postgres")
		return pg, func() { _ = pg.Close() }, nil
	}
	lite, err := store.OpenSQLite(ctx, cfg.Store.SQLitePath)
	if err != nil {
		return nil, nil, fmt.Errorf("lead store: %w", err)
	}
	log.Info("lead store", "backend", "sqlite", "path", cfg.Store.SQLitePath)
	return lite, func() { _ = lite.Close() }, nil
}

func setupQueue(
	ctx context.Context,
	cfg *config.Config,
	id int,
	local *queue.LocalQueue,
	memLedger *ledger.MemoryLedger,
	log *slog.Logger,
) (queue.Consumer, ledger.Ledger, error) {
	if local != nil {
		return local, memLedger, nil
	}
	q, err := newStreams(ctx, cfg, fmt.Sprintf("%s-%d", cfg.Queue.Consumer, id), log)
	if err != nil {
		return nil, nil, err
	}
	return q, ledger.NewRedisLedger(q.Client(), "", 0), nil
}

func newStreams(ctx context.Context, cfg *config.Config, consumer string, log *slog.Logger) (*queue.StreamsQueue, error) {
	q, err := queue.NewStreamsQueue(ctx, queue.StreamsConfig{
		Addr:          cfg.Queue.RedisAddr,
		Password:      cfg.Queue.RedisPassword,
		DB:            cfg.Queue.RedisDB,
		Stream:        cfg.Queue.Stream,
		DLQStream:     cfg.Queue.DLQStream,
		Group:         cfg.Queue.Group,
		Consumer:      consumer,
		Block:         cfg.QueueBlock(),
		ClaimIdle:     cfg.ClaimIdle(),
		DryRunDefault: cfg.Workers.DryRunDefault,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("queue: %w", err)
	}
	return q, nil
}

// sentShare splits today's sends across workers 1..n so the shares add up
// to sent; lower ids take the remainder.
func sentShare(sent, n, id int) int {
	share := sent / n
	if id <= sent%n {
		share++
	}
	return share
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
