package worker

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/outreachbot/internal/audit"
	"github.com/example/outreachbot/internal/detect"
	"github.com/example/outreachbot/internal/ledger"
	"github.com/example/outreachbot/internal/logging"
	"github.com/example/outreachbot/internal/models"
	"github.com/example/outreachbot/internal/outreach"
	"github.com/example/outreachbot/internal/pagetest"
	"github.com/example/outreachbot/internal/queue"
	"github.com/example/outreachbot/internal/store"
)

type fakeExecutor struct {
	mu      sync.Mutex
	calls   int
	status  models.OutcomeStatus
	started chan struct{}
	release chan struct{}
	ctxErr  error
}

func (f *fakeExecutor) Execute(ctx context.Context, job models.OutreachJob, _ outreach.Page) models.Outcome {
	if f.started != nil {
		f.started <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.ctxErr = ctx.Err()
	return models.Outcome{
		JobID:         job.JobID,
		Status:        f.status,
		Note:          "Hi " + job.Name,
		DetectionPath: "primary:connect",
		ProcessedAt:   time.Now().UTC(),
	}
}

func (f *fakeExecutor) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type failingStore struct {
	store.LeadStore
	mu    sync.Mutex
	calls int
}

func (s *failingStore) ApplyOutcome(context.Context, models.LeadUpdate) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return false, errors.New("store unreachable")
}

func (s *failingStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newQueue() *queue.LocalQueue {
	return queue.NewLocalQueue(8, 20*time.Millisecond, 0, true, logging.Discard())
}

func newStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "leads.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testOptions() Options {
	return Options{PersistRetries: 2, PersistBackoff: time.Millisecond, IdleWait: 10 * time.Millisecond}
}

func janeJob(id string, dryRun bool) models.OutreachJob {
	return models.OutreachJob{
		JobID:           id,
		LeadID:          "lead-1",
		Name:            "Jane Doe",
		ProfileURL:      "https://example.com/in/jane",
		MessageTemplate: "Hi {lead_name}",
		DryRun:          dryRun,
	}
}

// runWorker starts w and returns a stop func that waits for Run to return.
func runWorker(t *testing.T, w *Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	return func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("worker did not stop")
		}
	}
}

func TestWorker_AlreadyConnectedEndToEnd(t *testing.T) {
	q := newQueue()
	st := newStore(t)
	sink, err := audit.NewFileSink(t.TempDir())
	require.NoError(t, err)
	log := logging.Discard()
	exec := outreach.New(detect.New(time.Second, log), sink, ledger.NewMemoryLedger(), outreach.Options{
		Pause: func(context.Context, int, int) error { return nil },
	}, log)
	remove := pagetest.Button("Remove connection", "")
	page := pagetest.NewPage(pagetest.Button("Message", ""), remove)

	require.NoError(t, q.Enqueue(context.Background(), janeJob("job-c", false)))
	w := New(1, q, exec, page, st, testOptions(), log)
	stop := runWorker(t, w)
	defer stop()

	require.Eventually(t, func() bool {
		lead, err := st.GetLead(context.Background(), "lead-1")
		return err == nil && lead != nil && q.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond)

	lead, err := st.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionAlreadyConnected, lead.ConnectionStatus)
	assert.NotEmpty(t, lead.ScreenshotRef)
	assert.Equal(t, 0, remove.Clicks())
	assert.Equal(t, 0, page.Submitted())
}

func TestWorker_FailedOutcomeLeavesLeadUntouched(t *testing.T) {
	q := newQueue()
	st := newStore(t)
	_, err := st.ApplyOutcome(context.Background(), models.LeadUpdate{
		LeadID: "lead-1", JobID: "earlier", ProfileURL: "https://example.com/in/jane",
		ConnectionStatus: models.ConnectionSent, UpdatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)

	exec := &fakeExecutor{status: models.StatusFailed}
	require.NoError(t, q.Enqueue(context.Background(), janeJob("job-f", false)))
	stop := runWorker(t, New(1, q, exec, pagetest.NewPage(), st, testOptions(), logging.Discard()))

	require.Eventually(t, func() bool { return exec.Calls() == 1 && q.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)
	stop()

	lead, err := st.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionSent, lead.ConnectionStatus)
}

func TestWorker_PersistFailureLeavesMessageUnacked(t *testing.T) {
	q := newQueue()
	st := &failingStore{}
	exec := &fakeExecutor{status: models.StatusDryRunSuccess}
	require.NoError(t, q.Enqueue(context.Background(), janeJob("job-p", true)))
	stop := runWorker(t, New(1, q, exec, pagetest.NewPage(), st, testOptions(), logging.Discard()))

	require.Eventually(t, func() bool { return st.Calls() == 2 }, 5*time.Second, 10*time.Millisecond)
	stop()

	assert.Equal(t, 1, exec.Calls())
	assert.Equal(t, 1, q.Pending())
}

func TestWorker_DryRunTwiceNeverMarksSent(t *testing.T) {
	q := newQueue()
	st := newStore(t)
	exec := &fakeExecutor{status: models.StatusDryRunSuccess}
	job := janeJob("job-d", true)
	require.NoError(t, q.Enqueue(context.Background(), job))
	require.NoError(t, q.Enqueue(context.Background(), job))
	stop := runWorker(t, New(1, q, exec, pagetest.NewPage(), st, testOptions(), logging.Discard()))

	require.Eventually(t, func() bool { return exec.Calls() == 2 && q.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)
	stop()

	lead, err := st.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionTestRun, lead.ConnectionStatus)
	n, err := st.CountSentSince(context.Background(), time.Time{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorker_StopFinishesInFlightJob(t *testing.T) {
	q := newQueue()
	st := newStore(t)
	exec := &fakeExecutor{
		status:  models.StatusDryRunSuccess,
		started: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	require.NoError(t, q.Enqueue(context.Background(), janeJob("job-s", true)))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	w := New(1, q, exec, pagetest.NewPage(), st, testOptions(), logging.Discard())
	go func() { done <- w.Run(ctx) }()

	<-exec.started
	cancel()
	select {
	case <-done:
		t.Fatal("worker returned before its job finished")
	case <-time.After(50 * time.Millisecond):
	}
	close(exec.release)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not stop")
	}
	assert.NoError(t, exec.ctxErr)
	assert.Equal(t, 0, q.Pending())
	lead, err := st.GetLead(context.Background(), "lead-1")
	require.NoError(t, err)
	assert.Equal(t, models.ConnectionTestRun, lead.ConnectionStatus)
}

func TestWorker_NoSendBudgetReceivesNothing(t *testing.T) {
	q := newQueue()
	exec := &fakeExecutor{status: models.StatusSent}
	opts := testOptions()
	opts.DailyCap = 1
	opts.SentToday = 1

	require.NoError(t, q.Enqueue(context.Background(), janeJob("job-live", false)))
	stop := runWorker(t, New(1, q, exec, pagetest.NewPage(), newStore(t), opts, logging.Discard()))
	time.Sleep(100 * time.Millisecond)
	stop()

	assert.Zero(t, exec.Calls())
	assert.Zero(t, q.Pending(), "message must not be held by a worker without budget")
	assert.Equal(t, 1, q.Queued())
}

func TestWorker_CappedWorkerNeverSharesJobWithAnother(t *testing.T) {
	q := queue.NewLocalQueue(8, 10*time.Millisecond, 40*time.Millisecond, true, logging.Discard())
	st := newStore(t)
	capped := &fakeExecutor{status: models.StatusSent}
	free := &fakeExecutor{status: models.StatusSent}

	opts := testOptions()
	opts.DailyCap = 1
	opts.SentToday = 1
	require.NoError(t, q.Enqueue(context.Background(), janeJob("job-live", false)))

	stopCapped := runWorker(t, New(1, q, capped, pagetest.NewPage(), st, opts, logging.Discard()))
	defer stopCapped()
	time.Sleep(80 * time.Millisecond)
	stopFree := runWorker(t, New(2, q, free, pagetest.NewPage(), st, testOptions(), logging.Discard()))
	defer stopFree()

	require.Eventually(t, func() bool { return free.Calls() == 1 && q.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)

	assert.Zero(t, capped.Calls())
	assert.Equal(t, 1, free.Calls())
}

func TestWorker_SentOutcomeSpendsBudget(t *testing.T) {
	q := newQueue()
	exec := &fakeExecutor{status: models.StatusSent}
	opts := testOptions()
	opts.DailyCap = 1

	first, second := janeJob("job-1", false), janeJob("job-2", false)
	second.LeadID = "lead-2"
	require.NoError(t, q.Enqueue(context.Background(), first))
	require.NoError(t, q.Enqueue(context.Background(), second))
	stop := runWorker(t, New(1, q, exec, pagetest.NewPage(), newStore(t), opts, logging.Discard()))

	require.Eventually(t, func() bool { return exec.Calls() == 1 && q.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)
	time.Sleep(100 * time.Millisecond)
	stop()

	assert.Equal(t, 1, exec.Calls())
	assert.Equal(t, 1, q.Queued())
}

func TestWorker_NoActionOutcomesKeepBudget(t *testing.T) {
	for _, status := range []models.OutcomeStatus{models.StatusAlreadyConnected, models.StatusPending, models.StatusFailed} {
		t.Run(string(status), func(t *testing.T) {
			q := newQueue()
			exec := &fakeExecutor{status: status}
			opts := testOptions()
			opts.DailyCap = 1

			for _, id := range []string{"job-1", "job-2", "job-3"} {
				require.NoError(t, q.Enqueue(context.Background(), janeJob(id, false)))
			}
			stop := runWorker(t, New(1, q, exec, pagetest.NewPage(), newStore(t), opts, logging.Discard()))
			require.Eventually(t, func() bool { return exec.Calls() == 3 }, 5*time.Second, 10*time.Millisecond)
			stop()
		})
	}
}

func TestWorker_DryRunJobsDoNotSpendBudget(t *testing.T) {
	q := newQueue()
	exec := &fakeExecutor{status: models.StatusDryRunSuccess}
	opts := testOptions()
	opts.DailyCap = 1

	require.NoError(t, q.Enqueue(context.Background(), janeJob("job-d1", true)))
	require.NoError(t, q.Enqueue(context.Background(), janeJob("job-d2", true)))
	stop := runWorker(t, New(1, q, exec, pagetest.NewPage(), newStore(t), opts, logging.Discard()))
	require.Eventually(t, func() bool { return exec.Calls() == 2 }, 5*time.Second, 10*time.Millisecond)
	stop()
}

func TestSpendsBudget(t *testing.T) {
	live, dry := janeJob("j", false), janeJob("j", true)
	tests := []struct {
		name string
		job  models.OutreachJob
		out  models.Outcome
		want bool
	}{
		{"sent", live, models.Outcome{Status: models.StatusSent, State: models.StateConnectAvailable}, true},
		{"failed after connect found", live, models.Outcome{Status: models.StatusFailed, State: models.StateConnectAvailable}, true},
		{"failed before detection", live, models.Outcome{Status: models.StatusFailed, State: models.StateNotFound}, false},
		{"pending", live, models.Outcome{Status: models.StatusPending, State: models.StatePending}, false},
		{"already connected", live, models.Outcome{Status: models.StatusAlreadyConnected, State: models.StateAlreadyConnected}, false},
		{"dry run", dry, models.Outcome{Status: models.StatusDryRunSuccess, State: models.StateConnectAvailable}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, spendsBudget(tt.job, tt.out))
		})
	}
}

func TestWorker_OutsideActiveWindowTakesNoJobs(t *testing.T) {
	q := newQueue()
	exec := &fakeExecutor{status: models.StatusDryRunSuccess}
	opts := testOptions()
	opts.ActiveStart, opts.ActiveEnd = "09:00", "17:00"
	opts.Now = func() time.Time { return time.Date(2026, 3, 2, 22, 0, 0, 0, time.UTC) }

	require.NoError(t, q.Enqueue(context.Background(), janeJob("job-w", true)))
	stop := runWorker(t, New(1, q, exec, pagetest.NewPage(), newStore(t), opts, logging.Discard()))
	time.Sleep(100 * time.Millisecond)
	stop()

	assert.Zero(t, exec.Calls())
}
