package ingest

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"alexandria/internal/core"
	"alexandria/internal/enrich"
	"alexandria/internal/events"
	"alexandria/internal/fetch"
	"alexandria/internal/index"
	"alexandria/internal/store"
)

// stubPipeline is a scriptable BuildPipeline.
type stubPipeline struct {
	mu            sync.Mutex
	fetchErrs     []error // consumed one per Fetch call
	fetchCalls    int
	fingerprint   string // fixed fingerprint when set
	enrichDelay   time.Duration
	enrichErr     error
	concurrent    int
	maxConcurrent int
}

func (s *stubPipeline) Fetch(ctx context.Context, source string) (*fetch.Result, string, error) {
	s.mu.Lock()
	s.fetchCalls++
	var err error
	if len(s.fetchErrs) > 0 {
		err = s.fetchErrs[0]
		s.fetchErrs = s.fetchErrs[1:]
	}
	s.mu.Unlock()
	if err != nil {
		return nil, "", err
	}
	body := []byte("<html><body><p>content</p></body></html>")
	fp := s.fingerprint
	if fp == "" {
		fp = core.Fingerprint(source, body)
	}
	return &fetch.Result{Body: body, ContentType: "text/html"}, fp, nil
}

func (s *stubPipeline) Enrich(ctx context.Context, res *core.Resource, fetched *fetch.Result) (*enrich.Outcome, error) {
	s.mu.Lock()
	s.concurrent++
	if s.concurrent > s.maxConcurrent {
		s.maxConcurrent = s.concurrent
	}
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.concurrent--
		s.mu.Unlock()
	}()

	if s.enrichDelay > 0 {
		select {
		case <-time.After(s.enrichDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.enrichErr != nil {
		return nil, s.enrichErr
	}

	res.Title = "Stub Title"
	res.Description = "stub summary"
	res.ExtractedText = "content"
	res.Embedding = []float64{1, 0}
	res.SparseEmbedding = core.SparseVector{1: 1}
	return &enrich.Outcome{}, nil
}

type testEngine struct {
	engine   *Engine
	store    *store.Store
	indexes  *index.Indexes
	pipeline *stubPipeline
	events   chan core.Event
}

func newTestEngine(t *testing.T, pipeline *stubPipeline, opts Options) *testEngine {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	if opts.Workers == 0 {
		opts.Workers = 2
	}
	if opts.Retry.MaxAttempts == 0 {
		opts.Retry = RetryPolicy{MaxAttempts: 3, BackoffBase: 5 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}
	}
	if opts.IndexWriteTimeout == 0 {
		opts.IndexWriteTimeout = time.Second
	}

	bus := events.NewBus()
	t.Cleanup(bus.Close)
	eventCh := make(chan core.Event, 64)
	bus.Subscribe(func(event core.Event) { eventCh <- event })

	indexes := index.New(2, nil)
	engine := New(st, indexes, pipeline, bus, opts)
	return &testEngine{engine: engine, store: st, indexes: indexes, pipeline: pipeline, events: eventCh}
}

func (te *testEngine) start(t *testing.T) {
	t.Helper()
	if err := te.engine.Start(context.Background()); err != nil {
		t.Fatalf("engine start failed: %v", err)
	}
	t.Cleanup(te.engine.Stop)
}

func (te *testEngine) waitEvent(t *testing.T, eventType core.EventType, resourceID string) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case event := <-te.events:
			if event.Type == eventType && event.ResourceID == resourceID {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %s on %s", eventType, resourceID)
		}
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSubmitCreatesPendingResourceAndJob(t *testing.T) {
	te := newTestEngine(t, &stubPipeline{}, Options{})
	ctx := context.Background()

	res, created, err := te.engine.Submit(ctx, "https://Example.com/Doc#frag")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	if !created {
		t.Fatal("expected created=true for first submission")
	}
	if res.Source != "https://example.com/Doc" {
		t.Errorf("source not normalized: %q", res.Source)
	}
	if res.IngestionStatus != core.StatusPending {
		t.Errorf("expected pending, got %s", res.IngestionStatus)
	}

	job, err := te.store.GetJob(ctx, res.ID)
	if err != nil {
		t.Fatalf("job missing: %v", err)
	}
	if job.State != core.StatusPending || job.AttemptCount != 0 {
		t.Errorf("unexpected job state %s attempts %d", job.State, job.AttemptCount)
	}

	again, created, err := te.engine.Submit(ctx, "https://example.com/Doc")
	if err != nil {
		t.Fatalf("duplicate submit failed: %v", err)
	}
	if created || again.ID != res.ID {
		t.Errorf("duplicate submission should return existing resource, created=%v id=%s", created, again.ID)
	}
}

func TestSubmitRejectsInvalidURL(t *testing.T) {
	te := newTestEngine(t, &stubPipeline{}, Options{})
	if _, _, err := te.engine.Submit(context.Background(), "ftp://example.com/x"); !errors.Is(err, core.ErrValidation) {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestBuildCompletesResource(t *testing.T) {
	te := newTestEngine(t, &stubPipeline{}, Options{})
	te.start(t)

	res, _, err := te.engine.Submit(context.Background(), "https://example.com/a")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	te.waitEvent(t, core.EventResourceCompleted, res.ID)

	got, err := te.store.GetResource(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.IngestionStatus != core.StatusCompleted {
		t.Errorf("expected completed, got %s", got.IngestionStatus)
	}
	if got.Title != "Stub Title" || got.ContentFingerprint == "" {
		t.Errorf("enrichment outputs not persisted: %+v", got)
	}

	job, err := te.store.GetJob(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("job missing: %v", err)
	}
	if job.State != core.StatusCompleted || job.AttemptCount != 1 {
		t.Errorf("unexpected job state %s attempts %d", job.State, job.AttemptCount)
	}

	if hits := te.indexes.Text.Search("stub", 10, nil); len(hits) != 1 || hits[0].ResourceID != res.ID {
		t.Errorf("resource not searchable after completion: %v", hits)
	}
}

func TestTransientFailureRetriesThenSucceeds(t *testing.T) {
	pipeline := &stubPipeline{fetchErrs: []error{core.Transientf("upstream 503")}}
	te := newTestEngine(t, pipeline, Options{})
	te.start(t)

	res, _, err := te.engine.Submit(context.Background(), "https://example.com/flaky")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	te.waitEvent(t, core.EventResourceCompleted, res.ID)

	job, err := te.store.GetJob(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("job missing: %v", err)
	}
	if job.AttemptCount != 2 {
		t.Errorf("expected 2 attempts after one retry, got %d", job.AttemptCount)
	}
}

func TestFatalFailureDoesNotRetry(t *testing.T) {
	pipeline := &stubPipeline{fetchErrs: []error{core.Fatalf("404"), core.Fatalf("404"), core.Fatalf("404")}}
	te := newTestEngine(t, pipeline, Options{})
	te.start(t)

	res, _, err := te.engine.Submit(context.Background(), "https://example.com/gone")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	te.waitEvent(t, core.EventResourceFailed, res.ID)

	job, err := te.store.GetJob(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("job missing: %v", err)
	}
	if job.State != core.StatusFailed || job.AttemptCount != 1 {
		t.Errorf("fatal errors must fail on first attempt, got state %s attempts %d", job.State, job.AttemptCount)
	}

	got, _ := te.store.GetResource(context.Background(), res.ID)
	if got.IngestionStatus != core.StatusFailed {
		t.Errorf("resource should be failed, got %s", got.IngestionStatus)
	}
}

func TestTransientFailuresExhaustAttempts(t *testing.T) {
	pipeline := &stubPipeline{fetchErrs: []error{
		core.Transientf("down"), core.Transientf("down"), core.Transientf("down"), core.Transientf("down"),
	}}
	te := newTestEngine(t, pipeline, Options{
		Retry: RetryPolicy{MaxAttempts: 2, BackoffBase: 5 * time.Millisecond, MaxBackoff: 20 * time.Millisecond},
	})
	te.start(t)

	res, _, err := te.engine.Submit(context.Background(), "https://example.com/dead")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	te.waitEvent(t, core.EventResourceFailed, res.ID)

	job, err := te.store.GetJob(context.Background(), res.ID)
	if err != nil {
		t.Fatalf("job missing: %v", err)
	}
	if job.AttemptCount != 2 {
		t.Errorf("expected attempts to stop at the cap, got %d", job.AttemptCount)
	}
	if !strings.Contains(job.LastError, "down") {
		t.Errorf("last error not recorded: %q", job.LastError)
	}
}

func TestFingerprintLockSerializesSameContent(t *testing.T) {
	pipeline := &stubPipeline{
		fingerprint: strings.Repeat("ff", 32),
		enrichDelay: 50 * time.Millisecond,
	}
	te := newTestEngine(t, pipeline, Options{Workers: 4})
	te.start(t)

	a, _, err := te.engine.Submit(context.Background(), "https://example.com/mirror-a")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	b, _, err := te.engine.Submit(context.Background(), "https://example.com/mirror-b")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	te.waitEvent(t, core.EventResourceCompleted, a.ID)
	te.waitEvent(t, core.EventResourceCompleted, b.ID)

	pipeline.mu.Lock()
	defer pipeline.mu.Unlock()
	if pipeline.maxConcurrent > 1 {
		t.Errorf("builds with equal fingerprint overlapped: max concurrency %d", pipeline.maxConcurrent)
	}
}

func TestCancelRollsBackToPending(t *testing.T) {
	pipeline := &stubPipeline{enrichDelay: 5 * time.Second}
	te := newTestEngine(t, pipeline, Options{Workers: 1})
	te.start(t)

	ctx := context.Background()
	res, _, err := te.engine.Submit(ctx, "https://example.com/slow")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	waitFor(t, "job to reach processing", func() bool {
		job, err := te.store.GetJob(ctx, res.ID)
		return err == nil && job.State == core.StatusProcessing
	})

	if err := te.engine.Cancel(ctx, res.ID); err != nil {
		t.Fatalf("cancel failed: %v", err)
	}

	waitFor(t, "job back to pending", func() bool {
		job, err := te.store.GetJob(ctx, res.ID)
		return err == nil && job.State == core.StatusPending
	})

	job, _ := te.store.GetJob(ctx, res.ID)
	if job.AttemptCount != 0 {
		t.Errorf("cancellation must discard the attempt, got %d", job.AttemptCount)
	}
	got, _ := te.store.GetResource(ctx, res.ID)
	if got.IngestionStatus != core.StatusPending {
		t.Errorf("resource should roll back to pending, got %s", got.IngestionStatus)
	}
}

func TestCancelCompletedJobConflicts(t *testing.T) {
	te := newTestEngine(t, &stubPipeline{}, Options{})
	te.start(t)

	res, _, err := te.engine.Submit(context.Background(), "https://example.com/done")
	if err != nil {
		t.Fatalf("submit failed: %v", err)
	}
	te.waitEvent(t, core.EventResourceCompleted, res.ID)

	if err := te.engine.Cancel(context.Background(), res.ID); !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected conflict canceling a completed job, got %v", err)
	}
}

func TestRetryPolicyDelay(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BackoffBase: 500 * time.Millisecond, MaxBackoff: 30 * time.Second}
	cases := []struct {
		attempt  int
		min, max time.Duration
	}{
		{1, 500 * time.Millisecond, 550 * time.Millisecond},
		{2, time.Second, 1100 * time.Millisecond},
		{3, 2 * time.Second, 2200 * time.Millisecond},
		{10, 30 * time.Second, 30 * time.Second}, // cap clamps the jitter too
	}
	for _, tc := range cases {
		for i := 0; i < 20; i++ {
			got := policy.Delay(tc.attempt)
			if got < tc.min || got > tc.max {
				t.Fatalf("attempt %d: delay %s outside [%s, %s]", tc.attempt, got, tc.min, tc.max)
			}
		}
	}
}
