// Package ingest drives resources through the asynchronous ingestion state
// machine: a worker pool claims pending jobs, runs the enrichment pipeline,
// and retries transient failures with exponential backoff.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"alexandria/internal/core"
	"alexandria/internal/enrich"
	"alexandria/internal/events"
	"alexandria/internal/fetch"
	"alexandria/internal/index"
	"alexandria/internal/logger"
	"alexandria/internal/store"

	"github.com/google/uuid"
)

// BuildPipeline is the enrichment surface the engine drives. Satisfied by
// enrich.Pipeline.
type BuildPipeline interface {
	Fetch(ctx context.Context, source string) (*fetch.Result, string, error)
	Enrich(ctx context.Context, res *core.Resource, fetched *fetch.Result) (*enrich.Outcome, error)
}

// RetryPolicy bounds job-level retries of transient failures.
type RetryPolicy struct {
	MaxAttempts int
	BackoffBase time.Duration
	MaxBackoff  time.Duration
}

// Delay returns the backoff before retry n (1-based attempt just failed):
// base·2^(n−1) plus up to 10% jitter, capped at MaxBackoff.
func (p RetryPolicy) Delay(attempt int) time.Duration {
	delay := p.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= p.MaxBackoff {
			delay = p.MaxBackoff
			break
		}
	}
	if delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	if delay > 0 {
		delay += time.Duration(rand.Int63n(int64(delay)/10 + 1))
	}
	if delay > p.MaxBackoff {
		delay = p.MaxBackoff
	}
	return delay
}

// Options configures the engine.
type Options struct {
	Workers           int
	QueueSize         int
	Retry             RetryPolicy
	IndexWriteTimeout time.Duration
}

// Engine owns the job queue, the worker pool, and the per-fingerprint build
// locks.
type Engine struct {
	store    *store.Store
	indexes  *index.Indexes
	pipeline BuildPipeline
	bus      *events.Bus
	opts     Options

	queue  chan string
	locks  *lockMap
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
	canceled map[string]bool
	timers   map[string]*time.Timer
}

// New creates an engine. Call Start to begin processing.
func New(st *store.Store, indexes *index.Indexes, pipeline BuildPipeline, bus *events.Bus, opts Options) *Engine {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 256
	}
	return &Engine{
		store:    st,
		indexes:  indexes,
		pipeline: pipeline,
		bus:      bus,
		opts:     opts,
		queue:    make(chan string, opts.QueueSize),
		locks:    newLockMap(),
		inflight: make(map[string]context.CancelFunc),
		canceled: make(map[string]bool),
		timers:   make(map[string]*time.Timer),
	}
}

// Start resets orphaned jobs, re-enqueues surviving work, and launches the
// worker pool.
func (e *Engine) Start(ctx context.Context) error {
	e.ctx, e.cancel = context.WithCancel(ctx)

	reset, err := e.store.ResetOrphanedJobs(e.ctx)
	if err != nil {
		return fmt.Errorf("failed to reset orphaned jobs: %w", err)
	}
	if reset > 0 {
		logger.Info("reset orphaned jobs from previous run", "count", reset)
	}

	pending, err := e.store.ListPendingJobs(e.ctx, 0)
	if err != nil {
		return fmt.Errorf("failed to list pending jobs: %w", err)
	}
	for _, id := range pending {
		e.enqueue(id)
	}

	for i := 0; i < e.opts.Workers; i++ {
		e.wg.Add(1)
		go e.worker()
	}
	logger.Info("ingestion engine started", "workers", e.opts.Workers, "resumed_jobs", len(pending))
	return nil
}

// Stop cancels in-flight builds and waits for workers to exit. Interrupted
// jobs return to pending at the next start.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
	}
	e.mu.Lock()
	for _, timer := range e.timers {
		timer.Stop()
	}
	e.mu.Unlock()
	e.wg.Wait()
}

// Submit registers a URL for ingestion. When the normalized source already
// exists the existing resource is returned with created=false and no new
// job is queued.
func (e *Engine) Submit(ctx context.Context, rawURL string) (*core.Resource, bool, error) {
	source, err := core.NormalizeURL(rawURL)
	if err != nil {
		return nil, false, err
	}

	if existing, err := e.store.GetResourceBySource(ctx, source); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, core.ErrNotFound) {
		return nil, false, err
	}

	now := time.Now().UTC()
	res := &core.Resource{
		ID:              uuid.NewString(),
		Source:          source,
		IngestionStatus: core.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err := e.store.PutResource(ctx, res); err != nil {
		// Lost a submission race: return the winner.
		if errors.Is(err, core.ErrConflict) {
			if existing, getErr := e.store.GetResourceBySource(ctx, source); getErr == nil {
				return existing, false, nil
			}
		}
		return nil, false, err
	}
	if err := e.store.CreateJob(ctx, &core.IngestionJob{
		ResourceID: res.ID,
		State:      core.StatusPending,
		CreatedAt:  now,
	}); err != nil && !errors.Is(err, core.ErrConflict) {
		return nil, false, err
	}

	e.bus.Publish(core.EventResourceCreated, res.ID)
	e.enqueue(res.ID)
	return res, true, nil
}

// Cancel aborts the build for a resource. A processing job is interrupted
// and returns to pending with its attempt count rolled back; a pending job
// with a scheduled retry keeps waiting. Completed and failed jobs cannot be
// canceled.
func (e *Engine) Cancel(ctx context.Context, resourceID string) error {
	job, err := e.store.GetJob(ctx, resourceID)
	if err != nil {
		return err
	}
	switch job.State {
	case core.StatusProcessing:
		e.mu.Lock()
		cancelBuild, ok := e.inflight[resourceID]
		if ok {
			e.canceled[resourceID] = true
		}
		e.mu.Unlock()
		if ok {
			cancelBuild()
			return nil
		}
		// Processing in the store but not in flight here: orphaned row.
		return e.store.ReleaseJob(ctx, resourceID, false, "canceled")
	case core.StatusPending:
		return nil
	default:
		return fmt.Errorf("%w: job for resource %s is %s", core.ErrConflict, resourceID, job.State)
	}
}

// Delete removes a resource and its index entries, returning the IDs of
// collections whose aggregate embeddings now need recomputation.
func (e *Engine) Delete(ctx context.Context, resourceID string) ([]string, error) {
	affected, err := e.store.DeleteResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	e.indexes.Remove(resourceID)
	e.bus.Publish(core.EventResourceDeleted, resourceID)
	return affected, nil
}

func (e *Engine) enqueue(resourceID string) {
	select {
	case e.queue <- resourceID:
	default:
		// Queue full. The job row stays pending and is picked up at the
		// next start; log so the backpressure is visible.
		logger.Warn("ingestion queue full, job deferred", "resource_id", resourceID)
	}
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case resourceID := <-e.queue:
			e.process(resourceID)
		}
	}
}

func (e *Engine) process(resourceID string) {
	attempt, err := e.store.ClaimJob(e.ctx, resourceID)
	if err != nil {
		// Not pending anymore: canceled, completed, or claimed elsewhere.
		if !errors.Is(err, core.ErrConflict) {
			logger.Error("failed to claim job", err, "resource_id", resourceID)
		}
		return
	}

	buildCtx, cancelBuild := context.WithCancel(e.ctx)
	e.mu.Lock()
	e.inflight[resourceID] = cancelBuild
	delete(e.canceled, resourceID)
	e.mu.Unlock()
	defer func() {
		cancelBuild()
		e.mu.Lock()
		delete(e.inflight, resourceID)
		e.mu.Unlock()
	}()

	res, err := e.store.GetResource(e.ctx, resourceID)
	if err != nil {
		logger.Error("claimed job has no resource", err, "resource_id", resourceID)
		_ = e.store.CompleteJob(e.ctx, resourceID, core.StatusFailed, "resource missing")
		return
	}

	res.IngestionStatus = core.StatusProcessing
	if err := e.store.UpdateResource(e.ctx, res); err != nil {
		e.fail(res, attempt, err)
		return
	}

	if err := e.build(buildCtx, res, attempt); err != nil {
		e.fail(res, attempt, err)
	}
}

// build runs fetch, dedup, enrichment, indexing, and persistence for one
// claimed job.
func (e *Engine) build(ctx context.Context, res *core.Resource, attempt int) error {
	fetched, fingerprint, err := e.pipeline.Fetch(ctx, res.Source)
	if err != nil {
		return err
	}
	res.ContentFingerprint = fingerprint

	// At most one build runs per content fingerprint.
	if err := e.locks.Acquire(ctx, fingerprint); err != nil {
		return err
	}
	defer e.locks.Release(fingerprint)

	var outcome *enrich.Outcome
	existing, err := e.store.GetResourceByFingerprint(ctx, fingerprint)
	if err != nil && !errors.Is(err, core.ErrNotFound) {
		return err
	}
	if existing != nil && existing.ID != res.ID && existing.IngestionStatus == core.StatusCompleted {
		// Same content already built under another source: reuse its
		// enrichment outputs instead of rebuilding.
		copyEnrichment(res, existing)
		outcome = &enrich.Outcome{}
		logger.Info("deduplicated build by content fingerprint",
			"resource_id", res.ID, "canonical_resource_id", existing.ID)
	} else {
		outcome, err = e.pipeline.Enrich(ctx, res, fetched)
		if err != nil {
			return err
		}
	}

	indexCtx, cancel := context.WithTimeout(ctx, e.opts.IndexWriteTimeout)
	err = e.indexes.Index(indexCtx, index.Entry{
		ResourceID: res.ID,
		Text: &index.TextBundle{
			Title:       res.Title,
			Description: res.Description,
			Text:        res.ExtractedText,
		},
		Dense:  res.Embedding,
		Sparse: res.SparseEmbedding,
	})
	cancel()
	if err != nil {
		return core.Transientf("index write failed: %v", err)
	}

	res.IngestionStatus = core.StatusCompleted
	if err := e.store.UpdateResource(ctx, res); err != nil {
		return err
	}
	if len(outcome.Citations) > 0 {
		if err := e.store.ReplaceCitations(ctx, res.ID, outcome.Citations); err != nil {
			return err
		}
		if _, err := e.store.ResolveCitationTargets(ctx); err != nil {
			return err
		}
	}
	if err := e.store.CompleteJob(ctx, res.ID, core.StatusCompleted, ""); err != nil {
		return err
	}

	e.bus.Publish(core.EventResourceCompleted, res.ID)
	if res.QualityOverall != nil {
		e.bus.Publish(core.EventResourceQualityComputed, res.ID, "quality_overall")
	}
	if len(outcome.Degraded) > 0 {
		logger.Info("resource completed with degraded stages",
			"resource_id", res.ID, "attempt", attempt, "degraded", outcome.Degraded)
	}
	return nil
}

// fail routes a build error: cancellation rolls back to pending discarding
// the attempt, transient errors schedule a retry while attempts remain, and
// everything else is terminal.
func (e *Engine) fail(res *core.Resource, attempt int, buildErr error) {
	// Engine shutdown: leave the job in processing, the next start resets
	// it to pending.
	if e.ctx.Err() != nil {
		return
	}

	e.mu.Lock()
	wasCanceled := e.canceled[res.ID]
	delete(e.canceled, res.ID)
	e.mu.Unlock()

	if wasCanceled {
		logger.Info("build canceled", "resource_id", res.ID)
		_ = e.store.ReleaseJob(e.ctx, res.ID, false, "canceled")
		e.setStatus(res, core.StatusPending)
		return
	}

	if core.IsRetryable(buildErr) && attempt < e.opts.Retry.MaxAttempts {
		delay := e.opts.Retry.Delay(attempt)
		logger.Warn("build failed, scheduling retry",
			"resource_id", res.ID, "attempt", attempt, "delay", delay.String(), "error", buildErr.Error())
		_ = e.store.ReleaseJob(e.ctx, res.ID, true, buildErr.Error())
		e.setStatus(res, core.StatusPending)

		e.mu.Lock()
		e.timers[res.ID] = time.AfterFunc(delay, func() {
			e.mu.Lock()
			delete(e.timers, res.ID)
			e.mu.Unlock()
			if e.ctx.Err() == nil {
				e.enqueue(res.ID)
			}
		})
		e.mu.Unlock()
		return
	}

	logger.Error("build failed terminally", buildErr, "resource_id", res.ID, "attempt", attempt)
	_ = e.store.CompleteJob(e.ctx, res.ID, core.StatusFailed, buildErr.Error())
	e.setStatus(res, core.StatusFailed)
	e.bus.Publish(core.EventResourceFailed, res.ID)
}

func (e *Engine) setStatus(res *core.Resource, status core.IngestionStatus) {
	res.IngestionStatus = status
	if err := e.store.UpdateResource(e.ctx, res); err != nil {
		logger.Error("failed to update resource status", err,
			"resource_id", res.ID, "status", string(status))
	}
}

// copyEnrichment clones the enrichment outputs of the canonical resource
// onto a duplicate-content resource.
func copyEnrichment(dst, src *core.Resource) {
	dst.Title = src.Title
	dst.Description = src.Description
	dst.Creator = src.Creator
	dst.Publisher = src.Publisher
	dst.Language = src.Language
	dst.Type = src.Type
	dst.Subject = append([]string(nil), src.Subject...)
	dst.ClassificationCode = src.ClassificationCode
	dst.Embedding = append([]float64(nil), src.Embedding...)
	dst.EmbeddingFailed = src.EmbeddingFailed
	if src.SparseEmbedding != nil {
		dst.SparseEmbedding = make(core.SparseVector, len(src.SparseEmbedding))
		for k, v := range src.SparseEmbedding {
			dst.SparseEmbedding[k] = v
		}
		dst.SparseEmbeddingModel = src.SparseEmbeddingModel
		dst.SparseEmbeddingUpdated = src.SparseEmbeddingUpdated
	}
	dst.ArchivePath = src.ArchivePath
	dst.ExtractedText = src.ExtractedText
	dst.QualityOverall = src.QualityOverall
	dst.QualityAccuracy = src.QualityAccuracy
	dst.QualityCompleteness = src.QualityCompleteness
	dst.QualityConsistency = src.QualityConsistency
	dst.QualityTimeliness = src.QualityTimeliness
	dst.QualityRelevance = src.QualityRelevance
	dst.QualityLastComputed = src.QualityLastComputed
	dst.QualityVersion = src.QualityVersion
	dst.NeedsReview = src.NeedsReview
}
