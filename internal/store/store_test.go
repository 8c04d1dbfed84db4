package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"alexandria/internal/core"

	"github.com/google/uuid"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestResource(source string) *core.Resource {
	now := time.Now().UTC().Truncate(time.Millisecond)
	return &core.Resource{
		ID:              uuid.NewString(),
		Source:          source,
		Title:           "Test Resource",
		Subject:         []string{"networks", "protocols"},
		IngestionStatus: core.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

func TestResourceRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestResource("https://example.com/a")
	r.Embedding = []float64{0.1, 0.2, 0.3}
	r.SparseEmbedding = core.SparseVector{7: 0.5, 42: 1.25}

	if err := s.PutResource(ctx, r); err != nil {
		t.Fatalf("failed to put resource: %v", err)
	}

	got, err := s.GetResource(ctx, r.ID)
	if err != nil {
		t.Fatalf("failed to get resource: %v", err)
	}
	if got.Source != r.Source || got.Title != r.Title {
		t.Errorf("resource fields mismatch: got %+v", got)
	}
	if len(got.Embedding) != 3 || got.Embedding[1] != 0.2 {
		t.Errorf("embedding mismatch: %v", got.Embedding)
	}
	if got.SparseEmbedding[42] != 1.25 {
		t.Errorf("sparse embedding mismatch: %v", got.SparseEmbedding)
	}
	if len(got.Subject) != 2 {
		t.Errorf("subject mismatch: %v", got.Subject)
	}
}

func TestResourceDuplicateSourceConflict(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.PutResource(ctx, newTestResource("https://example.com/a")); err != nil {
		t.Fatalf("first put failed: %v", err)
	}
	err := s.PutResource(ctx, newTestResource("https://example.com/a"))
	if !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected ErrConflict on duplicate source, got %v", err)
	}
}

func TestResourceNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetResource(context.Background(), "missing")
	if !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateResourceOptimisticConcurrency(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestResource("https://example.com/a")
	if err := s.PutResource(ctx, r); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	stale := *r
	r.Title = "first writer"
	if err := s.UpdateResource(ctx, r); err != nil {
		t.Fatalf("first update failed: %v", err)
	}

	stale.Title = "second writer"
	err := s.UpdateResource(ctx, &stale)
	if !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected ErrConflict for stale update, got %v", err)
	}
}

func TestListResourcesSubjectFilters(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTestResource("https://example.com/a")
	a.Subject = []string{"go", "networks"}
	b := newTestResource("https://example.com/b")
	b.Subject = []string{"go", "databases"}
	c := newTestResource("https://example.com/c")
	c.Subject = []string{"history"}

	for _, r := range []*core.Resource{a, b, c} {
		if err := s.PutResource(ctx, r); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	anyGo, err := s.ListResources(ctx, ListOptions{SubjectAny: []string{"go"}})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(anyGo) != 2 {
		t.Errorf("subject-any expected 2 resources, got %d", len(anyGo))
	}

	all, err := s.ListResources(ctx, ListOptions{SubjectAll: []string{"go", "databases"}})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(all) != 1 || all[0].ID != b.ID {
		t.Errorf("subject-all expected only resource b, got %d results", len(all))
	}
}

func TestListResourcesClassificationPrefix(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	a := newTestResource("https://example.com/a")
	a.ClassificationCode = "004.6"
	b := newTestResource("https://example.com/b")
	b.ClassificationCode = "004.7"
	c := newTestResource("https://example.com/c")
	c.ClassificationCode = "510"

	for _, r := range []*core.Resource{a, b, c} {
		if err := s.PutResource(ctx, r); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	got, err := s.ListResources(ctx, ListOptions{ClassificationPrefix: "004"})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("expected 2 resources under 004, got %d", len(got))
	}
}

func TestDeleteResourceCascades(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestResource("https://example.com/a")
	target := newTestResource("https://example.com/b")
	for _, res := range []*core.Resource{r, target} {
		if err := s.PutResource(ctx, res); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	citation := &core.Citation{
		ID:               uuid.NewString(),
		SourceResourceID: r.ID,
		TargetResourceID: target.ID,
		TargetURL:        target.Source,
		CitationType:     core.CitationReference,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.UpsertCitation(ctx, citation); err != nil {
		t.Fatalf("upsert citation failed: %v", err)
	}

	annotation := &core.Annotation{
		ID:          uuid.NewString(),
		ResourceID:  r.ID,
		OwnerID:     "user-1",
		StartOffset: 0,
		EndOffset:   5,
		Color:       "#ffcc00",
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := s.PutAnnotation(ctx, annotation); err != nil {
		t.Fatalf("put annotation failed: %v", err)
	}

	col := &core.Collection{
		ID: uuid.NewString(), Name: "reading list",
		Visibility: core.VisibilityPrivate,
		CreatedAt:  time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.PutCollection(ctx, col); err != nil {
		t.Fatalf("put collection failed: %v", err)
	}
	if err := s.AddResourcesToCollection(ctx, col.ID, []string{r.ID}); err != nil {
		t.Fatalf("add to collection failed: %v", err)
	}

	touched, err := s.DeleteResource(ctx, r.ID)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if len(touched) != 1 || touched[0] != col.ID {
		t.Errorf("expected affected collection %s, got %v", col.ID, touched)
	}

	if citations, _ := s.ListCitations(ctx, r.ID, CitationsOutbound); len(citations) != 0 {
		t.Errorf("expected no citations after cascade, got %d", len(citations))
	}
	if annotations, _ := s.ListAnnotationsByResource(ctx, r.ID); len(annotations) != 0 {
		t.Errorf("expected no annotations after cascade, got %d", len(annotations))
	}
	if members, _ := s.ListCollectionMembers(ctx, col.ID); len(members) != 0 {
		t.Errorf("expected no memberships after cascade, got %d", len(members))
	}
}

func TestDeleteTargetSetsCitationNull(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := newTestResource("https://example.com/src")
	target := newTestResource("https://example.com/target")
	for _, res := range []*core.Resource{src, target} {
		if err := s.PutResource(ctx, res); err != nil {
			t.Fatalf("put failed: %v", err)
		}
	}

	citation := &core.Citation{
		ID:               uuid.NewString(),
		SourceResourceID: src.ID,
		TargetResourceID: target.ID,
		TargetURL:        target.Source,
		CitationType:     core.CitationReference,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.UpsertCitation(ctx, citation); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	if _, err := s.DeleteResource(ctx, target.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}

	citations, err := s.ListCitations(ctx, src.ID, CitationsOutbound)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(citations) != 1 {
		t.Fatalf("expected citation to survive target deletion, got %d rows", len(citations))
	}
	if citations[0].TargetResourceID != "" {
		t.Errorf("expected unresolved target after deletion, got %q", citations[0].TargetResourceID)
	}
}

func TestResolveCitationTargets(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	src := newTestResource("https://example.com/src")
	if err := s.PutResource(ctx, src); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	citation := &core.Citation{
		ID:               uuid.NewString(),
		SourceResourceID: src.ID,
		TargetURL:        "https://example.com/later",
		CitationType:     core.CitationGeneral,
		CreatedAt:        time.Now().UTC(),
	}
	if err := s.UpsertCitation(ctx, citation); err != nil {
		t.Fatalf("upsert failed: %v", err)
	}

	resolved, err := s.ResolveCitationTargets(ctx)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved != 0 {
		t.Errorf("expected 0 resolved before target exists, got %d", resolved)
	}

	target := newTestResource("https://example.com/later")
	if err := s.PutResource(ctx, target); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	resolved, err = s.ResolveCitationTargets(ctx)
	if err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if resolved != 1 {
		t.Errorf("expected 1 citation resolved, got %d", resolved)
	}

	citations, _ := s.ListCitations(ctx, src.ID, CitationsOutbound)
	if citations[0].TargetResourceID != target.ID {
		t.Errorf("expected resolved target %s, got %q", target.ID, citations[0].TargetResourceID)
	}
}

func TestJobClaimLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestResource("https://example.com/a")
	if err := s.PutResource(ctx, r); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	job := &core.IngestionJob{
		ResourceID: r.ID,
		State:      core.StatusPending,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job failed: %v", err)
	}

	attempts, err := s.ClaimJob(ctx, r.ID)
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected attempt 1, got %d", attempts)
	}

	// A second claim while processing must fail.
	if _, err := s.ClaimJob(ctx, r.ID); !errors.Is(err, core.ErrConflict) {
		t.Errorf("expected ErrConflict on double claim, got %v", err)
	}

	// Cancellation releases without keeping the attempt.
	if err := s.ReleaseJob(ctx, r.ID, false, ""); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	got, err := s.GetJob(ctx, r.ID)
	if err != nil {
		t.Fatalf("get job failed: %v", err)
	}
	if got.State != core.StatusPending || got.AttemptCount != 0 {
		t.Errorf("expected pending/0 after cancel release, got %s/%d", got.State, got.AttemptCount)
	}

	// Retry release keeps the attempt.
	if _, err := s.ClaimJob(ctx, r.ID); err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if err := s.ReleaseJob(ctx, r.ID, true, "summarizer 503"); err != nil {
		t.Fatalf("release failed: %v", err)
	}
	got, _ = s.GetJob(ctx, r.ID)
	if got.AttemptCount != 1 || got.LastError != "summarizer 503" {
		t.Errorf("expected attempt 1 with last error, got %d %q", got.AttemptCount, got.LastError)
	}

	if _, err := s.ClaimJob(ctx, r.ID); err != nil {
		t.Fatalf("reclaim failed: %v", err)
	}
	if err := s.CompleteJob(ctx, r.ID, core.StatusCompleted, ""); err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	got, _ = s.GetJob(ctx, r.ID)
	if got.State != core.StatusCompleted || got.CompletedAt == nil {
		t.Errorf("expected terminal completed state, got %+v", got)
	}
}

func TestCollectionCycleRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	parent := &core.Collection{
		ID: "parent", Name: "parent", Visibility: core.VisibilityPrivate,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.PutCollection(ctx, parent); err != nil {
		t.Fatalf("put parent failed: %v", err)
	}

	child := &core.Collection{
		ID: "child", Name: "child", ParentID: "parent", Visibility: core.VisibilityPrivate,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.PutCollection(ctx, child); err != nil {
		t.Fatalf("put child failed: %v", err)
	}

	// parent -> child -> parent would be a cycle.
	cyclic := &core.Collection{
		ID: "parent", Name: "again", ParentID: "child", Visibility: core.VisibilityPrivate,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	if err := s.PutCollection(ctx, cyclic); !errors.Is(err, core.ErrValidation) {
		t.Errorf("expected validation error for cycle, got %v", err)
	}
}

func TestResetOrphanedJobs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := newTestResource("https://example.com/a")
	if err := s.PutResource(ctx, r); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if err := s.CreateJob(ctx, &core.IngestionJob{
		ResourceID: r.ID, State: core.StatusPending, CreatedAt: time.Now().UTC(),
	}); err != nil {
		t.Fatalf("create job failed: %v", err)
	}
	if _, err := s.ClaimJob(ctx, r.ID); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	reset, err := s.ResetOrphanedJobs(ctx)
	if err != nil {
		t.Fatalf("reset failed: %v", err)
	}
	if reset != 1 {
		t.Errorf("expected 1 orphaned job reset, got %d", reset)
	}
}
