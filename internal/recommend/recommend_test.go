package recommend

import (
	"context"
	"testing"
	"time"

	"alexandria/internal/core"
	"alexandria/internal/index"
	"alexandria/internal/store"

	"github.com/google/uuid"
)

func setup(t *testing.T) (*Recommender, *store.Store, *index.Indexes) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	indexes := index.New(2, nil)
	return New(st, indexes), st, indexes
}

func seedResource(t *testing.T, st *store.Store, indexes *index.Indexes, id string, embedding []float64) {
	t.Helper()
	ctx := context.Background()
	res := &core.Resource{
		ID:              id,
		Source:          "https://example.com/" + id,
		Title:           id,
		IngestionStatus: core.StatusCompleted,
		Embedding:       embedding,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := st.PutResource(ctx, res); err != nil {
		t.Fatalf("seed resource %s: %v", id, err)
	}
	if err := indexes.Index(ctx, index.Entry{ResourceID: id, Dense: embedding}); err != nil {
		t.Fatalf("index resource %s: %v", id, err)
	}
}

func annotate(t *testing.T, st *store.Store, ownerID, resourceID string) {
	t.Helper()
	a := &core.Annotation{
		ID:          uuid.NewString(),
		ResourceID:  resourceID,
		OwnerID:     ownerID,
		StartOffset: 0,
		EndOffset:   1,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := st.PutAnnotation(context.Background(), a); err != nil {
		t.Fatalf("seed annotation: %v", err)
	}
}

func TestForOwnerExcludesAnnotatedResources(t *testing.T) {
	rec, st, indexes := setup(t)
	ctx := context.Background()

	seedResource(t, st, indexes, "read", []float64{1, 0})
	seedResource(t, st, indexes, "similar", []float64{0.95, 0.31})
	seedResource(t, st, indexes, "unrelated", []float64{0, 1})
	annotate(t, st, "u1", "read")

	recs, err := rec.ForOwner(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(recs) == 0 {
		t.Fatal("expected recommendations")
	}
	for _, r := range recs {
		if r.Resource.ID == "read" {
			t.Error("annotated resource must not be recommended back")
		}
	}
	if recs[0].Resource.ID != "similar" {
		t.Errorf("expected the similar resource first, got %s", recs[0].Resource.ID)
	}
	if recs[0].Score <= 0 {
		t.Errorf("recommendation score should be positive, got %f", recs[0].Score)
	}
}

func TestForOwnerWithoutHistory(t *testing.T) {
	rec, st, indexes := setup(t)

	seedResource(t, st, indexes, "a", []float64{1, 0})
	recs, err := rec.ForOwner(context.Background(), "stranger", 5)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("no history should mean no recommendations, got %d", len(recs))
	}
}

func TestForCollectionExcludesMembers(t *testing.T) {
	rec, st, indexes := setup(t)
	ctx := context.Background()

	seedResource(t, st, indexes, "member", []float64{1, 0})
	seedResource(t, st, indexes, "candidate", []float64{0.97, 0.24})

	coll := &core.Collection{
		ID:        uuid.NewString(),
		Name:      "go reading",
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := st.PutCollection(ctx, coll); err != nil {
		t.Fatalf("seed collection: %v", err)
	}
	if err := st.AddResourcesToCollection(ctx, coll.ID, []string{"member"}); err != nil {
		t.Fatalf("add member: %v", err)
	}

	recs, err := rec.ForCollection(ctx, coll.ID, 5)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Resource.ID != "candidate" {
		t.Fatalf("expected only the non-member candidate, got %+v", recs)
	}
}

func TestForCollectionUsesStoredEmbedding(t *testing.T) {
	rec, st, indexes := setup(t)
	ctx := context.Background()

	seedResource(t, st, indexes, "x", []float64{0, 1})
	coll := &core.Collection{
		ID:        uuid.NewString(),
		Name:      "precomputed",
		Embedding: []float64{0, 1},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := st.PutCollection(ctx, coll); err != nil {
		t.Fatalf("seed collection: %v", err)
	}

	recs, err := rec.ForCollection(ctx, coll.ID, 5)
	if err != nil {
		t.Fatalf("recommend failed: %v", err)
	}
	if len(recs) != 1 || recs[0].Resource.ID != "x" {
		t.Fatalf("expected the aligned resource, got %+v", recs)
	}
}

func TestRankSkipsNonCompleted(t *testing.T) {
	rec, st, indexes := setup(t)
	ctx := context.Background()

	seedResource(t, st, indexes, "done", []float64{1, 0})
	pending := &core.Resource{
		ID:              "pending",
		Source:          "https://example.com/pending",
		IngestionStatus: core.StatusPending,
		Embedding:       []float64{1, 0},
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := st.PutResource(ctx, pending); err != nil {
		t.Fatalf("seed pending: %v", err)
	}
	if err := indexes.Index(ctx, index.Entry{ResourceID: "pending", Dense: []float64{1, 0}}); err != nil {
		t.Fatalf("index pending: %v", err)
	}

	recs, err := rec.rank(ctx, []float64{1, 0}, map[string]bool{}, 5)
	if err != nil {
		t.Fatalf("rank failed: %v", err)
	}
	for _, r := range recs {
		if r.Resource.ID == "pending" {
			t.Error("non-completed resources must not be recommended")
		}
	}
}
