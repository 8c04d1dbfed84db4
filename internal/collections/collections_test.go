package collections

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"alexandria/internal/core"
	"alexandria/internal/store"
)

func setup(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.New(t.TempDir())
	if err != nil {
		t.Fatalf("store setup failed: %v", err)
	}
	svc := New(st)
	t.Cleanup(func() {
		svc.Close()
		st.Close()
	})
	return svc, st
}

func seedResource(t *testing.T, st *store.Store, id string, embedding []float64) {
	t.Helper()
	res := &core.Resource{
		ID:              id,
		Source:          "https://example.com/" + id,
		IngestionStatus: core.StatusCompleted,
		Embedding:       embedding,
		CreatedAt:       time.Now().UTC(),
		UpdatedAt:       time.Now().UTC(),
	}
	if err := st.PutResource(context.Background(), res); err != nil {
		t.Fatalf("seed resource %s: %v", id, err)
	}
}

// waitForEmbedding polls until the background worker has stored an aggregate
// embedding, or fails the test.
func waitForEmbedding(t *testing.T, svc *Service, collectionID string) []float64 {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		c, err := svc.Get(context.Background(), collectionID)
		if err != nil {
			t.Fatalf("get collection: %v", err)
		}
		if len(c.Embedding) > 0 {
			return c.Embedding
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("aggregate embedding was never computed")
	return nil
}

func TestCreateDefaultsAndValidation(t *testing.T) {
	svc, _ := setup(t)
	ctx := context.Background()

	c := &core.Collection{Name: "reading list", OwnerID: "u1"}
	if err := svc.Create(ctx, c); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if c.ID == "" || c.CreatedAt.IsZero() {
		t.Error("id and timestamps must be assigned")
	}
	if c.Visibility != core.VisibilityPrivate {
		t.Errorf("visibility should default to private, got %q", c.Visibility)
	}

	if err := svc.Create(ctx, &core.Collection{OwnerID: "u1"}); !errors.Is(err, core.ErrValidation) {
		t.Errorf("nameless collection should be rejected, got %v", err)
	}
	bad := &core.Collection{Name: "x", Visibility: "everyone"}
	if err := svc.Create(ctx, bad); !errors.Is(err, core.ErrValidation) {
		t.Errorf("unknown visibility should be rejected, got %v", err)
	}
}

func TestMembershipTriggersAggregateRecompute(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	seedResource(t, st, "r1", []float64{1, 0})
	seedResource(t, st, "r2", []float64{0, 1})

	c := &core.Collection{Name: "ml papers"}
	if err := svc.Create(ctx, c); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := svc.AddResources(ctx, c.ID, []string{"r1", "r2"}); err != nil {
		t.Fatalf("add resources failed: %v", err)
	}

	embedding := waitForEmbedding(t, svc, c.ID)
	want := []float64{0.5, 0.5}
	for i := range want {
		if math.Abs(embedding[i]-want[i]) > 1e-9 {
			t.Fatalf("expected mean embedding %v, got %v", want, embedding)
		}
	}

	members, err := svc.Members(ctx, c.ID)
	if err != nil {
		t.Fatalf("members failed: %v", err)
	}
	if len(members) != 2 {
		t.Errorf("expected 2 members, got %d", len(members))
	}
}

func TestRemoveResourcesUpdatesAggregate(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	seedResource(t, st, "r1", []float64{1, 0})
	seedResource(t, st, "r2", []float64{0, 1})

	c := &core.Collection{Name: "queue"}
	if err := svc.Create(ctx, c); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := svc.AddResources(ctx, c.ID, []string{"r1", "r2"}); err != nil {
		t.Fatalf("add resources failed: %v", err)
	}
	waitForEmbedding(t, svc, c.ID)

	if err := svc.RemoveResources(ctx, c.ID, []string{"r2"}); err != nil {
		t.Fatalf("remove resources failed: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := svc.Get(ctx, c.ID)
		if err != nil {
			t.Fatalf("get collection: %v", err)
		}
		if len(got.Embedding) == 2 && got.Embedding[0] == 1 && got.Embedding[1] == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("aggregate never converged to the remaining member, got %v", got.Embedding)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUpdatePreservesCreatedAtAndEmbedding(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	seedResource(t, st, "r1", []float64{1, 0})
	c := &core.Collection{Name: "before"}
	if err := svc.Create(ctx, c); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := svc.AddResources(ctx, c.ID, []string{"r1"}); err != nil {
		t.Fatalf("add resources failed: %v", err)
	}
	waitForEmbedding(t, svc, c.ID)

	update := &core.Collection{ID: c.ID, Name: "after", Visibility: core.VisibilityShared}
	if err := svc.Update(ctx, update); err != nil {
		t.Fatalf("update failed: %v", err)
	}

	got, err := svc.Get(ctx, c.ID)
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got.Name != "after" || got.Visibility != core.VisibilityShared {
		t.Errorf("update not applied: %+v", got)
	}
	if !got.CreatedAt.Equal(c.CreatedAt) {
		t.Error("created_at must survive updates")
	}
	if len(got.Embedding) == 0 {
		t.Error("aggregate embedding must survive metadata updates")
	}
}

func TestDeleteUnlinksWithoutDeletingResources(t *testing.T) {
	svc, st := setup(t)
	ctx := context.Background()

	seedResource(t, st, "r1", nil)
	c := &core.Collection{Name: "doomed"}
	if err := svc.Create(ctx, c); err != nil {
		t.Fatalf("create failed: %v", err)
	}
	if err := svc.AddResources(ctx, c.ID, []string{"r1"}); err != nil {
		t.Fatalf("add resources failed: %v", err)
	}

	if err := svc.Delete(ctx, c.ID); err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if _, err := svc.Get(ctx, c.ID); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("collection should be gone, got %v", err)
	}
	if _, err := st.GetResource(ctx, "r1"); err != nil {
		t.Errorf("member resource must survive collection deletion: %v", err)
	}
}
