// Package collections manages named resource groups and keeps their
// aggregate embeddings fresh without blocking membership writes.
package collections

import (
	"context"
	"sync"
	"time"

	"alexandria/internal/core"
	"alexandria/internal/logger"
	"alexandria/internal/store"

	"github.com/google/uuid"
)

// recomputeQueueSize bounds pending aggregate-embedding recomputes.
const recomputeQueueSize = 128

// Service provides collection CRUD and membership operations. Aggregate
// embeddings are recomputed by a background worker so membership writes
// never wait on it.
type Service struct {
	store *store.Store

	queue  chan string
	wg     sync.WaitGroup
	cancel context.CancelFunc
	once   sync.Once
}

// New creates the service and starts its recompute worker.
func New(st *store.Store) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Service{
		store:  st,
		queue:  make(chan string, recomputeQueueSize),
		cancel: cancel,
	}
	s.wg.Add(1)
	go s.recomputeLoop(ctx)
	return s
}

// Close stops the recompute worker after draining queued work.
func (s *Service) Close() {
	s.once.Do(func() {
		s.cancel()
		s.wg.Wait()
	})
}

// Create validates and stores a new collection.
func (s *Service) Create(ctx context.Context, c *core.Collection) error {
	if err := validate(c); err != nil {
		return err
	}
	now := time.Now().UTC()
	c.ID = uuid.NewString()
	c.CreatedAt = now
	c.UpdatedAt = now
	return s.store.PutCollection(ctx, c)
}

// Update stores changed collection fields. Reparenting is cycle-checked by
// the store.
func (s *Service) Update(ctx context.Context, c *core.Collection) error {
	if err := validate(c); err != nil {
		return err
	}
	existing, err := s.store.GetCollection(ctx, c.ID)
	if err != nil {
		return err
	}
	c.CreatedAt = existing.CreatedAt
	c.Embedding = existing.Embedding
	c.UpdatedAt = time.Now().UTC()
	return s.store.PutCollection(ctx, c)
}

// Get returns a collection by ID.
func (s *Service) Get(ctx context.Context, id string) (*core.Collection, error) {
	return s.store.GetCollection(ctx, id)
}

// Delete removes a collection. Members are unlinked, not deleted.
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.store.DeleteCollection(ctx, id)
}

// AddResources links resources into a collection and schedules an aggregate
// recompute.
func (s *Service) AddResources(ctx context.Context, collectionID string, resourceIDs []string) error {
	if err := s.store.AddResourcesToCollection(ctx, collectionID, resourceIDs); err != nil {
		return err
	}
	s.MarkDirty(collectionID)
	return nil
}

// RemoveResources unlinks resources from a collection and schedules an
// aggregate recompute.
func (s *Service) RemoveResources(ctx context.Context, collectionID string, resourceIDs []string) error {
	if err := s.store.RemoveResourcesFromCollection(ctx, collectionID, resourceIDs); err != nil {
		return err
	}
	s.MarkDirty(collectionID)
	return nil
}

// Members returns the resource IDs in a collection.
func (s *Service) Members(ctx context.Context, collectionID string) ([]string, error) {
	return s.store.ListCollectionMembers(ctx, collectionID)
}

// MarkDirty schedules an aggregate-embedding recompute for a collection,
// for example after a member resource was deleted or re-enriched.
func (s *Service) MarkDirty(collectionIDs ...string) {
	for _, id := range collectionIDs {
		select {
		case s.queue <- id:
		default:
			logger.Warn("collection recompute queue full, dropping request", "collection_id", id)
		}
	}
}

func (s *Service) recomputeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case id := <-s.queue:
					s.recompute(context.Background(), id)
				default:
					return
				}
			}
		case id := <-s.queue:
			s.recompute(ctx, id)
		}
	}
}

// recompute sets the collection embedding to the mean of its members'
// embeddings, or nil when no member has one.
func (s *Service) recompute(ctx context.Context, collectionID string) {
	embeddings, err := s.store.MemberEmbeddings(ctx, collectionID)
	if err != nil {
		logger.Warn("collection embedding recompute failed", "collection_id", collectionID, "error", err.Error())
		return
	}

	var mean []float64
	if len(embeddings) > 0 {
		mean = make([]float64, len(embeddings[0]))
		for _, e := range embeddings {
			for i := range mean {
				mean[i] += e[i]
			}
		}
		for i := range mean {
			mean[i] /= float64(len(embeddings))
		}
	}
	if err := s.store.SetCollectionEmbedding(ctx, collectionID, mean); err != nil {
		logger.Warn("failed to store collection embedding", "collection_id", collectionID, "error", err.Error())
	}
}

func validate(c *core.Collection) error {
	if c.Name == "" {
		return core.Validationf("collection name is required")
	}
	switch c.Visibility {
	case core.VisibilityPrivate, core.VisibilityShared, core.VisibilityPublic:
	case "":
		c.Visibility = core.VisibilityPrivate
	default:
		return core.Validationf("unknown visibility %q", c.Visibility)
	}
	return nil
}
