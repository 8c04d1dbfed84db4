// Package annotations manages user-private markup over resource text:
// validated spans, tags, colors, and note embeddings.
package annotations

import (
	"context"
	"regexp"
	"time"

	"alexandria/internal/core"
	"alexandria/internal/llm"
	"alexandria/internal/logger"
	"alexandria/internal/store"

	"github.com/google/uuid"
)

const (
	maxTags      = 20
	maxTagLength = 50
)

var colorPattern = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// Service provides annotation CRUD with validation and best-effort note
// embedding.
type Service struct {
	store  *store.Store
	models llm.Service // May be nil; notes then carry no embedding
}

// New creates the annotation service.
func New(st *store.Store, models llm.Service) *Service {
	return &Service{store: st, models: models}
}

// Create validates and stores a new annotation. The span is checked against
// the resource's extracted text and the highlighted text is filled from it
// when absent.
func (s *Service) Create(ctx context.Context, a *core.Annotation) error {
	res, err := s.store.GetResource(ctx, a.ResourceID)
	if err != nil {
		return err
	}
	if err := validate(a, len(res.ExtractedText)); err != nil {
		return err
	}

	now := time.Now().UTC()
	a.ID = uuid.NewString()
	a.CreatedAt = now
	a.UpdatedAt = now
	if a.HighlightedText == "" {
		a.HighlightedText = res.ExtractedText[a.StartOffset:a.EndOffset]
	}
	s.embedNote(ctx, a)

	return s.store.PutAnnotation(ctx, a)
}

// Update applies changes to an existing annotation. Only the owner may
// update; the span is revalidated against the resource text.
func (s *Service) Update(ctx context.Context, a *core.Annotation) error {
	existing, err := s.store.GetAnnotation(ctx, a.ID)
	if err != nil {
		return err
	}
	if existing.OwnerID != a.OwnerID {
		return core.Validationf("annotation %s is not owned by %s", a.ID, a.OwnerID)
	}
	res, err := s.store.GetResource(ctx, existing.ResourceID)
	if err != nil {
		return err
	}
	a.ResourceID = existing.ResourceID
	if err := validate(a, len(res.ExtractedText)); err != nil {
		return err
	}

	a.CreatedAt = existing.CreatedAt
	a.UpdatedAt = time.Now().UTC()
	if a.Note != existing.Note {
		s.embedNote(ctx, a)
	} else {
		a.Embedding = existing.Embedding
	}
	return s.store.PutAnnotation(ctx, a)
}

// Get returns an annotation visible to the requester: its owner sees it
// always, others only when shared.
func (s *Service) Get(ctx context.Context, id, requesterID string) (*core.Annotation, error) {
	a, err := s.store.GetAnnotation(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.OwnerID != requesterID && !a.IsShared {
		return nil, core.ErrNotFound
	}
	return a, nil
}

// Delete removes an annotation; only the owner may delete.
func (s *Service) Delete(ctx context.Context, id, requesterID string) error {
	a, err := s.store.GetAnnotation(ctx, id)
	if err != nil {
		return err
	}
	if a.OwnerID != requesterID {
		return core.ErrNotFound
	}
	return s.store.DeleteAnnotation(ctx, id)
}

// ListByResource returns the requester's own annotations on a resource plus
// any shared ones, in span order.
func (s *Service) ListByResource(ctx context.Context, resourceID, requesterID string) ([]core.Annotation, error) {
	all, err := s.store.ListAnnotationsByResource(ctx, resourceID)
	if err != nil {
		return nil, err
	}
	visible := make([]core.Annotation, 0, len(all))
	for _, a := range all {
		if a.OwnerID == requesterID || a.IsShared {
			visible = append(visible, a)
		}
	}
	return visible, nil
}

// ListByOwner returns a user's annotations newest first.
func (s *Service) ListByOwner(ctx context.Context, ownerID string, limit, offset int) ([]core.Annotation, error) {
	return s.store.ListAnnotationsByOwner(ctx, ownerID, limit, offset)
}

// embedNote attaches an embedding of the note text. Failures are logged and
// dropped; annotations are usable without embeddings.
func (s *Service) embedNote(ctx context.Context, a *core.Annotation) {
	if s.models == nil || a.Note == "" {
		a.Embedding = nil
		return
	}
	embedding, err := s.models.Embed(ctx, a.Note)
	if err != nil {
		logger.Warn("note embedding failed", "annotation_id", a.ID, "error", err.Error())
		a.Embedding = nil
		return
	}
	a.Embedding = embedding
}

// validate checks span bounds, tag limits, and color format.
func validate(a *core.Annotation, textLen int) error {
	if a.OwnerID == "" {
		return core.Validationf("owner_id is required")
	}
	if a.StartOffset < 0 || a.StartOffset >= a.EndOffset || a.EndOffset > textLen {
		return core.Validationf("annotation span [%d,%d) is out of bounds for text of length %d",
			a.StartOffset, a.EndOffset, textLen)
	}
	if len(a.Tags) > maxTags {
		return core.Validationf("at most %d tags are allowed, got %d", maxTags, len(a.Tags))
	}
	for _, tag := range a.Tags {
		if tag == "" || len(tag) > maxTagLength {
			return core.Validationf("tag %q must be 1-%d characters", tag, maxTagLength)
		}
	}
	if a.Color != "" && !colorPattern.MatchString(a.Color) {
		return core.Validationf("color %q must be a 7-character hex value like #ffcc00", a.Color)
	}
	return nil
}
