// Package core defines the shared data model for the knowledge base:
// resources, citations, collections, annotations, and ingestion jobs.
package core

import "time"

// IngestionStatus tracks a resource through the ingestion state machine.
type IngestionStatus string

const (
	StatusPending    IngestionStatus = "pending"
	StatusProcessing IngestionStatus = "processing"
	StatusCompleted  IngestionStatus = "completed"
	StatusFailed     IngestionStatus = "failed"
)

// CitationType categorizes an outbound reference found in a resource.
type CitationType string

const (
	CitationReference CitationType = "reference"
	CitationDataset   CitationType = "dataset"
	CitationCode      CitationType = "code"
	CitationGeneral   CitationType = "general"
)

// Visibility controls who can see a collection.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityPublic  Visibility = "public"
)

// SparseVector is a learned sparse embedding: token id to non-negative weight.
type SparseVector map[int]float64

// Resource is the primary content entity. A resource is created in pending
// state on submission and enriched asynchronously by the ingestion engine.
type Resource struct {
	ID                 string          `json:"id"`                  // Opaque unique identifier
	Source             string          `json:"source"`              // Canonical URL, unique after normalization
	Title              string          `json:"title"`               // Title of the resource
	Description        string          `json:"description"`         // Short abstract (summarizer output)
	Creator            string          `json:"creator"`             // Author or creator
	Publisher          string          `json:"publisher"`           // Publishing site or organization
	Language           string          `json:"language"`            // BCP-47 language tag
	Type               string          `json:"type"`                // Resource type (article, paper, ...)
	Subject            []string        `json:"subject"`             // Canonicalized subject strings
	ClassificationCode string          `json:"classification_code"` // Hierarchical classification path
	IngestionStatus    IngestionStatus `json:"ingestion_status"`    // Current state machine position

	QualityOverall      *float64   `json:"quality_overall"`      // Weighted mean of the five dimensions
	QualityAccuracy     *float64   `json:"quality_accuracy"`     // [0,1]
	QualityCompleteness *float64   `json:"quality_completeness"` // [0,1]
	QualityConsistency  *float64   `json:"quality_consistency"`  // [0,1]
	QualityTimeliness   *float64   `json:"quality_timeliness"`   // [0,1]
	QualityRelevance    *float64   `json:"quality_relevance"`    // [0,1]
	QualityLastComputed *time.Time `json:"quality_last_computed"`
	QualityVersion      string     `json:"quality_computation_version"`
	NeedsReview         bool       `json:"needs_review"` // Set when quality scoring degraded

	Embedding              []float64    `json:"embedding"`        // Dense vector of dimension D, nil until computed
	EmbeddingFailed        bool         `json:"embedding_failed"` // Dense embed stage degraded
	SparseEmbedding        SparseVector `json:"sparse_embedding"` // Learned sparse vector, nil until computed
	SparseEmbeddingModel   string       `json:"sparse_embedding_model"`
	SparseEmbeddingUpdated *time.Time   `json:"sparse_embedding_updated_at"`

	ArchivePath        string `json:"archive_path"`        // Path to archived raw content
	ContentFingerprint string `json:"content_fingerprint"` // Dedup key: hash(canonical_url + sha256(body))
	ExtractedText      string `json:"extracted_text"`      // Normalized text from the parse stage

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Citation is a directed edge from one resource to another, or to an
// unresolved external URL when the target is not in the knowledge base yet.
type Citation struct {
	ID               string       `json:"id"`
	SourceResourceID string       `json:"source_resource_id"`
	TargetResourceID string       `json:"target_resource_id"` // Empty when unresolved
	TargetURL        string       `json:"target_url"`
	CitationType     CitationType `json:"citation_type"`
	Context          string       `json:"context"`          // Snippet around the citation site
	Position         int          `json:"position"`         // Ordinal within the source text
	ImportanceScore  *float64     `json:"importance_score"` // PageRank output, nil until computed
	CreatedAt        time.Time    `json:"created_at"`
}

// Collection is a named group of resources with an aggregate embedding.
type Collection struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	OwnerID     string     `json:"owner_id"`
	Visibility  Visibility `json:"visibility"`
	ParentID    string     `json:"parent_id"` // Empty for top-level collections
	Embedding   []float64  `json:"embedding"` // Mean of member embeddings, nil if empty
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Annotation is user-private markup over a span of a resource's text.
type Annotation struct {
	ID              string    `json:"id"`
	ResourceID      string    `json:"resource_id"`
	OwnerID         string    `json:"owner_id"`
	StartOffset     int       `json:"start_offset"`
	EndOffset       int       `json:"end_offset"`
	HighlightedText string    `json:"highlighted_text"`
	Note            string    `json:"note"`
	Tags            []string  `json:"tags"`  // At most 20 tags, 50 chars each
	Color           string    `json:"color"` // 7-char hex, e.g. "#ffcc00"
	IsShared        bool      `json:"is_shared"`
	Embedding       []float64 `json:"embedding"` // Embedding of the note, nil if absent
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IngestionJob is the ephemeral work item driving a resource through
// the ingestion state machine.
type IngestionJob struct {
	ResourceID   string          `json:"resource_id"`
	State        IngestionStatus `json:"state"`
	AttemptCount int             `json:"attempt_count"`
	LastError    string          `json:"last_error"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
}

// ScholarlyMetadata holds fields extracted from academic documents.
type ScholarlyMetadata struct {
	Authors   []string `json:"authors"`
	DOI       string   `json:"doi"`
	Equations int      `json:"equations"` // Count of detected equations
	Tables    int      `json:"tables"`    // Count of detected tables
}
