// Package enrich runs the per-resource enrichment pipeline: parse and
// archive the fetched content, then derive metadata, embeddings, citations,
// and quality scores. Model-backed stages degrade individually instead of
// failing the build.
package enrich

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"alexandria/internal/archive"
	"alexandria/internal/config"
	"alexandria/internal/core"
	"alexandria/internal/fetch"
	"alexandria/internal/llm"
	"alexandria/internal/logger"

	"golang.org/x/sync/errgroup"
)

// Outcome reports what the pipeline produced beyond the resource fields it
// sets in place.
type Outcome struct {
	Citations []core.Citation
	Scholarly *core.ScholarlyMetadata
	Degraded  []string // Names of stages that fell back or were skipped
}

// Pipeline orchestrates the enrichment stages for one resource build.
type Pipeline struct {
	fetcher *fetch.Fetcher
	archive *archive.Archive
	models  llm.Service
	cfg     *config.Config
	weights core.QualityWeights
}

// New assembles a pipeline from its dependencies.
func New(fetcher *fetch.Fetcher, arch *archive.Archive, models llm.Service, cfg *config.Config) *Pipeline {
	return &Pipeline{
		fetcher: fetcher,
		archive: arch,
		models:  models,
		cfg:     cfg,
		weights: core.QualityWeights{
			Accuracy:     cfg.Quality.AccuracyWeight,
			Completeness: cfg.Quality.CompletenessWeight,
			Consistency:  cfg.Quality.ConsistencyWeight,
			Timeliness:   cfg.Quality.TimelinessWeight,
			Relevance:    cfg.Quality.RelevanceWeight,
		},
	}
}

// Fetch retrieves the source and computes its content fingerprint. The
// caller uses the fingerprint for dedup and build locking before enrichment
// proceeds.
func (p *Pipeline) Fetch(ctx context.Context, source string) (*fetch.Result, string, error) {
	result, err := p.fetcher.Fetch(ctx, source)
	if err != nil {
		return nil, "", err
	}
	return result, core.Fingerprint(source, result.Body), nil
}

// Enrich runs parse, archive, and the derivation stages, setting resource
// fields in place. Parse and archive failures abort the build; everything
// downstream degrades per stage.
func (p *Pipeline) Enrich(ctx context.Context, res *core.Resource, fetched *fetch.Result) (*Outcome, error) {
	parseCtx, cancel := context.WithTimeout(ctx, p.cfg.Ingestion.ParseTimeout)
	parsed, err := fetch.Parse(parseCtx, fetched)
	cancel()
	if err != nil {
		return nil, err
	}

	archivePath, err := p.archive.Store(res.ContentFingerprint, fetched.ContentType, fetched.Body)
	if err != nil {
		return nil, core.Transientf("archive write failed: %v", err)
	}

	res.Title = parsed.Title
	res.Language = parsed.Language
	res.ExtractedText = parsed.Text
	res.ArchivePath = archivePath
	if parsed.Creator != "" {
		res.Creator = parsed.Creator
	}
	if parsed.Publisher != "" {
		res.Publisher = parsed.Publisher
	}
	if res.Type == "" {
		res.Type = "article"
	}

	outcome := &Outcome{}
	p.deriveConcurrently(ctx, res, outcome)
	p.scoreQuality(ctx, res, outcome)
	return outcome, nil
}

// errNoModels marks stages skipped because no model service is configured.
var errNoModels = errors.New("no model service configured")

// deriveConcurrently runs the independent model-backed stages in parallel.
// Each stage records its own degradation; none of them fail the build. With
// no model service configured every model-backed stage degrades to its
// fallback immediately.
func (p *Pipeline) deriveConcurrently(ctx context.Context, res *core.Resource, outcome *Outcome) {
	var (
		summary   string
		tags      []string
		class     string
		dense     []float64
		sparse    core.SparseVector
		citations []core.Citation
		scholarly *core.ScholarlyMetadata
		degraded  = make([]string, 0, 4)
	)
	var degradedMu sync.Mutex
	markDegraded := func(stage string, err error) {
		logger.Warn("enrichment stage degraded", "stage", stage, "resource_id", res.ID, "error", err.Error())
		degradedMu.Lock()
		degraded = append(degraded, stage)
		degradedMu.Unlock()
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var out string
		err := error(errNoModels)
		if p.models != nil {
			out, err = p.models.Summarize(gctx, res.Title, res.ExtractedText)
		}
		if err != nil {
			markDegraded("summarize", err)
			out = leadingSentences(res.ExtractedText, 3)
		}
		summary = out
		return nil
	})

	g.Go(func() error {
		var out []string
		err := error(errNoModels)
		if p.models != nil {
			out, err = p.models.SuggestTags(gctx, res.Title, res.ExtractedText)
		}
		if err != nil {
			markDegraded("tag", err)
			out = keywordTags(res.Title+" "+res.ExtractedText, 8)
		}
		tags = canonicalizeTags(out)
		return nil
	})

	g.Go(func() error {
		if p.models == nil {
			markDegraded("classify", errNoModels)
			return nil
		}
		out, err := p.models.Classify(gctx, res.Title, res.ExtractedText)
		if err != nil {
			markDegraded("classify", err)
			return nil
		}
		class = out
		return nil
	})

	g.Go(func() error {
		if p.models == nil {
			markDegraded("dense_embed", errNoModels)
			res.EmbeddingFailed = true
			return nil
		}
		out, err := p.models.Embed(gctx, res.ExtractedText)
		if err != nil {
			markDegraded("dense_embed", err)
			res.EmbeddingFailed = true
			return nil
		}
		dense = out
		return nil
	})

	g.Go(func() error {
		if p.models == nil {
			markDegraded("sparse_embed", errNoModels)
			return nil
		}
		out, err := p.models.EmbedSparse(gctx, res.ExtractedText)
		if err != nil {
			markDegraded("sparse_embed", err)
			return nil
		}
		sparse = out
		return nil
	})

	g.Go(func() error {
		out, err := extractCitations(res.ID, res.Source, res.ExtractedText)
		if err != nil {
			markDegraded("citations", err)
			return nil
		}
		citations = out
		return nil
	})

	g.Go(func() error {
		if p.models == nil {
			markDegraded("scholarly", errNoModels)
			return nil
		}
		out, err := p.models.ExtractScholarly(gctx, res.ExtractedText)
		if err != nil {
			markDegraded("scholarly", err)
			return nil
		}
		scholarly = out
		return nil
	})

	// Stages never return errors, so Wait only observes ctx cancellation.
	_ = g.Wait()

	res.Description = summary
	res.Subject = tags
	res.ClassificationCode = class
	res.Embedding = dense
	res.SparseEmbedding = sparse
	if sparse != nil {
		res.SparseEmbeddingModel = p.cfg.Models.SparseModel
		now := time.Now().UTC()
		res.SparseEmbeddingUpdated = &now
	}
	if scholarly != nil {
		res.Type = "paper"
		if res.Creator == "" && len(scholarly.Authors) > 0 {
			res.Creator = strings.Join(scholarly.Authors, ", ")
		}
	}
	outcome.Citations = citations
	outcome.Scholarly = scholarly
	outcome.Degraded = append(outcome.Degraded, degraded...)
}

// scoreQuality runs after the other stages so the relevance dimension can
// see the derived metadata. A failure leaves all quality fields nil and
// flags the resource for review.
func (p *Pipeline) scoreQuality(ctx context.Context, res *core.Resource, outcome *Outcome) {
	var scores *llm.QualityScores
	err := error(errNoModels)
	if p.models != nil {
		scores, err = p.models.ScoreQuality(ctx, res.Title, res.ExtractedText)
	}
	if err != nil {
		logger.Warn("quality scoring degraded", "resource_id", res.ID, "error", err.Error())
		res.NeedsReview = true
		outcome.Degraded = append(outcome.Degraded, "quality")
		return
	}
	overall := p.weights.Overall(scores.Accuracy, scores.Completeness, scores.Consistency, scores.Timeliness, scores.Relevance)
	now := time.Now().UTC()
	res.QualityAccuracy = &scores.Accuracy
	res.QualityCompleteness = &scores.Completeness
	res.QualityConsistency = &scores.Consistency
	res.QualityTimeliness = &scores.Timeliness
	res.QualityRelevance = &scores.Relevance
	res.QualityOverall = &overall
	res.QualityLastComputed = &now
	res.QualityVersion = qualityVersion
	res.NeedsReview = false
}

// qualityVersion identifies the scoring formula for recompute decisions.
const qualityVersion = "v2"

// canonicalizeTags lowercases, trims, and dedupes subject tags preserving
// first-seen order.
func canonicalizeTags(tags []string) []string {
	seen := make(map[string]bool, len(tags))
	out := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
