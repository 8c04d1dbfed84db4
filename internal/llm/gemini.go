package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"alexandria/internal/config"
	"alexandria/internal/core"

	"google.golang.org/genai"
)

const (
	summarizePromptTemplate = `Summarize the following document in 2-4 sentences. Write only the summary, no meta-commentary.

Title: %s

---
%s
---`

	tagsPromptTemplate = `Suggest up to 8 subject tags for the following document. Respond with a JSON array of lowercase strings and nothing else.

Title: %s

---
%s
---`

	classifyPromptTemplate = `Assign a single Universal Decimal Classification code to the following document. Respond with only the code (for example "004.43"), nothing else.

Title: %s

---
%s
---`

	scholarlyPromptTemplate = `Extract bibliographic metadata from the following text if it is a scholarly work (paper, thesis, report). Respond with a JSON object with keys "authors" (array of strings), "doi" (string or null), "equations" (integer count), "tables" (integer count). If the text is not scholarly, respond with exactly: null

---
%s
---`

	qualityPromptTemplate = `Rate the following document on five dimensions, each a number from 0.0 to 1.0: accuracy, completeness, consistency, timeliness, relevance. Respond with a JSON object containing exactly those five keys and nothing else.

Title: %s

---
%s
---`
)

// maxModelInputBytes bounds text sent to generation and embedding models.
const maxModelInputBytes = 8000

// GeminiClient implements the generation, embedding, and extraction portions
// of Service against the Gemini API. Sparse embedding and reranking are
// delegated to dedicated model endpoints; see RemoteSparse and RemoteReranker.
type GeminiClient struct {
	gClient *genai.Client
	cfg     config.Models
	sparse  *RemoteSparse
	rerank  *RemoteReranker
}

// NewGeminiClient creates the model client. The API key comes from the
// models config section or the GEMINI_API_KEY environment variable handled
// by the config loader.
func NewGeminiClient(ctx context.Context, cfg config.Models) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("models.api_key is required (set ALEXANDRIA_MODELS_API_KEY or GEMINI_API_KEY)")
	}
	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return &GeminiClient{
		gClient: gClient,
		cfg:     cfg,
		sparse:  NewRemoteSparse(cfg.SparseEndpoint, cfg.SparseModel, cfg.Timeout),
		rerank:  NewRemoteReranker(cfg.RerankEndpoint, cfg.RerankModel, cfg.Timeout),
	}, nil
}

// generate wraps a single GenerateContent call.
func (c *GeminiClient) generate(ctx context.Context, prompt string) (string, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}
	resp, err := c.gClient.Models.GenerateContent(ctx, c.cfg.GenerationModel, contents, nil)
	if err != nil {
		return "", core.Transientf("generation call failed: %v", err)
	}
	text := resp.Text()
	if text == "" {
		return "", core.Transientf("empty response from model %s", c.cfg.GenerationModel)
	}
	return text, nil
}

// Summarize produces a concise abstract of the text.
func (c *GeminiClient) Summarize(ctx context.Context, title, text string) (string, error) {
	out, err := c.generate(ctx, fmt.Sprintf(summarizePromptTemplate, title, truncate(text)))
	if err != nil {
		return "", fmt.Errorf("failed to summarize: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// SuggestTags proposes subject tags for the text.
func (c *GeminiClient) SuggestTags(ctx context.Context, title, text string) ([]string, error) {
	out, err := c.generate(ctx, fmt.Sprintf(tagsPromptTemplate, title, truncate(text)))
	if err != nil {
		return nil, fmt.Errorf("failed to suggest tags: %w", err)
	}
	var tags []string
	if err := json.Unmarshal([]byte(stripCodeFence(out)), &tags); err != nil {
		return nil, core.Transientf("tag response was not a JSON array: %v", err)
	}
	cleaned := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag != "" {
			cleaned = append(cleaned, tag)
		}
	}
	return cleaned, nil
}

// Classify assigns a hierarchical classification code.
func (c *GeminiClient) Classify(ctx context.Context, title, text string) (string, error) {
	out, err := c.generate(ctx, fmt.Sprintf(classifyPromptTemplate, title, truncate(text)))
	if err != nil {
		return "", fmt.Errorf("failed to classify: %w", err)
	}
	code := strings.Trim(strings.TrimSpace(out), `"`)
	if code == "" || len(code) > 32 {
		return "", core.Transientf("classification response %q is not a code", out)
	}
	return code, nil
}

// ExtractScholarly pulls bibliographic metadata from scholarly content.
func (c *GeminiClient) ExtractScholarly(ctx context.Context, text string) (*core.ScholarlyMetadata, error) {
	out, err := c.generate(ctx, fmt.Sprintf(scholarlyPromptTemplate, truncate(text)))
	if err != nil {
		return nil, fmt.Errorf("failed to extract scholarly metadata: %w", err)
	}
	out = stripCodeFence(out)
	if strings.TrimSpace(out) == "null" {
		return nil, nil
	}
	var meta core.ScholarlyMetadata
	if err := json.Unmarshal([]byte(out), &meta); err != nil {
		return nil, core.Transientf("scholarly response was not valid JSON: %v", err)
	}
	return &meta, nil
}

// ScoreQuality rates the resource on five dimensions in [0,1].
func (c *GeminiClient) ScoreQuality(ctx context.Context, title, text string) (*QualityScores, error) {
	out, err := c.generate(ctx, fmt.Sprintf(qualityPromptTemplate, title, truncate(text)))
	if err != nil {
		return nil, fmt.Errorf("failed to score quality: %w", err)
	}
	var scores QualityScores
	if err := json.Unmarshal([]byte(stripCodeFence(out)), &scores); err != nil {
		return nil, core.Transientf("quality response was not valid JSON: %v", err)
	}
	for _, v := range []float64{scores.Accuracy, scores.Completeness, scores.Consistency, scores.Timeliness, scores.Relevance} {
		if v < 0 || v > 1 {
			return nil, core.Transientf("quality dimension %f outside [0,1]", v)
		}
	}
	return &scores, nil
}

// Embed returns a dense embedding at the configured dimensionality.
func (c *GeminiClient) Embed(ctx context.Context, text string) ([]float64, error) {
	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: truncate(text)}},
		Role:  "user",
	}}
	dims := int32(c.cfg.EmbeddingDimensions)
	resp, err := c.gClient.Models.EmbedContent(ctx, c.cfg.EmbeddingModel, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	})
	if err != nil {
		return nil, core.Transientf("embedding call failed: %v", err)
	}
	if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, core.Transientf("no embedding values returned")
	}
	values := resp.Embeddings[0].Values
	embedding := make([]float64, len(values))
	for i, val := range values {
		embedding[i] = float64(val)
	}
	return embedding, nil
}

// EmbedSparse returns a learned sparse vector from the sparse model endpoint.
func (c *GeminiClient) EmbedSparse(ctx context.Context, text string) (core.SparseVector, error) {
	return c.sparse.Embed(ctx, truncate(text))
}

// Rerank scores documents against the query via the reranker endpoint.
func (c *GeminiClient) Rerank(ctx context.Context, query string, docs []Document) ([]float64, error) {
	return c.rerank.Rerank(ctx, query, docs)
}

func truncate(text string) string {
	if len(text) > maxModelInputBytes {
		return text[:maxModelInputBytes]
	}
	return text
}

// stripCodeFence unwraps ```json ... ``` fenced responses models sometimes
// emit despite instructions.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
