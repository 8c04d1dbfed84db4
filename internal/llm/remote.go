package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"alexandria/internal/core"
)

// RemoteSparse calls a SPLADE-style sparse embedding service over HTTP.
// An empty endpoint means the model is not deployed; calls fail fast so the
// sparse enrichment stage degrades.
type RemoteSparse struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewRemoteSparse creates a sparse embedding client.
func NewRemoteSparse(endpoint, model string, timeout time.Duration) *RemoteSparse {
	return &RemoteSparse{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type sparseRequest struct {
	Model string `json:"model"`
	Text  string `json:"text"`
}

type sparseResponse struct {
	// Token ids arrive as JSON object keys, so they are strings on the wire.
	Vector map[string]float64 `json:"vector"`
}

// Embed returns the sparse vector for the text.
func (r *RemoteSparse) Embed(ctx context.Context, text string) (core.SparseVector, error) {
	if r.endpoint == "" {
		return nil, core.Fatalf("sparse model endpoint is not configured")
	}
	var resp sparseResponse
	if err := postJSON(ctx, r.client, r.endpoint, sparseRequest{Model: r.model, Text: text}, &resp); err != nil {
		return nil, fmt.Errorf("sparse embedding failed: %w", err)
	}
	vec := make(core.SparseVector, len(resp.Vector))
	for key, weight := range resp.Vector {
		token, err := strconv.Atoi(key)
		if err != nil {
			return nil, core.Transientf("sparse response has non-integer token id %q", key)
		}
		if weight > 0 {
			vec[token] = weight
		}
	}
	return vec, nil
}

// RemoteReranker calls a cross-encoder reranking service over HTTP.
type RemoteReranker struct {
	endpoint string
	model    string
	client   *http.Client
}

// NewRemoteReranker creates a reranker client.
func NewRemoteReranker(endpoint, model string, timeout time.Duration) *RemoteReranker {
	return &RemoteReranker{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}
}

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
}

type rerankResponse struct {
	Scores []float64 `json:"scores"`
}

// Rerank returns one relevance score per document, in input order.
func (r *RemoteReranker) Rerank(ctx context.Context, query string, docs []Document) ([]float64, error) {
	if r.endpoint == "" {
		return nil, core.Fatalf("rerank model endpoint is not configured")
	}
	texts := make([]string, len(docs))
	for i, doc := range docs {
		texts[i] = doc.Title + "\n" + truncate(doc.Text)
	}
	var resp rerankResponse
	if err := postJSON(ctx, r.client, r.endpoint, rerankRequest{Model: r.model, Query: query, Documents: texts}, &resp); err != nil {
		return nil, fmt.Errorf("rerank failed: %w", err)
	}
	if len(resp.Scores) != len(docs) {
		return nil, core.Transientf("reranker returned %d scores for %d documents", len(resp.Scores), len(docs))
	}
	return resp.Scores, nil
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, in, out any) error {
	payload, err := json.Marshal(in)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return core.Fatalf("invalid model endpoint %q: %v", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return core.Transientf("model endpoint unreachable: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return core.Transientf("model endpoint returned %d", resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return core.Fatalf("model endpoint returned %d", resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return core.Transientf("failed to decode model response: %v", err)
	}
	return nil
}
