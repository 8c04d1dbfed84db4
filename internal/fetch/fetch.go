// Package fetch retrieves raw content from a single URL and parses it into
// normalized text and basic metadata.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"alexandria/internal/core"
)

const userAgent = "Alexandria/1.0 (+self-hosted knowledge base)"

// supportedContentTypes lists the media types the parse stage can handle.
var supportedContentTypes = map[string]bool{
	"text/html":             true,
	"application/xhtml+xml": true,
	"text/plain":            true,
	"text/markdown":         true,
}

// Result is the raw output of the fetch stage.
type Result struct {
	Body        []byte
	ContentType string // Media type without parameters
	Headers     http.Header
	FinalURL    string // After redirects
}

// Fetcher performs single-URL retrieval with a mandatory timeout.
type Fetcher struct {
	client       *http.Client
	timeout      time.Duration
	maxBodyBytes int64
}

// NewFetcher creates a fetcher. maxBodyBytes bounds the response body read;
// zero means 32 MiB.
func NewFetcher(timeout time.Duration, maxBodyBytes int64) *Fetcher {
	if maxBodyBytes <= 0 {
		maxBodyBytes = 32 * 1024 * 1024
	}
	return &Fetcher{
		client:       &http.Client{Timeout: timeout},
		timeout:      timeout,
		maxBodyBytes: maxBodyBytes,
	}
}

// Fetch retrieves the URL. Failures are classified per the ingestion retry
// policy: network errors, 5xx, and empty bodies are transient, unsupported
// content types and 4xx are fatal.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, core.Validationf("malformed URL %q: %v", rawURL, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html, application/xhtml+xml, text/plain;q=0.8")

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("%w: fetch of %s: %v", core.ErrTransient, rawURL, err)
		}
		return nil, core.Transientf("fetch of %s failed: %v", rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return nil, core.Transientf("fetch of %s returned %d", rawURL, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, core.Transientf("fetch of %s rate limited", rawURL)
	case resp.StatusCode >= 400:
		return nil, core.Fatalf("fetch of %s returned %d", rawURL, resp.StatusCode)
	case resp.StatusCode != http.StatusOK:
		return nil, core.Fatalf("fetch of %s returned unexpected status %d", rawURL, resp.StatusCode)
	}

	contentType := mediaType(resp.Header.Get("Content-Type"))
	if contentType != "" && !supportedContentTypes[contentType] {
		return nil, core.Fatalf("unsupported content type %q from %s", contentType, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBodyBytes))
	if err != nil {
		return nil, core.Transientf("reading body of %s failed: %v", rawURL, err)
	}
	// Empty bodies are retried; the job fails only once attempts run out.
	if len(body) == 0 {
		return nil, core.Transientf("fetch of %s yielded an empty body", rawURL)
	}

	finalURL := rawURL
	if resp.Request != nil && resp.Request.URL != nil {
		finalURL = resp.Request.URL.String()
	}

	return &Result{
		Body:        body,
		ContentType: contentType,
		Headers:     resp.Header,
		FinalURL:    finalURL,
	}, nil
}

// mediaType strips parameters from a Content-Type header value.
func mediaType(header string) string {
	if header == "" {
		return ""
	}
	if idx := strings.Index(header, ";"); idx >= 0 {
		header = header[:idx]
	}
	return strings.ToLower(strings.TrimSpace(header))
}
