package core

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL canonicalizes a URL for identity purposes: lowercase scheme
// and host, fragment stripped, trailing slash stripped. Uniqueness of
// Resource.Source is enforced on the normalized form.
func NormalizeURL(raw string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", Validationf("invalid URL %q: %v", raw, err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", Validationf("unsupported URL scheme %q", parsed.Scheme)
	}
	if parsed.Host == "" {
		return "", Validationf("URL %q has no host", raw)
	}

	parsed.Scheme = strings.ToLower(parsed.Scheme)
	parsed.Host = strings.ToLower(parsed.Host)
	parsed.Fragment = ""
	parsed.Path = strings.TrimSuffix(parsed.Path, "/")

	return parsed.String(), nil
}

// Fingerprint derives the ingestion dedup key from the canonical URL and the
// raw fetched bytes: hash(canonical_url + sha256(body)).
func Fingerprint(canonicalURL string, body []byte) string {
	bodyHash := sha256.Sum256(body)
	sum := sha256.Sum256([]byte(canonicalURL + hex.EncodeToString(bodyHash[:])))
	return hex.EncodeToString(sum[:])
}

// QualityWeights holds the per-dimension weights used to combine the five
// quality dimensions into quality_overall. Weights must sum to 1.
type QualityWeights struct {
	Accuracy     float64
	Completeness float64
	Consistency  float64
	Timeliness   float64
	Relevance    float64
}

// DefaultQualityWeights weighs the five dimensions equally.
func DefaultQualityWeights() QualityWeights {
	return QualityWeights{0.2, 0.2, 0.2, 0.2, 0.2}
}

// Overall combines dimension scores into the weighted mean.
func (w QualityWeights) Overall(accuracy, completeness, consistency, timeliness, relevance float64) float64 {
	return w.Accuracy*accuracy +
		w.Completeness*completeness +
		w.Consistency*consistency +
		w.Timeliness*timeliness +
		w.Relevance*relevance
}

// Validate checks that each weight is non-negative and that the weights sum
// to 1 within a small tolerance.
func (w QualityWeights) Validate() error {
	sum := w.Accuracy + w.Completeness + w.Consistency + w.Timeliness + w.Relevance
	if sum < 0.999999 || sum > 1.000001 {
		return fmt.Errorf("quality weights must sum to 1.0, got %f", sum)
	}
	for _, v := range []float64{w.Accuracy, w.Completeness, w.Consistency, w.Timeliness, w.Relevance} {
		if v < 0 {
			return fmt.Errorf("quality weights must be non-negative")
		}
	}
	return nil
}
