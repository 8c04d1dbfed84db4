package enrich

import (
	"regexp"
	"strings"
	"time"

	"alexandria/internal/core"

	"github.com/google/uuid"
)

var (
	urlPattern = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
	doiPattern = regexp.MustCompile(`(?i)\b10\.\d{4,9}/[-._;()/:a-z0-9]+`)
)

// contextRadius is how many bytes of surrounding text are kept as the
// citation context snippet.
const contextRadius = 80

// extractCitations finds outbound references in the extracted text. Targets
// are left unresolved; the store resolves them against known sources after
// persistence. Self-references are dropped.
func extractCitations(sourceResourceID, source, text string) ([]core.Citation, error) {
	now := time.Now().UTC()
	seen := make(map[string]bool)
	var citations []core.Citation

	for _, loc := range urlPattern.FindAllStringIndex(text, -1) {
		raw := strings.TrimRight(text[loc[0]:loc[1]], ".,;:")
		target, err := core.NormalizeURL(raw)
		if err != nil {
			continue
		}
		if target == source || seen[target] {
			continue
		}
		seen[target] = true
		citations = append(citations, core.Citation{
			ID:               uuid.NewString(),
			SourceResourceID: sourceResourceID,
			TargetURL:        target,
			CitationType:     classifyCitation(target),
			Context:          snippet(text, loc[0], loc[1]),
			Position:         len(citations),
			CreatedAt:        now,
		})
	}

	for _, loc := range doiPattern.FindAllStringIndex(text, -1) {
		doi := strings.TrimRight(text[loc[0]:loc[1]], ".,;:")
		target := "https://doi.org/" + strings.ToLower(doi)
		if seen[target] {
			continue
		}
		seen[target] = true
		citations = append(citations, core.Citation{
			ID:               uuid.NewString(),
			SourceResourceID: sourceResourceID,
			TargetURL:        target,
			CitationType:     core.CitationReference,
			Context:          snippet(text, loc[0], loc[1]),
			Position:         len(citations),
			CreatedAt:        now,
		})
	}

	return citations, nil
}

// classifyCitation buckets a target URL by host.
func classifyCitation(target string) core.CitationType {
	switch {
	case strings.Contains(target, "github.com"), strings.Contains(target, "gitlab.com"):
		return core.CitationCode
	case strings.Contains(target, "doi.org"), strings.Contains(target, "arxiv.org"):
		return core.CitationReference
	case strings.Contains(target, "kaggle.com"), strings.Contains(target, "zenodo.org"),
		strings.Contains(target, "huggingface.co/datasets"):
		return core.CitationDataset
	default:
		return core.CitationGeneral
	}
}

func snippet(text string, start, end int) string {
	from := start - contextRadius
	if from < 0 {
		from = 0
	}
	to := end + contextRadius
	if to > len(text) {
		to = len(text)
	}
	return strings.TrimSpace(strings.ReplaceAll(text[from:to], "\n", " "))
}
