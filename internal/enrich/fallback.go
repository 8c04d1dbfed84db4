package enrich

import (
	"sort"
	"strings"

	"alexandria/internal/index"
)

// leadingSentences is the degraded summarizer: the first n sentences of the
// extracted text, capped in length.
func leadingSentences(text string, n int) string {
	const maxLen = 500

	var sentences []string
	remaining := strings.TrimSpace(text)
	for len(sentences) < n && remaining != "" {
		end := sentenceEnd(remaining)
		if end < 0 {
			sentences = append(sentences, remaining)
			break
		}
		sentences = append(sentences, strings.TrimSpace(remaining[:end+1]))
		remaining = strings.TrimSpace(remaining[end+1:])
	}

	summary := strings.Join(sentences, " ")
	if len(summary) > maxLen {
		summary = summary[:maxLen]
	}
	return summary
}

func sentenceEnd(s string) int {
	for i, r := range s {
		if r == '.' || r == '!' || r == '?' {
			// Skip decimals and abbreviations like "v1.2".
			if r == '.' && i+1 < len(s) && s[i+1] != ' ' && s[i+1] != '\n' {
				continue
			}
			return i
		}
		if r == '\n' {
			return i
		}
	}
	return -1
}

// keywordTags is the degraded tagger: the most frequent non-stopword tokens
// of length >= 4, at most limit of them.
func keywordTags(text string, limit int) []string {
	tokens := fallbackTokenizer.Tokenize(text)
	counts := make(map[string]int)
	for _, tok := range tokens {
		if len(tok) < 4 {
			continue
		}
		counts[tok]++
	}

	type freq struct {
		token string
		count int
	}
	ranked := make([]freq, 0, len(counts))
	for tok, count := range counts {
		ranked = append(ranked, freq{tok, count})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].count != ranked[j].count {
			return ranked[i].count > ranked[j].count
		}
		return ranked[i].token < ranked[j].token
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	tags := make([]string, len(ranked))
	for i, f := range ranked {
		tags[i] = f.token
	}
	return tags
}

// fallbackTokenizer reuses the retrieval tokenizer so degraded tags line up
// with what the text index will match on.
var fallbackTokenizer = index.NewTextIndex(nil)
