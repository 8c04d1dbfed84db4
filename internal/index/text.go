package index

import (
	"math"
	"sort"
	"strings"
	"sync"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// BM25 parameters. Standard values; the score only needs to be a bounded
// non-negative ranking signal because results are normalized before fusion.
const (
	bm25K1 = 1.2
	bm25B  = 0.75
)

// TextIndex is an inverted index over title, description, and extracted
// text with BM25-style ranking. Safe for concurrent use.
type TextIndex struct {
	mu        sync.RWMutex
	postings  map[string]map[string]int // token -> resource id -> term frequency
	docLens   map[string]int            // resource id -> token count
	totalLen  int
	stopwords map[string]bool
}

// NewTextIndex creates a text index with the given stopword set. An empty
// slice falls back to the default English stopwords.
func NewTextIndex(stopwords []string) *TextIndex {
	set := make(map[string]bool)
	if len(stopwords) == 0 {
		stopwords = defaultStopwords
	}
	for _, w := range stopwords {
		set[strings.ToLower(w)] = true
	}
	return &TextIndex{
		postings:  make(map[string]map[string]int),
		docLens:   make(map[string]int),
		stopwords: set,
	}
}

// Index adds or replaces the lexical entry for a resource.
func (t *TextIndex) Index(resourceID string, bundle TextBundle) {
	tokens := t.Tokenize(bundle.Title + " " + bundle.Description + " " + bundle.Text)

	t.mu.Lock()
	defer t.mu.Unlock()

	t.removeLocked(resourceID)

	t.docLens[resourceID] = len(tokens)
	t.totalLen += len(tokens)
	for _, tok := range tokens {
		byDoc, ok := t.postings[tok]
		if !ok {
			byDoc = make(map[string]int)
			t.postings[tok] = byDoc
		}
		byDoc[resourceID]++
	}
}

// Remove deletes a resource's lexical entry. Idempotent.
func (t *TextIndex) Remove(resourceID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(resourceID)
}

func (t *TextIndex) removeLocked(resourceID string) {
	length, ok := t.docLens[resourceID]
	if !ok {
		return
	}
	t.totalLen -= length
	delete(t.docLens, resourceID)
	for tok, byDoc := range t.postings {
		if _, ok := byDoc[resourceID]; ok {
			delete(byDoc, resourceID)
			if len(byDoc) == 0 {
				delete(t.postings, tok)
			}
		}
	}
}

// Search returns up to limit candidates ranked by BM25, with scores
// normalized to [0,1] within the result set. The allowed set, when non-nil,
// is applied before ranking; only members may appear.
func (t *TextIndex) Search(query string, limit int, allowed map[string]bool) []Hit {
	tokens := t.Tokenize(query)
	if len(tokens) == 0 {
		return nil
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	docCount := len(t.docLens)
	if docCount == 0 {
		return nil
	}
	avgLen := float64(t.totalLen) / float64(docCount)

	scores := make(map[string]float64)
	for _, tok := range tokens {
		byDoc, ok := t.postings[tok]
		if !ok {
			continue
		}
		idf := math.Log(1 + (float64(docCount)-float64(len(byDoc))+0.5)/(float64(len(byDoc))+0.5))
		for id, tf := range byDoc {
			if allowed != nil && !allowed[id] {
				continue
			}
			docLen := float64(t.docLens[id])
			denom := float64(tf) + bm25K1*(1-bm25B+bm25B*docLen/avgLen)
			scores[id] += idf * float64(tf) * (bm25K1 + 1) / denom
		}
	}

	hits := make([]Hit, 0, len(scores))
	for id, score := range scores {
		hits = append(hits, Hit{ResourceID: id, Score: score})
	}
	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ResourceID < hits[j].ResourceID
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return normalizeScores(hits)
}

// Tokenize lowercases, NFC-normalizes, splits on Unicode word boundaries,
// and drops stopwords. No stemming.
func (t *TextIndex) Tokenize(text string) []string {
	normalized := norm.NFC.String(strings.ToLower(text))
	fields := strings.FieldsFunc(normalized, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		if t.stopwords[f] {
			continue
		}
		tokens = append(tokens, f)
	}
	return tokens
}

// snapshot captures the indexed bundle-equivalent state for rollback. The
// text index stores tokens, not the bundle, so the snapshot is the raw
// posting state reconstructed on restore.
func (t *TextIndex) snapshot(resourceID string) (map[string]int, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if _, ok := t.docLens[resourceID]; !ok {
		return nil, false
	}
	tfs := make(map[string]int)
	for tok, byDoc := range t.postings {
		if tf, ok := byDoc[resourceID]; ok {
			tfs[tok] = tf
		}
	}
	return tfs, true
}

func (t *TextIndex) restore(resourceID string, tfs map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.removeLocked(resourceID)
	length := 0
	for tok, tf := range tfs {
		byDoc, ok := t.postings[tok]
		if !ok {
			byDoc = make(map[string]int)
			t.postings[tok] = byDoc
		}
		byDoc[resourceID] = tf
		length += tf
	}
	t.docLens[resourceID] = length
	t.totalLen += length
}

var defaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from",
	"has", "he", "in", "is", "it", "its", "of", "on", "that", "the",
	"to", "was", "were", "will", "with", "this", "but", "they",
	"have", "had", "what", "said", "each", "which", "she", "do", "how",
	"their", "if", "up", "out", "many", "then", "them", "these", "so",
	"some", "her", "would", "make", "like", "into", "him", "time", "two",
}
