package fetch

import (
	"context"
	"regexp"
	"strings"

	"alexandria/internal/core"

	"github.com/PuerkitoBio/goquery"
)

// Parsed is the normalized output of the parse stage.
type Parsed struct {
	Title    string
	Text     string // Normalized extracted text
	Language string
	Creator  string
	Publisher string
}

// largeDocThreshold is the body size beyond which the parser checks for
// cancellation between extraction passes.
const largeDocThreshold = 10 * 1024 * 1024

var multiNewline = regexp.MustCompile(`(\n\s*){2,}`)

// mainContentSelectors are tried in order before falling back to body text.
var mainContentSelectors = []string{
	"article", "main", ".main-content", ".entry-content", ".post-content",
	".post-body", ".article-body", "[role='main']", ".content", "#content",
}

// Parse extracts normalized text and basic metadata from fetched content.
// HTML goes through boilerplate removal; plain text passes through with
// whitespace normalization.
func Parse(ctx context.Context, result *Result) (*Parsed, error) {
	switch result.ContentType {
	case "text/plain", "text/markdown":
		return parsePlainText(result.Body)
	default:
		return parseHTML(ctx, result.Body)
	}
}

func parsePlainText(body []byte) (*Parsed, error) {
	text := strings.TrimSpace(multiNewline.ReplaceAllString(string(body), "\n"))
	if text == "" {
		return nil, core.Fatalf("document contains no text")
	}
	title := text
	if idx := strings.IndexByte(title, '\n'); idx > 0 {
		title = title[:idx]
	}
	if runes := []rune(title); len(runes) > 120 {
		title = string(runes[:120])
	}
	return &Parsed{Title: strings.TrimSpace(title), Text: text}, nil
}

func parseHTML(ctx context.Context, body []byte) (*Parsed, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return nil, core.Fatalf("failed to parse HTML: %v", err)
	}

	large := len(body) >= largeDocThreshold

	// Remove common non-content elements before extraction.
	doc.Find("script, style, nav, footer, header, aside, form, iframe, noscript, .sidebar, #sidebar, .ad, .advertisement, .popup, .modal, .cookie-banner").Remove()

	if large {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	var textBuilder strings.Builder
	for _, selector := range mainContentSelectors {
		doc.Find(selector).Each(func(i int, s *goquery.Selection) {
			s.Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, item *goquery.Selection) {
				textBuilder.WriteString(strings.TrimSpace(item.Text()))
				textBuilder.WriteString("\n\n")
			})
		})
		if textBuilder.Len() > 0 {
			break
		}
		if large {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
	}

	// Fall back to all body text when no main-content container matched.
	if textBuilder.Len() == 0 {
		doc.Find("body").Find("p, h1, h2, h3, h4, h5, h6, li, blockquote, pre").Each(func(_ int, item *goquery.Selection) {
			textBuilder.WriteString(strings.TrimSpace(item.Text()))
			textBuilder.WriteString("\n\n")
		})
	}

	text := strings.TrimSpace(multiNewline.ReplaceAllString(textBuilder.String(), "\n"))
	if text == "" {
		return nil, core.Fatalf("document contains no extractable text")
	}

	parsed := &Parsed{
		Title:     extractTitle(doc),
		Text:      text,
		Language:  extractLanguage(doc),
		Creator:   metaContent(doc, "meta[name='author']"),
		Publisher: metaContent(doc, "meta[property='og:site_name']"),
	}

	// Fallback title from the leading words of the content.
	if parsed.Title == "" {
		words := strings.Fields(text)
		if len(words) > 10 {
			words = words[:10]
		}
		parsed.Title = strings.Join(words, " ")
	}

	return parsed, nil
}

// extractTitle tries the title tag, then OpenGraph, then the first h1.
func extractTitle(doc *goquery.Document) string {
	if title := strings.TrimSpace(doc.Find("head title").First().Text()); title != "" {
		return title
	}
	if og, _ := doc.Find("meta[property='og:title']").Attr("content"); og != "" {
		return strings.TrimSpace(og)
	}
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

func extractLanguage(doc *goquery.Document) string {
	if lang, ok := doc.Find("html").Attr("lang"); ok {
		return strings.ToLower(strings.TrimSpace(lang))
	}
	return ""
}

func metaContent(doc *goquery.Document, selector string) string {
	content, _ := doc.Find(selector).Attr("content")
	return strings.TrimSpace(content)
}
