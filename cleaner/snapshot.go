// Package cleaner renders the readable snapshot stored with ingested items.
package cleaner

import (
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/ingester/document"
)

// Cleaner turns loaded pages into Markdown snapshots. The converter is
// created once and is safe for concurrent use.
type Cleaner struct {
	mdConverter *converter.Converter
	maxTokens   int
}

// NewCleaner creates a Cleaner. Snapshots longer than maxTokens (estimated)
// are cut; maxTokens <= 0 keeps them whole.
func NewCleaner(maxTokens int) *Cleaner {
	return &Cleaner{
		mdConverter: newMarkdownConverter(),
		maxTokens:   maxTokens,
	}
}

// Snapshot renders the main content of doc as Markdown. It falls back to
// the plain text of the page and never fails.
func (c *Cleaner) Snapshot(doc *document.Document) string {
	raw, err := doc.HTML()
	if err != nil {
		slog.Warn("snapshot: render failed", "url", doc.URL(), "error", err)
		return ""
	}
	raw = stripElements(raw, noise)

	article, ok := ExtractContent(raw, doc.URL())
	content := article.TextContent
	if ok {
		md, err := ToMarkdown(c.mdConverter, article.Content, doc.URL())
		if err != nil {
			slog.Warn("snapshot: markdown conversion failed", "url", doc.URL(), "error", err)
		} else {
			content = md
		}
	} else {
		content = plainText(raw)
	}
	return c.truncate(strings.TrimSpace(content))
}

// plainText extracts the visible text of an HTML fragment.
func plainText(html string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func (c *Cleaner) truncate(s string) string {
	if c.maxTokens <= 0 || estimateTokens(s) <= c.maxTokens {
		return s
	}
	runes := []rune(s)
	limit := c.maxTokens * 3
	if limit >= len(runes) {
		return s
	}
	return string(runes[:limit])
}

// estimateTokens approximates a token count as runes / 3, at least 1 for
// non-empty text.
func estimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return max(n/3, 1)
}
