package cleaner

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// noise is removed before content extraction.
var noise = []string{"script", "style", "noscript", "iframe", "nav", "footer", "form"}

// stripElements removes every element matching one of selectors from html.
// The input is returned unchanged when it cannot be parsed.
func stripElements(html string, selectors []string) string {
	if len(selectors) == 0 {
		return html
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return html
	}
	doc.Find(strings.Join(selectors, ", ")).Remove()

	out, err := doc.Html()
	if err != nil {
		return html
	}
	return out
}
