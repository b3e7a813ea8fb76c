// Package utility is the helper bundle handed to scraper scripts.
//
// Helpers never fail loudly: problems are logged as UTILITY_FAILED and the
// helper returns an empty result.
package utility

import (
	"log/slog"
	"strings"

	"github.com/use-agent/ingester/document"
	"github.com/use-agent/ingester/models"
)

// spaceChars are stripped by Trim; U+00A0 is &nbsp;.
const spaceChars = " \n\r\t\u00a0"

// Trim strips leading and trailing whitespace, including non-breaking spaces.
func Trim(s string) string {
	return strings.Trim(s, spaceChars)
}

// ElementsMatching evaluates an XPath expression relative to scope.
func ElementsMatching(doc *document.Document, scope *document.Element, expr string) []*document.Element {
	if doc == nil {
		logFailure("elementsMatching", models.NewIngestError(models.ErrCodeUtility, "no document", nil))
		return nil
	}
	els, err := doc.Elements(scope, expr)
	if err != nil {
		logFailure("elementsMatching", err)
		return nil
	}
	return els
}

// SelectMatching matches a CSS selector relative to scope.
func SelectMatching(doc *document.Document, scope *document.Element, selector string) []*document.Element {
	if doc == nil {
		logFailure("select", models.NewIngestError(models.ErrCodeUtility, "no document", nil))
		return nil
	}
	els, err := doc.Select(scope, selector)
	if err != nil {
		logFailure("select", err)
		return nil
	}
	return els
}

// LinksContaining returns the unique link targets containing substring,
// most recently found first.
func LinksContaining(doc *document.Document, substring string) []string {
	if doc == nil {
		return nil
	}
	seen := make(map[string]struct{})
	var found []string
	for _, href := range doc.Links() {
		if !strings.Contains(href, substring) {
			continue
		}
		if _, ok := seen[href]; ok {
			continue
		}
		seen[href] = struct{}{}
		found = append(found, href)
	}
	for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
		found[i], found[j] = found[j], found[i]
	}
	return found
}

func logFailure(helper string, err error) {
	slog.Warn("utility helper failed",
		"code", models.ErrCodeUtility,
		"helper", helper,
		"error", err,
	)
}
