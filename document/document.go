// Package document provides the read-only page handle handed to scrapers.
//
// A Document is a parsed snapshot of a loaded page: later navigation of the
// browsing context does not change it.
package document

import (
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// Document is a parsed, immutable page.
type Document struct {
	url  string
	base *url.URL
	doc  *goquery.Document
}

// Element is a node of a Document.
type Element struct {
	owner *Document
	node  *html.Node
}

// Parse builds a Document from raw HTML loaded from rawURL.
func Parse(rawURL, rawHTML string) (*Document, error) {
	return FromReader(rawURL, strings.NewReader(rawHTML))
}

// FromReader builds a Document from an HTML stream loaded from rawURL.
func FromReader(rawURL string, r io.Reader) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("document: parse %s: %w", rawURL, err)
	}
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("document: invalid url %q: %w", rawURL, err)
	}
	return &Document{url: rawURL, base: base, doc: doc}, nil
}

// URL returns the address the document was loaded from.
func (d *Document) URL() string { return d.url }

// Title returns the trimmed text of the first <title> element.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// HTML renders the whole document.
func (d *Document) HTML() (string, error) {
	return d.doc.Html()
}

// Root returns the document node.
func (d *Document) Root() *Element {
	return &Element{owner: d, node: d.doc.Nodes[0]}
}

// Elements evaluates an XPath expression relative to scope (the document
// root when scope is nil) and returns the matching element nodes in
// document order.
func (d *Document) Elements(scope *Element, expr string) ([]*Element, error) {
	top := d.scopeNode(scope)
	nodes, err := htmlquery.QueryAll(top, expr)
	if err != nil {
		return nil, fmt.Errorf("document: xpath %q: %w", expr, err)
	}
	return d.wrap(nodes), nil
}

// Select matches a CSS selector relative to scope (the document root when
// scope is nil).
func (d *Document) Select(scope *Element, selector string) ([]*Element, error) {
	sel, err := cascadia.Parse(selector)
	if err != nil {
		return nil, fmt.Errorf("document: selector %q: %w", selector, err)
	}
	return d.wrap(cascadia.QueryAll(d.scopeNode(scope), sel)), nil
}

// Links returns the resolved href of every <a> element in document order.
// Links that cannot be resolved against the document URL are skipped.
func (d *Document) Links() []string {
	var links []string
	d.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if abs := d.resolve(href); abs != "" {
			links = append(links, abs)
		}
	})
	return links
}

func (d *Document) scopeNode(scope *Element) *html.Node {
	if scope == nil || scope.node == nil {
		return d.doc.Nodes[0]
	}
	return scope.node
}

func (d *Document) wrap(nodes []*html.Node) []*Element {
	out := make([]*Element, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, &Element{owner: d, node: n})
	}
	return out
}

func (d *Document) resolve(ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	u, err := d.base.Parse(ref)
	if err != nil {
		return ""
	}
	return u.String()
}

// Owner returns the document the element belongs to.
func (e *Element) Owner() *Document { return e.owner }

// Node exposes the underlying html node.
func (e *Element) Node() *html.Node { return e.node }

// NodeName returns the upper-cased tag name, or "#text" for text nodes.
func (e *Element) NodeName() string {
	switch e.node.Type {
	case html.TextNode:
		return "#text"
	case html.DocumentNode:
		return "#document"
	}
	return strings.ToUpper(e.node.Data)
}

// Text returns the concatenated text content of the element.
func (e *Element) Text() string {
	return goquery.NewDocumentFromNode(e.node).Text()
}

// Attr returns the named attribute, or "" when absent.
func (e *Element) Attr(name string) string {
	for _, a := range e.node.Attr {
		if strings.EqualFold(a.Key, name) {
			return a.Val
		}
	}
	return ""
}

// Href returns the element's href attribute resolved against the document URL.
func (e *Element) Href() string {
	return e.owner.resolve(e.Attr("href"))
}

// OuterHTML renders the element including its own tag.
func (e *Element) OuterHTML() (string, error) {
	return goquery.OuterHtml(goquery.NewDocumentFromNode(e.node).Selection)
}

// InnerHTML renders the element's children.
func (e *Element) InnerHTML() (string, error) {
	return goquery.NewDocumentFromNode(e.node).Html()
}
