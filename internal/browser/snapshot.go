package browser

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Snapshot is a parsed, read-only copy of a document. The chromedp driver
// queries through snapshots, and tests use them as a fake DOM.
type Snapshot struct {
	doc *goquery.Document
}

// NewSnapshot parses an HTML document.
func NewSnapshot(r io.Reader) (*Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse document: %w", err)
	}
	return &Snapshot{doc: doc}, nil
}

// NewSnapshotFromString parses an HTML string.
func NewSnapshotFromString(s string) (*Snapshot, error) {
	return NewSnapshot(strings.NewReader(s))
}

func (s *Snapshot) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	return queryAll(ctx, s.doc.Selection, selector)
}

// Title returns the text of the document's <title>.
func (s *Snapshot) Title() string {
	return strings.TrimSpace(s.doc.Find("title").First().Text())
}

type snapshotElement struct {
	sel *goquery.Selection
}

func queryAll(ctx context.Context, sel *goquery.Selection, selector string) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, mapContextErr(err)
	}
	found := sel.Find(selector)
	els := make([]Element, 0, found.Length())
	found.Each(func(_ int, s *goquery.Selection) {
		els = append(els, snapshotElement{sel: s})
	})
	return els, nil
}

func (e snapshotElement) QueryAll(ctx context.Context, selector string) ([]Element, error) {
	return queryAll(ctx, e.sel, selector)
}

func (e snapshotElement) Text(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", mapContextErr(err)
	}
	var b strings.Builder
	for _, n := range e.sel.Nodes {
		visibleText(&b, n)
	}
	return strings.TrimSpace(b.String()), nil
}

func (e snapshotElement) Attribute(ctx context.Context, name string) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, mapContextErr(err)
	}
	v, ok := e.sel.Attr(name)
	return v, ok, nil
}

func (e snapshotElement) Within(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, mapContextErr(err)
	}
	return e.sel.ParentsFiltered(selector).Length() > 0, nil
}

// visibleText concatenates the text nodes under n, skipping non-rendered
// subtrees. Emoji are rendered by the site as <img alt="...">, so alt text counts.
func visibleText(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		b.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.DataAtom {
		case atom.Script, atom.Style, atom.Noscript, atom.Template:
			return
		case atom.Img:
			for _, a := range n.Attr {
				if a.Key == "alt" {
					b.WriteString(a.Val)
				}
			}
			return
		case atom.Br:
			b.WriteString("\n")
			return
		}
		for _, a := range n.Attr {
			if (a.Key == "hidden") || (a.Key == "aria-hidden" && a.Val == "true") {
				return
			}
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		visibleText(b, c)
	}
}
