// Package htmldoc implements pageagent.Document over a static HTML document
// parsed with goquery.
package htmldoc

import (
	"fmt"
	"io"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/standardbeagle/tabgate/internal/codec"
	"github.com/standardbeagle/tabgate/internal/protocol"
)

// OriginalHrefAttr keeps the pre-rewrite href of a proxied anchor.
const OriginalHrefAttr = "data-proxy-original-href"

// Document is a parsed page. It has no layout, so rects and heights are zero
// and scroll or click only check that the element exists.
type Document struct {
	doc *goquery.Document
	url string
}

// New parses r as the document served at pageURL.
func New(r io.Reader, pageURL string) (*Document, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return &Document{doc: doc, url: pageURL}, nil
}

// Parse is New over a string.
func Parse(html, pageURL string) (*Document, error) {
	return New(strings.NewReader(html), pageURL)
}

// URL returns the address the document was loaded from.
func (d *Document) URL() string {
	return d.url
}

// Title returns the text of the first <title>.
func (d *Document) Title() string {
	return strings.TrimSpace(d.doc.Find("title").First().Text())
}

// HTML renders the document.
func (d *Document) HTML() (string, error) {
	return d.doc.Html()
}

// Text returns the visible text of the body.
func (d *Document) Text() string {
	body := d.doc.Find("body").First().Clone()
	body.Find("script, style, noscript, template").Remove()
	return collapseSpace(body.Text())
}

// Element implements pageagent.Document.
func (d *Document) Element(selector string) (*protocol.ElementSnapshot, error) {
	sel := d.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, nil
	}

	inner, err := sel.Html()
	if err != nil {
		return nil, fmt.Errorf("render %q: %w", selector, err)
	}
	attrs := make(map[string]string)
	for _, a := range sel.Nodes[0].Attr {
		attrs[a.Key] = a.Val
	}

	return &protocol.ElementSnapshot{
		TagName:     strings.ToUpper(goquery.NodeName(sel)),
		InnerHTML:   inner,
		TextContent: sel.Text(),
		InnerText:   collapseSpace(sel.Text()),
		Attributes:  attrs,
	}, nil
}

// QueryAll implements pageagent.Document.
func (d *Document) QueryAll(selector string) ([]protocol.ElementSummary, error) {
	out := []protocol.ElementSummary{}
	d.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		id, _ := s.Attr("id")
		class, _ := s.Attr("class")
		out = append(out, protocol.ElementSummary{
			TagName:     strings.ToUpper(goquery.NodeName(s)),
			TextContent: s.Text(),
			ID:          id,
			ClassName:   class,
		})
	})
	return out, nil
}

// PageInfo implements pageagent.Document.
func (d *Document) PageInfo() protocol.PageInfo {
	return protocol.PageInfo{
		Title:      d.Title(),
		URL:        d.url,
		ReadyState: "complete",
	}
}

// ScrollTo implements pageagent.Document.
func (d *Document) ScrollTo(selector string) (bool, error) {
	return d.doc.Find(selector).Length() > 0, nil
}

// Click implements pageagent.Document.
func (d *Document) Click(selector string) (bool, error) {
	return d.doc.Find(selector).Length() > 0, nil
}

// RewriteLinks points every absolute http(s) anchor at its proxied form and
// records the original href. It returns the number of anchors rewritten.
// Running it twice is a no-op the second time.
func (d *Document) RewriteLinks(c codec.Codec) int {
	n := 0
	d.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		if !isAbsoluteHTTP(href) {
			return
		}
		next := c.ToProxy(href)
		if next == href {
			return
		}
		s.SetAttr(OriginalHrefAttr, href)
		s.SetAttr("href", next)
		n++
	})
	return n
}

// Links returns the href of every anchor, in document order.
func (d *Document) Links() []string {
	var out []string
	d.doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		out = append(out, href)
	})
	return out
}

func isAbsoluteHTTP(href string) bool {
	lower := strings.ToLower(strings.TrimSpace(href))
	return strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://")
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
