// Package extractor pulls SEO metadata out of HTML documents using goquery.
package extractor

import (
	"bytes"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/page-analyzer/internal/analyzer"
)

// Extractor implements analyzer.Extractor.
type Extractor struct{}

// New returns an Extractor.
func New() *Extractor {
	return &Extractor{}
}

// Extract returns the first <h1> text, the <title> text and the content of
// <meta name="description">. Parsing is best-effort: anything missing or
// unreadable comes back as an empty string. Invalid UTF-8 sequences are
// replaced with U+FFFD so the values can always be stored as text.
func (e *Extractor) Extract(body []byte) analyzer.Metadata {
	if len(body) == 0 {
		return analyzer.Metadata{}
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return analyzer.Metadata{}
	}
	return analyzer.Metadata{
		H1:          firstText(doc, "h1"),
		Title:       firstText(doc, "title"),
		Description: metaDescription(doc),
	}
}

func firstText(doc *goquery.Document, selector string) string {
	return clean(doc.Find(selector).First().Text())
}

func metaDescription(doc *goquery.Document) string {
	var content string
	doc.Find("meta[name]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		name, _ := s.Attr("name")
		if !strings.EqualFold(strings.TrimSpace(name), "description") {
			return true
		}
		content, _ = s.Attr("content")
		return false
	})
	return clean(content)
}

func clean(s string) string {
	return strings.TrimSpace(strings.ToValidUTF8(s, "\uFFFD"))
}
