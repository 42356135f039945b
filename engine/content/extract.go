// Package content fetches article pages and extracts their readable text.
//
// Text is collected from paragraph, heading and span elements in document
// order, joined with single spaces. Pages where that yields nothing fall back
// to a readability pass. Word counts are the number of characters in the
// extracted text, which suits CJK content.
package content

import (
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
)

// textSelector lists the elements whose text counts as article content.
// Nested matches are counted once per matching element.
const textSelector = "p, h1, h2, h3, h4, h5, span"

// Extract returns the readable text of an HTML page.
func Extract(html string, pageURL *url.URL) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("content: parse html: %w", err)
	}

	var parts []string
	doc.Find(textSelector).Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) > 0 {
		return strings.Join(parts, " "), nil
	}

	article, err := readability.FromReader(strings.NewReader(html), pageURL)
	if err != nil {
		// Nothing readable.
		return "", nil
	}
	return strings.Join(strings.Fields(article.TextContent), " "), nil
}

// Count returns the word count of extracted text.
func Count(text string) int { return utf8.RuneCountInString(text) }
