package extract

import (
	"fmt"
	"net/url"
	"strings"

	htmlmd "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
)

// Extractor converts fetched HTML into filtered markdown. Extraction is
// rooted at a configurable CSS selector so navigation chrome outside the
// documentation body never reaches the markdown converter.
type Extractor struct {
	selector string
	filter   *Filter
}

var socialHosts = []string{
	"twitter.com",
	"x.com",
	"facebook.com",
	"linkedin.com",
	"youtube.com",
	"instagram.com",
}

func New(selector string, filter *Filter) *Extractor {
	if filter == nil {
		filter = NewFilter(DefaultPatterns(), false)
	}
	return &Extractor{selector: selector, filter: filter}
}

// Extract selects the content root, drops navigational elements and social
// anchors, converts the remainder to markdown, and applies the pollution
// filter. Output is deterministic for a given input and configuration.
func (e *Extractor) Extract(pageURL, html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	root := doc.Find(e.selector)
	if root.Length() == 0 {
		root = doc.Find("body")
	}
	if root.Length() == 0 {
		return "", fmt.Errorf("no content root in document")
	}

	root.Find("header, footer, nav, aside").Remove()
	root.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href := sel.AttrOr("href", "")
		if isSocialLink(href) {
			sel.Remove()
		}
	})

	rootHTML, err := goquery.OuterHtml(root.First())
	if err != nil {
		return "", fmt.Errorf("serialize content root: %w", err)
	}

	host := ""
	if u, err := url.Parse(pageURL); err == nil {
		host = u.Hostname()
	}
	// Fenced code blocks keep source indentation byte-for-byte; the default
	// indented style would prepend four spaces to every code line.
	converter := htmlmd.NewConverter(host, true, &htmlmd.Options{
		CodeBlockStyle: "fenced",
	})
	markdown, err := converter.ConvertString(rootHTML)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}

	return e.filter.Apply(markdown), nil
}

func isSocialLink(href string) bool {
	u, err := url.Parse(strings.TrimSpace(href))
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	for _, s := range socialHosts {
		if host == s {
			return true
		}
	}
	return false
}
