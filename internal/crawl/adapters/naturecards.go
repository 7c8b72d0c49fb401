// Package adapters contains SiteAdapter implementations for supported
// publisher listing layouts.
package adapters

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/scholarwatch/harvester/internal/crawl"
	"github.com/scholarwatch/harvester/internal/harvest"
)

// Listing streams paginated for every Nature-family source. Research and
// commentary articles live under distinct category paths.
var natureStreamPaths = []string{"research-articles", "news-and-comment"}

var natureDateLayouts = []string{
	time.DateOnly,
	"2 January 2006",
	"02 January 2006",
	"January 2, 2006",
}

// NatureCards parses Nature-style article-card listing pages: items are
// `article.c-card` elements and pagination is driven by the
// `li[data-test=page-next]` link.
type NatureCards struct{}

// NewNatureCards returns the adapter.
func NewNatureCards() *NatureCards {
	return &NatureCards{}
}

// Streams returns one stream per article category under the source's base URL.
func (a *NatureCards) Streams(source harvest.Source) []crawl.Stream {
	streams := make([]crawl.Stream, 0, len(natureStreamPaths))
	for _, path := range natureStreamPaths {
		streams = append(streams, crawl.Stream{
			Name:     path,
			StartURL: joinURL(source.ListingURL, path),
		})
	}
	return streams
}

// ParsePage extracts article cards and the next-page locator.
func (a *NatureCards) ParsePage(body []byte, pageURL string) (crawl.PageResult, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return crawl.PageResult{}, fmt.Errorf("parse listing page: %w", err)
	}
	base, err := url.Parse(pageURL)
	if err != nil {
		return crawl.PageResult{}, fmt.Errorf("parse page url: %w", err)
	}

	var items []harvest.CandidateItem
	doc.Find("article.c-card").Each(func(_ int, card *goquery.Selection) {
		item, ok := a.parseCard(card, base)
		if ok {
			items = append(items, item)
		}
	})
	if len(items) == 0 && doc.Find("article").Length() == 0 {
		return crawl.PageResult{}, fmt.Errorf("no article markup found at %s", pageURL)
	}

	next := ""
	if href, ok := doc.Find(`li[data-test="page-next"] a`).First().Attr("href"); ok {
		next = resolveURL(base, href)
	}
	return crawl.PageResult{Items: items, NextPage: next}, nil
}

func (a *NatureCards) parseCard(card *goquery.Selection, base *url.URL) (harvest.CandidateItem, bool) {
	link := card.Find("h3.c-card__title a").First()
	href, ok := link.Attr("href")
	if !ok {
		return harvest.CandidateItem{}, false
	}
	title := strings.TrimSpace(link.Text())
	if title == "" {
		return harvest.CandidateItem{}, false
	}
	absURL := resolveURL(base, href)

	item := harvest.CandidateItem{
		Title:    title,
		URL:      absURL,
		DOI:      doiFromPath(absURL),
		Abstract: strings.TrimSpace(card.Find("div.c-card__summary").First().Text()),
		Authors:  authorList(card),
	}
	if raw := cardDate(card); raw != "" {
		if parsed, err := parseListingDate(raw); err == nil {
			item.PublishedDate = parsed
		}
	}
	return item, true
}

func cardDate(card *goquery.Selection) string {
	timeTag := card.Find("time").First()
	if dt, ok := timeTag.Attr("datetime"); ok && dt != "" {
		return dt
	}
	return strings.TrimSpace(timeTag.Text())
}

func authorList(card *goquery.Selection) string {
	var authors []string
	card.Find("ul.c-author-list li").Each(func(_ int, li *goquery.Selection) {
		if name := strings.TrimSpace(li.Text()); name != "" {
			authors = append(authors, name)
		}
	})
	return strings.Join(authors, ", ")
}

func parseListingDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range natureDateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return harvest.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized listing date %q", raw)
}

// doiFromPath derives the DOI-like identifier from an article URL's last path
// segment. Empty when the path carries no segment.
func doiFromPath(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	if len(segments) == 0 {
		return ""
	}
	last := segments[len(segments)-1]
	if last == "" {
		return ""
	}
	return last
}

func joinURL(baseURL, path string) string {
	return strings.TrimRight(baseURL, "/") + "/" + strings.TrimLeft(path, "/")
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return href
	}
	return base.ResolveReference(ref).String()
}
