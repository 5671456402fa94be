package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/domain"
)

const (
	acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"

	// Listing scrape bounds: how many anchors to examine, how many items
	// to keep, and how many article pages to fetch for body text.
	maxScannedAnchors = 50
	maxListingItems   = 20
	maxBodyFetches    = 10
	minLinkTextRunes  = 20
)

var newsPathMarkers = []string{"/news/", "/press/", "/novosti/"}

// fetchListing scrapes a news listing page of an official site without a
// feed. Anchors whose path looks like a news link and whose text is long
// enough to be a headline become raw items.
func (f *Fetcher) fetchListing(ctx context.Context, src config.Source) ([]domain.RawItem, error) {
	base, err := url.Parse(src.URL)
	if err != nil {
		return nil, fmt.Errorf("parse listing url %s: %w", src.ID, err)
	}

	resp, err := f.get(ctx, src, src.URL, acceptHTML)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse listing %s: %w", src.ID, err)
	}

	var (
		items []domain.RawItem
		seen  = make(map[string]bool)
	)

	doc.Find("a[href]").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		if i >= maxScannedAnchors || len(items) >= maxListingItems {
			return false
		}

		href, _ := sel.Attr("href")
		text := strings.TrimSpace(sel.Text())

		if !looksLikeNewsLink(href) || utf8.RuneCountInString(text) <= minLinkTextRunes {
			return true
		}

		abs := resolveHref(base, href)
		if abs == "" || seen[abs] {
			return true
		}

		seen[abs] = true
		items = append(items, domain.RawItem{
			SourceID:   src.ID,
			SourceName: src.Name,
			URL:        abs,
			Title:      text,
			RegionHint: src.RegionHint,
		})

		return true
	})

	// Listing anchors carry no summary, so fetch the article body for the
	// first few same-host items. A failed body fetch keeps the item.
	fetched := 0

	for i := range items {
		if fetched >= maxBodyFetches {
			break
		}

		link, err := url.Parse(items[i].URL)
		if err != nil || link.Host != base.Host {
			continue
		}

		fetched++

		body, err := f.FullText(ctx, src, items[i].URL)
		if err != nil {
			f.logger.Debug().Err(err).Str("url", items[i].URL).Msg("article body unavailable")

			continue
		}

		items[i].RawHTML = body
	}

	return items, nil
}

// FullText fetches an article page and extracts the readable body text.
// Used for listing items that carry no feed summary.
func (f *Fetcher) FullText(ctx context.Context, src config.Source, pageURL string) (string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil {
		return "", fmt.Errorf("parse article url: %w", err)
	}

	resp, err := f.get(ctx, src, pageURL, acceptHTML)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	article, err := readability.FromReader(resp.Body, parsed)
	if err != nil {
		return "", fmt.Errorf("extract article: %w", err)
	}

	return strings.TrimSpace(article.TextContent), nil
}

func looksLikeNewsLink(href string) bool {
	for _, marker := range newsPathMarkers {
		if strings.Contains(href, marker) {
			return true
		}
	}

	return false
}

func resolveHref(base *url.URL, href string) string {
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}

	resolved := base.ResolveReference(ref)
	if resolved.Scheme != "http" && resolved.Scheme != "https" {
		return ""
	}

	return resolved.String()
}
