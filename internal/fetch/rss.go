package fetch

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"

	"github.com/infrawatch/signal-bot/internal/config"
	"github.com/infrawatch/signal-bot/internal/domain"
)

const acceptFeed = "application/rss+xml, application/xml, text/xml, */*"

const googleNewsBase = "https://news.google.com/rss/search"

func (f *Fetcher) fetchFeed(ctx context.Context, src config.Source) ([]domain.RawItem, error) {
	resp, err := f.get(ctx, src, src.URL, acceptFeed)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	feed, err := f.parser.Parse(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", src.ID, err)
	}

	items := make([]domain.RawItem, 0, len(feed.Items))

	for _, entry := range feed.Items {
		if item, ok := parseEntry(entry, src); ok {
			items = append(items, item)
		}
	}

	return items, nil
}

// parseEntry maps one feed entry to the raw item shape. Entries without a
// link or title are dropped.
func parseEntry(entry *gofeed.Item, src config.Source) (domain.RawItem, bool) {
	title := strings.TrimSpace(entry.Title)
	if entry.Link == "" || title == "" {
		return domain.RawItem{}, false
	}

	rawHTML := entry.Description
	if rawHTML == "" {
		rawHTML = entry.Content
	}

	return domain.RawItem{
		SourceID:    src.ID,
		SourceName:  src.Name,
		URL:         entry.Link,
		Title:       title,
		RawHTML:     rawHTML,
		PublishedAt: entryPublished(entry),
		RegionHint:  src.RegionHint,
	}, true
}

// entryPublished picks the published instant, falling back to the updated
// one and to lenient parsing of the raw date strings.
func entryPublished(entry *gofeed.Item) *time.Time {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed
	}

	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed
	}

	for _, raw := range []string{entry.Published, entry.Updated} {
		if raw == "" {
			continue
		}

		if t, err := dateparse.ParseAny(raw); err == nil {
			return &t
		}
	}

	return nil
}

// googleNewsURL builds the search feed URL for a query source.
func googleNewsURL(src config.Source) string {
	hl := src.HL
	if hl == "" {
		hl = "ru"
	}

	gl := src.GL
	if gl == "" {
		gl = "RU"
	}

	ceid := src.CEID
	if ceid == "" {
		ceid = "RU:ru"
	}

	q := url.Values{}
	q.Set("q", src.Query)
	q.Set("hl", hl)
	q.Set("gl", gl)
	q.Set("ceid", ceid)

	return googleNewsBase + "?" + q.Encode()
}
