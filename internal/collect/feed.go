package collect

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/mmcdole/gofeed"
)

const maxPerFeed = 20

// FeedConfig represents a single feed configuration.
type FeedConfig struct {
	URL      string
	Name     string
	Language string
}

// FeedParser parses RSS/Atom feeds.
type FeedParser struct {
	feeds  []FeedConfig
	parser *gofeed.Parser
}

// NewFeedParser creates a new FeedParser.
func NewFeedParser(feeds []FeedConfig) *FeedParser {
	return &FeedParser{feeds: feeds, parser: gofeed.NewParser()}
}

// ParseAll parses all configured feeds and returns entries published in
// [from, to]. A broken feed is logged and skipped.
func (fp *FeedParser) ParseAll(ctx context.Context, from, to time.Time) []RawArticle {
	var all []RawArticle
	for _, fc := range fp.feeds {
		name := fc.Name
		if name == "" {
			name = extractSourceName(fc.URL)
		}

		entries, err := fp.parseFeed(ctx, fc, name, from, to)
		if err != nil {
			slog.Warn("failed to parse feed", "url", fc.URL, "error", err)
			continue
		}
		all = append(all, entries...)
		slog.Info("parsed feed", "source", name, "entries", len(entries))
	}
	return all
}

func (fp *FeedParser) parseFeed(ctx context.Context, fc FeedConfig, sourceName string, from, to time.Time) ([]RawArticle, error) {
	feed, err := fp.parser.ParseURLWithContext(fc.URL, ctx)
	if err != nil {
		return nil, err
	}

	var entries []RawArticle
	for _, item := range feed.Items {
		if len(entries) >= maxPerFeed {
			break
		}

		entry := parseItem(item, sourceName)
		if entry == nil {
			continue
		}
		if !isWithinWindow(entry.PublishedAt, from, to) {
			continue
		}
		entry.Language = fc.Language
		entries = append(entries, *entry)
	}

	return entries, nil
}

func parseItem(item *gofeed.Item, source string) *RawArticle {
	itemURL := item.Link
	if itemURL == "" {
		itemURL = item.GUID
	}
	if itemURL == "" {
		return nil
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		return nil
	}

	var published time.Time
	if item.PublishedParsed != nil {
		published = *item.PublishedParsed
	} else if item.UpdatedParsed != nil {
		published = *item.UpdatedParsed
	}

	var author string
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		author = item.Authors[0].Name
	}

	var image string
	if item.Image != nil {
		image = item.Image.URL
	}

	return &RawArticle{
		URL:         itemURL,
		Title:       title,
		Author:      author,
		Description: stripHTML(item.Description),
		ImageURL:    image,
		PublishedAt: published,
		Content:     stripHTML(item.Content),
		Source:      source,
	}
}

// isWithinWindow gives undated entries the benefit of the doubt.
func isWithinWindow(published, from, to time.Time) bool {
	if published.IsZero() {
		return true
	}
	if !from.IsZero() && published.Before(from) {
		return false
	}
	if !to.IsZero() && published.After(to) {
		return false
	}
	return true
}

func stripHTML(text string) string {
	if text == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return strings.Join(strings.Fields(text), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func extractSourceName(feedURL string) string {
	u, err := url.Parse(feedURL)
	if err != nil || u.Hostname() == "" {
		return feedURL
	}
	host := strings.ToLower(u.Hostname())

	for _, prefix := range []string{"www.", "blog.", "blogs.", "rss.", "feeds."} {
		host = strings.TrimPrefix(host, prefix)
	}

	parts := strings.Split(host, ".")
	if len(parts) >= 2 {
		name := parts[len(parts)-2]
		return strings.ToUpper(name[:1]) + name[1:]
	}
	return strings.ToUpper(host[:1]) + host[1:]
}
