package collect

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/TobiSchelling/NewsContinent/internal/config"
)

// Window is the publication date range a collection run asks for.
type Window struct {
	From time.Time
	To   time.Time
}

// LastDays returns the window covering the daysBack days before now.
func LastDays(now time.Time, daysBack int) Window {
	return Window{From: now.AddDate(0, 0, -daysBack), To: now}
}

// Collector orchestrates article collection from NewsAPI and RSS feeds.
type Collector struct {
	news       *NewsAPIClient
	groups     []config.SourceGroup
	categories []string
	country    string
	language   string
	pageSize   int
	feedParser *FeedParser
}

// NewCollector creates a new article collector.
func NewCollector(cfg *config.Config) *Collector {
	c := &Collector{}

	apiCfg := cfg.Sources.NewsAPI
	if apiCfg.Enabled {
		c.news = NewNewsAPIClient(apiCfg.BaseURL, apiCfg.APIKeyEnv)
		c.groups = apiCfg.Groups
		c.categories = apiCfg.Categories
		c.country = apiCfg.Country
		c.language = apiCfg.HeadlinesLanguage
		c.pageSize = apiCfg.PageSize
	}

	if len(cfg.Sources.Feeds) > 0 {
		feeds := make([]FeedConfig, len(cfg.Sources.Feeds))
		for i, f := range cfg.Sources.Feeds {
			feeds[i] = FeedConfig{URL: f.URL, Name: f.Name, Language: f.Language}
		}
		c.feedParser = NewFeedParser(feeds)
	}

	return c
}

// Collect fetches every configured source group for the window and returns
// the merged records, deduplicated by URL. A NewsAPI failure aborts the
// whole batch.
func (c *Collector) Collect(ctx context.Context, w Window) ([]RawArticle, error) {
	seen := make(map[string]struct{})
	var all []RawArticle
	add := func(articles []RawArticle) {
		for _, a := range articles {
			if _, ok := seen[a.URL]; ok {
				continue
			}
			seen[a.URL] = struct{}{}
			all = append(all, a)
		}
	}

	if c.news != nil {
		if !c.news.IsConfigured() {
			return nil, fmt.Errorf("NewsAPI enabled but no API key configured")
		}
		for _, g := range c.groups {
			articles, err := c.news.Everything(ctx, EverythingQuery{
				Sources:  g.Sources,
				Query:    g.Query,
				Language: g.Language,
				From:     w.From,
				To:       w.To,
				PageSize: c.pageSize,
			})
			if err != nil {
				return nil, fmt.Errorf("collecting %s sources: %w", g.Language, err)
			}
			add(articles)
		}
	}

	if c.feedParser != nil {
		add(c.feedParser.ParseAll(ctx, w.From, w.To))
	}

	slog.Info("collection complete", "articles", len(all))
	return all, nil
}

// Headlines fetches the top headlines of every configured category.
func (c *Collector) Headlines(ctx context.Context) ([]RawArticle, error) {
	if c.news == nil || !c.news.IsConfigured() {
		return nil, fmt.Errorf("NewsAPI not configured")
	}

	seen := make(map[string]struct{})
	var all []RawArticle
	for _, category := range c.categories {
		articles, err := c.news.TopHeadlines(ctx, category, c.language, c.country)
		if err != nil {
			return nil, fmt.Errorf("collecting %s headlines: %w", category, err)
		}
		for _, a := range articles {
			if _, ok := seen[a.URL]; ok {
				continue
			}
			seen[a.URL] = struct{}{}
			all = append(all, a)
		}
	}
	return all, nil
}
