package collect

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// RawArticle is an article record as returned by a source, before scraping.
type RawArticle struct {
	URL         string
	Title       string
	Author      string
	Description string
	ImageURL    string
	PublishedAt time.Time
	Content     string
	Source      string
	Language    string
	// Extra holds the fields of the API record that have no column of their
	// own. Numbers are json.Number so wide integers survive decoding.
	Extra map[string]any
}

// APIError is a non-OK answer from NewsAPI.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("newsapi %d %s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("newsapi HTTP %d", e.StatusCode)
}

// Retryable reports whether repeating the request may succeed.
func (e *APIError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// EverythingQuery parameterizes a /v2/everything search.
type EverythingQuery struct {
	Sources  []string
	Query    string
	Language string
	From     time.Time
	To       time.Time
	PageSize int
}

// NewsAPIClient fetches articles from NewsAPI.
type NewsAPIClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewNewsAPIClient creates a new NewsAPI client reading its key from apiKeyEnv.
func NewNewsAPIClient(baseURL, apiKeyEnv string) *NewsAPIClient {
	if baseURL == "" {
		baseURL = "https://newsapi.org"
	}
	return &NewsAPIClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  os.Getenv(apiKeyEnv),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

// IsConfigured returns whether the API key is available.
func (c *NewsAPIClient) IsConfigured() bool {
	return c.apiKey != ""
}

// Everything searches all articles of the given sources within a date range.
func (c *NewsAPIClient) Everything(ctx context.Context, q EverythingQuery) ([]RawArticle, error) {
	params := url.Values{}
	if len(q.Sources) > 0 {
		params.Set("sources", strings.Join(q.Sources, ","))
	}
	if q.Query != "" {
		params.Set("q", q.Query)
	}
	if q.Language != "" {
		params.Set("language", q.Language)
	}
	if !q.From.IsZero() {
		params.Set("from", q.From.Format("2006-01-02"))
	}
	if !q.To.IsZero() {
		params.Set("to", q.To.Format("2006-01-02"))
	}
	if q.PageSize > 0 {
		params.Set("pageSize", strconv.Itoa(min(q.PageSize, 100)))
	}

	articles, err := c.get(ctx, "/v2/everything", params)
	if err != nil {
		return nil, err
	}
	for i := range articles {
		articles[i].Language = q.Language
	}
	slog.Info("fetched articles from NewsAPI", "endpoint", "everything", "language", q.Language, "count", len(articles))
	return articles, nil
}

// TopHeadlines returns the current headlines of one category.
func (c *NewsAPIClient) TopHeadlines(ctx context.Context, category, language, country string) ([]RawArticle, error) {
	params := url.Values{}
	if category != "" {
		params.Set("category", category)
	}
	if language != "" {
		params.Set("language", language)
	}
	if country != "" {
		params.Set("country", country)
	}

	articles, err := c.get(ctx, "/v2/top-headlines", params)
	if err != nil {
		return nil, err
	}
	for i := range articles {
		articles[i].Language = language
	}
	slog.Info("fetched articles from NewsAPI", "endpoint", "top-headlines", "category", category, "count", len(articles))
	return articles, nil
}

func (c *NewsAPIClient) get(ctx context.Context, path string, params url.Values) ([]RawArticle, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("NewsAPI key not configured")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-Api-Key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("NewsAPI request: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		Status   string            `json:"status"`
		Code     string            `json:"code"`
		Message  string            `json:"message"`
		Articles []json.RawMessage `json:"articles"`
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading NewsAPI response: %w", err)
	}
	if err := json.Unmarshal(body, &result); err != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, &APIError{StatusCode: resp.StatusCode}
		}
		return nil, fmt.Errorf("decoding NewsAPI response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || result.Status != "ok" {
		return nil, &APIError{StatusCode: resp.StatusCode, Code: result.Code, Message: result.Message}
	}

	var articles []RawArticle
	for _, raw := range result.Articles {
		a, err := decodeArticle(raw)
		if err != nil {
			slog.Warn("skipping undecodable NewsAPI record", "error", err)
			continue
		}
		if a.URL == "" || a.Title == "" {
			continue
		}
		if a.Title == "[Removed]" || a.URL == "https://removed.com" {
			continue
		}

		var published time.Time
		if a.PublishedAt != "" {
			if t, err := time.Parse(time.RFC3339, a.PublishedAt); err == nil {
				published = t
			}
		}

		source := "NewsAPI"
		if a.Source.Name != "" {
			source = a.Source.Name
		}

		articles = append(articles, RawArticle{
			URL:         a.URL,
			Title:       strings.TrimSpace(a.Title),
			Author:      strings.TrimSpace(a.Author),
			Description: strings.TrimSpace(a.Description),
			ImageURL:    a.URLToImage,
			PublishedAt: published,
			Content:     strings.TrimSpace(a.Content),
			Source:      source,
			Extra:       a.extra,
		})
	}
	return articles, nil
}

// newsAPIFields are the record keys mapped onto RawArticle fields.
var newsAPIFields = []string{"url", "title", "author", "description", "urlToImage", "publishedAt", "content", "source"}

type newsAPIArticle struct {
	URL         string `json:"url"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Description string `json:"description"`
	URLToImage  string `json:"urlToImage"`
	PublishedAt string `json:"publishedAt"`
	Content     string `json:"content"`
	Source      struct {
		Name string `json:"name"`
	} `json:"source"`

	extra map[string]any
}

func decodeArticle(raw json.RawMessage) (newsAPIArticle, error) {
	var a newsAPIArticle
	if err := json.Unmarshal(raw, &a); err != nil {
		return a, err
	}

	var all map[string]any
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&all); err != nil {
		return a, err
	}
	for _, k := range newsAPIFields {
		delete(all, k)
	}
	if len(all) > 0 {
		a.extra = all
	}
	return a, nil
}
