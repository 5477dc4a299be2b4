package filter

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// DefaultKeywords marks URLs and titles that point at video or audio pages.
var DefaultKeywords = []string{"video", "watch", "stream", "youtube", "vimeo", "sound"}

// IsArticle reports whether neither url nor title contains one of the keywords.
func IsArticle(url, title string, keywords []string) bool {
	u := strings.ToLower(url)
	t := strings.ToLower(title)
	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(u, kw) || strings.Contains(t, kw) {
			return false
		}
	}
	return true
}

// ContentTypeChecker asks the origin server what a URL serves.
type ContentTypeChecker struct {
	client *http.Client
}

// NewContentTypeChecker creates a checker whose HEAD requests time out after timeout.
func NewContentTypeChecker(timeout time.Duration) *ContentTypeChecker {
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	return &ContentTypeChecker{client: &http.Client{Timeout: timeout}}
}

// IsHTML reports whether a HEAD request to url answers with an HTML content
// type. Any request failure counts as not HTML.
func (c *ContentTypeChecker) IsHTML(ctx context.Context, url string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		slog.Debug("HEAD request failed", "url", url, "error", err)
		return false
	}
	resp.Body.Close()
	return strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html")
}

// Filter drops records that are not readable articles.
type Filter struct {
	keywords []string
	checker  *ContentTypeChecker
}

// New creates a Filter. Empty keywords fall back to DefaultKeywords.
func New(keywords []string, headTimeout time.Duration) *Filter {
	if len(keywords) == 0 {
		keywords = DefaultKeywords
	}
	return &Filter{keywords: keywords, checker: NewContentTypeChecker(headTimeout)}
}

// Keep reports whether the record passes both predicates. The keyword check
// runs first so excluded URLs are never requested.
func (f *Filter) Keep(ctx context.Context, url, title string) bool {
	if !IsArticle(url, title, f.keywords) {
		return false
	}
	return f.checker.IsHTML(ctx, url)
}
