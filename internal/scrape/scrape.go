package scrape

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"
)

// NoContentMessage is reported when a page could not be parsed.
const NoContentMessage = "No content usable"

// Result holds the outcome of scraping one URL.
type Result struct {
	Content    string
	Message    string
	StatusCode int
}

// Scraper fetches article pages and extracts their body text.
type Scraper struct {
	client    *http.Client
	userAgent string
	trims     map[string]int
}

// Options configures a Scraper.
type Options struct {
	Timeout   time.Duration
	UserAgent string
	// Trims maps a lower-cased source name to the number of leading
	// characters to drop from its articles.
	Trims map[string]int
}

// New creates a Scraper.
func New(opts Options) *Scraper {
	if opts.Timeout == 0 {
		opts.Timeout = 15 * time.Second
	}
	if opts.UserAgent == "" {
		opts.UserAgent = "NewsContinent/1.0 (news aggregator)"
	}
	trims := make(map[string]int, len(opts.Trims))
	for k, v := range opts.Trims {
		trims[strings.ToLower(k)] = v
	}
	return &Scraper{
		client: &http.Client{
			Timeout: opts.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
		userAgent: opts.UserAgent,
		trims:     trims,
	}
}

// Scrape downloads articleURL and extracts its text. Failures never return
// an error; they yield empty content with a diagnostic message.
func (s *Scraper) Scrape(ctx context.Context, articleURL string) Result {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, articleURL, nil)
	if err != nil {
		return Result{Message: err.Error()}
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		slog.Warn("scrape request failed", "url", articleURL, "error", err)
		return Result{Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("scrape returned non-200", "url", articleURL, "status", resp.StatusCode)
		return Result{
			Message:    fmt.Sprintf("status code %d", resp.StatusCode),
			StatusCode: resp.StatusCode,
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Message: NoContentMessage, StatusCode: resp.StatusCode}
	}

	content, err := extract(body, articleURL)
	if err != nil {
		slog.Debug("could not parse page", "url", articleURL, "error", err)
		return Result{Message: NoContentMessage, StatusCode: resp.StatusCode}
	}
	return Result{Content: content, StatusCode: resp.StatusCode}
}

// TrimFor drops the configured boilerplate prefix of source from content.
func (s *Scraper) TrimFor(source, content string) string {
	n := s.trims[strings.ToLower(source)]
	if n <= 0 {
		return content
	}
	runes := []rune(content)
	if n >= len(runes) {
		return ""
	}
	return strings.TrimSpace(string(runes[n:]))
}

func extract(body []byte, articleURL string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", err
	}

	if text := articleText(doc); text != "" {
		return text, nil
	}
	if text := paragraphText(doc); text != "" {
		return text, nil
	}
	return readable(body, articleURL), nil
}

// articleText returns the text of the first <article> element. Quoted
// segments are kept and the trailing unquoted tail is dropped, which cuts
// most share and subscription boilerplate.
func articleText(doc *goquery.Document) string {
	article := doc.Find("article").First()
	if article.Length() == 0 {
		return ""
	}

	var parts []string
	collectText(article, &parts)
	text := strings.Join(parts, " ")

	if strings.Contains(text, `"`) {
		segments := strings.Split(text, `"`)
		text = strings.Join(segments[:len(segments)-1], " ")
	}
	return strings.Join(strings.Fields(text), " ")
}

// collectText appends the trimmed text nodes under sel in document order.
func collectText(sel *goquery.Selection, parts *[]string) {
	sel.Contents().Each(func(_ int, n *goquery.Selection) {
		switch goquery.NodeName(n) {
		case "#text":
			if t := strings.TrimSpace(n.Text()); t != "" {
				*parts = append(*parts, t)
			}
		case "script", "style", "noscript", "#comment":
		default:
			collectText(n, parts)
		}
	})
}

func paragraphText(doc *goquery.Document) string {
	var parts []string
	doc.Find("p").Each(func(_ int, p *goquery.Selection) {
		if t := strings.TrimSpace(p.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	return strings.Join(parts, " ")
}

func readable(body []byte, articleURL string) string {
	parsedURL, _ := url.Parse(articleURL)
	article, err := readability.FromReader(bytes.NewReader(body), parsedURL)
	if err != nil {
		return ""
	}
	text := strings.TrimSpace(article.TextContent)
	if len(text) > 100 {
		return strings.Join(strings.Fields(text), " ")
	}
	return ""
}
