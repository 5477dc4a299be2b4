package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/NewsContinent/internal/collect"
	"github.com/TobiSchelling/NewsContinent/internal/config"
	"github.com/TobiSchelling/NewsContinent/internal/database"
	"github.com/TobiSchelling/NewsContinent/internal/filter"
	"github.com/TobiSchelling/NewsContinent/internal/metrics"
	"github.com/TobiSchelling/NewsContinent/internal/persist"
	"github.com/TobiSchelling/NewsContinent/internal/scrape"
	"github.com/TobiSchelling/NewsContinent/internal/summarize"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// StageError is a failed stage. Retryable errors may succeed when the run is
// repeated; the others need a configuration or code change.
type StageError struct {
	Stage     string
	Err       error
	Retryable bool
}

func (e *StageError) Error() string {
	kind := "fatal"
	if e.Retryable {
		kind = "retryable"
	}
	return fmt.Sprintf("%s (%s): %v", e.Stage, kind, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Result holds the results of a full pipeline run.
type Result struct {
	Steps   []StepResult
	Persist persist.Result
}

// Err returns the first step error, if any.
func (r *Result) Err() error {
	for _, s := range r.Steps {
		if s.Err != nil {
			return s.Err
		}
	}
	return nil
}

// Source yields raw article records.
type Source interface {
	Collect(ctx context.Context, w collect.Window) ([]collect.RawArticle, error)
	Headlines(ctx context.Context) ([]collect.RawArticle, error)
}

// Pipeline runs Fetch, Filter, Scrape, Summarize and Persist over one batch.
type Pipeline struct {
	source      Source
	keywords    []string
	filter      *filter.Filter
	scraper     *scrape.Scraper
	summarizer  summarize.Summarizer
	store       database.Store
	workers     int
	maxAttempts int
	retryDelay  time.Duration
}

// New creates a pipeline from configuration.
func New(cfg *config.Config, store database.Store, summarizer summarize.Summarizer) *Pipeline {
	trims := make(map[string]int, len(cfg.Scraper.Trims))
	for _, t := range cfg.Scraper.Trims {
		trims[t.Source] = t.Chars
	}

	workers := cfg.Pipeline.Workers
	if workers <= 0 {
		workers = 1
	}
	attempts := cfg.Pipeline.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	keywords := cfg.Filter.VideoKeywords
	if len(keywords) == 0 {
		keywords = filter.DefaultKeywords
	}

	return &Pipeline{
		source:   collect.NewCollector(cfg),
		keywords: keywords,
		filter:   filter.New(keywords, time.Duration(cfg.Filter.HeadTimeoutSeconds)*time.Second),
		scraper: scrape.New(scrape.Options{
			Timeout:   time.Duration(cfg.Scraper.TimeoutSeconds) * time.Second,
			UserAgent: cfg.Scraper.UserAgent,
			Trims:     trims,
		}),
		summarizer:  summarizer,
		store:       store,
		workers:     workers,
		maxAttempts: attempts,
		retryDelay:  2 * time.Second,
	}
}

// Run executes the ingestion stages for the window. Stages after a failed
// fetch are not run.
func (p *Pipeline) Run(ctx context.Context, w collect.Window) *Result {
	r := &Result{}

	raw, step := p.runFetch(ctx, w)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	kept, step := p.runFilter(ctx, raw)
	r.Steps = append(r.Steps, step)

	articles, step := p.runScrape(ctx, kept)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	step = p.runSummarize(ctx, articles)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	r.Persist, step = p.runPersist(ctx, articles, persist.InsertOnly)
	r.Steps = append(r.Steps, step)
	return r
}

// DryRun fetches and filters the batch and reports what a run would do
// without scraping or writing.
func (p *Pipeline) DryRun(ctx context.Context, w collect.Window) *Result {
	r := &Result{}

	raw, step := p.runFetch(ctx, w)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	var fresh int
	for _, a := range raw {
		existing, err := p.store.FindByURL(ctx, a.URL)
		if err == nil && existing == nil {
			fresh++
		}
	}
	keywordOK := 0
	for _, a := range raw {
		if filter.IsArticle(a.URL, a.Title, p.keywords) {
			keywordOK++
		}
	}

	r.Steps = append(r.Steps,
		StepResult{Name: "Filter", Summary: fmt.Sprintf("[dry-run] %d of %d records pass the keyword filter", keywordOK, len(raw))},
		StepResult{Name: "Scrape", Summary: fmt.Sprintf("[dry-run] would scrape up to %d pages", keywordOK)},
		StepResult{Name: "Persist", Summary: fmt.Sprintf("[dry-run] %d records are not stored yet", fresh)},
	)
	return r
}

// Load fetches the top headlines of every configured category and upserts
// them without scraping.
func (p *Pipeline) Load(ctx context.Context) *Result {
	r := &Result{}

	var raw []collect.RawArticle
	err := p.retry(ctx, "Load", func() error {
		var err error
		raw, err = p.source.Headlines(ctx)
		return err
	})
	if err != nil {
		r.Steps = append(r.Steps, StepResult{Name: "Fetch", Err: err})
		return r
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("Fetched %d headlines", len(raw)),
	})

	articles := make([]database.Article, len(raw))
	for i, a := range raw {
		articles[i] = toArticle(a)
	}

	var step StepResult
	r.Persist, step = p.runPersist(ctx, articles, persist.Upsert)
	r.Steps = append(r.Steps, step)
	return r
}

func (p *Pipeline) runFetch(ctx context.Context, w collect.Window) ([]collect.RawArticle, StepResult) {
	slog.Info("step 1/5: fetching articles", "from", w.From.Format("2006-01-02"), "to", w.To.Format("2006-01-02"))
	start := time.Now()

	var raw []collect.RawArticle
	err := p.retry(ctx, "Fetch", func() error {
		var err error
		raw, err = p.source.Collect(ctx, w)
		return err
	})
	metrics.RecordStage("fetch", time.Since(start).Seconds(), map[string]int{"ok": len(raw)})
	if err != nil {
		return nil, StepResult{Name: "Fetch", Err: err}
	}
	return raw, StepResult{Name: "Fetch", Summary: fmt.Sprintf("Fetched %d records", len(raw))}
}

// retry runs op until it succeeds, fails with a non-retryable error or runs
// out of attempts. The returned error is always a *StageError.
func (p *Pipeline) retry(ctx context.Context, stage string, op func() error) error {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = p.retryDelay
	bo.MaxInterval = 30 * p.retryDelay
	bo.Multiplier = 2

	var err error
	for attempt := 1; ; attempt++ {
		err = op()
		if err == nil {
			return nil
		}
		retryable := isRetryable(err)
		if !retryable || attempt >= p.maxAttempts {
			return &StageError{Stage: stage, Err: err, Retryable: retryable}
		}

		delay := bo.NextBackOff()
		slog.Warn("stage failed, retrying", "stage", stage, "attempt", attempt, "delay", delay, "error", err)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return &StageError{Stage: stage, Err: ctx.Err(), Retryable: true}
		}
	}
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *collect.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable()
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func (p *Pipeline) runFilter(ctx context.Context, raw []collect.RawArticle) ([]collect.RawArticle, StepResult) {
	slog.Info("step 2/5: filtering non-article URLs", "records", len(raw))
	start := time.Now()

	keep := make([]bool, len(raw))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, a := range raw {
		g.Go(func() error {
			keep[i] = p.filter.Keep(gctx, a.URL, a.Title)
			return nil
		})
	}
	g.Wait()

	var kept []collect.RawArticle
	for i, a := range raw {
		if keep[i] {
			kept = append(kept, a)
		}
	}
	dropped := len(raw) - len(kept)
	metrics.RecordStage("filter", time.Since(start).Seconds(), map[string]int{"kept": len(kept), "dropped": dropped})
	return kept, StepResult{
		Name:    "Filter",
		Summary: fmt.Sprintf("Kept %d records, dropped %d", len(kept), dropped),
	}
}

func (p *Pipeline) runScrape(ctx context.Context, raw []collect.RawArticle) ([]database.Article, StepResult) {
	slog.Info("step 3/5: scraping article text", "records", len(raw))
	start := time.Now()

	results := make([]scrape.Result, len(raw))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i, a := range raw {
		g.Go(func() error {
			res := p.scraper.Scrape(gctx, a.URL)
			res.Content = p.scraper.TrimFor(a.Source, res.Content)
			results[i] = res
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, StepResult{Name: "Scrape", Err: &StageError{Stage: "Scrape", Err: err}}
	}

	var articles []database.Article
	for i, a := range raw {
		res := results[i]
		if res.Content == "" {
			slog.Info("dropping record without content", "url", a.URL, "reason", res.Message)
			continue
		}
		article := toArticle(a)
		article.Content = res.Content
		articles = append(articles, article)
	}

	empty := len(raw) - len(articles)
	metrics.RecordStage("scrape", time.Since(start).Seconds(), map[string]int{"ok": len(articles), "empty": empty})
	return articles, StepResult{
		Name:    "Scrape",
		Summary: fmt.Sprintf("Scraped %d articles, %d without usable content", len(articles), empty),
	}
}

func (p *Pipeline) runSummarize(ctx context.Context, articles []database.Article) StepResult {
	slog.Info("step 4/5: summarizing", "articles", len(articles))
	start := time.Now()

	failed := make([]bool, len(articles))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workers)
	for i := range articles {
		g.Go(func() error {
			a := &articles[i]
			ext, abs, err := p.summarizer.Summarize(gctx, a.Content)
			if err != nil {
				slog.Warn("summary failed", "url", a.URL, "error", err)
				failed[i] = true
			}
			if ext != "" {
				a.ExtractiveSummary = &ext
			}
			if abs != "" {
				a.AbstractiveSummary = &abs
			}
			return nil
		})
	}
	g.Wait()
	if err := ctx.Err(); err != nil {
		return StepResult{Name: "Summarize", Err: &StageError{Stage: "Summarize", Err: err}}
	}

	var nFailed int
	for _, f := range failed {
		if f {
			nFailed++
		}
	}
	metrics.RecordStage("summarize", time.Since(start).Seconds(), map[string]int{"ok": len(articles) - nFailed, "failed": nFailed})
	return StepResult{
		Name:    "Summarize",
		Summary: fmt.Sprintf("Summarized %d articles, %d failed", len(articles)-nFailed, nFailed),
	}
}

func (p *Pipeline) runPersist(ctx context.Context, articles []database.Article, policy persist.Policy) (persist.Result, StepResult) {
	slog.Info("step 5/5: persisting", "articles", len(articles), "policy", policy)
	start := time.Now()

	res := persist.New(p.store, policy).Save(ctx, articles)
	metrics.RecordStage("persist", time.Since(start).Seconds(), map[string]int{
		"inserted": res.Inserted, "updated": res.Updated, "skipped": res.Skipped, "failed": res.Failed,
	})

	step := StepResult{
		Name: "Persist",
		Summary: fmt.Sprintf("Inserted %d, updated %d, skipped %d existing, %d failed",
			res.Inserted, res.Updated, res.Skipped, res.Failed),
	}
	if res.Failed > 0 && res.Failed == len(articles) {
		step.Err = &StageError{Stage: "Persist", Err: fmt.Errorf("all %d writes failed", res.Failed), Retryable: true}
	}
	return res, step
}

func toArticle(a collect.RawArticle) database.Article {
	out := database.Article{
		Title:       a.Title,
		Description: a.Description,
		URL:         a.URL,
		PublishedAt: a.PublishedAt,
		Content:     a.Content,
		Language:    a.Language,
		Source:      a.Source,
		Extra:       a.Extra,
	}
	if out.PublishedAt.IsZero() {
		out.PublishedAt = time.Now().UTC()
	}
	if author := strings.TrimSpace(a.Author); author != "" {
		out.Author = &author
	}
	if a.ImageURL != "" {
		img := a.ImageURL
		out.ImageURL = &img
	}
	return out
}
