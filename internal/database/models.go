package database

import (
	"context"
	"errors"
	"time"
)

// ErrDuplicateURL is returned by Insert when an article with the same URL
// already exists.
var ErrDuplicateURL = errors.New("article with this url already exists")

// Article is a stored news article. URL is the deduplication key.
type Article struct {
	ID                 string         `bson:"id" json:"id"`
	Title              string         `bson:"title" json:"title"`
	Author             *string        `bson:"author,omitempty" json:"author,omitempty"`
	Description        string         `bson:"description" json:"description"`
	URL                string         `bson:"url" json:"url"`
	ImageURL           *string        `bson:"url_to_image,omitempty" json:"url_to_image,omitempty"`
	PublishedAt        time.Time      `bson:"published_at" json:"published_at"`
	Content            string         `bson:"content" json:"content"`
	ExtractiveSummary  *string        `bson:"extractive_sum,omitempty" json:"extractive_sum,omitempty"`
	AbstractiveSummary *string        `bson:"abstractive_sum,omitempty" json:"abstractive_sum,omitempty"`
	Language           string         `bson:"language" json:"language"`
	Source             string         `bson:"source,omitempty" json:"source,omitempty"`
	Extra              map[string]any `bson:"extra,omitempty" json:"extra,omitempty"`
}

// Stats contains aggregate collection statistics.
type Stats struct {
	TotalArticles      int
	SummarizedArticles int
	ByLanguage         map[string]int
}

// Store is an article collection keyed by URL.
type Store interface {
	// FindByURL returns the article with the given URL, or nil if absent.
	FindByURL(ctx context.Context, url string) (*Article, error)
	// Insert adds a new article. Returns ErrDuplicateURL if the URL exists.
	Insert(ctx context.Context, a *Article) error
	// Upsert inserts the article or updates every field of the existing one
	// with the same URL, keeping its ID. Reports whether a row was created.
	Upsert(ctx context.Context, a *Article) (bool, error)
	// All returns every stored article.
	All(ctx context.Context) ([]Article, error)
	Stats(ctx context.Context) (*Stats, error)
	Close() error
}
