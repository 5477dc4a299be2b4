package database

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const articleColumns = `id, url, title, author, description, url_to_image, published_at,
	content, extractive_sum, abstractive_sum, language, source, extra`

// FindByURL returns the article stored under url, or nil if there is none.
func (db *DB) FindByURL(ctx context.Context, url string) (*Article, error) {
	row := db.conn.QueryRowContext(ctx,
		`SELECT `+articleColumns+` FROM articles WHERE url = ?`, url,
	)
	a, err := scanArticle(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Insert stores a new article.
func (db *DB) Insert(ctx context.Context, a *Article) error {
	extra, err := encodeExtra(a.Extra)
	if err != nil {
		return err
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO articles (`+articleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.URL, a.Title, a.Author, a.Description, a.ImageURL, formatTime(a.PublishedAt),
		a.Content, a.ExtractiveSummary, a.AbstractiveSummary, a.Language, a.Source, extra,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateURL
		}
		return fmt.Errorf("inserting article: %w", err)
	}
	return nil
}

// Upsert inserts the article or overwrites the row with the same URL.
func (db *DB) Upsert(ctx context.Context, a *Article) (bool, error) {
	existing, err := db.FindByURL(ctx, a.URL)
	if err != nil {
		return false, err
	}
	if existing == nil {
		if err := db.Insert(ctx, a); err != nil {
			return false, err
		}
		return true, nil
	}

	extra, err := encodeExtra(a.Extra)
	if err != nil {
		return false, err
	}
	_, err = db.conn.ExecContext(ctx,
		`UPDATE articles SET title = ?, author = ?, description = ?, url_to_image = ?,
		published_at = ?, content = ?, extractive_sum = ?, abstractive_sum = ?,
		language = ?, source = ?, extra = ?, updated_at = datetime('now')
		WHERE url = ?`,
		a.Title, a.Author, a.Description, a.ImageURL, formatTime(a.PublishedAt),
		a.Content, a.ExtractiveSummary, a.AbstractiveSummary, a.Language, a.Source, extra,
		a.URL,
	)
	if err != nil {
		return false, fmt.Errorf("updating article: %w", err)
	}
	a.ID = existing.ID
	return false, nil
}

// All returns every article, most recently published first.
func (db *DB) All(ctx context.Context) ([]Article, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+articleColumns+` FROM articles ORDER BY published_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var articles []Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, *a)
	}
	return articles, rows.Err()
}

// Stats returns aggregate counts over the collection.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{ByLanguage: make(map[string]int)}

	err := db.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM articles").Scan(&s.TotalArticles)
	if err != nil {
		return nil, err
	}
	err = db.conn.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM articles WHERE abstractive_sum IS NOT NULL AND abstractive_sum != ''",
	).Scan(&s.SummarizedArticles)
	if err != nil {
		return nil, err
	}

	rows, err := db.conn.QueryContext(ctx, "SELECT language, COUNT(*) FROM articles GROUP BY language")
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var lang string
		var n int
		if err := rows.Scan(&lang, &n); err != nil {
			return nil, err
		}
		s.ByLanguage[lang] = n
	}
	return s, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(row scanner) (*Article, error) {
	var a Article
	var published string
	var extra *string
	if err := row.Scan(&a.ID, &a.URL, &a.Title, &a.Author, &a.Description, &a.ImageURL, &published,
		&a.Content, &a.ExtractiveSummary, &a.AbstractiveSummary, &a.Language, &a.Source, &extra); err != nil {
		return nil, err
	}
	a.PublishedAt = parseTime(published)
	if extra != nil && *extra != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(*extra)))
		dec.UseNumber()
		if err := dec.Decode(&a.Extra); err != nil {
			return nil, fmt.Errorf("decoding extra for %s: %w", a.URL, err)
		}
	}
	return &a, nil
}

func encodeExtra(extra map[string]any) (*string, error) {
	if len(extra) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return nil, fmt.Errorf("encoding extra: %w", err)
	}
	s := string(data)
	return &s, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

// parseTime accepts RFC3339 and the "YYYY-MM-DD HH:MM:SS" layout SQLite's
// datetime() produces.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func isUniqueViolation(err error) bool {
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
