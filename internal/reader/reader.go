package reader

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/TobiSchelling/NewsContinent/internal/database"
	"github.com/TobiSchelling/NewsContinent/internal/metrics"
)

var (
	// ErrNotFound is returned when no entry of the current snapshot has the
	// requested display ID.
	ErrNotFound = errors.New("article not found")
	// ErrNotLoaded is returned when the scope has no live snapshot.
	ErrNotLoaded = errors.New("cache not loaded")
)

// Entry is an article as served to readers. DisplayID replaces the storage
// ID and changes every time the snapshot is rebuilt.
type Entry struct {
	DisplayID          string    `json:"display_id"`
	Title              string    `json:"title"`
	Author             string    `json:"author,omitempty"`
	Description        string    `json:"description"`
	URL                string    `json:"url"`
	ImageURL           string    `json:"url_to_image,omitempty"`
	PublishedAt        time.Time `json:"published_at"`
	Content            string    `json:"content"`
	ExtractiveSummary  string    `json:"extractive_sum,omitempty"`
	AbstractiveSummary string    `json:"abstractive_sum,omitempty"`
	Language           string    `json:"language"`
	Source             string    `json:"source,omitempty"`
}

// Snapshot is a point-in-time copy of the whole collection.
type Snapshot struct {
	Entries  []Entry   `json:"entries"`
	LoadedAt time.Time `json:"loaded_at"`
}

func (s *Snapshot) clone() *Snapshot {
	if s == nil {
		return nil
	}
	out := &Snapshot{LoadedAt: s.LoadedAt, Entries: make([]Entry, len(s.Entries))}
	copy(out.Entries, s.Entries)
	return out
}

// Reader serves the article collection from a cached, shuffled snapshot.
type Reader struct {
	store  database.Store
	cache  Cache
	ttl    time.Duration
	prefix string
	now    func() time.Time

	mu  sync.Mutex
	rng *rand.Rand
}

// Options configures a Reader.
type Options struct {
	TTL       time.Duration
	KeyPrefix string
	// Now and Rand are injectable for tests.
	Now  func() time.Time
	Rand *rand.Rand
}

// New creates a Reader over store.
func New(store database.Store, cache Cache, opts Options) *Reader {
	if opts.TTL <= 0 {
		opts.TTL = time.Hour
	}
	if opts.KeyPrefix == "" {
		opts.KeyPrefix = "newscontinent"
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Rand == nil {
		opts.Rand = rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))
	}
	return &Reader{
		store:  store,
		cache:  cache,
		ttl:    opts.TTL,
		prefix: opts.KeyPrefix,
		now:    opts.Now,
		rng:    opts.Rand,
	}
}

func (r *Reader) key(scope string) string {
	return fmt.Sprintf("%s:home_page_data:%s", r.prefix, scope)
}

// List returns every article of the scope's snapshot in a fresh random
// order, building the snapshot from the store when there is none.
func (r *Reader) List(ctx context.Context, scope string) ([]Entry, error) {
	key := r.key(scope)

	snap, ok, err := r.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("cache read failed, rebuilding snapshot", "key", key, "error", err)
	}
	if ok {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		metrics.CacheLookups.WithLabelValues("miss").Inc()
		snap, err = r.build(ctx)
		if err != nil {
			return nil, err
		}
		r.shuffle(snap.Entries)
		if err := r.cache.Set(ctx, key, snap, r.ttl); err != nil {
			slog.Warn("cache write failed", "key", key, "error", err)
		}
	}

	r.shuffle(snap.Entries)
	if ok {
		if err := r.cache.Replace(ctx, key, snap); err != nil {
			slog.Warn("cache write-back failed", "key", key, "error", err)
		}
	}
	return snap.clone().Entries, nil
}

// Peek returns the scope's live snapshot without rebuilding it.
func (r *Reader) Peek(ctx context.Context, scope string) (*Snapshot, error) {
	snap, ok, err := r.cache.Get(ctx, r.key(scope))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotLoaded
	}
	return snap, nil
}

// Detail finds the entry with displayID in the scope's live snapshot. A cold
// scope has no valid display IDs, so it reports ErrNotFound.
func (r *Reader) Detail(ctx context.Context, scope, displayID string) (*Entry, error) {
	snap, err := r.Peek(ctx, scope)
	if errors.Is(err, ErrNotLoaded) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return Find(snap.Entries, displayID)
}

// Find scans entries for displayID.
func Find(entries []Entry, displayID string) (*Entry, error) {
	for i := range entries {
		if entries[i].DisplayID == displayID {
			e := entries[i]
			return &e, nil
		}
	}
	return nil, ErrNotFound
}

// Invalidate drops the scope's snapshot so the next List reloads the store.
func (r *Reader) Invalidate(ctx context.Context, scope string) error {
	return r.cache.Delete(ctx, r.key(scope))
}

func (r *Reader) build(ctx context.Context) (*Snapshot, error) {
	articles, err := r.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading articles: %w", err)
	}

	entries := make([]Entry, len(articles))
	for i, a := range articles {
		entries[i] = Entry{
			DisplayID:          NewDisplayID(),
			Title:              a.Title,
			Author:             deref(a.Author),
			Description:        a.Description,
			URL:                a.URL,
			ImageURL:           deref(a.ImageURL),
			PublishedAt:        a.PublishedAt,
			Content:            a.Content,
			ExtractiveSummary:  deref(a.ExtractiveSummary),
			AbstractiveSummary: deref(a.AbstractiveSummary),
			Language:           a.Language,
			Source:             a.Source,
		}
	}
	slog.Debug("built reader snapshot", "articles", len(entries))
	return &Snapshot{Entries: entries, LoadedAt: r.now()}, nil
}

func (r *Reader) shuffle(entries []Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rng.Shuffle(len(entries), func(i, j int) {
		entries[i], entries[j] = entries[j], entries[i]
	})
}

// NewDisplayID returns a random 128-bit integer in decimal.
func NewDisplayID() string {
	u := uuid.New()
	return new(big.Int).SetBytes(u[:]).String()
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
