package persist

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"math/big"
	"strconv"

	"github.com/google/uuid"

	"github.com/TobiSchelling/NewsContinent/internal/database"
)

// Policy decides what happens when a record's URL is already stored.
type Policy int

const (
	// InsertOnly skips records whose URL exists.
	InsertOnly Policy = iota
	// Upsert overwrites the stored record, keeping its ID.
	Upsert
)

func (p Policy) String() string {
	if p == Upsert {
		return "upsert"
	}
	return "insert-only"
}

// Result holds the counts of one Save call.
type Result struct {
	Inserted int
	Updated  int
	Skipped  int
	Failed   int
}

// Persister writes articles into a Store, deduplicated by URL.
type Persister struct {
	store  database.Store
	policy Policy
}

// New creates a Persister.
func New(store database.Store, policy Policy) *Persister {
	return &Persister{store: store, policy: policy}
}

// Save writes every record according to the policy. A failing record is
// logged and counted; it does not stop the batch.
func (p *Persister) Save(ctx context.Context, records []database.Article) Result {
	var r Result
	for i := range records {
		a := &records[i]
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		a.Extra = CoerceWideInts(a.Extra)

		switch p.policy {
		case Upsert:
			created, err := p.store.Upsert(ctx, a)
			if err != nil {
				slog.Error("upsert failed", "url", a.URL, "error", err)
				r.Failed++
				continue
			}
			if created {
				r.Inserted++
			} else {
				r.Updated++
			}
		default:
			p.insert(ctx, a, &r)
		}
	}
	slog.Info("persist complete", "policy", p.policy,
		"inserted", r.Inserted, "updated", r.Updated, "skipped", r.Skipped, "failed", r.Failed)
	return r
}

func (p *Persister) insert(ctx context.Context, a *database.Article, r *Result) {
	existing, err := p.store.FindByURL(ctx, a.URL)
	if err != nil {
		slog.Error("lookup failed", "url", a.URL, "error", err)
		r.Failed++
		return
	}
	if existing != nil {
		slog.Info("article already exists", "url", a.URL)
		r.Skipped++
		return
	}

	if err := p.store.Insert(ctx, a); err != nil {
		// Lost a race with a concurrent writer.
		if errors.Is(err, database.ErrDuplicateURL) {
			slog.Info("article already exists", "url", a.URL)
			r.Skipped++
			return
		}
		slog.Error("insert failed", "url", a.URL, "error", err)
		r.Failed++
		return
	}
	r.Inserted++
}

// CoerceWideInts replaces integers that do not fit in a signed 64-bit value
// with their decimal string, descending into nested maps and slices. Document
// stores reject such values.
func CoerceWideInts(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = coerce(v)
	}
	return out
}

func coerce(v any) any {
	switch x := v.(type) {
	case *big.Int:
		if x != nil && !x.IsInt64() {
			return x.String()
		}
		if x != nil {
			return x.Int64()
		}
	case uint64:
		if x > math.MaxInt64 {
			return strconv.FormatUint(x, 10)
		}
	case uint:
		if uint64(x) > math.MaxInt64 {
			return strconv.FormatUint(uint64(x), 10)
		}
	case json.Number:
		if _, err := x.Int64(); err != nil {
			if n, ok := new(big.Int).SetString(x.String(), 10); ok {
				return n.String()
			}
		}
	case map[string]any:
		return CoerceWideInts(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = coerce(e)
		}
		return out
	}
	return v
}
