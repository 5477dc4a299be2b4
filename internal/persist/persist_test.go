package persist

import (
	"context"
	"encoding/json"
	"math"
	"math/big"
	"path/filepath"
	"testing"
	"time"

	"github.com/TobiSchelling/NewsContinent/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func article(url, title string) database.Article {
	return database.Article{
		Title:       title,
		URL:         url,
		PublishedAt: time.Date(2025, 1, 30, 10, 0, 0, 0, time.UTC),
		Content:     "Body of " + title,
		Language:    "en",
		Source:      "Test",
	}
}

func TestSaveSameURLTwiceStoresOne(t *testing.T) {
	db := openTestDB(t)
	p := New(db, InsertOnly)
	ctx := context.Background()

	first := p.Save(ctx, []database.Article{article("https://example.com/a", "First")})
	second := p.Save(ctx, []database.Article{article("https://example.com/a", "Second")})

	if first.Inserted != 1 || second.Inserted != 0 || second.Skipped != 1 {
		t.Errorf("unexpected results: first=%+v second=%+v", first, second)
	}

	all, err := db.All(ctx)
	if err != nil {
		t.Fatalf("listing: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected exactly one stored document, got %d", len(all))
	}
	if all[0].Title != "First" {
		t.Errorf("insert-only must not overwrite, got title %q", all[0].Title)
	}
}

func TestSaveDuplicateWithinBatch(t *testing.T) {
	db := openTestDB(t)
	r := New(db, InsertOnly).Save(context.Background(), []database.Article{
		article("https://example.com/a", "One"),
		article("https://example.com/a", "Two"),
		article("https://example.com/b", "Three"),
	})
	if r.Inserted != 2 || r.Skipped != 1 {
		t.Errorf("unexpected result %+v", r)
	}
}

func TestSaveUpsertUpdates(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	p := New(db, Upsert)

	first := p.Save(ctx, []database.Article{article("https://example.com/a", "Old")})
	stored, _ := db.FindByURL(ctx, "https://example.com/a")
	if stored == nil {
		t.Fatal("expected stored article")
	}
	id := stored.ID

	second := p.Save(ctx, []database.Article{article("https://example.com/a", "New")})
	if first.Inserted != 1 || second.Updated != 1 || second.Inserted != 0 {
		t.Errorf("unexpected results: %+v %+v", first, second)
	}

	stored, _ = db.FindByURL(ctx, "https://example.com/a")
	if stored.Title != "New" {
		t.Errorf("expected updated title, got %q", stored.Title)
	}
	if stored.ID != id {
		t.Errorf("expected id %s kept, got %s", id, stored.ID)
	}
}

func TestSaveAssignsIDs(t *testing.T) {
	db := openTestDB(t)
	records := []database.Article{article("https://example.com/a", "A")}
	New(db, InsertOnly).Save(context.Background(), records)
	if records[0].ID == "" {
		t.Error("expected an id to be assigned")
	}
}

func TestCoerceWideInts(t *testing.T) {
	huge, _ := new(big.Int).SetString("340282366920938463463374607431768211455", 10)
	in := map[string]any{
		"huge":   huge,
		"small":  big.NewInt(42),
		"u64":    uint64(math.MaxUint64),
		"u64ok":  uint64(7),
		"number": json.Number("99999999999999999999"),
		"nested": map[string]any{"id": huge},
		"list":   []any{uint64(math.MaxInt64) + 1, "x"},
		"text":   "unchanged",
	}

	out := CoerceWideInts(in)

	checks := map[string]any{
		"huge":   "340282366920938463463374607431768211455",
		"small":  int64(42),
		"u64":    "18446744073709551615",
		"u64ok":  uint64(7),
		"number": "99999999999999999999",
		"text":   "unchanged",
	}
	for k, want := range checks {
		if out[k] != want {
			t.Errorf("%s: expected %v (%T), got %v (%T)", k, want, want, out[k], out[k])
		}
	}
	if nested := out["nested"].(map[string]any); nested["id"] != "340282366920938463463374607431768211455" {
		t.Errorf("nested value not coerced: %v", nested["id"])
	}
	if list := out["list"].([]any); list[0] != "9223372036854775808" {
		t.Errorf("slice value not coerced: %v", list[0])
	}
	if CoerceWideInts(nil) != nil {
		t.Error("expected nil for nil map")
	}
}

func TestSaveStoresCoercedExtra(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	huge, _ := new(big.Int).SetString("123456789012345678901234567890", 10)

	a := article("https://example.com/wide", "Wide")
	a.Extra = map[string]any{"display_id": huge}
	New(db, InsertOnly).Save(ctx, []database.Article{a})

	stored, err := db.FindByURL(ctx, "https://example.com/wide")
	if err != nil || stored == nil {
		t.Fatalf("expected stored article: %v", err)
	}
	if stored.Extra["display_id"] != "123456789012345678901234567890" {
		t.Errorf("expected decimal string, got %v (%T)", stored.Extra["display_id"], stored.Extra["display_id"])
	}
}
