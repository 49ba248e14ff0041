package stores

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/oarkflow/gatekeeper"
)

func seedMemory(t *testing.T, n int) *MemoryObligationStore {
	t.Helper()
	store := NewMemoryObligationStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		o := &gatekeeper.Obligation{
			ID:               fmt.Sprintf("ob-%04d", i),
			DocumentID:       fmt.Sprintf("doc-%d", i%2),
			Category:         []string{"financial", "privacy"}[i%2],
			Severity:         []string{"high", "low", "high"}[i%3],
			Status:           "open",
			CreatedTimestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.Put(context.Background(), o); err != nil {
			t.Fatalf("put %d: %v", i, err)
		}
	}
	return store
}

func TestMemoryStorePutGetDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryObligationStore()

	o := &gatekeeper.Obligation{ID: "ob-1", Category: "financial", Attrs: map[string]any{"k": "v"}}
	if err := store.Put(ctx, o); err != nil {
		t.Fatalf("put: %v", err)
	}

	got, err := store.Get(ctx, "ob-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got == nil || got.Category != "financial" {
		t.Fatalf("get mismatch: %+v", got)
	}

	// Returned record must be a copy.
	got.Category = "mutated"
	again, _ := store.Get(ctx, "ob-1")
	if again.Category != "financial" {
		t.Fatalf("store handed out aliased record")
	}

	if err := store.Delete(ctx, "ob-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	gone, _ := store.Get(ctx, "ob-1")
	if gone != nil {
		t.Fatalf("record survived delete")
	}
	if err := store.Delete(ctx, "ob-1"); err != nil {
		t.Fatalf("double delete should be a no-op: %v", err)
	}
}

func TestMemoryStoreCategoryPath(t *testing.T) {
	store := seedMemory(t, 10)
	page, err := store.Query(context.Background(), &gatekeeper.QueryPlan{
		Path:     gatekeeper.PathCategory,
		Category: "financial",
		Limit:    50,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 5 {
		t.Fatalf("got %d items, want 5", len(page.Items))
	}
	for _, o := range page.Items {
		if o.Category != "financial" {
			t.Fatalf("wrong category: %+v", o)
		}
	}
	if page.LastKey != nil {
		t.Fatalf("exhausted walk must not set a resume key")
	}
}

func TestMemoryStoreCompositePathPostFilters(t *testing.T) {
	store := seedMemory(t, 12)
	page, err := store.Query(context.Background(), &gatekeeper.QueryPlan{
		Path:     gatekeeper.PathCategorySeverity,
		Category: "financial",
		Severity: "high",
		Limit:    50,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) == 0 {
		t.Fatalf("expected matches")
	}
	for _, o := range page.Items {
		if o.Category != "financial" || o.Severity != "high" {
			t.Fatalf("post-filter leaked: %+v", o)
		}
	}
}

func TestMemoryStoreScanPagination(t *testing.T) {
	store := seedMemory(t, 7)
	seen := make(map[string]bool)
	var start *gatekeeper.StoreKey
	for {
		page, err := store.Query(context.Background(), &gatekeeper.QueryPlan{
			Path:       gatekeeper.PathScan,
			Limit:      3,
			StartAfter: start,
		})
		if err != nil {
			t.Fatalf("query: %v", err)
		}
		for _, o := range page.Items {
			if seen[o.ID] {
				t.Fatalf("id %s returned twice", o.ID)
			}
			seen[o.ID] = true
		}
		if page.LastKey == nil {
			break
		}
		start = page.LastKey
	}
	if len(seen) != 7 {
		t.Fatalf("pagination lost records: got %d, want 7", len(seen))
	}
}

func TestMemoryStoreUpdateReindexes(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryObligationStore()
	o := &gatekeeper.Obligation{ID: "ob-1", Category: "financial", Severity: "high"}
	if err := store.Put(ctx, o); err != nil {
		t.Fatalf("put: %v", err)
	}

	o.Category = "privacy"
	if err := store.Put(ctx, o); err != nil {
		t.Fatalf("reput: %v", err)
	}

	page, _ := store.Query(ctx, &gatekeeper.QueryPlan{Path: gatekeeper.PathCategory, Category: "financial", Limit: 10})
	if len(page.Items) != 0 {
		t.Fatalf("stale index entry after update")
	}
	page, _ = store.Query(ctx, &gatekeeper.QueryPlan{Path: gatekeeper.PathCategory, Category: "privacy", Limit: 10})
	if len(page.Items) != 1 {
		t.Fatalf("new index entry missing after update")
	}
}

func TestMemoryStoreDocumentPath(t *testing.T) {
	store := seedMemory(t, 6)
	page, err := store.Query(context.Background(), &gatekeeper.QueryPlan{
		Path:       gatekeeper.PathDocument,
		DocumentID: "doc-0",
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 3 {
		t.Fatalf("got %d items, want 3", len(page.Items))
	}
	for _, o := range page.Items {
		if o.DocumentID != "doc-0" {
			t.Fatalf("wrong document: %+v", o)
		}
	}
}
