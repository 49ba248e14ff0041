package stores

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/oarkflow/squealx"
	_ "modernc.org/sqlite"

	"github.com/oarkflow/gatekeeper"
)

func newTestSQLStore(t *testing.T) *SQLObligationStore {
	t.Helper()
	sqlDB, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { sqlDB.Close() })
	db := squealx.NewDb(sqlDB, "sqlite", "testdb")

	if err := Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return NewSQLObligationStore(db)
}

func TestSQLObligationRoundtrip(t *testing.T) {
	ctx := context.Background()
	store := newTestSQLStore(t)

	o := &gatekeeper.Obligation{
		ID:               "ob-1",
		DocumentID:       "doc-1",
		Title:            "Retention schedule",
		Description:      "Review the retention schedule",
		Category:         "privacy",
		Severity:         "high",
		Status:           "open",
		Regulation:       "GDPR-17",
		DueDate:          "2026-09-30",
		CreatedTimestamp: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
		CreatedBy:        "manager-1",
		InternalNotes:    "escalated",
		Attrs:            map[string]any{"region": "emea"},
	}
	if err := store.CreateObligation(ctx, o); err != nil {
		t.Fatalf("create: %v", err)
	}

	got, err := store.GetObligation(ctx, "ob-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Title != o.Title || got.Category != o.Category || got.Severity != o.Severity {
		t.Fatalf("roundtrip mismatch: %+v", got)
	}
	if got.CreatedTimestamp.IsZero() {
		t.Fatalf("created timestamp lost")
	}
	if got.Attrs == nil || got.Attrs["region"] != "emea" {
		t.Fatalf("attrs lost: %+v", got.Attrs)
	}

	got.Status = "closed"
	if err := store.UpdateObligation(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}
	updated, _ := store.GetObligation(ctx, "ob-1")
	if updated.Status != "closed" {
		t.Fatalf("update lost: %+v", updated)
	}

	if err := store.DeleteObligation(ctx, "ob-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.GetObligation(ctx, "ob-1"); err == nil {
		t.Fatalf("record survived delete")
	}
}

func seedSQL(t *testing.T, store *SQLObligationStore, n int) {
	t.Helper()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		o := &gatekeeper.Obligation{
			ID:               fmt.Sprintf("ob-%04d", i),
			DocumentID:       fmt.Sprintf("doc-%d", i%2),
			Category:         []string{"financial", "privacy"}[i%2],
			Severity:         []string{"high", "low"}[i%2],
			Status:           "open",
			CreatedTimestamp: base.Add(time.Duration(i) * time.Minute),
		}
		if err := store.CreateObligation(context.Background(), o); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
}

func TestSQLQueryCategoryPath(t *testing.T) {
	store := newTestSQLStore(t)
	seedSQL(t, store, 10)

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
}

func TestSQLQueryCompositePath(t *testing.T) {
	store := newTestSQLStore(t)
	seedSQL(t, store, 10)

	page, err := store.Query(context.Background(), &gatekeeper.QueryPlan{
		Path:     gatekeeper.PathCategorySeverity,
		Category: "privacy",
		Severity: "low",
		Limit:    50,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 5 {
		t.Fatalf("got %d items, want 5", len(page.Items))
	}
	for _, o := range page.Items {
		if o.Category != "privacy" || o.Severity != "low" {
			t.Fatalf("filter leaked: %+v", o)
		}
	}
}

func TestSQLQueryCursorPagination(t *testing.T) {
	store := newTestSQLStore(t)
	seedSQL(t, store, 7)

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

func TestSQLQueryDocumentPath(t *testing.T) {
	store := newTestSQLStore(t)
	seedSQL(t, store, 6)

	page, err := store.Query(context.Background(), &gatekeeper.QueryPlan{
		Path:       gatekeeper.PathDocument,
		DocumentID: "doc-1",
		Limit:      10,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page.Items) != 3 {
		t.Fatalf("got %d items, want 3", len(page.Items))
	}
}
