package gatekeeper_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/oarkflow/gatekeeper"
	"github.com/oarkflow/gatekeeper/stores"
)

func seedStore(t *testing.T, n int) *stores.MemoryObligationStore {
	t.Helper()
	store := stores.NewMemoryObligationStore()
	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	categories := []string{"financial", "privacy"}
	severities := []string{"high", "low"}
	for i := 0; i < n; i++ {
		o := &gatekeeper.Obligation{
			ID:               fmt.Sprintf("ob-%04d", i),
			DocumentID:       fmt.Sprintf("doc-%d", i%3),
			Title:            fmt.Sprintf("Obligation %d", i),
			Category:         categories[i%2],
			Severity:         severities[i%2],
			Status:           "open",
			CreatedTimestamp: base.Add(time.Duration(i) * time.Hour),
			CreatedBy:        "manager-1",
			InternalNotes:    "internal",
		}
		if err := store.Put(context.Background(), o); err != nil {
			t.Fatalf("seed %d: %v", i, err)
		}
	}
	return store
}

func newService(t *testing.T, store gatekeeper.ObligationStore) *gatekeeper.ObligationService {
	t.Helper()
	eng, err := gatekeeper.NewEngine(nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return gatekeeper.NewObligationService(eng, store)
}

func TestListFullFlow(t *testing.T) {
	svc := newService(t, seedStore(t, 10))
	id := &gatekeeper.Identity{PrincipalID: "u1", Roles: []gatekeeper.Role{gatekeeper.RoleComplianceManagers}}

	res, err := svc.List(context.Background(), id, gatekeeper.FilterSet{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if res.Count != 10 || len(res.Items) != 10 {
		t.Fatalf("got %d items, want 10", res.Count)
	}
	if res.NextCursor != "" {
		t.Fatalf("no cursor expected when the walk is exhausted")
	}
	for i := 1; i < len(res.Items); i++ {
		if res.Items[i].CreatedTimestamp.After(res.Items[i-1].CreatedTimestamp) {
			t.Fatalf("items not sorted newest first at %d", i)
		}
	}
	// Managers see the full record.
	if res.Items[0].InternalNotes == "" {
		t.Fatalf("manager should see internal fields")
	}
}

func TestListShapesForViewer(t *testing.T) {
	svc := newService(t, seedStore(t, 3))
	id := &gatekeeper.Identity{PrincipalID: "u1", Roles: []gatekeeper.Role{gatekeeper.RoleViewers}}

	res, err := svc.List(context.Background(), id, gatekeeper.FilterSet{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, o := range res.Items {
		if o.InternalNotes != "" || o.CreatedBy != "" {
			t.Fatalf("viewer must not see internal fields: %+v", o)
		}
	}
}

func TestListDeniesWithoutReadGrant(t *testing.T) {
	svc := newService(t, seedStore(t, 3))

	_, err := svc.List(context.Background(), &gatekeeper.Identity{PrincipalID: "u1"}, gatekeeper.FilterSet{})
	if !errors.Is(err, gatekeeper.ErrForbidden) {
		t.Fatalf("got %v, want ErrForbidden", err)
	}
}

func TestListPaginationRoundTrip(t *testing.T) {
	svc := newService(t, seedStore(t, 7))
	id := &gatekeeper.Identity{PrincipalID: "u1", Roles: []gatekeeper.Role{gatekeeper.RoleComplianceManagers}}

	seen := make(map[string]bool)
	cursor := ""
	pages := 0
	for {
		res, err := svc.List(context.Background(), id, gatekeeper.FilterSet{Cursor: cursor}.Limited(3))
		if err != nil {
			t.Fatalf("page %d: %v", pages, err)
		}
		for _, o := range res.Items {
			if seen[o.ID] {
				t.Fatalf("id %s returned twice", o.ID)
			}
			seen[o.ID] = true
		}
		pages++
		if res.NextCursor == "" {
			break
		}
		cursor = res.NextCursor
		if pages > 10 {
			t.Fatalf("cursor never terminated")
		}
	}
	if len(seen) != 7 {
		t.Fatalf("round trip lost records: got %d, want 7", len(seen))
	}
}

func TestListCompositeFilter(t *testing.T) {
	svc := newService(t, seedStore(t, 10))
	id := &gatekeeper.Identity{PrincipalID: "u1", Roles: []gatekeeper.Role{gatekeeper.RoleAuditors}}

	res, err := svc.List(context.Background(), id, gatekeeper.FilterSet{Category: "financial", Severity: "high"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(res.Items) == 0 {
		t.Fatalf("expected matches for the seeded data")
	}
	for _, o := range res.Items {
		if o.Category != "financial" || o.Severity != "high" {
			t.Fatalf("filter leaked: %+v", o)
		}
	}
}

func TestListInvalidFilterPassesThrough(t *testing.T) {
	svc := newService(t, seedStore(t, 3))
	id := &gatekeeper.Identity{PrincipalID: "u1", Roles: []gatekeeper.Role{gatekeeper.RoleViewers}}

	_, err := svc.List(context.Background(), id, gatekeeper.FilterSet{}.Limited(0))
	var inv *gatekeeper.InvalidFilterError
	if !errors.As(err, &inv) {
		t.Fatalf("got %v, want InvalidFilterError", err)
	}

	_, err = svc.List(context.Background(), id, gatekeeper.FilterSet{Cursor: "@@@"})
	var mc *gatekeeper.MalformedCursorError
	if !errors.As(err, &mc) {
		t.Fatalf("got %v, want MalformedCursorError", err)
	}
}

type failingStore struct{ err error }

func (s *failingStore) Query(ctx context.Context, plan *gatekeeper.QueryPlan) (*gatekeeper.QueryPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return nil, s.err
}

func TestListStoreFailureIsRetryable(t *testing.T) {
	svc := newService(t, &failingStore{err: errors.New("connection refused")})
	id := &gatekeeper.Identity{PrincipalID: "u1", Roles: []gatekeeper.Role{gatekeeper.RoleViewers}}

	_, err := svc.List(context.Background(), id, gatekeeper.FilterSet{})
	if !errors.Is(err, gatekeeper.ErrStoreUnavailable) {
		t.Fatalf("got %v, want ErrStoreUnavailable", err)
	}
	if !gatekeeper.IsRetryable(err) {
		t.Fatalf("store failures must be retryable")
	}
}

func TestListCallerCancellationPropagates(t *testing.T) {
	svc := newService(t, &failingStore{err: errors.New("unused")})
	id := &gatekeeper.Identity{PrincipalID: "u1", Roles: []gatekeeper.Role{gatekeeper.RoleViewers}}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.List(ctx, id, gatekeeper.FilterSet{})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
	if gatekeeper.IsRetryable(err) {
		t.Fatalf("cancellation must not be classified as retryable store failure")
	}
}
