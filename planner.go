package gatekeeper

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"sort"
)

// ============================================================================
// QUERY PLANNER
// ============================================================================

// AccessPath names the index or scan strategy chosen for a listing query.
type AccessPath string

const (
	// PathCategorySeverity walks the category index with severity applied as
	// a post-filter during the walk; only matching records count toward the
	// page limit. SQL stores may push the filter into a composite WHERE,
	// which is equivalent given id-ordered iteration.
	PathCategorySeverity AccessPath = "category+severity"
	PathCategory         AccessPath = "category"
	PathSeverity         AccessPath = "severity"
	PathDocument         AccessPath = "document"
	// PathScan is the unindexed full-collection walk. Always correct, used
	// only when no filter matches an index.
	PathScan AccessPath = "scan"
)

const (
	DefaultPageSize = 50
	MaxPageSize     = 100
)

// FilterSet is the caller-supplied filter and pagination controls for a
// listing request. Every field is optional. Limit is a pointer so an absent
// limit (defaulted) can be told apart from an explicit, invalid zero.
type FilterSet struct {
	Category   string `json:"category,omitempty"`
	Severity   string `json:"severity,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Limit      *int   `json:"limit,omitempty"`
	Cursor     string `json:"cursor,omitempty"`
}

// Limited returns a copy of the filter set with an explicit limit. Handy for
// callers building requests programmatically.
func (f FilterSet) Limited(n int) FilterSet {
	f.Limit = &n
	return f
}

// StoreKey is the store-native resume point encoded into continuation
// cursors. Every access path iterates records in ascending id order, so the
// id alone pins the position regardless of which index was walked.
type StoreKey struct {
	ID string `json:"id"`
}

// QueryPlan is the executable descriptor handed to a store. StartAfter is
// exclusive: the page begins at the first record whose id sorts after it.
type QueryPlan struct {
	Path       AccessPath
	Category   string
	Severity   string
	DocumentID string
	Limit      int
	StartAfter *StoreKey
}

// QueryPage is one page of raw records plus the resume key. LastKey is nil
// when the walk reached the end of the chosen access path.
type QueryPage struct {
	Items   []*Obligation
	LastKey *StoreKey
}

// ObligationStore is the backing-store contract the planner relies on:
// indexed lookup by category, severity and document, plus a paginable
// scan-all, each iterating in ascending id order with an exclusive start key.
type ObligationStore interface {
	Query(ctx context.Context, plan *QueryPlan) (*QueryPage, error)
}

// Plan selects the narrowest access path for the supplied filters, in strict
// priority order: category+severity, category, severity, document, scan.
// Selection is deterministic: the same FilterSet always yields the same
// path. Pagination controls pass through unchanged to the chosen path.
func Plan(f FilterSet) (*QueryPlan, error) {
	limit := DefaultPageSize
	if f.Limit != nil {
		limit = *f.Limit
		if limit <= 0 {
			return nil, &InvalidFilterError{Field: "limit", Reason: "must be positive"}
		}
		if limit > MaxPageSize {
			return nil, &InvalidFilterError{Field: "limit", Reason: "exceeds maximum page size"}
		}
	}

	var start *StoreKey
	if f.Cursor != "" {
		k, err := DecodeCursor(f.Cursor)
		if err != nil {
			return nil, err
		}
		start = k
	}

	plan := &QueryPlan{Limit: limit, StartAfter: start}
	switch {
	case f.Category != "" && f.Severity != "":
		plan.Path = PathCategorySeverity
		plan.Category = f.Category
		plan.Severity = f.Severity
	case f.Category != "":
		plan.Path = PathCategory
		plan.Category = f.Category
	case f.Severity != "":
		plan.Path = PathSeverity
		plan.Severity = f.Severity
	case f.DocumentID != "":
		plan.Path = PathDocument
		plan.DocumentID = f.DocumentID
	default:
		plan.Path = PathScan
	}
	return plan, nil
}

// EncodeCursor turns a store key into the opaque continuation token handed
// to callers.
func EncodeCursor(k *StoreKey) string {
	if k == nil {
		return ""
	}
	b, _ := json.Marshal(k)
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeCursor parses a continuation token back into a store key.
func DecodeCursor(cursor string) (*StoreKey, error) {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, &MalformedCursorError{Cursor: cursor, Err: err}
	}
	k := &StoreKey{}
	if err := json.Unmarshal(b, k); err != nil {
		return nil, &MalformedCursorError{Cursor: cursor, Err: err}
	}
	if k.ID == "" {
		return nil, &MalformedCursorError{Cursor: cursor, Err: errEmptyCursorKey}
	}
	return k, nil
}

var errEmptyCursorKey = &InvalidFilterError{Field: "cursor", Reason: "missing key"}

// SortObligations orders a result page by creation timestamp descending.
// The sort is stable and ties are broken by id ascending, so repeated calls
// over the same records always produce the same order. Applied after
// retrieval regardless of access path; never delegated to the store.
func SortObligations(items []*Obligation) {
	sort.SliceStable(items, func(i, j int) bool {
		ti, tj := items[i].CreatedTimestamp, items[j].CreatedTimestamp
		if ti.Equal(tj) {
			return items[i].ID < items[j].ID
		}
		return ti.After(tj)
	})
}
