package stores

import (
	"context"
	"sort"
	"sync"

	"github.com/oarkflow/gatekeeper"
)

// MemoryObligationStore keeps obligations in process memory with the same
// index shape the persistent stores expose: per-category, per-severity and
// per-document id lists plus the full id list, each kept sorted so every
// access path iterates in ascending id order.
type MemoryObligationStore struct {
	mu         sync.RWMutex
	records    map[string]*gatekeeper.Obligation
	ids        []string
	byCategory map[string][]string
	bySeverity map[string][]string
	byDocument map[string][]string
}

func NewMemoryObligationStore() *MemoryObligationStore {
	return &MemoryObligationStore{
		records:    make(map[string]*gatekeeper.Obligation),
		byCategory: make(map[string][]string),
		bySeverity: make(map[string][]string),
		byDocument: make(map[string][]string),
	}
}

// Put inserts or replaces an obligation and keeps every index current.
func (s *MemoryObligationStore) Put(ctx context.Context, o *gatekeeper.Obligation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.records[o.ID]; ok {
		s.unindexLocked(old)
	} else {
		s.ids = insertSorted(s.ids, o.ID)
	}
	dup := o.Clone()
	s.records[dup.ID] = dup
	s.indexLocked(dup)
	return nil
}

// Delete removes an obligation. Deleting an unknown id is a no-op.
func (s *MemoryObligationStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.records[id]
	if !ok {
		return nil
	}
	delete(s.records, id)
	s.ids = removeSorted(s.ids, id)
	s.unindexLocked(old)
	return nil
}

// Get returns a copy of the obligation, or nil when absent.
func (s *MemoryObligationStore) Get(ctx context.Context, id string) (*gatekeeper.Obligation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id].Clone(), nil
}

// Query walks the index the plan selected, starting just past the resume key.
// The composite path walks the category index and drops severity mismatches
// during the walk; only matches count toward the limit.
func (s *MemoryObligationStore) Query(ctx context.Context, plan *gatekeeper.QueryPlan) (*gatekeeper.QueryPage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var walk []string
	severityFilter := ""
	switch plan.Path {
	case gatekeeper.PathCategorySeverity:
		walk = s.byCategory[plan.Category]
		severityFilter = plan.Severity
	case gatekeeper.PathCategory:
		walk = s.byCategory[plan.Category]
	case gatekeeper.PathSeverity:
		walk = s.bySeverity[plan.Severity]
	case gatekeeper.PathDocument:
		walk = s.byDocument[plan.DocumentID]
	default:
		walk = s.ids
	}

	start := 0
	if plan.StartAfter != nil {
		start = sort.SearchStrings(walk, plan.StartAfter.ID)
		if start < len(walk) && walk[start] == plan.StartAfter.ID {
			start++
		}
	}

	page := &gatekeeper.QueryPage{Items: make([]*gatekeeper.Obligation, 0, plan.Limit)}
	for _, id := range walk[start:] {
		o := s.records[id]
		if severityFilter != "" && o.Severity != severityFilter {
			continue
		}
		page.Items = append(page.Items, o.Clone())
		if len(page.Items) == plan.Limit {
			page.LastKey = &gatekeeper.StoreKey{ID: id}
			break
		}
	}
	return page, nil
}

func (s *MemoryObligationStore) indexLocked(o *gatekeeper.Obligation) {
	if o.Category != "" {
		s.byCategory[o.Category] = insertSorted(s.byCategory[o.Category], o.ID)
	}
	if o.Severity != "" {
		s.bySeverity[o.Severity] = insertSorted(s.bySeverity[o.Severity], o.ID)
	}
	if o.DocumentID != "" {
		s.byDocument[o.DocumentID] = insertSorted(s.byDocument[o.DocumentID], o.ID)
	}
}

func (s *MemoryObligationStore) unindexLocked(o *gatekeeper.Obligation) {
	if o.Category != "" {
		s.byCategory[o.Category] = removeSorted(s.byCategory[o.Category], o.ID)
	}
	if o.Severity != "" {
		s.bySeverity[o.Severity] = removeSorted(s.bySeverity[o.Severity], o.ID)
	}
	if o.DocumentID != "" {
		s.byDocument[o.DocumentID] = removeSorted(s.byDocument[o.DocumentID], o.ID)
	}
}

func insertSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i < len(ids) && ids[i] == id {
		return ids
	}
	ids = append(ids, "")
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids
}

func removeSorted(ids []string, id string) []string {
	i := sort.SearchStrings(ids, id)
	if i >= len(ids) || ids[i] != id {
		return ids
	}
	return append(ids[:i], ids[i+1:]...)
}
