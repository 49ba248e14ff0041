package stores

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/oarkflow/squealx"

	"github.com/oarkflow/gatekeeper"
)

// SQLObligationStore persists obligations in SQL (squealx).
type SQLObligationStore struct {
	db *squealx.DB
}

func NewSQLObligationStore(db *squealx.DB) *SQLObligationStore {
	return &SQLObligationStore{db: db}
}

func (s *SQLObligationStore) CreateObligation(ctx context.Context, o *gatekeeper.Obligation) error {
	if o.CreatedTimestamp.IsZero() {
		o.CreatedTimestamp = time.Now()
	}
	if o.UpdatedTimestamp.IsZero() {
		o.UpdatedTimestamp = o.CreatedTimestamp
	}
	q := `INSERT INTO obligations(id, document_id, title, description, category, severity, status, regulation, due_date, created_timestamp, updated_timestamp, created_by, reviewed_by, internal_notes, attrs_json) VALUES(:id, :document_id, :title, :description, :category, :severity, :status, :regulation, :due_date, :created_timestamp, :updated_timestamp, :created_by, :reviewed_by, :internal_notes, :attrs_json)`
	_, err := s.db.NamedExecContext(ctx, q, obligationParams(o))
	return err
}

func (s *SQLObligationStore) UpdateObligation(ctx context.Context, o *gatekeeper.Obligation) error {
	if o.UpdatedTimestamp.IsZero() {
		o.UpdatedTimestamp = time.Now()
	}
	q := `UPDATE obligations SET document_id=:document_id, title=:title, description=:description, category=:category, severity=:severity, status=:status, regulation=:regulation, due_date=:due_date, created_timestamp=:created_timestamp, updated_timestamp=:updated_timestamp, created_by=:created_by, reviewed_by=:reviewed_by, internal_notes=:internal_notes, attrs_json=:attrs_json WHERE id=:id`
	_, err := s.db.NamedExecContext(ctx, q, obligationParams(o))
	return err
}

func (s *SQLObligationStore) DeleteObligation(ctx context.Context, id string) error {
	q := `DELETE FROM obligations WHERE id = :id`
	_, err := s.db.NamedExecContext(ctx, q, map[string]any{"id": id})
	return err
}

func (s *SQLObligationStore) GetObligation(ctx context.Context, id string) (*gatekeeper.Obligation, error) {
	q := obligationSelect + ` WHERE id = :id`
	r, err := s.db.NamedQueryContext(ctx, q, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	defer r.Close()
	if !r.Next() {
		return nil, fmt.Errorf("obligation not found: %s", id)
	}
	return scanObligation(r)
}

// Query executes a planned listing. Every path filters in SQL and iterates in
// ascending id order with an exclusive resume key, so cursors round-trip
// without overlap. The composite path pushes both predicates into the WHERE,
// which matches the index-walk-plus-post-filter contract record for record.
func (s *SQLObligationStore) Query(ctx context.Context, plan *gatekeeper.QueryPlan) (*gatekeeper.QueryPage, error) {
	q := obligationSelect + ` WHERE 1=1`
	args := map[string]any{"limit": plan.Limit}
	if plan.Category != "" {
		q += ` AND category = :category`
		args["category"] = plan.Category
	}
	if plan.Severity != "" {
		q += ` AND severity = :severity`
		args["severity"] = plan.Severity
	}
	if plan.DocumentID != "" {
		q += ` AND document_id = :document_id`
		args["document_id"] = plan.DocumentID
	}
	if plan.StartAfter != nil {
		q += ` AND id > :after`
		args["after"] = plan.StartAfter.ID
	}
	q += ` ORDER BY id ASC LIMIT :limit`

	r, err := s.db.NamedQueryContext(ctx, q, args)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	page := &gatekeeper.QueryPage{Items: make([]*gatekeeper.Obligation, 0, plan.Limit)}
	for r.Next() {
		o, err := scanObligation(r)
		if err != nil {
			return nil, err
		}
		page.Items = append(page.Items, o)
	}
	if len(page.Items) == plan.Limit {
		page.LastKey = &gatekeeper.StoreKey{ID: page.Items[len(page.Items)-1].ID}
	}
	return page, nil
}

const obligationSelect = `SELECT id, document_id, title, description, category, severity, status, regulation, due_date, created_timestamp, updated_timestamp, created_by, reviewed_by, internal_notes, attrs_json FROM obligations`

func obligationParams(o *gatekeeper.Obligation) map[string]any {
	attrs := ""
	if o.Attrs != nil {
		if b, err := json.Marshal(o.Attrs); err == nil {
			attrs = string(b)
		}
	}
	return map[string]any{
		"id":                o.ID,
		"document_id":       o.DocumentID,
		"title":             o.Title,
		"description":       o.Description,
		"category":          o.Category,
		"severity":          o.Severity,
		"status":            o.Status,
		"regulation":        o.Regulation,
		"due_date":          o.DueDate,
		"created_timestamp": o.CreatedTimestamp,
		"updated_timestamp": o.UpdatedTimestamp,
		"created_by":        o.CreatedBy,
		"reviewed_by":       o.ReviewedBy,
		"internal_notes":    o.InternalNotes,
		"attrs_json":        attrs,
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanObligation(r rowScanner) (*gatekeeper.Obligation, error) {
	o := &gatekeeper.Obligation{}
	var attrsJSON string
	var createdRaw, updatedRaw interface{}
	if err := r.Scan(&o.ID, &o.DocumentID, &o.Title, &o.Description, &o.Category, &o.Severity, &o.Status, &o.Regulation, &o.DueDate, &createdRaw, &updatedRaw, &o.CreatedBy, &o.ReviewedBy, &o.InternalNotes, &attrsJSON); err != nil {
		return nil, err
	}
	o.CreatedTimestamp = scanTime(createdRaw)
	o.UpdatedTimestamp = scanTime(updatedRaw)
	if attrsJSON != "" {
		_ = json.Unmarshal([]byte(attrsJSON), &o.Attrs)
	}
	return o, nil
}
