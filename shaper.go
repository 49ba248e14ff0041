package gatekeeper

// ============================================================================
// RESULT SHAPER
// ============================================================================

// Projection lists the fields removed from a record before it leaves the
// core. An empty projection passes the full record through.
type Projection struct {
	OmitFields []string `json:"omit_fields" yaml:"omit_fields"`
}

// ProjectionTable is the declarative role -> resource-type -> projection
// mapping, looked up the same way as the permission matrix: flat, total,
// immutable after construction. Unknown pairs fall back to the full record.
type ProjectionTable struct {
	rules map[Role]map[ResourceType]Projection
}

// NewProjectionTable builds an immutable table from the given rules.
func NewProjectionTable(rules map[Role]map[ResourceType]Projection) *ProjectionTable {
	copied := make(map[Role]map[ResourceType]Projection, len(rules))
	for role, byResource := range rules {
		row := make(map[ResourceType]Projection, len(byResource))
		for rt, p := range byResource {
			omit := make([]string, len(p.OmitFields))
			copy(omit, p.OmitFields)
			row[rt] = Projection{OmitFields: omit}
		}
		copied[role] = row
	}
	return &ProjectionTable{rules: copied}
}

// DefaultProjections returns the built-in redaction table: read-only roles
// lose the internal audit fields on obligations, write-capable roles see the
// full record.
func DefaultProjections() *ProjectionTable {
	readOnly := Projection{OmitFields: []string{"created_by", "reviewed_by", "internal_notes", "attrs"}}
	return NewProjectionTable(map[Role]map[ResourceType]Projection{
		RoleAuditors: {ResourceObligations: readOnly},
		RoleViewers:  {ResourceObligations: readOnly},
	})
}

// ProjectionFor returns the projection for a role on a resource type. Total:
// unknown pairs yield the empty (pass-through) projection.
func (t *ProjectionTable) ProjectionFor(role Role, rt ResourceType) Projection {
	if row, ok := t.rules[role]; ok {
		if p, ok := row[rt]; ok {
			return p
		}
	}
	return Projection{}
}

// Shape applies record- and field-level redaction to a raw result set based
// on the caller's roles. Pure function of its inputs: no side effects, no
// I/O. A caller whose roles grant no read on obligations receives an empty
// set; otherwise each record is cloned and shaped through the projection of
// the highest-privileged role that grants the read.
func (e *Engine) Shape(items []*Obligation, id *Identity) []*Obligation {
	out := make([]*Obligation, 0, len(items))
	if id == nil {
		return out
	}
	ok, granted := e.matrix.Grants(id.Roles, ResourceObligations, OpRead)
	if !ok {
		return out
	}
	projection := e.projections.ProjectionFor(granted, ResourceObligations)
	for _, o := range items {
		out = append(out, redact(o, projection))
	}
	return out
}

// redact clones the record and clears the projected-out fields. Field names
// follow the record's wire (JSON) names; unknown names are ignored so a
// projection never fails at runtime.
func redact(o *Obligation, p Projection) *Obligation {
	dup := o.Clone()
	for _, field := range p.OmitFields {
		switch field {
		case "document_id":
			dup.DocumentID = ""
		case "title":
			dup.Title = ""
		case "description":
			dup.Description = ""
		case "regulation":
			dup.Regulation = ""
		case "due_date":
			dup.DueDate = ""
		case "status":
			dup.Status = ""
		case "created_by":
			dup.CreatedBy = ""
		case "reviewed_by":
			dup.ReviewedBy = ""
		case "internal_notes":
			dup.InternalNotes = ""
		case "attrs":
			dup.Attrs = nil
		}
	}
	return dup
}
