package gatekeeper

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/oarkflow/gatekeeper/logger"
	"github.com/oarkflow/gatekeeper/utils"
)

// ============================================================================
// DOMAIN OBJECTS
// ============================================================================

// Role is an opaque permission-group label carried in the caller's credential.
type Role string

// ResourceType is the category of data an operation acts upon.
type ResourceType string

// Operation is the kind of action requested against a resource type.
type Operation string

// Effect is the outcome of an access decision.
type Effect string

const (
	RoleComplianceManagers Role = "ComplianceManagers"
	RoleComplianceOfficers Role = "ComplianceOfficers"
	RoleAuditors           Role = "Auditors"
	RoleViewers            Role = "Viewers"
)

const (
	ResourceDocuments   ResourceType = "documents"
	ResourceObligations ResourceType = "obligations"
	ResourceTasks       ResourceType = "tasks"
	ResourceReports     ResourceType = "reports"
	ResourceUsers       ResourceType = "users"
	ResourceUnknown     ResourceType = "unknown"
)

const (
	OpRead     Operation = "read"
	OpWrite    Operation = "write"
	OpDelete   Operation = "delete"
	OpAssign   Operation = "assign"
	OpGenerate Operation = "generate"
)

const (
	EffectAllow Effect = "Allow"
	EffectDeny  Effect = "Deny"
)

// Identity is the authenticated caller, built per request from the inbound
// credential and discarded at end of request. An empty role set means the
// caller is effectively anonymous and every decision degrades to Deny.
type Identity struct {
	PrincipalID string `json:"principal_id"`
	Email       string `json:"email"`
	Username    string `json:"username,omitempty"`
	Roles       []Role `json:"roles"`
}

// GroupNames returns the role set as plain strings for context propagation.
func (id *Identity) GroupNames() []string {
	out := make([]string, 0, len(id.Roles))
	for _, r := range id.Roles {
		out = append(out, string(r))
	}
	return out
}

// HasRole reports whether the identity holds the given role.
func (id *Identity) HasRole(role Role) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// DecisionContext carries the caller identity attached to an Allow decision
// for downstream audit and propagation.
type DecisionContext struct {
	UserID   string   `json:"userId"`
	Email    string   `json:"email"`
	Groups   []string `json:"groups"`
	Username string   `json:"username,omitempty"`
}

// Decision is the cacheable allow/deny artifact consumed by the front-door
// routing layer. Context is attached only on Allow; a Deny never carries
// caller context, so a consumer cannot accidentally read it on the deny path.
type Decision struct {
	PrincipalID string           `json:"principalId"`
	Effect      Effect           `json:"effect"`
	Resource    string           `json:"resource"`
	Context     *DecisionContext `json:"context,omitempty"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Allowed reports whether the decision permits the request.
func (d *Decision) Allowed() bool { return d.Effect == EffectAllow }

// Obligation is a persisted compliance item. The gateway only reads these;
// creation and deletion belong to the storage layer.
type Obligation struct {
	ID               string         `json:"id"`
	DocumentID       string         `json:"document_id"`
	Title            string         `json:"title"`
	Description      string         `json:"description"`
	Category         string         `json:"category"`
	Severity         string         `json:"severity"`
	Status           string         `json:"status"`
	Regulation       string         `json:"regulation,omitempty"`
	DueDate          string         `json:"due_date,omitempty"`
	CreatedTimestamp time.Time      `json:"created_timestamp"`
	UpdatedTimestamp time.Time      `json:"updated_timestamp,omitempty"`
	CreatedBy        string         `json:"created_by,omitempty"`
	ReviewedBy       string         `json:"reviewed_by,omitempty"`
	InternalNotes    string         `json:"internal_notes,omitempty"`
	Attrs            map[string]any `json:"attrs,omitempty"`
}

// Clone returns a deep copy so stores and the shaper never hand out aliased
// records.
func (o *Obligation) Clone() *Obligation {
	if o == nil {
		return nil
	}
	dup := *o
	if o.Attrs != nil {
		dup.Attrs = make(map[string]any, len(o.Attrs))
		for k, v := range o.Attrs {
			dup.Attrs[k] = v
		}
	}
	return &dup
}

// ============================================================================
// PERMISSION MATRIX
// ============================================================================

// Matrix is the static role -> resource-type -> operations table. It is built
// once at process start and never mutated afterwards, so no locking is needed.
// Every lookup is total: an unknown role or resource type yields an empty
// operation set, never an error.
//
// The table is deliberately flat. Similar roles (Auditors and Viewers are both
// read-only) repeat their rows instead of inheriting them, which keeps every
// role's rights auditable in one place.
type Matrix struct {
	grants map[Role]map[ResourceType]map[Operation]struct{}
}

// NewMatrix builds an immutable Matrix from the given entries. The input is
// deep-copied so later mutation of the argument cannot leak into the table.
func NewMatrix(entries map[Role]map[ResourceType][]Operation) *Matrix {
	grants := make(map[Role]map[ResourceType]map[Operation]struct{}, len(entries))
	for role, byResource := range entries {
		row := make(map[ResourceType]map[Operation]struct{}, len(byResource))
		for rt, ops := range byResource {
			set := make(map[Operation]struct{}, len(ops))
			for _, op := range ops {
				set[op] = struct{}{}
			}
			row[rt] = set
		}
		grants[role] = row
	}
	return &Matrix{grants: grants}
}

// DefaultMatrix returns the built-in compliance permission table.
func DefaultMatrix() *Matrix {
	return NewMatrix(map[Role]map[ResourceType][]Operation{
		RoleComplianceManagers: {
			ResourceDocuments:   {OpRead, OpWrite, OpDelete},
			ResourceObligations: {OpRead, OpWrite},
			ResourceTasks:       {OpRead, OpWrite, OpAssign},
			ResourceReports:     {OpRead, OpWrite, OpGenerate},
			ResourceUsers:       {OpRead, OpWrite},
		},
		RoleComplianceOfficers: {
			ResourceDocuments:   {OpRead, OpWrite},
			ResourceObligations: {OpRead, OpWrite},
			ResourceTasks:       {OpRead, OpWrite},
			ResourceReports:     {OpRead, OpGenerate},
			ResourceUsers:       {OpRead},
		},
		RoleAuditors: {
			ResourceDocuments:   {OpRead},
			ResourceObligations: {OpRead},
			ResourceTasks:       {OpRead},
			ResourceReports:     {OpRead},
			ResourceUsers:       {},
		},
		RoleViewers: {
			ResourceDocuments:   {OpRead},
			ResourceObligations: {OpRead},
			ResourceTasks:       {OpRead},
			ResourceReports:     {OpRead},
			ResourceUsers:       {},
		},
	})
}

// PermissionsFor returns the operations the role may perform on the resource
// type, sorted for determinism. Unknown pairs return an empty, non-nil slice.
func (m *Matrix) PermissionsFor(role Role, rt ResourceType) []Operation {
	out := make([]Operation, 0, 4)
	if row, ok := m.grants[role]; ok {
		for op := range row[rt] {
			out = append(out, op)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Grants reports whether any of the held roles permits the operation on the
// resource type (permissive union), and which role granted it. When several
// held roles grant the operation, the one with the highest hierarchy level
// wins so that downstream shaping uses the broadest projection.
func (m *Matrix) Grants(roles []Role, rt ResourceType, op Operation) (bool, Role) {
	var granted Role
	found := false
	for _, role := range roles {
		row, ok := m.grants[role]
		if !ok {
			continue
		}
		if _, ok := row[rt][op]; !ok {
			continue
		}
		if !found || roleLevel(role) > roleLevel(granted) {
			granted = role
			found = true
		}
	}
	return found, granted
}

// Roles lists every role known to the matrix, sorted.
func (m *Matrix) Roles() []Role {
	out := make([]Role, 0, len(m.grants))
	for r := range m.grants {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ResourceTypes lists every resource type appearing in the matrix, sorted.
func (m *Matrix) ResourceTypes() []ResourceType {
	seen := make(map[ResourceType]struct{})
	for _, row := range m.grants {
		for rt := range row {
			seen[rt] = struct{}{}
		}
	}
	out := make([]ResourceType, 0, len(seen))
	for rt := range seen {
		out = append(out, rt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Role hierarchy levels (higher = more permissions). Used only to break ties
// between several granting roles; authorization itself is a flat union.
var roleLevels = map[Role]int{
	RoleComplianceManagers: 4,
	RoleComplianceOfficers: 3,
	RoleAuditors:           2,
	RoleViewers:            1,
}

func roleLevel(role Role) int { return roleLevels[role] }

// HighestRole returns the held role with the highest hierarchy level, or ""
// when none of the roles is a known built-in.
func HighestRole(roles []Role) Role {
	var best Role
	bestLevel := 0
	for _, r := range roles {
		if lvl := roleLevel(r); lvl > bestLevel {
			best = r
			bestLevel = lvl
		}
	}
	return best
}

// ============================================================================
// OPERATION & RESOURCE DERIVATION
// ============================================================================

// RouteOverride maps a route pattern ("METHOD /path", wildcards allowed) to an
// explicit resource type and operation, bypassing the default derivation.
type RouteOverride struct {
	Pattern   string       `json:"pattern" yaml:"pattern"`
	Resource  ResourceType `json:"resource" yaml:"resource"`
	Operation Operation    `json:"operation" yaml:"operation"`
}

// ResourceTypeFor derives the resource type from a request path by scanning
// its segments for a known collection name.
func ResourceTypeFor(path string) ResourceType {
	for _, seg := range strings.Split(strings.Trim(path, "/"), "/") {
		switch ResourceType(seg) {
		case ResourceDocuments, ResourceObligations, ResourceTasks, ResourceReports, ResourceUsers:
			return ResourceType(seg)
		}
	}
	return ResourceUnknown
}

// OperationFor maps an HTTP method and path to the operation it requests.
// The second return reports whether the method was recognized; unrecognized
// methods map to read, the least powerful operation. That fail-open default
// preserves the behavior of the original gateway and is controlled by the
// engine's StrictMethods option.
func OperationFor(method, path string) (Operation, bool) {
	switch strings.ToUpper(method) {
	case "GET", "HEAD", "OPTIONS":
		return OpRead, true
	case "DELETE":
		return OpDelete, true
	case "POST", "PUT", "PATCH":
		if utils.LastSegment(path) == "generate" {
			return OpGenerate, true
		}
		if utils.HasSegment(path, "assign") {
			return OpAssign, true
		}
		return OpWrite, true
	default:
		return OpRead, false
	}
}

// ============================================================================
// ACCESS DECISION ENGINE
// ============================================================================

// Engine evaluates access decisions against the permission matrix and shapes
// query results through the projection table. All evaluation is pure and
// stateless per call; the only shared state is the immutable matrix and an
// optional decision cache.
type Engine struct {
	matrix        *Matrix
	projections   *ProjectionTable
	overrides     []RouteOverride
	cache         *ristretto.Cache
	cacheTTL      time.Duration
	strictMethods bool
	logger        logger.Logger
	traceIDFunc   logger.TraceIDFunc
}

// EngineOption configures an Engine at construction time.
type EngineOption func(*Engine) error

// NewEngine builds an Engine over the given matrix. A nil matrix selects the
// built-in compliance table.
func NewEngine(matrix *Matrix, opts ...EngineOption) (*Engine, error) {
	if matrix == nil {
		matrix = DefaultMatrix()
	}
	e := &Engine{
		matrix:      matrix,
		projections: DefaultProjections(),
		cacheTTL:    30 * time.Second,
		logger:      logger.NewNullLogger(),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}
	return e, nil
}

// WithProjections installs a custom projection table.
func WithProjections(t *ProjectionTable) EngineOption {
	return func(e *Engine) error {
		if t == nil {
			return fmt.Errorf("nil projection table")
		}
		e.projections = t
		return nil
	}
}

// WithDecisionCache enables the ristretto-backed decision cache. Cached
// entries are keyed by (principal, role set, resource, method) and expire
// after the cache TTL, which must stay within one credential's validity
// window.
func WithDecisionCache(numCounters, maxCost, bufferItems int64) EngineOption {
	return func(e *Engine) error {
		cache, err := ristretto.NewCache(&ristretto.Config{
			NumCounters: numCounters,
			MaxCost:     maxCost,
			BufferItems: bufferItems,
		})
		if err != nil {
			return fmt.Errorf("decision cache: %w", err)
		}
		e.cache = cache
		return nil
	}
}

// WithDecisionCacheTTL sets how long cached decisions remain valid.
func WithDecisionCacheTTL(ttl time.Duration) EngineOption {
	return func(e *Engine) error {
		if ttl <= 0 {
			return fmt.Errorf("cache ttl must be positive")
		}
		e.cacheTTL = ttl
		return nil
	}
}

// WithStrictMethods makes the engine deny requests whose HTTP method is not
// recognized, instead of degrading them to read.
func WithStrictMethods() EngineOption {
	return func(e *Engine) error {
		e.strictMethods = true
		return nil
	}
}

// WithRouteOverrides installs explicit route -> (resource, operation)
// mappings consulted before the default derivation.
func WithRouteOverrides(overrides ...RouteOverride) EngineOption {
	return func(e *Engine) error {
		e.overrides = append(e.overrides, overrides...)
		return nil
	}
}

// WithEngineLogger installs a logger on the engine.
func WithEngineLogger(l logger.Logger) EngineOption {
	return func(e *Engine) error {
		if l == nil {
			return fmt.Errorf("nil logger")
		}
		e.logger = l
		return nil
	}
}

// WithTraceIDFunc attaches a correlation-id generator; every decision log
// line carries its output as trace_id.
func WithTraceIDFunc(fn logger.TraceIDFunc) EngineOption {
	return func(e *Engine) error {
		e.traceIDFunc = fn
		return nil
	}
}

// Matrix returns the engine's permission table.
func (e *Engine) Matrix() *Matrix { return e.matrix }

// Projections returns the engine's projection table.
func (e *Engine) Projections() *ProjectionTable { return e.projections }

// Decide evaluates whether the identity may perform the operation on the
// resource type. It never errors: unknown roles and resource types simply
// hold no permissions, and an empty role set always yields Deny. Context is
// attached only on Allow.
func (e *Engine) Decide(id *Identity, rt ResourceType, op Operation) *Decision {
	now := time.Now()
	principal := ""
	if id != nil {
		principal = id.PrincipalID
	}
	deny := &Decision{
		PrincipalID: principal,
		Effect:      EffectDeny,
		Resource:    string(rt),
		Timestamp:   now,
	}
	if id == nil || len(id.Roles) == 0 {
		e.logger.Debug("deny: no roles held", e.traced("principal", principal, "resource", string(rt), "operation", string(op))...)
		return deny
	}
	ok, granted := e.matrix.Grants(id.Roles, rt, op)
	if !ok {
		// The reason (held roles, missing operation) stays in server logs;
		// the caller only ever sees the bare Deny.
		e.logger.Info("deny: no role grants operation", e.traced(
			"principal", principal,
			"resource", string(rt),
			"operation", string(op),
			"roles", strings.Join(id.GroupNames(), ","))...)
		return deny
	}
	e.logger.Debug("allow", e.traced(
		"principal", principal,
		"resource", string(rt),
		"operation", string(op),
		"granted_by", string(granted))...)
	return &Decision{
		PrincipalID: principal,
		Effect:      EffectAllow,
		Resource:    string(rt),
		Timestamp:   now,
		Context: &DecisionContext{
			UserID:   id.PrincipalID,
			Email:    id.Email,
			Groups:   id.GroupNames(),
			Username: id.Username,
		},
	}
}

// Authorize derives the resource type and operation from an inbound method
// and path, then decides. The resulting artifact carries the request path as
// its resource scope and is cached per (principal, roles, method, path) when
// a decision cache is configured.
func (e *Engine) Authorize(id *Identity, method, path string) *Decision {
	key := decisionKey(id, method, path)
	if e.cache != nil {
		if v, ok := e.cache.Get(key); ok {
			if d, ok := v.(*Decision); ok {
				return d
			}
		}
	}

	rt, op, recognized := e.route(method, path)
	var d *Decision
	if !recognized && e.strictMethods {
		principal := ""
		if id != nil {
			principal = id.PrincipalID
		}
		e.logger.Info("deny: unrecognized method", e.traced("principal", principal, "method", method, "path", path)...)
		d = &Decision{PrincipalID: principal, Effect: EffectDeny, Resource: path, Timestamp: time.Now()}
	} else {
		d = e.Decide(id, rt, op)
		d.Resource = path
	}

	if e.cache != nil {
		e.cache.SetWithTTL(key, d, 1, e.cacheTTL)
	}
	return d
}

// route resolves (resource, operation) for a request, consulting overrides
// before the default derivation.
func (e *Engine) route(method, path string) (ResourceType, Operation, bool) {
	value := strings.ToUpper(method) + " " + path
	for _, ov := range e.overrides {
		if utils.MatchRoute(value, ov.Pattern) {
			return ov.Resource, ov.Operation, true
		}
	}
	op, recognized := OperationFor(method, path)
	return ResourceTypeFor(path), op, recognized
}

// traced appends the correlation id when a generator is installed.
func (e *Engine) traced(keyvals ...any) []any {
	if e.traceIDFunc != nil {
		return append(keyvals, "trace_id", e.traceIDFunc())
	}
	return keyvals
}

// InvalidateDecisionCache drops every cached decision. Call after swapping
// the permission matrix or when credentials are revoked early.
func (e *Engine) InvalidateDecisionCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

func decisionKey(id *Identity, method, path string) string {
	var b strings.Builder
	if id != nil {
		b.WriteString(id.PrincipalID)
		b.WriteByte('|')
		// Roles are part of the key: the same principal presenting a
		// credential with different group claims must not share entries.
		b.WriteString(strings.Join(id.GroupNames(), ","))
	}
	b.WriteByte('|')
	b.WriteString(strings.ToUpper(method))
	b.WriteByte('|')
	b.WriteString(path)
	return b.String()
}
