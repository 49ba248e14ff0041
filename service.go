package gatekeeper

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/gatekeeper/logger"
)

// ============================================================================
// OBLIGATION LISTING SERVICE
// ============================================================================

// ListResult is the shaped, paginated response handed back to the
// surrounding handler.
type ListResult struct {
	Items      []*Obligation `json:"items"`
	Count      int           `json:"count"`
	NextCursor string        `json:"nextCursor,omitempty"`
}

// ObligationService wires the decision engine, planner and result shaper in
// front of a backing store. Each request is handled independently; the
// service keeps no per-request state and the single blocking I/O is the
// store round trip.
type ObligationService struct {
	engine       *Engine
	store        ObligationStore
	queryTimeout time.Duration
	logger       logger.Logger
}

// ServiceOption configures an ObligationService.
type ServiceOption func(*ObligationService)

// NewObligationService builds a service over the given engine and store.
func NewObligationService(engine *Engine, store ObligationStore, opts ...ServiceOption) *ObligationService {
	s := &ObligationService{
		engine:       engine,
		store:        store,
		queryTimeout: 5 * time.Second,
		logger:       logger.NewNullLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WithQueryTimeout bounds the store round trip. Zero disables the bound and
// leaves the caller's context in charge.
func WithQueryTimeout(d time.Duration) ServiceOption {
	return func(s *ObligationService) { s.queryTimeout = d }
}

// WithServiceLogger installs a logger on the service.
func WithServiceLogger(l logger.Logger) ServiceOption {
	return func(s *ObligationService) { s.logger = l }
}

// List authorizes, plans and executes an obligation listing request, then
// sorts and shapes the page for the caller's role.
//
// Error contract: ErrForbidden when no held role grants the read;
// InvalidFilterError / MalformedCursorError verbatim for correctable input;
// ErrStoreUnavailable for timeouts and transient store failures (retryable
// by the caller; the service itself never retries); the caller's own
// cancellation is propagated as-is and never yields a partial result.
func (s *ObligationService) List(ctx context.Context, id *Identity, f FilterSet) (*ListResult, error) {
	decision := s.engine.Decide(id, ResourceObligations, OpRead)
	if !decision.Allowed() {
		return nil, ErrForbidden
	}

	plan, err := Plan(f)
	if err != nil {
		return nil, err
	}

	qctx := ctx
	if s.queryTimeout > 0 {
		var cancel context.CancelFunc
		qctx, cancel = context.WithTimeout(ctx, s.queryTimeout)
		defer cancel()
	}

	page, err := s.store.Query(qctx, plan)
	if err != nil {
		if ctx.Err() != nil {
			// Caller went away; abandon the query without dressing it up as
			// a store failure.
			return nil, ctx.Err()
		}
		s.logger.Error("obligation query failed",
			"principal", decision.PrincipalID,
			"path", string(plan.Path),
			"err", err)
		return nil, fmt.Errorf("%w: obligation query", ErrStoreUnavailable)
	}

	items := page.Items
	SortObligations(items)
	shaped := s.engine.Shape(items, id)

	s.logger.Debug("obligations listed",
		"principal", decision.PrincipalID,
		"path", string(plan.Path),
		"count", len(shaped))

	result := &ListResult{Items: shaped, Count: len(shaped)}
	if page.LastKey != nil {
		result.NextCursor = EncodeCursor(page.LastKey)
	}
	return result, nil
}
