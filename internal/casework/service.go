// Package casework runs case operations for an authenticated actor. Every
// operation consults the authorization engine, scopes reads, drives the
// status machine inside the repository transaction and records the decision
// in the audit trail after the transaction settles.
package casework

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/authz"
	"casedesk.org/internal/cases"
)

var tracer = otel.Tracer("casedesk.org/internal/casework")

// ErrOperational marks a storage failure. The transaction was rolled back.
var ErrOperational = errors.New("casework: operation failed")

// Audit action names emitted by Service.
const (
	ActionCreateCase     = "CREATE_CASE"
	ActionViewCase       = "VIEW_CASE"
	ActionListCases      = "LIST_CASES"
	ActionListAllCases   = "LIST_ALL_CASES"
	ActionUpdateCase     = "UPDATE_CASE"
	ActionDeleteCase     = "DELETE_CASE"
	ActionAssignSelf     = "ASSIGN_CASE_SELF"
	ActionViewAuditLogs  = "VIEW_AUDIT_LOGS"
	ActionViewPermission = "VIEW_USER_PERMISSIONS"
)

const detailOutOfScope = "out of scope"

// Service is the case workflow facade.
type Service struct {
	repo   cases.Repository
	users  auth.UserStore
	logs   audit.Store
	engine *authz.Engine
	audit  *audit.Recorder
	now    func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithRecorder overrides the recorder built over the audit store.
func WithRecorder(rec *audit.Recorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.audit = rec
		}
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// WithEngine overrides the authorization engine.
func WithEngine(e *authz.Engine) Option {
	return func(s *Service) {
		if e != nil {
			s.engine = e
		}
	}
}

// NewService wires the collaborators. logs backs both audit listing and,
// unless WithRecorder is given, the recorder.
func NewService(repo cases.Repository, users auth.UserStore, logs audit.Store, opts ...Option) (*Service, error) {
	if repo == nil {
		return nil, errors.New("casework: repository is nil")
	}
	if users == nil {
		return nil, errors.New("casework: user store is nil")
	}
	s := &Service{
		repo:   repo,
		users:  users,
		logs:   logs,
		engine: authz.NewEngine(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = audit.NewRecorder(logs, audit.WithClock(s.now))
	}
	return s, nil
}

// UserPermissions lists the grants held by actor. Inactive actors hold none.
func (s *Service) UserPermissions(actor *auth.Actor) []authz.Permission {
	if actor == nil || !actor.Active {
		return []authz.Permission{}
	}
	return authz.PermissionsFor(actor.Role)
}

// journal collects audit entries during an operation and writes them once
// the repository call has returned.
type journal struct {
	actorID  string
	resource string
	entries  []audit.Entry
}

func newJournal(actor *auth.Actor, resource string) *journal {
	j := &journal{resource: resource}
	if actor != nil {
		j.actorID = actor.ID
	}
	return j
}

func (j *journal) add(action, resourceID string, result audit.Result, detail string) {
	j.entries = append(j.entries, audit.Entry{
		ActorID:      j.actorID,
		Action:       action,
		ResourceType: j.resource,
		ResourceID:   resourceID,
		Result:       result,
		Detail:       detail,
	})
}

func (j *journal) reset() { j.entries = j.entries[:0] }

func (s *Service) flush(ctx context.Context, j *journal) {
	for _, e := range j.entries {
		s.audit.Record(ctx, e)
	}
	j.reset()
}

// actorError maps a denied decision to the error surfaced to callers.
func actorError(d authz.Decision) error {
	switch d.Result {
	case audit.ResultUnauthorized:
		return auth.ErrUnauthorized
	case audit.ResultInactive:
		return auth.ErrInactive
	}
	return fmt.Errorf("%w: %s", authz.ErrForbidden, d.Reason)
}

// precheck handles the actor-level denials shared by every operation.
func precheck(actor *auth.Actor) (authz.Decision, bool) {
	switch {
	case actor == nil:
		return authz.Decision{Result: audit.ResultUnauthorized, Reason: "no authenticated actor"}, false
	case !actor.Active:
		return authz.Decision{Result: audit.ResultInactive, Reason: "actor is inactive"}, false
	}
	return authz.Decision{Allowed: true, Result: audit.ResultSuccess}, true
}

func operational(err error) error {
	return fmt.Errorf("%w: %v", ErrOperational, err)
}

func startSpan(ctx context.Context, name string, actor *auth.Actor, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if actor != nil {
		attrs = append(attrs, attribute.String("actor.id", actor.ID), attribute.String("actor.role", string(actor.Role)))
	}
	return tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
