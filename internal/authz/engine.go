package authz

import (
	"errors"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/cases"
	"casedesk.org/internal/obs"
)

// ErrForbidden is returned when an authenticated actor lacks the capability.
var ErrForbidden = errors.New("authz: forbidden")

// Action is a coarse operation on a case.
type Action string

const (
	ActionRead   Action = "read"
	ActionWrite  Action = "write"
	ActionDelete Action = "delete"
	ActionCreate Action = "create"
)

// Decision is the outcome of Authorize. Result is the audit code to record.
type Decision struct {
	Allowed bool
	Result  audit.Result
	Reason  string
}

func permit() Decision { return Decision{Allowed: true, Result: audit.ResultSuccess} }

func deny(result audit.Result, reason string) Decision {
	return Decision{Result: result, Reason: reason}
}

// Engine evaluates capability checks against the static role table.
type Engine struct{}

// NewEngine returns the authorization engine.
func NewEngine() *Engine { return &Engine{} }

// HasPermission checks p for actor, applying the owner/assignee rule when c is given.
func (e *Engine) HasPermission(actor *auth.Actor, p Permission, c *cases.Case) bool {
	if actor == nil || !actor.Active {
		return false
	}
	if !Grants(actor.Role, p) {
		return false
	}
	if c == nil {
		return true
	}
	if _, ok := ownerScoped[p]; ok {
		return c.OwnedBy(actor.ID)
	}
	if _, ok := assigneeScoped[p]; ok {
		return c.AssignedTo(actor.ID)
	}
	return true
}

// CanView reports read visibility of c.
func (e *Engine) CanView(actor *auth.Actor, c *cases.Case) bool {
	return e.HasPermission(actor, ViewAllCases, c) ||
		e.HasPermission(actor, ViewOwnCases, c) ||
		e.HasPermission(actor, ViewAssignedCases, c)
}

// CanEdit reports field-edit rights on c.
func (e *Engine) CanEdit(actor *auth.Actor, c *cases.Case) bool {
	return e.HasPermission(actor, EditAllCases, c) || e.HasPermission(actor, EditOwnCases, c)
}

// CanDelete reports soft-delete rights on c.
func (e *Engine) CanDelete(actor *auth.Actor, c *cases.Case) bool {
	return e.HasPermission(actor, DeleteAllCases, c) || e.HasPermission(actor, DeleteOwnCases, c)
}

// CanUpdateStatus reports status-change rights on c.
func (e *Engine) CanUpdateStatus(actor *auth.Actor, c *cases.Case) bool {
	return e.HasPermission(actor, UpdateStatusAll, c) ||
		e.HasPermission(actor, UpdateStatusOwn, c) ||
		e.HasPermission(actor, UpdateStatusAssigned, c)
}

// Authorize is the single decision surface for case operations.
// Assignment alone never grants write or delete, and closed cases can only
// be written or deleted by admins.
func (e *Engine) Authorize(actor *auth.Actor, action Action, c *cases.Case) Decision {
	d := e.decide(actor, action, c)
	obs.ObserveDecision(string(action), string(d.Result))
	return d
}

func (e *Engine) decide(actor *auth.Actor, action Action, c *cases.Case) Decision {
	if actor == nil {
		return deny(audit.ResultUnauthorized, "no authenticated actor")
	}
	if !actor.Active {
		return deny(audit.ResultInactive, "actor is inactive")
	}
	if action == ActionCreate {
		if e.HasPermission(actor, CreateCase, nil) {
			return permit()
		}
		return deny(audit.ResultForbidden, "missing create_case")
	}
	if c == nil {
		return deny(audit.ResultForbidden, "no case supplied")
	}
	if actor.Role == auth.RoleAdmin {
		return permit()
	}
	switch action {
	case ActionRead:
		if e.CanView(actor, c) {
			return permit()
		}
		return deny(audit.ResultForbidden, "case is outside actor scope")
	case ActionWrite:
		if !e.CanEdit(actor, c) {
			return deny(audit.ResultForbidden, "only the owner may modify this case")
		}
		if c.Status == cases.StatusClosed {
			return deny(audit.ResultForbidden, "closed cases are read-only")
		}
		return permit()
	case ActionDelete:
		if !e.CanDelete(actor, c) {
			return deny(audit.ResultForbidden, "only the owner may delete this case")
		}
		if c.Status == cases.StatusClosed {
			return deny(audit.ResultForbidden, "closed cases cannot be deleted")
		}
		return permit()
	}
	return deny(audit.ResultForbidden, "unknown action")
}

// ScopeFor computes the listing predicate for actor. Inactive or missing
// actors get a scope that matches nothing.
func (e *Engine) ScopeFor(actor *auth.Actor) cases.Scope {
	if actor == nil || !actor.Active {
		return cases.Scope{}
	}
	if e.HasPermission(actor, ViewAllCases, nil) {
		return cases.Scope{All: true}
	}
	if e.HasPermission(actor, ViewOwnCases, nil) || e.HasPermission(actor, ViewAssignedCases, nil) {
		return cases.Scope{ActorID: actor.ID}
	}
	return cases.Scope{}
}
