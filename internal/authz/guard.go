package authz

import (
	"context"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/obs"
)

// Guard is the permission-gated entry point for endpoint-level checks.
// Each Require call writes exactly one audit entry.
type Guard struct {
	engine *Engine
	audit  *audit.Recorder
}

// NewGuard builds a Guard recording into rec.
func NewGuard(engine *Engine, rec *audit.Recorder) *Guard {
	if engine == nil {
		engine = NewEngine()
	}
	return &Guard{engine: engine, audit: rec}
}

// Require checks that actor holds perm. action and resource describe what is being guarded.
func (g *Guard) Require(ctx context.Context, actor *auth.Actor, perm Permission, action, resource string) error {
	entry := audit.Entry{Action: action, ResourceType: audit.ResourceEndpoint, ResourceID: resource}
	if actor != nil {
		entry.ActorID = actor.ID
	}
	err := g.check(actor, perm)
	switch {
	case err == nil:
		entry.Result = audit.ResultSuccess
	case actor == nil:
		entry.Result = audit.ResultUnauthorized
		entry.Detail = "authentication required"
	case !actor.Active:
		entry.Result = audit.ResultInactive
		entry.Detail = "actor is inactive"
	default:
		entry.Result = audit.ResultForbidden
		entry.Detail = "missing permission " + string(perm)
	}
	obs.ObserveDecision("permission", string(entry.Result))
	g.audit.Record(ctx, entry)
	return err
}

func (g *Guard) check(actor *auth.Actor, perm Permission) error {
	if actor == nil {
		return auth.ErrUnauthorized
	}
	if !actor.Active {
		return auth.ErrInactive
	}
	if !g.engine.HasPermission(actor, perm, nil) {
		return ErrForbidden
	}
	return nil
}
