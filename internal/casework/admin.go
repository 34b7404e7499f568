package casework

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/authz"
	"casedesk.org/internal/cases"
	"casedesk.org/internal/paging"
)

// ListAuditLogs pages through the audit trail, newest first. Only actors
// holding view_audit_logs may read it.
func (s *Service) ListAuditLogs(ctx context.Context, actor *auth.Actor, f audit.Filter, req paging.Request) (_ []audit.Entry, _ paging.Info, err error) {
	ctx, span := startSpan(ctx, "casework.ListAuditLogs", actor)
	defer func() { endSpan(span, err) }()

	if f.Result != "" && !f.Result.Valid() {
		return nil, paging.Info{}, cases.FieldError("result", "unknown audit result")
	}

	j := newJournal(actor, audit.ResourceAudit)
	defer s.flush(ctx, j)

	if d, ok := s.require(actor, authz.ViewAuditLogs); !ok {
		j.add(ActionViewAuditLogs, "", d.Result, d.Reason)
		return nil, paging.Info{}, actorError(d)
	}
	if s.logs == nil {
		j.add(ActionViewAuditLogs, "", audit.ResultError, "no audit store configured")
		return nil, paging.Info{}, operational(audit.ErrStoreUnavailable)
	}

	req = req.Normalize(paging.DefaultAuditPerPage)
	entries, total, err := s.logs.List(ctx, f, req.Offset(), req.Limit())
	if err != nil {
		j.add(ActionViewAuditLogs, "", audit.ResultError, err.Error())
		return nil, paging.Info{}, operational(err)
	}
	j.add(ActionViewAuditLogs, "", audit.ResultSuccess, fmt.Sprintf("returned %d of %d", len(entries), total))
	return entries, paging.NewInfo(req, total), nil
}

// PermissionsOf returns the account userID and its grants. Requires manage_users.
func (s *Service) PermissionsOf(ctx context.Context, actor *auth.Actor, userID string) (_ *auth.User, _ []authz.Permission, err error) {
	ctx, span := startSpan(ctx, "casework.PermissionsOf", actor, attribute.String("user.id", userID))
	defer func() { endSpan(span, err) }()

	j := newJournal(actor, audit.ResourceUser)
	defer s.flush(ctx, j)

	if d, ok := s.require(actor, authz.ManageUsers); !ok {
		j.add(ActionViewPermission, userID, d.Result, d.Reason)
		return nil, nil, actorError(d)
	}
	u, err := s.users.Find(ctx, userID)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			j.add(ActionViewPermission, userID, audit.ResultNotFound, "user not found")
			return nil, nil, auth.ErrNotFound
		}
		j.add(ActionViewPermission, userID, audit.ResultError, err.Error())
		return nil, nil, operational(err)
	}
	j.add(ActionViewPermission, userID, audit.ResultSuccess, "permissions viewed")
	return u, authz.PermissionsFor(u.Role), nil
}

func (s *Service) require(actor *auth.Actor, p authz.Permission) (authz.Decision, bool) {
	if d, ok := precheck(actor); !ok {
		return d, false
	}
	if !s.engine.HasPermission(actor, p, nil) {
		return authz.Decision{Result: audit.ResultForbidden, Reason: "missing permission " + string(p)}, false
	}
	return authz.Decision{Allowed: true, Result: audit.ResultSuccess}, true
}
