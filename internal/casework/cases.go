package casework

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/authz"
	"casedesk.org/internal/cases"
	"casedesk.org/internal/ids"
	"casedesk.org/internal/paging"
)

// CreateCase validates in and stores a new case owned by actor. Without an
// assignee the case is assigned to actor.
func (s *Service) CreateCase(ctx context.Context, actor *auth.Actor, in cases.CreateInput) (_ *cases.Case, err error) {
	ctx, span := startSpan(ctx, "casework.CreateCase", actor)
	defer func() { endSpan(span, err) }()

	now := s.now().UTC()
	in = in.Normalize()
	if err := in.Validate(now); err != nil {
		return nil, err
	}

	j := newJournal(actor, audit.ResourceCase)
	defer s.flush(ctx, j)

	if d := s.engine.Authorize(actor, authz.ActionCreate, nil); !d.Allowed {
		j.add(ActionCreateCase, "", d.Result, d.Reason)
		return nil, actorError(d)
	}

	c := &cases.Case{
		ID:          ids.NewAt(now),
		Title:       in.Title,
		Description: in.Description,
		Status:      in.Status,
		Priority:    in.Priority,
		DueDate:     in.DueDate,
		OwnerID:     actor.ID,
		AssigneeID:  actor.ID,
		Active:      true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if in.AssigneeID != "" {
		assignee, corrected, err := s.resolveAssignee(ctx, actor, in.AssigneeID)
		if err != nil {
			j.add(ActionCreateCase, "", audit.ResultError, err.Error())
			return nil, err
		}
		if corrected {
			j.add(ActionAssignSelf, c.ID, audit.ResultCorrected, "requested assignee "+in.AssigneeID+" replaced by creator")
		}
		c.AssigneeID = assignee
	}

	if err := s.repo.Create(ctx, c); err != nil {
		j.reset()
		j.add(ActionCreateCase, c.ID, audit.ResultError, err.Error())
		return nil, operational(err)
	}
	j.add(ActionCreateCase, c.ID, audit.ResultSuccess, "case created")
	return c, nil
}

// GetCase returns a visible, active case. Out-of-scope cases look missing.
func (s *Service) GetCase(ctx context.Context, actor *auth.Actor, id string) (_ *cases.Case, err error) {
	ctx, span := startSpan(ctx, "casework.GetCase", actor, attribute.String("case.id", id))
	defer func() { endSpan(span, err) }()

	j := newJournal(actor, audit.ResourceCase)
	defer s.flush(ctx, j)

	if d, ok := precheck(actor); !ok {
		j.add(ActionViewCase, id, d.Result, d.Reason)
		return nil, actorError(d)
	}
	c, err := s.repo.Get(ctx, id)
	if err != nil {
		if errors.Is(err, cases.ErrNotFound) {
			j.add(ActionViewCase, id, audit.ResultNotFound, "case not found")
			return nil, cases.ErrNotFound
		}
		j.add(ActionViewCase, id, audit.ResultError, err.Error())
		return nil, operational(err)
	}
	if d, err := s.gate(actor, c, authz.ActionRead); err != nil {
		j.add(ActionViewCase, id, d.Result, d.Reason)
		return nil, err
	}
	j.add(ActionViewCase, id, audit.ResultSuccess, "case viewed")
	return c, nil
}

// ListCases returns one page of the cases visible to actor. The scope is
// applied before the filter and the page window so that totals count only
// visible cases.
func (s *Service) ListCases(ctx context.Context, actor *auth.Actor, f cases.ListFilter, req paging.Request) (_ []*cases.Case, _ paging.Info, err error) {
	ctx, span := startSpan(ctx, "casework.ListCases", actor)
	defer func() { endSpan(span, err) }()
	return s.listCases(ctx, actor, ActionListCases, f, req)
}

// ListAllCases is the administrative listing. The actor needs view_audit_logs
// whether or not f.IncludeInactive is set, and the call is audited once as
// LIST_ALL_CASES.
func (s *Service) ListAllCases(ctx context.Context, actor *auth.Actor, f cases.ListFilter, req paging.Request) (_ []*cases.Case, _ paging.Info, err error) {
	ctx, span := startSpan(ctx, "casework.ListAllCases", actor)
	defer func() { endSpan(span, err) }()
	return s.listCases(ctx, actor, ActionListAllCases, f, req)
}

func (s *Service) listCases(ctx context.Context, actor *auth.Actor, action string, f cases.ListFilter, req paging.Request) ([]*cases.Case, paging.Info, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, paging.Info{}, cases.FieldError("status", "must be one of open, in_progress, closed")
	}
	if f.Priority != "" && !f.Priority.Valid() {
		return nil, paging.Info{}, cases.FieldError("priority", "must be one of low, medium, high")
	}

	j := newJournal(actor, audit.ResourceCase)
	defer s.flush(ctx, j)

	if d, ok := precheck(actor); !ok {
		j.add(action, "", d.Result, d.Reason)
		return nil, paging.Info{}, actorError(d)
	}
	needAudit := action == ActionListAllCases || f.IncludeInactive
	if needAudit && !s.engine.HasPermission(actor, authz.ViewAuditLogs, nil) {
		reason := "requires view_audit_logs"
		if action == ActionListCases {
			reason = "inactive cases require view_audit_logs"
		}
		j.add(action, "", audit.ResultForbidden, reason)
		return nil, paging.Info{}, actorError(authz.Decision{Result: audit.ResultForbidden, Reason: reason})
	}

	req = req.Normalize(paging.DefaultPerPage)
	items, total, err := s.repo.List(ctx, s.engine.ScopeFor(actor), f, req.Offset(), req.Limit())
	if err != nil {
		j.add(action, "", audit.ResultError, err.Error())
		return nil, paging.Info{}, operational(err)
	}
	j.add(action, "", audit.ResultSuccess, fmt.Sprintf("returned %d of %d", len(items), total))
	return items, paging.NewInfo(req, total), nil
}

// UpdateCase applies a partial patch under the row lock. Authorization, the
// status machine and the assignee rules all run against the locked row.
func (s *Service) UpdateCase(ctx context.Context, actor *auth.Actor, id string, in cases.UpdateInput) (_ *cases.Case, err error) {
	ctx, span := startSpan(ctx, "casework.UpdateCase", actor, attribute.String("case.id", id))
	defer func() { endSpan(span, err) }()

	if err := in.Validate(s.now().UTC()); err != nil {
		return nil, err
	}

	j := newJournal(actor, audit.ResourceCase)
	defer s.flush(ctx, j)

	if d, ok := precheck(actor); !ok {
		j.add(ActionUpdateCase, id, d.Result, d.Reason)
		return nil, actorError(d)
	}

	var loaded, applied bool
	updated, err := s.repo.Update(ctx, id, func(c *cases.Case) error {
		loaded = true
		if d, err := s.gate(actor, c, authz.ActionWrite); err != nil {
			j.add(ActionUpdateCase, id, d.Result, d.Reason)
			return err
		}
		if in.Status != nil {
			if !s.engine.CanUpdateStatus(actor, c) {
				j.add(ActionUpdateCase, id, audit.ResultForbidden, "missing status permission")
				return fmt.Errorf("%w: missing status permission", authz.ErrForbidden)
			}
			if err := cases.Transition(c.Status, *in.Status); err != nil {
				j.add(ActionUpdateCase, id, audit.ResultError, err.Error())
				return err
			}
		}
		patch := in
		if in.AssigneeID != nil {
			if requested := strings.TrimSpace(*in.AssigneeID); requested != "" {
				assignee, corrected, err := s.resolveAssignee(ctx, actor, requested)
				if err != nil {
					j.add(ActionUpdateCase, id, audit.ResultError, err.Error())
					return err
				}
				if corrected {
					j.add(ActionAssignSelf, id, audit.ResultCorrected, "requested assignee "+requested+" replaced by editor")
				}
				patch.AssigneeID = &assignee
			}
		}
		patch.Apply(c)
		if in.Status != nil {
			c.Status = *in.Status
		}
		applied = true
		return nil
	})
	if err != nil {
		switch {
		case applied:
			// the callback succeeded, so the write or commit failed
			j.reset()
			j.add(ActionUpdateCase, id, audit.ResultError, err.Error())
			return nil, operational(err)
		case loaded:
			return nil, err
		case errors.Is(err, cases.ErrNotFound):
			j.add(ActionUpdateCase, id, audit.ResultNotFound, "case not found")
			return nil, cases.ErrNotFound
		default:
			j.add(ActionUpdateCase, id, audit.ResultError, err.Error())
			return nil, operational(err)
		}
	}
	j.add(ActionUpdateCase, id, audit.ResultSuccess, "updated fields: "+strings.Join(in.Fields(), ", "))
	return updated, nil
}

// DeleteCase soft-deletes a case. A second delete reports ErrNotFound.
func (s *Service) DeleteCase(ctx context.Context, actor *auth.Actor, id string) (err error) {
	ctx, span := startSpan(ctx, "casework.DeleteCase", actor, attribute.String("case.id", id))
	defer func() { endSpan(span, err) }()

	j := newJournal(actor, audit.ResourceCase)
	defer s.flush(ctx, j)

	if d, ok := precheck(actor); !ok {
		j.add(ActionDeleteCase, id, d.Result, d.Reason)
		return actorError(d)
	}

	var loaded, applied bool
	_, err = s.repo.Update(ctx, id, func(c *cases.Case) error {
		loaded = true
		if d, err := s.gate(actor, c, authz.ActionDelete); err != nil {
			j.add(ActionDeleteCase, id, d.Result, d.Reason)
			return err
		}
		c.Active = false
		applied = true
		return nil
	})
	if err != nil {
		switch {
		case applied:
			j.reset()
			j.add(ActionDeleteCase, id, audit.ResultError, err.Error())
			return operational(err)
		case loaded:
			return err
		case errors.Is(err, cases.ErrNotFound):
			j.add(ActionDeleteCase, id, audit.ResultNotFound, "case not found")
			return cases.ErrNotFound
		default:
			j.add(ActionDeleteCase, id, audit.ResultError, err.Error())
			return operational(err)
		}
	}
	j.add(ActionDeleteCase, id, audit.ResultSuccess, "case deactivated")
	return nil
}

// gate runs the visibility and authorization checks for one loaded case.
// Inactive and out-of-scope cases both surface as ErrNotFound.
func (s *Service) gate(actor *auth.Actor, c *cases.Case, action authz.Action) (authz.Decision, error) {
	if !c.Active {
		return authz.Decision{Result: audit.ResultNotFound, Reason: "case is inactive"}, cases.ErrNotFound
	}
	if !s.engine.ScopeFor(actor).Matches(c) {
		return authz.Decision{Result: audit.ResultForbidden, Reason: detailOutOfScope}, cases.ErrNotFound
	}
	d := s.engine.Authorize(actor, action, c)
	if !d.Allowed {
		return d, actorError(d)
	}
	return d, nil
}

// resolveAssignee returns the assignee to store for a requested one.
// Without assign_cases any other user is replaced by actor and corrected is
// set. A named assignee must exist and be active.
func (s *Service) resolveAssignee(ctx context.Context, actor *auth.Actor, requested string) (assignee string, corrected bool, err error) {
	if requested == actor.ID {
		return actor.ID, false, nil
	}
	if !s.engine.HasPermission(actor, authz.AssignCases, nil) {
		return actor.ID, true, nil
	}
	u, err := s.users.Find(ctx, requested)
	if err != nil {
		if errors.Is(err, auth.ErrNotFound) {
			return "", false, cases.FieldError("assigned_to", "assigned user not found or inactive")
		}
		return "", false, operational(err)
	}
	if !u.Active {
		return "", false, cases.FieldError("assigned_to", "assigned user not found or inactive")
	}
	return u.ID, false, nil
}
