package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/cases"
)

// userSummary is the public view used by the assignment picker.
type userSummary struct {
	ID       string    `json:"id"`
	Username string    `json:"username"`
	Role     auth.Role `json:"role"`
}

func (a *API) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.Users(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	out := make([]userSummary, 0, len(users))
	for _, u := range users {
		if !u.Active {
			continue
		}
		out = append(out, userSummary{ID: u.ID, Username: u.Username, Role: u.Role})
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": out})
}

func (a *API) handleMyPermissions(w http.ResponseWriter, r *http.Request) {
	actor := currentActor(r)
	if actor == nil {
		unauthorized(w, r, "invalid or missing token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     actor.ID,
		"role":        actor.Role,
		"permissions": a.cases.UserPermissions(actor),
	})
}

func (a *API) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.auth.Users(r.Context())
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if users == nil {
		users = []*auth.User{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users})
}

func (a *API) handleUserPermissions(w http.ResponseWriter, r *http.Request) {
	user, perms, err := a.cases.PermissionsOf(r.Context(), currentActor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"user_id":     user.ID,
		"username":    user.Username,
		"role":        user.Role,
		"permissions": perms,
	})
}

func (a *API) handleAuditLogs(w http.ResponseWriter, r *http.Request) {
	req, err := pageFromQuery(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	q := r.URL.Query()
	f := audit.Filter{
		ActorID: strings.TrimSpace(q.Get("user_id")),
		Action:  strings.TrimSpace(q.Get("action")),
		Result:  audit.Result(strings.ToUpper(strings.TrimSpace(q.Get("result")))),
	}
	entries, info, err := a.cases.ListAuditLogs(r.Context(), currentActor(r), f, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"audit_logs": entries,
		"pagination": info,
	})
}

func (a *API) handleAdminListCases(w http.ResponseWriter, r *http.Request) {
	f := listFilterFromQuery(r)
	inactive, err := parseBool(r.URL.Query().Get("include_inactive"))
	if err != nil {
		writeServiceError(w, r, cases.FieldError("include_inactive", "must be a boolean"))
		return
	}
	f.IncludeInactive = inactive
	req, err := pageFromQuery(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	items, info, err := a.cases.ListAllCases(r.Context(), currentActor(r), f, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases":      items,
		"pagination": info,
	})
}
