package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"casedesk.org/internal/cases"
)

func listFilterFromQuery(r *http.Request) cases.ListFilter {
	q := r.URL.Query()
	return cases.ListFilter{
		Status:   cases.Status(strings.TrimSpace(q.Get("status"))),
		Priority: cases.Priority(strings.TrimSpace(q.Get("priority"))),
		Search:   q.Get("search"),
	}
}

func (a *API) listCases(w http.ResponseWriter, r *http.Request, f cases.ListFilter) {
	req, err := pageFromQuery(r)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	items, info, err := a.cases.ListCases(r.Context(), currentActor(r), f, req)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cases":      items,
		"pagination": info,
	})
}

func (a *API) handleListCases(w http.ResponseWriter, r *http.Request) {
	a.listCases(w, r, listFilterFromQuery(r))
}

func (a *API) handleCreateCase(w http.ResponseWriter, r *http.Request) {
	var in cases.CreateInput
	if !bindJSON(w, r, &in) {
		return
	}
	c, err := a.cases.CreateCase(r.Context(), currentActor(r), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	w.Header().Set("Location", "/v1/cases/"+c.ID)
	writeJSON(w, http.StatusCreated, map[string]any{"case": c})
}

func (a *API) handleGetCase(w http.ResponseWriter, r *http.Request) {
	c, err := a.cases.GetCase(r.Context(), currentActor(r), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": c})
}

func (a *API) handleUpdateCase(w http.ResponseWriter, r *http.Request) {
	var in cases.UpdateInput
	if !bindJSON(w, r, &in) {
		return
	}
	c, err := a.cases.UpdateCase(r.Context(), currentActor(r), chi.URLParam(r, "id"), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"case": c})
}

func (a *API) handleDeleteCase(w http.ResponseWriter, r *http.Request) {
	if err := a.cases.DeleteCase(r.Context(), currentActor(r), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "case deleted"})
}
