package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/authz"
	"casedesk.org/internal/cases"
	"casedesk.org/internal/casework"
	"casedesk.org/internal/obs"
	"casedesk.org/internal/paging"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	writeErrorWith(w, r, code, msg, nil)
}

func writeErrorWith(w http.ResponseWriter, r *http.Request, code int, msg string, extra map[string]any) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	for k, v := range extra {
		payload[k] = v
	}
	writeJSON(w, code, payload)
}

func unauthorized(w http.ResponseWriter, r *http.Request, msg string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="casedesk"`)
	writeError(w, r, http.StatusUnauthorized, msg)
}

// errBodyTooLarge is returned by decodeJSON when MaxBodyBytes trips.
var errBodyTooLarge = errors.New("request body too large")

func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil {
		return errors.New("request body is required")
	}
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.As(err, &tooLarge):
			return errBodyTooLarge
		case errors.Is(err, io.EOF):
			return errors.New("request body is required")
		}
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return errBodyTooLarge
		}
		return fmt.Errorf("invalid JSON body: %v", err)
	}
	return nil
}

// bindJSON decodes the body and writes the 400/413 response itself.
func bindJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := decodeJSON(r, dst); err != nil {
		if errors.Is(err, errBodyTooLarge) {
			writeError(w, r, http.StatusRequestEntityTooLarge, err.Error())
			return false
		}
		writeError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

// pageFromQuery reads page and per_page. page outside 1..MaxPage and
// per_page outside 1..MaxPerPage are rejected.
func pageFromQuery(r *http.Request) (paging.Request, error) {
	q := r.URL.Query()
	var req paging.Request
	if v := strings.TrimSpace(q.Get("page")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > paging.MaxPage {
			return req, cases.FieldError("page", fmt.Sprintf("must be between 1 and %d", paging.MaxPage))
		}
		req.Page = n
	}
	if v := strings.TrimSpace(q.Get("per_page")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > paging.MaxPerPage {
			return req, cases.FieldError("per_page", fmt.Sprintf("must be between 1 and %d", paging.MaxPerPage))
		}
		req.PerPage = n
	}
	return req, nil
}

func parseBool(v string) (bool, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return false, nil
	}
	return strconv.ParseBool(v)
}

// writeServiceError maps service errors onto HTTP responses.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		verr *cases.ValidationError
		terr *cases.TransitionError
	)
	switch {
	case errors.As(err, &verr):
		writeErrorWith(w, r, http.StatusBadRequest, "validation failed", map[string]any{"fields": verr.Fields})
	case errors.As(err, &terr):
		next := make([]string, len(terr.Allowed))
		for i, s := range terr.Allowed {
			next[i] = string(s)
		}
		writeErrorWith(w, r, http.StatusBadRequest, terr.Error(), map[string]any{
			"from":              terr.From,
			"to":                terr.To,
			"valid_transitions": next,
		})
	case errors.Is(err, auth.ErrInvalidInput):
		writeError(w, r, http.StatusBadRequest, strings.TrimPrefix(err.Error(), auth.ErrInvalidInput.Error()+": "))
	case errors.Is(err, auth.ErrAlreadyExists), errors.Is(err, cases.ErrConflict):
		writeError(w, r, http.StatusConflict, "already exists")
	case errors.Is(err, auth.ErrInvalidCredentials):
		unauthorized(w, r, "invalid credentials")
	case errors.Is(err, auth.ErrRevoked):
		unauthorized(w, r, "token has been revoked")
	case errors.Is(err, auth.ErrInactive):
		unauthorized(w, r, "account is inactive")
	case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrUnauthorized):
		unauthorized(w, r, "invalid or missing token")
	case errors.Is(err, authz.ErrForbidden):
		writeError(w, r, http.StatusForbidden, "forbidden")
	case errors.Is(err, cases.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "case not found")
	case errors.Is(err, auth.ErrNotFound):
		writeError(w, r, http.StatusNotFound, "user not found")
	case errors.Is(err, auth.ErrUnavailable):
		writeError(w, r, http.StatusServiceUnavailable, "authentication temporarily unavailable")
	case errors.Is(err, casework.ErrOperational):
		writeError(w, r, http.StatusInternalServerError, "operation failed")
	default:
		obs.Logger().WithError(err).WithField("request_id", audit.RequestIDFromContext(r.Context())).Error("unhandled_error")
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}
