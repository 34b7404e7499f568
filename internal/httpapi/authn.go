package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/authz"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate resolves the bearer token into an actor. Rejections from the
// auth service are audited there; a missing or malformed header is audited here.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			a.audit.Record(r.Context(), audit.Entry{
				Action:       auth.ActionAuthenticate,
				ResourceType: audit.ResourceAuth,
				ResourceID:   r.URL.Path,
				Result:       audit.ResultUnauthorized,
				Detail:       err.Error(),
			})
			unauthorized(w, r, err.Error())
			return
		}

		actor, claims, err := a.auth.Authenticate(r.Context(), token)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}

		ctx := auth.ContextWithActor(r.Context(), actor)
		ctx = auth.ContextWithClaims(ctx, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission gates a route on a static permission. The guard writes
// one audit entry per request.
func (a *API) requirePermission(perm authz.Permission, action string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			actor, _ := auth.ActorFromContext(r.Context())
			if err := a.guard.Require(r.Context(), actor, perm, action, r.URL.Path); err != nil {
				writeServiceError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func currentActor(r *http.Request) *auth.Actor {
	actor, _ := auth.ActorFromContext(r.Context())
	return actor
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
