package httpapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/cases"
	"casedesk.org/internal/casework"
	"casedesk.org/internal/paging"
	"casedesk.org/internal/stream"
)

type testEnv struct {
	srv     *httptest.Server
	handler http.Handler
	users   *auth.InMemoryUsers
	audits  *audit.InMemory
	auth    *auth.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	tokens, err := auth.NewTokenService("api-test-secret-0123456789", "casedesk-test", nil)
	require.NoError(t, err)

	users := auth.NewInMemoryUsers()
	audits := audit.NewInMemory()
	hub := stream.NewHub[audit.Entry]()
	feed := stream.NewAuditFeed(audits, hub)
	rec := audit.NewRecorder(feed)

	authSvc, err := auth.NewService(users, tokens, auth.WithAudit(rec))
	require.NoError(t, err)
	caseSvc, err := casework.NewService(cases.NewInMemory(), users, feed, casework.WithRecorder(rec))
	require.NoError(t, err)

	api, err := New(Config{
		Auth:       authSvc,
		Cases:      caseSvc,
		Audit:      rec,
		Feed:       hub,
		Version:    "test",
		RateBurst:  1000,
		RatePerSec: 1000,
	})
	require.NoError(t, err)

	h := api.Handler()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, handler: h, users: users, audits: audits, auth: authSvc}
}

type apiResponse struct {
	code   int
	header http.Header
	body   map[string]any
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) apiResponse {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			rdr = strings.NewReader(b)
		default:
			buf, err := json.Marshal(b)
			require.NoError(t, err)
			rdr = bytes.NewReader(buf)
		}
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	out := apiResponse{code: resp.StatusCode, header: resp.Header}
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &out.body), "body: %s", raw)
	}
	return out
}

// seed creates an account directly through the auth service and logs it in.
func (e *testEnv) seed(t *testing.T, username string, role auth.Role) (id, token string) {
	t.Helper()
	u, err := e.auth.CreateUser(context.Background(), auth.RegisterInput{
		Username: username,
		Email:    username + "@example.com",
		Password: "password-" + username,
	}, role)
	require.NoError(t, err)

	resp := e.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{
		"username": username,
		"password": "password-" + username,
	})
	require.Equal(t, http.StatusOK, resp.code, resp.body)
	return u.ID, resp.body["access_token"].(string)
}

func (e *testEnv) resultsFor(action string) []audit.Result {
	var out []audit.Result
	for _, entry := range e.audits.Entries() {
		if entry.Action == action {
			out = append(out, entry.Result)
		}
	}
	return out
}

func caseID(t *testing.T, resp apiResponse) string {
	t.Helper()
	c, ok := resp.body["case"].(map[string]any)
	require.True(t, ok, "missing case in %v", resp.body)
	return c["id"].(string)
}

func TestHealthEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, "ok", resp.body["status"])
	assert.NotEmpty(t, resp.header.Get(requestIDHeader))

	resp = env.do(t, http.MethodGet, "/readyz", "", nil)
	assert.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, "ready", resp.body["status"])
}

func TestRegisterLoginMe(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "secret1",
	})
	require.Equal(t, http.StatusCreated, resp.code, resp.body)
	user := resp.body["user"].(map[string]any)
	assert.Equal(t, "user", user["role"])
	assert.NotContains(t, user, "password_hash")

	resp = env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "alice", "email": "other@example.com", "password": "secret1",
	})
	assert.Equal(t, http.StatusConflict, resp.code)

	resp = env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "bob", "email": "bob@example.com", "password": "short",
	})
	assert.Equal(t, http.StatusBadRequest, resp.code)

	resp = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "alice", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.code)

	resp = env.do(t, http.MethodPost, "/v1/auth/login", "", map[string]string{"username": "alice", "password": "secret1"})
	require.Equal(t, http.StatusOK, resp.code)
	token := resp.body["access_token"].(string)
	refresh := resp.body["refresh_token"].(string)
	assert.Equal(t, "Bearer", resp.body["token_type"])

	resp = env.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Contains(t, resp.body["permissions"], "create_case")

	resp = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": refresh})
	require.Equal(t, http.StatusOK, resp.code)
	assert.NotEmpty(t, resp.body["access_token"])

	resp = env.do(t, http.MethodPost, "/v1/auth/refresh", "", map[string]string{"refresh_token": token})
	assert.Equal(t, http.StatusUnauthorized, resp.code, "access token is not a refresh token")

	assert.Equal(t, []audit.Result{audit.ResultUnauthorized, audit.ResultSuccess}, env.resultsFor(auth.ActionLogin))
}

func TestRegisterRejectsRoleField(t *testing.T) {
	env := newTestEnv(t)
	resp := env.do(t, http.MethodPost, "/v1/auth/register", "", map[string]string{
		"username": "mallory", "email": "m@example.com", "password": "secret1", "role": "admin",
	})
	assert.Equal(t, http.StatusBadRequest, resp.code, "unknown fields are rejected")
}

func TestMissingAndMalformedTokensAreAudited(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/v1/cases", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.code)
	assert.NotEmpty(t, resp.header.Get("WWW-Authenticate"))
	assert.NotEmpty(t, resp.body["request_id"])

	resp = env.do(t, http.MethodGet, "/v1/cases", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.code)

	assert.Equal(t, []audit.Result{audit.ResultUnauthorized, audit.ResultUnauthorized}, env.resultsFor(auth.ActionAuthenticate))
}

func TestLogoutRevokesToken(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seed(t, "carol", auth.RoleUser)

	resp := env.do(t, http.MethodPost, "/v1/auth/logout", token, nil)
	require.Equal(t, http.StatusOK, resp.code, resp.body)

	resp = env.do(t, http.MethodGet, "/v1/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.code)
	assert.Equal(t, "token has been revoked", resp.body["error"])
	assert.Contains(t, env.resultsFor(auth.ActionAuthenticate), audit.ResultRevoked)
}

func TestInactiveAccountRejected(t *testing.T) {
	env := newTestEnv(t)
	id, token := env.seed(t, "dave", auth.RoleUser)
	require.NoError(t, env.users.SetActive(id, false))

	resp := env.do(t, http.MethodGet, "/v1/cases", token, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.code)
	assert.Equal(t, "account is inactive", resp.body["error"])
	assert.Contains(t, env.resultsFor(auth.ActionAuthenticate), audit.ResultInactive)
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seed(t, "erin", auth.RoleUser)
	due := time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)

	resp := env.do(t, http.MethodPost, "/v1/cases", token, map[string]any{
		"title": "Printer on fire", "description": "third floor", "priority": "high", "due_date": due,
	})
	require.Equal(t, http.StatusCreated, resp.code, resp.body)
	id := caseID(t, resp)
	assert.Equal(t, "/v1/cases/"+id, resp.header.Get("Location"))

	resp = env.do(t, http.MethodPatch, "/v1/cases/"+id, token, map[string]any{"status": "closed"})
	require.Equal(t, http.StatusBadRequest, resp.code)
	assert.Equal(t, []any{"in_progress"}, resp.body["valid_transitions"])
	assert.Equal(t, "open", resp.body["from"])

	resp = env.do(t, http.MethodPatch, "/v1/cases/"+id, token, map[string]any{"status": "in_progress"})
	require.Equal(t, http.StatusOK, resp.code, resp.body)
	assert.Equal(t, "in_progress", resp.body["case"].(map[string]any)["status"])

	resp = env.do(t, http.MethodPatch, "/v1/cases/"+id, token, map[string]any{"created_by": "someone"})
	assert.Equal(t, http.StatusBadRequest, resp.code, "owner is not patchable")

	resp = env.do(t, http.MethodPatch, "/v1/cases/"+id, token, map[string]any{"title": ""})
	require.Equal(t, http.StatusBadRequest, resp.code)
	assert.Contains(t, resp.body["fields"], "title")

	resp = env.do(t, http.MethodGet, "/v1/cases?status=in_progress&per_page=5", token, nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Len(t, resp.body["cases"], 1)
	assert.EqualValues(t, 5, resp.body["pagination"].(map[string]any)["per_page"])

	resp = env.do(t, http.MethodDelete, "/v1/cases/"+id, token, nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, "case deleted", resp.body["message"])

	resp = env.do(t, http.MethodGet, "/v1/cases/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, resp.code)
}

func TestListRejectsBadPaging(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seed(t, "frank", auth.RoleUser)

	for _, q := range []string{"per_page=0", "per_page=101", "page=0", "page=x", "status=pending"} {
		resp := env.do(t, http.MethodGet, "/v1/cases?"+q, token, nil)
		assert.Equal(t, http.StatusBadRequest, resp.code, q)
	}
}

func TestListPageBoundaries(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seed(t, "fiona", auth.RoleUser)
	for i := 0; i < 3; i++ {
		resp := env.do(t, http.MethodPost, "/v1/cases", token, map[string]any{"title": fmt.Sprintf("case %d", i)})
		require.Equal(t, http.StatusCreated, resp.code, resp.body)
	}

	for _, q := range []string{"page=1844674407370955162", "page=" + strconv.Itoa(paging.MaxPage+1), "page=99999999999999999999"} {
		resp := env.do(t, http.MethodGet, "/v1/cases?"+q, token, nil)
		require.Equal(t, http.StatusBadRequest, resp.code, q)
		assert.Contains(t, resp.body["fields"], "page", q)
	}

	resp := env.do(t, http.MethodGet, "/v1/cases?per_page=2&page=5", token, nil)
	require.Equal(t, http.StatusOK, resp.code, resp.body)
	assert.Empty(t, resp.body["cases"])
	page := resp.body["pagination"].(map[string]any)
	assert.Equal(t, float64(3), page["total"])
	assert.Equal(t, float64(2), page["pages"])
	assert.Equal(t, false, page["has_next"])
	assert.Equal(t, true, page["has_prev"])

	resp = env.do(t, http.MethodGet, "/v1/cases?per_page=2&page="+strconv.Itoa(paging.MaxPage), token, nil)
	require.Equal(t, http.StatusOK, resp.code, resp.body)
	assert.Empty(t, resp.body["cases"])
}

func TestOutOfScopeCaseLooksMissing(t *testing.T) {
	env := newTestEnv(t)
	_, owner := env.seed(t, "gina", auth.RoleUser)
	_, other := env.seed(t, "hank", auth.RoleUser)
	_, manager := env.seed(t, "ivan", auth.RoleManager)

	resp := env.do(t, http.MethodPost, "/v1/cases", owner, map[string]any{"title": "Private"})
	require.Equal(t, http.StatusCreated, resp.code)
	id := caseID(t, resp)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/v1/cases/"+id, other, nil).code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/v1/cases/"+id, other, nil).code)
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/v1/cases/"+id, manager, nil).code)

	resp = env.do(t, http.MethodDelete, "/v1/cases/"+id, manager, nil)
	assert.Equal(t, http.StatusForbidden, resp.code, "managers cannot delete")
}

func TestAdminEndpointsRequirePermission(t *testing.T) {
	env := newTestEnv(t)
	userID, user := env.seed(t, "judy", auth.RoleUser)
	_, admin := env.seed(t, "root", auth.RoleAdmin)

	for _, path := range []string{"/v1/admin/users", "/v1/admin/audit-logs", "/v1/admin/cases", "/v1/admin/users/" + userID + "/permissions"} {
		resp := env.do(t, http.MethodGet, path, user, nil)
		assert.Equal(t, http.StatusForbidden, resp.code, path)
	}
	assert.Equal(t, []audit.Result{audit.ResultForbidden}, env.resultsFor(actionListUsers))
	assert.Equal(t, []audit.Result{audit.ResultForbidden}, env.resultsFor(casework.ActionViewAuditLogs))
	assert.Equal(t, []audit.Result{audit.ResultForbidden}, env.resultsFor(casework.ActionListAllCases))
	assert.Empty(t, env.resultsFor(casework.ActionListCases), "admin listing is audited under its own action")

	resp := env.do(t, http.MethodGet, "/v1/admin/users", admin, nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Len(t, resp.body["users"], 2)

	resp = env.do(t, http.MethodGet, "/v1/admin/users/"+userID+"/permissions", admin, nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Equal(t, "user", resp.body["role"])

	resp = env.do(t, http.MethodGet, "/v1/admin/audit-logs?result=forbidden&per_page=100", admin, nil)
	require.Equal(t, http.StatusOK, resp.code)
	logs := resp.body["audit_logs"].([]any)
	assert.NotEmpty(t, logs)
	for _, l := range logs {
		assert.Equal(t, "FORBIDDEN", l.(map[string]any)["result"])
	}

	resp = env.do(t, http.MethodGet, "/v1/admin/audit-logs?result=bogus", admin, nil)
	assert.Equal(t, http.StatusBadRequest, resp.code)
}

func TestAdminCasesIncludeInactive(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.seed(t, "kate", auth.RoleUser)
	_, admin := env.seed(t, "boss", auth.RoleAdmin)

	resp := env.do(t, http.MethodPost, "/v1/cases", user, map[string]any{"title": "Soon gone"})
	require.Equal(t, http.StatusCreated, resp.code)
	id := caseID(t, resp)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodDelete, "/v1/cases/"+id, user, nil).code)

	resp = env.do(t, http.MethodGet, "/v1/cases", admin, nil)
	assert.Len(t, resp.body["cases"], 0)

	resp = env.do(t, http.MethodGet, "/v1/admin/cases?include_inactive=true", admin, nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.Len(t, resp.body["cases"], 1)
	assert.Equal(t, []audit.Result{audit.ResultSuccess}, env.resultsFor(casework.ActionListAllCases),
		"one decision entry per admin listing")

	resp = env.do(t, http.MethodGet, "/v1/admin/cases?include_inactive=maybe", admin, nil)
	assert.Equal(t, http.StatusBadRequest, resp.code)
}

func TestUsersPickerAndMyPermissions(t *testing.T) {
	env := newTestEnv(t)
	_, viewer := env.seed(t, "liam", auth.RoleViewer)
	env.seed(t, "mona", auth.RoleUser)

	resp := env.do(t, http.MethodGet, "/v1/users", viewer, nil)
	require.Equal(t, http.StatusOK, resp.code)
	users := resp.body["users"].([]any)
	require.Len(t, users, 2)
	assert.NotContains(t, users[0].(map[string]any), "email")

	resp = env.do(t, http.MethodGet, "/v1/me/permissions", viewer, nil)
	require.Equal(t, http.StatusOK, resp.code)
	assert.ElementsMatch(t, []any{"view_assigned_cases", "view_own_cases"}, resp.body["permissions"])

	resp = env.do(t, http.MethodPost, "/v1/cases", viewer, map[string]any{"title": "nope"})
	assert.Equal(t, http.StatusForbidden, resp.code)
}

func TestBodyLimitAndUnknownRoute(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seed(t, "nora", auth.RoleUser)

	huge := `{"title":"` + strings.Repeat("x", 2<<20) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/v1/cases", strings.NewReader(huge))
	req.Header.Set("Authorization", "Bearer "+token)
	rr := httptest.NewRecorder()
	env.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	resp := env.do(t, http.MethodGet, "/v1/nowhere", token, nil)
	assert.Equal(t, http.StatusNotFound, resp.code)
	assert.Equal(t, "not found", resp.body["error"])
}

func TestAuditStreamDeliversLiveEntries(t *testing.T) {
	env := newTestEnv(t)
	_, user := env.seed(t, "olga", auth.RoleUser)
	_, admin := env.seed(t, "ops", auth.RoleAdmin)

	resp := env.do(t, http.MethodGet, "/v1/admin/audit-logs/stream", user, nil)
	require.Equal(t, http.StatusForbidden, resp.code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, env.srv.URL+"/v1/admin/audit-logs/stream?result=success", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+admin)
	sse, err := env.srv.Client().Do(req)
	require.NoError(t, err)
	defer sse.Body.Close()
	require.Equal(t, http.StatusOK, sse.StatusCode)
	assert.Equal(t, "text/event-stream", sse.Header.Get("Content-Type"))

	lines := bufio.NewReader(sse.Body)
	first, err := lines.ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, ": stream started\n", first)

	created := env.do(t, http.MethodPost, "/v1/cases", user, map[string]any{"title": "Watched"})
	require.Equal(t, http.StatusCreated, created.code)

	for {
		line, err := lines.ReadString('\n')
		require.NoError(t, err)
		payload, ok := strings.CutPrefix(strings.TrimSpace(line), "data: ")
		if !ok {
			continue
		}
		var e audit.Entry
		require.NoError(t, json.Unmarshal([]byte(payload), &e))
		assert.Equal(t, audit.ResultSuccess, e.Result)
		if e.Action == casework.ActionCreateCase {
			assert.Equal(t, caseID(t, created), e.ResourceID)
			return
		}
	}
}
