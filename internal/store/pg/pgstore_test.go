package pg

import (
	"context"
	"database/sql"
	"errors"
	"io/fs"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"

	"casedesk.org/internal/audit"
	"casedesk.org/internal/auth"
	"casedesk.org/internal/cases"
)

var caseCols = []string{"id", "title", "description", "status", "priority", "due_date", "created_by",
	"assigned_to", "is_active", "created_at", "updated_at"}

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return New(db), mock
}

func TestCasesCreateMapsUniqueViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into cases").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})

	err := s.Cases().Create(context.Background(), &cases.Case{ID: "c1", Title: "t", Status: cases.StatusOpen, Priority: cases.PriorityLow, OwnerID: "u2"})
	if !errors.Is(err, cases.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCasesListAppliesScopeBeforePaging(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`select count(*) from cases where (created_by = $1 or assigned_to = $1) and is_active and status = $2`)).
		WithArgs("u2", "open").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectQuery(`from cases where .* order by created_at desc, id desc limit \$3 offset \$4`).
		WithArgs("u2", "open", 3, 3).
		WillReturnRows(sqlmock.NewRows(caseCols).
			AddRow("c1", "oldest", "", "open", "medium", nil, "u2", "", true, now, now))

	items, total, err := s.Cases().List(context.Background(), cases.Scope{ActorID: "u2"}, cases.ListFilter{Status: cases.StatusOpen}, 3, 3)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 4 || len(items) != 1 {
		t.Fatalf("total=%d items=%d", total, len(items))
	}
	if items[0].DueDate != nil || items[0].AssigneeID != "" || items[0].Status != cases.StatusOpen {
		t.Fatalf("unexpected scan result %+v", items[0])
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCasesListAdminScopeAndSearch(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`select count(*) from cases where is_active and (title ilike $1 or description ilike $1)`)).
		WithArgs(`%50\%%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	items, total, err := s.Cases().List(context.Background(), cases.Scope{All: true}, cases.ListFilter{Search: " 50% "}, 0, 10)
	if err != nil || total != 0 || len(items) != 0 {
		t.Fatalf("items=%v total=%d err=%v", items, total, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCasesListEmptyScopeMatchesNothing(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(regexp.QuoteMeta(`select count(*) from cases where false and is_active`)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	if _, total, err := s.Cases().List(context.Background(), cases.Scope{}, cases.ListFilter{}, 0, 10); err != nil || total != 0 {
		t.Fatalf("total=%d err=%v", total, err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCasesUpdateLocksRowAndCommits(t *testing.T) {
	s, mock := newMock(t)
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s.Cases().now = func() time.Time { return created.Add(time.Hour) }

	mock.ExpectBegin()
	mock.ExpectQuery(`from cases where id = \$1 for update`).WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(caseCols).
			AddRow("c1", "title", "desc", "open", "high", nil, "u2", "u3", true, created, created))
	mock.ExpectExec("update cases").
		WithArgs("c1", "title", "desc", "in_progress", "high", nil, "u3", true, created.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	updated, err := s.Cases().Update(context.Background(), "c1", func(c *cases.Case) error {
		c.Status = cases.StatusInProgress
		c.OwnerID = "intruder"
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.OwnerID != "u2" || updated.Status != cases.StatusInProgress {
		t.Fatalf("unexpected case %+v", updated)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCasesUpdateRollsBackOnCallbackError(t *testing.T) {
	s, mock := newMock(t)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("for update").WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(caseCols).
			AddRow("c1", "title", "", "open", "low", nil, "u2", "", true, now, now))
	mock.ExpectRollback()

	_, err := s.Cases().Update(context.Background(), "c1", func(c *cases.Case) error {
		return cases.Transition(c.Status, cases.StatusClosed)
	})
	if !errors.Is(err, cases.ErrInvalidTransition) {
		t.Fatalf("expected transition error, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestCasesUpdateMissingRow(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectBegin()
	mock.ExpectQuery("for update").WithArgs("nope").WillReturnError(sql.ErrNoRows)
	mock.ExpectRollback()

	_, err := s.Cases().Update(context.Background(), "nope", func(*cases.Case) error {
		t.Fatal("callback must not run")
		return nil
	})
	if !errors.Is(err, cases.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestUsersCreateAndFind(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec("insert into users").WillReturnError(&pgconn.PgError{Code: pgErrUniqueViolation})
	mock.ExpectQuery(regexp.QuoteMeta(`where lower(username) = lower($1)`)).WithArgs("Alice").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "password_hash", "role", "is_active", "created_at", "updated_at"}).
			AddRow("u2", "alice", "alice@example.com", "hash", "user", true, time.Now(), time.Now()))
	mock.ExpectQuery(`from users where id = \$1`).WithArgs("ghost").WillReturnError(sql.ErrNoRows)

	ctx := context.Background()
	if err := s.Users().Create(ctx, &auth.User{ID: "u9", Username: "alice", Role: auth.RoleUser}); !errors.Is(err, auth.ErrAlreadyExists) {
		t.Fatalf("expected duplicate, got %v", err)
	}
	u, err := s.Users().FindByUsername(ctx, "Alice")
	if err != nil || u.ID != "u2" || u.Role != auth.RoleUser || !u.Active {
		t.Fatalf("user=%+v err=%v", u, err)
	}
	if _, err := s.Users().Find(ctx, "ghost"); !errors.Is(err, auth.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditListFilters(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(`select count(*) from audit_logs where user_id = $1 and action ilike $2 and result = $3`)).
		WithArgs("u2", "%case%", "FORBIDDEN").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))
	mock.ExpectQuery(`order by occurred_at desc, id desc\s+limit \$4 offset \$5`).
		WithArgs("u2", "%case%", "FORBIDDEN", 50, 0).
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "action", "resource_type", "resource_id", "result",
			"details", "ip_address", "user_agent", "request_id", "occurred_at"}).
			AddRow("a1", "u2", "UPDATE_CASE", "CASE", "c1", "FORBIDDEN", "out of scope", "10.0.0.1", "curl", "req-1", at))

	entries, total, err := s.Audit().List(context.Background(), audit.Filter{ActorID: "u2", Action: "case", Result: audit.ResultForbidden}, 0, 50)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 1 || len(entries) != 1 || entries[0].Result != audit.ResultForbidden || entries[0].RequestID != "req-1" {
		t.Fatalf("entries=%+v total=%d", entries, total)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestAuditAppendNullsEmptyColumns(t *testing.T) {
	s, mock := newMock(t)
	at := time.Now().UTC()
	mock.ExpectExec("insert into audit_logs").
		WithArgs("a1", nil, "LOGIN", "AUTH", nil, "UNAUTHORIZED", "bad credentials", nil, nil, nil, at).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.Audit().Append(context.Background(), audit.Entry{
		ID: "a1", Action: "LOGIN", ResourceType: audit.ResourceAuth, Result: audit.ResultUnauthorized,
		Detail: "bad credentials", OccurredAt: at,
	})
	if err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMigrationsEmbedded(t *testing.T) {
	data, err := fs.ReadFile(Migrations(), "00001_init.sql")
	if err != nil {
		t.Fatalf("missing initial migration: %v", err)
	}
	for _, marker := range []string{"-- +goose Up", "-- +goose Down"} {
		if !strings.Contains(string(data), marker) {
			t.Fatalf("initial migration lacks %q", marker)
		}
	}
}
