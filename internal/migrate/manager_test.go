package migrate

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"testing/fstest"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3/database"
)

func testMigrations() fstest.MapFS {
	return fstest.MapFS{
		"00001_users.sql": {Data: []byte("-- +goose Up\ncreate table users (id text primary key);\n\n-- +goose Down\ndrop table users;\n")},
		"00002_cases.sql": {Data: []byte("-- +goose Up\ncreate table cases (id text primary key, created_by text not null);\ncreate index cases_created_by_idx on cases (created_by);\n\n-- +goose Down\ndrop table cases;\n")},
	}
}

func openDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "casedesk.sqlite"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestManager(t *testing.T, db *sql.DB, opts ...Option) *Manager {
	t.Helper()
	opts = append([]Option{WithDialect(database.DialectSQLite3)}, opts...)
	m, err := NewManager(db, testMigrations(), opts...)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func tableExists(t *testing.T, db *sql.DB, name string) bool {
	t.Helper()
	var n int
	if err := db.QueryRow(`select count(*) from sqlite_master where type = 'table' and name = ?`, name).Scan(&n); err != nil {
		t.Fatalf("sqlite_master: %v", err)
	}
	return n == 1
}

func TestUpAppliesOnlyPending(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m := newTestManager(t, db)

	n, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("Up: %v", err)
	}
	if n != 2 {
		t.Fatalf("applied %d migrations, want 2", n)
	}
	if !tableExists(t, db, "users") || !tableExists(t, db, "cases") {
		t.Fatal("schema tables missing after Up")
	}
	if !tableExists(t, db, defaultSchemaTable) {
		t.Fatalf("version table %s missing", defaultSchemaTable)
	}

	n, err = m.Up(ctx)
	if err != nil {
		t.Fatalf("second Up: %v", err)
	}
	if n != 0 {
		t.Fatalf("second Up applied %d, want 0", n)
	}
	pending, err := m.Pending(ctx)
	if err != nil {
		t.Fatalf("Pending: %v", err)
	}
	if pending {
		t.Fatal("Pending = true after Up")
	}
}

func TestDownRollsBackLatest(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	m := newTestManager(t, db)
	if _, err := m.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}

	got, err := m.Down(ctx)
	if err != nil {
		t.Fatalf("Down: %v", err)
	}
	if got.Version != 2 || got.Name != "00002_cases.sql" {
		t.Fatalf("rolled back %+v, want version 2", got)
	}
	if tableExists(t, db, "cases") {
		t.Fatal("cases table still present after Down")
	}
	if !tableExists(t, db, "users") {
		t.Fatal("users table dropped by a single Down")
	}

	status, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if len(status) != 2 {
		t.Fatalf("status rows = %d, want 2", len(status))
	}
	if !status[0].Applied || status[1].Applied {
		t.Fatalf("status = %+v, want only the first applied", status)
	}
	if status[0].AppliedAt.IsZero() {
		t.Fatal("applied migration has no timestamp")
	}
}

func TestDownWithoutHistory(t *testing.T) {
	m := newTestManager(t, openDB(t))
	if _, err := m.Down(context.Background()); !errors.Is(err, ErrNoneApplied) {
		t.Fatalf("Down error = %v, want ErrNoneApplied", err)
	}
}

func TestSeedTrackedSeparately(t *testing.T) {
	ctx := context.Background()
	db := openDB(t)
	seeds := fstest.MapFS{
		"00001_demo_user.sql": {Data: []byte("-- +goose Up\ninsert into users (id) values ('seed-admin');\n\n-- +goose Down\ndelete from users where id = 'seed-admin';\n")},
	}
	m := newTestManager(t, db, WithSeeds(seeds))
	if _, err := m.Up(ctx); err != nil {
		t.Fatalf("Up: %v", err)
	}

	n, err := m.Seed(ctx)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 1 {
		t.Fatalf("seeded %d, want 1", n)
	}
	if n, err = m.Seed(ctx); err != nil || n != 0 {
		t.Fatalf("second Seed = %d, %v; want 0, nil", n, err)
	}

	var count int
	if err := db.QueryRow(`select count(*) from users where id = 'seed-admin'`).Scan(&count); err != nil {
		t.Fatalf("count seeded rows: %v", err)
	}
	if count != 1 {
		t.Fatalf("seeded rows = %d, want 1", count)
	}

	// seeds share version numbers with the schema without colliding
	status, err := m.Status(ctx)
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	for _, s := range status {
		if !s.Applied {
			t.Fatalf("schema migration %s reported pending after seeding", s.Name)
		}
	}
}

func TestSeedWithoutFilesIsNoop(t *testing.T) {
	m := newTestManager(t, openDB(t), WithSeeds(fstest.MapFS{"README": {Data: []byte("no seeds")}}))
	n, err := m.Seed(context.Background())
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if n != 0 {
		t.Fatalf("Seed applied %d, want 0", n)
	}
}

func TestNewManagerRejectsSharedVersionTable(t *testing.T) {
	_, err := NewManager(openDB(t), testMigrations(), WithDialect(database.DialectSQLite3), WithTables("versions", "versions"))
	if err == nil {
		t.Fatal("expected error for identical schema and seed tables")
	}
}
