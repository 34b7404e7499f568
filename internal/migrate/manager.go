// Package migrate applies the casedesk schema and optional seed data through goose.
//
// Schema migrations and seeds are tracked in separate version tables so that
// seeds can be added or removed per environment without touching the schema
// history.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/pressly/goose/v3/database"

	"casedesk.org/internal/obs"
)

const (
	defaultSchemaTable = "casedesk_schema_version"
	defaultSeedsTable  = "casedesk_seed_version"
)

// ErrNoneApplied is returned by Down when there is no migration to roll back.
var ErrNoneApplied = errors.New("migrate: no migrations applied")

// Migration is one row of Status output.
type Migration struct {
	Version   int64
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Manager runs schema migrations and seeds against one database.
type Manager struct {
	schema *goose.Provider
	seeds  *goose.Provider
}

type options struct {
	dialect     database.Dialect
	schemaTable string
	seedsTable  string
	seeds       fs.FS
}

// Option configures NewManager.
type Option func(*options)

// WithDialect selects the SQL dialect. Postgres is the default.
func WithDialect(d database.Dialect) Option {
	return func(o *options) { o.dialect = d }
}

// WithSeeds sets the file system holding goose-annotated seed files.
func WithSeeds(fsys fs.FS) Option {
	return func(o *options) { o.seeds = fsys }
}

// WithTables overrides the schema and seed version table names. Empty names keep the defaults.
func WithTables(schema, seeds string) Option {
	return func(o *options) {
		if schema != "" {
			o.schemaTable = schema
		}
		if seeds != "" {
			o.seedsTable = seeds
		}
	}
}

// NewManager builds a Manager over the migrations file system. A seeds file
// system without any *.sql files is treated as no seeds.
func NewManager(db *sql.DB, migrations fs.FS, opts ...Option) (*Manager, error) {
	o := options{
		dialect:     database.DialectPostgres,
		schemaTable: defaultSchemaTable,
		seedsTable:  defaultSeedsTable,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.schemaTable == o.seedsTable {
		return nil, fmt.Errorf("migrate: schema and seed tables must differ (%q)", o.schemaTable)
	}

	schema, err := newProvider(db, migrations, o.dialect, o.schemaTable)
	if err != nil {
		return nil, fmt.Errorf("migrate: schema: %w", err)
	}
	m := &Manager{schema: schema}
	if o.seeds != nil {
		seeds, err := newProvider(db, o.seeds, o.dialect, o.seedsTable, goose.WithAllowOutofOrder(true))
		switch {
		case errors.Is(err, goose.ErrNoMigrations):
		case err != nil:
			return nil, fmt.Errorf("migrate: seeds: %w", err)
		default:
			m.seeds = seeds
		}
	}
	return m, nil
}

func newProvider(db *sql.DB, fsys fs.FS, dialect database.Dialect, table string, extra ...goose.ProviderOption) (*goose.Provider, error) {
	store, err := database.NewStore(dialect, table)
	if err != nil {
		return nil, err
	}
	opts := append([]goose.ProviderOption{goose.WithStore(store)}, extra...)
	return goose.NewProvider("", db, fsys, opts...)
}

// Up applies every pending schema migration and returns how many ran.
func (m *Manager) Up(ctx context.Context) (int, error) {
	results, err := m.schema.Up(ctx)
	logResults("migration applied", results)
	if err != nil {
		return len(results), fmt.Errorf("migrate up: %w", err)
	}
	return len(results), nil
}

// Down rolls back the most recently applied schema migration.
func (m *Manager) Down(ctx context.Context) (*Migration, error) {
	current, err := m.schema.GetDBVersion(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate down: %w", err)
	}
	if current == 0 {
		return nil, ErrNoneApplied
	}
	res, err := m.schema.Down(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate down: %w", err)
	}
	logResults("migration rolled back", []*goose.MigrationResult{res})
	return &Migration{Version: res.Source.Version, Name: path.Base(res.Source.Path)}, nil
}

// Pending reports whether any schema migration has not been applied yet.
func (m *Manager) Pending(ctx context.Context) (bool, error) {
	return m.schema.HasPending(ctx)
}

// Status lists every known schema migration in version order.
func (m *Manager) Status(ctx context.Context) ([]Migration, error) {
	statuses, err := m.schema.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("migrate status: %w", err)
	}
	out := make([]Migration, 0, len(statuses))
	for _, st := range statuses {
		out = append(out, Migration{
			Version:   st.Source.Version,
			Name:      path.Base(st.Source.Path),
			Applied:   st.State == goose.StateApplied,
			AppliedAt: st.AppliedAt,
		})
	}
	return out, nil
}

// Seed applies pending seed files and returns how many ran. Without seeds it is a no-op.
func (m *Manager) Seed(ctx context.Context) (int, error) {
	if m.seeds == nil {
		return 0, nil
	}
	results, err := m.seeds.Up(ctx)
	logResults("seed applied", results)
	if err != nil {
		return len(results), fmt.Errorf("migrate seed: %w", err)
	}
	return len(results), nil
}

func logResults(msg string, results []*goose.MigrationResult) {
	for _, r := range results {
		if r == nil || r.Source == nil {
			continue
		}
		obs.Logger().
			WithField("version", r.Source.Version).
			WithField("file", path.Base(r.Source.Path)).
			WithField("duration_ms", r.Duration.Milliseconds()).
			Info(msg)
	}
}
