package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"casedesk.org/internal/cases"
)

var _ cases.Repository = (*Cases)(nil)

const caseColumns = `id, title, description, status, priority, due_date, created_by,
	coalesce(assigned_to, ''), is_active, created_at, updated_at`

// Cases is the PostgreSQL cases.Repository.
type Cases struct {
	db  *sql.DB
	now func() time.Time
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCase(row rowScanner) (*cases.Case, error) {
	var (
		c   cases.Case
		due sql.NullTime
	)
	if err := row.Scan(&c.ID, &c.Title, &c.Description, &c.Status, &c.Priority, &due,
		&c.OwnerID, &c.AssigneeID, &c.Active, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return nil, err
	}
	if due.Valid {
		d := due.Time
		c.DueDate = &d
	}
	return &c, nil
}

func (r *Cases) Create(ctx context.Context, c *cases.Case) error {
	_, err := r.db.ExecContext(ctx, `
		insert into cases (id, title, description, status, priority, due_date, created_by, assigned_to, is_active, created_at, updated_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, c.ID, c.Title, c.Description, string(c.Status), string(c.Priority), nullTime(c.DueDate),
		c.OwnerID, nullIfEmpty(c.AssigneeID), c.Active, c.CreatedAt, c.UpdatedAt)
	return mapCaseError(err)
}

func (r *Cases) Get(ctx context.Context, id string) (*cases.Case, error) {
	c, err := scanCase(r.db.QueryRowContext(ctx, `select `+caseColumns+` from cases where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cases.ErrNotFound
	}
	return c, err
}

func caseWhere(scope cases.Scope, f cases.ListFilter) *whereBuilder {
	w := &whereBuilder{}
	if !scope.All {
		if scope.ActorID == "" {
			w.add("false")
		} else {
			p := w.arg(scope.ActorID)
			w.add(fmt.Sprintf("(created_by = %s or assigned_to = %s)", p, p))
		}
	}
	if !f.IncludeInactive {
		w.add("is_active")
	}
	if f.Status != "" {
		w.add("status = " + w.arg(string(f.Status)))
	}
	if f.Priority != "" {
		w.add("priority = " + w.arg(string(f.Priority)))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		p := w.arg("%" + escapeLike(q) + "%")
		w.add(fmt.Sprintf("(title ilike %s or description ilike %s)", p, p))
	}
	return w
}

func (r *Cases) List(ctx context.Context, scope cases.Scope, f cases.ListFilter, offset, limit int) ([]*cases.Case, int, error) {
	if offset < 0 {
		offset = 0
	}
	w := caseWhere(scope, f)

	var total int
	if err := r.db.QueryRowContext(ctx, `select count(*) from cases`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 || offset >= total {
		return []*cases.Case{}, total, nil
	}

	query := `select ` + caseColumns + ` from cases` + w.String() + ` order by created_at desc, id desc`
	args := append([]any{}, w.args...)
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" limit $%d", len(args))
	}
	args = append(args, offset)
	query += fmt.Sprintf(" offset $%d", len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]*cases.Case, 0, limit)
	for rows.Next() {
		c, err := scanCase(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, c)
	}
	return out, total, rows.Err()
}

// Update locks the row with select ... for update so that concurrent
// transitions on the same case serialize.
func (r *Cases) Update(ctx context.Context, id string, fn cases.UpdateFunc) (*cases.Case, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	current, err := scanCase(tx.QueryRowContext(ctx, `select `+caseColumns+` from cases where id = $1 for update`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, cases.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	working := current.Clone()
	if err := fn(working); err != nil {
		return nil, err
	}
	working.ID = current.ID
	working.OwnerID = current.OwnerID
	working.CreatedAt = current.CreatedAt
	working.UpdatedAt = r.now().UTC()

	if _, err := tx.ExecContext(ctx, `
		update cases
		set title = $2, description = $3, status = $4, priority = $5, due_date = $6,
			assigned_to = $7, is_active = $8, updated_at = $9
		where id = $1
	`, working.ID, working.Title, working.Description, string(working.Status), string(working.Priority),
		nullTime(working.DueDate), nullIfEmpty(working.AssigneeID), working.Active, working.UpdatedAt); err != nil {
		return nil, mapCaseError(err)
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return working, nil
}

func mapCaseError(err error) error {
	if err == nil {
		return nil
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return cases.ErrConflict
		case pgErrForeignKeyViolation:
			return cases.FieldError("assigned_to", "unknown user")
		}
	}
	return err
}
