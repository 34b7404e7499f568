package pg

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"casedesk.org/internal/audit"
)

var _ audit.Store = (*AuditLog)(nil)

// AuditLog is the PostgreSQL audit.Store. Rows are append-only.
type AuditLog struct {
	db *sql.DB
}

func (a *AuditLog) Append(ctx context.Context, e audit.Entry) error {
	_, err := a.db.ExecContext(ctx, `
		insert into audit_logs (id, user_id, action, resource_type, resource_id, result, details, ip_address, user_agent, request_id, occurred_at)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, nullIfEmpty(e.ActorID), e.Action, e.ResourceType, nullIfEmpty(e.ResourceID), string(e.Result),
		nullIfEmpty(e.Detail), nullIfEmpty(e.IPAddress), nullIfEmpty(e.UserAgent), nullIfEmpty(e.RequestID), e.OccurredAt)
	return err
}

func (a *AuditLog) List(ctx context.Context, f audit.Filter, offset, limit int) ([]audit.Entry, int, error) {
	if offset < 0 {
		offset = 0
	}
	w := &whereBuilder{}
	if f.ActorID != "" {
		w.add("user_id = " + w.arg(f.ActorID))
	}
	if q := strings.TrimSpace(f.Action); q != "" {
		w.add("action ilike " + w.arg("%"+escapeLike(q)+"%"))
	}
	if f.Result != "" {
		w.add("result = " + w.arg(string(f.Result)))
	}

	var total int
	if err := a.db.QueryRowContext(ctx, `select count(*) from audit_logs`+w.String(), w.args...).Scan(&total); err != nil {
		return nil, 0, err
	}
	if total == 0 || offset >= total {
		return []audit.Entry{}, total, nil
	}

	args := append([]any{}, w.args...)
	args = append(args, limit, offset)
	rows, err := a.db.QueryContext(ctx, fmt.Sprintf(`
		select id, coalesce(user_id, ''), action, resource_type, coalesce(resource_id, ''), result,
			coalesce(details, ''), coalesce(ip_address, ''), coalesce(user_agent, ''), coalesce(request_id, ''), occurred_at
		from audit_logs%s
		order by occurred_at desc, id desc
		limit $%d offset $%d
	`, w.String(), len(args)-1, len(args)), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := make([]audit.Entry, 0, limit)
	for rows.Next() {
		var e audit.Entry
		if err := rows.Scan(&e.ID, &e.ActorID, &e.Action, &e.ResourceType, &e.ResourceID, &e.Result,
			&e.Detail, &e.IPAddress, &e.UserAgent, &e.RequestID, &e.OccurredAt); err != nil {
			return nil, 0, err
		}
		out = append(out, e)
	}
	return out, total, rows.Err()
}
