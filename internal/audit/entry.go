package audit

import (
	"context"
	"errors"
	"time"
)

// Result classifies the outcome of an audited decision.
type Result string

const (
	ResultSuccess      Result = "SUCCESS"
	ResultForbidden    Result = "FORBIDDEN"
	ResultError        Result = "ERROR"
	ResultNotFound     Result = "NOT_FOUND"
	ResultRevoked      Result = "REVOKED"
	ResultInactive     Result = "INACTIVE"
	ResultUnauthorized Result = "UNAUTHORIZED"
	ResultCorrected    Result = "CORRECTED"
)

// Valid reports whether r is one of the known result codes.
func (r Result) Valid() bool {
	switch r {
	case ResultSuccess, ResultForbidden, ResultError, ResultNotFound,
		ResultRevoked, ResultInactive, ResultUnauthorized, ResultCorrected:
		return true
	}
	return false
}

// Resource types used across the service.
const (
	ResourceCase     = "CASE"
	ResourceUser     = "USER"
	ResourceAuth     = "AUTH"
	ResourceEndpoint = "ENDPOINT"
	ResourceAudit    = "AUDIT_LOG"
)

// Entry is one immutable audit record. ActorID is empty when the decision
// happened before the caller was identified.
type Entry struct {
	ID           string    `json:"id"`
	ActorID      string    `json:"user_id,omitempty"`
	Action       string    `json:"action"`
	ResourceType string    `json:"resource_type"`
	ResourceID   string    `json:"resource_id,omitempty"`
	Result       Result    `json:"result"`
	Detail       string    `json:"details,omitempty"`
	IPAddress    string    `json:"ip_address,omitempty"`
	UserAgent    string    `json:"user_agent,omitempty"`
	RequestID    string    `json:"request_id,omitempty"`
	OccurredAt   time.Time `json:"timestamp"`
}

// Filter narrows audit log listings. Action matches as a case-insensitive substring.
type Filter struct {
	ActorID string
	Action  string
	Result  Result
}

// ErrStoreUnavailable is returned by stores that cannot accept writes.
var ErrStoreUnavailable = errors.New("audit: store unavailable")

// Store persists audit entries. Implementations never update or delete rows.
type Store interface {
	Append(ctx context.Context, e Entry) error
	List(ctx context.Context, f Filter, offset, limit int) ([]Entry, int, error)
}
