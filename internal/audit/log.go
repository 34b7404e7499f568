package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"casedesk.org/internal/ids"
	"casedesk.org/internal/obs"
)

const defaultTimeout = 2 * time.Second

// Recorder is the best-effort audit sink. Record never fails the caller:
// persistence errors are logged locally and counted.
type Recorder struct {
	store   Store
	timeout time.Duration
	now     func() time.Time
}

// Option configures Recorder.
type Option func(*Recorder)

// WithTimeout bounds each store write.
func WithTimeout(d time.Duration) Option {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(r *Recorder) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewRecorder builds a Recorder over store. A nil store writes entries to the log only.
func NewRecorder(store Store, opts ...Option) *Recorder {
	r := &Recorder{store: store, timeout: defaultTimeout, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record appends e, enriched with request metadata from ctx.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	if ctx == nil {
		ctx = context.Background()
	}
	now := time.Now
	if r != nil {
		now = r.now
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = now().UTC()
	}
	if e.ID == "" {
		e.ID = ids.NewAt(e.OccurredAt)
	}
	if e.RequestID == "" {
		e.RequestID = RequestIDFromContext(ctx)
	}
	client := ClientFromContext(ctx)
	if e.IPAddress == "" {
		e.IPAddress = client.IP
	}
	if e.UserAgent == "" {
		e.UserAgent = client.UserAgent
	}

	if r == nil || r.store == nil {
		logEntry(e).Info("audit")
		return
	}
	if err := r.append(ctx, e); err != nil {
		obs.AuditWriteFailed()
		logEntry(e).WithError(err).Error("audit_write_failed")
	}
}

func (r *Recorder) append(ctx context.Context, e Entry) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("audit store panic: %v", p)
		}
	}()
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	return r.store.Append(ctx, e)
}

func logEntry(e Entry) *logrus.Entry {
	return obs.Logger().WithFields(logrus.Fields{
		"type":          "audit",
		"audit_id":      e.ID,
		"user_id":       e.ActorID,
		"action":        e.Action,
		"resource_type": e.ResourceType,
		"resource_id":   e.ResourceID,
		"result":        string(e.Result),
		"details":       e.Detail,
		"request_id":    e.RequestID,
	})
}
