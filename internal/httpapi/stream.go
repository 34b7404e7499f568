package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"casedesk.org/internal/audit"
)

const streamHeartbeat = 15 * time.Second

// handleAuditStream serves live audit entries as Server-Sent Events.
// ?result= narrows the feed to one result code.
func (a *API) handleAuditStream(w http.ResponseWriter, r *http.Request) {
	if a.feed == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	want := audit.Result(strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("result"))))
	if want != "" && !want.Valid() {
		writeErrorWith(w, r, http.StatusBadRequest, "validation failed", map[string]any{
			"fields": map[string]string{"result": "unknown audit result"},
		})
		return
	}

	rc := http.NewResponseController(w)
	_ = rc.SetWriteDeadline(time.Time{})

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ch := a.feed.Subscribe(ctx)

	_, _ = w.Write([]byte(": stream started\n\n"))
	if err := rc.Flush(); err != nil {
		return
	}

	heartbeat := time.NewTicker(streamHeartbeat)
	defer heartbeat.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = w.Write([]byte(": ping\n\n"))
		case e, ok := <-ch:
			if !ok {
				return
			}
			if want != "" && e.Result != want {
				continue
			}
			payload, err := json.Marshal(e)
			if err != nil {
				continue
			}
			_, _ = w.Write([]byte("id: " + e.ID + "\nevent: audit\ndata: "))
			_, _ = w.Write(payload)
			_, _ = w.Write([]byte("\n\n"))
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}
