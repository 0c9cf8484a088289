package handler

import (
	"net/http"
	"time"
)

// StatusHandler reports how the process was started.
type StatusHandler struct {
	Mode      string
	Account   string
	Venues    []string
	StartedAt time.Time
}

// NewStatusHandler creates a StatusHandler.
func NewStatusHandler(mode, account string, venues []string) *StatusHandler {
	return &StatusHandler{Mode: mode, Account: account, Venues: venues, StartedAt: time.Now().UTC()}
}

// GetStatus responds with the run mode, engine account and enabled venues.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"mode":           h.Mode,
		"account":        h.Account,
		"venues":         h.Venues,
		"uptime_seconds": int64(time.Since(h.StartedAt).Seconds()),
	})
}
