package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
)

// AuditSource runs and reports wallet audits.
type AuditSource interface {
	Run(ctx context.Context) domain.AuditReport
	Last() (domain.AuditReport, bool)
}

// StatusHandler serves process status and wallet audits.
type StatusHandler struct {
	env     string
	started time.Time
	bots    interface{ Status() domain.StatusReport }
	audits  AuditSource
	log     domain.AuditStore // nil when postgres is disabled
	logger  *slog.Logger
}

func NewStatusHandler(env string, started time.Time, bots interface{ Status() domain.StatusReport }, audits AuditSource, log domain.AuditStore, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{env: env, started: started, bots: bots, audits: audits, log: log, logger: logger}
}

// GetStatus reports uptime, fleet totals and the latest audit.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	report := h.bots.Status()
	body := map[string]any{
		"env":          h.env,
		"uptime":       time.Since(h.started).Truncate(time.Second).String(),
		"total_bots":   report.TotalBots,
		"running_bots": report.RunningBots,
	}
	if last, ok := h.audits.Last(); ok {
		body["last_audit"] = last
	}
	writeJSON(w, http.StatusOK, body)
}

// RunAudit audits every wallet now.
// POST /api/audit
func (h *StatusHandler) RunAudit(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.audits.Run(r.Context()))
}

// AuditLog pages through the persisted audit trail.
// GET /api/audit/log?limit=50&offset=0
func (h *StatusHandler) AuditLog(w http.ResponseWriter, r *http.Request) {
	if h.log == nil {
		writeError(w, http.StatusNotImplemented, "audit log disabled")
		return
	}
	entries, err := h.log.List(r.Context(), parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	if entries == nil {
		entries = []domain.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}
