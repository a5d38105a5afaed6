package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/moonbot/internal/domain"
	"github.com/alanyoungcy/moonbot/internal/service"
)

// BotService is what the bot handler needs from the service layer.
type BotService interface {
	Status() domain.StatusReport
	Get(id int64) (domain.BotRecord, error)
	Start(ctx context.Context, id int64) error
	Stop(ctx context.Context, id int64) error
	Delete(ctx context.Context, id int64) error
	Configure(ctx context.Context, id int64, settings map[string]any) (domain.BotRecord, error)
	Create(ctx context.Context, req service.CreateBotRequest) (domain.BotRecord, error)
}

// BotHandler serves bot lifecycle endpoints.
type BotHandler struct {
	bots   BotService
	fills  domain.FillJournal // nil when postgres is disabled
	logger *slog.Logger
}

func NewBotHandler(bots BotService, fills domain.FillJournal, logger *slog.Logger) *BotHandler {
	return &BotHandler{bots: bots, fills: fills, logger: logger}
}

// Status lists every bot with fleet totals.
// GET /api/bots
func (h *BotHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.bots.Status())
}

// Get returns one bot's saved definition.
// GET /api/bots/{id}
func (h *BotHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := botID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.bots.Get(id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// Create adds a stopped bot.
// POST /api/bots
func (h *BotHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req service.CreateBotRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.bots.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

// Start marks a bot running.
// POST /api/bots/{id}/start
func (h *BotHandler) Start(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.bots.Start)
}

// Stop marks a bot stopped. Its resting orders stay on the book.
// POST /api/bots/{id}/stop
func (h *BotHandler) Stop(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.bots.Stop)
}

// Delete stops a bot and removes everything stored for it.
// DELETE /api/bots/{id}
func (h *BotHandler) Delete(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, h.bots.Delete)
}

func (h *BotHandler) command(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) error) {
	id, err := botID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := fn(r.Context(), id); err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Configure replaces the bot's strategy settings.
// PUT /api/bots/{id}/settings
func (h *BotHandler) Configure(w http.ResponseWriter, r *http.Request) {
	id, err := botID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var settings map[string]any
	if err := decodeJSON(w, r, &settings); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rec, err := h.bots.Configure(r.Context(), id, settings)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type fillResponse struct {
	OrderID string    `json:"order_id"`
	FillID  string    `json:"fill_id"`
	Asset   string    `json:"asset"`
	Delta   string    `json:"delta"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"at"`
}

// Fills pages through the bot's journaled inventory changes.
// GET /api/bots/{id}/fills?limit=50&offset=0&since=...&until=...
func (h *BotHandler) Fills(w http.ResponseWriter, r *http.Request) {
	if h.fills == nil {
		writeError(w, http.StatusNotImplemented, "fill journal disabled")
		return
	}
	id, err := botID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	events, err := h.fills.ListByBot(r.Context(), id, parseListOpts(r))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	out := make([]fillResponse, 0, len(events))
	for _, e := range events {
		out = append(out, fillResponse{
			OrderID: e.OrderID,
			FillID:  e.FillID,
			Asset:   e.Asset,
			Delta:   e.Delta.String(),
			Reason:  e.Reason,
			At:      e.At,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"fills": out})
}
