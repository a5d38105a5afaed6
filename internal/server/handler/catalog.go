package handler

import (
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/moonbot/internal/service"
	"github.com/alanyoungcy/moonbot/internal/strategy"
	"github.com/alanyoungcy/moonbot/internal/wallet"
)

// Catalog lists what new bots can be built from.
type Catalog interface {
	Wallets() []wallet.Info
	Strategies() []strategy.Info
	DefaultSettings(name string) (service.StrategyDefaults, error)
}

// CatalogHandler serves wallets and strategies.
type CatalogHandler struct {
	catalog Catalog
	logger  *slog.Logger
}

func NewCatalogHandler(catalog Catalog, logger *slog.Logger) *CatalogHandler {
	return &CatalogHandler{catalog: catalog, logger: logger}
}

// Wallets lists loaded wallets with their addresses.
// GET /api/wallets
func (h *CatalogHandler) Wallets(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"wallets": h.catalog.Wallets()})
}

// Strategies lists strategy names and descriptions.
// GET /api/strategies
func (h *CatalogHandler) Strategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"strategies": h.catalog.Strategies()})
}

// Defaults returns the default settings for one strategy.
// GET /api/strategies/{name}/defaults
func (h *CatalogHandler) Defaults(w http.ResponseWriter, r *http.Request) {
	d, err := h.catalog.DefaultSettings(r.PathValue("name"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}
