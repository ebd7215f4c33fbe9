package health

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hopgate/carbroker/internal/httpserver"
	"github.com/hopgate/carbroker/internal/principal"
	"github.com/hopgate/carbroker/pkg/brokererr"
)

// Handler exposes admin-only health inspection and reset.
type Handler struct {
	monitor *Monitor
	logger  *slog.Logger
}

// NewHandler creates a health Handler.
func NewHandler(monitor *Monitor, logger *slog.Logger) *Handler {
	return &Handler{monitor: monitor, logger: logger}
}

// Mount registers Source.HealthReset and its read counterpart on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/sources/{sourceID}/health", h.handleGetHealth)
	r.Post("/sources/{sourceID}/health/reset", h.handleReset)
}

func (h *Handler) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("invalid source id"))
		return
	}

	excluded, err := h.monitor.IsExcluded(r.Context(), sourceID)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"source_id": sourceID, "excluded": excluded})
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())
	if p.Role != "admin" {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Denied("admin role required"))
		return
	}

	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("invalid source id"))
		return
	}

	resetByLabel := p.CompanyID.String()
	state, err := h.monitor.Reset(r.Context(), sourceID, resetByLabel)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}
	httpserver.Respond(w, http.StatusOK, state)
}
