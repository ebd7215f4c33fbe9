package agreement

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hopgate/carbroker/internal/httpserver"
	"github.com/hopgate/carbroker/pkg/brokererr"
)

// Handler exposes the Agreement.* operations over HTTP.
type Handler struct {
	manager *Manager
	logger  *slog.Logger
}

// NewHandler creates an agreement Handler.
func NewHandler(manager *Manager, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

// Mount registers the Agreement.* routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/agreements", h.handleCreateDraft)
	r.Post("/agreements/{agreementID}/offer", h.handleOffer)
	r.Post("/agreements/{agreementID}/accept", h.handleAccept)
	r.Post("/agreements/{agreementID}/status", h.handleSetStatus)
	r.Get("/agreements/{agreementID}", h.handleGet)
	r.Get("/agents/{agentID}/agreements", h.handleListByAgent)
	r.Get("/sources/{sourceID}/agreements", h.handleListBySource)
}

type createDraftRequest struct {
	AgentID      string `json:"agent_id" validate:"required,uuid"`
	SourceID     string `json:"source_id" validate:"required,uuid"`
	AgreementRef string `json:"agreement_ref" validate:"required"`
}

func (h *Handler) handleCreateDraft(w http.ResponseWriter, r *http.Request) {
	var req createDraftRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	agentID, _ := uuid.Parse(req.AgentID)
	sourceID, _ := uuid.Parse(req.SourceID)

	a, err := h.manager.CreateDraft(r.Context(), agentID, sourceID, req.AgreementRef)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, a)
}

func (h *Handler) parseAgreementID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "agreementID"))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("invalid agreement id"))
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) handleOffer(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseAgreementID(w, r)
	if !ok {
		return
	}
	a, err := h.manager.Offer(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, a)
}

func (h *Handler) handleAccept(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseAgreementID(w, r)
	if !ok {
		return
	}
	a, err := h.manager.Accept(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, a)
}

type setStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=ACTIVE SUSPENDED EXPIRED"`
}

func (h *Handler) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseAgreementID(w, r)
	if !ok {
		return
	}

	var req setStatusRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	a, err := h.manager.SetStatus(r.Context(), id, Status(req.Status))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, a)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := h.parseAgreementID(w, r)
	if !ok {
		return
	}
	a, err := h.manager.store.Get(r.Context(), id)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.NotFoundf("agreement not found"))
		return
	}
	httpserver.Respond(w, http.StatusOK, a)
}

func (h *Handler) handleListByAgent(w http.ResponseWriter, r *http.Request) {
	agentID, err := uuid.Parse(chi.URLParam(r, "agentID"))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("invalid agent id"))
		return
	}
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid(err.Error()))
		return
	}
	status := optionalStatus(r)
	list, total, err := h.manager.ListByAgent(r.Context(), agentID, status, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(list, params, total))
}

func (h *Handler) handleListBySource(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("invalid source id"))
		return
	}
	params, err := httpserver.ParseOffsetParams(r)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid(err.Error()))
		return
	}
	status := optionalStatus(r)
	list, total, err := h.manager.ListBySource(r.Context(), sourceID, status, params.PageSize, params.Offset)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}
	httpserver.Respond(w, http.StatusOK, httpserver.NewOffsetPage(list, params, total))
}

func optionalStatus(r *http.Request) *Status {
	v := r.URL.Query().Get("status")
	if v == "" {
		return nil
	}
	s := Status(v)
	return &s
}
