package booking

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hopgate/carbroker/internal/httpserver"
	"github.com/hopgate/carbroker/pkg/brokererr"
)

// Handler exposes the Booking.* operations over HTTP.
type Handler struct {
	core   *Core
	logger *slog.Logger
}

// NewHandler creates a booking Handler.
func NewHandler(core *Core, logger *slog.Logger) *Handler {
	return &Handler{core: core, logger: logger}
}

// Mount registers the Booking.* routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/bookings", h.handleCreate)
	r.Patch("/bookings/{sourceID}/{supplierBookingRef}", h.handleModify)
	r.Post("/bookings/{sourceID}/{supplierBookingRef}/cancel", h.handleCancel)
	r.Post("/bookings/{sourceID}/{supplierBookingRef}/check", h.handleCheck)
	r.Get("/bookings/{sourceID}/{supplierBookingRef}/history", h.handleHistory)
}

type createRequest struct {
	AgentID          string         `json:"agent_id" validate:"required,uuid"`
	SourceID         string         `json:"source_id" validate:"required,uuid"`
	AgreementRef     string         `json:"agreement_ref" validate:"required"`
	SupplierOfferRef string         `json:"supplier_offer_ref"`
	IdempotencyKey   string         `json:"idempotency_key" validate:"required"`
	AgentBookingRef  string         `json:"agent_booking_ref"`
	PickupUNLocode   string         `json:"pickup_unlocode" validate:"required"`
	DropoffUNLocode  string         `json:"dropoff_unlocode" validate:"required"`
	PickupISO        time.Time      `json:"pickup_iso" validate:"required"`
	DropoffISO       time.Time      `json:"dropoff_iso" validate:"required"`
	VehicleClass     string         `json:"vehicle_class"`
	MakeModel        string         `json:"make_model"`
	RatePlan         string         `json:"rate_plan"`
	DriverAge        int            `json:"driver_age"`
	Residency        string         `json:"residency"`
	CustomerInfo     map[string]any `json:"customer_info"`
	PaymentInfo      map[string]any `json:"payment_info"`
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	agentID, _ := uuid.Parse(req.AgentID)
	sourceID, _ := uuid.Parse(req.SourceID)

	b, err := h.core.Create(r.Context(), CreateInput{
		AgentID:          agentID,
		SourceID:         sourceID,
		AgreementRef:     req.AgreementRef,
		SupplierOfferRef: req.SupplierOfferRef,
		IdempotencyKey:   req.IdempotencyKey,
		AgentBookingRef:  req.AgentBookingRef,
		PickupUNLocode:   req.PickupUNLocode,
		DropoffUNLocode:  req.DropoffUNLocode,
		PickupISO:        timeValue{t: req.PickupISO},
		DropoffISO:       timeValue{t: req.DropoffISO},
		VehicleClass:     req.VehicleClass,
		MakeModel:        req.MakeModel,
		RatePlan:         req.RatePlan,
		DriverAge:        req.DriverAge,
		Residency:        req.Residency,
		CustomerInfo:     req.CustomerInfo,
		PaymentInfo:      req.PaymentInfo,
	})
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusCreated, b)
}

func (h *Handler) pathParams(w http.ResponseWriter, r *http.Request) (uuid.UUID, string, bool) {
	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("invalid source id"))
		return uuid.Nil, "", false
	}
	return sourceID, chi.URLParam(r, "supplierBookingRef"), true
}

type modifyRequest struct {
	AgreementRef    string    `json:"agreement_ref"`
	PickupUNLocode  string    `json:"pickup_unlocode"`
	DropoffUNLocode string    `json:"dropoff_unlocode"`
	PickupISO       time.Time `json:"pickup_iso"`
	DropoffISO      time.Time `json:"dropoff_iso"`
	VehicleClass    string    `json:"vehicle_class"`
	RatePlan        string    `json:"rate_plan"`
}

func (h *Handler) handleModify(w http.ResponseWriter, r *http.Request) {
	sourceID, ref, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	var req modifyRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	b, err := h.core.Modify(r.Context(), ModifyInput{
		SupplierBookingRef: ref,
		SourceID:           sourceID,
		AgreementRef:       req.AgreementRef,
		PickupUNLocode:     req.PickupUNLocode,
		DropoffUNLocode:    req.DropoffUNLocode,
		PickupISO:          timeValue{t: req.PickupISO},
		DropoffISO:         timeValue{t: req.DropoffISO},
		VehicleClass:       req.VehicleClass,
		RatePlan:           req.RatePlan,
	})
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, b)
}

type cancelRequest struct {
	AgreementRef string `json:"agreement_ref"`
	Reason       string `json:"reason"`
}

func (h *Handler) handleCancel(w http.ResponseWriter, r *http.Request) {
	sourceID, ref, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	b, err := h.core.Cancel(r.Context(), ref, sourceID, req.AgreementRef, req.Reason)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, b)
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sourceID, ref, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	b, err := h.core.store.GetBySupplierRef(r.Context(), ref, sourceID)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.NotFoundf("booking not found"))
		return
	}

	params, err := httpserver.ParseCursorParams(r)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid(err.Error()))
		return
	}

	var afterTS time.Time
	var afterID int64
	hasAfter := params.After != nil
	if hasAfter {
		afterTS = params.After.CreatedAt
		afterID = params.After.ID
	}

	entries, err := h.core.history.ListByBooking(r.Context(), b.ID, hasAfter, afterTS, afterID, params.Limit+1)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}

	page := httpserver.NewCursorPage(entries, params.Limit, func(e HistoryEntry) httpserver.Cursor {
		return httpserver.Cursor{CreatedAt: e.Timestamp, ID: e.ID}
	})
	httpserver.Respond(w, http.StatusOK, page)
}

func (h *Handler) handleCheck(w http.ResponseWriter, r *http.Request) {
	sourceID, ref, ok := h.pathParams(w, r)
	if !ok {
		return
	}

	agreementRef := r.URL.Query().Get("agreement_ref")

	b, err := h.core.Check(r.Context(), ref, sourceID, agreementRef)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusOK, b)
}
