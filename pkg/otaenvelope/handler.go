package otaenvelope

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hopgate/carbroker/internal/httpserver"
	"github.com/hopgate/carbroker/pkg/availability"
	"github.com/hopgate/carbroker/pkg/booking"
	"github.com/hopgate/carbroker/pkg/brokererr"
)

// Handler exposes OTA-shaped renderings of an availability job's offers and
// a booking record, for agents that want the nested vendor-section shape
// instead of the flat internal one.
type Handler struct {
	builder  *Builder
	jobs     *availability.Store
	bookings *booking.Store
	logger   *slog.Logger
}

// NewHandler creates an otaenvelope Handler.
func NewHandler(builder *Builder, jobs *availability.Store, bookings *booking.Store, logger *slog.Logger) *Handler {
	return &Handler{builder: builder, jobs: jobs, bookings: bookings, logger: logger}
}

// Mount registers the envelope-rendering routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/availability/{requestID}/envelope", h.handleAvailabilityEnvelope)
	r.Get("/bookings/{sourceID}/{supplierBookingRef}/envelope", h.handleReservationEnvelope)
}

func (h *Handler) handleAvailabilityEnvelope(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("invalid request id"))
		return
	}

	job, err := h.jobs.GetJob(r.Context(), jobID)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.NotFoundf("availability job not found"))
		return
	}

	// batch=10000 is a generous cap: envelopes render a job's full offer
	// set, not a polling slice.
	since, err := h.jobs.GetJobSince(r.Context(), jobID, 0, 0, 10000)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}

	var offers []availability.Offer
	for _, item := range since.NewItems {
		if item.Offer != nil {
			offers = append(offers, *item.Offer)
		}
	}

	env, err := h.builder.Availability(r.Context(), job.Criteria, offers)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}
	httpserver.Respond(w, http.StatusOK, env)
}

func (h *Handler) handleReservationEnvelope(w http.ResponseWriter, r *http.Request) {
	sourceID, err := uuid.Parse(chi.URLParam(r, "sourceID"))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("invalid source id"))
		return
	}
	ref := chi.URLParam(r, "supplierBookingRef")
	agreementRef := r.URL.Query().Get("agreement_ref")

	b, err := h.bookings.GetBySupplierRef(r.Context(), ref, sourceID)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.NotFoundf("booking not found"))
		return
	}
	if agreementRef != "" && agreementRef != b.AgreementRef {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("agreement_ref does not match the booking's agreement"))
		return
	}

	env, err := h.builder.Reservation(r.Context(), b)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}
	httpserver.Respond(w, http.StatusOK, env)
}
