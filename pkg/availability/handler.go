package availability

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hopgate/carbroker/internal/httpserver"
	"github.com/hopgate/carbroker/internal/principal"
	"github.com/hopgate/carbroker/pkg/brokererr"
)

// PollConfig bundles the poll-path tunables the handler enforces per
// request.
type PollConfig struct {
	WaitMSMax int // clamp on wait_ms; 0 falls back to 10 000
	Batch     int // rows per poll response; 0 falls back to 200
}

// Handler exposes Availability.Submit and Availability.Poll over HTTP.
type Handler struct {
	engine *FanOutEngine
	store  *Store
	poll   PollConfig
	logger *slog.Logger
}

// NewHandler creates an availability Handler.
func NewHandler(engine *FanOutEngine, store *Store, poll PollConfig, logger *slog.Logger) *Handler {
	if poll.WaitMSMax <= 0 {
		poll.WaitMSMax = 10000
	}
	if poll.Batch <= 0 {
		poll.Batch = 200
	}
	return &Handler{engine: engine, store: store, poll: poll, logger: logger}
}

// Mount registers the Availability.* routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Post("/availability/submit", h.handleSubmit)
	r.Get("/availability/{requestID}/poll", h.handlePoll)
}

// submitRequest is decoded into a raw map first so Normalize can
// accept both snake_case and camelCase field names.
type submitRequest struct {
	Criteria map[string]any `json:"criteria"`
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	p := principal.FromContext(r.Context())

	var req submitRequest
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	criteria := Normalize(req.Criteria)
	result, err := h.engine.Submit(r.Context(), p.CompanyID, criteria)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, err)
		return
	}
	httpserver.Respond(w, http.StatusAccepted, result)
}

func (h *Handler) handlePoll(w http.ResponseWriter, r *http.Request) {
	jobID, err := uuid.Parse(chi.URLParam(r, "requestID"))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("invalid request id"))
		return
	}

	sinceSeq := queryInt64(r, "since_seq", 0)
	waitMs := queryInt(r, "wait_ms", 0)
	if waitMs > h.poll.WaitMSMax {
		waitMs = h.poll.WaitMSMax
	}

	result, err := h.store.GetJobSince(r.Context(), jobID, sinceSeq, waitMs, h.poll.Batch)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.NotFoundf("availability job not found"))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{
		"complete":            result.Status == JobComplete,
		"status":              result.Status,
		"last_seq":            result.LastSeq,
		"offers":              result.NewItems,
		"total_expected":      result.TotalExpected,
		"responses_received":  result.ResponsesReceived,
		"timed_out_sources":   result.TimedOutSources,
		"aggregate_etag":      result.AggregateETag,
	})
}

func queryInt64(r *http.Request, key string, def int64) int64 {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
