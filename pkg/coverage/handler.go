package coverage

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hopgate/carbroker/internal/httpserver"
	"github.com/hopgate/carbroker/internal/principal"
	"github.com/hopgate/carbroker/pkg/brokererr"
	"github.com/hopgate/carbroker/pkg/sourceadapter"
	"github.com/hopgate/carbroker/pkg/unlocode"
)

// AdapterResolver resolves a sourceId to its live SourceAdapter, so the
// coverage sync can ask the source itself what it covers. Implemented by
// sourceadapter.AdapterRegistry.
type AdapterResolver interface {
	Get(ctx context.Context, sourceID uuid.UUID) (sourceadapter.SourceAdapter, error)
}

// Handler exposes the Location.* operations over HTTP.
type Handler struct {
	resolver *Resolver
	locs     *Store
	unl      *unlocode.Store
	adapters AdapterResolver
	logger   *slog.Logger
}

// NewHandler creates a coverage Handler.
func NewHandler(resolver *Resolver, locs *Store, unl *unlocode.Store, adapters AdapterResolver, logger *slog.Logger) *Handler {
	return &Handler{resolver: resolver, locs: locs, unl: unl, adapters: adapters, logger: logger}
}

// Mount registers the Location.* routes on r.
func (h *Handler) Mount(r chi.Router) {
	r.Get("/unlocodes", h.handleListUNLocodes)
	r.Post("/sources/{sourceID}/locations/sync", h.handleSyncSourceCoverage)
	r.Get("/agreements/{agreementID}/coverage", h.handleListCoverageByAgreement)
	r.Put("/agreements/{agreementID}/coverage/{unlocode}", h.handleUpsertOverride)
	r.Delete("/agreements/{agreementID}/coverage/{unlocode}", h.handleRemoveOverride)
}

func (h *Handler) handleListUNLocodes(w http.ResponseWriter, r *http.Request) {
	items, err := h.unl.List(r.Context())
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]any{"unlocodes": items})
}

// handleSyncSourceCoverage pulls the source's own Locations() through its
// adapter, intersects the reported codes with the UN/LOCODE dictionary, and
// replaces the source_locations rows. Unknown codes reported by a source are
// silently dropped rather than failing the whole sync.
func (h *Handler) handleSyncSourceCoverage(w http.ResponseWriter, r *http.Request) {
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

	adapter, err := h.adapters.Get(r.Context(), sourceID)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.NotFoundf("source has no configured adapter"))
		return
	}

	reported, err := adapter.Locations(r.Context())
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Unavailablef("source locations call failed"))
		return
	}

	var known []string
	for _, code := range reported {
		ok, err := h.unl.Exists(r.Context(), code)
		if err != nil {
			httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
			return
		}
		if ok {
			known = append(known, code)
		}
	}

	if err := h.locs.SyncSourceLocations(r.Context(), sourceID, known); err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}

	h.logger.Info("synced source coverage", "source_id", sourceID,
		"reported", len(reported), "synced", len(known))
	httpserver.Respond(w, http.StatusOK, map[string]any{"reported": len(reported), "synced": len(known)})
}

func (h *Handler) handleListCoverageByAgreement(w http.ResponseWriter, r *http.Request) {
	agreementID, err := uuid.Parse(chi.URLParam(r, "agreementID"))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("invalid agreement id"))
		return
	}

	codes, err := h.resolver.Effective(r.Context(), agreementID)
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}

	httpserver.Respond(w, http.StatusOK, map[string]any{"unlocodes": codes})
}

func (h *Handler) handleUpsertOverride(w http.ResponseWriter, r *http.Request) {
	agreementID, err := uuid.Parse(chi.URLParam(r, "agreementID"))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("invalid agreement id"))
		return
	}
	code := chi.URLParam(r, "unlocode")

	var req struct {
		Allowed bool `json:"allowed"`
	}
	if !httpserver.DecodeAndValidate(w, r, &req) {
		return
	}

	if err := h.locs.UpsertOverride(r.Context(), agreementID, code, req.Allowed); err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleRemoveOverride(w http.ResponseWriter, r *http.Request) {
	agreementID, err := uuid.Parse(chi.URLParam(r, "agreementID"))
	if err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Invalid("invalid agreement id"))
		return
	}
	code := chi.URLParam(r, "unlocode")

	if err := h.locs.RemoveOverride(r.Context(), agreementID, code); err != nil {
		httpserver.RespondBrokerErr(w, h.logger, brokererr.Internalf(err))
		return
	}
	httpserver.Respond(w, http.StatusOK, map[string]string{"status": "ok"})
}
