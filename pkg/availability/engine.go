package availability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hopgate/carbroker/pkg/sourceadapter"
)

// EligibleAgreement is one (agreement, source) pair the engine may dispatch
// a call to, as resolved from the agent's ACTIVE agreements.
type EligibleAgreement struct {
	AgreementID  uuid.UUID
	AgreementRef string
	SourceID     uuid.UUID
}

// AgreementSource resolves an agent's ACTIVE agreements, optionally
// filtered to a set of agreementRefs. Implemented by the agreement
// package; declared here as an interface to avoid a package cycle.
type AgreementSource interface {
	ActiveAgreementsForAgent(ctx context.Context, agentID uuid.UUID, agreementRefs []string) ([]EligibleAgreement, error)
}

// CoverageChecker is the point-membership test the engine consults before
// dispatching to a (agreement, unlocode) pair. Implemented by
// coverage.Resolver.
type CoverageChecker interface {
	Allowed(ctx context.Context, agreementID uuid.UUID, unlocode string) (bool, error)
}

// HealthChecker is the exclusion test and sample recorder the engine
// consults and feeds. Implemented by health.Monitor.
type HealthChecker interface {
	IsExcluded(ctx context.Context, sourceID uuid.UUID) (bool, error)
	RecordMetric(ctx context.Context, sourceID uuid.UUID, latencyMs int, success bool) error
}

// AdapterResolver resolves a sourceId to a live SourceAdapter. Implemented
// by sourceadapter.AdapterRegistry.
type AdapterResolver interface {
	Get(ctx context.Context, sourceID uuid.UUID) (sourceadapter.SourceAdapter, error)
}

// EngineConfig bundles FanOutEngine's tunables.
type EngineConfig struct {
	PerCallTimeout time.Duration
	GlobalSLA      time.Duration
	Concurrency    int
	HardCancel     bool // extension; false is the minimum contract
}

// FanOutEngine dispatches Availability.Submit's background fan-out: one
// goroutine per eligible (agreement, source) pair, bounded by a
// concurrency cap, each isolated from the others' failures.
type FanOutEngine struct {
	store           *Store
	agreements      AgreementSource
	coverage        CoverageChecker
	health          HealthChecker
	adapters        AdapterResolver
	cfg             EngineConfig
	logger          *slog.Logger
	jobsTotal       *prometheus.CounterVec
	slaBreach       prometheus.Counter
	adapterDuration *prometheus.HistogramVec
}

// NewFanOutEngine creates a FanOutEngine. adapterDuration may be nil (e.g.
// in tests); when set, every Availability call is observed by
// {operation="availability", outcome}.
func NewFanOutEngine(store *Store, agreements AgreementSource, coverage CoverageChecker, health HealthChecker, adapters AdapterResolver, cfg EngineConfig, logger *slog.Logger, jobsTotal *prometheus.CounterVec, slaBreach prometheus.Counter, adapterDuration *prometheus.HistogramVec) *FanOutEngine {
	if cfg.PerCallTimeout == 0 {
		cfg.PerCallTimeout = 10 * time.Second
	}
	if cfg.GlobalSLA == 0 {
		cfg.GlobalSLA = 120 * time.Second
	}
	if cfg.Concurrency == 0 {
		cfg.Concurrency = 10
	}
	return &FanOutEngine{
		store: store, agreements: agreements, coverage: coverage, health: health, adapters: adapters,
		cfg: cfg, logger: logger, jobsTotal: jobsTotal, slaBreach: slaBreach, adapterDuration: adapterDuration,
	}
}

// SubmitResult is Submit's synchronous return value.
type SubmitResult struct {
	RequestID         uuid.UUID `json:"request_id"`
	ExpectedSources   int       `json:"expected_sources"`
	RecommendedPollMS int       `json:"recommended_poll_ms"`
}

// Submit takes criteria already normalized by Normalize (the HTTP handler
// calls it), resolves the agent's eligible agreements, creates the job, and
// returns synchronously — dispatch to each eligible
// source happens in a detached background context so it continues after
// this call returns.
func (e *FanOutEngine) Submit(ctx context.Context, agentID uuid.UUID, criteria Criteria) (SubmitResult, error) {
	candidates, err := e.agreements.ActiveAgreementsForAgent(ctx, agentID, criteria.AgreementRefs)
	if err != nil {
		return SubmitResult{}, err
	}

	expectedSources := distinctSourceCount(candidates)

	jobID, err := e.store.CreateJob(ctx, agentID, criteria, expectedSources)
	if err != nil {
		return SubmitResult{}, err
	}

	if expectedSources > 0 {
		// Detach from the request context: the caller has already received
		// request_id and will poll independently of this request's lifecycle.
		bgCtx := context.WithoutCancel(ctx)
		go e.dispatch(bgCtx, jobID, criteria, candidates)
	}

	return SubmitResult{
		RequestID:         jobID,
		ExpectedSources:   expectedSources,
		RecommendedPollMS: 1500,
	}, nil
}

func distinctSourceCount(candidates []EligibleAgreement) int {
	seen := make(map[uuid.UUID]bool, len(candidates))
	for _, c := range candidates {
		seen[c.SourceID] = true
	}
	return len(seen)
}

// dispatch runs the background fan-out for one job: filters to eligible
// pairs, dispatches each under the concurrency cap, and marks the job
// complete once every worker has settled. The global SLA timer always logs
// (and increments a metric) when it elapses before dispatch finishes; when
// cfg.HardCancel is set it additionally cancels every in-flight worker's
// context instead of only warning.
func (e *FanOutEngine) dispatch(ctx context.Context, jobID uuid.UUID, criteria Criteria, candidates []EligibleAgreement) {
	eligible := e.filterEligible(ctx, criteria, candidates)

	workCtx, cancelWork := context.WithCancel(ctx)
	defer cancelWork()

	done := make(chan struct{})
	go e.watchSLA(ctx, jobID, done, cancelWork)

	sem := make(chan struct{}, e.cfg.Concurrency)
	var wg sync.WaitGroup
	for _, pair := range eligible {
		pair := pair
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			e.dispatchOne(workCtx, jobID, criteria, pair)
		}()
	}
	wg.Wait()
	close(done)

	if err := e.store.MarkJobComplete(ctx, jobID); err != nil {
		e.logger.Error("marking availability job complete", "job_id", jobID, "error", err)
	}
	if e.jobsTotal != nil {
		e.jobsTotal.WithLabelValues("settled").Inc()
	}
}

// watchSLA fires cancelWork only when cfg.HardCancel is set; otherwise it is
// purely an observability signal and every in-flight worker runs to its own
// per-call timeout regardless of the global SLA.
func (e *FanOutEngine) watchSLA(ctx context.Context, jobID uuid.UUID, done <-chan struct{}, cancelWork context.CancelFunc) {
	timer := time.NewTimer(e.cfg.GlobalSLA)
	defer timer.Stop()
	select {
	case <-done:
	case <-ctx.Done():
	case <-timer.C:
		e.logger.Warn("availability job exceeded global SLA", "job_id", jobID, "sla", e.cfg.GlobalSLA, "hard_cancel", e.cfg.HardCancel)
		if e.slaBreach != nil {
			e.slaBreach.Inc()
		}
		if e.cfg.HardCancel {
			cancelWork()
		}
	}
}

func (e *FanOutEngine) filterEligible(ctx context.Context, criteria Criteria, candidates []EligibleAgreement) []EligibleAgreement {
	eligible := make([]EligibleAgreement, 0, len(candidates))
	for _, c := range candidates {
		pickupOK, err := e.coverage.Allowed(ctx, c.AgreementID, criteria.PickupUNLocode)
		if err != nil {
			e.logger.Error("checking pickup coverage", "agreement_id", c.AgreementID, "error", err)
			continue
		}
		dropoffOK, err := e.coverage.Allowed(ctx, c.AgreementID, criteria.DropoffUNLocode)
		if err != nil {
			e.logger.Error("checking dropoff coverage", "agreement_id", c.AgreementID, "error", err)
			continue
		}
		if !pickupOK || !dropoffOK {
			continue
		}

		excluded, err := e.health.IsExcluded(ctx, c.SourceID)
		if err != nil {
			e.logger.Error("checking source exclusion", "source_id", c.SourceID, "error", err)
			continue
		}
		if excluded {
			continue
		}

		eligible = append(eligible, c)
	}
	return eligible
}

// dispatchOne calls a single eligible source and writes its result. It
// never returns an error: every failure mode becomes either a persisted
// marker or a logged-and-swallowed store error, so one worker's trouble
// cannot affect any other.
func (e *FanOutEngine) dispatchOne(ctx context.Context, jobID uuid.UUID, criteria Criteria, pair EligibleAgreement) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.PerCallTimeout)
	defer cancel()

	adapter, err := e.adapters.Get(callCtx, pair.SourceID)
	if err != nil {
		e.logger.Error("resolving source adapter", "source_id", pair.SourceID, "error", err)
		e.appendResult(ctx, jobID, pair.SourceID, nil, ErrorSourceError)
		return
	}

	start := time.Now()
	offers, err := adapter.Availability(callCtx, sourceadapter.AvailabilityRequest{
		AgreementRef:     pair.AgreementRef,
		PickupUNLocode:   criteria.PickupUNLocode,
		DropoffUNLocode:  criteria.DropoffUNLocode,
		PickupISO:        criteria.PickupISO,
		DropoffISO:       criteria.DropoffISO,
		DriverAge:        criteria.DriverAge,
		ResidencyCountry: criteria.ResidencyCountry,
		VehicleClasses:   criteria.VehicleClasses,
	})
	elapsed := time.Since(start)
	latencyMs := int(elapsed.Milliseconds())
	timedOut := callCtx.Err() == context.DeadlineExceeded

	if recErr := e.health.RecordMetric(ctx, pair.SourceID, latencyMs, err == nil); recErr != nil {
		e.logger.Error("recording health sample", "source_id", pair.SourceID, "error", recErr)
	}

	if err != nil {
		kind := ErrorSourceError
		if timedOut {
			kind = ErrorTimeout
		}
		e.observeAdapterDuration(elapsed, string(kind))
		e.logger.Warn("source availability call failed", "source_id", pair.SourceID, "agreement_ref", pair.AgreementRef, "timed_out", timedOut, "error", err)
		e.appendResult(ctx, jobID, pair.SourceID, nil, kind)
		return
	}
	e.observeAdapterDuration(elapsed, "ok")

	converted := make([]Offer, 0, len(offers))
	for _, o := range offers {
		converted = append(converted, Offer{
			AgreementRef:       pair.AgreementRef,
			SupplierOfferRef:   o.SupplierOfferRef,
			PickupUNLocode:     criteria.PickupUNLocode,
			DropoffUNLocode:    criteria.DropoffUNLocode,
			VehicleClass:       o.VehicleClass,
			MakeModel:          o.MakeModel,
			Currency:           o.Currency,
			TotalPrice:         o.TotalPrice,
			AvailabilityStatus: o.AvailabilityStatus,
		})
	}
	// Zero offers on a successful call is a real NO_RESULT, not an error.
	e.appendResult(ctx, jobID, pair.SourceID, converted, ErrorNoResult)
}

func (e *FanOutEngine) observeAdapterDuration(elapsed time.Duration, outcome string) {
	if e.adapterDuration != nil {
		e.adapterDuration.WithLabelValues("availability", outcome).Observe(elapsed.Seconds())
	}
}

func (e *FanOutEngine) appendResult(ctx context.Context, jobID, sourceID uuid.UUID, offers []Offer, markerKind ResultErrorKind) {
	if err := e.store.AppendPartial(ctx, jobID, sourceID, offers, markerKind); err != nil {
		e.logger.Error("appending availability result", "job_id", jobID, "source_id", sourceID, "error", err)
	}
}
