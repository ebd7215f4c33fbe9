package booking

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/hopgate/carbroker/pkg/brokererr"
	"github.com/hopgate/carbroker/pkg/sourceadapter"
)

// ScopeBookingCreate is the IdempotencyKey scope for Create.
const ScopeBookingCreate = "booking:create"

// uniqueViolation is Postgres' SQLSTATE for a unique-index conflict.
const uniqueViolation = "23505"

// BookingStore is the subset of *Store Core depends on, declared as an
// interface here so Core can be tested without a database.
type BookingStore interface {
	GetByIdempotencyKey(ctx context.Context, agentID uuid.UUID, scope, key string) (Booking, error)
	GetBySupplierRef(ctx context.Context, supplierBookingRef string, sourceID uuid.UUID) (Booking, error)
	CreateIdempotent(ctx context.Context, b Booking, scope string) (Booking, error)
	ApplyUpdate(ctx context.Context, b Booking) error
}

// AgreementChecker verifies an agreement is ACTIVE for (agentId, sourceId,
// agreementRef). Implemented by the agreement package; declared as an
// interface here to avoid a package cycle.
type AgreementChecker interface {
	IsActive(ctx context.Context, agentID, sourceID uuid.UUID, agreementRef string) (bool, error)
}

// AdapterResolver resolves a sourceId to a live SourceAdapter.
type AdapterResolver interface {
	Get(ctx context.Context, sourceID uuid.UUID) (sourceadapter.SourceAdapter, error)
}

// HealthRecorder records a latency sample for a source.
type HealthRecorder interface {
	RecordMetric(ctx context.Context, sourceID uuid.UUID, latencyMs int, success bool) error
}

// Core implements BookingCore's four operations.
type Core struct {
	store           BookingStore
	history         *HistoryWriter
	agreements      AgreementChecker
	adapters        AdapterResolver
	health          HealthRecorder
	logger          *slog.Logger
	opsTotal        *prometheus.CounterVec
	adapterDuration *prometheus.HistogramVec
}

// NewCore creates a booking Core. adapterDuration may be nil (e.g. in
// tests).
func NewCore(store BookingStore, history *HistoryWriter, agreements AgreementChecker, adapters AdapterResolver, health HealthRecorder, logger *slog.Logger, opsTotal *prometheus.CounterVec, adapterDuration *prometheus.HistogramVec) *Core {
	return &Core{store: store, history: history, agreements: agreements, adapters: adapters, health: health, logger: logger, opsTotal: opsTotal, adapterDuration: adapterDuration}
}

// callAdapter runs fn (one of adapter.BookingCreate/Modify/Cancel/Check),
// timing it for both the health monitor (the service's sample feed is not
// limited to fan-out calls — every adapter round trip is a latency signal)
// and the adapter-duration histogram, labeled by op/outcome.
func (c *Core) callAdapter(ctx context.Context, sourceID uuid.UUID, op string, fn func() (sourceadapter.BookingResult, error)) (sourceadapter.BookingResult, error) {
	start := time.Now()
	result, err := fn()
	elapsed := time.Since(start)

	if recErr := c.health.RecordMetric(ctx, sourceID, int(elapsed.Milliseconds()), err == nil); recErr != nil {
		c.logger.Error("recording health sample", "source_id", sourceID, "error", recErr)
	}
	if c.adapterDuration != nil {
		outcome := "ok"
		if err != nil {
			outcome = "error"
		}
		c.adapterDuration.WithLabelValues(op, outcome).Observe(elapsed.Seconds())
	}
	return result, err
}

// CreateInput is Booking.Create's request shape.
type CreateInput struct {
	AgentID          uuid.UUID
	SourceID         uuid.UUID
	AgreementRef     string
	SupplierOfferRef string
	IdempotencyKey   string
	AgentBookingRef  string

	PickupUNLocode  string
	DropoffUNLocode string
	PickupISO       timeValue
	DropoffISO      timeValue
	VehicleClass    string
	MakeModel       string
	RatePlan        string
	DriverAge       int
	Residency       string

	CustomerInfo map[string]any
	PaymentInfo  map[string]any
}

func (c *Core) recordOp(op, outcome string) {
	if c.opsTotal != nil {
		c.opsTotal.WithLabelValues(op, outcome).Inc()
	}
}

// Create implements Booking.Create.
func (c *Core) Create(ctx context.Context, in CreateInput) (Booking, error) {
	if in.SourceID == uuid.Nil || in.IdempotencyKey == "" {
		c.recordOp("create", "invalid_argument")
		return Booking{}, brokererr.Invalid("source_id and idempotency_key are required")
	}

	if existing, err := c.store.GetByIdempotencyKey(ctx, in.AgentID, ScopeBookingCreate, in.IdempotencyKey); err == nil {
		c.recordOp("create", "replayed")
		return existing, nil
	}

	active, err := c.agreements.IsActive(ctx, in.AgentID, in.SourceID, in.AgreementRef)
	if err != nil {
		c.recordOp("create", "internal")
		return Booking{}, brokererr.Internalf(err)
	}
	if !active {
		c.recordOp("create", "agreement_inactive")
		return Booking{}, brokererr.Precondition("AGREEMENT_INACTIVE", "agreement is not active")
	}

	adapter, err := c.adapters.Get(ctx, in.SourceID)
	if err != nil {
		c.recordOp("create", "internal")
		return Booking{}, brokererr.Internalf(err)
	}

	result, err := c.callAdapter(ctx, in.SourceID, "create", func() (sourceadapter.BookingResult, error) {
		return adapter.BookingCreate(ctx, sourceadapter.BookingPayload{
			AgreementRef:     in.AgreementRef,
			SupplierOfferRef: in.SupplierOfferRef,
			IdempotencyKey:   in.IdempotencyKey,
			PickupUNLocode:   in.PickupUNLocode,
			DropoffUNLocode:  in.DropoffUNLocode,
			PickupISO:        in.PickupISO.t,
			DropoffISO:       in.DropoffISO.t,
			VehicleClass:     in.VehicleClass,
			MakeModel:        in.MakeModel,
			RatePlan:         in.RatePlan,
			DriverAge:        in.DriverAge,
			Residency:        in.Residency,
			CustomerInfo:     in.CustomerInfo,
			PaymentInfo:      in.PaymentInfo,
		})
	})
	if err != nil {
		c.recordOp("create", "adapter_error")
		return Booking{}, mapAdapterErr(err)
	}

	status := Status(result.Status)
	if status == "" {
		status = StatusRequested
	}
	snapshot, _ := json.Marshal(result)

	b := Booking{
		ID:                 uuid.New(),
		AgentID:            in.AgentID,
		SourceID:           in.SourceID,
		AgreementRef:       in.AgreementRef,
		SupplierBookingRef: result.SupplierBookingRef,
		AgentBookingRef:    in.AgentBookingRef,
		IdempotencyKey:     in.IdempotencyKey,
		Status:             status,
		PickupUNLocode:     in.PickupUNLocode,
		DropoffUNLocode:    in.DropoffUNLocode,
		PickupISO:          in.PickupISO.t,
		DropoffISO:         in.DropoffISO.t,
		VehicleClass:       in.VehicleClass,
		MakeModel:          in.MakeModel,
		RatePlan:           in.RatePlan,
		DriverAge:          in.DriverAge,
		Residency:          in.Residency,
		CustomerInfo:       in.CustomerInfo,
		PaymentInfo:        in.PaymentInfo,
		PayloadSnapshot:    snapshot,
	}

	created, err := c.store.CreateIdempotent(ctx, b, ScopeBookingCreate)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// Lost the race: another concurrent Create with this same
			// idempotency key committed first. Replay its result instead of
			// surfacing the insert conflict.
			existing, rerr := c.store.GetByIdempotencyKey(ctx, in.AgentID, ScopeBookingCreate, in.IdempotencyKey)
			if rerr != nil {
				c.recordOp("create", "internal")
				return Booking{}, brokererr.Internalf(rerr)
			}
			c.recordOp("create", "replayed")
			return existing, nil
		}
		c.recordOp("create", "internal")
		return Booking{}, brokererr.Internalf(err)
	}

	c.history.Append(HistoryEntry{
		BookingID: created.ID,
		EventType: EventCreated,
		After:     &created,
		Source:    ActorKindAgent,
	})
	c.recordOp("create", "ok")
	return created, nil
}

// ModifyInput is Booking.Modify's request shape. Only non-zero fields are
// applied.
type ModifyInput struct {
	SupplierBookingRef string
	SourceID           uuid.UUID
	AgreementRef       string

	PickupUNLocode  string
	DropoffUNLocode string
	PickupISO       timeValue
	DropoffISO      timeValue
	VehicleClass    string
	RatePlan        string
}

// Modify implements Booking.Modify.
func (c *Core) Modify(ctx context.Context, in ModifyInput) (Booking, error) {
	existing, err := c.locateAndCheck(ctx, in.SupplierBookingRef, in.SourceID, in.AgreementRef, "modify")
	if err != nil {
		return Booking{}, err
	}

	adapter, err := c.adapters.Get(ctx, existing.SourceID)
	if err != nil {
		c.recordOp("modify", "internal")
		return Booking{}, brokererr.Internalf(err)
	}

	payload := sourceadapter.BookingPayload{
		AgreementRef:       existing.AgreementRef,
		SupplierBookingRef: existing.SupplierBookingRef,
		PickupUNLocode:     orDefault(in.PickupUNLocode, existing.PickupUNLocode),
		DropoffUNLocode:    orDefault(in.DropoffUNLocode, existing.DropoffUNLocode),
		PickupISO:          orDefaultTime(in.PickupISO.t, existing.PickupISO),
		DropoffISO:         orDefaultTime(in.DropoffISO.t, existing.DropoffISO),
		VehicleClass:       orDefault(in.VehicleClass, existing.VehicleClass),
		RatePlan:           orDefault(in.RatePlan, existing.RatePlan),
	}

	result, err := c.callAdapter(ctx, existing.SourceID, "modify", func() (sourceadapter.BookingResult, error) {
		return adapter.BookingModify(ctx, payload)
	})
	if err != nil {
		c.recordOp("modify", "adapter_error")
		return Booking{}, mapAdapterErr(err)
	}

	before := existing
	updated := existing
	if in.PickupUNLocode != "" {
		updated.PickupUNLocode = in.PickupUNLocode
	}
	if in.DropoffUNLocode != "" {
		updated.DropoffUNLocode = in.DropoffUNLocode
	}
	if !in.PickupISO.t.IsZero() {
		updated.PickupISO = in.PickupISO.t
	}
	if !in.DropoffISO.t.IsZero() {
		updated.DropoffISO = in.DropoffISO.t
	}
	if in.VehicleClass != "" {
		updated.VehicleClass = in.VehicleClass
	}
	if in.RatePlan != "" {
		updated.RatePlan = in.RatePlan
	}
	if result.Status != "" {
		updated.Status = Status(result.Status)
	}
	snapshot, _ := json.Marshal(result)
	updated.PayloadSnapshot = snapshot

	if err := c.store.ApplyUpdate(ctx, updated); err != nil {
		c.recordOp("modify", "internal")
		return Booking{}, brokererr.Internalf(err)
	}

	c.history.Append(HistoryEntry{
		BookingID: updated.ID,
		EventType: EventModified,
		Before:    &before,
		After:     &updated,
		Changes:   Diff(before, updated),
		Source:    ActorKindAgent,
	})
	c.recordOp("modify", "ok")
	return updated, nil
}

// Cancel implements Booking.Cancel.
func (c *Core) Cancel(ctx context.Context, supplierBookingRef string, sourceID uuid.UUID, agreementRef, reason string) (Booking, error) {
	existing, err := c.locateAndCheck(ctx, supplierBookingRef, sourceID, agreementRef, "cancel")
	if err != nil {
		return Booking{}, err
	}

	adapter, err := c.adapters.Get(ctx, existing.SourceID)
	if err != nil {
		c.recordOp("cancel", "internal")
		return Booking{}, brokererr.Internalf(err)
	}

	result, err := c.callAdapter(ctx, existing.SourceID, "cancel", func() (sourceadapter.BookingResult, error) {
		return adapter.BookingCancel(ctx, existing.SupplierBookingRef, existing.AgreementRef)
	})
	if err != nil {
		c.recordOp("cancel", "adapter_error")
		return Booking{}, mapAdapterErr(err)
	}

	before := existing
	updated := existing
	updated.Status = StatusCancelled
	if result.Status != "" {
		updated.Status = Status(result.Status)
	}
	snapshot, _ := json.Marshal(result)
	updated.PayloadSnapshot = snapshot

	if err := c.store.ApplyUpdate(ctx, updated); err != nil {
		c.recordOp("cancel", "internal")
		return Booking{}, brokererr.Internalf(err)
	}

	c.history.Append(HistoryEntry{
		BookingID: updated.ID,
		EventType: EventCancelled,
		Before:    &before,
		After:     &updated,
		Changes:   Diff(before, updated),
		Actor:     reason,
		Source:    ActorKindAgent,
	})
	c.recordOp("cancel", "ok")
	return updated, nil
}

// Check implements Booking.Check.
func (c *Core) Check(ctx context.Context, supplierBookingRef string, sourceID uuid.UUID, agreementRef string) (Booking, error) {
	existing, err := c.locateAndCheck(ctx, supplierBookingRef, sourceID, agreementRef, "check")
	if err != nil {
		return Booking{}, err
	}

	adapter, err := c.adapters.Get(ctx, existing.SourceID)
	if err != nil {
		c.recordOp("check", "internal")
		return Booking{}, brokererr.Internalf(err)
	}

	result, err := c.callAdapter(ctx, existing.SourceID, "check", func() (sourceadapter.BookingResult, error) {
		return adapter.BookingCheck(ctx, existing.SupplierBookingRef, existing.AgreementRef)
	})
	if err != nil {
		c.recordOp("check", "adapter_error")
		return Booking{}, mapAdapterErr(err)
	}

	if Status(result.Status) == existing.Status || result.Status == "" {
		c.recordOp("check", "ok")
		return existing, nil
	}

	before := existing
	updated := existing
	updated.Status = Status(result.Status)
	snapshot, _ := json.Marshal(result)
	updated.PayloadSnapshot = snapshot

	if err := c.store.ApplyUpdate(ctx, updated); err != nil {
		c.recordOp("check", "internal")
		return Booking{}, brokererr.Internalf(err)
	}

	c.history.Append(HistoryEntry{
		BookingID: updated.ID,
		EventType: EventStatusChanged,
		Before:    &before,
		After:     &updated,
		Changes:   Diff(before, updated),
		Source:    ActorKindSource,
	})
	c.recordOp("check", "ok")
	return updated, nil
}

// locateAndCheck implements the shared lookup-and-gate steps for Modify/Cancel/
// Check. A caller-supplied agreementRef is treated as an override that must
// equal the stored value (the "dual booking schemas" design note); a
// mismatch is INVALID_ARGUMENT, not NOT_FOUND.
func (c *Core) locateAndCheck(ctx context.Context, supplierBookingRef string, sourceID uuid.UUID, agreementRef, op string) (Booking, error) {
	b, err := c.store.GetBySupplierRef(ctx, supplierBookingRef, sourceID)
	if err != nil {
		c.recordOp(op, "not_found")
		return Booking{}, brokererr.NotFoundf("booking not found")
	}

	if agreementRef != "" && agreementRef != b.AgreementRef {
		c.recordOp(op, "invalid_argument")
		return Booking{}, brokererr.Invalid("agreement_ref does not match the booking's agreement")
	}

	active, err := c.agreements.IsActive(ctx, b.AgentID, b.SourceID, b.AgreementRef)
	if err != nil {
		c.recordOp(op, "internal")
		return Booking{}, brokererr.Internalf(err)
	}
	if !active {
		c.recordOp(op, "agreement_inactive")
		return Booking{}, brokererr.Precondition("AGREEMENT_INACTIVE", "agreement is not active")
	}
	return b, nil
}

func mapAdapterErr(err error) error {
	ae, ok := err.(*sourceadapter.AdapterError)
	if !ok {
		return brokererr.Internalf(err)
	}
	switch ae.Kind {
	case sourceadapter.ErrTransport:
		return brokererr.Unavailablef(ae.Message)
	case sourceadapter.ErrRemoteValidation:
		return brokererr.Invalid(ae.Message)
	case sourceadapter.ErrRemoteServer:
		return brokererr.Unavailablef(ae.Message)
	default:
		return brokererr.Internalf(err)
	}
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}

func orDefaultTime(v, fallback time.Time) time.Time {
	if v.IsZero() {
		return fallback
	}
	return v
}
