// Package booking implements BookingCore: Create/Modify/Cancel/Check
// against a source adapter, with idempotent Create and an async append-only
// history journal.
package booking

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// timeValue wraps a time.Time for CreateInput/ModifyInput fields so a
// zero-valued (unset) field is distinguishable from an explicit timestamp
// at the handler boundary.
type timeValue struct {
	t time.Time
}

// Status is a Booking's lifecycle state.
type Status string

const (
	StatusRequested Status = "REQUESTED"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusFailed    Status = "FAILED"
)

// Booking is exclusively owned by its AgentID; mutable only through
// BookingCore operations.
type Booking struct {
	ID                 uuid.UUID
	AgentID            uuid.UUID
	SourceID           uuid.UUID
	AgreementRef       string
	SupplierBookingRef string
	AgentBookingRef    string
	IdempotencyKey     string
	Status             Status

	PickupUNLocode  string
	DropoffUNLocode string
	PickupISO       time.Time
	DropoffISO      time.Time
	VehicleClass    string
	MakeModel       string
	RatePlan        string
	DriverAge       int
	Residency       string

	CustomerInfo map[string]any
	PaymentInfo  map[string]any

	PayloadSnapshot json.RawMessage

	CreatedAt time.Time
	UpdatedAt time.Time
}

// EventType is a BookingHistory entry's kind.
type EventType string

const (
	EventCreated       EventType = "CREATED"
	EventModified      EventType = "MODIFIED"
	EventCancelled     EventType = "CANCELLED"
	EventStatusChanged EventType = "STATUS_CHANGED"
)

// ActorKind identifies who initiated a history event.
type ActorKind string

const (
	ActorKindAgent  ActorKind = "AGENT"
	ActorKindSource ActorKind = "SOURCE"
	ActorKindSystem ActorKind = "SYSTEM"
	ActorKindAdmin  ActorKind = "ADMIN"
)

// HistoryEntry is one append-only BookingHistory row. Never mutated. ID is
// populated only when an entry is read back from storage; a freshly
// constructed entry bound for Append has no ID yet (the database assigns it
// on insert).
type HistoryEntry struct {
	ID        int64
	BookingID uuid.UUID
	EventType EventType
	Before    *Booking
	After     *Booking
	Changes   map[string]FieldChange
	Actor     string
	Source    ActorKind
	Timestamp time.Time
	Metadata  map[string]any
}

// FieldChange records one field's before/after value in a history entry's
// change map.
type FieldChange struct {
	Before any `json:"before"`
	After  any `json:"after"`
}

// trackedFields is the fixed field set Diff compares between snapshots.
var trackedFields = []string{
	"status", "pickup_unlocode", "dropoff_unlocode", "pickup_iso", "dropoff_iso",
	"vehicle_class", "make_model", "rate_plan", "driver_age", "residency",
	"customer_info", "payment_info", "supplier_booking_ref", "agent_booking_ref", "agreement_ref",
}

// Diff computes the per-field change map between before and after over
// trackedFields, omitting fields that didn't change.
func Diff(before, after Booking) map[string]FieldChange {
	bv := fieldValues(before)
	av := fieldValues(after)

	changes := make(map[string]FieldChange)
	for _, f := range trackedFields {
		b, a := bv[f], av[f]
		if !equalValue(b, a) {
			changes[f] = FieldChange{Before: b, After: a}
		}
	}
	return changes
}

func fieldValues(b Booking) map[string]any {
	return map[string]any{
		"status":               b.Status,
		"pickup_unlocode":      b.PickupUNLocode,
		"dropoff_unlocode":     b.DropoffUNLocode,
		"pickup_iso":           b.PickupISO,
		"dropoff_iso":          b.DropoffISO,
		"vehicle_class":        b.VehicleClass,
		"make_model":           b.MakeModel,
		"rate_plan":            b.RatePlan,
		"driver_age":           b.DriverAge,
		"residency":            b.Residency,
		"customer_info":        b.CustomerInfo,
		"payment_info":         b.PaymentInfo,
		"supplier_booking_ref": b.SupplierBookingRef,
		"agent_booking_ref":    b.AgentBookingRef,
		"agreement_ref":        b.AgreementRef,
	}
}

func equalValue(a, b any) bool {
	aj, _ := json.Marshal(a)
	bj, _ := json.Marshal(b)
	return string(aj) == string(bj)
}
