// Package sourceadapter defines the uniform per-source driver contract the
// core depends on, and the registry that resolves a sourceId to a live
// adapter instance.
package sourceadapter

import (
	"context"
	"time"
)

// AvailabilityRequest carries the normalized criteria for one source call.
type AvailabilityRequest struct {
	AgreementRef     string
	PickupUNLocode   string
	DropoffUNLocode  string
	PickupISO        time.Time
	DropoffISO       time.Time
	DriverAge        int
	ResidencyCountry string
	VehicleClasses   []string
}

// Offer is a single vehicle offer returned by a source.
type Offer struct {
	SupplierOfferRef   string
	VehicleClass       string
	MakeModel          string
	Currency           string
	TotalPrice         float64
	AvailabilityStatus string
}

// BookingPayload carries every field a booking-scoped adapter call may need.
// Create uses SupplierOfferRef+IdempotencyKey; Modify/Cancel/Check use
// SupplierBookingRef. AgreementRef is always present.
type BookingPayload struct {
	AgreementRef       string
	SupplierOfferRef   string
	SupplierBookingRef string
	IdempotencyKey     string
	CancellationReason string

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
}

// BookingResult is the supplier's response to a booking-scoped call.
type BookingResult struct {
	SupplierBookingRef string
	Status             string
}

// ErrorKind classifies an adapter failure for the caller. Adapters expose no
// richer control flow than this.
type ErrorKind string

const (
	ErrTransport        ErrorKind = "TRANSPORT"         // unreachable or per-call timeout
	ErrRemoteValidation ErrorKind = "REMOTE_VALIDATION" // source rejected the request
	ErrRemoteServer     ErrorKind = "REMOTE_SERVER"     // source returned a failure status
)

// AdapterError wraps a classified adapter failure.
type AdapterError struct {
	Kind    ErrorKind
	Message string
}

func (e *AdapterError) Error() string { return string(e.Kind) + ": " + e.Message }

// SourceAdapter is the uniform per-source driver. One implementation exists
// per transport kind (mock, grpc, http); the core only ever depends on this
// interface.
type SourceAdapter interface {
	Locations(ctx context.Context) ([]string, error)
	Availability(ctx context.Context, req AvailabilityRequest) ([]Offer, error)
	BookingCreate(ctx context.Context, payload BookingPayload) (BookingResult, error)
	BookingModify(ctx context.Context, payload BookingPayload) (BookingResult, error)
	BookingCancel(ctx context.Context, supplierBookingRef, agreementRef string) (BookingResult, error)
	BookingCheck(ctx context.Context, supplierBookingRef, agreementRef string) (BookingResult, error)
}
