// Package mockadapter is an in-memory SourceAdapter used for local
// development, tests, and demo sources that have no real supplier endpoint
// to call. It never leaves the process: every offer and booking it returns
// is synthesized from the request.
package mockadapter

import (
	"context"
	"fmt"
	"sync"

	"github.com/hopgate/carbroker/pkg/company"
	"github.com/hopgate/carbroker/pkg/sourceadapter"
)

// Config controls the mock adapter's synthesized responses.
type Config struct {
	// Locations is the fixed set of UN/LOCODEs this mock source "covers".
	Locations []string
	// VehicleClasses is the set of classes offered for any availability
	// request whose requested classes overlap (or, if none requested, all
	// of them).
	VehicleClasses []string
	// BaseDailyRate seeds the synthesized offer price.
	BaseDailyRate float64
	// Currency is the currency code used on every synthesized offer.
	Currency string
	// FailEveryNCalls, if non-zero, rejects every Nth Availability call
	// with a REMOTE_SERVER error.
	FailEveryNCalls int
}

// DefaultConfig returns a Config with a modest fixed catalog, usable
// wherever a test or demo source just needs "some" offers back.
func DefaultConfig() Config {
	return Config{
		Locations:      []string{"GBMAN", "GBGLA", "GBLON", "FRPAR", "DEBER"},
		VehicleClasses: []string{"ECONOMY", "COMPACT", "SUV", "LUXURY"},
		BaseDailyRate:  45.00,
		Currency:       "GBP",
	}
}

// Adapter is an in-memory sourceadapter.SourceAdapter.
type Adapter struct {
	cfg Config

	mu       sync.Mutex
	calls    int
	bookings map[string]sourceadapter.BookingResult
	nextRef  int
}

var _ sourceadapter.SourceAdapter = (*Adapter)(nil)

// New constructs a mock adapter.
func New(cfg Config) *Adapter {
	return &Adapter{cfg: cfg, bookings: make(map[string]sourceadapter.BookingResult)}
}

// Factory adapts New to sourceadapter.Factory for registration against
// company.TransportMock.
func Factory(ep company.Endpoint) (sourceadapter.SourceAdapter, error) {
	return New(DefaultConfig()), nil
}

func (a *Adapter) Locations(_ context.Context) ([]string, error) {
	out := make([]string, len(a.cfg.Locations))
	copy(out, a.cfg.Locations)
	return out, nil
}

func (a *Adapter) Availability(_ context.Context, req sourceadapter.AvailabilityRequest) ([]sourceadapter.Offer, error) {
	a.mu.Lock()
	a.calls++
	calls := a.calls
	a.mu.Unlock()

	if a.cfg.FailEveryNCalls > 0 && calls%a.cfg.FailEveryNCalls == 0 {
		return nil, &sourceadapter.AdapterError{
			Kind:    sourceadapter.ErrRemoteServer,
			Message: "mock source simulated failure",
		}
	}

	classes := a.cfg.VehicleClasses
	if len(req.VehicleClasses) > 0 {
		classes = make([]string, 0, len(req.VehicleClasses))
		for _, want := range req.VehicleClasses {
			for _, have := range a.cfg.VehicleClasses {
				if want == have {
					classes = append(classes, want)
					break
				}
			}
		}
	}

	nights := req.DropoffISO.Sub(req.PickupISO).Hours() / 24
	if nights < 1 {
		nights = 1
	}

	offers := make([]sourceadapter.Offer, 0, len(classes))
	for i, class := range classes {
		offers = append(offers, sourceadapter.Offer{
			SupplierOfferRef:   fmt.Sprintf("mock-offer-%s-%s-%d", req.PickupUNLocode, class, i),
			VehicleClass:       class,
			MakeModel:          mockMakeModel(class),
			Currency:           a.cfg.Currency,
			TotalPrice:         round2(a.cfg.BaseDailyRate * classMultiplier(class) * nights),
			AvailabilityStatus: "AVAILABLE",
		})
	}
	return offers, nil
}

func (a *Adapter) BookingCreate(_ context.Context, payload sourceadapter.BookingPayload) (sourceadapter.BookingResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if existing, ok := a.bookings[payload.IdempotencyKey]; ok && payload.IdempotencyKey != "" {
		return existing, nil
	}

	a.nextRef++
	res := sourceadapter.BookingResult{
		SupplierBookingRef: fmt.Sprintf("mock-bkg-%06d", a.nextRef),
		Status:             "CONFIRMED",
	}
	if payload.IdempotencyKey != "" {
		a.bookings[payload.IdempotencyKey] = res
	}
	a.bookings[res.SupplierBookingRef] = res
	return res, nil
}

func (a *Adapter) BookingModify(_ context.Context, payload sourceadapter.BookingPayload) (sourceadapter.BookingResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, ok := a.bookings[payload.SupplierBookingRef]
	if !ok {
		return sourceadapter.BookingResult{}, &sourceadapter.AdapterError{
			Kind:    sourceadapter.ErrRemoteValidation,
			Message: "unknown supplier booking reference",
		}
	}
	res.Status = "CONFIRMED"
	a.bookings[payload.SupplierBookingRef] = res
	return res, nil
}

func (a *Adapter) BookingCancel(_ context.Context, supplierBookingRef, _ string) (sourceadapter.BookingResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, ok := a.bookings[supplierBookingRef]
	if !ok {
		return sourceadapter.BookingResult{}, &sourceadapter.AdapterError{
			Kind:    sourceadapter.ErrRemoteValidation,
			Message: "unknown supplier booking reference",
		}
	}
	res.Status = "CANCELLED"
	a.bookings[supplierBookingRef] = res
	return res, nil
}

func (a *Adapter) BookingCheck(_ context.Context, supplierBookingRef, _ string) (sourceadapter.BookingResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	res, ok := a.bookings[supplierBookingRef]
	if !ok {
		return sourceadapter.BookingResult{}, &sourceadapter.AdapterError{
			Kind:    sourceadapter.ErrRemoteValidation,
			Message: "unknown supplier booking reference",
		}
	}
	return res, nil
}

func mockMakeModel(class string) string {
	switch class {
	case "ECONOMY":
		return "Vauxhall Corsa"
	case "COMPACT":
		return "VW Golf"
	case "SUV":
		return "Nissan Qashqai"
	case "LUXURY":
		return "BMW 5 Series"
	default:
		return "Generic " + class
	}
}

func classMultiplier(class string) float64 {
	switch class {
	case "ECONOMY":
		return 1.0
	case "COMPACT":
		return 1.3
	case "SUV":
		return 1.8
	case "LUXURY":
		return 2.6
	default:
		return 1.5
	}
}

func round2(f float64) float64 {
	return float64(int(f*100+0.5)) / 100
}
