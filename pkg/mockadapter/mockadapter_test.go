package mockadapter

import (
	"context"
	"testing"
	"time"

	"github.com/hopgate/carbroker/pkg/sourceadapter"
)

func TestAvailabilityReturnsOfferPerClass(t *testing.T) {
	a := New(DefaultConfig())

	offers, err := a.Availability(context.Background(), sourceadapter.AvailabilityRequest{
		PickupUNLocode:  "GBMAN",
		DropoffUNLocode: "GBMAN",
		PickupISO:       time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		DropoffISO:      time.Date(2026, 8, 4, 10, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if len(offers) != len(DefaultConfig().VehicleClasses) {
		t.Fatalf("expected %d offers, got %d", len(DefaultConfig().VehicleClasses), len(offers))
	}
	for _, o := range offers {
		if o.TotalPrice <= 0 {
			t.Errorf("offer %s has non-positive price %v", o.SupplierOfferRef, o.TotalPrice)
		}
	}
}

func TestAvailabilityFiltersRequestedClasses(t *testing.T) {
	a := New(DefaultConfig())

	offers, err := a.Availability(context.Background(), sourceadapter.AvailabilityRequest{
		PickupISO:      time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC),
		DropoffISO:     time.Date(2026, 8, 2, 10, 0, 0, 0, time.UTC),
		VehicleClasses: []string{"SUV"},
	})
	if err != nil {
		t.Fatalf("Availability: %v", err)
	}
	if len(offers) != 1 || offers[0].VehicleClass != "SUV" {
		t.Fatalf("expected exactly one SUV offer, got %v", offers)
	}
}

func TestAvailabilitySimulatesFailure(t *testing.T) {
	a := New(Config{
		Locations:       []string{"GBMAN"},
		VehicleClasses:  []string{"ECONOMY"},
		BaseDailyRate:   10,
		Currency:        "GBP",
		FailEveryNCalls: 2,
	})

	req := sourceadapter.AvailabilityRequest{
		PickupISO:  time.Now(),
		DropoffISO: time.Now().Add(24 * time.Hour),
	}

	if _, err := a.Availability(context.Background(), req); err != nil {
		t.Fatalf("first call should succeed: %v", err)
	}
	if _, err := a.Availability(context.Background(), req); err == nil {
		t.Fatal("second call should simulate failure")
	}
}

func TestBookingLifecycle(t *testing.T) {
	a := New(DefaultConfig())
	ctx := context.Background()

	created, err := a.BookingCreate(ctx, sourceadapter.BookingPayload{
		AgreementRef:     "agr-1",
		SupplierOfferRef: "mock-offer-1",
		IdempotencyKey:   "idem-1",
	})
	if err != nil {
		t.Fatalf("BookingCreate: %v", err)
	}
	if created.Status != "CONFIRMED" {
		t.Errorf("expected CONFIRMED, got %s", created.Status)
	}

	again, err := a.BookingCreate(ctx, sourceadapter.BookingPayload{
		AgreementRef:     "agr-1",
		SupplierOfferRef: "mock-offer-1",
		IdempotencyKey:   "idem-1",
	})
	if err != nil {
		t.Fatalf("BookingCreate retry: %v", err)
	}
	if again.SupplierBookingRef != created.SupplierBookingRef {
		t.Errorf("expected idempotent retry to return the same booking ref, got %s vs %s", again.SupplierBookingRef, created.SupplierBookingRef)
	}

	modified, err := a.BookingModify(ctx, sourceadapter.BookingPayload{
		AgreementRef:       "agr-1",
		SupplierBookingRef: created.SupplierBookingRef,
	})
	if err != nil {
		t.Fatalf("BookingModify: %v", err)
	}
	if modified.Status != "CONFIRMED" {
		t.Errorf("expected modify to re-confirm, got %s", modified.Status)
	}

	checked, err := a.BookingCheck(ctx, created.SupplierBookingRef, "agr-1")
	if err != nil {
		t.Fatalf("BookingCheck: %v", err)
	}
	if checked.Status != "CONFIRMED" {
		t.Errorf("expected check to reflect last status CONFIRMED, got %s", checked.Status)
	}

	cancelled, err := a.BookingCancel(ctx, created.SupplierBookingRef, "agr-1")
	if err != nil {
		t.Fatalf("BookingCancel: %v", err)
	}
	if cancelled.Status != "CANCELLED" {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}
}

func TestBookingModifyUnknownRefFails(t *testing.T) {
	a := New(DefaultConfig())
	_, err := a.BookingModify(context.Background(), sourceadapter.BookingPayload{SupplierBookingRef: "does-not-exist"})
	if err == nil {
		t.Fatal("expected error for unknown booking ref")
	}
}
