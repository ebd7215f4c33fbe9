package otaenvelope

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hopgate/carbroker/pkg/availability"
	"github.com/hopgate/carbroker/pkg/booking"
)

func TestBuildAvailabilityEnvelopeGroupsBySource(t *testing.T) {
	s1, s2 := uuid.New(), uuid.New()
	criteria := availability.Criteria{
		PickupUNLocode:  "GBMAN",
		DropoffUNLocode: "GBGLA",
		PickupISO:       time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC),
		DropoffISO:      time.Date(2025, 11, 3, 10, 0, 0, 0, time.UTC),
		DriverAge:       30,
	}
	offers := []availability.Offer{
		{SourceID: s1, AgreementRef: "REF-1", SupplierOfferRef: "A1", PickupUNLocode: "GBMAN", DropoffUNLocode: "GBGLA", VehicleClass: "ECAR", TotalPrice: 100},
		{SourceID: s2, AgreementRef: "REF-2", SupplierOfferRef: "B1", VehicleClass: "SCAR", TotalPrice: 150},
		{SourceID: s1, AgreementRef: "REF-1", SupplierOfferRef: "A2", VehicleClass: "FCAR", TotalPrice: 200},
	}
	names := map[uuid.UUID]string{s1: "Acme Rentals", s2: "Beta Cars"}

	env := BuildAvailabilityEnvelope(criteria, offers, names)

	if env.PickupUNLocode != "GBMAN" || env.DropoffUNLocode != "GBGLA" {
		t.Errorf("expected criteria echoed back, got %+v", env)
	}
	if len(env.Vendors) != 2 {
		t.Fatalf("expected 2 vendor sections, got %d", len(env.Vendors))
	}

	first := env.Vendors[0]
	if first.SourceID != s1 {
		t.Errorf("expected first vendor section to be first-seen source %s, got %s", s1, first.SourceID)
	}
	if first.CompanyName != "Acme Rentals" {
		t.Errorf("expected company name to be resolved, got %q", first.CompanyName)
	}
	if len(first.Offers) != 2 {
		t.Errorf("expected 2 offers grouped under first source, got %d", len(first.Offers))
	}
	if first.Location.PickupUNLocode != "GBMAN" {
		t.Errorf("expected location detail from first offer carrying it, got %+v", first.Location)
	}

	second := env.Vendors[1]
	if second.SourceID != s2 {
		t.Errorf("expected second vendor section to be source %s, got %s", s2, second.SourceID)
	}
	if second.Location != (LocationDetail{}) {
		t.Errorf("expected empty location detail when no offer carries one, got %+v", second.Location)
	}
}

func TestBuildAvailabilityEnvelopeIsPure(t *testing.T) {
	s1 := uuid.New()
	criteria := availability.Criteria{PickupUNLocode: "GBMAN", DriverAge: 25}
	offers := []availability.Offer{
		{SourceID: s1, SupplierOfferRef: "A1", VehicleClass: "ECAR", TotalPrice: 99.5},
	}
	names := map[uuid.UUID]string{s1: "Acme Rentals"}

	a := BuildAvailabilityEnvelope(criteria, offers, names)
	b := BuildAvailabilityEnvelope(criteria, offers, names)

	if len(a.Vendors) != len(b.Vendors) || a.Vendors[0].CompanyName != b.Vendors[0].CompanyName {
		t.Fatal("expected identical output for identical input")
	}
}

func TestBuildAvailabilityEnvelopeEmptyOffers(t *testing.T) {
	env := BuildAvailabilityEnvelope(availability.Criteria{PickupUNLocode: "GBMAN"}, nil, nil)
	if len(env.Vendors) != 0 {
		t.Errorf("expected no vendor sections for empty offers, got %d", len(env.Vendors))
	}
}

func TestBuildReservationEnvelope(t *testing.T) {
	sourceID := uuid.New()
	b := booking.Booking{
		SourceID:           sourceID,
		AgreementRef:       "REF-1",
		SupplierBookingRef: "SUP-1",
		AgentBookingRef:    "AGT-1",
		Status:             booking.StatusConfirmed,
		PickupUNLocode:     "GBMAN",
		DropoffUNLocode:    "GBGLA",
		VehicleClass:       "ECAR",
		MakeModel:          "Ford Focus",
		RatePlan:           "STANDARD",
	}

	env := BuildReservationEnvelope(b, "Acme Rentals")

	if env.Status != "CONFIRMED" {
		t.Errorf("expected status CONFIRMED, got %s", env.Status)
	}
	if env.Vendor.CompanyName != "Acme Rentals" {
		t.Errorf("expected company name to be attached, got %q", env.Vendor.CompanyName)
	}
	if env.Vendor.SourceID != sourceID {
		t.Errorf("expected vendor source id to match booking, got %s", env.Vendor.SourceID)
	}
	if env.Rental.PickupUNLocode != "GBMAN" || env.Rental.DropoffUNLocode != "GBGLA" {
		t.Errorf("expected rental core to carry pickup/dropoff, got %+v", env.Rental)
	}
	if env.Vehicle.VehicleClass != "ECAR" || env.Vehicle.MakeModel != "Ford Focus" {
		t.Errorf("expected vehicle detail to be carried, got %+v", env.Vehicle)
	}
}
