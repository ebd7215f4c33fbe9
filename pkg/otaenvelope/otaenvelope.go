// Package otaenvelope implements OtaEnvelopeBuilder: a pure transformation
// from internal availability and booking records into OTA-shaped response
// envelopes, the uniform outward protocol the wire protocol describes. The only I/O
// is a bounded, once-per-envelope batch lookup of source companyName.
package otaenvelope

import (
	"time"

	"github.com/google/uuid"

	"github.com/hopgate/carbroker/pkg/availability"
	"github.com/hopgate/carbroker/pkg/booking"
)

// LocationDetail describes a pickup/dropoff pair attached to a vendor
// section, taken from the first offer in that section that carries it.
type LocationDetail struct {
	PickupUNLocode  string `json:"pickup_unlocode,omitempty"`
	DropoffUNLocode string `json:"dropoff_unlocode,omitempty"`
}

// VendorOffer is one offer nested under its vendor section.
type VendorOffer struct {
	AgreementRef       string  `json:"agreement_ref"`
	SupplierOfferRef   string  `json:"supplier_offer_ref"`
	VehicleClass       string  `json:"vehicle_class"`
	MakeModel          string  `json:"make_model"`
	Currency           string  `json:"currency"`
	TotalPrice         float64 `json:"total_price"`
	AvailabilityStatus string  `json:"availability_status"`
}

// VendorSection groups every offer from one source under that source's
// identity and the location detail carried by its offers.
type VendorSection struct {
	SourceID    uuid.UUID       `json:"source_id"`
	CompanyName string          `json:"company_name,omitempty"`
	Location    LocationDetail  `json:"location"`
	Offers      []VendorOffer   `json:"offers"`
}

// AvailabilityEnvelope is the OTA-shaped response to an availability search:
// the request criteria echoed back plus a vendor section per reporting
// source.
type AvailabilityEnvelope struct {
	PickupUNLocode   string          `json:"pickup_unlocode"`
	DropoffUNLocode  string          `json:"dropoff_unlocode"`
	PickupISO        time.Time       `json:"pickup_iso"`
	DropoffISO       time.Time       `json:"dropoff_iso"`
	DriverAge        int             `json:"driver_age"`
	ResidencyCountry string          `json:"residency_country"`
	Vendors          []VendorSection `json:"vendors"`
}

// RentalCore is the pickup/dropoff/date core of a reservation envelope.
type RentalCore struct {
	PickupUNLocode  string    `json:"pickup_unlocode"`
	DropoffUNLocode string    `json:"dropoff_unlocode"`
	PickupISO       time.Time `json:"pickup_iso"`
	DropoffISO      time.Time `json:"dropoff_iso"`
}

// Vehicle is the vehicle-class/model detail of a reservation envelope.
type Vehicle struct {
	VehicleClass string `json:"vehicle_class"`
	MakeModel    string `json:"make_model"`
}

// Rate is the rate-plan detail of a reservation envelope.
type Rate struct {
	RatePlan string `json:"rate_plan,omitempty"`
}

// Vendor is the source-identity detail of a reservation envelope.
type Vendor struct {
	SourceID     uuid.UUID `json:"source_id"`
	CompanyName  string    `json:"company_name,omitempty"`
	AgreementRef string    `json:"agreement_ref"`
}

// ReservationEnvelope is the OTA-shaped response to a booking record.
type ReservationEnvelope struct {
	AgentBookingRef    string     `json:"agent_booking_ref,omitempty"`
	SupplierBookingRef string     `json:"supplier_booking_ref"`
	Status             string     `json:"status"`
	Rental             RentalCore `json:"rental"`
	Vehicle            Vehicle    `json:"vehicle"`
	Rate               Rate       `json:"rate"`
	Vendor             Vendor     `json:"vendor"`
}

// BuildAvailabilityEnvelope groups offers by sourceId into vendor sections
// in first-seen order, attaching each section's location detail from the
// first of its offers that carries one. Pure: same (criteria, offers, names)
// input always produces the same output.
func BuildAvailabilityEnvelope(criteria availability.Criteria, offers []availability.Offer, names map[uuid.UUID]string) AvailabilityEnvelope {
	env := AvailabilityEnvelope{
		PickupUNLocode:   criteria.PickupUNLocode,
		DropoffUNLocode:  criteria.DropoffUNLocode,
		PickupISO:        criteria.PickupISO,
		DropoffISO:       criteria.DropoffISO,
		DriverAge:        criteria.DriverAge,
		ResidencyCountry: criteria.ResidencyCountry,
	}

	order := make([]uuid.UUID, 0)
	bySource := make(map[uuid.UUID]*VendorSection)

	for _, o := range offers {
		section, ok := bySource[o.SourceID]
		if !ok {
			section = &VendorSection{SourceID: o.SourceID, CompanyName: names[o.SourceID]}
			bySource[o.SourceID] = section
			order = append(order, o.SourceID)
		}
		if section.Location.PickupUNLocode == "" && section.Location.DropoffUNLocode == "" &&
			(o.PickupUNLocode != "" || o.DropoffUNLocode != "") {
			section.Location = LocationDetail{PickupUNLocode: o.PickupUNLocode, DropoffUNLocode: o.DropoffUNLocode}
		}
		section.Offers = append(section.Offers, VendorOffer{
			AgreementRef:       o.AgreementRef,
			SupplierOfferRef:   o.SupplierOfferRef,
			VehicleClass:       o.VehicleClass,
			MakeModel:          o.MakeModel,
			Currency:           o.Currency,
			TotalPrice:         o.TotalPrice,
			AvailabilityStatus: o.AvailabilityStatus,
		})
	}

	for _, id := range order {
		env.Vendors = append(env.Vendors, *bySource[id])
	}
	return env
}

// BuildReservationEnvelope renders a booking record as a reservation
// envelope. companyName is resolved by the caller via a batch lookup; pass
// "" if unknown.
func BuildReservationEnvelope(b booking.Booking, companyName string) ReservationEnvelope {
	return ReservationEnvelope{
		AgentBookingRef:    b.AgentBookingRef,
		SupplierBookingRef: b.SupplierBookingRef,
		Status:             string(b.Status),
		Rental: RentalCore{
			PickupUNLocode:  b.PickupUNLocode,
			DropoffUNLocode: b.DropoffUNLocode,
			PickupISO:       b.PickupISO,
			DropoffISO:      b.DropoffISO,
		},
		Vehicle: Vehicle{VehicleClass: b.VehicleClass, MakeModel: b.MakeModel},
		Rate:    Rate{RatePlan: b.RatePlan},
		Vendor: Vendor{
			SourceID:     b.SourceID,
			CompanyName:  companyName,
			AgreementRef: b.AgreementRef,
		},
	}
}
