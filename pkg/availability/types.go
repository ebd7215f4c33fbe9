// Package availability implements the availability fan-out: a job is
// created synchronously per Submit, dispatched to eligible sources in the
// background, and polled long-poll style until every eligible source has
// settled or its TTL elapses.
package availability

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is an AvailabilityJob's lifecycle state.
type JobStatus string

const (
	JobRunning  JobStatus = "RUNNING"
	JobComplete JobStatus = "COMPLETE"
)

// ResultErrorKind classifies a synthetic marker written in place of an
// offer when a source call didn't produce one.
type ResultErrorKind string

const (
	ErrorTimeout     ResultErrorKind = "TIMEOUT"
	ErrorSourceError ResultErrorKind = "SOURCE_ERROR"
	ErrorNoResult    ResultErrorKind = "NO_RESULT"
)

// Criteria is the normalized search criteria for a Submit. Callers may send
// snake_case or camelCase JSON; decoding normalizes both into this shape
// (see Normalize).
type Criteria struct {
	PickupUNLocode   string    `json:"pickup_unlocode"`
	DropoffUNLocode  string    `json:"dropoff_unlocode"`
	PickupISO        time.Time `json:"pickup_iso"`
	DropoffISO       time.Time `json:"dropoff_iso"`
	DriverAge        int       `json:"driver_age"`
	ResidencyCountry string    `json:"residency_country"`
	VehicleClasses   []string  `json:"vehicle_classes,omitempty"`
	AgreementRefs    []string  `json:"agreement_refs,omitempty"`
}

// Job is one Submit's bookkeeping row.
type Job struct {
	ID              uuid.UUID
	AgentID         uuid.UUID
	Criteria        Criteria
	ExpectedSources int
	Status          JobStatus
	CreatedAt       time.Time
}

// Offer mirrors sourceadapter.Offer plus the source it came from, persisted
// as the payload of a successful AvailabilityResult.
type Offer struct {
	SourceID           uuid.UUID `json:"source_id"`
	AgreementRef       string    `json:"agreement_ref"`
	SupplierOfferRef   string    `json:"supplier_offer_ref"`
	PickupUNLocode     string    `json:"pickup_unlocode,omitempty"`
	DropoffUNLocode    string    `json:"dropoff_unlocode,omitempty"`
	VehicleClass       string    `json:"vehicle_class"`
	MakeModel          string    `json:"make_model"`
	Currency           string    `json:"currency"`
	TotalPrice         float64   `json:"total_price"`
	AvailabilityStatus string    `json:"availability_status"`
}

// ResultMarker is the synthetic payload written when a source produced no
// usable offer.
type ResultMarker struct {
	Error    ResultErrorKind `json:"error"`
	Message  string          `json:"message,omitempty"`
	SourceID uuid.UUID       `json:"source_id"`
}

// Result is one row of an AvailabilityJob's results: either an Offer or a
// ResultMarker, never both.
type Result struct {
	JobID    uuid.UUID
	Seq      int64
	SourceID uuid.UUID
	Offer    *Offer
	Marker   *ResultMarker
}

// IsMarker reports whether this result is a synthetic marker rather than a
// real offer.
func (r Result) IsMarker() bool { return r.Marker != nil }

// JobSinceResult is the long-poll response shape for GetJobSince.
type JobSinceResult struct {
	Status            JobStatus   `json:"status"`
	NewItems          []Result    `json:"new_items"`
	LastSeq           int64       `json:"last_seq"`
	ResponsesReceived int         `json:"responses_received"`
	TotalExpected     int         `json:"total_expected"`
	TimedOutSources   []uuid.UUID `json:"timed_out_sources"`
	AggregateETag     string      `json:"aggregate_etag"`
}

// Normalize accepts criteria built from a loosely-typed map (snake_case or
// camelCase keys) and returns the canonical Criteria, coercing a singleton
// agreement_ref string into a one-element slice.
func Normalize(raw map[string]any) Criteria {
	c := Criteria{}
	c.PickupUNLocode = stringField(raw, "pickup_unlocode", "pickupUnlocode")
	c.DropoffUNLocode = stringField(raw, "dropoff_unlocode", "dropoffUnlocode")
	c.PickupISO = timeField(raw, "pickup_iso", "pickupIso")
	c.DropoffISO = timeField(raw, "dropoff_iso", "dropoffIso")
	c.DriverAge = intField(raw, "driver_age", "driverAge")
	c.ResidencyCountry = stringField(raw, "residency_country", "residencyCountry")
	c.VehicleClasses = stringSliceField(raw, "vehicle_classes", "vehicleClasses")
	c.AgreementRefs = agreementRefsField(raw)
	return c
}

func stringField(raw map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok {
			return v
		}
	}
	return ""
}

func intField(raw map[string]any, keys ...string) int {
	for _, k := range keys {
		switch v := raw[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		}
	}
	return 0
}

func timeField(raw map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		if v, ok := raw[k].(string); ok {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				return t
			}
		}
	}
	return time.Time{}
}

func stringSliceField(raw map[string]any, keys ...string) []string {
	for _, k := range keys {
		if v, ok := raw[k].([]any); ok {
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return nil
}

// agreementRefsField handles the "agreement_refs"/"agreementRefs" keys,
// coercing a bare string into a single-element slice.
func agreementRefsField(raw map[string]any) []string {
	for _, k := range []string{"agreement_refs", "agreementRefs"} {
		switch v := raw[k].(type) {
		case string:
			if v != "" {
				return []string{v}
			}
		case []any:
			out := make([]string, 0, len(v))
			for _, item := range v {
				if s, ok := item.(string); ok {
					out = append(out, s)
				}
			}
			return out
		}
	}
	return nil
}
