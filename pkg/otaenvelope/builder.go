package otaenvelope

import (
	"context"

	"github.com/google/uuid"

	"github.com/hopgate/carbroker/pkg/availability"
	"github.com/hopgate/carbroker/pkg/booking"
	"github.com/hopgate/carbroker/pkg/company"
)

// CompanyLookup resolves companies in a single batch. Implemented by
// company.Store.GetMany.
type CompanyLookup interface {
	GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]company.Company, error)
}

// Builder is the only I/O-capable entry point into this package: it
// batch-resolves source company names once per envelope, then delegates to
// the pure Build* functions.
type Builder struct {
	companies CompanyLookup
}

// NewBuilder creates a Builder.
func NewBuilder(companies CompanyLookup) *Builder {
	return &Builder{companies: companies}
}

// Availability builds an AvailabilityEnvelope for one Submit/Poll result
// set, resolving every distinct sourceId's companyName in a single batch
// call.
func (b *Builder) Availability(ctx context.Context, criteria availability.Criteria, offers []availability.Offer) (AvailabilityEnvelope, error) {
	names, err := b.lookupNames(ctx, sourceIDsOf(offers))
	if err != nil {
		return AvailabilityEnvelope{}, err
	}
	return BuildAvailabilityEnvelope(criteria, offers, names), nil
}

// Reservation builds a ReservationEnvelope for a single booking record.
func (b *Builder) Reservation(ctx context.Context, bk booking.Booking) (ReservationEnvelope, error) {
	names, err := b.lookupNames(ctx, []uuid.UUID{bk.SourceID})
	if err != nil {
		return ReservationEnvelope{}, err
	}
	return BuildReservationEnvelope(bk, names[bk.SourceID]), nil
}

// lookupNames batch-fetches companies once and reduces them to a
// sourceId → companyName map, the only shape the pure builders need.
func (b *Builder) lookupNames(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]string, error) {
	companies, err := b.companies.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	names := make(map[uuid.UUID]string, len(companies))
	for id, c := range companies {
		names[id] = c.Name
	}
	return names, nil
}

func sourceIDsOf(offers []availability.Offer) []uuid.UUID {
	seen := make(map[uuid.UUID]bool)
	var ids []uuid.UUID
	for _, o := range offers {
		if !seen[o.SourceID] {
			seen[o.SourceID] = true
			ids = append(ids, o.SourceID)
		}
	}
	return ids
}
