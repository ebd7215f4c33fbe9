package sourceadapter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hopgate/carbroker/pkg/company"
)

type fakeCompanyLookup struct {
	company company.Company
}

func (f *fakeCompanyLookup) Get(_ context.Context, _ uuid.UUID) (company.Company, error) {
	return f.company, nil
}

type noopAdapter struct{}

func (noopAdapter) Locations(context.Context) ([]string, error)      { return nil, nil }
func (noopAdapter) Availability(context.Context, AvailabilityRequest) ([]Offer, error) {
	return nil, nil
}
func (noopAdapter) BookingCreate(context.Context, BookingPayload) (BookingResult, error) {
	return BookingResult{}, nil
}
func (noopAdapter) BookingModify(context.Context, BookingPayload) (BookingResult, error) {
	return BookingResult{}, nil
}
func (noopAdapter) BookingCancel(context.Context, string, string) (BookingResult, error) {
	return BookingResult{}, nil
}
func (noopAdapter) BookingCheck(context.Context, string, string) (BookingResult, error) {
	return BookingResult{}, nil
}

func TestAdapterRegistryCaches(t *testing.T) {
	sourceID := uuid.New()
	lookup := &fakeCompanyLookup{company: company.Company{
		ID:       sourceID,
		Type:     company.TypeSource,
		Status:   company.StatusActive,
		Endpoint: &company.Endpoint{Transport: company.TransportMock},
	}}

	reg := NewAdapterRegistry(lookup)

	var constructions int64
	reg.RegisterFactory(company.TransportMock, func(company.Endpoint) (SourceAdapter, error) {
		atomic.AddInt64(&constructions, 1)
		return noopAdapter{}, nil
	})

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := reg.Get(ctx, sourceID); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}

	if got := atomic.LoadInt64(&constructions); got != 1 {
		t.Errorf("expected exactly one construction, got %d", got)
	}
}

func TestAdapterRegistrySingleFlightsConcurrentConstruction(t *testing.T) {
	sourceID := uuid.New()
	lookup := &fakeCompanyLookup{company: company.Company{
		ID:       sourceID,
		Type:     company.TypeSource,
		Status:   company.StatusActive,
		Endpoint: &company.Endpoint{Transport: company.TransportMock},
	}}

	reg := NewAdapterRegistry(lookup)

	var constructions int64
	reg.RegisterFactory(company.TransportMock, func(company.Endpoint) (SourceAdapter, error) {
		atomic.AddInt64(&constructions, 1)
		time.Sleep(20 * time.Millisecond)
		return noopAdapter{}, nil
	})

	ctx := context.Background()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Get(ctx, sourceID); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := atomic.LoadInt64(&constructions); got != 1 {
		t.Errorf("expected at most one construction in flight, got %d", got)
	}
}

func TestAdapterRegistryInvalidate(t *testing.T) {
	sourceID := uuid.New()
	lookup := &fakeCompanyLookup{company: company.Company{
		ID:       sourceID,
		Type:     company.TypeSource,
		Status:   company.StatusActive,
		Endpoint: &company.Endpoint{Transport: company.TransportMock},
	}}

	reg := NewAdapterRegistry(lookup)

	var constructions int64
	reg.RegisterFactory(company.TransportMock, func(company.Endpoint) (SourceAdapter, error) {
		atomic.AddInt64(&constructions, 1)
		return noopAdapter{}, nil
	})

	ctx := context.Background()
	if _, err := reg.Get(ctx, sourceID); err != nil {
		t.Fatalf("Get: %v", err)
	}
	reg.Invalidate(sourceID)
	if _, err := reg.Get(ctx, sourceID); err != nil {
		t.Fatalf("Get: %v", err)
	}

	if got := atomic.LoadInt64(&constructions); got != 2 {
		t.Errorf("expected reconstruction after Invalidate, got %d constructions", got)
	}
}
