package booking

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hopgate/carbroker/pkg/brokererr"
	"github.com/hopgate/carbroker/pkg/sourceadapter"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDiffOnlyReportsChangedFields(t *testing.T) {
	before := Booking{
		Status:         StatusRequested,
		PickupUNLocode: "GBMAN",
		VehicleClass:   "ECAR",
	}
	after := before
	after.Status = StatusConfirmed
	after.VehicleClass = "ECAR"

	changes := Diff(before, after)
	if len(changes) != 1 {
		t.Fatalf("expected exactly 1 changed field, got %d: %+v", len(changes), changes)
	}
	fc, ok := changes["status"]
	if !ok {
		t.Fatalf("expected a status change entry, got %+v", changes)
	}
	if fc.Before != StatusRequested || fc.After != StatusConfirmed {
		t.Errorf("unexpected status change values: %+v", fc)
	}
}

func TestDiffNoChangesIsEmpty(t *testing.T) {
	b := Booking{Status: StatusConfirmed, PickupUNLocode: "GBMAN"}
	changes := Diff(b, b)
	if len(changes) != 0 {
		t.Errorf("expected no changes for identical before/after, got %+v", changes)
	}
}

func TestMapAdapterErr(t *testing.T) {
	cases := []struct {
		name string
		in   error
		want brokererr.Code
	}{
		{"transport maps to unavailable", &sourceadapter.AdapterError{Kind: sourceadapter.ErrTransport}, brokererr.Unavailable},
		{"remote validation maps to invalid argument", &sourceadapter.AdapterError{Kind: sourceadapter.ErrRemoteValidation}, brokererr.InvalidArgument},
		{"remote server maps to unavailable", &sourceadapter.AdapterError{Kind: sourceadapter.ErrRemoteServer}, brokererr.Unavailable},
		{"unclassified error maps to internal", context.DeadlineExceeded, brokererr.Internal},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mapAdapterErr(tc.in)
			berr, ok := brokererr.As(got)
			if !ok {
				t.Fatalf("expected *brokererr.Error, got %T", got)
			}
			if berr.Code != tc.want {
				t.Errorf("got code %s, want %s", berr.Code, tc.want)
			}
		})
	}
}

func TestOrDefault(t *testing.T) {
	if got := orDefault("", "fallback"); got != "fallback" {
		t.Errorf("expected fallback for empty string, got %q", got)
	}
	if got := orDefault("explicit", "fallback"); got != "explicit" {
		t.Errorf("expected explicit value to win, got %q", got)
	}
}

func TestOrDefaultTime(t *testing.T) {
	fallback := time.Date(2025, 11, 1, 10, 0, 0, 0, time.UTC)
	if got := orDefaultTime(time.Time{}, fallback); !got.Equal(fallback) {
		t.Errorf("expected fallback for zero time, got %v", got)
	}
	explicit := time.Date(2025, 12, 1, 10, 0, 0, 0, time.UTC)
	if got := orDefaultTime(explicit, fallback); !got.Equal(explicit) {
		t.Errorf("expected explicit time to win, got %v", got)
	}
}

// TestCreateRejectsMissingRequiredFields exercises Create's invalid-argument
// short-circuit, which returns before touching the store, agreement checker,
// or adapter — all left nil here.
func TestCreateRejectsMissingRequiredFields(t *testing.T) {
	c := NewCore(nil, nil, nil, nil, nil, discardLogger(), nil, nil)

	cases := []struct {
		name string
		in   CreateInput
	}{
		{"missing source_id", CreateInput{IdempotencyKey: "K1"}},
		{"missing idempotency_key", CreateInput{SourceID: uuid.New()}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := c.Create(context.Background(), tc.in)
			if err == nil {
				t.Fatal("expected an error")
			}
			berr, ok := brokererr.As(err)
			if !ok || berr.Code != brokererr.InvalidArgument {
				t.Errorf("expected INVALID_ARGUMENT, got %v", err)
			}
		})
	}
}

// fakeBookingStore simulates the idempotency_keys unique index
// (agent_id, scope, key): the first CreateIdempotent call for a given key
// commits, every later one gets a unique-violation error, mirroring what the
// real Postgres constraint does under concurrent transactions.
type fakeBookingStore struct {
	mu    sync.Mutex
	byKey map[string]Booking
}

func newFakeBookingStore() *fakeBookingStore {
	return &fakeBookingStore{byKey: make(map[string]Booking)}
}

func idempotencyKeyOf(agentID uuid.UUID, scope, key string) string {
	return agentID.String() + "|" + scope + "|" + key
}

func (f *fakeBookingStore) GetByIdempotencyKey(_ context.Context, agentID uuid.UUID, scope, key string) (Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.byKey[idempotencyKeyOf(agentID, scope, key)]
	if !ok {
		return Booking{}, pgx.ErrNoRows
	}
	return b, nil
}

func (f *fakeBookingStore) GetBySupplierRef(context.Context, string, uuid.UUID) (Booking, error) {
	return Booking{}, pgx.ErrNoRows
}

func (f *fakeBookingStore) CreateIdempotent(_ context.Context, b Booking, scope string) (Booking, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := idempotencyKeyOf(b.AgentID, scope, b.IdempotencyKey)
	if _, exists := f.byKey[k]; exists {
		return Booking{}, fmt.Errorf("inserting idempotency key: %w", &pgconn.PgError{Code: uniqueViolation})
	}
	f.byKey[k] = b
	return b, nil
}

func (f *fakeBookingStore) ApplyUpdate(context.Context, Booking) error { return nil }

type alwaysActiveAgreements struct{}

func (alwaysActiveAgreements) IsActive(context.Context, uuid.UUID, uuid.UUID, string) (bool, error) {
	return true, nil
}

type noopHealthRecorder struct{}

func (noopHealthRecorder) RecordMetric(context.Context, uuid.UUID, int, bool) error { return nil }

// raceAdapterResolver always resolves to a single raceAdapter, shared across
// every concurrent Create call in the test.
type raceAdapterResolver struct {
	adapter *raceAdapter
}

func (r raceAdapterResolver) Get(context.Context, uuid.UUID) (sourceadapter.SourceAdapter, error) {
	return r.adapter, nil
}

// raceAdapter's BookingCreate waits for start to close before returning, so
// every concurrent caller's adapter call is genuinely in flight at once, and
// hands out a distinct supplier ref per call so a bug that let two calls
// "win" would be caught by differing refs.
type raceAdapter struct {
	sourceadapter.SourceAdapter
	start <-chan struct{}
	mu    sync.Mutex
	calls int32
}

func (a *raceAdapter) BookingCreate(ctx context.Context, _ sourceadapter.BookingPayload) (sourceadapter.BookingResult, error) {
	<-a.start
	a.mu.Lock()
	a.calls++
	n := a.calls
	a.mu.Unlock()
	return sourceadapter.BookingResult{
		SupplierBookingRef: fmt.Sprintf("SBR-%d", n),
		Status:             "CONFIRMED",
	}, nil
}

// TestCreateConcurrentSameIdempotencyKeyConverges exercises two concurrent
// Create calls sharing an idempotency key. Both invoke the adapter (Create's
// pre-check can't observe an in-flight sibling), but the store's unique
// index on (agent_id, scope, key) admits only one commit; the loser must
// replay the winner's booking rather than surface the insert conflict.
func TestCreateConcurrentSameIdempotencyKeyConverges(t *testing.T) {
	start := make(chan struct{})
	adapter := &raceAdapter{start: start}
	history := NewHistoryWriter(nil, discardLogger())
	c := NewCore(newFakeBookingStore(), history, alwaysActiveAgreements{}, raceAdapterResolver{adapter: adapter}, noopHealthRecorder{}, discardLogger(), nil, nil)

	agentID := uuid.New()
	sourceID := uuid.New()
	in := CreateInput{
		AgentID:        agentID,
		SourceID:       sourceID,
		AgreementRef:   "REF-1",
		IdempotencyKey: "same-key",
	}

	const callers = 2
	results := make([]Booking, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = c.Create(context.Background(), in)
		}(i)
	}

	// Give both goroutines time to reach the adapter call before releasing
	// them together, so CreateIdempotent's inserts race.
	time.Sleep(20 * time.Millisecond)
	close(start)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: unexpected error: %v", i, err)
		}
	}
	if results[0].SupplierBookingRef != results[1].SupplierBookingRef {
		t.Errorf("expected both callers to converge on the same booking, got %q and %q",
			results[0].SupplierBookingRef, results[1].SupplierBookingRef)
	}
	if results[0].Status != results[1].Status {
		t.Errorf("expected both callers to see the same status, got %q and %q",
			results[0].Status, results[1].Status)
	}
}
