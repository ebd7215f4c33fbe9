package booking

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hopgate/carbroker/internal/db"
)

// Store persists Booking rows and the IdempotencyKey index over them.
type Store struct {
	dbtx db.DBTX
	pool *pgxpool.Pool
}

// NewStore creates a booking Store. pool is used to open the transaction
// CreateIdempotent needs for its commit-or-replay semantics.
func NewStore(dbtx db.DBTX, pool *pgxpool.Pool) *Store {
	return &Store{dbtx: dbtx, pool: pool}
}

const bookingColumns = `id, agent_id, source_id, agreement_ref, supplier_booking_ref, agent_booking_ref,
	idempotency_key, status, pickup_unlocode, dropoff_unlocode, pickup_iso, dropoff_iso,
	vehicle_class, make_model, rate_plan, driver_age, residency, customer_info, payment_info,
	payload_snapshot, created_at, updated_at`

func scanBooking(row pgx.Row) (Booking, error) {
	var b Booking
	var customerInfo, paymentInfo []byte
	err := row.Scan(&b.ID, &b.AgentID, &b.SourceID, &b.AgreementRef, &b.SupplierBookingRef, &b.AgentBookingRef,
		&b.IdempotencyKey, &b.Status, &b.PickupUNLocode, &b.DropoffUNLocode, &b.PickupISO, &b.DropoffISO,
		&b.VehicleClass, &b.MakeModel, &b.RatePlan, &b.DriverAge, &b.Residency, &customerInfo, &paymentInfo,
		&b.PayloadSnapshot, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return Booking{}, err
	}
	if len(customerInfo) > 0 {
		_ = json.Unmarshal(customerInfo, &b.CustomerInfo)
	}
	if len(paymentInfo) > 0 {
		_ = json.Unmarshal(paymentInfo, &b.PaymentInfo)
	}
	return b, nil
}

// GetByID returns a booking by its internal ID.
func (s *Store) GetByID(ctx context.Context, id uuid.UUID) (Booking, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

// GetBySupplierRef locates a booking by (supplierBookingRef, sourceId). A
// caller-supplied agreementRef is never used to narrow this lookup — per the
// "dual booking schemas" design note, it is validated against the stored
// value by the caller instead, so a mismatch can be reported as
// INVALID_ARGUMENT rather than NOT_FOUND.
func (s *Store) GetBySupplierRef(ctx context.Context, supplierBookingRef string, sourceID uuid.UUID) (Booking, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings
		WHERE supplier_booking_ref = $1 AND source_id = $2`, supplierBookingRef, sourceID)
	return scanBooking(row)
}

// GetByIdempotencyKey resolves a prior commit for (agentID, scope, key), if
// any, returning the booking it points to.
func (s *Store) GetByIdempotencyKey(ctx context.Context, agentID uuid.UUID, scope, key string) (Booking, error) {
	var bookingID uuid.UUID
	err := s.dbtx.QueryRow(ctx, `
		SELECT booking_id FROM idempotency_keys WHERE agent_id = $1 AND scope = $2 AND key = $3`,
		agentID, scope, key).Scan(&bookingID)
	if err != nil {
		return Booking{}, err
	}
	return s.GetByID(ctx, bookingID)
}

// CreateIdempotent inserts a new booking and its idempotency key row in one
// transaction. The unique index on (agent_id, scope, key) is what makes
// concurrent Creates with the same key converge on exactly one commit: a
// losing transaction's insert violates the unique constraint and rolls back,
// and the caller is expected to re-read via GetByIdempotencyKey.
func (s *Store) CreateIdempotent(ctx context.Context, b Booking, scope string) (Booking, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Booking{}, fmt.Errorf("beginning booking create tx: %w", err)
	}
	defer tx.Rollback(ctx)

	customerInfo, _ := json.Marshal(b.CustomerInfo)
	paymentInfo, _ := json.Marshal(b.PaymentInfo)
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now

	row := tx.QueryRow(ctx, `
		INSERT INTO bookings (id, agent_id, source_id, agreement_ref, supplier_booking_ref, agent_booking_ref,
			idempotency_key, status, pickup_unlocode, dropoff_unlocode, pickup_iso, dropoff_iso,
			vehicle_class, make_model, rate_plan, driver_age, residency, customer_info, payment_info,
			payload_snapshot, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22)
		RETURNING `+bookingColumns,
		b.ID, b.AgentID, b.SourceID, b.AgreementRef, b.SupplierBookingRef, b.AgentBookingRef,
		b.IdempotencyKey, b.Status, b.PickupUNLocode, b.DropoffUNLocode, b.PickupISO, b.DropoffISO,
		b.VehicleClass, b.MakeModel, b.RatePlan, b.DriverAge, b.Residency, customerInfo, paymentInfo,
		b.PayloadSnapshot, b.CreatedAt, b.UpdatedAt)
	created, err := scanBooking(row)
	if err != nil {
		return Booking{}, fmt.Errorf("inserting booking: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO idempotency_keys (agent_id, scope, key, booking_id)
		VALUES ($1, $2, $3, $4)`, b.AgentID, scope, b.IdempotencyKey, created.ID); err != nil {
		return Booking{}, fmt.Errorf("inserting idempotency key: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Booking{}, fmt.Errorf("committing booking create tx: %w", err)
	}
	return created, nil
}

// ApplyUpdate persists a booking's mutated fields after a Modify/Cancel/
// Check/StatusChange operation.
func (s *Store) ApplyUpdate(ctx context.Context, b Booking) error {
	customerInfo, _ := json.Marshal(b.CustomerInfo)
	paymentInfo, _ := json.Marshal(b.PaymentInfo)
	b.UpdatedAt = time.Now()

	_, err := s.dbtx.Exec(ctx, `
		UPDATE bookings SET
			status = $2, pickup_unlocode = $3, dropoff_unlocode = $4, pickup_iso = $5, dropoff_iso = $6,
			vehicle_class = $7, make_model = $8, rate_plan = $9, driver_age = $10, residency = $11,
			customer_info = $12, payment_info = $13, payload_snapshot = $14, updated_at = $15,
			agent_booking_ref = $16
		WHERE id = $1`,
		b.ID, b.Status, b.PickupUNLocode, b.DropoffUNLocode, b.PickupISO, b.DropoffISO,
		b.VehicleClass, b.MakeModel, b.RatePlan, b.DriverAge, b.Residency,
		customerInfo, paymentInfo, b.PayloadSnapshot, b.UpdatedAt, b.AgentBookingRef)
	if err != nil {
		return fmt.Errorf("updating booking: %w", err)
	}
	return nil
}

var ErrNotFound = pgx.ErrNoRows
