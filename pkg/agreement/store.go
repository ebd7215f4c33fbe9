package agreement

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hopgate/carbroker/internal/db"
)

// Store persists Agreement rows. Status transitions are serialized per row
// via a row lock, the same shape health.Store uses for SourceHealth:
// agreement mutations must be atomic read-check-write.
type Store struct {
	dbtx     db.DBTX
	beginner db.Beginner
}

// NewStore creates an agreement Store.
func NewStore(dbtx db.DBTX, beginner db.Beginner) *Store {
	return &Store{dbtx: dbtx, beginner: beginner}
}

const agreementColumns = `id, agent_id, source_id, agreement_ref, status, valid_from, valid_to, created_at, updated_at`

func scanAgreement(row pgx.Row) (Agreement, error) {
	var a Agreement
	err := row.Scan(&a.ID, &a.AgentID, &a.SourceID, &a.AgreementRef, &a.Status,
		&a.ValidFrom, &a.ValidTo, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return Agreement{}, err
	}
	return a, nil
}

// Get returns an agreement by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Agreement, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1`, id)
	return scanAgreement(row)
}

// GetByRef returns an agreement by its unique (sourceId, agreementRef) pair.
func (s *Store) GetByRef(ctx context.Context, sourceID uuid.UUID, ref string) (Agreement, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements
		WHERE source_id = $1 AND agreement_ref = $2`, sourceID, ref)
	return scanAgreement(row)
}

// Create inserts a new DRAFT agreement. A unique-constraint violation on
// (sourceId, agreementRef) is the caller's responsibility to translate to
// ALREADY_EXISTS.
func (s *Store) Create(ctx context.Context, agentID, sourceID uuid.UUID, ref string) (Agreement, error) {
	now := time.Now()
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO agreements (id, agent_id, source_id, agreement_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING `+agreementColumns,
		uuid.New(), agentID, sourceID, ref, StatusDraft, now)
	return scanAgreement(row)
}

// TransitionTo applies a status transition inside a row-locked transaction,
// re-validating CanTransition against the freshly-read current state so a
// concurrent writer can't race it into an illegal successor. Returns the
// agreement's prior status alongside the updated row so the caller can
// report FAILED_PRECONDITION without a second read.
func (s *Store) TransitionTo(ctx context.Context, id uuid.UUID, to Status) (updated Agreement, prior Status, ok bool, err error) {
	tx, err := s.beginner.Begin(ctx)
	if err != nil {
		return Agreement{}, "", false, fmt.Errorf("beginning agreement transition tx: %w", err)
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx, `SELECT `+agreementColumns+` FROM agreements WHERE id = $1 FOR UPDATE`, id)
	current, err := scanAgreement(row)
	if err != nil {
		return Agreement{}, "", false, err
	}

	if !CanTransition(current.Status, to) {
		return current, current.Status, false, nil
	}

	now := time.Now()
	row = tx.QueryRow(ctx, `
		UPDATE agreements SET status = $2, updated_at = $3 WHERE id = $1
		RETURNING `+agreementColumns, id, to, now)
	updated, err = scanAgreement(row)
	if err != nil {
		return Agreement{}, "", false, fmt.Errorf("updating agreement status: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Agreement{}, "", false, fmt.Errorf("committing agreement transition tx: %w", err)
	}
	return updated, current.Status, true, nil
}

// ListByAgent returns a page of an agent's agreements, optionally filtered by
// status, plus the total matching count for pagination.
func (s *Store) ListByAgent(ctx context.Context, agentID uuid.UUID, status *Status, limit, offset int) ([]Agreement, int, error) {
	return s.list(ctx, "agent_id", agentID, status, limit, offset)
}

// ListBySource returns a page of a source's agreements, optionally filtered
// by status, plus the total matching count for pagination.
func (s *Store) ListBySource(ctx context.Context, sourceID uuid.UUID, status *Status, limit, offset int) ([]Agreement, int, error) {
	return s.list(ctx, "source_id", sourceID, status, limit, offset)
}

func (s *Store) list(ctx context.Context, column string, id uuid.UUID, status *Status, limit, offset int) ([]Agreement, int, error) {
	where := column + ` = $1`
	args := []any{id}
	if status != nil {
		where += ` AND status = $2`
		args = append(args, *status)
	}

	var total int
	if err := s.dbtx.QueryRow(ctx, `SELECT COUNT(*) FROM agreements WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("counting agreements: %w", err)
	}

	query := `SELECT ` + agreementColumns + ` FROM agreements WHERE ` + where + ` ORDER BY created_at ASC`
	args = append(args, limit, offset)
	query += fmt.Sprintf(` LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	rows, err := s.dbtx.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("listing agreements: %w", err)
	}
	defer rows.Close()

	var out []Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scanning agreement row: %w", err)
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// ListActiveForAgent returns every ACTIVE agreement for agentID, optionally
// restricted to a set of agreementRefs. An empty refs slice matches all.
func (s *Store) ListActiveForAgent(ctx context.Context, agentID uuid.UUID, refs []string) ([]Agreement, error) {
	query := `SELECT ` + agreementColumns + ` FROM agreements WHERE agent_id = $1 AND status = $2`
	args := []any{agentID, StatusActive}
	if len(refs) > 0 {
		query += ` AND agreement_ref = ANY($3::text[])`
		args = append(args, refs)
	}

	rows, err := s.dbtx.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing active agreements: %w", err)
	}
	defer rows.Close()

	var out []Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning agreement row: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// IsActiveFor reports whether an ACTIVE agreement exists for
// (agentId, sourceId, agreementRef) — the gating check booking operations
// and fan-out eligibility consult.
func (s *Store) IsActiveFor(ctx context.Context, agentID, sourceID uuid.UUID, ref string) (bool, error) {
	var exists bool
	err := s.dbtx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM agreements
			WHERE agent_id = $1 AND source_id = $2 AND agreement_ref = $3 AND status = $4)`,
		agentID, sourceID, ref, StatusActive).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking agreement activity: %w", err)
	}
	return exists, nil
}
