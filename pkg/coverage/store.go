package coverage

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/hopgate/carbroker/internal/db"
)

// Store provides database operations for SourceLocations and agreement
// location overrides.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

// ListSourceLocations returns the UN/LOCODEs a source declares coverage for.
func (s *Store) ListSourceLocations(ctx context.Context, sourceID uuid.UUID) ([]string, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT unlocode FROM source_locations WHERE source_id = $1`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("listing source locations: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, fmt.Errorf("scanning source location: %w", err)
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

// SyncSourceLocations replaces a source's declared coverage with codes,
// inserting new rows and removing rows no longer reported. codes must
// already be filtered to known UN/LOCODEs by the caller.
func (s *Store) SyncSourceLocations(ctx context.Context, sourceID uuid.UUID, codes []string) error {
	if codes == nil {
		// A nil slice is sent as SQL NULL, which would make the prune
		// predicate NULL and keep every stale row.
		codes = []string{}
	}
	if _, err := s.dbtx.Exec(ctx, `
		DELETE FROM source_locations WHERE source_id = $1 AND NOT (unlocode = ANY($2::text[]))`,
		sourceID, codes); err != nil {
		return fmt.Errorf("pruning stale source locations: %w", err)
	}

	for _, code := range codes {
		if _, err := s.dbtx.Exec(ctx, `
			INSERT INTO source_locations (source_id, unlocode) VALUES ($1, $2)
			ON CONFLICT (source_id, unlocode) DO NOTHING`, sourceID, code); err != nil {
			return fmt.Errorf("inserting source location %s: %w", code, err)
		}
	}
	return nil
}

// ListOverrides returns every override configured for an agreement.
func (s *Store) ListOverrides(ctx context.Context, agreementID uuid.UUID) ([]Override, error) {
	rows, err := s.dbtx.Query(ctx, `
		SELECT agreement_id, unlocode, allowed FROM agreement_location_overrides WHERE agreement_id = $1`,
		agreementID)
	if err != nil {
		return nil, fmt.Errorf("listing agreement overrides: %w", err)
	}
	defer rows.Close()

	var out []Override
	for rows.Next() {
		var o Override
		if err := rows.Scan(&o.AgreementID, &o.UNLocode, &o.Allowed); err != nil {
			return nil, fmt.Errorf("scanning override row: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// UpsertOverride sets the allow/deny decision for (agreementID, code).
func (s *Store) UpsertOverride(ctx context.Context, agreementID uuid.UUID, code string, allowed bool) error {
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO agreement_location_overrides (agreement_id, unlocode, allowed)
		VALUES ($1, $2, $3)
		ON CONFLICT (agreement_id, unlocode) DO UPDATE SET allowed = EXCLUDED.allowed`,
		agreementID, code, allowed)
	if err != nil {
		return fmt.Errorf("upserting override: %w", err)
	}
	return nil
}

// RemoveOverride deletes an override, returning coverage for that code to
// the source's base declaration.
func (s *Store) RemoveOverride(ctx context.Context, agreementID uuid.UUID, code string) error {
	_, err := s.dbtx.Exec(ctx, `
		DELETE FROM agreement_location_overrides WHERE agreement_id = $1 AND unlocode = $2`,
		agreementID, code)
	if err != nil {
		return fmt.Errorf("removing override: %w", err)
	}
	return nil
}
