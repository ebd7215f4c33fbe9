package unlocode

import (
	"context"
	"fmt"

	"github.com/hopgate/carbroker/internal/db"
)

// Store provides read/seed access to the UN/LOCODE dictionary.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const unlocodeColumns = `code, country, place, iata_code, lat, lon`

// List returns the full dictionary.
func (s *Store) List(ctx context.Context) ([]UNLocode, error) {
	rows, err := s.dbtx.Query(ctx, `SELECT `+unlocodeColumns+` FROM unlocodes ORDER BY code`)
	if err != nil {
		return nil, fmt.Errorf("listing unlocodes: %w", err)
	}
	defer rows.Close()

	var out []UNLocode
	for rows.Next() {
		var u UNLocode
		var iata *string
		if err := rows.Scan(&u.Code, &u.Country, &u.Place, &iata, &u.Lat, &u.Lon); err != nil {
			return nil, fmt.Errorf("scanning unlocode row: %w", err)
		}
		if iata != nil {
			u.IATACode = *iata
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// Exists reports whether code is a known UN/LOCODE.
func (s *Store) Exists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := s.dbtx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM unlocodes WHERE code = $1)`, code).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking unlocode existence: %w", err)
	}
	return exists, nil
}

// Upsert inserts or updates a single UN/LOCODE row. Used by the seed step.
func (s *Store) Upsert(ctx context.Context, u UNLocode) error {
	_, err := s.dbtx.Exec(ctx, `
		INSERT INTO unlocodes (code, country, place, iata_code, lat, lon)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (code) DO UPDATE SET
			country = EXCLUDED.country, place = EXCLUDED.place,
			iata_code = EXCLUDED.iata_code, lat = EXCLUDED.lat, lon = EXCLUDED.lon`,
		u.Code, u.Country, u.Place, nullIfEmpty(u.IATACode), u.Lat, u.Lon)
	if err != nil {
		return fmt.Errorf("upserting unlocode %s: %w", u.Code, err)
	}
	return nil
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
