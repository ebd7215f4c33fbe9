package company

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/hopgate/carbroker/internal/db"
)

// Store provides database operations for companies.
type Store struct {
	dbtx db.DBTX
}

// NewStore creates a company Store backed by the given database connection.
func NewStore(dbtx db.DBTX) *Store {
	return &Store{dbtx: dbtx}
}

const companyColumns = `id, type, status, name, company_code, email_verified,
	endpoint_transport, endpoint_address, endpoint_auth`

func scanCompany(row pgx.Row) (Company, error) {
	var c Company
	var transport, address, auth *string
	err := row.Scan(&c.ID, &c.Type, &c.Status, &c.Name, &c.CompanyCode, &c.EmailVerified,
		&transport, &address, &auth)
	if err != nil {
		return Company{}, err
	}
	if c.Type == TypeSource && transport != nil {
		c.Endpoint = &Endpoint{
			Transport: Transport(*transport),
			Address:   derefOr(address),
			Auth:      derefOr(auth),
		}
	}
	return c, nil
}

func derefOr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Get returns a company by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Company, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = $1`, id)
	return scanCompany(row)
}

// GetMany returns the companies matching ids, keyed by id. Missing ids are
// silently omitted from the result rather than erroring, since callers (e.g.
// otaenvelope) use this for best-effort name lookups.
func (s *Store) GetMany(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]Company, error) {
	out := make(map[uuid.UUID]Company, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := s.dbtx.Query(ctx, `SELECT `+companyColumns+` FROM companies WHERE id = ANY($1::uuid[])`, ids)
	if err != nil {
		return nil, fmt.Errorf("batch-fetching companies: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanCompany(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning company row: %w", err)
		}
		out[c.ID] = c
	}
	return out, rows.Err()
}

// GetByCode returns a company by its company code.
func (s *Store) GetByCode(ctx context.Context, code string) (Company, error) {
	row := s.dbtx.QueryRow(ctx, `SELECT `+companyColumns+` FROM companies WHERE company_code = $1`, code)
	return scanCompany(row)
}

// Create inserts a new company.
func (s *Store) Create(ctx context.Context, c Company) (Company, error) {
	var transport, address, auth *string
	if c.Endpoint != nil {
		t := string(c.Endpoint.Transport)
		transport, address, auth = &t, &c.Endpoint.Address, &c.Endpoint.Auth
	}
	row := s.dbtx.QueryRow(ctx, `
		INSERT INTO companies (id, type, status, name, company_code, email_verified,
			endpoint_transport, endpoint_address, endpoint_auth)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+companyColumns,
		c.ID, c.Type, c.Status, c.Name, c.CompanyCode, c.EmailVerified, transport, address, auth)
	return scanCompany(row)
}

// UpdateStatus transitions a company's status (e.g. on email verification).
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := s.dbtx.Exec(ctx, `UPDATE companies SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating company status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

// UpdateEndpoint replaces a SOURCE company's transport configuration.
func (s *Store) UpdateEndpoint(ctx context.Context, id uuid.UUID, ep Endpoint) error {
	tag, err := s.dbtx.Exec(ctx, `
		UPDATE companies SET endpoint_transport = $2, endpoint_address = $3, endpoint_auth = $4
		WHERE id = $1 AND type = 'SOURCE'`,
		id, ep.Transport, ep.Address, ep.Auth)
	if err != nil {
		return fmt.Errorf("updating company endpoint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
