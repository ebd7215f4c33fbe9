package agreement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/hopgate/carbroker/pkg/availability"
	"github.com/hopgate/carbroker/pkg/brokererr"
	"github.com/hopgate/carbroker/pkg/company"
)

// uniqueViolation is Postgres' SQLSTATE for a unique-index conflict.
const uniqueViolation = "23505"

// CompanyLookup resolves a company by id. Implemented by company.Store;
// declared as an interface here so Manager can be tested without a
// database.
type CompanyLookup interface {
	Get(ctx context.Context, id uuid.UUID) (company.Company, error)
}

// Manager implements AgreementManager: the agreement lifecycle state machine
// plus the gating queries the fan-out engine, coverage resolver, and
// booking core consult.
type Manager struct {
	store     *Store
	companies CompanyLookup
	logger    *slog.Logger
}

// NewManager creates a Manager.
func NewManager(store *Store, companies CompanyLookup, logger *slog.Logger) *Manager {
	return &Manager{store: store, companies: companies, logger: logger}
}

// CreateDraft validates agent.type=AGENT ∧ source.type=SOURCE ∧ both
// ACTIVE, then inserts a DRAFT agreement. A duplicate (sourceId,
// agreementRef) surfaces as ALREADY_EXISTS.
func (m *Manager) CreateDraft(ctx context.Context, agentID, sourceID uuid.UUID, ref string) (Agreement, error) {
	if ref == "" {
		return Agreement{}, brokererr.Invalid("agreement_ref is required")
	}

	agent, err := m.companies.Get(ctx, agentID)
	if err != nil {
		return Agreement{}, brokererr.NotFoundf("agent company not found")
	}
	if agent.Type != company.TypeAgent || !agent.IsActive() {
		return Agreement{}, brokererr.Precondition("COMPANY_NOT_ELIGIBLE", "agent must be an active AGENT company")
	}

	source, err := m.companies.Get(ctx, sourceID)
	if err != nil {
		return Agreement{}, brokererr.NotFoundf("source company not found")
	}
	if source.Type != company.TypeSource || !source.IsActive() {
		return Agreement{}, brokererr.Precondition("COMPANY_NOT_ELIGIBLE", "source must be an active SOURCE company")
	}

	created, err := m.store.Create(ctx, agentID, sourceID, ref)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Agreement{}, brokererr.Exists(fmt.Sprintf("agreement %s already exists for this source", ref))
		}
		return Agreement{}, brokererr.Internalf(err)
	}
	return created, nil
}

// Offer transitions DRAFT → OFFERED.
func (m *Manager) Offer(ctx context.Context, id uuid.UUID) (Agreement, error) {
	return m.transition(ctx, id, StatusOffered)
}

// Accept transitions OFFERED → ACCEPTED.
func (m *Manager) Accept(ctx context.Context, id uuid.UUID) (Agreement, error) {
	return m.transition(ctx, id, StatusAccepted)
}

// SetStatus applies a status transition to ACTIVE, SUSPENDED, or EXPIRED,
// rejecting any other target and any transition outside the permitted
// graph.
func (m *Manager) SetStatus(ctx context.Context, id uuid.UUID, to Status) (Agreement, error) {
	switch to {
	case StatusActive, StatusSuspended, StatusExpired:
	default:
		return Agreement{}, brokererr.Invalid(fmt.Sprintf("cannot set status to %s directly", to))
	}
	return m.transition(ctx, id, to)
}

func (m *Manager) transition(ctx context.Context, id uuid.UUID, to Status) (Agreement, error) {
	updated, prior, ok, err := m.store.TransitionTo(ctx, id, to)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Agreement{}, brokererr.NotFoundf("agreement not found")
		}
		return Agreement{}, brokererr.Internalf(err)
	}
	if !ok {
		return Agreement{}, brokererr.Precondition("ILLEGAL_TRANSITION",
			fmt.Sprintf("cannot move agreement from %s to %s", prior, to))
	}
	return updated, nil
}

// ListByAgent lists a page of an agent's agreements, optionally filtered by
// status, returning the page and the total matching count.
func (m *Manager) ListByAgent(ctx context.Context, agentID uuid.UUID, status *Status, limit, offset int) ([]Agreement, int, error) {
	return m.store.ListByAgent(ctx, agentID, status, limit, offset)
}

// ListBySource lists a page of a source's agreements, optionally filtered by
// status, returning the page and the total matching count.
func (m *Manager) ListBySource(ctx context.Context, sourceID uuid.UUID, status *Status, limit, offset int) ([]Agreement, int, error) {
	return m.store.ListBySource(ctx, sourceID, status, limit, offset)
}

// IsActive implements booking.AgreementChecker: it reports whether an
// ACTIVE agreement exists for (agentId, sourceId, agreementRef).
func (m *Manager) IsActive(ctx context.Context, agentID, sourceID uuid.UUID, agreementRef string) (bool, error) {
	return m.store.IsActiveFor(ctx, agentID, sourceID, agreementRef)
}

// SourceID implements coverage.AgreementLookup: it resolves the sourceId
// backing an agreement.
func (m *Manager) SourceID(ctx context.Context, agreementID uuid.UUID) (uuid.UUID, error) {
	a, err := m.store.Get(ctx, agreementID)
	if err != nil {
		return uuid.Nil, err
	}
	return a.SourceID, nil
}

// ActiveAgreementsForAgent implements availability.AgreementSource: it
// resolves the agent's ACTIVE agreements, optionally intersected with a
// set of agreementRefs, for the fan-out engine's Submit step.
func (m *Manager) ActiveAgreementsForAgent(ctx context.Context, agentID uuid.UUID, agreementRefs []string) ([]availability.EligibleAgreement, error) {
	rows, err := m.store.ListActiveForAgent(ctx, agentID, agreementRefs)
	if err != nil {
		return nil, err
	}
	out := make([]availability.EligibleAgreement, 0, len(rows))
	for _, a := range rows {
		out = append(out, availability.EligibleAgreement{
			AgreementID:  a.ID,
			AgreementRef: a.AgreementRef,
			SourceID:     a.SourceID,
		})
	}
	return out, nil
}

var _ availability.AgreementSource = (*Manager)(nil)
