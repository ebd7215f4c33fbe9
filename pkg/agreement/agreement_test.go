package agreement

import (
	"context"
	"testing"

	"github.com/google/uuid"

	"github.com/hopgate/carbroker/pkg/brokererr"
	"github.com/hopgate/carbroker/pkg/company"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		name string
		from Status
		to   Status
		want bool
	}{
		{"draft to offered", StatusDraft, StatusOffered, true},
		{"offered to accepted", StatusOffered, StatusAccepted, true},
		{"offered to expired", StatusOffered, StatusExpired, true},
		{"accepted to active", StatusAccepted, StatusActive, true},
		{"active to suspended", StatusActive, StatusSuspended, true},
		{"active to expired", StatusActive, StatusExpired, true},
		{"suspended to active", StatusSuspended, StatusActive, true},
		{"suspended to expired", StatusSuspended, StatusExpired, true},
		{"expired is terminal", StatusExpired, StatusActive, false},
		{"draft cannot skip to active", StatusDraft, StatusActive, false},
		{"draft cannot skip to accepted", StatusDraft, StatusAccepted, false},
		{"accepted cannot go back to offered", StatusAccepted, StatusOffered, false},
		{"active cannot go back to accepted", StatusActive, StatusAccepted, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := CanTransition(tc.from, tc.to); got != tc.want {
				t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
			}
		})
	}
}

func TestAgreementIsActive(t *testing.T) {
	if (Agreement{Status: StatusActive}).IsActive() != true {
		t.Error("expected ACTIVE agreement to be active")
	}
	if (Agreement{Status: StatusSuspended}).IsActive() != false {
		t.Error("expected SUSPENDED agreement to not be active")
	}
}

type fakeCompanyLookup struct {
	companies map[uuid.UUID]company.Company
}

func (f *fakeCompanyLookup) Get(_ context.Context, id uuid.UUID) (company.Company, error) {
	c, ok := f.companies[id]
	if !ok {
		return company.Company{}, brokererr.NotFoundf("no such company")
	}
	return c, nil
}

func TestManagerCreateDraftRejectsInactiveAgent(t *testing.T) {
	agentID := uuid.New()
	sourceID := uuid.New()

	lookup := &fakeCompanyLookup{companies: map[uuid.UUID]company.Company{
		agentID:  {ID: agentID, Type: company.TypeAgent, Status: company.StatusSuspended},
		sourceID: {ID: sourceID, Type: company.TypeSource, Status: company.StatusActive},
	}}

	m := NewManager(nil, lookup, nil)
	_, err := m.CreateDraft(context.Background(), agentID, sourceID, "REF-1")
	if err == nil {
		t.Fatal("expected error for suspended agent company")
	}
	berr, ok := err.(*brokererr.Error)
	if !ok {
		t.Fatalf("expected *brokererr.Error, got %T", err)
	}
	if berr.Code != brokererr.FailedPrecondition {
		t.Errorf("expected FAILED_PRECONDITION, got %s", berr.Code)
	}
}

func TestManagerCreateDraftRejectsWrongCompanyType(t *testing.T) {
	agentID := uuid.New()
	sourceID := uuid.New()

	lookup := &fakeCompanyLookup{companies: map[uuid.UUID]company.Company{
		agentID:  {ID: agentID, Type: company.TypeSource, Status: company.StatusActive},
		sourceID: {ID: sourceID, Type: company.TypeSource, Status: company.StatusActive},
	}}

	m := NewManager(nil, lookup, nil)
	_, err := m.CreateDraft(context.Background(), agentID, sourceID, "REF-1")
	if err == nil {
		t.Fatal("expected error when agentID resolves to a SOURCE company")
	}
}

func TestManagerCreateDraftRejectsEmptyRef(t *testing.T) {
	m := NewManager(nil, &fakeCompanyLookup{}, nil)
	_, err := m.CreateDraft(context.Background(), uuid.New(), uuid.New(), "")
	if err == nil {
		t.Fatal("expected error for empty agreement ref")
	}
}
