package availability

import (
	"context"
	"log/slog"
	"testing"

	"github.com/google/uuid"
)

func TestDistinctSourceCount(t *testing.T) {
	src1, src2 := uuid.New(), uuid.New()
	candidates := []EligibleAgreement{
		{AgreementID: uuid.New(), SourceID: src1},
		{AgreementID: uuid.New(), SourceID: src1},
		{AgreementID: uuid.New(), SourceID: src2},
	}
	if got := distinctSourceCount(candidates); got != 2 {
		t.Errorf("expected 2 distinct sources, got %d", got)
	}
}

type fakeCoverage struct {
	allowed map[string]bool
}

func (f *fakeCoverage) Allowed(_ context.Context, agreementID uuid.UUID, unlocode string) (bool, error) {
	return f.allowed[agreementID.String()+":"+unlocode], nil
}

type fakeHealth struct {
	excluded map[uuid.UUID]bool
}

func (f *fakeHealth) IsExcluded(_ context.Context, sourceID uuid.UUID) (bool, error) {
	return f.excluded[sourceID], nil
}

func (f *fakeHealth) RecordMetric(context.Context, uuid.UUID, int, bool) error { return nil }

func TestFilterEligibleRequiresCoverageAndHealth(t *testing.T) {
	agreementOK := uuid.New()
	agreementBadCoverage := uuid.New()
	sourceOK := uuid.New()
	sourceExcluded := uuid.New()
	agreementExcludedSource := uuid.New()

	criteria := Criteria{PickupUNLocode: "GBMAN", DropoffUNLocode: "GBGLA"}

	e := &FanOutEngine{
		coverage: &fakeCoverage{allowed: map[string]bool{
			agreementOK.String() + ":GBMAN":               true,
			agreementOK.String() + ":GBGLA":               true,
			agreementExcludedSource.String() + ":GBMAN":   true,
			agreementExcludedSource.String() + ":GBGLA":   true,
			agreementBadCoverage.String() + ":GBMAN":      true,
			// agreementBadCoverage has no dropoff coverage entry -> false
		}},
		health: &fakeHealth{excluded: map[uuid.UUID]bool{sourceExcluded: true}},
		logger: slog.Default(),
	}

	candidates := []EligibleAgreement{
		{AgreementID: agreementOK, SourceID: sourceOK},
		{AgreementID: agreementBadCoverage, SourceID: sourceOK},
		{AgreementID: agreementExcludedSource, SourceID: sourceExcluded},
	}

	got := e.filterEligible(context.Background(), criteria, candidates)
	if len(got) != 1 || got[0].AgreementID != agreementOK {
		t.Errorf("expected only agreementOK to survive filtering, got %+v", got)
	}
}
