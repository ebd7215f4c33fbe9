package coverage

import (
	"context"
	"sort"
	"testing"

	"github.com/google/uuid"
)

type fakeLocationStore struct {
	bySource    map[uuid.UUID][]string
	byAgreement map[uuid.UUID][]Override
}

func (f *fakeLocationStore) ListSourceLocations(_ context.Context, sourceID uuid.UUID) ([]string, error) {
	return f.bySource[sourceID], nil
}

func (f *fakeLocationStore) ListOverrides(_ context.Context, agreementID uuid.UUID) ([]Override, error) {
	return f.byAgreement[agreementID], nil
}

type fakeAgreementLookup struct {
	sourceOf map[uuid.UUID]uuid.UUID
}

func (f *fakeAgreementLookup) SourceID(_ context.Context, agreementID uuid.UUID) (uuid.UUID, error) {
	return f.sourceOf[agreementID], nil
}

type fakeDictionary struct {
	codes []string
}

func (f *fakeDictionary) List(_ context.Context) ([]string, error) {
	return f.codes, nil
}

func sorted(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}

func equalSets(a, b []string) bool {
	a, b = sorted(a), sorted(b)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestResolverEffective(t *testing.T) {
	agreementID := uuid.New()
	sourceID := uuid.New()

	tests := []struct {
		name      string
		base      []string
		overrides []Override
		dict      []string
		want      []string
	}{
		{
			name: "base union allow minus deny",
			base: []string{"GBMAN", "GBGLA"},
			overrides: []Override{
				{AgreementID: agreementID, UNLocode: "FRPAR", Allowed: true},
				{AgreementID: agreementID, UNLocode: "GBGLA", Allowed: false},
			},
			want: []string{"GBMAN", "FRPAR"},
		},
		{
			name: "no base no allow overrides inherits full dictionary",
			base: nil,
			dict: []string{"GBMAN", "GBGLA", "FRPAR"},
			want: []string{"GBMAN", "GBGLA", "FRPAR"},
		},
		{
			name: "inherited dictionary still honors deny override",
			base: nil,
			overrides: []Override{
				{AgreementID: agreementID, UNLocode: "FRPAR", Allowed: false},
			},
			dict: []string{"GBMAN", "GBGLA", "FRPAR"},
			want: []string{"GBMAN", "GBGLA"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := NewResolver(
				&fakeLocationStore{
					bySource:    map[uuid.UUID][]string{sourceID: tc.base},
					byAgreement: map[uuid.UUID][]Override{agreementID: tc.overrides},
				},
				&fakeAgreementLookup{sourceOf: map[uuid.UUID]uuid.UUID{agreementID: sourceID}},
				&fakeDictionary{codes: tc.dict},
			)

			got, err := r.Effective(context.Background(), agreementID)
			if err != nil {
				t.Fatalf("Effective: %v", err)
			}
			if !equalSets(got, tc.want) {
				t.Errorf("Effective = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestResolverAllowedNeverInheritsDefault(t *testing.T) {
	agreementID := uuid.New()
	sourceID := uuid.New()

	r := NewResolver(
		&fakeLocationStore{
			bySource:    map[uuid.UUID][]string{sourceID: nil},
			byAgreement: map[uuid.UUID][]Override{},
		},
		&fakeAgreementLookup{sourceOf: map[uuid.UUID]uuid.UUID{agreementID: sourceID}},
		&fakeDictionary{codes: []string{"GBMAN", "GBGLA"}},
	)

	allowed, err := r.Allowed(context.Background(), agreementID, "GBMAN")
	if err != nil {
		t.Fatalf("Allowed: %v", err)
	}
	if allowed {
		t.Error("Allowed should be false when source has no declared coverage, even though Effective would inherit the full dictionary")
	}
}

func TestResolverAllowedHonorsOverride(t *testing.T) {
	agreementID := uuid.New()
	sourceID := uuid.New()

	r := NewResolver(
		&fakeLocationStore{
			bySource: map[uuid.UUID][]string{sourceID: {"GBMAN"}},
			byAgreement: map[uuid.UUID][]Override{
				agreementID: {{AgreementID: agreementID, UNLocode: "GBMAN", Allowed: false}},
			},
		},
		&fakeAgreementLookup{sourceOf: map[uuid.UUID]uuid.UUID{agreementID: sourceID}},
		&fakeDictionary{},
	)

	allowed, err := r.Allowed(context.Background(), agreementID, "GBMAN")
	if err != nil {
		t.Fatalf("Allowed: %v", err)
	}
	if allowed {
		t.Error("explicit deny override should win over base coverage")
	}
}
