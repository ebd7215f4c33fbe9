// Package coverage computes the effective UN/LOCODE coverage set for an
// agreement: the supplier's declared SourceLocations, adjusted by
// per-agreement allow/deny overrides.
package coverage

import "github.com/google/uuid"

// Override is a per-agreement allow/deny decision for a single UN/LOCODE,
// taking precedence over the source's base coverage for that code.
type Override struct {
	AgreementID uuid.UUID
	UNLocode    string
	Allowed     bool
}

// SourceLocationSet is the supplier's declared coverage for one source,
// synced from adapter.Locations().
type SourceLocationSet struct {
	SourceID  uuid.UUID
	UNLocodes []string
}
