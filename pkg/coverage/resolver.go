package coverage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AgreementLookup resolves the sourceId backing an agreement. Implemented by
// the agreement package; kept as an interface here to avoid a package cycle.
type AgreementLookup interface {
	SourceID(ctx context.Context, agreementID uuid.UUID) (uuid.UUID, error)
}

// Dictionary returns the full UN/LOCODE universe, used only for the
// listing-only inherited-default case (see Resolver.Effective).
type Dictionary interface {
	List(ctx context.Context) ([]string, error)
}

// LocationStore is the subset of *Store the Resolver needs, kept as an
// interface so tests can substitute an in-memory fake instead of a database.
type LocationStore interface {
	ListSourceLocations(ctx context.Context, sourceID uuid.UUID) ([]string, error)
	ListOverrides(ctx context.Context, agreementID uuid.UUID) ([]Override, error)
}

// Resolver computes effective coverage:
//
//	Effective(agreementId) = (SourceLocations(sourceOf(agreementId)) ∪ allow) \ deny
//
// When a source has no declared SourceLocations and no allow overrides,
// Effective falls back to the full UN/LOCODE dictionary (minus deny
// overrides) as an inherited default — for listing only. The returned slice
// carries no marker distinguishing that inherited default from declared
// coverage. Allowed never honors that fallback: a source with no declared
// coverage is eligible for fan-out only on codes an allow override names,
// regardless of what Effective reports for display purposes. This
// implementation picks that reading deliberately (see DESIGN.md); it treats
// "inherit" as a UI convenience, not an authorization grant.
type Resolver struct {
	locations  LocationStore
	agreements AgreementLookup
	dict       Dictionary
}

// NewResolver creates a Resolver.
func NewResolver(locations LocationStore, agreements AgreementLookup, dict Dictionary) *Resolver {
	return &Resolver{locations: locations, agreements: agreements, dict: dict}
}

// overrideSets splits an agreement's overrides into allow/deny code sets.
func overrideSets(overrides []Override) (allow, deny map[string]bool) {
	allow = make(map[string]bool, len(overrides))
	deny = make(map[string]bool, len(overrides))
	for _, o := range overrides {
		if o.Allowed {
			allow[o.UNLocode] = true
		} else {
			deny[o.UNLocode] = true
		}
	}
	return allow, deny
}

// Effective returns the full set of UN/LOCODEs an agreement currently
// covers, for display/listing purposes.
func (r *Resolver) Effective(ctx context.Context, agreementID uuid.UUID) ([]string, error) {
	sourceID, err := r.agreements.SourceID(ctx, agreementID)
	if err != nil {
		return nil, fmt.Errorf("resolving agreement source: %w", err)
	}

	base, err := r.locations.ListSourceLocations(ctx, sourceID)
	if err != nil {
		return nil, fmt.Errorf("listing source locations: %w", err)
	}

	overrides, err := r.locations.ListOverrides(ctx, agreementID)
	if err != nil {
		return nil, fmt.Errorf("listing overrides: %w", err)
	}
	allow, deny := overrideSets(overrides)

	if len(base) == 0 && len(allow) == 0 {
		all, err := r.dict.List(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing unlocode dictionary: %w", err)
		}
		return subtractSet(all, deny), nil
	}

	set := make(map[string]bool, len(base)+len(allow))
	for _, c := range base {
		set[c] = true
	}
	for c := range allow {
		set[c] = true
	}
	for c := range deny {
		delete(set, c)
	}
	return setToSlice(set), nil
}

// Allowed is the point-membership test the FanOutEngine consults. Unlike
// Effective it never honors the inherited-dictionary default: a source with
// no declared coverage and no allow override is never eligible.
func (r *Resolver) Allowed(ctx context.Context, agreementID uuid.UUID, code string) (bool, error) {
	overrides, err := r.locations.ListOverrides(ctx, agreementID)
	if err != nil {
		return false, fmt.Errorf("listing overrides: %w", err)
	}
	for _, o := range overrides {
		if o.UNLocode == code {
			return o.Allowed, nil
		}
	}

	sourceID, err := r.agreements.SourceID(ctx, agreementID)
	if err != nil {
		return false, fmt.Errorf("resolving agreement source: %w", err)
	}
	base, err := r.locations.ListSourceLocations(ctx, sourceID)
	if err != nil {
		return false, fmt.Errorf("listing source locations: %w", err)
	}
	for _, c := range base {
		if c == code {
			return true, nil
		}
	}
	return false, nil
}

func subtractSet(codes []string, deny map[string]bool) []string {
	out := make([]string, 0, len(codes))
	for _, c := range codes {
		if !deny[c] {
			out = append(out, c)
		}
	}
	return out
}

func setToSlice(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for c := range set {
		out = append(out, c)
	}
	return out
}
