// Package principal carries the already-authenticated caller identity
// through a request. Authentication itself — API keys, OAuth, whatever the
// deployment's edge gateway does — is an external collaborator; this package
// only represents the result the core trusts.
package principal

import (
	"context"

	"github.com/google/uuid"
)

// Type distinguishes the two kinds of callers the core recognizes.
type Type string

const (
	// TypeAgent is a reservation agent acting on behalf of a company.
	TypeAgent Type = "agent"
	// TypeSystem is an internal service-to-service caller (e.g. the worker
	// process polling jobs on a company's behalf).
	TypeSystem Type = "system"
)

// Principal is the authenticated caller: a company, a type, and a role.
type Principal struct {
	CompanyID uuid.UUID
	Type      Type
	Role      string
}

type contextKey string

const principalKey contextKey = "principal"

// WithContext returns a context carrying p.
func WithContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// FromContext returns the Principal stored in ctx, or nil if none.
func FromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalKey).(*Principal)
	return p
}
