// Package company holds the Company entity: Agents, Sources, and Admins that
// participate in the broker. Most core operations only need a company's id
// and type; this package is the narrow store other packages consult for
// that and for a Source's adapter transport configuration.
package company

import "github.com/google/uuid"

// Type is the kind of company.
type Type string

const (
	TypeAgent  Type = "AGENT"
	TypeSource Type = "SOURCE"
	TypeAdmin  Type = "ADMIN"
)

// Status is a company's lifecycle status.
type Status string

const (
	StatusPendingVerification Status = "PENDING_VERIFICATION"
	StatusActive              Status = "ACTIVE"
	StatusSuspended           Status = "SUSPENDED"
)

// Transport is the wire protocol a Source's adapter speaks.
type Transport string

const (
	TransportMock Transport = "mock"
	TransportGRPC Transport = "grpc"
	TransportHTTP Transport = "http"
)

// Endpoint is the transport configuration for a SOURCE company, consumed by
// the AdapterRegistry to materialize a SourceAdapter.
type Endpoint struct {
	Transport Transport
	Address   string
	Auth      string
}

// Company is an Agent, Source, or Admin participant.
type Company struct {
	ID            uuid.UUID
	Type          Type
	Status        Status
	Name          string
	CompanyCode   string
	EmailVerified bool
	Endpoint      *Endpoint // non-nil only for Type == TypeSource
}

// IsActive reports whether the company can participate in core operations.
func (c *Company) IsActive() bool {
	return c.Status == StatusActive
}
