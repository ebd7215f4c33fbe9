// Package agreement implements AgreementManager: the state machine over
// commercial agreements between an Agent and a Source, and the gating
// checks the fan-out engine and booking core consult before trading with a
// source on an agent's behalf.
package agreement

import (
	"time"

	"github.com/google/uuid"
)

// Status is an Agreement's lifecycle state.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusOffered   Status = "OFFERED"
	StatusAccepted  Status = "ACCEPTED"
	StatusActive    Status = "ACTIVE"
	StatusSuspended Status = "SUSPENDED"
	StatusExpired   Status = "EXPIRED"
)

// Agreement is a commercial contract between an Agent and a Source, unique
// by (sourceId, agreementRef).
type Agreement struct {
	ID           uuid.UUID
	AgentID      uuid.UUID
	SourceID     uuid.UUID
	AgreementRef string
	Status       Status
	ValidFrom    *time.Time
	ValidTo      *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsActive reports whether the agreement currently permits fan-out and
// booking operations.
func (a Agreement) IsActive() bool { return a.Status == StatusActive }

// allowedTransitions is the permitted successor graph:
//
//	DRAFT → OFFERED → ACCEPTED → ACTIVE ⇄ SUSPENDED
//	                                 ↘       ↘
//	                                  EXPIRED (terminal)
//	OFFERED → EXPIRED (on timeout)
var allowedTransitions = map[Status]map[Status]bool{
	StatusDraft:     {StatusOffered: true},
	StatusOffered:   {StatusAccepted: true, StatusExpired: true},
	StatusAccepted:  {StatusActive: true},
	StatusActive:    {StatusSuspended: true, StatusExpired: true},
	StatusSuspended: {StatusActive: true, StatusExpired: true},
	StatusExpired:   {},
}

// CanTransition reports whether moving from `from` to `to` is a permitted
// successor step. An agreement status transition outside this graph must
// fail with a precondition error and leave state unchanged (invariant iv).
func CanTransition(from, to Status) bool {
	return allowedTransitions[from][to]
}
