package proposal

import (
	"time"

	"gigflow/money"
)

// Status is the lifecycle state of a proposal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

// ReasonJobAssigned is recorded on sibling proposals rejected in bulk when
// one proposal on the job is accepted.
const ReasonJobAssigned = "job assigned to another freelancer"

// Proposal mirrors the proposals table. At most one proposal per job ever
// holds the accepted status, enforced by a partial unique index.
type Proposal struct {
	ID           string
	JobID        string
	FreelancerID string
	Amount       money.Amount
	DeliveryDays int
	CoverLetter  string
	Status       Status
	RejectReason *string
	Version      int64
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
