package escrow

import (
	"time"

	"gigflow/money"
)

// Status is the lifecycle state of an escrow.
type Status string

const (
	StatusPendingFunding Status = "pending_funding"
	StatusFunded         Status = "funded"
	StatusReleased       Status = "released"
	StatusRefunded       Status = "refunded"
	StatusDisputed       Status = "disputed"
	// StatusResolved terminates a disputed escrow settled as a split. Full
	// release or full refund resolutions land on released or refunded.
	StatusResolved Status = "resolved"
)

// Terminal reports whether s admits no further transitions.
func Terminal(s Status) bool {
	switch s {
	case StatusReleased, StatusRefunded, StatusResolved:
		return true
	default:
		return false
	}
}

// Record mirrors the escrows table. The status column only ever moves after
// the ledger confirmed the corresponding settlement; a settlement in flight is
// marked by the settlement_op column instead, so a crash mid-call leaves the
// status untouched.
type Record struct {
	ID           string
	JobID        string
	ProposalID   string
	ClientID     string
	FreelancerID string
	Amount       money.Amount
	Status       Status

	FundRef    *string
	ReleaseRef *string
	RefundRef  *string

	SettlementOp        *string
	SettlementStartedAt *time.Time

	DisputeID *string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
	FundedAt  *time.Time
	// SettledAt is the instant of the terminal settlement (release, refund,
	// or split), nil while funds are in custody.
	SettledAt *time.Time
}

// ResolutionUpdate carries the dispute row changes a resolution commit applies
// in the same transaction as the escrow transition, so the dispute and the
// escrow can never disagree about the outcome.
type ResolutionUpdate struct {
	DisputeID          string
	DisputeStatus      string
	ResolverID         string
	SplitFreelancerBps int
}
