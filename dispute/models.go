package dispute

import "time"

// Status represents the lifecycle of a dispute record.
type Status string

const (
	StatusOpen            Status = "open"
	StatusResolvedRelease Status = "resolved_release"
	StatusResolvedRefund  Status = "resolved_refund"
	StatusResolvedSplit   Status = "resolved_split"
)

// Outcome names the resolution an arbitrator chose.
type Outcome string

const (
	OutcomeRelease Outcome = "release"
	OutcomeRefund  Outcome = "refund"
	OutcomeSplit   Outcome = "split"
)

// statusFor maps an outcome to the dispute status it lands on.
func statusFor(o Outcome) (Status, bool) {
	switch o {
	case OutcomeRelease:
		return StatusResolvedRelease, true
	case OutcomeRefund:
		return StatusResolvedRefund, true
	case OutcomeSplit:
		return StatusResolvedSplit, true
	default:
		return "", false
	}
}

// Record mirrors the disputes table. The resolution fields are written in the
// same transaction that settles the escrow, never on their own.
type Record struct {
	ID                 string
	EscrowID           string
	RaisedBy           string
	Reason             string
	Status             Status
	ResolverID         *string
	SplitFreelancerBps *int
	ResolvedAt         *time.Time
	Version            int64
	CreatedAt          time.Time
	UpdatedAt          time.Time
}
