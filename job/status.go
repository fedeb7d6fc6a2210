package job

// Status is the lifecycle state of a job.
type Status string

const (
	StatusOpen       Status = "open"
	StatusAccepted   Status = "accepted"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// transitions is the only source of truth for legal status moves.
// accepted -> in_progress happens when the escrow is funded,
// in_progress -> completed when the payment is released, and
// in_progress -> cancelled when the escrow is refunded.
var transitions = map[Status][]Status{
	StatusOpen:       {StatusAccepted, StatusCancelled},
	StatusAccepted:   {StatusInProgress},
	StatusInProgress: {StatusCompleted, StatusCancelled},
	StatusCompleted:  {},
	StatusCancelled:  {},
}

// CanTransition reports whether moving a job from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, t := range transitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// Terminal reports whether s admits no further transitions.
func Terminal(s Status) bool {
	return len(transitions[s]) == 0
}
