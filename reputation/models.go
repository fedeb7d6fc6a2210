package reputation

import "time"

// Record aggregates a freelancer's completed work. Earnings accumulate in the
// platform settlement currency.
type Record struct {
	FreelancerID  string
	CompletedJobs int64
	EarningsCents int64
	Currency      string
	RatingSum     int64
	RatingCount   int64
	UpdatedAt     time.Time
}

// AverageRating returns the mean rating, or 0 when nobody rated yet.
func (r Record) AverageRating() float64 {
	if r.RatingCount == 0 {
		return 0
	}
	return float64(r.RatingSum) / float64(r.RatingCount)
}

// CompletionEvent is the payload of a job.completed message.
type CompletionEvent struct {
	JobID        string `json:"job_id"`
	FreelancerID string `json:"freelancer_id"`
	AmountCents  int64  `json:"amount_cents"`
	Currency     string `json:"currency"`
}
